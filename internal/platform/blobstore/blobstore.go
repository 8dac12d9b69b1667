// Package blobstore archives the original bytes of uploaded reports. The
// in-memory backend serves development and tests; the GCS backend is used in
// deployed environments.
package blobstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrEmptyKey     = errors.New("blob key is required")
)

// Metadata describes a stored blob.
type Metadata struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the contract shared by the backends. Put is create-only: writing a
// key that already exists is not an error and leaves the first write intact.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (*Metadata, error)
	Get(ctx context.Context, key string) ([]byte, *Metadata, error)
	Delete(ctx context.Context, key string) error
}

// ReportKey builds the archive key for an uploaded report.
func ReportKey(patientID, sessionID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return path.Join("reports", patientID, sessionID, name)
}

func hashOf(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

type storedBlob struct {
	metadata Metadata
	content  []byte
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]*storedBlob)}
}

func (s *MemoryStore) Put(_ context.Context, key, contentType string, data []byte) (*Metadata, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.blobs[key]; ok {
		meta := existing.metadata
		return &meta, nil
	}

	meta := Metadata{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hashOf(data),
		CreatedAt:   time.Now().UTC(),
	}
	s.blobs[key] = &storedBlob{metadata: meta, content: append([]byte(nil), data...)}
	return &meta, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, *Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[key]
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return append([]byte(nil), blob.content...), &meta, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
