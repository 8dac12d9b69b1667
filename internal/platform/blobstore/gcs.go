package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
)

// GCSStore keeps blobs in a Cloud Storage bucket.
type GCSStore struct {
	bucket *storage.BucketHandle
	name   string
	logger zerolog.Logger
}

func NewGCSStore(client *storage.Client, bucket string, logger zerolog.Logger) *GCSStore {
	return &GCSStore{
		bucket: client.Bucket(bucket),
		name:   bucket,
		logger: logger.With().Str("component", "gcs_blobstore").Str("bucket", bucket).Logger(),
	}
}

// Put writes the object only if it does not exist yet. A precondition
// failure means an earlier attempt already archived it and is not an error.
func (s *GCSStore) Put(ctx context.Context, key, contentType string, data []byte) (*Metadata, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	writer := s.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType
	writer.Metadata = map[string]string{"sha256": hashOf(data)}

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			s.logger.Debug().Str("key", key).Msg("object already exists, skipping")
			return s.stat(ctx, key)
		}
		return nil, fmt.Errorf("write gs://%s/%s: %w", s.name, key, err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			s.logger.Debug().Str("key", key).Msg("object already exists, skipping")
			return s.stat(ctx, key)
		}
		return nil, fmt.Errorf("finalize gs://%s/%s: %w", s.name, key, err)
	}

	return attrsToMetadata(writer.Attrs()), nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, *Metadata, error) {
	obj := s.bucket.Object(key)
	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("open gs://%s/%s: %w", s.name, key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("read gs://%s/%s: %w", s.name, key, err)
	}

	meta, err := s.stat(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	return data, meta, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("delete gs://%s/%s: %w", s.name, key, err)
	}
	return nil
}

func (s *GCSStore) stat(ctx context.Context, key string) (*Metadata, error) {
	attrs, err := s.bucket.Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("stat gs://%s/%s: %w", s.name, key, err)
	}
	return attrsToMetadata(attrs), nil
}

func attrsToMetadata(attrs *storage.ObjectAttrs) *Metadata {
	if attrs == nil {
		return nil
	}
	return &Metadata{
		Key:         attrs.Name,
		ContentType: attrs.ContentType,
		Size:        attrs.Size,
		Hash:        attrs.Metadata["sha256"],
		CreatedAt:   attrs.Created,
	}
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
