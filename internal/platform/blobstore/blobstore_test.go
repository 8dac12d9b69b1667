package blobstore

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	meta, err := store.Put(ctx, "reports/p1/s1/cbc.pdf", "application/pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), meta.Size)
	assert.Len(t, meta.Hash, 64)

	data, got, err := store.Get(ctx, "reports/p1/s1/cbc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))
	assert.Equal(t, "application/pdf", got.ContentType)
}

func TestMemoryStore_PutIsCreateOnly(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Put(ctx, "k", "text/plain", []byte("first"))
	require.NoError(t, err)
	second, err := store.Put(ctx, "k", "text/plain", []byte("second"))
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	data, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestMemoryStore_CopiesContent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	buf := []byte("abc")

	_, err := store.Put(ctx, "k", "text/plain", buf)
	require.NoError(t, err)
	buf[0] = 'X'

	data, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestMemoryStore_Errors(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Put(ctx, "", "text/plain", nil)
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, _, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrBlobNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "missing"), ErrBlobNotFound)
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Put(ctx, "k", "text/plain", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "k"))
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_ConcurrentPut(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = store.Put(ctx, fmt.Sprintf("k-%d", i%10), "text/plain", []byte("x"))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, store.Len())
}

func TestReportKey(t *testing.T) {
	tests := []struct {
		patient, session, file string
		want                   string
	}{
		{"p1", "s1", "cbc.pdf", "reports/p1/s1/cbc.pdf"},
		{"p1", "s1", "../../etc/passwd", "reports/p1/s1/passwd"},
		{"p1", "s1", `C:\scans\lipid.png`, "reports/p1/s1/lipid.png"},
		{"p1", "s1", "", "reports/p1/s1/upload"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReportKey(tt.patient, tt.session, tt.file))
	}
}

func TestIsPreconditionFailed(t *testing.T) {
	assert.True(t, isPreconditionFailed(&googleapi.Error{Code: http.StatusPreconditionFailed}))
	assert.True(t, isPreconditionFailed(fmt.Errorf("wrapped: %w", &googleapi.Error{Code: http.StatusPreconditionFailed})))
	assert.False(t, isPreconditionFailed(&googleapi.Error{Code: http.StatusForbidden}))
	assert.False(t, isPreconditionFailed(fmt.Errorf("plain")))
}
