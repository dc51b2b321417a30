package payloadstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilesystemStore(t *testing.T) *FilesystemStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFilesystemStore(dir)
	require.NoError(t, err)
	return s
}

func TestFilesystemStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestFilesystemStore(t)

	hash, err := s.Store(ctx, []byte("hello"))
	require.NoError(t, err)

	got, err := s.Retrieve(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestFilesystemStoreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestFilesystemStore(t)

	h1, err := s.Store(ctx, []byte("same content"))
	require.NoError(t, err)
	h2, err := s.Store(ctx, []byte("same content"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestFilesystemStoreExists(t *testing.T) {
	ctx := context.Background()
	s := newTestFilesystemStore(t)

	ok, err := s.Exists(ctx, "deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)

	hash, err := s.Store(ctx, []byte("x"))
	require.NoError(t, err)
	ok, err = s.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilesystemStoreDeleteMissingIsNotAnError(t *testing.T) {
	ctx := context.Background()
	s := newTestFilesystemStore(t)

	deleted, err := s.Delete(ctx, "0000000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestFilesystemStoreTamperDetection(t *testing.T) {
	// spec.md §8 scenario 6: store(b"hello") = h; overwrite the
	// underlying blob out-of-band; retrieve(h) fails with Integrity.
	ctx := context.Background()
	s := newTestFilesystemStore(t)

	hash, err := s.Store(ctx, []byte("hello"))
	require.NoError(t, err)

	p := s.pathFor(hash)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("world"), 0o644))

	_, err = s.Retrieve(ctx, hash)
	require.Error(t, err)
}

func TestPurgePayloadsCountsSkippedAndDeleted(t *testing.T) {
	ctx := context.Background()
	s := newTestFilesystemStore(t)

	h1, err := s.Store(ctx, []byte("one"))
	require.NoError(t, err)

	result, err := PurgePayloads(ctx, s, []string{h1, "missing-ref"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeletedCount)
	assert.Equal(t, 1, result.SkippedCount)
	assert.Empty(t, result.FailedRefs)
}
