package payloadstore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sdapipe/landscape/landscaperr"
)

// FilesystemStore is the default payload store backend: a sharded
// directory layout (xx/yy/<hash>) under a configured root, grounded on the
// path-join/exists-check hygiene used throughout the teacher's
// db/basex.go and storage/s3_interface.go path handling.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore returns a FilesystemStore rooted at dir. The directory
// is created if it does not already exist.
func NewFilesystemStore(dir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.NewFilesystemStore", "create root", err)
	}
	return &FilesystemStore{root: dir}, nil
}

func (s *FilesystemStore) pathFor(hash string) string {
	a, b := shard(hash)
	return filepath.Join(s.root, a, b, hash)
}

func (s *FilesystemStore) Store(ctx context.Context, b []byte) (string, error) {
	hash := sha256Hex(b)
	p := s.pathFor(hash)
	if _, err := os.Stat(p); err == nil {
		return hash, nil // idempotent: identical content, no duplicate write
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.Store", "mkdir shard dir", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.Store", "write temp file", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return "", landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.Store", "rename into place", err)
	}
	return hash, nil
}

func (s *FilesystemStore) Retrieve(ctx context.Context, hash string) ([]byte, error) {
	b, err := os.ReadFile(s.pathFor(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.Retrieve", "read file", err)
	}
	if err := verifyHash(hash, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *FilesystemStore) Exists(ctx context.Context, hash string) (bool, error) {
	_, err := os.Stat(s.pathFor(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.Exists", "stat file", err)
}

func (s *FilesystemStore) Delete(ctx context.Context, hash string) (bool, error) {
	err := os.Remove(s.pathFor(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.Delete", "remove file", err)
}
