package payloadstore

import (
	"context"

	"github.com/sdapipe/landscape/landscaperr"
	bolt "go.etcd.io/bbolt"
)

var payloadBucket = []byte("payloads")

// BoltStore is a single-file embedded payload store backed by
// go.etcd.io/bbolt, keyed by content hash. It's a direct teacher
// dependency that the core otherwise has no use for; it earns its keep
// here as the backend of choice for single-binary/offline runs where
// standing up Postgres or S3 is unwarranted.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a bbolt database file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.NewBoltStore", "open bbolt db", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(payloadBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.NewBoltStore", "create bucket", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Store(ctx context.Context, b []byte) (string, error) {
	hash := sha256Hex(b)
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(payloadBucket)
		if bucket.Get([]byte(hash)) != nil {
			return nil // idempotent
		}
		cp := make([]byte, len(b))
		copy(cp, b)
		return bucket.Put([]byte(hash), cp)
	})
	if err != nil {
		return "", landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.Store", "bbolt put", err)
	}
	return hash, nil
}

func (s *BoltStore) Retrieve(ctx context.Context, hash string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(payloadBucket).Get([]byte(hash))
		if v == nil {
			return nil
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.Retrieve", "bbolt get", err)
	}
	if out == nil {
		return nil, ErrNotFound
	}
	if err := verifyHash(hash, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Exists(ctx context.Context, hash string) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(payloadBucket).Get([]byte(hash)) != nil
		return nil
	})
	if err != nil {
		return false, landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.Exists", "bbolt get", err)
	}
	return found, nil
}

func (s *BoltStore) Delete(ctx context.Context, hash string) (bool, error) {
	existed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(payloadBucket)
		existed = bucket.Get([]byte(hash)) != nil
		if !existed {
			return nil
		}
		return bucket.Delete([]byte(hash))
	})
	if err != nil {
		return false, landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.Delete", "bbolt delete", err)
	}
	return existed, nil
}
