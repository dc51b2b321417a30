// Package payloadstore implements content-addressed blob storage for row
// payloads: store(bytes) -> hash, retrieve(hash) -> bytes with integrity
// verification, exists, and delete. Three interchangeable backends
// (filesystem, bbolt, S3) implement the same Store interface.
package payloadstore

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/sdapipe/landscape/landscaperr"
)

// Store is the payload store contract (spec.md §4.2).
type Store interface {
	// Store persists b, returning its content hash. Storing identical
	// content must be idempotent: the same hash is returned and no
	// duplicate write occurs.
	Store(ctx context.Context, b []byte) (hash string, err error)

	// Retrieve reads the blob keyed by hash, recomputes its hash, and
	// fails with a landscaperr.KindIntegrity error if the two don't
	// match under a constant-time comparison. A missing blob fails with
	// ErrNotFound.
	Retrieve(ctx context.Context, hash string) ([]byte, error)

	// Exists is a presence check only; it does not verify integrity.
	Exists(ctx context.Context, hash string) (bool, error)

	// Delete removes the blob keyed by hash. Returns true if a payload
	// existed and was removed, false if it was already absent — absence
	// is not an error.
	Delete(ctx context.Context, hash string) (bool, error)
}

// ErrNotFound is returned by Retrieve when no blob exists at the requested
// hash.
var ErrNotFound = landscaperr.New(landscaperr.KindIntegrity, "payloadstore.Retrieve", "payload not found")

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// verifyHash performs a constant-time comparison of the recomputed hash
// against the requested hash, per spec.md §4.2's "constant-time
// comparison" requirement.
func verifyHash(requested string, actual []byte) error {
	got := sha256Hex(actual)
	if subtle.ConstantTimeCompare([]byte(requested), []byte(got)) != 1 {
		return landscaperr.New(landscaperr.KindIntegrity, "payloadstore.Retrieve",
			"hash mismatch: requested "+requested+" but content hashes to "+got)
	}
	return nil
}

// shard splits a hex hash into a two-level directory prefix (xx/yy/hash),
// matching the sharded layout used by the filesystem and S3 backends to
// avoid directory/prefix hot-spotting at scale.
func shard(hash string) (string, string) {
	if len(hash) < 4 {
		return "00", "00"
	}
	return hash[0:2], hash[2:4]
}
