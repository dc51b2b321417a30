package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/sdapipe/landscape/landscaperr"
)

// nonFiniteNumberError is returned when a NaN or +/-Inf float is encountered
// anywhere in the value tree, including nested inside sequences and
// mappings.
type nonFiniteNumberError struct {
	value float64
}

func (e *nonFiniteNumberError) Error() string {
	return fmt.Sprintf("canonical: non-finite number %v cannot be canonicalized", e.value)
}

// unsupportedTypeError is returned for any Go type Canonicalize does not
// recognize. The function never falls back to a %v/repr-style rendering.
type unsupportedTypeError struct {
	value any
}

func (e *unsupportedTypeError) Error() string {
	return fmt.Sprintf("canonical: unsupported type %T", e.value)
}

// nonStringKeyError is returned when a mapping carries a non-string key.
type nonStringKeyError struct {
	key any
}

func (e *nonStringKeyError) Error() string {
	return fmt.Sprintf("canonical: mapping key %v (%T) is not a string", e.key, e.key)
}

// AsLandscapeError reclassifies a canonicalization error (if it is one) as a
// *landscaperr.Error of Kind Canonicalization, for callers that want the
// shared taxonomy instead of matching on the unexported concrete types
// above.
func AsLandscapeError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *nonFiniteNumberError, *unsupportedTypeError, *nonStringKeyError:
		return landscaperr.Wrap(landscaperr.KindCanonicalization, op, err.Error(), err)
	default:
		return err
	}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
