// Package landscaperr defines the typed error taxonomy shared by every
// Landscape component. Errors are classified by Kind rather than by Go type,
// so callers branch on errors.Is/errors.As against a small sentinel set
// instead of type-switching across package boundaries.
package landscaperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by where it originates and how a caller must
// react to it. The taxonomy mirrors the recovery policy table: row-level
// kinds are quarantined by the orchestrator, configuration/corruption kinds
// are fatal.
type Kind string

const (
	// KindCanonicalization covers NaN/Inf rejection and unsupported types
	// from the canonicalizer.
	KindCanonicalization Kind = "canonicalization"
	// KindSchemaCompatibility is raised when Landscape opens against a
	// database whose schema doesn't match the expected shape.
	KindSchemaCompatibility Kind = "schema_compatibility"
	// KindIntegrity covers payload store hash mismatches on retrieve.
	KindIntegrity Kind = "integrity"
	// KindGraphValidation covers DAG construction/validation failures
	// (cycles, unreachable nodes, schema mismatches).
	KindGraphValidation Kind = "graph_validation"
	// KindRouteValidation covers orchestrator startup route checks
	// (on_error referencing a nonexistent sink).
	KindRouteValidation Kind = "route_validation"
	// KindExpressionSecurity covers whitelist violations caught at parse
	// time (forbidden identifiers, attribute access, calls, depth/length
	// limits).
	KindExpressionSecurity Kind = "expression_security"
	// KindExpressionSyntax covers ordinary parse errors (malformed
	// expressions) that aren't security violations.
	KindExpressionSyntax Kind = "expression_syntax"
	// KindEvaluationError covers runtime failures evaluating a parsed
	// expression against a row (missing key, division by zero,
	// non-boolean result).
	KindEvaluationError Kind = "evaluation_error"
	// KindValidation covers transform input_schema validation failures.
	KindValidation Kind = "validation"
	// KindTransformFailure covers an uncaught transform exception.
	KindTransformFailure Kind = "transform_failure"
	// KindSinkFailure covers sink I/O failures after retries are
	// exhausted.
	KindSinkFailure Kind = "sink_failure"
	// KindCorruption covers NULL-in-NOT-NULL, invalid enum values, and
	// orphaned foreign keys read back from Landscape. Per the Tier-1
	// trust model this must crash the process, never be coerced.
	KindCorruption Kind = "corruption"
	// KindResumeIncompatible covers a checkpoint/topology mismatch that
	// prevents resuming a failed run. Non-fatal; surfaced to the
	// operator.
	KindResumeIncompatible Kind = "resume_incompatible"
)

// Error is the concrete error type carried by every Landscape component. It
// wraps an underlying cause (if any) and is comparable with errors.Is against
// the Kind sentinels below via Is().
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "canonical.Canonicalize"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, landscaperr.KindCorruption) style checks via the
// package-level Is helper below, or errors.Is(err, &landscaperr.Error{Kind: K}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given Kind.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap constructs an *Error of the given Kind that wraps cause. If cause is
// already a *Error, its Kind is overridden by kind (callers re-classify as
// the error crosses a component boundary) but the chain is preserved via
// Unwrap.
func Wrap(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: cause}
}

// Of reports the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func Of(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
