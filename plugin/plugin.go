// Package plugin defines the capability contracts the orchestrator consumes
// from external collaborators (spec.md §6): sources, transforms, gates, and
// sinks. The core never ships a concrete implementation of any of these —
// concrete connectors, LLM clients, and CLI/TUI front-ends are explicitly
// out of scope (spec.md §1) — it only defines the shape a plugin author
// must satisfy and the row/context types that cross the boundary.
package plugin

import (
	"context"

	"github.com/sdapipe/landscape/model"
)

// Row is the mapping-shaped value that flows between plugins. Values must
// be acceptable to canonical.Canonicalize; the orchestrator canonicalizes
// every row it reads from or hands to a plugin.
type Row map[string]any

// SourceRow is one row yielded by a Source: either a valid Row, or an
// invalid row carrying its own quarantine metadata (spec.md §6). Exactly
// one of Row or Invalid is populated.
type SourceRow struct {
	Row     Row
	Invalid *InvalidRow
}

// InvalidRow carries a source-detected validation failure alongside the raw
// payload that failed to parse, so it can still be stored and explained.
type InvalidRow struct {
	RawPayload []byte
	Reason     string
}

// Source yields rows for a run. Context carries the run identity and a
// cancellation signal; Source implementations must stop yielding promptly
// once ctx is done.
type Source interface {
	// Load returns an iterator-shaped channel of SourceRow. The channel
	// must be closed when the source is exhausted or ctx is cancelled.
	Load(ctx context.Context, pctx *Context) (<-chan SourceRow, error)

	// OutputSchema declares the shape of rows this source produces.
	OutputSchema() model.Schema
}

// Transform processes rows and declares its own reproducibility and error
// routing policy. IsBatchAware marks an aggregation: the orchestrator
// buffers its input tokens and drains them per AggregationNodeConfig's
// trigger rather than calling Process per-row.
type Transform interface {
	Process(ctx context.Context, pctx *Context, row Row) ([]Row, error)

	InputSchema() model.Schema
	OutputSchema() model.Schema
	Determinism() model.Determinism
	IsBatchAware() bool

	// OnError names the sink a failed row is routed to, the sentinel
	// "discard", or "" (equivalent to discard). Validated at graph
	// build time by graph.ExecutionGraph.ValidateErrorSinkReferences.
	OnError() string
}

// ConditionGate evaluates a whitelisted boolean expression against a row
// (spec.md §4.5) and is handled entirely inside the orchestrator via
// package expr — it is not a plugin capability. GatePlugin is the
// alternative, code-driven routing strategy named in spec.md §6(b).
type GatePlugin interface {
	Route(ctx context.Context, pctx *Context, row Row) (routeLabel string, err error)
	Routes() []string
	ForkTo() []string
}

// ArtifactDescriptor is what a Sink reports back about what it wrote, so
// the orchestrator can record an Artifact row without inspecting sink
// internals.
type ArtifactDescriptor struct {
	ArtifactType string
	ContentHash  string
	PathOrURI    string
	SizeBytes    *int64
	Metadata     map[string]any
}

// Sink writes one row and reports what it wrote.
type Sink interface {
	Write(ctx context.Context, pctx *Context, row Row) (ArtifactDescriptor, error)

	InputSchema() model.Schema
}

// Context is threaded through every plugin call. It carries identifiers the
// plugin may use for logging/correlation but must never mutate — the
// orchestrator, not the plugin, is the sole writer of audit state.
type Context struct {
	RunID   string
	NodeID  string
	TokenID string
}
