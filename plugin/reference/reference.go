// Package reference ships the two fixture plugins named in spec.md §6:
// an in-memory Source and a recording Sink, plus a minimal passthrough
// Transform. None of these are connectors — they exist purely so the
// orchestrator's contracts can be driven end-to-end in tests without a
// real database, queue, or file on the other side of a plugin boundary.
package reference

import (
	"context"
	"errors"

	"github.com/sdapipe/landscape/canonical"
	"github.com/sdapipe/landscape/model"
	"github.com/sdapipe/landscape/plugin"
)

// errPassthroughFailed is returned by PassthroughTransform.Process when
// Fail is set, so tests can exercise on_error routing without depending on
// a real plugin's failure mode.
var errPassthroughFailed = errors.New("reference: passthrough transform configured to fail")

func stableHash(row plugin.Row) string { return canonical.StableHash(map[string]any(row)) }

// InMemorySource replays a fixed slice of rows (or pre-marked invalid
// payloads) as a Source. Each Load call streams every entry of Rows from
// the start; Load does not modify Rows.
type InMemorySource struct {
	Rows   []plugin.SourceRow
	Schema model.Schema
}

// NewInMemorySource wraps rows (plain valid Rows) behind an InMemorySource
// declaring schema as its OutputSchema.
func NewInMemorySource(schema model.Schema, rows ...plugin.Row) *InMemorySource {
	sr := make([]plugin.SourceRow, len(rows))
	for i, r := range rows {
		sr[i] = plugin.SourceRow{Row: r}
	}
	return &InMemorySource{Rows: sr, Schema: schema}
}

// Load streams s.Rows onto a channel, honoring ctx cancellation between
// sends, then closes it.
func (s *InMemorySource) Load(ctx context.Context, _ *plugin.Context) (<-chan plugin.SourceRow, error) {
	out := make(chan plugin.SourceRow, len(s.Rows))
	go func() {
		defer close(out)
		for _, r := range s.Rows {
			select {
			case <-ctx.Done():
				return
			case out <- r:
			}
		}
	}()
	return out, nil
}

// OutputSchema returns s.Schema.
func (s *InMemorySource) OutputSchema() model.Schema { return s.Schema }

// NullSink discards every row it is handed, reporting a content-hash-only
// artifact. Useful where a test's graph needs a sink but never inspects
// what was written.
type NullSink struct {
	Schema model.Schema
}

// Write canonicalizes row for its content hash and discards it.
func (s *NullSink) Write(_ context.Context, pctx *plugin.Context, row plugin.Row) (plugin.ArtifactDescriptor, error) {
	return artifactFor(pctx, row), nil
}

// InputSchema returns s.Schema.
func (s *NullSink) InputSchema() model.Schema { return s.Schema }

// RecordingSink is NullSink's counterpart for tests that assert on what
// was written: every row passed to Write is retained, in arrival order.
type RecordingSink struct {
	Schema model.Schema
	rows   []plugin.Row
}

// NewRecordingSink returns an empty RecordingSink declaring schema as its
// InputSchema.
func NewRecordingSink(schema model.Schema) *RecordingSink {
	return &RecordingSink{Schema: schema}
}

// Write records row and reports a content-hash artifact, same as NullSink.
// The orchestrator serializes all writes to a given sink through the
// run's single-writer discipline, so no locking is needed here.
func (s *RecordingSink) Write(_ context.Context, pctx *plugin.Context, row plugin.Row) (plugin.ArtifactDescriptor, error) {
	s.rows = append(s.rows, row)
	return artifactFor(pctx, row), nil
}

// InputSchema returns s.Schema.
func (s *RecordingSink) InputSchema() model.Schema { return s.Schema }

// Written returns every row recorded so far, in arrival order.
func (s *RecordingSink) Written() []plugin.Row { return append([]plugin.Row(nil), s.rows...) }

func artifactFor(pctx *plugin.Context, row plugin.Row) plugin.ArtifactDescriptor {
	return plugin.ArtifactDescriptor{
		ArtifactType: "reference",
		ContentHash:  stableHash(row),
		PathOrURI:    "reference://" + pctx.NodeID + "/" + pctx.TokenID,
	}
}

// PassthroughTransform returns each input row unchanged (or, when Fail is
// set, always errors — for exercising on_error routing). IsBatchAware lets
// the same type serve as both an ordinary transform and an aggregation
// node's batch-drain transform in tests.
type PassthroughTransform struct {
	In, Out     model.Schema
	BatchAware  bool
	OnErrorSink string
	Fail        bool
}

// Process returns []Row{row} unchanged, or an error if t.Fail is set.
func (t *PassthroughTransform) Process(_ context.Context, _ *plugin.Context, row plugin.Row) ([]plugin.Row, error) {
	if t.Fail {
		return nil, errPassthroughFailed
	}
	return []plugin.Row{row}, nil
}

func (t *PassthroughTransform) InputSchema() model.Schema      { return t.In }
func (t *PassthroughTransform) OutputSchema() model.Schema     { return t.Out }
func (t *PassthroughTransform) Determinism() model.Determinism { return model.DeterminismGuaranteed }
func (t *PassthroughTransform) IsBatchAware() bool             { return t.BatchAware }
func (t *PassthroughTransform) OnError() string                { return t.OnErrorSink }

