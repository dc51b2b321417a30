package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer produces the run/node/call spans the orchestrator opens around
// suspension points (spec.md §5: external calls, sink I/O, payload store
// I/O are the suspendable operations, and spans must bracket exactly
// those). Adapted from otel/init.go's provider bootstrap and the
// echo.Context-bound correlation helpers that used to live in
// otel/correlation.go — rewritten against context.Context, since the core
// has no HTTP surface of its own (spec.md §1 places front-ends out of
// scope).
type Tracer struct {
	tr trace.Tracer
}

// NewTracer wraps the global OTel tracer under the given instrumentation
// name. Call otel.Init (package otel) first to install a real exporter; if
// that step is skipped, the global no-op tracer is used and spans are
// simply not recorded.
func NewTracer(instrumentationName string) *Tracer {
	return &Tracer{tr: otel.Tracer(instrumentationName)}
}

// StartRun opens a span covering an entire run.
func (t *Tracer) StartRun(ctx context.Context, runID string) (context.Context, trace.Span) {
	ctx, span := t.tr.Start(ctx, "run", trace.WithAttributes(attribute.String("run_id", runID)))
	return WithCorrelation(ctx, runID, "", ""), span
}

// StartNode opens a span covering one node-state attempt.
func (t *Tracer) StartNode(ctx context.Context, nodeID, pluginName, tokenID string) (context.Context, trace.Span) {
	return t.tr.Start(ctx, "node", trace.WithAttributes(
		attribute.String("node_id", nodeID),
		attribute.String("plugin", pluginName),
		attribute.String("token_id", tokenID),
	))
}

// StartCall opens a span covering one external call (spec.md §5's
// suspension point requirement: database writes must never be held open
// across this span).
func (t *Tracer) StartCall(ctx context.Context, callType string) (context.Context, trace.Span) {
	return t.tr.Start(ctx, "call", trace.WithAttributes(attribute.String("call_type", callType)))
}

// End records err (if any) on span and closes it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// WithCorrelation attaches run/node/token identifiers to ctx as OTel
// baggage, so they propagate across suspension points without every
// intermediate call needing to thread them as parameters explicitly.
func WithCorrelation(ctx context.Context, runID, nodeID, tokenID string) context.Context {
	bag := baggage.FromContext(ctx)
	for k, v := range map[string]string{"run_id": runID, "node_id": nodeID, "token_id": tokenID} {
		if v == "" {
			continue
		}
		if m, err := baggage.NewMember(k, v); err == nil {
			bag, _ = bag.SetMember(m)
		}
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

// Correlation reads back the run/node/token identifiers WithCorrelation
// attached to ctx.
func Correlation(ctx context.Context) (runID, nodeID, tokenID string) {
	bag := baggage.FromContext(ctx)
	return bag.Member("run_id").Value(), bag.Member("node_id").Value(), bag.Member("token_id").Value()
}
