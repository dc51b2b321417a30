// Package orchestrator composes every other component — graph, landscape,
// payloadstore, expr, plugin — to drive a run end-to-end with full audit
// recording (spec.md §4.6). It owns the one piece of real concurrency in
// the system: rows flow from the source concurrently, but the run's
// single-writer discipline (spec.md §5) is preserved because every audit
// write goes through the landscape recorder, which is itself safe for
// concurrent use.
//
// Grounded on coordinator/coordinator.go's lifecycle shape (Config struct,
// context+cancel+WaitGroup shutdown, mutex-guarded shared state) — rewired
// from websocket-protocol coordination with when-v3 onto graph-driven
// pipeline execution.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/sdapipe/landscape/canonical"
	"github.com/sdapipe/landscape/graph"
	"github.com/sdapipe/landscape/landscape"
	"github.com/sdapipe/landscape/landscaperr"
	"github.com/sdapipe/landscape/model"
	"github.com/sdapipe/landscape/observability"
	"github.com/sdapipe/landscape/payloadstore"
	"github.com/sdapipe/landscape/plugin"
)

// discardSink is the on_error sentinel meaning "drop the row, no sink
// write" (spec.md §4.6 step 3).
const discardSink = "discard"

// PluginSet resolves the plugin implementation registered for a node.
// Exactly one of the four maps has an entry for any given node, matching
// the node's Kind.
type PluginSet struct {
	Sources    map[string]plugin.Source
	Transforms map[string]plugin.Transform
	Gates      map[string]plugin.GatePlugin
	Sinks      map[string]plugin.Sink
}

// Config holds an Orchestrator's dependencies. Broadcast and Events are
// optional: a nil value disables the corresponding ambient feature without
// affecting the audit trail.
type Config struct {
	Landscape *landscape.Landscape
	Payloads  payloadstore.Store
	Graph     *graph.ExecutionGraph
	Plugins   PluginSet
	Logger    *observability.Logger
	Tracer    *observability.Tracer

	// AggregationBuffer backs batch-aware transform nodes. Defaults to an
	// in-memory buffer if nil.
	AggregationBuffer AggregationBuffer

	// Broadcast streams run lifecycle transitions (ProgressEvent kind
	// "run_lifecycle") to any attached observer. NodeState, RoutingEvent
	// and TokenOutcome transitions are not published to it.
	Broadcast *Broadcaster

	// Events publishes run lifecycle events (started/completed/failed).
	Events *LifecycleEventPublisher

	// CheckpointEvery holds the configured number of completed tokens
	// between automatic checkpoints. The orchestrator does not read it and
	// takes no automatic checkpoints; a run is checkpointed only through
	// explicit Orchestrator.Checkpoint calls.
	CheckpointEvery int

	// CallRateLimit caps external calls per second, per node. Zero means
	// unlimited.
	CallRateLimit rate.Limit
}

// Orchestrator drives one run at a time end-to-end.
type Orchestrator struct {
	cfg Config

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	seqMu    sync.Mutex
	sequence int64 // checkpoint sequence_number, monotonic per run
}

// New builds an Orchestrator. cfg.AggregationBuffer defaults to an
// in-memory buffer when unset.
func New(cfg Config) *Orchestrator {
	if cfg.AggregationBuffer == nil {
		cfg.AggregationBuffer = NewMemoryAggregationBuffer()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(logrus.InfoLevel)
	}
	return &Orchestrator{cfg: cfg, limiters: make(map[string]*rate.Limiter)}
}

func (o *Orchestrator) limiterFor(nodeID string) *rate.Limiter {
	if o.cfg.CallRateLimit <= 0 {
		return nil
	}
	o.limitersMu.Lock()
	defer o.limitersMu.Unlock()
	lim, ok := o.limiters[nodeID]
	if !ok {
		lim = rate.NewLimiter(o.cfg.CallRateLimit, 1)
		o.limiters[nodeID] = lim
	}
	return lim
}

// Run executes a run end-to-end (spec.md §4.6). It always returns a
// terminal landscape.Landscape state (completed or failed) before
// returning, even when it returns a non-nil error.
func (o *Orchestrator) Run(ctx context.Context, configHash string, settings map[string]any, canonicalVersion, triggeredBy string) (err error) {
	const op = "orchestrator.Run"
	l := o.cfg.Landscape
	g := o.cfg.Graph

	run, err := l.BeginRun(ctx, configHash, settings, canonicalVersion, triggeredBy)
	if err != nil {
		return err
	}
	log := o.cfg.Logger.Run(run.RunID)

	runCtx := ctx
	var runSpan trace.Span
	if o.cfg.Tracer != nil {
		runCtx, runSpan = o.cfg.Tracer.StartRun(ctx, run.RunID)
	}

	defer func() {
		if runSpan != nil {
			observability.End(runSpan, err)
		}
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", op, r)
		}
		if err != nil {
			log.Errorf("run failed: %v", err)
			if failErr := l.FailRun(ctx, run.RunID); failErr != nil {
				log.Errorf("failed to mark run failed: %v", failErr)
			}
			o.publishLifecycle(ctx, run.RunID, "failed")
			return
		}
		if cErr := l.CompleteRun(ctx, run.RunID); cErr != nil {
			err = cErr
			return
		}
		log.Infof("run completed")
		o.publishLifecycle(ctx, run.RunID, "completed")
	}()

	o.publishLifecycle(ctx, run.RunID, "started")

	if err = o.setup(runCtx, run.RunID); err != nil {
		return err
	}

	sourceNode := g.Node(g.SourceNodeID())
	src, ok := o.cfg.Plugins.Sources[sourceNode.ID]
	if !ok {
		return landscaperr.New(landscaperr.KindRouteValidation, op, "no Source plugin registered for "+sourceNode.ID)
	}

	rows, err := src.Load(runCtx, &plugin.Context{RunID: run.RunID, NodeID: sourceNode.ID})
	if err != nil {
		return err
	}

	var rowIndex int64
	var wg sync.WaitGroup
	rowErrs := make(chan error, 1)

	for sr := range rows {
		idx := rowIndex
		rowIndex++
		sr := sr
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, perr := o.processRow(runCtx, run.RunID, sourceNode.ID, idx, sr); perr != nil {
				select {
				case rowErrs <- perr:
				default:
				}
			}
		}()
	}
	wg.Wait()

	select {
	case rerr := <-rowErrs:
		return rerr
	default:
	}

	if err = o.verifyExactlyOneTerminal(runCtx, run.RunID); err != nil {
		return err
	}

	return nil
}

// setup registers all graph nodes/edges and runs preflight validation
// (spec.md §4.6 setup phase, steps 2-3) before any row is read.
func (o *Orchestrator) setup(ctx context.Context, runID string) error {
	g := o.cfg.Graph
	l := o.cfg.Landscape

	if err := g.ValidateErrorSinkReferences(); err != nil {
		return err
	}

	for _, n := range g.Nodes() {
		seq := n.SequenceInPipeline
		configJSON := n.Config.ConfigToDict()
		configHash, err := canonical.StableHashErr(configJSON)
		if err != nil {
			return canonical.AsLandscapeError("orchestrator.setup", err)
		}
		if err := l.RegisterNode(ctx, &model.Node{
			NodeID:             n.ID,
			RunID:              runID,
			PluginName:         n.PluginName,
			NodeType:           n.Kind,
			PluginVersion:      n.PluginVersion,
			Determinism:        n.Determinism,
			ConfigHash:         configHash,
			ConfigJSON:         configJSON,
			SequenceInPipeline: &seq,
		}); err != nil {
			return err
		}
	}

	for _, e := range g.Edges() {
		mode := model.EdgeModeMove
		if e.Kind == graph.EdgeKindFork {
			mode = model.EdgeModeFork
		}
		if err := l.AddEdge(ctx, &model.Edge{
			RunID:       runID,
			FromNodeID:  e.From,
			ToNodeID:    e.To,
			Label:       e.Label,
			DefaultMode: mode,
		}); err != nil {
			return err
		}
	}

	return nil
}

// processRow implements the per-row portion of the main execution loop
// (spec.md §4.6 steps 1-2) and then drives the resulting token through the
// DAG. Returns the root token's id so the caller can track it for the
// exactly-once check; empty if the row was invalid at the source, in which
// case its row and token are recorded and the token is given a terminal
// failed outcome at once, without entering the DAG.
func (o *Orchestrator) processRow(ctx context.Context, runID, sourceNodeID string, rowIndex int64, sr plugin.SourceRow) (string, error) {
	l := o.cfg.Landscape

	if sr.Invalid != nil {
		// Spec.md §6: a source-detected invalid row is stored and
		// explainable but its token never enters the DAG; the token is
		// terminated as failed here so the row is not silently dropped.
		hash, err := o.storePayload(ctx, sr.Invalid.RawPayload)
		if err != nil {
			return "", err
		}
		_, token, err := l.CreateRowAndToken(ctx, runID, sourceNodeID, rowIndex, hash, nil)
		if err != nil {
			return "", err
		}
		return "", l.RecordTokenOutcome(ctx, &model.TokenOutcome{
			RunID: runID, TokenID: token.TokenID, Outcome: model.OutcomeFailed, IsTerminal: true,
		})
	}

	rowHash, err := canonical.StableHashErr(map[string]any(sr.Row))
	if err != nil {
		return "", canonical.AsLandscapeError("orchestrator.processRow", err)
	}

	var ref *string
	if o.cfg.Payloads != nil {
		h, serr := o.storePayload(ctx, canonicalBytes(sr.Row))
		if serr != nil {
			return "", serr
		}
		ref = &h
	}

	row, token, err := l.CreateRowAndToken(ctx, runID, sourceNodeID, rowIndex, rowHash, ref)
	if err != nil {
		return "", err
	}

	if err := o.driveToken(ctx, runID, token.TokenID, row.RowID, sourceNodeID, sr.Row, 0); err != nil {
		return "", err
	}
	return token.TokenID, nil
}

func (o *Orchestrator) storePayload(ctx context.Context, b []byte) (string, error) {
	if o.cfg.Payloads == nil {
		return canonical.StableHash(b), nil
	}
	return o.cfg.Payloads.Store(ctx, b)
}

func canonicalBytes(row plugin.Row) []byte {
	b, _ := canonical.Canonicalize(map[string]any(row))
	return b
}

// verifyExactlyOneTerminal enforces spec.md §8 scenario 3's lineage
// invariant at finalization: fork parents, drained aggregation members,
// and superseded coalesce branches carry only a non-terminal outcome by
// design — their row's journey continues under a descendant token, not
// under them — so only a token with no recorded outcome at all is a
// violation. The partial unique index on token_outcomes already
// guarantees no token can accumulate more than one terminal row; this
// check catches the opposite failure, a token silently dropped with none.
func (o *Orchestrator) verifyExactlyOneTerminal(ctx context.Context, runID string) error {
	rows, err := o.cfg.Landscape.GetRows(ctx, runID)
	if err != nil {
		return err
	}
	for _, r := range rows {
		tokens, err := o.cfg.Landscape.GetTokens(ctx, r.RowID)
		if err != nil {
			return err
		}
		for _, t := range tokens {
			outcome, err := o.cfg.Landscape.GetTokenOutcome(ctx, t.TokenID)
			if err != nil {
				return err
			}
			if outcome != nil && outcome.IsTerminal {
				continue
			}
			hasAny, err := o.cfg.Landscape.HasAnyTokenOutcome(ctx, t.TokenID)
			if err != nil {
				return err
			}
			if !hasAny {
				return landscaperr.New(landscaperr.KindCorruption, "orchestrator.verifyExactlyOneTerminal",
					"token "+t.TokenID+" reached complete_run with no recorded outcome")
			}
		}
	}
	return nil
}

func (o *Orchestrator) publishLifecycle(ctx context.Context, runID, event string) {
	if o.cfg.Broadcast != nil {
		o.cfg.Broadcast.Publish(ProgressEvent{Kind: "run_lifecycle", RunID: runID, Detail: event, Timestamp: time.Now()})
	}
	if o.cfg.Events == nil {
		return
	}
	if err := o.cfg.Events.Publish(ctx, runID, event); err != nil {
		o.cfg.Logger.Run(runID).Warnf("lifecycle event publish failed: %v", err)
	}
}

// nextSequence returns the next monotonically increasing checkpoint
// sequence number for the orchestrator's current run.
func (o *Orchestrator) nextSequence() int64 {
	o.seqMu.Lock()
	defer o.seqMu.Unlock()
	o.sequence++
	return o.sequence
}
