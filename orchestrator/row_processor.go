package orchestrator

import (
	"context"
	"time"

	"github.com/sdapipe/landscape/canonical"
	"github.com/sdapipe/landscape/expr"
	"github.com/sdapipe/landscape/graph"
	"github.com/sdapipe/landscape/landscaperr"
	"github.com/sdapipe/landscape/model"
	"github.com/sdapipe/landscape/plugin"
)

// driveToken walks tokenID forward from nodeID through the DAG in
// topological order (spec.md §4.6 step 3), dispatching to the node-kind
// handler appropriate to each node it encounters. row is the current
// row value at nodeID; step tracks StepIndex across the token's journey
// (distinct attempts of the same node bump Attempt, not StepIndex).
func (o *Orchestrator) driveToken(ctx context.Context, runID, tokenID, rowID, nodeID string, row plugin.Row, step int) error {
	g := o.cfg.Graph
	node := g.Node(nodeID)
	if node == nil {
		return landscaperr.New(landscaperr.KindCorruption, "orchestrator.driveToken", "unknown node "+nodeID)
	}

	switch node.Kind {
	case model.NodeTypeSource:
		return o.advance(ctx, runID, tokenID, rowID, node, row, step)
	case model.NodeTypeTransform:
		return o.runTransform(ctx, runID, tokenID, rowID, node, row, step)
	case model.NodeTypeGate:
		return o.runGate(ctx, runID, tokenID, rowID, node, row, step)
	case model.NodeTypeAggregation:
		return o.runAggregation(ctx, runID, tokenID, rowID, node, row, step)
	case model.NodeTypeCoalesce:
		return o.runCoalesce(ctx, runID, tokenID, rowID, node, row, step)
	case model.NodeTypeSink:
		return o.runSink(ctx, runID, tokenID, rowID, node, row, step)
	default:
		return landscaperr.New(landscaperr.KindCorruption, "orchestrator.driveToken", "unhandled node kind "+string(node.Kind))
	}
}

// advance continues a token to its single successor along an
// EdgeKindContinue edge. Source nodes and (for the non-selected branches)
// coalesce fan-in all use this.
func (o *Orchestrator) advance(ctx context.Context, runID, tokenID, rowID string, node *graph.Node, row plugin.Row, step int) error {
	out := o.cfg.Graph.OutEdges(node.ID)
	if len(out) == 0 {
		// A dangling terminal non-sink node is a graph construction bug,
		// not a row-level condition; Builder.Build should have rejected
		// this topology already.
		return landscaperr.New(landscaperr.KindGraphValidation, "orchestrator.advance", "node "+node.ID+" has no successor")
	}
	return o.driveToken(ctx, runID, tokenID, rowID, out[0].To, row, step+1)
}

func inputHash(row plugin.Row) (string, error) {
	h, err := canonical.StableHashErr(map[string]any(row))
	if err != nil {
		return "", canonical.AsLandscapeError("orchestrator.inputHash", err)
	}
	return h, nil
}

// runTransform executes a non-batch-aware transform (spec.md §4.6 steps
// 2-3): begin_node_state, execute, then either complete_node_state on
// success or record_validation_error/record_transform_error plus a failed
// state and on_error routing.
func (o *Orchestrator) runTransform(ctx context.Context, runID, tokenID, rowID string, node *graph.Node, row plugin.Row, step int) error {
	cfg, ok := node.Config.(graph.TransformNodeConfig)
	if !ok {
		return landscaperr.New(landscaperr.KindCorruption, "orchestrator.runTransform", "node "+node.ID+" is not a transform")
	}
	tf, ok := o.cfg.Plugins.Transforms[node.ID]
	if !ok {
		return landscaperr.New(landscaperr.KindRouteValidation, "orchestrator.runTransform", "no Transform plugin registered for "+node.ID)
	}

	if missing := missingRequiredFields(row, cfg.RequiredInputFields); missing != "" {
		return o.quarantineRow(ctx, runID, tokenID, rowID, node, row, step, cfg.OnError,
			func() error {
				return o.cfg.Landscape.RecordValidationError(ctx, &model.ValidationErrorRecord{
					RunID: runID, NodeID: node.ID, TokenID: tokenID,
					FieldPath: missing, Message: "required field missing",
				})
			})
	}

	ih, err := inputHash(row)
	if err != nil {
		return err
	}
	state, err := o.cfg.Landscape.BeginNodeState(ctx, runID, tokenID, node.ID, step, 1, ih)
	if err != nil {
		return err
	}
	started := time.Now()

	outRows, procErr := tf.Process(ctx, pluginCtx(runID, node.ID, tokenID), row)
	if procErr != nil {
		if cErr := o.cfg.Landscape.CompleteNodeState(ctx, state.StateID, model.NodeStateFailed, nil, errHashPtr(procErr), started); cErr != nil {
			return cErr
		}
		if rErr := o.cfg.Landscape.RecordTransformError(ctx, &model.TransformErrorRecord{
			RunID: runID, NodeID: node.ID, TokenID: tokenID, ErrorMessage: procErr.Error(),
		}); rErr != nil {
			return rErr
		}
		return o.routeOnError(ctx, runID, tokenID, rowID, node, row, step, cfg.OnError)
	}

	outHash, err := canonical.StableHashErr(rowsToAny(outRows))
	if err != nil {
		return canonical.AsLandscapeError("orchestrator.runTransform", err)
	}
	if err := o.cfg.Landscape.CompleteNodeState(ctx, state.StateID, model.NodeStateCompleted, &outHash, nil, started); err != nil {
		return err
	}

	if len(outRows) == 0 {
		return o.discard(ctx, runID, tokenID, node.ID)
	}
	if len(outRows) == 1 {
		return o.advance(ctx, runID, tokenID, rowID, node, outRows[0], step)
	}

	// A transform that yields more than one row expands the token into
	// siblings, mirroring fork_token's N-children shape (spec.md §4.6
	// step 4), since downstream nodes must see exactly one row per token.
	children, err := o.cfg.Landscape.ForkToken(ctx, tokenID, tokenID, len(outRows))
	if err != nil {
		return err
	}
	if err := o.routeToken(ctx, runID, tokenID, tokenID); err != nil {
		return err
	}
	for i, child := range children {
		if err := o.advance(ctx, runID, child.TokenID, rowID, node, outRows[i], step); err != nil {
			return err
		}
	}
	return nil
}

// routeToken records the non-terminal TokenOutcome(routed) a parent token
// receives once it has forked into children, and a non-final coalesce
// branch receives once superseded by the arrival that performs the join
// (spec.md §8 scenario 3: "parent receives non-terminal outcome, children
// receive terminal outcomes"). The parent's own lineage ends here, but
// without claiming the run's one terminal disposition for this row —
// that belongs to whichever descendant token actually reaches a sink,
// discard, or failure. forkGroupID is the value the children (or join)
// were grouped under; pass tokenID itself for a same-token relationship.
func (o *Orchestrator) routeToken(ctx context.Context, runID, tokenID, forkGroupID string) error {
	return o.cfg.Landscape.RecordTokenOutcome(ctx, &model.TokenOutcome{
		RunID: runID, TokenID: tokenID, Outcome: model.OutcomeRouted, IsTerminal: false, ForkGroupID: &forkGroupID,
	})
}

// routeTokenIntoBatch is routeToken's aggregation-member counterpart: the
// member's lineage ends with a BatchID reference rather than a
// ForkGroupID, since DrainBatch mints a wholly new output token rather
// than an explicit fork_token child.
func (o *Orchestrator) routeTokenIntoBatch(ctx context.Context, runID, tokenID, batchID string) error {
	return o.cfg.Landscape.RecordTokenOutcome(ctx, &model.TokenOutcome{
		RunID: runID, TokenID: tokenID, Outcome: model.OutcomeRouted, IsTerminal: false, BatchID: &batchID,
	})
}

func missingRequiredFields(row plugin.Row, required []string) string {
	for _, f := range required {
		if _, ok := row[f]; !ok {
			return f
		}
	}
	return ""
}

func rowsToAny(rows []plugin.Row) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = map[string]any(r)
	}
	return out
}

func errHashPtr(err error) *string {
	h := canonical.StableHash(err.Error())
	return &h
}

func pluginCtx(runID, nodeID, tokenID string) *plugin.Context {
	return &plugin.Context{RunID: runID, NodeID: nodeID, TokenID: tokenID}
}

// quarantineRow handles a validation failure detected before a node's
// plugin ever runs: it begins a node state for the attempt, records the
// validation error, completes that state as failed without calling the
// plugin, and routes on_error.
func (o *Orchestrator) quarantineRow(ctx context.Context, runID, tokenID, rowID string, node *graph.Node, row plugin.Row, step int, onError string, record func() error) error {
	ih, err := inputHash(row)
	if err != nil {
		return err
	}
	state, err := o.cfg.Landscape.BeginNodeState(ctx, runID, tokenID, node.ID, step, 1, ih)
	if err != nil {
		return err
	}
	if err := record(); err != nil {
		return err
	}
	errHash := canonical.StableHash("validation_error")
	if err := o.cfg.Landscape.CompleteNodeState(ctx, state.StateID, model.NodeStateFailed, nil, &errHash, time.Now()); err != nil {
		return err
	}
	return o.routeOnError(ctx, runID, tokenID, rowID, node, row, step, onError)
}

// routeOnError sends a failed token to its configured error sink, or
// discards it if on_error is "discard" or unset (spec.md §4.6 step 3).
func (o *Orchestrator) routeOnError(ctx context.Context, runID, tokenID, rowID string, node *graph.Node, row plugin.Row, step int, onError string) error {
	if onError == "" || onError == discardSink {
		return o.discard(ctx, runID, tokenID, node.ID)
	}
	sinkNode := o.cfg.Graph.Node(onError)
	if sinkNode == nil {
		return landscaperr.New(landscaperr.KindRouteValidation, "orchestrator.routeOnError", "on_error references unknown node "+onError)
	}
	return o.runSink(ctx, runID, tokenID, rowID, sinkNode, row, step+1)
}

func (o *Orchestrator) discard(ctx context.Context, runID, tokenID, nodeID string) error {
	return o.cfg.Landscape.RecordTokenOutcome(ctx, &model.TokenOutcome{
		RunID: runID, TokenID: tokenID, Outcome: model.OutcomeDiscarded, IsTerminal: true,
	})
}

// runGate evaluates a gate's routing decision (spec.md §4.6 step 4):
// either a whitelisted expression (package expr) or a GatePlugin, records
// the RoutingEvent, then forks or continues along the selected route.
func (o *Orchestrator) runGate(ctx context.Context, runID, tokenID, rowID string, node *graph.Node, row plugin.Row, step int) error {
	cfg, ok := node.Config.(graph.GateNodeConfig)
	if !ok {
		return landscaperr.New(landscaperr.KindCorruption, "orchestrator.runGate", "node "+node.ID+" is not a gate")
	}

	ih, err := inputHash(row)
	if err != nil {
		return err
	}
	state, err := o.cfg.Landscape.BeginNodeState(ctx, runID, tokenID, node.ID, step, 1, ih)
	if err != nil {
		return err
	}
	started := time.Now()

	var routeLabel string
	if cfg.Condition != "" {
		parsed, perr := expr.NewParser().Parse(cfg.Condition)
		if perr != nil {
			return perr
		}
		matched, eerr := parsed.Eval(expr.Row(row))
		if eerr != nil {
			if cErr := o.cfg.Landscape.CompleteNodeState(ctx, state.StateID, model.NodeStateFailed, nil, errHashPtr(eerr), started); cErr != nil {
				return cErr
			}
			return o.routeOnError(ctx, runID, tokenID, rowID, node, row, step, discardSink)
		}
		if matched {
			routeLabel = "true"
		} else {
			routeLabel = "false"
		}
	} else {
		gp, ok := o.cfg.Plugins.Gates[node.ID]
		if !ok {
			return landscaperr.New(landscaperr.KindRouteValidation, "orchestrator.runGate", "no GatePlugin registered for "+node.ID)
		}
		label, gerr := gp.Route(ctx, pluginCtx(runID, node.ID, tokenID), row)
		if gerr != nil {
			if cErr := o.cfg.Landscape.CompleteNodeState(ctx, state.StateID, model.NodeStateFailed, nil, errHashPtr(gerr), started); cErr != nil {
				return cErr
			}
			return o.routeOnError(ctx, runID, tokenID, rowID, node, row, step, discardSink)
		}
		routeLabel = label
	}

	outHash := canonical.StableHash(routeLabel)
	if err := o.cfg.Landscape.CompleteNodeState(ctx, state.StateID, model.NodeStateCompleted, &outHash, nil, started); err != nil {
		return err
	}

	isFork := len(cfg.ForkTo) > 0
	if _, err := o.cfg.Landscape.RecordRoutingEvent(ctx, state.StateID, tokenID, routeLabel, routeLabel, isFork); err != nil {
		return err
	}

	if isFork {
		children, err := o.cfg.Landscape.ForkToken(ctx, tokenID, tokenID, len(cfg.ForkTo))
		if err != nil {
			return err
		}
		if err := o.routeToken(ctx, runID, tokenID, tokenID); err != nil {
			return err
		}
		for i, target := range cfg.ForkTo {
			if err := o.driveToken(ctx, runID, children[i].TokenID, rowID, target, row, step+1); err != nil {
				return err
			}
		}
		return nil
	}

	target, ok := cfg.Routes[routeLabel]
	if !ok {
		return landscaperr.New(landscaperr.KindRouteValidation, "orchestrator.runGate", "gate "+node.ID+" selected unknown route "+routeLabel)
	}
	return o.driveToken(ctx, runID, tokenID, rowID, target, row, step+1)
}

// runAggregation buffers tokens for a batch-aware transform until its
// trigger fires, then drains the buffer and emits output tokens (spec.md
// §4.6 step 5).
func (o *Orchestrator) runAggregation(ctx context.Context, runID, tokenID, rowID string, node *graph.Node, row plugin.Row, step int) error {
	cfg, ok := node.Config.(graph.AggregationNodeConfig)
	if !ok {
		return landscaperr.New(landscaperr.KindCorruption, "orchestrator.runAggregation", "node "+node.ID+" is not an aggregation")
	}

	ih, err := inputHash(row)
	if err != nil {
		return err
	}
	state, err := o.cfg.Landscape.BeginNodeState(ctx, runID, tokenID, node.ID, step, 1, ih)
	if err != nil {
		return err
	}
	started := time.Now()
	if err := o.cfg.Landscape.CompleteNodeState(ctx, state.StateID, model.NodeStateCompleted, &ih, nil, started); err != nil {
		return err
	}

	// Each buffered token receives a non-terminal TokenOutcome(buffered)
	// at buffer time. A later drain records the member as routed (also
	// non-terminal); the terminal outcome belongs to the output token the
	// drain emits, at the end of that token's own journey.
	if err := o.cfg.Landscape.RecordTokenOutcome(ctx, &model.TokenOutcome{
		RunID: runID, TokenID: tokenID, Outcome: model.OutcomeBuffered, IsTerminal: false,
	}); err != nil {
		return err
	}

	rowJSON, err := canonical.Canonicalize(map[string]any(row))
	if err != nil {
		return canonical.AsLandscapeError("orchestrator.runAggregation", err)
	}

	groupID := node.ID // a single batch group per aggregation node; explicit grouping keys are a plugin-level Options concern
	count, err := o.cfg.AggregationBuffer.Add(ctx, node.ID, groupID, bufferedToken{
		TokenID: tokenID, RowJSON: string(rowJSON), BufferedAt: started,
	})
	if err != nil {
		return err
	}

	if !o.triggerFired(cfg, count) {
		return nil
	}
	return o.drainAggregation(ctx, runID, node, cfg, groupID, step)
}

func (o *Orchestrator) triggerFired(cfg graph.AggregationNodeConfig, count int) bool {
	switch cfg.Trigger {
	case graph.TriggerRowCount:
		n, _ := cfg.Options["row_count"].(float64)
		if n <= 0 {
			n = 1
		}
		return count >= int(n)
	case graph.TriggerExplicit:
		return false // only drained via an explicit operator/plugin call, never automatically
	default:
		return false // time-window triggers are drained by a caller-driven ticker, not inline on Add
	}
}

// drainAggregation empties the buffer for groupID and runs the batch-aware
// transform once per spec.md's output_mode.
func (o *Orchestrator) drainAggregation(ctx context.Context, runID string, node *graph.Node, cfg graph.AggregationNodeConfig, groupID string, step int) error {
	members, err := o.cfg.AggregationBuffer.Drain(ctx, node.ID, groupID)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}

	batch, err := o.cfg.Landscape.CreateBatch(ctx, runID, node.ID)
	if err != nil {
		return err
	}
	tokenIDs := make([]string, len(members))
	for i, m := range members {
		if err := o.cfg.Landscape.AddBatchMember(ctx, batch.BatchID, m.TokenID, i); err != nil {
			return err
		}
		tokenIDs[i] = m.TokenID
	}

	// Each member's own lineage ends here as soon as it is bound into the
	// batch: its earlier buffered outcome was non-terminal, and the row's
	// journey continues only under the new token DrainBatch mints below.
	for _, tokenID := range tokenIDs {
		if err := o.routeTokenIntoBatch(ctx, runID, tokenID, batch.BatchID); err != nil {
			return err
		}
	}

	tf, ok := o.cfg.Plugins.Transforms[node.ID]
	if !ok {
		return landscaperr.New(landscaperr.KindRouteValidation, "orchestrator.drainAggregation", "no Transform plugin registered for "+node.ID)
	}

	rows := make([]plugin.Row, len(members))
	for i, m := range members {
		var r map[string]any
		if uerr := canonicalUnmarshal(m.RowJSON, &r); uerr != nil {
			return uerr
		}
		rows[i] = plugin.Row(r)
	}

	outToken, err := o.cfg.Landscape.DrainBatch(ctx, batch.BatchID, tokenIDs)
	if err != nil {
		return err
	}

	if cfg.OutputMode == graph.OutputModeOnePerMember {
		for _, r := range rows {
			outRows, perr := tf.Process(ctx, pluginCtx(runID, node.ID, outToken.TokenID), r)
			if perr != nil {
				return perr
			}
			for _, out := range outRows {
				if err := o.advance(ctx, runID, outToken.TokenID, outToken.RowID, node, out, step+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	merged := plugin.Row{"batch": rowsToAny(rows)}
	outRows, perr := tf.Process(ctx, pluginCtx(runID, node.ID, outToken.TokenID), merged)
	if perr != nil {
		return perr
	}
	for _, out := range outRows {
		if err := o.advance(ctx, runID, outToken.TokenID, outToken.RowID, node, out, step+1); err != nil {
			return err
		}
	}
	return nil
}

// runCoalesce waits for the configured branches to arrive and then merges
// them. Coalesce nodes join distinct fork branches of the *same* original
// token, so in this single-process orchestrator each branch is driven
// depth-first before coalesce ever runs — coalesce here is reached once
// per branch and the last arrival performs the merge.
func (o *Orchestrator) runCoalesce(ctx context.Context, runID, tokenID, rowID string, node *graph.Node, row plugin.Row, step int) error {
	cfg, ok := node.Config.(graph.CoalesceNodeConfig)
	if !ok {
		return landscaperr.New(landscaperr.KindCorruption, "orchestrator.runCoalesce", "node "+node.ID+" is not a coalesce")
	}

	ih, err := inputHash(row)
	if err != nil {
		return err
	}
	state, err := o.cfg.Landscape.BeginNodeState(ctx, runID, tokenID, node.ID, step, 1, ih)
	if err != nil {
		return err
	}
	started := time.Now()

	// Branches arriving at a coalesce are distinct fork children of a
	// common ancestor, not copies of one token, so the join key has to be
	// that shared ancestor — each branch's own tokenID is unique per
	// branch and would never let two arrivals land in the same group.
	groupID, err := o.coalesceGroupID(ctx, tokenID)
	if err != nil {
		return err
	}

	count, err := o.cfg.AggregationBuffer.Add(ctx, node.ID, groupID, bufferedToken{TokenID: tokenID, BufferedAt: started})
	if err != nil {
		return err
	}

	required := len(cfg.Branches)
	switch cfg.Policy {
	case graph.CoalesceAny:
		required = 1
	case graph.CoalesceQuorum:
		if cfg.QuorumCount != nil {
			required = *cfg.QuorumCount
		}
	}

	if count < required {
		if err := o.cfg.Landscape.CompleteNodeState(ctx, state.StateID, model.NodeStateCompleted, nil, nil, started); err != nil {
			return err
		}
		// This branch's own lineage ends here, non-terminal and unmerged;
		// the eventual arrival that meets required drains the group and
		// continues under its own token instead.
		return o.routeToken(ctx, runID, tokenID, groupID)
	}

	members, err := o.cfg.AggregationBuffer.Drain(ctx, node.ID, groupID)
	if err != nil {
		return err
	}
	outHash := canonical.StableHash(len(members))
	if err := o.cfg.Landscape.CompleteNodeState(ctx, state.StateID, model.NodeStateCompleted, &outHash, nil, started); err != nil {
		return err
	}

	return o.advance(ctx, runID, tokenID, rowID, node, row, step)
}

// coalesceGroupID resolves the shared ancestor every branch arriving at a
// coalesce was forked from, via the explicit token_parents lineage
// (fork_token always records exactly one parent row per child). Falls back
// to tokenID itself for a token with no recorded parent (a coalesce fed
// directly from its source, joining on nothing).
func (o *Orchestrator) coalesceGroupID(ctx context.Context, tokenID string) (string, error) {
	parents, err := o.cfg.Landscape.GetTokenParents(ctx, tokenID)
	if err != nil {
		return "", err
	}
	if len(parents) == 0 {
		return tokenID, nil
	}
	return parents[0].ParentTokenID, nil
}

// runSink invokes the sink plugin, records the resulting artifact, and
// records the token's terminal outcome (spec.md §4.6 step 6).
func (o *Orchestrator) runSink(ctx context.Context, runID, tokenID, rowID string, node *graph.Node, row plugin.Row, step int) error {
	sink, ok := o.cfg.Plugins.Sinks[node.ID]
	if !ok {
		return landscaperr.New(landscaperr.KindRouteValidation, "orchestrator.runSink", "no Sink plugin registered for "+node.ID)
	}

	ih, err := inputHash(row)
	if err != nil {
		return err
	}
	state, err := o.cfg.Landscape.BeginNodeState(ctx, runID, tokenID, node.ID, step, 1, ih)
	if err != nil {
		return err
	}
	started := time.Now()

	desc, werr := o.retryCall(ctx, node.ID, func() (plugin.ArtifactDescriptor, error) {
		return sink.Write(ctx, pluginCtx(runID, node.ID, tokenID), row)
	})
	if werr != nil {
		errHash := errHashPtr(werr)
		if cErr := o.cfg.Landscape.CompleteNodeState(ctx, state.StateID, model.NodeStateFailed, nil, errHash, started); cErr != nil {
			return cErr
		}
		// A sink write exhausting its retries is a row-level failure, not
		// a run-level one (spec.md §294): the token's lineage ends here
		// with a terminal TokenOutcome(failed) and the run keeps
		// processing the remaining rows, rather than aborting the run.
		sinkErr := landscaperr.Wrap(landscaperr.KindSinkFailure, "orchestrator.runSink", "sink write failed after retries", werr)
		if o.cfg.Logger != nil {
			o.cfg.Logger.Run(runID).Node(node.ID, node.PluginName).Errorf("%v", sinkErr)
		}
		return o.cfg.Landscape.RecordTokenOutcome(ctx, &model.TokenOutcome{
			RunID: runID, TokenID: tokenID, Outcome: model.OutcomeFailed, IsTerminal: true, ErrorHash: errHash,
		})
	}

	if err := o.cfg.Landscape.CompleteNodeState(ctx, state.StateID, model.NodeStateCompleted, &desc.ContentHash, nil, started); err != nil {
		return err
	}

	if err := o.cfg.Landscape.RecordArtifact(ctx, &model.Artifact{
		RunID: runID, SinkNodeID: node.ID, ArtifactType: desc.ArtifactType,
		ContentHash: desc.ContentHash, PathOrURI: desc.PathOrURI, SizeBytes: desc.SizeBytes,
		MetadataJSON: desc.Metadata,
	}); err != nil {
		return err
	}

	sinkName := node.ID
	return o.cfg.Landscape.RecordTokenOutcome(ctx, &model.TokenOutcome{
		RunID: runID, TokenID: tokenID, Outcome: model.OutcomeCompleted, IsTerminal: true, SinkName: &sinkName,
	})
}
