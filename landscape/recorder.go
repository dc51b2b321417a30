package landscape

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sdapipe/landscape/landscaperr"
	"github.com/sdapipe/landscape/model"
)

func newID() string { return uuid.NewString() }

func toJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

func fromJSON(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// BeginRun writes the Run row with status=running.
func (l *Landscape) BeginRun(ctx context.Context, configHash string, settings map[string]any, canonicalVersion, triggeredBy string) (*model.Run, error) {
	const op = "landscape.BeginRun"
	if settings == nil {
		settings = map[string]any{}
	}
	if triggeredBy != "" {
		settings["triggered_by"] = triggeredBy
	}
	settingsJSON, err := toJSON(settings)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "marshal settings", err)
	}

	run := &model.Run{
		RunID:            newID(),
		StartedAt:        time.Now().UTC(),
		ConfigHash:       configHash,
		SettingsJSON:     settings,
		CanonicalVersion: canonicalVersion,
		Status:           model.RunStatusRunning,
		TriggeredBy:      triggeredBy,
	}

	_, err = l.pool.Exec(ctx, `
		INSERT INTO runs (run_id, started_at, config_hash, settings_json, canonical_version, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.RunID, run.StartedAt, run.ConfigHash, settingsJSON, run.CanonicalVersion, string(run.Status))
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "insert run", err)
	}
	return run, nil
}

// RegisterNode writes a Node row.
func (l *Landscape) RegisterNode(ctx context.Context, n *model.Node) error {
	const op = "landscape.RegisterNode"
	if n.NodeID == "" {
		n.NodeID = newID()
	}
	n.RegisteredAt = time.Now().UTC()

	configJSON, err := toJSON(n.ConfigJSON)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "marshal config_json", err)
	}
	schemaFieldsJSON, err := toJSON(n.SchemaFields)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "marshal schema_fields", err)
	}

	_, err = l.pool.Exec(ctx, `
		INSERT INTO nodes (node_id, run_id, plugin_name, node_type, plugin_version, determinism,
			config_hash, config_json, sequence_in_pipeline, schema_hash, schema_mode, schema_fields,
			registered_at, description)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		n.NodeID, n.RunID, n.PluginName, string(n.NodeType), n.PluginVersion, string(n.Determinism),
		n.ConfigHash, configJSON, n.SequenceInPipeline, n.SchemaHash, n.SchemaMode, schemaFieldsJSON,
		n.RegisteredAt, n.Description)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "insert node", err)
	}
	return nil
}

// AddEdge writes an Edge row.
func (l *Landscape) AddEdge(ctx context.Context, e *model.Edge) error {
	const op = "landscape.AddEdge"
	if e.EdgeID == "" {
		e.EdgeID = newID()
	}
	e.CreatedAt = time.Now().UTC()
	_, err := l.pool.Exec(ctx, `
		INSERT INTO edges (edge_id, run_id, from_node_id, to_node_id, label, default_mode, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.EdgeID, e.RunID, e.FromNodeID, e.ToNodeID, e.Label, string(e.DefaultMode), e.CreatedAt)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "insert edge", err)
	}
	return nil
}

// CreateRowAndToken atomically creates a Row and its initial Token within
// one transaction, per spec.md §5's "create_row + payload write +
// create_token occur within one transaction" rule. The payload write
// itself (a suspension point) must happen before this call — callers pass
// the already-computed sourceDataRef, so no external I/O occurs while this
// transaction is open.
func (l *Landscape) CreateRowAndToken(ctx context.Context, runID, sourceNodeID string, rowIndex int64, sourceDataHash string, sourceDataRef *string) (*model.Row, *model.Token, error) {
	const op = "landscape.CreateRowAndToken"

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	row := &model.Row{
		RowID:          newID(),
		RunID:          runID,
		SourceNodeID:   sourceNodeID,
		RowIndex:       rowIndex,
		SourceDataHash: sourceDataHash,
		SourceDataRef:  sourceDataRef,
		CreatedAt:      time.Now().UTC(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO rows (row_id, run_id, source_node_id, row_index, source_data_hash, source_data_ref, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		row.RowID, row.RunID, row.SourceNodeID, row.RowIndex, row.SourceDataHash, row.SourceDataRef, row.CreatedAt)
	if err != nil {
		return nil, nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "insert row", err)
	}

	token := &model.Token{
		TokenID:   newID(),
		RowID:     row.RowID,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO tokens (token_id, row_id, created_at) VALUES ($1,$2,$3)`,
		token.TokenID, token.RowID, token.CreatedAt)
	if err != nil {
		return nil, nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "insert token", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "commit tx", err)
	}
	return row, token, nil
}

// ForkToken creates N child tokens from parent and writes the
// token_parents rows with ordinals 0..N-1, atomically.
func (l *Landscape) ForkToken(ctx context.Context, parentTokenID string, forkGroupID string, n int) ([]*model.Token, error) {
	const op = "landscape.ForkToken"

	var rowID string
	if err := l.pool.QueryRow(ctx, `SELECT row_id FROM tokens WHERE token_id = $1`, parentTokenID).Scan(&rowID); err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "look up parent row_id", err)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	children := make([]*model.Token, n)
	for i := 0; i < n; i++ {
		child := &model.Token{
			TokenID:     newID(),
			RowID:       rowID,
			ForkGroupID: &forkGroupID,
			CreatedAt:   time.Now().UTC(),
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO tokens (token_id, row_id, fork_group_id, created_at) VALUES ($1,$2,$3,$4)`,
			child.TokenID, child.RowID, child.ForkGroupID, child.CreatedAt)
		if err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "insert child token", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO token_parents (token_id, parent_token_id, ordinal) VALUES ($1,$2,$3)`,
			child.TokenID, parentTokenID, i)
		if err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "insert token_parents row", err)
		}
		children[i] = child
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "commit tx", err)
	}
	return children, nil
}

// BeginNodeState records an Open node state for one attempt of node on
// token.
func (l *Landscape) BeginNodeState(ctx context.Context, runID, tokenID, nodeID string, stepIndex, attempt int, inputHash string) (*model.NodeState, error) {
	const op = "landscape.BeginNodeState"
	ns := &model.NodeState{
		StateID:   newID(),
		RunID:     runID,
		TokenID:   tokenID,
		NodeID:    nodeID,
		StepIndex: stepIndex,
		Attempt:   attempt,
		Status:    model.NodeStateOpen,
		StartedAt: time.Now().UTC(),
		InputHash: inputHash,
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO node_states (state_id, run_id, token_id, node_id, step_index, attempt, status, started_at, input_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ns.StateID, ns.RunID, ns.TokenID, ns.NodeID, ns.StepIndex, ns.Attempt, string(ns.Status), ns.StartedAt, ns.InputHash)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "insert node_state", err)
	}
	return ns, nil
}

// CompleteNodeState transitions a node state to Completed or Failed.
// status must be NodeStateCompleted or NodeStateFailed; errorHash is only
// meaningful (and must be non-nil) when status is Failed.
func (l *Landscape) CompleteNodeState(ctx context.Context, stateID string, status model.NodeStateStatus, outputHash *string, errorHash *string, startedAt time.Time) error {
	const op = "landscape.CompleteNodeState"
	if status != model.NodeStateCompleted && status != model.NodeStateFailed {
		return landscaperr.New(landscaperr.KindCorruption, op, "status must be completed or failed")
	}
	completedAt := time.Now().UTC()
	durationMS := completedAt.Sub(startedAt).Milliseconds()

	_, err := l.pool.Exec(ctx, `
		UPDATE node_states
		SET status = $1, completed_at = $2, duration_ms = $3, output_hash = $4, error_hash = $5
		WHERE state_id = $6`,
		string(status), completedAt, durationMS, outputHash, errorHash, stateID)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "update node_state", err)
	}
	return nil
}

// RecordRoutingEvent records a gate's routing decision.
func (l *Landscape) RecordRoutingEvent(ctx context.Context, stateID, routingGroupID, decision, routeLabel string, isFork bool) (*model.RoutingEvent, error) {
	const op = "landscape.RecordRoutingEvent"
	ev := &model.RoutingEvent{
		EventID:        newID(),
		StateID:        stateID,
		RoutingGroupID: routingGroupID,
		Decision:       decision,
		RouteLabel:     routeLabel,
		IsFork:         isFork,
		CreatedAt:      time.Now().UTC(),
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO routing_events (event_id, state_id, routing_group_id, decision, route_label, is_fork, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		ev.EventID, ev.StateID, ev.RoutingGroupID, ev.Decision, ev.RouteLabel, ev.IsFork, ev.CreatedAt)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "insert routing_event", err)
	}
	return ev, nil
}

// RecordCall records an external call made within a node state.
func (l *Landscape) RecordCall(ctx context.Context, c *model.Call) error {
	const op = "landscape.RecordCall"
	if c.CallID == "" {
		c.CallID = newID()
	}
	c.CreatedAt = time.Now().UTC()
	errJSON, err := toJSON(c.ErrorJSON)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "marshal error_json", err)
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO calls (call_id, state_id, call_index, call_type, status, request_hash, request_ref,
			response_hash, response_ref, latency_ms, error_json, created_at, provider)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.CallID, c.StateID, c.CallIndex, string(c.CallType), string(c.Status), c.RequestHash, c.RequestRef,
		c.ResponseHash, c.ResponseRef, c.LatencyMS, errJSON, c.CreatedAt, c.Provider)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "insert call", err)
	}
	return nil
}

// RecordArtifact records a sink's output.
func (l *Landscape) RecordArtifact(ctx context.Context, a *model.Artifact) error {
	const op = "landscape.RecordArtifact"
	if a.ArtifactID == "" {
		a.ArtifactID = newID()
	}
	a.CreatedAt = time.Now().UTC()
	metaJSON, err := toJSON(a.MetadataJSON)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "marshal metadata_json", err)
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO artifacts (artifact_id, run_id, sink_node_id, artifact_type, content_hash, path_or_uri,
			size_bytes, metadata_json, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ArtifactID, a.RunID, a.SinkNodeID, a.ArtifactType, a.ContentHash, a.PathOrURI,
		a.SizeBytes, metaJSON, a.CreatedAt)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "insert artifact", err)
	}
	return nil
}

// RecordTokenOutcome records a token's disposition. If outcome.IsTerminal
// is true and the token already has a terminal outcome, the partial
// unique index on token_outcomes rejects the insert; that unique
// violation is surfaced as a landscaperr.KindCorruption error, since a
// second terminal outcome for one token is a processor bug, not a
// recoverable condition.
func (l *Landscape) RecordTokenOutcome(ctx context.Context, o *model.TokenOutcome) error {
	const op = "landscape.RecordTokenOutcome"
	if o.OutcomeID == "" {
		o.OutcomeID = newID()
	}
	o.RecordedAt = time.Now().UTC()
	ctxJSON, err := toJSON(o.ContextJSON)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "marshal context_json", err)
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO token_outcomes (outcome_id, run_id, token_id, outcome, is_terminal, sink_name, batch_id,
			fork_group_id, error_hash, context_json, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		o.OutcomeID, o.RunID, o.TokenID, string(o.Outcome), o.IsTerminal, o.SinkName, o.BatchID,
		o.ForkGroupID, o.ErrorHash, ctxJSON, o.RecordedAt)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "insert token_outcome (possible duplicate terminal outcome)", err)
	}
	return nil
}

// CreateCheckpoint writes a Checkpoint row. All four validation fields
// (sequence_number, upstream_topology_hash, checkpoint_node_config_hash,
// created_at) are required and NOT NULL at the schema level.
func (l *Landscape) CreateCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	const op = "landscape.CreateCheckpoint"
	if cp.CheckpointID == "" {
		cp.CheckpointID = newID()
	}
	cp.CreatedAt = time.Now().UTC()
	stateJSON, err := toJSON(cp.AggregationStateJSON)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "marshal aggregation_state_json", err)
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO checkpoints (checkpoint_id, run_id, token_id, node_id, sequence_number, created_at,
			upstream_topology_hash, checkpoint_node_config_hash, aggregation_state_json)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		cp.CheckpointID, cp.RunID, cp.TokenID, cp.NodeID, cp.SequenceNumber, cp.CreatedAt,
		cp.UpstreamTopologyHash, cp.CheckpointNodeConfigHash, stateJSON)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "insert checkpoint", err)
	}
	return nil
}

// RecordValidationError records a typed validation error row.
func (l *Landscape) RecordValidationError(ctx context.Context, e *model.ValidationErrorRecord) error {
	const op = "landscape.RecordValidationError"
	if e.ErrorID == "" {
		e.ErrorID = newID()
	}
	e.CreatedAt = time.Now().UTC()
	_, err := l.pool.Exec(ctx, `
		INSERT INTO validation_error_records (error_id, run_id, node_id, token_id, field_path, message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ErrorID, e.RunID, e.NodeID, e.TokenID, e.FieldPath, e.Message, e.CreatedAt)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "insert validation_error_record", err)
	}
	return nil
}

// RecordTransformError records a typed transform-exception error row.
func (l *Landscape) RecordTransformError(ctx context.Context, e *model.TransformErrorRecord) error {
	const op = "landscape.RecordTransformError"
	if e.ErrorID == "" {
		e.ErrorID = newID()
	}
	e.CreatedAt = time.Now().UTC()
	_, err := l.pool.Exec(ctx, `
		INSERT INTO transform_error_records (error_id, run_id, node_id, token_id, error_message, stack_trace, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ErrorID, e.RunID, e.NodeID, e.TokenID, e.ErrorMessage, e.StackTrace, e.CreatedAt)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "insert transform_error_record", err)
	}
	return nil
}

// CompleteRun marks a run completed.
func (l *Landscape) CompleteRun(ctx context.Context, runID string) error {
	const op = "landscape.CompleteRun"
	now := time.Now().UTC()
	_, err := l.pool.Exec(ctx, `UPDATE runs SET status = $1, completed_at = $2 WHERE run_id = $3`,
		string(model.RunStatusCompleted), now, runID)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "update run", err)
	}
	return nil
}

// FailRun marks a run failed.
func (l *Landscape) FailRun(ctx context.Context, runID string) error {
	const op = "landscape.FailRun"
	now := time.Now().UTC()
	_, err := l.pool.Exec(ctx, `UPDATE runs SET status = $1, completed_at = $2 WHERE run_id = $3`,
		string(model.RunStatusFailed), now, runID)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "update run", err)
	}
	return nil
}

// CreateBatch starts a new Batch for an aggregation node.
func (l *Landscape) CreateBatch(ctx context.Context, runID, nodeID string) (*model.Batch, error) {
	const op = "landscape.CreateBatch"
	b := &model.Batch{BatchID: newID(), RunID: runID, NodeID: nodeID, CreatedAt: time.Now().UTC()}
	_, err := l.pool.Exec(ctx, `INSERT INTO batches (batch_id, run_id, node_id, created_at) VALUES ($1,$2,$3,$4)`,
		b.BatchID, b.RunID, b.NodeID, b.CreatedAt)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "insert batch", err)
	}
	return b, nil
}

// AddBatchMember records tokenID's membership in batchID at the given
// ordinal. Unique on (batch_id, ordinal).
func (l *Landscape) AddBatchMember(ctx context.Context, batchID, tokenID string, ordinal int) error {
	const op = "landscape.AddBatchMember"
	_, err := l.pool.Exec(ctx, `INSERT INTO batch_members (batch_id, token_id, ordinal) VALUES ($1,$2,$3)`,
		batchID, tokenID, ordinal)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "insert batch_member", err)
	}
	return nil
}

// DrainBatch atomically creates one output token descended from every
// member token of batchID (in ordinal order, via token_parents) and records
// the batch_outputs row linking the batch to it. This is the aggregation
// counterpart of ForkToken: N parents collapsing to one child rather than
// one parent expanding to N children.
func (l *Landscape) DrainBatch(ctx context.Context, batchID string, memberTokenIDs []string) (*model.Token, error) {
	const op = "landscape.DrainBatch"
	if len(memberTokenIDs) == 0 {
		return nil, landscaperr.New(landscaperr.KindCorruption, op, "cannot drain an empty batch")
	}

	var rowID string
	if err := l.pool.QueryRow(ctx, `SELECT row_id FROM tokens WHERE token_id = $1`, memberTokenIDs[0]).Scan(&rowID); err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "look up representative row_id", err)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	out := &model.Token{TokenID: newID(), RowID: rowID, CreatedAt: time.Now().UTC()}
	if _, err := tx.Exec(ctx, `INSERT INTO tokens (token_id, row_id, created_at) VALUES ($1,$2,$3)`,
		out.TokenID, out.RowID, out.CreatedAt); err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "insert output token", err)
	}
	for i, parentID := range memberTokenIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO token_parents (token_id, parent_token_id, ordinal) VALUES ($1,$2,$3)`,
			out.TokenID, parentID, i); err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "insert token_parents row", err)
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO batch_outputs (batch_id, output_token_id) VALUES ($1,$2)`,
		batchID, out.TokenID); err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "insert batch_output", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "commit tx", err)
	}
	return out, nil
}

// CancelRun marks a run cancelled, per spec.md §5's cancellation contract.
func (l *Landscape) CancelRun(ctx context.Context, runID string) error {
	const op = "landscape.CancelRun"
	now := time.Now().UTC()
	_, err := l.pool.Exec(ctx, `UPDATE runs SET status = $1, completed_at = $2 WHERE run_id = $3`,
		string(model.RunStatusCancelled), now, runID)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "update run", err)
	}
	return nil
}
