package landscape

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/sdapipe/landscape/landscaperr"
	"github.com/sdapipe/landscape/model"
)

// GetRun fetches one run by ID.
func (l *Landscape) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	const op = "landscape.GetRun"
	row := l.pool.QueryRow(ctx, `
		SELECT run_id, started_at, completed_at, config_hash, settings_json, canonical_version,
			status, export_status, reproducibility_grade
		FROM runs WHERE run_id = $1`, runID)
	return scanRun(op, row)
}

// ListRuns returns runs ordered by started_at descending, newest first.
func (l *Landscape) ListRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	const op = "landscape.ListRuns"
	rows, err := l.pool.Query(ctx, `
		SELECT run_id, started_at, completed_at, config_hash, settings_json, canonical_version,
			status, export_status, reproducibility_grade
		FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "query runs", err)
	}
	defer rows.Close()

	var out []*model.Run
	for rows.Next() {
		r, err := scanRun(op, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(op string, row rowScanner) (*model.Run, error) {
	var r model.Run
	var settingsJSON []byte
	if err := row.Scan(&r.RunID, &r.StartedAt, &r.CompletedAt, &r.ConfigHash, &settingsJSON,
		&r.CanonicalVersion, &r.Status, &r.ExportStatus, &r.ReproducibilityGrade); err != nil {
		if err == pgx.ErrNoRows {
			return nil, landscaperr.New(landscaperr.KindCorruption, op, "run not found")
		}
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "scan run", err)
	}
	if !r.Status.Valid() {
		return nil, landscaperr.New(landscaperr.KindCorruption, op, "run "+r.RunID+" has invalid status "+string(r.Status))
	}
	if !r.ExportStatus.Valid() {
		return nil, landscaperr.New(landscaperr.KindCorruption, op, "run "+r.RunID+" has invalid export_status "+string(r.ExportStatus))
	}
	if !r.ReproducibilityGrade.Valid() {
		return nil, landscaperr.New(landscaperr.KindCorruption, op, "run "+r.RunID+" has invalid reproducibility_grade "+string(r.ReproducibilityGrade))
	}

	settings, err := fromJSON(settingsJSON)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "unmarshal settings_json", err)
	}
	r.SettingsJSON = settings
	if tb, ok := settings["triggered_by"].(string); ok {
		r.TriggeredBy = tb
	}
	return &r, nil
}

// GetNodes returns every node registered for a run, ordered by
// sequence_in_pipeline.
func (l *Landscape) GetNodes(ctx context.Context, runID string) ([]*model.Node, error) {
	const op = "landscape.GetNodes"
	rows, err := l.pool.Query(ctx, `
		SELECT node_id, run_id, plugin_name, node_type, plugin_version, determinism, config_hash,
			config_json, sequence_in_pipeline, schema_hash, schema_mode, schema_fields, registered_at,
			description
		FROM nodes WHERE run_id = $1 ORDER BY sequence_in_pipeline NULLS LAST`, runID)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "query nodes", err)
	}
	defer rows.Close()

	var out []*model.Node
	for rows.Next() {
		var n model.Node
		var configJSON, schemaFieldsJSON []byte
		if err := rows.Scan(&n.NodeID, &n.RunID, &n.PluginName, &n.NodeType, &n.PluginVersion,
			&n.Determinism, &n.ConfigHash, &configJSON, &n.SequenceInPipeline, &n.SchemaHash,
			&n.SchemaMode, &schemaFieldsJSON, &n.RegisteredAt, &n.Description); err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "scan node", err)
		}
		if !n.NodeType.Valid() {
			return nil, landscaperr.New(landscaperr.KindCorruption, op, "node "+n.NodeID+" has invalid node_type "+string(n.NodeType))
		}
		if !n.Determinism.Valid() {
			return nil, landscaperr.New(landscaperr.KindCorruption, op, "node "+n.NodeID+" has invalid determinism "+string(n.Determinism))
		}
		if n.ConfigJSON, err = fromJSON(configJSON); err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "unmarshal config_json", err)
		}
		if n.SchemaFields, err = fromJSON(schemaFieldsJSON); err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "unmarshal schema_fields", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// GetRows returns every row belonging to a run, ordered by row_index.
func (l *Landscape) GetRows(ctx context.Context, runID string) ([]*model.Row, error) {
	const op = "landscape.GetRows"
	rows, err := l.pool.Query(ctx, `
		SELECT row_id, run_id, source_node_id, row_index, source_data_hash, source_data_ref, created_at
		FROM rows WHERE run_id = $1 ORDER BY row_index`, runID)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "query rows", err)
	}
	defer rows.Close()

	var out []*model.Row
	for rows.Next() {
		var r model.Row
		if err := rows.Scan(&r.RowID, &r.RunID, &r.SourceNodeID, &r.RowIndex, &r.SourceDataHash,
			&r.SourceDataRef, &r.CreatedAt); err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "scan row", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// GetTokens returns every token descending from a row (via its row_id).
func (l *Landscape) GetTokens(ctx context.Context, rowID string) ([]*model.Token, error) {
	const op = "landscape.GetTokens"
	rows, err := l.pool.Query(ctx, `
		SELECT token_id, row_id, branch_name, fork_group_id, join_group_id, expand_group_id, created_at
		FROM tokens WHERE row_id = $1 ORDER BY created_at`, rowID)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "query tokens", err)
	}
	defer rows.Close()

	var out []*model.Token
	for rows.Next() {
		var t model.Token
		if err := rows.Scan(&t.TokenID, &t.RowID, &t.BranchName, &t.ForkGroupID, &t.JoinGroupID,
			&t.ExpandGroupID, &t.CreatedAt); err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "scan token", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// GetTokenParents returns the explicit lineage rows for a token, ordered by
// ordinal.
func (l *Landscape) GetTokenParents(ctx context.Context, tokenID string) ([]*model.TokenParent, error) {
	const op = "landscape.GetTokenParents"
	rows, err := l.pool.Query(ctx, `
		SELECT token_id, parent_token_id, ordinal FROM token_parents
		WHERE token_id = $1 ORDER BY ordinal`, tokenID)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "query token_parents", err)
	}
	defer rows.Close()

	var out []*model.TokenParent
	for rows.Next() {
		var p model.TokenParent
		if err := rows.Scan(&p.TokenID, &p.ParentTokenID, &p.Ordinal); err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "scan token_parent", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// GetNodeStatesForToken returns every node-state attempt for a token,
// ordered by step_index then attempt.
func (l *Landscape) GetNodeStatesForToken(ctx context.Context, tokenID string) ([]*model.NodeState, error) {
	const op = "landscape.GetNodeStatesForToken"
	rows, err := l.pool.Query(ctx, `
		SELECT state_id, run_id, token_id, node_id, step_index, attempt, status, started_at, input_hash,
			completed_at, duration_ms, output_hash, error_hash
		FROM node_states WHERE token_id = $1 ORDER BY step_index, attempt`, tokenID)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "query node_states", err)
	}
	defer rows.Close()

	var out []*model.NodeState
	for rows.Next() {
		var ns model.NodeState
		if err := rows.Scan(&ns.StateID, &ns.RunID, &ns.TokenID, &ns.NodeID, &ns.StepIndex, &ns.Attempt,
			&ns.Status, &ns.StartedAt, &ns.InputHash, &ns.CompletedAt, &ns.DurationMS, &ns.OutputHash,
			&ns.ErrorHash); err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "scan node_state", err)
		}
		if !ns.Status.Valid() {
			return nil, landscaperr.New(landscaperr.KindCorruption, op, "node_state "+ns.StateID+" has invalid status "+string(ns.Status))
		}
		out = append(out, &ns)
	}
	return out, rows.Err()
}

// GetRoutingEvents returns the routing events recorded for a node-state
// attempt.
func (l *Landscape) GetRoutingEvents(ctx context.Context, stateID string) ([]*model.RoutingEvent, error) {
	const op = "landscape.GetRoutingEvents"
	rows, err := l.pool.Query(ctx, `
		SELECT event_id, state_id, routing_group_id, decision, route_label, is_fork, created_at
		FROM routing_events WHERE state_id = $1 ORDER BY created_at`, stateID)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "query routing_events", err)
	}
	defer rows.Close()

	var out []*model.RoutingEvent
	for rows.Next() {
		var ev model.RoutingEvent
		if err := rows.Scan(&ev.EventID, &ev.StateID, &ev.RoutingGroupID, &ev.Decision, &ev.RouteLabel,
			&ev.IsFork, &ev.CreatedAt); err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "scan routing_event", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// GetCalls returns the external calls recorded for a node-state attempt,
// ordered by call_index.
func (l *Landscape) GetCalls(ctx context.Context, stateID string) ([]*model.Call, error) {
	const op = "landscape.GetCalls"
	rows, err := l.pool.Query(ctx, `
		SELECT call_id, state_id, call_index, call_type, status, request_hash, request_ref,
			response_hash, response_ref, latency_ms, error_json, created_at, provider
		FROM calls WHERE state_id = $1 ORDER BY call_index`, stateID)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "query calls", err)
	}
	defer rows.Close()

	var out []*model.Call
	for rows.Next() {
		var c model.Call
		var errJSON []byte
		if err := rows.Scan(&c.CallID, &c.StateID, &c.CallIndex, &c.CallType, &c.Status, &c.RequestHash,
			&c.RequestRef, &c.ResponseHash, &c.ResponseRef, &c.LatencyMS, &errJSON, &c.CreatedAt,
			&c.Provider); err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "scan call", err)
		}
		if !c.CallType.Valid() {
			return nil, landscaperr.New(landscaperr.KindCorruption, op, "call "+c.CallID+" has invalid call_type "+string(c.CallType))
		}
		if !c.Status.Valid() {
			return nil, landscaperr.New(landscaperr.KindCorruption, op, "call "+c.CallID+" has invalid status "+string(c.Status))
		}
		if c.ErrorJSON, err = fromJSON(errJSON); err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "unmarshal error_json", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// GetArtifacts returns the artifacts a sink node produced for a run.
func (l *Landscape) GetArtifacts(ctx context.Context, runID, sinkNodeID string) ([]*model.Artifact, error) {
	const op = "landscape.GetArtifacts"
	rows, err := l.pool.Query(ctx, `
		SELECT artifact_id, run_id, sink_node_id, artifact_type, content_hash, path_or_uri, size_bytes,
			metadata_json, created_at
		FROM artifacts WHERE run_id = $1 AND sink_node_id = $2 ORDER BY created_at`, runID, sinkNodeID)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "query artifacts", err)
	}
	defer rows.Close()

	var out []*model.Artifact
	for rows.Next() {
		var a model.Artifact
		var metaJSON []byte
		if err := rows.Scan(&a.ArtifactID, &a.RunID, &a.SinkNodeID, &a.ArtifactType, &a.ContentHash,
			&a.PathOrURI, &a.SizeBytes, &metaJSON, &a.CreatedAt); err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "scan artifact", err)
		}
		if a.MetadataJSON, err = fromJSON(metaJSON); err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "unmarshal metadata_json", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// GetTokenOutcome returns a token's terminal outcome, or nil if the token
// has not yet reached one.
func (l *Landscape) GetTokenOutcome(ctx context.Context, tokenID string) (*model.TokenOutcome, error) {
	const op = "landscape.GetTokenOutcome"
	row := l.pool.QueryRow(ctx, `
		SELECT outcome_id, run_id, token_id, outcome, is_terminal, sink_name, batch_id, fork_group_id,
			error_hash, context_json, recorded_at
		FROM token_outcomes WHERE token_id = $1 AND is_terminal ORDER BY recorded_at DESC LIMIT 1`, tokenID)

	var o model.TokenOutcome
	var ctxJSON []byte
	err := row.Scan(&o.OutcomeID, &o.RunID, &o.TokenID, &o.Outcome, &o.IsTerminal, &o.SinkName,
		&o.BatchID, &o.ForkGroupID, &o.ErrorHash, &ctxJSON, &o.RecordedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "scan token_outcome", err)
	}
	if !o.Outcome.Valid() {
		return nil, landscaperr.New(landscaperr.KindCorruption, op, "token_outcome "+o.OutcomeID+" has invalid outcome "+string(o.Outcome))
	}
	if o.ContextJSON, err = fromJSON(ctxJSON); err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "unmarshal context_json", err)
	}
	return &o, nil
}

// HasAnyTokenOutcome reports whether tokenID has recorded an outcome of any
// kind, terminal or not. Used by the exactly-one-terminal check to tell a
// non-leaf token that has been routed elsewhere (fork parent, drained
// aggregation member, superseded coalesce branch — all non-terminal, see
// model.Outcome) apart from a token that reached complete_run without ever
// being processed at all.
func (l *Landscape) HasAnyTokenOutcome(ctx context.Context, tokenID string) (bool, error) {
	const op = "landscape.HasAnyTokenOutcome"
	var exists bool
	err := l.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM token_outcomes WHERE token_id = $1)`, tokenID).Scan(&exists)
	if err != nil {
		return false, landscaperr.Wrap(landscaperr.KindCorruption, op, "query token_outcomes existence", err)
	}
	return exists, nil
}

// GetValidationErrorsForToken returns every validation_error_records row
// FK'd to tokenID, ordered by creation.
func (l *Landscape) GetValidationErrorsForToken(ctx context.Context, tokenID string) ([]*model.ValidationErrorRecord, error) {
	const op = "landscape.GetValidationErrorsForToken"
	rows, err := l.pool.Query(ctx, `
		SELECT error_id, run_id, node_id, token_id, field_path, message, created_at
		FROM validation_error_records WHERE token_id = $1 ORDER BY created_at`, tokenID)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "query validation_error_records", err)
	}
	defer rows.Close()

	var out []*model.ValidationErrorRecord
	for rows.Next() {
		var e model.ValidationErrorRecord
		if err := rows.Scan(&e.ErrorID, &e.RunID, &e.NodeID, &e.TokenID, &e.FieldPath, &e.Message, &e.CreatedAt); err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "scan validation_error_record", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// GetTransformErrorsForToken returns every transform_error_records row
// FK'd to tokenID, ordered by creation.
func (l *Landscape) GetTransformErrorsForToken(ctx context.Context, tokenID string) ([]*model.TransformErrorRecord, error) {
	const op = "landscape.GetTransformErrorsForToken"
	rows, err := l.pool.Query(ctx, `
		SELECT error_id, run_id, node_id, token_id, error_message, stack_trace, created_at
		FROM transform_error_records WHERE token_id = $1 ORDER BY created_at`, tokenID)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "query transform_error_records", err)
	}
	defer rows.Close()

	var out []*model.TransformErrorRecord
	for rows.Next() {
		var e model.TransformErrorRecord
		if err := rows.Scan(&e.ErrorID, &e.RunID, &e.NodeID, &e.TokenID, &e.ErrorMessage, &e.StackTrace, &e.CreatedAt); err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "scan transform_error_record", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// GetCheckpointsForRun returns every checkpoint for a run, ordered by
// sequence_number.
func (l *Landscape) GetCheckpointsForRun(ctx context.Context, runID string) ([]*model.Checkpoint, error) {
	const op = "landscape.GetCheckpointsForRun"
	rows, err := l.pool.Query(ctx, `
		SELECT checkpoint_id, run_id, token_id, node_id, sequence_number, created_at,
			upstream_topology_hash, checkpoint_node_config_hash, aggregation_state_json
		FROM checkpoints WHERE run_id = $1 ORDER BY sequence_number`, runID)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "query checkpoints", err)
	}
	defer rows.Close()

	var out []*model.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(op, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// GetLatestCheckpoint returns the highest-sequence checkpoint for a run, or
// nil if none exists.
func (l *Landscape) GetLatestCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error) {
	const op = "landscape.GetLatestCheckpoint"
	row := l.pool.QueryRow(ctx, `
		SELECT checkpoint_id, run_id, token_id, node_id, sequence_number, created_at,
			upstream_topology_hash, checkpoint_node_config_hash, aggregation_state_json
		FROM checkpoints WHERE run_id = $1 ORDER BY sequence_number DESC LIMIT 1`, runID)

	cp, err := scanCheckpoint(op, row)
	if err == errCheckpointNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// errCheckpointNotFound is an internal sentinel distinguishing "no rows"
// from a genuine scan failure; GetCheckpointsForRun never sees it since
// rows.Next() already filters out the empty case.
var errCheckpointNotFound = landscaperr.New(landscaperr.KindCorruption, "landscape.scanCheckpoint", "no checkpoint found")

func scanCheckpoint(op string, row rowScanner) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	var stateJSON []byte
	err := row.Scan(&cp.CheckpointID, &cp.RunID, &cp.TokenID, &cp.NodeID, &cp.SequenceNumber,
		&cp.CreatedAt, &cp.UpstreamTopologyHash, &cp.CheckpointNodeConfigHash, &stateJSON)
	if err == pgx.ErrNoRows {
		return nil, errCheckpointNotFound
	}
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "scan checkpoint", err)
	}
	state, jerr := fromJSON(stateJSON)
	if jerr != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "unmarshal aggregation_state_json", jerr)
	}
	cp.AggregationStateJSON = state
	return &cp, nil
}

// ExplainBundle is the full lineage bundle returned by Explain, per
// spec.md §4.3: every NodeState, RoutingEvent, Call, TokenParent, typed
// error record, and the terminal TokenOutcome for each token in the row.
type ExplainBundle struct {
	Row                    *model.Row
	Tokens                 []*model.Token
	TokenParents           map[string][]*model.TokenParent
	NodeStates             map[string][]*model.NodeState
	RoutingEvents          map[string][]*model.RoutingEvent
	Calls                  map[string][]*model.Call
	Outcomes               map[string]*model.TokenOutcome
	ValidationErrorRecords map[string][]*model.ValidationErrorRecord
	TransformErrorRecords  map[string][]*model.TransformErrorRecord
}

// Explain reconstructs the full lineage of either one token or an entire
// row, per spec.md §4.3's "explain" operation. Exactly one of tokenID,
// rowID must be non-empty.
func (l *Landscape) Explain(ctx context.Context, tokenID, rowID string) (*ExplainBundle, error) {
	const op = "landscape.Explain"
	if (tokenID == "") == (rowID == "") {
		return nil, landscaperr.New(landscaperr.KindValidation, op, "exactly one of tokenID or rowID must be set")
	}

	if rowID == "" {
		var t model.Token
		row := l.pool.QueryRow(ctx, `
			SELECT token_id, row_id, branch_name, fork_group_id, join_group_id, expand_group_id, created_at
			FROM tokens WHERE token_id = $1`, tokenID)
		if err := row.Scan(&t.TokenID, &t.RowID, &t.BranchName, &t.ForkGroupID, &t.JoinGroupID,
			&t.ExpandGroupID, &t.CreatedAt); err != nil {
			return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "look up token's row", err)
		}
		rowID = t.RowID
	}

	var theRow model.Row
	if err := l.pool.QueryRow(ctx, `
		SELECT row_id, run_id, source_node_id, row_index, source_data_hash, source_data_ref, created_at
		FROM rows WHERE row_id = $1`, rowID).Scan(&theRow.RowID, &theRow.RunID, &theRow.SourceNodeID,
		&theRow.RowIndex, &theRow.SourceDataHash, &theRow.SourceDataRef, &theRow.CreatedAt); err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "look up row", err)
	}

	tokens, err := l.GetTokens(ctx, rowID)
	if err != nil {
		return nil, err
	}

	bundle := &ExplainBundle{
		Row:                    &theRow,
		Tokens:                 tokens,
		TokenParents:           map[string][]*model.TokenParent{},
		NodeStates:             map[string][]*model.NodeState{},
		RoutingEvents:          map[string][]*model.RoutingEvent{},
		Calls:                  map[string][]*model.Call{},
		Outcomes:               map[string]*model.TokenOutcome{},
		ValidationErrorRecords: map[string][]*model.ValidationErrorRecord{},
		TransformErrorRecords:  map[string][]*model.TransformErrorRecord{},
	}

	for _, t := range tokens {
		parents, err := l.GetTokenParents(ctx, t.TokenID)
		if err != nil {
			return nil, err
		}
		bundle.TokenParents[t.TokenID] = parents

		states, err := l.GetNodeStatesForToken(ctx, t.TokenID)
		if err != nil {
			return nil, err
		}
		bundle.NodeStates[t.TokenID] = states

		for _, st := range states {
			events, err := l.GetRoutingEvents(ctx, st.StateID)
			if err != nil {
				return nil, err
			}
			bundle.RoutingEvents[st.StateID] = events

			calls, err := l.GetCalls(ctx, st.StateID)
			if err != nil {
				return nil, err
			}
			bundle.Calls[st.StateID] = calls
		}

		outcome, err := l.GetTokenOutcome(ctx, t.TokenID)
		if err != nil {
			return nil, err
		}
		if outcome != nil {
			bundle.Outcomes[t.TokenID] = outcome
		}

		verrs, err := l.GetValidationErrorsForToken(ctx, t.TokenID)
		if err != nil {
			return nil, err
		}
		bundle.ValidationErrorRecords[t.TokenID] = verrs

		terrs, err := l.GetTransformErrorsForToken(ctx, t.TokenID)
		if err != nil {
			return nil, err
		}
		bundle.TransformErrorRecords[t.TokenID] = terrs
	}

	return bundle, nil
}
