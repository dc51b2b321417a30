package landscape

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/sdapipe/landscape/canonical"
	"github.com/sdapipe/landscape/landscaperr"
	"github.com/sdapipe/landscape/model"
)

// ExportRecord is one signed record in an export stream: a record_type
// discriminator, the record's canonical payload, and an HMAC-SHA256
// signature over the canonicalized payload keyed by the exporter's
// signing key. crypto/hmac and crypto/sha256 are used directly (not a
// third-party signer) because the spec fixes the exact algorithm; see
// DESIGN.md.
type ExportRecord struct {
	RecordType string
	Payload    map[string]any
	Signature  string
}

// ExportManifest is the terminal record of an export stream.
type ExportManifest struct {
	RecordCount int
	FinalHash   string
	Signature   string
}

// Exporter streams a run's full audit trail as a sequence of signed,
// typed records terminated by a manifest, per spec.md §4.3's export
// operation.
type Exporter struct {
	l         *Landscape
	signingKey []byte
}

// NewExporter builds an Exporter bound to signingKey, the HMAC key used to
// sign every exported record.
func NewExporter(l *Landscape, signingKey []byte) *Exporter {
	return &Exporter{l: l, signingKey: signingKey}
}

func (x *Exporter) sign(payload map[string]any) (string, error) {
	b, err := canonical.Canonicalize(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, x.signingKey)
	mac.Write(b)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// ExportRun streams the records belonging to runID: the run itself, every
// node, every row/token/node_state/routing_event/call/checkpoint reachable
// from it, each token's terminal token_outcome, and a terminal manifest
// record carrying record_count and a final_hash (the canonical
// hash of the ordered list of per-record signatures) so a consumer can
// detect truncation or reordering. The records come back already in a
// stable order (rows by row_index, tokens by created_at, ...) so the
// final_hash is reproducible across repeated exports of an unmodified
// run. Edges, artifacts, non-terminal token outcomes, and validation or
// transform error records are not exported.
func (x *Exporter) ExportRun(ctx context.Context, runID string) ([]ExportRecord, *ExportManifest, error) {
	const op = "landscape.Exporter.ExportRun"

	var records []ExportRecord

	emit := func(recordType string, payload map[string]any) error {
		sig, err := x.sign(payload)
		if err != nil {
			return landscaperr.Wrap(landscaperr.KindCanonicalization, op, "sign "+recordType, err)
		}
		records = append(records, ExportRecord{RecordType: recordType, Payload: payload, Signature: sig})
		return nil
	}

	run, err := x.l.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if err := emit("run", runToDict(run)); err != nil {
		return nil, nil, err
	}

	nodes, err := x.l.GetNodes(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	for _, n := range nodes {
		if err := emit("node", nodeToDict(n)); err != nil {
			return nil, nil, err
		}
	}

	rows, err := x.l.GetRows(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range rows {
		if err := emit("row", rowToDict(r)); err != nil {
			return nil, nil, err
		}

		tokens, err := x.l.GetTokens(ctx, r.RowID)
		if err != nil {
			return nil, nil, err
		}
		for _, t := range tokens {
			if err := emit("token", tokenToDict(t)); err != nil {
				return nil, nil, err
			}

			states, err := x.l.GetNodeStatesForToken(ctx, t.TokenID)
			if err != nil {
				return nil, nil, err
			}
			for _, st := range states {
				if err := emit("node_state", nodeStateToDict(st)); err != nil {
					return nil, nil, err
				}

				events, err := x.l.GetRoutingEvents(ctx, st.StateID)
				if err != nil {
					return nil, nil, err
				}
				for _, ev := range events {
					if err := emit("routing_event", routingEventToDict(ev)); err != nil {
						return nil, nil, err
					}
				}

				calls, err := x.l.GetCalls(ctx, st.StateID)
				if err != nil {
					return nil, nil, err
				}
				for _, c := range calls {
					if err := emit("call", callToDict(c)); err != nil {
						return nil, nil, err
					}
				}
			}

			outcome, err := x.l.GetTokenOutcome(ctx, t.TokenID)
			if err != nil {
				return nil, nil, err
			}
			if outcome != nil {
				if err := emit("token_outcome", tokenOutcomeToDict(outcome)); err != nil {
					return nil, nil, err
				}
			}
		}
	}

	checkpoints, err := x.l.GetCheckpointsForRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	for _, cp := range checkpoints {
		if err := emit("checkpoint", checkpointToDict(cp)); err != nil {
			return nil, nil, err
		}
	}

	sigs := make([]canonical.Value, len(records))
	for i, r := range records {
		sigs[i] = r.Signature
	}
	finalHash, err := canonical.StableHashErr(sigs)
	if err != nil {
		return nil, nil, landscaperr.Wrap(landscaperr.KindCanonicalization, op, "hash signature list", err)
	}

	manifestPayload := map[string]any{
		"record_count": int64(len(records)),
		"final_hash":   finalHash,
	}
	sig, err := x.sign(manifestPayload)
	if err != nil {
		return nil, nil, landscaperr.Wrap(landscaperr.KindCanonicalization, op, "sign manifest", err)
	}

	return records, &ExportManifest{RecordCount: len(records), FinalHash: finalHash, Signature: sig}, nil
}

func runToDict(r *model.Run) map[string]any {
	return map[string]any{
		"run_id":                r.RunID,
		"started_at":            r.StartedAt,
		"completed_at":          optTime(r.CompletedAt),
		"config_hash":           r.ConfigHash,
		"settings_json":         r.SettingsJSON,
		"canonical_version":     r.CanonicalVersion,
		"status":                string(r.Status),
		"export_status":         string(r.ExportStatus),
		"reproducibility_grade": string(r.ReproducibilityGrade),
	}
}

func nodeToDict(n *model.Node) map[string]any {
	return map[string]any{
		"node_id":              n.NodeID,
		"run_id":               n.RunID,
		"plugin_name":          n.PluginName,
		"node_type":            string(n.NodeType),
		"plugin_version":       n.PluginVersion,
		"determinism":          string(n.Determinism),
		"config_hash":          n.ConfigHash,
		"sequence_in_pipeline": optInt(n.SequenceInPipeline),
		"schema_hash":          optString(n.SchemaHash),
		"registered_at":        n.RegisteredAt,
	}
}

func rowToDict(r *model.Row) map[string]any {
	return map[string]any{
		"row_id":           r.RowID,
		"run_id":           r.RunID,
		"source_node_id":   r.SourceNodeID,
		"row_index":        r.RowIndex,
		"source_data_hash": r.SourceDataHash,
		"source_data_ref":  optString(r.SourceDataRef),
		"created_at":       r.CreatedAt,
	}
}

func tokenToDict(t *model.Token) map[string]any {
	return map[string]any{
		"token_id":        t.TokenID,
		"row_id":          t.RowID,
		"branch_name":     optString(t.BranchName),
		"fork_group_id":   optString(t.ForkGroupID),
		"join_group_id":   optString(t.JoinGroupID),
		"expand_group_id": optString(t.ExpandGroupID),
		"created_at":      t.CreatedAt,
	}
}

func nodeStateToDict(ns *model.NodeState) map[string]any {
	return map[string]any{
		"state_id":     ns.StateID,
		"run_id":       ns.RunID,
		"token_id":     ns.TokenID,
		"node_id":      ns.NodeID,
		"step_index":   int64(ns.StepIndex),
		"attempt":      int64(ns.Attempt),
		"status":       string(ns.Status),
		"started_at":   ns.StartedAt,
		"input_hash":   ns.InputHash,
		"completed_at": optTime(ns.CompletedAt),
		"output_hash":  optString(ns.OutputHash),
		"error_hash":   optString(ns.ErrorHash),
	}
}

func routingEventToDict(ev *model.RoutingEvent) map[string]any {
	return map[string]any{
		"event_id":         ev.EventID,
		"state_id":         ev.StateID,
		"routing_group_id": ev.RoutingGroupID,
		"decision":         ev.Decision,
		"route_label":      ev.RouteLabel,
		"is_fork":          ev.IsFork,
		"created_at":       ev.CreatedAt,
	}
}

func callToDict(c *model.Call) map[string]any {
	return map[string]any{
		"call_id":       c.CallID,
		"state_id":      c.StateID,
		"call_index":    int64(c.CallIndex),
		"call_type":     string(c.CallType),
		"status":        string(c.Status),
		"request_hash":  c.RequestHash,
		"response_hash": optString(c.ResponseHash),
		"latency_ms":    optInt64(c.LatencyMS),
		"provider":      c.Provider,
		"created_at":    c.CreatedAt,
	}
}

func tokenOutcomeToDict(o *model.TokenOutcome) map[string]any {
	return map[string]any{
		"outcome_id":    o.OutcomeID,
		"run_id":        o.RunID,
		"token_id":      o.TokenID,
		"outcome":       string(o.Outcome),
		"is_terminal":   o.IsTerminal,
		"sink_name":     optString(o.SinkName),
		"batch_id":      optString(o.BatchID),
		"fork_group_id": optString(o.ForkGroupID),
		"error_hash":    optString(o.ErrorHash),
		"recorded_at":   o.RecordedAt,
	}
}

func checkpointToDict(cp *model.Checkpoint) map[string]any {
	return map[string]any{
		"checkpoint_id":               cp.CheckpointID,
		"run_id":                      cp.RunID,
		"token_id":                    cp.TokenID,
		"node_id":                     cp.NodeID,
		"sequence_number":             cp.SequenceNumber,
		"created_at":                  cp.CreatedAt,
		"upstream_topology_hash":      cp.UpstreamTopologyHash,
		"checkpoint_node_config_hash": cp.CheckpointNodeConfigHash,
	}
}

func optString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func optInt(i *int) any {
	if i == nil {
		return nil
	}
	return int64(*i)
}

func optInt64(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

func optTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
