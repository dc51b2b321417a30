package landscape

import (
	"context"

	"github.com/sdapipe/landscape/landscaperr"
	"github.com/sdapipe/landscape/model"
)

// GetResumePoint returns the checkpoint with the highest sequence_number
// for runID, or nil if the run has no checkpoints (spec.md §4.7).
func (l *Landscape) GetResumePoint(ctx context.Context, runID string) (*model.Checkpoint, error) {
	return l.GetLatestCheckpoint(ctx, runID)
}

// TopologyHasher is satisfied by graph.ExecutionGraph. Defined here as an
// interface so landscape does not import package graph: graph already
// imports model and landscaperr, and a landscape->graph edge would be the
// only cycle-risk in the module, for no benefit over passing the two
// hashes can_resume actually needs.
type TopologyHasher interface {
	UpstreamTopologyHash(nodeID string) (string, error)
	NodeConfigHash(nodeID string) (string, error)
}

// ResumeCheck is the result of CanResume.
type ResumeCheck struct {
	CanResume bool
	Reason    string
}

// CanResume implements spec.md §4.7's resume-compatibility check: the run
// must be failed, a checkpoint must exist, and the checkpointed node's
// upstream topology and config hashes must match what graph computes now.
func (l *Landscape) CanResume(ctx context.Context, run *model.Run, g TopologyHasher) (ResumeCheck, error) {
	if run.Status != model.RunStatusFailed {
		return ResumeCheck{CanResume: false, Reason: "run status is " + string(run.Status) + ", not failed"}, nil
	}

	cp, err := l.GetLatestCheckpoint(ctx, run.RunID)
	if err != nil {
		return ResumeCheck{}, err
	}
	if cp == nil {
		return ResumeCheck{CanResume: false, Reason: "run has no checkpoints"}, nil
	}

	topoHash, err := g.UpstreamTopologyHash(cp.NodeID)
	if err != nil {
		return ResumeCheck{}, landscaperr.Wrap(landscaperr.KindResumeIncompatible, "landscape.CanResume",
			"recompute upstream topology hash", err)
	}
	if topoHash != cp.UpstreamTopologyHash {
		return ResumeCheck{CanResume: false, Reason: "upstream topology hash mismatch: checkpoint=" +
			cp.UpstreamTopologyHash + " current=" + topoHash}, nil
	}

	configHash, err := g.NodeConfigHash(cp.NodeID)
	if err != nil {
		return ResumeCheck{}, landscaperr.Wrap(landscaperr.KindResumeIncompatible, "landscape.CanResume",
			"recompute node config hash", err)
	}
	if configHash != cp.CheckpointNodeConfigHash {
		return ResumeCheck{CanResume: false, Reason: "node config hash mismatch: checkpoint=" +
			cp.CheckpointNodeConfigHash + " current=" + configHash}, nil
	}

	return ResumeCheck{CanResume: true}, nil
}

// GetUnprocessedRows implements spec.md §4.7's unprocessed-row computation.
// A checkpoint whose token_id does not resolve to a row is database
// corruption: it must fail with a typed error, never return an empty list
// (spec.md §8's boundary-behavior requirement).
func (l *Landscape) GetUnprocessedRows(ctx context.Context, runID string) ([]*model.Row, error) {
	const op = "landscape.GetUnprocessedRows"

	cp, err := l.GetLatestCheckpoint(ctx, runID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, landscaperr.New(landscaperr.KindCorruption, op, "run has no checkpoints; cannot compute unprocessed rows")
	}

	var rowID string
	err = l.pool.QueryRow(ctx, `SELECT row_id FROM tokens WHERE token_id = $1`, cp.TokenID).Scan(&rowID)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op,
			"checkpoint token_id does not resolve to a row: database corruption", err)
	}

	var checkpointRowIndex int64
	err = l.pool.QueryRow(ctx, `SELECT row_index FROM rows WHERE row_id = $1`, rowID).Scan(&checkpointRowIndex)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op,
			"checkpoint row_id does not resolve to a row: database corruption", err)
	}

	rows, err := l.pool.Query(ctx, `
		SELECT row_id, run_id, source_node_id, row_index, source_data_hash, source_data_ref, created_at
		FROM rows WHERE run_id = $1 AND row_index > $2 ORDER BY row_index`, runID, checkpointRowIndex)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindCorruption, op, "query unprocessed rows", err)
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
