package orchestrator

import (
	"context"

	"github.com/sdapipe/landscape/landscaperr"
	"github.com/sdapipe/landscape/model"
)

func resumeRejected(reason string) error {
	return landscaperr.New(landscaperr.KindResumeIncompatible, "orchestrator.Resume", reason)
}

// Checkpoint snapshots enough state to resume runID without reprocessing
// or duplicating rows (spec.md §4.7). The hash computation itself lives on
// graph.ExecutionGraph (UpstreamTopologyHash/NodeConfigHash) and the
// persistence lives on landscape.Landscape (CreateCheckpoint); this method
// is the orchestrator-level entry point named by spec.md's component table
// so callers don't need to reach into landscape directly mid-run.
func (o *Orchestrator) Checkpoint(ctx context.Context, runID, tokenID, nodeID string, aggregationState map[string]any) error {
	g := o.cfg.Graph

	upstreamHash, err := g.UpstreamTopologyHash(nodeID)
	if err != nil {
		return err
	}
	configHash, err := g.NodeConfigHash(nodeID)
	if err != nil {
		return err
	}

	return o.cfg.Landscape.CreateCheckpoint(ctx, &model.Checkpoint{
		RunID:                    runID,
		TokenID:                  tokenID,
		NodeID:                   nodeID,
		SequenceNumber:           o.nextSequence(),
		UpstreamTopologyHash:     upstreamHash,
		CheckpointNodeConfigHash: configHash,
		AggregationStateJSON:     aggregationState,
	})
}

// Resume reports whether runID (which must have failed) can resume from its
// latest checkpoint against the given graph, and if so returns the rows
// that still need processing (spec.md §4.7's additive resume: new tokens
// and node states for the unprocessed rows, no rewrite of prior history).
func (o *Orchestrator) Resume(ctx context.Context, run *model.Run) ([]*model.Row, error) {
	check, err := o.cfg.Landscape.CanResume(ctx, run, o.cfg.Graph)
	if err != nil {
		return nil, err
	}
	if !check.CanResume {
		return nil, resumeRejected(check.Reason)
	}
	return o.cfg.Landscape.GetUnprocessedRows(ctx, run.RunID)
}
