package landscape

import (
	"context"

	"github.com/sdapipe/landscape/landscaperr"
	"github.com/sdapipe/landscape/model"
)

// UpdateGradeAfterPurge implements payloadstore.GradeUpdater: it recomputes
// Run.reproducibility_grade after a payload purge (spec.md §4.8). Hashes
// are never removed by a purge, only blobs, so the grade reflects whether
// the payloads needed to regenerate this run's outputs are still
// retrievable — not whether the audit trail itself is intact.
//
// Only rows that have a source_data_ref are counted:
//
//   - full: every such row's source_data_ref still resolves to a live payload.
//   - partial: some but not all of them still do.
//   - none: none of them does, or no row has a source_data_ref (or the run
//     has no rows).
func (l *Landscape) UpdateGradeAfterPurge(ctx context.Context, runID string) error {
	const op = "landscape.UpdateGradeAfterPurge"

	rows, err := l.GetRows(ctx, runID)
	if err != nil {
		return err
	}

	total, withRef, live := 0, 0, 0
	for _, r := range rows {
		total++
		if r.SourceDataRef == nil {
			continue
		}
		withRef++
		exists, err := l.payloadExists(ctx, *r.SourceDataRef)
		if err != nil {
			return landscaperr.Wrap(landscaperr.KindCorruption, op, "check payload existence", err)
		}
		if exists {
			live++
		}
	}

	var grade model.ReproducibilityGrade
	switch {
	case total == 0 || withRef == 0:
		grade = model.GradeNone
	case live == withRef:
		grade = model.GradeFull
	case live == 0:
		grade = model.GradeNone
	default:
		grade = model.GradePartial
	}

	_, err = l.pool.Exec(ctx, `UPDATE runs SET reproducibility_grade = $1 WHERE run_id = $2`, string(grade), runID)
	if err != nil {
		return landscaperr.Wrap(landscaperr.KindCorruption, op, "update run grade", err)
	}
	return nil
}

func (l *Landscape) payloadExists(ctx context.Context, hash string) (bool, error) {
	if l.payloadChecker == nil {
		return false, landscaperr.New(landscaperr.KindCorruption, "landscape.payloadExists",
			"no payload checker configured; call (*Landscape).SetPayloadChecker at startup")
	}
	return l.payloadChecker.Exists(ctx, hash)
}
