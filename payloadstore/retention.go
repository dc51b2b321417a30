package payloadstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// PurgeResult summarizes the outcome of PurgePayloads, grounded on the
// teacher's storage.UploadSummary aggregate-result pattern
// (SuccessCount/ErrorCount-style counters returned from a bulk operation).
type PurgeResult struct {
	DeletedCount int
	SkippedCount int
	FailedRefs   []string
	Duration     time.Duration
}

// String renders a one-line operator-facing summary, e.g.
// "deleted 12,480 skipped 3 failed 0 in 1.2s" — comma-grouped counts the
// same way the teacher's downloader logs human-readable byte totals
// (network/downloader.go's humanize.Bytes progress lines).
func (r PurgeResult) String() string {
	return fmt.Sprintf("deleted %s skipped %s failed %s in %s",
		humanize.Comma(int64(r.DeletedCount)),
		humanize.Comma(int64(r.SkippedCount)),
		humanize.Comma(int64(len(r.FailedRefs))),
		r.Duration)
}

// GradeUpdater recomputes and persists Run.reproducibility_grade after a
// purge. It is implemented by package landscape; defined here as an
// interface so payloadstore does not import landscape (which would create
// an import cycle, since landscape's purge-triggering paths live
// downstream of this package).
type GradeUpdater interface {
	UpdateGradeAfterPurge(ctx context.Context, runID string) error
}

// PurgePayloads deletes each of refs from store, tolerating missing blobs
// (counted as skipped, not failed) and I/O failures on existing blobs
// (counted as failed, never panicking or aborting the batch).
func PurgePayloads(ctx context.Context, store Store, refs []string) (PurgeResult, error) {
	start := time.Now()
	result := PurgeResult{}
	for _, ref := range refs {
		deleted, err := store.Delete(ctx, ref)
		if err != nil {
			result.FailedRefs = append(result.FailedRefs, ref)
			continue
		}
		if deleted {
			result.DeletedCount++
		} else {
			result.SkippedCount++
		}
	}
	result.Duration = time.Since(start)
	return result, nil
}

// UpdateGradeAfterPurge recomputes the run's reproducibility grade via
// updater once a purge has run. Hashes are never removed by a purge; only
// the underlying blobs are, so the grade reflects whether payloads required
// to regenerate outputs are still retrievable.
func UpdateGradeAfterPurge(ctx context.Context, updater GradeUpdater, runID string) error {
	return updater.UpdateGradeAfterPurge(ctx, runID)
}
