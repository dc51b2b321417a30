// Package landscape is the audit trail ("Landscape"): a 17-table Postgres
// schema plus the recorder, reader, explain, and export operations that
// read and write it. The hot append path (begin_run, create_row,
// create_token, node-state transitions, ...) goes directly through
// jackc/pgx/v5 + pgxpool, grounded on the teacher's db/postgres_pgx.go
// PostgresDB wrapper; the one-time schema-compatibility check at open time
// goes through gorm.io/gorm's Migrator interface instead (see compat.go).
package landscape

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sdapipe/landscape/landscaperr"
)

// PayloadChecker is the narrow payload-existence check UpdateGradeAfterPurge
// needs. It is satisfied by payloadstore.Store; defined here rather than
// imported to avoid a landscape<->payloadstore import cycle (payloadstore's
// GradeUpdater interface is satisfied by *Landscape).
type PayloadChecker interface {
	Exists(ctx context.Context, hash string) (bool, error)
}

// Landscape is the opened audit trail, ready for recorder/reader/explain/
// export operations.
type Landscape struct {
	pool           *pgxpool.Pool
	payloadChecker PayloadChecker
}

// Open connects to dsn, runs the schema-compatibility check (spec.md
// §4.3), and returns a ready Landscape. Any schema mismatch aborts with a
// landscaperr.KindSchemaCompatibility error before any write is possible.
func Open(ctx context.Context, dsn string) (*Landscape, error) {
	const op = "landscape.Open"

	if err := CheckSchemaCompatibility(dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindSchemaCompatibility, op, "create pgx pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, landscaperr.Wrap(landscaperr.KindSchemaCompatibility, op, "ping database", err)
	}

	return &Landscape{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (l *Landscape) Close() { l.pool.Close() }

// SetPayloadChecker wires the payload store existence check used by
// UpdateGradeAfterPurge. Called once during startup wiring, before any run
// reaches retention.
func (l *Landscape) SetPayloadChecker(c PayloadChecker) { l.payloadChecker = c }

// Pool exposes the underlying pgxpool for callers (e.g. the orchestrator's
// checkpoint logic) that need to compose their own transactions across
// multiple recorder calls.
func (l *Landscape) Pool() *pgxpool.Pool { return l.pool }
