package prefilter

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/triper/triper/pkg/geocell"
)

// Schema is the candidate mirror table. An indexer keeps it in sync with
// public trip accounts on the ledger; the engine only reads it.
const Schema = `
CREATE TABLE IF NOT EXISTS trip_candidates (
	trip_id          TEXT PRIMARY KEY,
	owner_address    TEXT NOT NULL,
	destination_cell BIGINT NOT NULL,
	start_date       BIGINT NOT NULL,
	end_date         BIGINT NOT NULL,
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trip_candidates_cell_idx
	ON trip_candidates (destination_cell, start_date, end_date);
`

// PostgresStore is a Store backed by a Postgres mirror of public trip
// metadata.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a store bound to the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the candidate table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("%w: ensure schema: %v", ErrUnavailable, err)
	}
	return nil
}

// Upsert mirrors a candidate row. Called by the indexer, not the engine.
func (s *PostgresStore) Upsert(ctx context.Context, c Candidate) error {
	query := `
		INSERT INTO trip_candidates (trip_id, owner_address, destination_cell, start_date, end_date, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (trip_id)
		DO UPDATE SET
			owner_address = EXCLUDED.owner_address,
			destination_cell = EXCLUDED.destination_cell,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			active = EXCLUDED.active`
	_, err := s.pool.Exec(ctx, query,
		c.TripID, c.Owner, int64(c.DestinationCell), c.StartDate, c.EndDate, c.Active, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: upsert candidate: %v", ErrUnavailable, err)
	}
	return nil
}

// Deactivate marks a mirrored candidate inactive.
func (s *PostgresStore) Deactivate(ctx context.Context, tripID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE trip_candidates SET active = FALSE WHERE trip_id = $1`, tripID)
	if err != nil {
		return fmt.Errorf("%w: deactivate candidate: %v", ErrUnavailable, err)
	}
	return nil
}

// sqlExclusions normalizes an exclusion list for the ANY($n) parameter.
// pgx encodes a nil slice as SQL NULL, and `owner = ANY(NULL)` is NULL,
// which would make the NOT-clause reject every row.
func sqlExclusions(owners []string) []string {
	if owners == nil {
		return []string{}
	}
	return owners
}

// Query implements Store. Filtering, ordering, and truncation are pushed
// into SQL; the ordering matches the documented creation-time-ascending
// policy.
func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Candidate, error) {
	query := `
		SELECT trip_id, owner_address, destination_cell, start_date, end_date, active, created_at
		FROM trip_candidates
		WHERE destination_cell = $1
		  AND active
		  AND start_date < $2
		  AND end_date > $3
		  AND NOT (owner_address = ANY($4))
		ORDER BY created_at ASC, trip_id ASC`
	args := []any{int64(q.DestinationCell), q.Dates.End, q.Dates.Start, sqlExclusions(q.ExcludeOwners)}
	if q.Limit > 0 {
		query += ` LIMIT $5`
		args = append(args, q.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query candidates: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var (
			c    Candidate
			cell int64
			ts   time.Time
		)
		if err := rows.Scan(&c.TripID, &c.Owner, &cell, &c.StartDate, &c.EndDate, &c.Active, &ts); err != nil {
			return nil, fmt.Errorf("%w: scan candidate: %v", ErrUnavailable, err)
		}
		c.DestinationCell = geocell.Cell(cell)
		c.CreatedAt = ts
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate candidates: %v", ErrUnavailable, err)
	}
	return out, nil
}
