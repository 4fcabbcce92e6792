package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `CREATE TABLE IF NOT EXISTS scheduled_events (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	function        TEXT NOT NULL,
	params          BYTEA,
	next_execution  TIMESTAMPTZ NOT NULL,
	lock_at         TIMESTAMPTZ,
	generation      BIGINT NOT NULL DEFAULT 0,
	recurrence      TEXT NOT NULL DEFAULT '{}',
	completed       BOOLEAN NOT NULL DEFAULT FALSE,
	last_completion TEXT
);
CREATE INDEX IF NOT EXISTS scheduled_events_due ON scheduled_events (next_execution) WHERE NOT completed;
CREATE INDEX IF NOT EXISTS scheduled_events_function ON scheduled_events (function);`

const columns = `id, name, function, params, next_execution, lock_at, generation, recurrence, completed, last_completion`

// PostgresStore keeps events in a Postgres table. Claims rely on row locks
// taken with FOR UPDATE SKIP LOCKED, so concurrent claimers skip each other's
// candidates instead of waiting.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the table if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, e *ScheduledEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	recurrence, err := json.Marshal(e.Recurrence)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO scheduled_events (id, name, function, params, next_execution, recurrence)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Name, e.Function, []byte(e.Params), e.NextExecution, string(recurrence))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: duplicate id %s", ErrInvalid, e.ID)
	}
	return nil
}

func scanEvent(row pgx.Row) (*ScheduledEvent, error) {
	var e ScheduledEvent
	var params []byte
	var recurrence string
	var last *string
	err := row.Scan(&e.ID, &e.Name, &e.Function, &params, &e.NextExecution, &e.Lock, &e.Generation, &recurrence, &e.Completed, &last)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		e.Params = params
	}
	if err := json.Unmarshal([]byte(recurrence), &e.Recurrence); err != nil {
		return nil, fmt.Errorf("corrupted recurrence of %s: %w", e.ID, err)
	}
	if last != nil {
		var c Completion
		if err := json.Unmarshal([]byte(*last), &c); err != nil {
			return nil, fmt.Errorf("corrupted completion of %s: %w", e.ID, err)
		}
		e.Last = &c
	}
	return &e, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*ScheduledEvent, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+columns+` FROM scheduled_events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (s *PostgresStore) List(ctx context.Context, function string) ([]*ScheduledEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+columns+` FROM scheduled_events WHERE $1 = '' OR function = $1 ORDER BY next_execution, id`, function)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduledEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scheduled_events WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, tolerance time.Duration) (*ScheduledEvent, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx,
		`UPDATE scheduled_events SET lock_at = $1, generation = generation + 1
		 WHERE id = (SELECT id FROM scheduled_events
		             WHERE NOT completed AND next_execution <= $1 AND (lock_at IS NULL OR lock_at <= $2)
		             ORDER BY next_execution, id LIMIT 1 FOR UPDATE SKIP LOCKED)
		 RETURNING `+columns,
		now, now.Add(-tolerance)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoEvent
	}
	return e, err
}

// conditional runs an update guarded by the handle's generation.
func (s *PostgresStore) conditional(ctx context.Context, h Handle, set string, args ...any) error {
	args = append([]any{h.ID, h.Generation}, args...)
	tag, err := s.pool.Exec(ctx,
		`UPDATE scheduled_events SET `+set+` WHERE id = $1 AND generation = $2 AND lock_at IS NOT NULL`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s generation %d", ErrLeaseLost, h.ID, h.Generation)
	}
	return nil
}

func (s *PostgresStore) RefreshLock(ctx context.Context, h Handle, now time.Time) error {
	return s.conditional(ctx, h, `lock_at = $3`, now)
}

func (s *PostgresStore) PersistCompletion(ctx context.Context, h Handle, c Completion) error {
	last, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.conditional(ctx, h, `lock_at = NULL, completed = TRUE, last_completion = $3`, string(last))
}

func (s *PostgresStore) ResetForRecurrence(ctx context.Context, h Handle, c Completion, next time.Time) error {
	last, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.conditional(ctx, h, `lock_at = NULL, next_execution = $4, last_completion = $3`, string(last), next)
}
