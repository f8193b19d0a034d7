package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/beamforge/beamforge/internal/orchestrator"
)

// PostgresStore persists job snapshots to a single jobs table, keyed by job
// id, with the candidate list and usage counters stored as a single JSON
// payload column.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens dsn and verifies connectivity with a ping.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate creates the jobs table if it does not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                text PRIMARY KEY,
	prompt            text NOT NULL,
	state             text NOT NULL,
	started_at        timestamptz NOT NULL,
	current_iteration integer NOT NULL,
	estimated_cost    double precision NOT NULL,
	payload           jsonb NOT NULL,
	updated_at        timestamptz NOT NULL
)`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("creating jobs table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, snap Snapshot) error {
	payload, err := marshalPayload(snap)
	if err != nil {
		return fmt.Errorf("marshaling job payload: %w", err)
	}

	const query = `
INSERT INTO jobs (id, prompt, state, started_at, current_iteration, estimated_cost, payload, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	state = EXCLUDED.state,
	current_iteration = EXCLUDED.current_iteration,
	estimated_cost = EXCLUDED.estimated_cost,
	payload = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		snap.ID, snap.Prompt, string(snap.State), snap.StartedAt, snap.CurrentIteration,
		snap.EstimatedCost, payload, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting job %s: %w", snap.ID, err)
	}
	return nil
}

type jobRow struct {
	ID               string    `db:"id"`
	Prompt           string    `db:"prompt"`
	State            string    `db:"state"`
	StartedAt        time.Time `db:"started_at"`
	CurrentIteration int       `db:"current_iteration"`
	EstimatedCost    float64   `db:"estimated_cost"`
	Payload          []byte    `db:"payload"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Snapshot, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM jobs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetching job %s: %w", id, err)
	}

	payload, err := unmarshalPayload(row.Payload)
	if err != nil {
		return Snapshot{}, fmt.Errorf("unmarshaling job %s payload: %w", id, err)
	}

	return Snapshot{
		ID:               row.ID,
		Prompt:           row.Prompt,
		Config:           payload.Config,
		State:            orchestrator.State(row.State),
		StartedAt:        row.StartedAt,
		CurrentIteration: row.CurrentIteration,
		Candidates:       payload.Candidates,
		TokenUsage:       payload.TokenUsage,
		EstimatedCost:    row.EstimatedCost,
		UpdatedAt:        row.UpdatedAt,
	}, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting job %s: %w", id, err)
	}
	return nil
}
