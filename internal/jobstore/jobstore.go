// Package jobstore persists job snapshots for reconnection: a client that
// drops its WebSocket connection and reconnects later needs the job's
// current state and candidate list, not just the events it missed.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/beamforge/beamforge/internal/orchestrator"
)

// ErrNotFound is returned by Get when no snapshot exists for the given id.
var ErrNotFound = errors.New("jobstore: job not found")

// Snapshot is the persisted view of a job, written once when its run ends
// and readable independently of the live orchestrator run.
type Snapshot struct {
	ID               string
	Prompt           string
	Config           orchestrator.Config
	State            orchestrator.State
	StartedAt        time.Time
	CurrentIteration int
	Candidates       []orchestrator.Candidate
	TokenUsage       orchestrator.TokenUsage
	EstimatedCost    float64
	UpdatedAt        time.Time
}

// FromJob builds a Snapshot from a live Job, reading its mutable fields
// through Job's synchronized accessors so it is safe to call even if the
// job's orchestration is still running.
func FromJob(job *orchestrator.Job) Snapshot {
	state, iteration, candidates := job.Snapshot()
	usage, cost := job.UsageSnapshot()
	return Snapshot{
		ID:               job.ID,
		Prompt:           job.Prompt,
		Config:           job.Config,
		State:            state,
		StartedAt:        job.StartedAt,
		CurrentIteration: iteration,
		Candidates:       candidates,
		TokenUsage:       usage,
		EstimatedCost:    cost,
		UpdatedAt:        time.Now(),
	}
}

// Store persists and retrieves job snapshots. Implementations must be safe
// for concurrent use.
type Store interface {
	Put(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, id string) (Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// candidatesJSON is the wire shape of Snapshot.Candidates and
// Snapshot.TokenUsage for drivers that store them as a single JSON column
// (matches the jsonb columns a postgres driver would declare).
type candidatesJSON struct {
	Candidates []orchestrator.Candidate `json:"candidates"`
	TokenUsage orchestrator.TokenUsage  `json:"token_usage"`
	Config     orchestrator.Config      `json:"config"`
}

func marshalPayload(s Snapshot) ([]byte, error) {
	return json.Marshal(candidatesJSON{Candidates: s.Candidates, TokenUsage: s.TokenUsage, Config: s.Config})
}

func unmarshalPayload(data []byte) (candidatesJSON, error) {
	var p candidatesJSON
	err := json.Unmarshal(data, &p)
	return p, err
}
