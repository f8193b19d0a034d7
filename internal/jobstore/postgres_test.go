package jobstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beamforge/beamforge/internal/orchestrator"
)

// TestPostgresStore_PutGetDelete exercises PostgresStore against a real
// database. Set BEAMFORGE_TEST_POSTGRES_DSN to run it; otherwise it is
// skipped, since there is no database available in this environment.
func TestPostgresStore_PutGetDelete(t *testing.T) {
	dsn := os.Getenv("BEAMFORGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BEAMFORGE_TEST_POSTGRES_DSN not set, skipping postgres integration test")
	}

	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Migrate(ctx))

	score := 0.8
	snap := Snapshot{
		ID:               "job-pg-1",
		Prompt:           "draft a release announcement",
		Config:           orchestrator.Config{BeamWidth: 4, KeepTop: 2, MaxIterations: 3, EnsembleSize: 3, Alpha: 0.5},
		State:            orchestrator.StateRunning,
		StartedAt:        time.Now().Truncate(time.Second),
		CurrentIteration: 1,
		Candidates: []orchestrator.Candidate{
			{Iteration: 0, CandidateID: 1, CombinedPrompt: "draft one", TotalScore: &score},
		},
		TokenUsage:    orchestrator.TokenUsage{Total: 30, ByCapability: map[string]int{"language": 30}},
		EstimatedCost: 0.05,
		UpdatedAt:     time.Now().Truncate(time.Second),
	}

	require.NoError(t, store.Put(ctx, snap))

	got, err := store.Get(ctx, snap.ID)
	require.NoError(t, err)
	require.Equal(t, snap.ID, got.ID)
	require.Equal(t, snap.Prompt, got.Prompt)
	require.Equal(t, snap.State, got.State)
	require.Len(t, got.Candidates, 1)
	require.Equal(t, snap.Candidates[0].ExternalID(), got.Candidates[0].ExternalID())

	require.NoError(t, store.Delete(ctx, snap.ID))
	_, err = store.Get(ctx, snap.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
