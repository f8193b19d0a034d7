package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamforge/beamforge/internal/capability"
	berrors "github.com/beamforge/beamforge/internal/errors"
	"github.com/beamforge/beamforge/internal/eventbus"
	"github.com/beamforge/beamforge/internal/limiter"
)

// fakeBus records every published event for assertion.
type fakeBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (f *fakeBus) Publish(e eventbus.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeBus) snapshot() []eventbus.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]eventbus.Event, len(f.events))
	copy(out, f.events)
	return out
}

// mockLanguage deterministically refines and combines text without any
// external call.
type mockLanguage struct{}

func (mockLanguage) RefinePrompt(ctx context.Context, text string, opts capability.RefineOptions) (capability.RefineResult, error) {
	return capability.RefineResult{RefinedText: fmt.Sprintf("%s::%s", opts.Dimension, text)}, nil
}

func (mockLanguage) CombinePrompts(ctx context.Context, what, how string, opts capability.CombineOptions) (capability.CombineResult, error) {
	return capability.CombineResult{CombinedText: fmt.Sprintf("%s+%s@d%d", what, how, opts.Descriptiveness)}, nil
}

func (mockLanguage) Status(ctx context.Context) (capability.Status, error) {
	return capability.Status{ModelLoaded: true}, nil
}

// mockImage deterministically generates a locator from the candidate's
// position.
type mockImage struct{}

func (mockImage) GenerateImage(ctx context.Context, prompt string, opts capability.ImageOptions) (capability.ImageResult, error) {
	return capability.ImageResult{Locator: fmt.Sprintf("img-i%dc%d", opts.Iteration, opts.CandidateID)}, nil
}

func (mockImage) Status(ctx context.Context) (capability.Status, error) {
	return capability.Status{ModelLoaded: true}, nil
}

// mockVision ranks candidates by ascending numeric label (lower candidateId
// wins), deterministic and side-effect free.
type mockVision struct{}

func (mockVision) CompareImages(ctx context.Context, items []capability.CompareItem, prompt string) (capability.CompareResult, error) {
	sorted := append([]capability.CompareItem{}, items...)
	sort.Slice(sorted, func(i, j int) bool {
		a, _ := strconv.Atoi(sorted[i].Label)
		b, _ := strconv.Atoi(sorted[j].Label)
		return a < b
	})
	ranking := make([]capability.CompareRank, len(sorted))
	for i, it := range sorted {
		ranking[i] = capability.CompareRank{Label: it.Label, Rank: i + 1}
	}
	return capability.CompareResult{Ranking: ranking}, nil
}

func (mockVision) MultiImageThreshold(ctx context.Context) (int, error) { return 10, nil }
func (mockVision) Status(ctx context.Context) (capability.Status, error) {
	return capability.Status{ModelLoaded: true}, nil
}

func testConfig(beamWidth, keepTop, maxIterations int) Config {
	return Config{
		BeamWidth:          beamWidth,
		KeepTop:            keepTop,
		MaxIterations:      maxIterations,
		Alpha:              0.5,
		Temperature:        0.7,
		EnsembleSize:       3,
		Descriptiveness:    2,
		AllAtOnceThreshold: 4,
		MaxBatchSize:       8,
		RNGSeed:            1,
	}
}

func newTestLimiters() *limiter.Registry {
	return limiter.NewRegistry(map[string]int{"language": 4, "image": 4, "vision": 4})
}

func TestRun_FullOrchestration_TwoIterations(t *testing.T) {
	orch := New(mockLanguage{}, mockImage{}, mockVision{}, newTestLimiters(), &fakeBus{})
	bus := orch.bus.(*fakeBus)

	job := &Job{ID: "job-1", Prompt: "a castle at dusk", Config: testConfig(2, 1, 2)}
	require.NoError(t, job.Config.Validate())

	orch.Run(context.Background(), job)

	assert.Equal(t, StateCompleted, job.State)

	var started, iterComplete, complete int
	var winner WinnerPayload
	for _, e := range bus.snapshot() {
		switch e.Type {
		case eventbus.TypeStarted:
			started++
		case eventbus.TypeIterationComplete:
			iterComplete++
		case eventbus.TypeComplete:
			complete++
			winner = e.Payload.(CompletePayload).Winner
		}
	}
	assert.Equal(t, 1, started)
	assert.Equal(t, 2, iterComplete)
	assert.Equal(t, 1, complete)
	assert.Equal(t, 1, winner.Iteration)
	assert.Equal(t, 0, winner.CandidateID)
}

func TestRun_AllLeavesFail_TransitionsToError(t *testing.T) {
	failingImage := imageFailFunc(func(ctx context.Context, prompt string, opts capability.ImageOptions) (capability.ImageResult, error) {
		return capability.ImageResult{}, berrors.New(berrors.CapabilityFailure, "provider down")
	})
	orch := New(mockLanguage{}, failingImage, mockVision{}, newTestLimiters(), &fakeBus{})
	orch.retry.maxRetries = 0 // fail fast in test
	bus := orch.bus.(*fakeBus)

	job := &Job{ID: "job-3", Prompt: "p", Config: testConfig(2, 1, 1)}
	require.NoError(t, job.Config.Validate())

	orch.Run(context.Background(), job)

	assert.Equal(t, StateError, job.State)
	var errEvents int
	for _, e := range bus.snapshot() {
		if e.Type == eventbus.TypeError {
			errEvents++
			assert.Equal(t, string(berrors.AllLeavesFailed), e.Payload.(ErrorPayload).Kind)
		}
	}
	assert.Equal(t, 1, errEvents)
}

// imageFailFunc adapts a plain function to capability.ImageCapability.
type imageFailFunc func(ctx context.Context, prompt string, opts capability.ImageOptions) (capability.ImageResult, error)

func (f imageFailFunc) GenerateImage(ctx context.Context, prompt string, opts capability.ImageOptions) (capability.ImageResult, error) {
	return f(ctx, prompt, opts)
}
func (imageFailFunc) Status(ctx context.Context) (capability.Status, error) { return capability.Status{}, nil }

// iterAwareImage behaves like mockImage at iteration 0, but blocks on
// context cancellation at iteration 1, signalling startedIter1 once the
// first iteration-1 call arrives so the test can fire cancellation exactly
// mid-image-generation.
type iterAwareImage struct {
	startedIter1 chan struct{}
	once         sync.Once
}

func (m *iterAwareImage) GenerateImage(ctx context.Context, prompt string, opts capability.ImageOptions) (capability.ImageResult, error) {
	if opts.Iteration == 0 {
		return capability.ImageResult{Locator: fmt.Sprintf("img-i%dc%d", opts.Iteration, opts.CandidateID)}, nil
	}
	m.once.Do(func() { close(m.startedIter1) })
	<-ctx.Done()
	return capability.ImageResult{}, berrors.New(berrors.Cancelled, "cancelled: %v", ctx.Err())
}

func (m *iterAwareImage) Status(ctx context.Context) (capability.Status, error) {
	return capability.Status{ModelLoaded: true}, nil
}

func TestRun_CancellationMidIteration(t *testing.T) {
	img := &iterAwareImage{startedIter1: make(chan struct{})}
	orch := New(mockLanguage{}, img, mockVision{}, newTestLimiters(), &fakeBus{})
	bus := orch.bus.(*fakeBus)

	job := &Job{ID: "job-2", Prompt: "p", Config: testConfig(2, 1, 3)}
	require.NoError(t, job.Config.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		orch.Run(ctx, job)
		close(done)
	}()

	select {
	case <-img.startedIter1:
	case <-time.After(2 * time.Second):
		t.Fatal("iteration 1 image generation never started")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	assert.Equal(t, StateCancelled, job.State)

	var cancelledEvents, iter1CandidateCompletes int
	for _, e := range bus.snapshot() {
		if e.Type == eventbus.TypeCancelled {
			cancelledEvents++
		}
		if e.Type == eventbus.TypeCandidateComplete {
			if p, ok := e.Payload.(CandidateCompletePayload); ok && p.Iteration == 1 {
				iter1CandidateCompletes++
			}
		}
	}
	assert.Equal(t, 1, cancelledEvents)
	assert.Equal(t, 0, iter1CandidateCompletes)
}

// TestRun_DescriptivenessRandom_ConcurrentLeaves exercises combineLeaves'
// shared RNG under the one-goroutine-per-leaf concurrency combineLeaves
// actually uses (beamWidth > 1), so a race on the RNG would be caught by
// `go test -race`.
func TestRun_DescriptivenessRandom_ConcurrentLeaves(t *testing.T) {
	orch := New(mockLanguage{}, mockImage{}, mockVision{}, newTestLimiters(), &fakeBus{})

	cfg := testConfig(6, 3, 2)
	cfg.Descriptiveness = DescriptivenessRandom
	job := &Job{ID: "job-4", Prompt: "a lighthouse in fog", Config: cfg}
	require.NoError(t, job.Config.Validate())

	orch.Run(context.Background(), job)

	assert.Equal(t, StateCompleted, job.State)
	for _, c := range job.Candidates {
		if !c.Failed {
			assert.NotEmpty(t, c.CombinedPrompt)
		}
	}
}
