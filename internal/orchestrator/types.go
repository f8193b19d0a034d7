// Package orchestrator drives the beam-search loop: it runs the initial
// expansion and refinement iterations, composing the bundler, capability
// limiters, the ranker, and the event bus, with cooperative cancellation
// and job reconnection support.
package orchestrator

import (
	"fmt"
	"sync"
	"time"
)

// Descriptiveness controls combine verbosity: 1, 2, 3, or DescriptivenessRandom
// to sample independently per combine.
type Descriptiveness int

const DescriptivenessRandom Descriptiveness = 0

// Evaluation is a candidate's optional alignment/aesthetic scoring.
type Evaluation struct {
	AlignmentScore float64 // [0, 100]
	AestheticScore float64 // [0, 10]
	Scored         bool
}

// Image is an addressable reference to a generated image.
type Image struct {
	Locator   string
	LocalPath string
}

// Candidate is the fundamental unit of search: one generated image plus the
// prompts and scores that produced it.
type Candidate struct {
	Iteration   int
	CandidateID int
	ParentID    *int // nil at iteration 0

	WhatPrompt     string
	HowPrompt      string
	CombinedPrompt string

	Image      Image
	Evaluation *Evaluation // nil if not scored
	TotalScore *float64    // nil if not computed

	Metadata map[string]any

	Rank    int // assigned by the ranker; 0 until ranked
	Reason  string
	Failed  bool
	FailMsg string
}

// ExternalID renders the display/storage identifier "i{iteration}c{candidateId}".
func (c Candidate) ExternalID() string {
	return fmt.Sprintf("i%dc%d", c.Iteration, c.CandidateID)
}

// ComputeTotalScore applies alpha·alignment + (1−alpha)·(aesthetic·10) and
// stores the result, provided the candidate has been scored.
func (c *Candidate) ComputeTotalScore(alpha float64) {
	if c.Evaluation == nil || !c.Evaluation.Scored {
		return
	}
	score := alpha*c.Evaluation.AlignmentScore + (1-alpha)*(c.Evaluation.AestheticScore*10)
	c.TotalScore = &score
}

// ModalOptions carries free-form image-generation modal parameters (e.g.
// aspect ratio, sampler) passed through to the image capability unchanged.
type ModalOptions map[string]any

// Config is the per-job beam-search configuration.
type Config struct {
	BeamWidth          int // N
	KeepTop            int // M
	MaxIterations      int
	Alpha              float64
	Temperature        float64
	EnsembleSize       int
	Descriptiveness    Descriptiveness
	ModalOptions       ModalOptions
	FaceFix            bool
	AllAtOnceThreshold int
	MaxBatchSize       int
	RNGSeed            int64 // for seedable descriptiveness/position-bias sampling
}

// Validate enforces the job-submission constraints on a beam-search config.
func (c Config) Validate() error {
	switch {
	case c.BeamWidth < 1:
		return fmt.Errorf("beamWidth must be >= 1")
	case c.KeepTop < 1:
		return fmt.Errorf("keepTop must be >= 1")
	case c.KeepTop > c.BeamWidth:
		return fmt.Errorf("keepTop (%d) must be <= beamWidth (%d)", c.KeepTop, c.BeamWidth)
	case c.MaxIterations < 1:
		return fmt.Errorf("maxIterations must be >= 1")
	case c.Alpha < 0 || c.Alpha > 1:
		return fmt.Errorf("alpha must be in [0,1]")
	case c.EnsembleSize < 1:
		return fmt.Errorf("ensembleSize must be >= 1")
	case c.Descriptiveness != DescriptivenessRandom && (c.Descriptiveness < 1 || c.Descriptiveness > 3):
		return fmt.Errorf("descriptiveness must be 1, 2, 3, or random")
	}
	return nil
}

// State is a Job's lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateError     State = "error"
)

// TokenUsage accumulates token counts per capability.
type TokenUsage struct {
	Total        int
	ByCapability map[string]int
}

// Job is a running (or finished) orchestration.
type Job struct {
	ID        string
	Prompt    string
	Config    Config
	State     State
	StartedAt time.Time

	CurrentIteration int
	Candidates       []Candidate // all candidates across all iterations, for reconnection
	TokenUsage       TokenUsage
	EstimatedCost    float64

	// countersMu guards TokenUsage and EstimatedCost, which leaf generation
	// goroutines update concurrently during a single iteration.
	countersMu sync.Mutex

	// stateMu guards State, CurrentIteration, and Candidates against
	// concurrent reads from outside Run's goroutine (e.g. the job surface
	// polling GET /jobs/:id while the job is still running). Run itself is
	// single-goroutine and only ever touches these fields through the
	// helpers below.
	stateMu sync.Mutex
}

// setState records a lifecycle transition under stateMu.
func (j *Job) setState(s State) {
	j.stateMu.Lock()
	defer j.stateMu.Unlock()
	j.State = s
}

// recordIteration appends an iteration's leaves to the candidate list and
// advances CurrentIteration, under stateMu.
func (j *Job) recordIteration(iteration int, leaves []Candidate) {
	j.stateMu.Lock()
	defer j.stateMu.Unlock()
	j.CurrentIteration = iteration
	j.Candidates = append(j.Candidates, leaves...)
}

// Snapshot returns a consistent, race-free copy of the job's lifecycle
// state, current iteration, and candidates so far. Safe to call from any
// goroutine, including while Run is still in progress on another one.
func (j *Job) Snapshot() (State, int, []Candidate) {
	j.stateMu.Lock()
	defer j.stateMu.Unlock()
	candidates := make([]Candidate, len(j.Candidates))
	copy(candidates, j.Candidates)
	return j.State, j.CurrentIteration, candidates
}

// addUsage accumulates tokens spent against a capability and the estimated
// cost of producing them. Safe for concurrent callers.
func (j *Job) addUsage(capabilityName string, tokens int, cost float64) {
	j.countersMu.Lock()
	defer j.countersMu.Unlock()
	j.TokenUsage.Total += tokens
	if j.TokenUsage.ByCapability == nil {
		j.TokenUsage.ByCapability = make(map[string]int)
	}
	j.TokenUsage.ByCapability[capabilityName] += tokens
	j.EstimatedCost += cost
}

// usageSnapshot returns a copy of the job's accumulated counters.
func (j *Job) usageSnapshot() (TokenUsage, float64) {
	j.countersMu.Lock()
	defer j.countersMu.Unlock()
	byCap := make(map[string]int, len(j.TokenUsage.ByCapability))
	for k, v := range j.TokenUsage.ByCapability {
		byCap[k] = v
	}
	return TokenUsage{Total: j.TokenUsage.Total, ByCapability: byCap}, j.EstimatedCost
}

// UsageSnapshot is the exported form of usageSnapshot, for callers outside
// the package (e.g. the job status endpoint) that need a race-free read of
// TokenUsage and EstimatedCost while the job may still be running.
func (j *Job) UsageSnapshot() (TokenUsage, float64) {
	return j.usageSnapshot()
}
