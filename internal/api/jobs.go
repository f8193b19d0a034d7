package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/beamforge/beamforge/internal/eventbus"
	"github.com/beamforge/beamforge/internal/jobstore"
	"github.com/beamforge/beamforge/internal/orchestrator"
)

// startJobRequest mirrors the startJob parameters: prompt plus beam-search
// config. Count fields left zero (beamWidth, keepTop, maxIterations,
// ensembleSize) are rejected by the orchestrator's Validate; a zero
// descriptiveness means "random".
type startJobRequest struct {
	Prompt          string         `json:"prompt" binding:"required"`
	BeamWidth       int            `json:"beamWidth"`
	KeepTop         int            `json:"keepTop"`
	MaxIterations   int            `json:"maxIterations"`
	Alpha           float64        `json:"alpha"`
	Temperature     float64        `json:"temperature"`
	EnsembleSize    int            `json:"ensembleSize"`
	Descriptiveness int            `json:"descriptiveness"`
	ModalOptions    map[string]any `json:"modalOptions"`
	FaceFix         bool           `json:"faceFix"`
}

func (r startJobRequest) toConfig() orchestrator.Config {
	return orchestrator.Config{
		BeamWidth:       r.BeamWidth,
		KeepTop:         r.KeepTop,
		MaxIterations:   r.MaxIterations,
		Alpha:           r.Alpha,
		Temperature:     r.Temperature,
		EnsembleSize:    r.EnsembleSize,
		Descriptiveness: orchestrator.Descriptiveness(r.Descriptiveness),
		ModalOptions:    orchestrator.ModalOptions(r.ModalOptions),
		FaceFix:         r.FaceFix,
		RNGSeed:         time.Now().UnixNano(),
	}
}

// runningJob tracks a job's live orchestration alongside its cancel func.
type runningJob struct {
	job    *orchestrator.Job
	cancel context.CancelFunc
}

// jobRegistry tracks every job this process is running or has run, backing
// it onto a jobstore.Store for reconnection once in-memory state is gone
// (process restart).
type jobRegistry struct {
	mu      sync.Mutex
	jobs    map[string]*runningJob
	factory OrchestratorFactory
	bus     *eventbus.Bus
	store   jobstore.Store
	logger  *slog.Logger
}

func newJobRegistry(factory OrchestratorFactory, bus *eventbus.Bus, store jobstore.Store, logger *slog.Logger) *jobRegistry {
	return &jobRegistry{
		jobs:    make(map[string]*runningJob),
		factory: factory,
		bus:     bus,
		store:   store,
		logger:  logger,
	}
}

func (r *jobRegistry) start(prompt string, cfg orchestrator.Config) *orchestrator.Job {
	job := &orchestrator.Job{
		ID:     uuid.NewString(),
		Prompt: prompt,
		Config: cfg,
		State:  orchestrator.StateQueued,
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.jobs[job.ID] = &runningJob{job: job, cancel: cancel}
	r.mu.Unlock()

	orch := r.factory()
	go func() {
		orch.Run(ctx, job)
		r.persist(job)
	}()

	return job
}

func (r *jobRegistry) persist(job *orchestrator.Job) {
	if r.store == nil {
		return
	}
	if err := r.store.Put(context.Background(), jobstore.FromJob(job)); err != nil {
		r.logger.Error("persisting job snapshot", "job_id", job.ID, "error", err)
	}
}

func (r *jobRegistry) get(id string) (*orchestrator.Job, bool) {
	r.mu.Lock()
	rj, ok := r.jobs[id]
	r.mu.Unlock()
	if ok {
		return rj.job, true
	}
	return nil, false
}

// cancel requests cancellation of a running job. It is idempotent: calling
// it on an already-terminal or unknown job is a no-op that reports success,
// since the caller's desired end state (not running) already holds.
func (r *jobRegistry) cancel(id string) {
	r.mu.Lock()
	rj, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	rj.cancel()
}

func (s *Server) startJobHandler(c *gin.Context) {
	var req startJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := req.toConfig()
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limits := s.cfg.Orchestrator
	if cfg.BeamWidth > limits.MaxBeamWidth || cfg.KeepTop > limits.MaxKeepTop || cfg.MaxIterations > limits.MaxIterations {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("job exceeds configured limits (beamWidth <= %d, keepTop <= %d, maxIterations <= %d)",
			limits.MaxBeamWidth, limits.MaxKeepTop, limits.MaxIterations)})
		return
	}
	cfg.AllAtOnceThreshold = s.cfg.Ranker.AllAtOnceThreshold

	job := s.registry.start(req.Prompt, cfg)
	c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID})
}

func (s *Server) getJobHandler(c *gin.Context) {
	id := c.Param("id")
	job, ok := s.registry.get(id)
	if !ok {
		s.getFromStore(c, id)
		return
	}
	c.JSON(http.StatusOK, jobView(job))
}

func (s *Server) getFromStore(c *gin.Context, id string) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	snap, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobId":            snap.ID,
		"state":            snap.State,
		"currentIteration": snap.CurrentIteration,
		"candidates":       snap.Candidates,
		"tokenUsage":       snap.TokenUsage,
		"estimatedCost":    snap.EstimatedCost,
	})
}

// jobView reads a job's lifecycle state and counters through its
// synchronized snapshot methods, since Run mutates them concurrently on its
// own goroutine for as long as the job is running.
func jobView(job *orchestrator.Job) gin.H {
	state, iteration, candidates := job.Snapshot()
	usage, cost := job.UsageSnapshot()
	return gin.H{
		"jobId":            job.ID,
		"state":            state,
		"currentIteration": iteration,
		"candidates":       candidates,
		"tokenUsage":       usage,
		"estimatedCost":    cost,
	}
}

func (s *Server) cancelJobHandler(c *gin.Context) {
	id := c.Param("id")
	s.registry.cancel(id)
	c.JSON(http.StatusOK, gin.H{"jobId": id, "cancelled": true})
}

// limiterStatusHandler reports Active/Queued/Limit for every capability
// named in configuration, creating any limiter not yet touched by a job.
func (s *Server) limiterStatusHandler(c *gin.Context) {
	status := make(map[string]any, len(s.cfg.Limiter.Defaults))
	for name := range s.cfg.Limiter.Defaults {
		status[name] = s.limiters.Get(name).Metrics()
	}
	c.JSON(http.StatusOK, status)
}
