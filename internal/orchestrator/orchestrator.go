package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/beamforge/beamforge/internal/capability"
	"github.com/beamforge/beamforge/internal/ensemble"
	berrors "github.com/beamforge/beamforge/internal/errors"
	"github.com/beamforge/beamforge/internal/eventbus"
	"github.com/beamforge/beamforge/internal/limiter"
	"github.com/beamforge/beamforge/internal/ranker"
)

// Orchestrator drives the beam search: initial expansion at iteration 0,
// refinement iterations thereafter, composing the bundler, the
// per-capability limiters, the ranker, and the event bus.
type Orchestrator struct {
	language capability.LanguageCapability
	image    capability.ImageCapability
	vision   capability.VisionCapability

	limiters *limiter.Registry
	bus      publisher

	retry retryPolicy
}

// New builds an Orchestrator over the three pluggable capabilities. limiters
// supplies one Limiter per capability name ("language", "image", "vision");
// bus receives every emitted event.
func New(lang capability.LanguageCapability, img capability.ImageCapability, vis capability.VisionCapability, limiters *limiter.Registry, bus publisher) *Orchestrator {
	return &Orchestrator{
		language: lang,
		image:    img,
		vision:   vis,
		limiters: limiters,
		bus:      bus,
		retry:    defaultRetryPolicy(),
	}
}

func (o *Orchestrator) publish(jobID string, t eventbus.Type, payload any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{JobID: jobID, Type: t, Timestamp: time.Now(), Payload: payload})
}

// Run drives job to a terminal state, publishing every event along the way.
// It blocks until the job completes, is cancelled (via ctx), or errors.
// Callers typically invoke Run in its own goroutine and cancel ctx to stop
// the job early.
func (o *Orchestrator) Run(ctx context.Context, job *Job) {
	job.setState(StateRunning)
	job.StartedAt = time.Now()

	o.publish(job.ID, eventbus.TypeStarted, StartedPayload{
		Params:    job.Config,
		SessionID: fmt.Sprintf("%s-%d", job.ID, job.StartedAt.UnixNano()),
	})

	rng := newSafeRand(job.Config.RNGSeed)

	var parents []Candidate
	for iteration := 0; iteration < job.Config.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			o.finishCancelled(job)
			return
		}

		o.publish(job.ID, eventbus.TypeStep, StepPayload{Stage: "iteration", Status: "started", Message: fmt.Sprintf("iteration %d", iteration)})

		var leaves []Candidate
		var err error
		if iteration == 0 {
			leaves, err = o.runInitialExpansion(ctx, job, rng)
		} else {
			leaves, err = o.runRefinementIteration(ctx, job, parents, iteration, rng)
		}
		if err != nil {
			if berrors.KindOf(err) == berrors.Cancelled {
				o.finishCancelled(job)
			} else {
				o.finishError(job, err)
			}
			return
		}

		job.recordIteration(iteration, leaves)

		usage, cost := job.usageSnapshot()
		o.publish(job.ID, eventbus.TypeIterationComplete, IterationCompletePayload{
			Iteration:     iteration,
			TokenUsage:    usage,
			EstimatedCost: cost,
		})

		var survivors []Candidate
		for _, c := range leaves {
			if !c.Failed {
				survivors = append(survivors, c)
			}
		}
		keep := job.Config.KeepTop
		if keep > len(survivors) {
			keep = len(survivors)
		}
		parents = survivors[:keep] // leaves is already sorted by rank ascending, so survivors is too
	}

	job.setState(StateCompleted)
	winner := parents[0]
	usage, cost := job.usageSnapshot()
	o.publish(job.ID, eventbus.TypeComplete, CompletePayload{
		Winner:      WinnerPayload{Iteration: winner.Iteration, CandidateID: winner.CandidateID, Score: winner.TotalScore},
		TotalTokens: usage.Total,
		TotalCost:   cost,
	})
}

func (o *Orchestrator) finishCancelled(job *Job) {
	job.setState(StateCancelled)
	o.publish(job.ID, eventbus.TypeCancelled, nil)
}

func (o *Orchestrator) finishError(job *Job, err error) {
	job.setState(StateError)
	o.publish(job.ID, eventbus.TypeError, ErrorPayload{Message: err.Error(), Kind: string(berrors.KindOf(err))})
}

// runInitialExpansion builds beamWidth leaves all seeded from the job's
// original prompt.
func (o *Orchestrator) runInitialExpansion(ctx context.Context, job *Job, rng randSource) ([]Candidate, error) {
	n := job.Config.BeamWidth
	seeds := make([]leafSeed, n)
	for i := 0; i < n; i++ {
		seeds[i] = leafSeed{candidateID: i, whatSeed: job.Prompt, howSeed: job.Prompt}
	}
	return o.runLeafPipeline(ctx, job, 0, seeds, rng)
}

// runRefinementIteration builds beamWidth children distributed evenly across
// the kept parents and runs them through the same pipeline as expansion.
func (o *Orchestrator) runRefinementIteration(ctx context.Context, job *Job, parents []Candidate, iteration int, rng randSource) ([]Candidate, error) {
	seeds := o.buildChildSeeds(ctx, parents, job.Config.BeamWidth)
	return o.runLeafPipeline(ctx, job, iteration, seeds, rng)
}

// buildChildSeeds distributes beamWidth children across len(parents) kept
// candidates as evenly as possible, seeding each child with a critique of
// its parent (or the parent's own combined prompt if critique is
// unsupported).
func (o *Orchestrator) buildChildSeeds(ctx context.Context, parents []Candidate, beamWidth int) []leafSeed {
	m := len(parents)
	base := beamWidth / m
	remainder := beamWidth % m

	var seeds []leafSeed
	candidateID := 0
	for idx, parent := range parents {
		count := base
		if idx < remainder {
			count++
		}
		seedText := o.critiqueSeed(ctx, parent)
		parentID := parent.CandidateID
		for i := 0; i < count; i++ {
			seeds = append(seeds, leafSeed{candidateID: candidateID, parentID: &parentID, whatSeed: seedText, howSeed: seedText})
			candidateID++
		}
	}
	return seeds
}

// critiqueSeed asks the language capability to critique a parent's image
// against its own prompt, for use as the seed text of its children's
// WHAT/HOW re-expansion. Falls back to the parent's own combined prompt if
// the capability doesn't support critique, or if the call fails.
func (o *Orchestrator) critiqueSeed(ctx context.Context, parent Candidate) string {
	crit, ok := capability.SupportsCritique(o.language)
	if !ok {
		return parent.CombinedPrompt
	}
	v, err := o.withRetry(ctx, "language", func(ctx context.Context) (any, error) {
		return crit.GenerateCritique(ctx, parent.Image.Locator, parent.CombinedPrompt)
	})
	if err != nil {
		return parent.CombinedPrompt
	}
	return v.(capability.CritiqueResult).Critique
}

// runLeafPipeline refines, combines, generates images for, and scores every
// seed, then ranks the surviving leaves. It returns leaves sorted by rank
// ascending (failed leaves last), or an error if every leaf failed or the
// context was cancelled mid-iteration.
func (o *Orchestrator) runLeafPipeline(ctx context.Context, job *Job, iteration int, seeds []leafSeed, rng randSource) ([]Candidate, error) {
	o.publish(job.ID, eventbus.TypeStep, StepPayload{Stage: "expand", Status: "started"})
	var whats, hows map[int]refineOutcome
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		whats = o.refineDimension(ctx, job, seeds, "what", func(s leafSeed) string { return s.whatSeed })
	}()
	go func() {
		defer wg.Done()
		hows = o.refineDimension(ctx, job, seeds, "how", func(s leafSeed) string { return s.howSeed })
	}()
	wg.Wait()
	o.publish(job.ID, eventbus.TypeStep, StepPayload{Stage: "expand", Status: "completed"})

	o.publish(job.ID, eventbus.TypeStep, StepPayload{Stage: "combine", Status: "started"})
	combined := o.combineLeaves(ctx, job, seeds, whats, hows, int(job.Config.Descriptiveness), rng)
	o.publish(job.ID, eventbus.TypeStep, StepPayload{Stage: "combine", Status: "completed"})

	o.publish(job.ID, eventbus.TypeStep, StepPayload{Stage: "image", Status: "started"})
	images := o.generateImages(ctx, job, iteration, seeds, combined)
	o.publish(job.ID, eventbus.TypeStep, StepPayload{Stage: "image", Status: "completed"})

	leaves := make([]Candidate, 0, len(seeds))
	for _, s := range seeds {
		if ctx.Err() != nil {
			// Cancellation observed mid-iteration: stop emitting
			// candidate-complete events immediately. Work already
			// dispatched above is discarded, not awaited further.
			return nil, berrors.New(berrors.Cancelled, "iteration %d cancelled: %v", iteration, ctx.Err())
		}

		c := Candidate{Iteration: iteration, CandidateID: s.candidateID, ParentID: s.parentID}

		w, wOK := whats[s.candidateID]
		h, hOK := hows[s.candidateID]
		comb, combOK := combined[s.candidateID]
		img, imgOK := images[s.candidateID]

		job.addUsage("language", w.tokens, w.cost)
		job.addUsage("language", h.tokens, h.cost)
		if combOK {
			job.addUsage("language", comb.tokens, comb.cost)
		}
		if imgOK {
			job.addUsage("image", img.tokens, img.cost)
		}

		switch {
		case !wOK || w.failed:
			c.Failed, c.FailMsg = true, firstNonEmpty(w.failMsg, "generation failed")
		case !hOK || h.failed:
			c.Failed, c.FailMsg = true, firstNonEmpty(h.failMsg, "generation failed")
		case !combOK || comb.failed:
			c.Failed, c.FailMsg = true, firstNonEmpty(comb.failMsg, "generation failed")
		case !imgOK || img.failed:
			c.Failed, c.FailMsg = true, firstNonEmpty(img.failMsg, "generation failed")
		default:
			c.WhatPrompt = w.text
			c.HowPrompt = h.text
			c.CombinedPrompt = comb.text
			c.Image = img.image
			if eval, scoreTokens, scoreCost := o.scoreLeaf(ctx, comb.text, img.image); eval != nil {
				c.Evaluation = eval
				c.ComputeTotalScore(job.Config.Alpha)
				job.addUsage("vision", scoreTokens, scoreCost)
			}
		}

		leaves = append(leaves, c)
		o.publish(job.ID, eventbus.TypeCandidateComplete, candidateCompleteEvent(c))
	}

	ok, failed := splitByFailure(leaves)
	if len(ok) == 0 {
		return nil, berrors.New(berrors.AllLeavesFailed, "all %d leaves failed in iteration %d", len(leaves), iteration)
	}

	if err := o.rankLeaves(ctx, job, iteration, ok); err != nil {
		return nil, err
	}
	assignFailedRanks(ok, failed)

	all := append(append([]Candidate{}, ok...), failed...)
	sort.Slice(all, func(i, j int) bool { return all[i].Rank < all[j].Rank })

	order := make([]int, len(all))
	for i, c := range all {
		order[i] = c.CandidateID
	}
	o.publish(job.ID, eventbus.TypeRankingComplete, RankingCompletePayload{Iteration: iteration, Order: order})

	return all, nil
}

// rankLeaves runs the ranker over the surviving (non-failed) leaves of an
// iteration and writes back each leaf's Rank and Reason.
func (o *Orchestrator) rankLeaves(ctx context.Context, job *Job, iteration int, ok []Candidate) error {
	cands := make([]ranker.Candidate, len(ok))
	indexByID := make(map[string]int, len(ok))
	for i, c := range ok {
		id := strconv.Itoa(c.CandidateID)
		cands[i] = ranker.Candidate{ID: id, Locator: c.Image.Locator}
		indexByID[id] = i
	}

	comparator := ensemble.New(o.vision, o.limiters.Get("vision"), job.Config.RNGSeed)
	rk := ranker.New(o.vision, comparator)

	opts := ranker.Options{
		KeepTop:            job.Config.KeepTop,
		EnsembleSize:       job.Config.EnsembleSize,
		AllAtOnceThreshold: job.Config.AllAtOnceThreshold,
	}

	ranked, err := rk.Rank(ctx, cands, job.Prompt, opts, func(ev ranker.Event) {
		o.publish(job.ID, eventbus.TypeRankingComparison, RankingComparisonPayload{
			Iteration: iteration,
			IDA:       atoiOr(ev.IDA),
			IDB:       atoiOr(ev.IDB),
			Winner:    string(ev.Winner),
			Reason:    ev.Reason,
		})
	})
	if err != nil {
		return fmt.Errorf("ranking iteration %d: %w", iteration, err)
	}

	for _, r := range ranked {
		idx := indexByID[r.CandidateID]
		ok[idx].Rank = r.Rank
		ok[idx].Reason = r.Reason
	}
	return nil
}

func candidateCompleteEvent(c Candidate) CandidateCompletePayload {
	p := CandidateCompletePayload{
		Iteration:   c.Iteration,
		CandidateID: c.CandidateID,
		ParentID:    c.ParentID,
		WhatPrompt:  c.WhatPrompt,
		HowPrompt:   c.HowPrompt,
		Combined:    c.CombinedPrompt,
		Image:       ImageRef{URL: c.Image.Locator, LocalPath: c.Image.LocalPath},
		Failed:      c.Failed,
		TotalScore:  c.TotalScore,
	}
	if c.Evaluation != nil && c.Evaluation.Scored {
		alignment, aesthetic := c.Evaluation.AlignmentScore, c.Evaluation.AestheticScore
		p.AlignmentScore = &alignment
		p.AestheticScore = &aesthetic
	}
	return p
}

func splitByFailure(leaves []Candidate) (ok, failed []Candidate) {
	for _, c := range leaves {
		if c.Failed {
			failed = append(failed, c)
		} else {
			ok = append(ok, c)
		}
	}
	return ok, failed
}

// assignFailedRanks places every failed leaf after all surviving leaves,
// ordered deterministically by candidateId.
func assignFailedRanks(ok, failed []Candidate) {
	sort.Slice(failed, func(i, j int) bool { return failed[i].CandidateID < failed[j].CandidateID })
	base := len(ok)
	for i := range failed {
		failed[i].Rank = base + i + 1
		failed[i].Reason = "generation failed"
	}
}

func firstNonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func atoiOr(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
