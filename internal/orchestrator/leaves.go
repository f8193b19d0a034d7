package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/beamforge/beamforge/internal/bundler"
	"github.com/beamforge/beamforge/internal/capability"
	berrors "github.com/beamforge/beamforge/internal/errors"
	"github.com/beamforge/beamforge/internal/eventbus"
)

// leafSeed is one child-to-be before any language or image call has run.
type leafSeed struct {
	candidateID int
	parentID    *int
	whatSeed    string
	howSeed     string
}

// refineOutcome is the result of refining a single WHAT or HOW facet.
type refineOutcome struct {
	text    string
	failed  bool
	failMsg string
	tokens  int
	cost    float64
}

// refineDimension bundles seeds of one dimension ("what" or "how") through
// C5 and submits each resulting batch to the language capability, preferring
// a native batch call and falling back to per-operation calls — the
// capability either supports batch refinement or is invoked per-operation,
// and the orchestrator abstracts over both.
func (o *Orchestrator) refineDimension(ctx context.Context, job *Job, seeds []leafSeed, dimension string, textOf func(leafSeed) string) map[int]refineOutcome {
	ops := make([]bundler.Operation, len(seeds))
	kind := bundler.KindExpandWhat
	if dimension == "how" {
		kind = bundler.KindExpandHow
	}
	for i, s := range seeds {
		ops[i] = bundler.Operation{ID: fmt.Sprintf("%s-%d", dimension, s.candidateID), Kind: kind, Payload: opPayload{candidateID: s.candidateID, text: textOf(s)}}
	}
	bundle := bundler.Bundle(ops, job.Config.MaxBatchSize)

	o.publish(job.ID, eventbus.TypeOperation, OperationPayload{Kind: string(kind), Count: len(ops)})

	results := make(map[int]refineOutcome, len(seeds))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, batch := range bundle.Batches {
		wg.Add(1)
		go func(batch bundler.Batch) {
			defer wg.Done()
			o.refineBatch(ctx, dimension, job.Config.Temperature, batch, results, &mu)
		}(batch)
	}
	wg.Wait()
	return results
}

type opPayload struct {
	candidateID int
	text        string
}

func (o *Orchestrator) refineBatch(ctx context.Context, dimension string, temperature float64, batch bundler.Batch, results map[int]refineOutcome, mu *sync.Mutex) {
	opts := capability.RefineOptions{Dimension: dimension, Temperature: temperature}

	if batcher, ok := capability.SupportsBatchRefine(o.language); ok {
		texts := make([]string, len(batch.Operations))
		for i, op := range batch.Operations {
			texts[i] = op.Payload.(opPayload).text
		}

		v, err := o.withRetry(ctx, "language", func(ctx context.Context) (any, error) {
			return batcher.RefinePrompts(ctx, texts, opts)
		})
		if err == nil {
			rs := v.([]capability.RefineResult)
			mu.Lock()
			for i, op := range batch.Operations {
				cid := op.Payload.(opPayload).candidateID
				if i >= len(rs) {
					results[cid] = refineOutcome{failed: true, failMsg: "batch refine: result count mismatch"}
					continue
				}
				tokens, cost := extractUsage(rs[i].Metadata)
				results[cid] = refineOutcome{text: rs[i].RefinedText, tokens: tokens, cost: cost}
			}
			mu.Unlock()
			return
		}

		if berrors.KindOf(err) != berrors.ContentPolicy {
			mu.Lock()
			for _, op := range batch.Operations {
				results[op.Payload.(opPayload).candidateID] = refineOutcome{failed: true, failMsg: err.Error()}
			}
			mu.Unlock()
			return
		}
		// A batch-wide content-policy rejection can't be attributed to a
		// single operation; degrade to per-operation calls so only the
		// actually offending text is refined-and-retried.
	}

	var wg sync.WaitGroup
	for _, op := range batch.Operations {
		wg.Add(1)
		go func(op bundler.Operation) {
			defer wg.Done()
			p := op.Payload.(opPayload)
			out := o.refineSingle(ctx, p.text, dimension, temperature)
			mu.Lock()
			results[p.candidateID] = out
			mu.Unlock()
		}(op)
	}
	wg.Wait()
}

// refineSingle calls RefinePrompt once, applying a bounded rewrite-and-retry
// loop for content-policy rejections and the orchestrator's normal
// retry-with-backoff for transient capability failures.
func (o *Orchestrator) refineSingle(ctx context.Context, text, dimension string, temperature float64) refineOutcome {
	for attempt := 0; attempt <= o.retry.contentPolicyRetries; attempt++ {
		v, err := o.withRetry(ctx, "language", func(ctx context.Context) (any, error) {
			return o.language.RefinePrompt(ctx, text, capability.RefineOptions{Dimension: dimension, Temperature: temperature})
		})
		if err == nil {
			r := v.(capability.RefineResult)
			tokens, cost := extractUsage(r.Metadata)
			return refineOutcome{text: r.RefinedText, tokens: tokens, cost: cost}
		}
		if berrors.KindOf(err) != berrors.ContentPolicy {
			return refineOutcome{failed: true, failMsg: err.Error()}
		}
		text = "rephrase to satisfy content policy: " + text
	}
	return refineOutcome{failed: true, failMsg: "content-policy retry budget exceeded"}
}

// combineOutcome is the result of merging a leaf's WHAT and HOW facets.
type combineOutcome struct {
	text    string
	failed  bool
	failMsg string
	tokens  int
	cost    float64
}

// combineLeaves pairs WHAT[i] with HOW[i] for every seed that survived
// refinement and issues the combine operations through C5, per-operation
// (no provider in this domain offers native combine batching).
func (o *Orchestrator) combineLeaves(ctx context.Context, job *Job, seeds []leafSeed, whats, hows map[int]refineOutcome, descriptiveness int, rng randSource) map[int]combineOutcome {
	var ops []bundler.Operation
	for _, s := range seeds {
		w, wOK := whats[s.candidateID]
		h, hOK := hows[s.candidateID]
		if !wOK || w.failed || !hOK || h.failed {
			continue
		}
		ops = append(ops, bundler.Operation{ID: fmt.Sprintf("combine-%d", s.candidateID), Kind: bundler.KindCombine, Payload: s.candidateID})
	}
	bundle := bundler.Bundle(ops, job.Config.MaxBatchSize)
	o.publish(job.ID, eventbus.TypeOperation, OperationPayload{Kind: string(bundler.KindCombine), Count: len(ops)})

	results := make(map[int]combineOutcome, len(ops))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, batch := range bundle.Batches {
		for _, op := range batch.Operations {
			wg.Add(1)
			go func(cid int) {
				defer wg.Done()
				level := descriptiveness
				if level == int(DescriptivenessRandom) {
					level = 1 + rng.Intn(3)
				}
				out := o.combineSingle(ctx, whats[cid].text, hows[cid].text, level)
				mu.Lock()
				results[cid] = out
				mu.Unlock()
			}(op.Payload.(int))
		}
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) combineSingle(ctx context.Context, what, how string, descriptiveness int) combineOutcome {
	for attempt := 0; attempt <= o.retry.contentPolicyRetries; attempt++ {
		v, err := o.withRetry(ctx, "language", func(ctx context.Context) (any, error) {
			return o.language.CombinePrompts(ctx, what, how, capability.CombineOptions{Descriptiveness: descriptiveness})
		})
		if err == nil {
			r := v.(capability.CombineResult)
			tokens, cost := extractUsage(r.Metadata)
			return combineOutcome{text: r.CombinedText, tokens: tokens, cost: cost}
		}
		if berrors.KindOf(err) != berrors.ContentPolicy {
			return combineOutcome{failed: true, failMsg: err.Error()}
		}
		what = "rephrase to satisfy content policy: " + what
	}
	return combineOutcome{failed: true, failMsg: "content-policy retry budget exceeded"}
}

// imageOutcome is the result of generating a single leaf's image.
type imageOutcome struct {
	image   Image
	failed  bool
	failMsg string
	tokens  int
	cost    float64
}

// generateImages produces one image per surviving leaf, preferring a native
// batch call when the image capability supports it.
func (o *Orchestrator) generateImages(ctx context.Context, job *Job, iteration int, seeds []leafSeed, combined map[int]combineOutcome) map[int]imageOutcome {
	type pending struct {
		candidateID int
		prompt      string
	}
	var work []pending
	for _, s := range seeds {
		c, ok := combined[s.candidateID]
		if !ok || c.failed {
			continue
		}
		work = append(work, pending{candidateID: s.candidateID, prompt: c.text})
	}

	results := make(map[int]imageOutcome, len(work))
	if len(work) == 0 {
		return results
	}

	if batcher, ok := capability.SupportsBatch(o.image); ok {
		prompts := make([]string, len(work))
		opts := make([]capability.ImageOptions, len(work))
		for i, w := range work {
			prompts[i] = w.prompt
			opts[i] = o.imageOptionsFor(job, iteration, w.candidateID)
		}
		v, err := o.withRetry(ctx, "image", func(ctx context.Context) (any, error) {
			return batcher.GenerateImages(ctx, prompts, opts)
		})
		if err == nil {
			rs := v.([]capability.ImageResult)
			for i, w := range work {
				if i >= len(rs) {
					results[w.candidateID] = imageOutcome{failed: true, failMsg: "batch image: result count mismatch"}
					continue
				}
				tokens, cost := extractUsage(rs[i].Metadata)
				results[w.candidateID] = imageOutcome{image: Image{Locator: rs[i].Locator, LocalPath: rs[i].LocalPath}, tokens: tokens, cost: cost}
			}
			return results
		}
		if berrors.KindOf(err) != berrors.ContentPolicy {
			for _, w := range work {
				results[w.candidateID] = imageOutcome{failed: true, failMsg: err.Error()}
			}
			return results
		}
		// fall through to per-leaf generation on a batch-wide content-policy
		// rejection, same rationale as refineBatch.
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, w := range work {
		wg.Add(1)
		go func(w pending) {
			defer wg.Done()
			out := o.generateSingleImage(ctx, w.prompt, o.imageOptionsFor(job, iteration, w.candidateID))
			mu.Lock()
			results[w.candidateID] = out
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) imageOptionsFor(job *Job, iteration, candidateID int) capability.ImageOptions {
	modal := map[string]any{}
	for k, v := range job.Config.ModalOptions {
		modal[k] = v
	}
	return capability.ImageOptions{Iteration: iteration, CandidateID: candidateID, Modal: modal, FaceFix: job.Config.FaceFix}
}

func (o *Orchestrator) generateSingleImage(ctx context.Context, prompt string, opts capability.ImageOptions) imageOutcome {
	if neg, ok := capability.SupportsNegativePrompt(o.language); ok {
		if v, err := o.withRetry(ctx, "language", func(ctx context.Context) (any, error) {
			return neg.GenerateNegativePrompt(ctx, prompt)
		}); err == nil {
			r := v.(capability.NegativePromptResult)
			opts.Modal["negativePrompt"] = r.NegativeText
		}
	}

	for attempt := 0; attempt <= o.retry.contentPolicyRetries; attempt++ {
		v, err := o.withRetry(ctx, "image", func(ctx context.Context) (any, error) {
			return o.image.GenerateImage(ctx, prompt, opts)
		})
		if err == nil {
			r := v.(capability.ImageResult)
			tokens, cost := extractUsage(r.Metadata)
			return imageOutcome{image: Image{Locator: r.Locator, LocalPath: r.LocalPath}, tokens: tokens, cost: cost}
		}
		if berrors.KindOf(err) != berrors.ContentPolicy {
			return imageOutcome{failed: true, failMsg: err.Error()}
		}
		prompt = "rephrase to satisfy content policy: " + prompt
	}
	return imageOutcome{failed: true, failMsg: "content-policy retry budget exceeded"}
}

// scoreLeaf best-effort scores a single generated image; failures degrade to
// an unscored candidate rather than failing the leaf (vision scoring is
// optional).
func (o *Orchestrator) scoreLeaf(ctx context.Context, prompt string, img Image) (*Evaluation, int, float64) {
	analyzer, ok := capability.SupportsAnalysis(o.vision)
	if !ok {
		return nil, 0, 0
	}
	v, err := o.withRetry(ctx, "vision", func(ctx context.Context) (any, error) {
		return analyzer.AnalyzeImage(ctx, img.Locator, prompt)
	})
	if err != nil {
		return nil, 0, 0
	}
	r := v.(capability.AnalysisResult)
	tokens, cost := extractUsage(r.Metadata)
	return &Evaluation{AlignmentScore: r.AlignmentScore, AestheticScore: r.AestheticScore, Scored: true}, tokens, cost
}

// randSource is the minimal RNG surface leaf generation needs, satisfied by
// *rand.Rand and by safeRand.
type randSource interface {
	Intn(n int) int
}

// safeRand wraps a *rand.Rand with a mutex: combineLeaves calls Intn from one
// goroutine per batch operation, and *rand.Rand is not safe for concurrent
// use by multiple goroutines (unlike ensemble.Comparator's rngMu-guarded
// rng, nothing here serializes these calls otherwise).
type safeRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSafeRand(seed int64) *safeRand {
	return &safeRand{rng: rand.New(rand.NewSource(seed))}
}

func (s *safeRand) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}
