// Package mock provides deterministic, seedable capability implementations
// that stand in for real language/image/vision providers in tests and local
// runs, so the orchestrator's beam-search logic can be exercised without a
// network dependency.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/beamforge/beamforge/internal/capability"
)

// Language is a deterministic LanguageCapability: every output is a
// reproducible function of its input and an internal seeded RNG, so two
// Language instances constructed with the same seed produce identical
// sequences of refinements and combines.
type Language struct {
	mu  sync.Mutex
	rng *rand.Rand

	// Critique and NegativePrompt gate whether this instance additionally
	// satisfies CritiqueCapability / NegativePromptCapability, so tests can
	// probe the orchestrator's optional-extension handling both ways.
	Critique       bool
	NegativePrompt bool
	Batch          bool
}

// NewLanguage builds a Language seeded with seed. Pass the same seed across
// runs for byte-identical output sequences.
func NewLanguage(seed int64) *Language {
	return &Language{rng: rand.New(rand.NewSource(seed))}
}

func (l *Language) RefinePrompt(ctx context.Context, text string, opts capability.RefineOptions) (capability.RefineResult, error) {
	select {
	case <-ctx.Done():
		return capability.RefineResult{}, ctx.Err()
	default:
	}

	l.mu.Lock()
	suffix := l.rng.Intn(1000)
	l.mu.Unlock()

	return capability.RefineResult{
		RefinedText: fmt.Sprintf("%s (refined-%s-%d)", text, opts.Dimension, suffix),
		Metadata:    map[string]any{"dimension": opts.Dimension},
	}, nil
}

func (l *Language) CombinePrompts(ctx context.Context, what, how string, opts capability.CombineOptions) (capability.CombineResult, error) {
	select {
	case <-ctx.Done():
		return capability.CombineResult{}, ctx.Err()
	default:
	}

	return capability.CombineResult{
		CombinedText: fmt.Sprintf("[d%d] %s | %s", opts.Descriptiveness, what, how),
	}, nil
}

func (l *Language) Status(ctx context.Context) (capability.Status, error) {
	return capability.Status{ModelLoaded: true, Version: "mock-language-1"}, nil
}

// GenerateCritique implements capability.CritiqueCapability when l.Critique
// is true.
func (l *Language) GenerateCritique(ctx context.Context, imageLocator, prompt string) (capability.CritiqueResult, error) {
	if !l.Critique {
		return capability.CritiqueResult{}, fmt.Errorf("mock language: critique not enabled")
	}
	return capability.CritiqueResult{Critique: fmt.Sprintf("critique of %s against %q", imageLocator, prompt)}, nil
}

// GenerateNegativePrompt implements capability.NegativePromptCapability when
// l.NegativePrompt is true.
func (l *Language) GenerateNegativePrompt(ctx context.Context, positive string) (capability.NegativePromptResult, error) {
	if !l.NegativePrompt {
		return capability.NegativePromptResult{}, fmt.Errorf("mock language: negative prompt not enabled")
	}
	return capability.NegativePromptResult{NegativeText: "not(" + positive + ")"}, nil
}

// RefinePrompts implements capability.BatchRefineCapability when l.Batch is
// true, refining every text in one call.
func (l *Language) RefinePrompts(ctx context.Context, texts []string, opts capability.RefineOptions) ([]capability.RefineResult, error) {
	if !l.Batch {
		return nil, fmt.Errorf("mock language: batch refine not enabled")
	}
	results := make([]capability.RefineResult, len(texts))
	for i, text := range texts {
		r, err := l.RefinePrompt(ctx, text, opts)
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

var (
	_ capability.LanguageCapability       = (*Language)(nil)
	_ capability.CritiqueCapability       = (*Language)(nil)
	_ capability.NegativePromptCapability = (*Language)(nil)
	_ capability.BatchRefineCapability    = (*Language)(nil)
)
