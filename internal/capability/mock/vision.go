package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/beamforge/beamforge/internal/capability"
)

// Vision is a deterministic VisionCapability. Rankings are derived from a
// per-locator score drawn from the seeded RNG the first time each locator is
// seen, so repeated comparisons involving the same image are stable.
type Vision struct {
	mu        sync.Mutex
	rng       *rand.Rand
	scores    map[string]float64
	threshold int

	// Analysis gates whether this instance additionally satisfies
	// AnalysisCapability.
	Analysis bool
}

// NewVision builds a Vision provider seeded with seed. threshold is the
// value MultiImageThreshold reports.
func NewVision(seed int64, threshold int) *Vision {
	if threshold < 2 {
		threshold = 2
	}
	return &Vision{
		rng:       rand.New(rand.NewSource(seed)),
		scores:    make(map[string]float64),
		threshold: threshold,
	}
}

func (v *Vision) scoreFor(locator string) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.scores[locator]; ok {
		return s
	}
	s := v.rng.Float64()
	v.scores[locator] = s
	return s
}

func (v *Vision) CompareImages(ctx context.Context, items []capability.CompareItem, prompt string) (capability.CompareResult, error) {
	select {
	case <-ctx.Done():
		return capability.CompareResult{}, ctx.Err()
	default:
	}

	type scored struct {
		item  capability.CompareItem
		score float64
	}
	scoredItems := make([]scored, len(items))
	for i, it := range items {
		scoredItems[i] = scored{item: it, score: v.scoreFor(it.Locator)}
	}
	sort.SliceStable(scoredItems, func(i, j int) bool {
		return scoredItems[i].score > scoredItems[j].score
	})

	ranking := make([]capability.CompareRank, len(scoredItems))
	for i, s := range scoredItems {
		ranking[i] = capability.CompareRank{
			Label:    s.item.Label,
			Rank:     i + 1,
			Reason:   "mock comparison by deterministic score",
			Combined: i + 1,
		}
	}
	return capability.CompareResult{Ranking: ranking}, nil
}

func (v *Vision) MultiImageThreshold(ctx context.Context) (int, error) {
	return v.threshold, nil
}

func (v *Vision) Status(ctx context.Context) (capability.Status, error) {
	return capability.Status{ModelLoaded: true, Version: "mock-vision-1"}, nil
}

// AnalyzeImage implements capability.AnalysisCapability when v.Analysis is
// true, deriving both scores from the same per-locator seed.
func (v *Vision) AnalyzeImage(ctx context.Context, locator, prompt string) (capability.AnalysisResult, error) {
	if !v.Analysis {
		return capability.AnalysisResult{}, fmt.Errorf("mock vision: analysis not enabled")
	}
	s := v.scoreFor(locator)
	return capability.AnalysisResult{AlignmentScore: s * 100, AestheticScore: s * 10}, nil
}

var (
	_ capability.VisionCapability   = (*Vision)(nil)
	_ capability.AnalysisCapability = (*Vision)(nil)
)
