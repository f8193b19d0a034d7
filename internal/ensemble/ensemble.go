// Package ensemble implements the ensemble comparator: K independent,
// concurrent vision comparisons of a single pair, voted into one majority
// winner with position-bias mitigation via randomized A/B swapping.
package ensemble

import (
	"context"
	"math/rand"
	"sync"

	"github.com/beamforge/beamforge/internal/capability"
	"github.com/beamforge/beamforge/internal/graph"
	"github.com/beamforge/beamforge/internal/limiter"
)

// Pair identifies the two candidates being compared and their image
// locators.
type Pair struct {
	IDA, IDB           string
	LocatorA, LocatorB string
}

// Result is the ensemble's voted outcome for one pair.
type Result struct {
	Winner     graph.Winner
	RanksA     graph.Ranks
	RanksB     graph.Ranks
	Degraded   bool // true if K/2+1 outcomes could not be reached after retries
	Trials     int  // outcomes actually collected
	SwapCounts [2]int // [timesAWasSlot1, timesAWasSlot2], for position-bias auditing
}

// Comparator runs ensembles of K independent vision comparisons per pair,
// funneled through the vision capability's limiter.
type Comparator struct {
	vision  capability.VisionCapability
	limiter *limiter.Limiter
	rng     *rand.Rand
	rngMu   sync.Mutex
}

// New builds a Comparator. rngSeed makes the position-bias swap order
// reproducible for tests.
func New(vision capability.VisionCapability, lim *limiter.Limiter, rngSeed int64) *Comparator {
	return &Comparator{
		vision:  vision,
		limiter: lim,
		rng:     rand.New(rand.NewSource(rngSeed)),
	}
}

type trialOutcome struct {
	winner     graph.Winner
	ranksTrueA graph.Ranks
	ranksTrueB graph.Ranks
	ok         bool
}

// Compare runs K concurrent trials of pair, each independently presenting
// (A,B) or (B,A) to the vision capability, maps the returned labels back to
// true candidate ids, and returns the majority vote. A trial that errors is
// retried once with a fresh trial slot. If fewer than K/2+1 outcomes are
// collected after retries, Compare returns a tie with Degraded=true.
func (c *Comparator) Compare(ctx context.Context, prompt string, pair Pair, k int) Result {
	if k < 1 {
		k = 1
	}

	outcomes := make([]trialOutcome, k)
	swaps := make([]bool, k)
	for i := range swaps {
		swaps[i] = c.swapDecision(i, k)
	}

	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = c.runTrial(ctx, prompt, pair, swaps[i])
			if !outcomes[i].ok {
				// retry once with a fresh trial slot (a newly chosen swap).
				outcomes[i] = c.runTrial(ctx, prompt, pair, c.swapDecision(i+k, k))
			}
		}(i)
	}
	wg.Wait()

	return c.tally(outcomes, swaps, k)
}

// swapDecision reports whether trial i presents (B,A) instead of (A,B). It
// guarantees each candidate occupies the "A" slot at least once when k is
// even, and both slots for at least floor(k/3) trials, by alternating deterministically and mixing
// in the seeded RNG for any remainder.
func (c *Comparator) swapDecision(i, k int) bool {
	if k >= 2 && i < k-k%2 {
		return i%2 == 1
	}
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return c.rng.Intn(2) == 1
}

func (c *Comparator) runTrial(ctx context.Context, prompt string, pair Pair, swap bool) trialOutcome {
	labelA, labelB := "A", "B"
	locA, locB := pair.LocatorA, pair.LocatorB
	if swap {
		locA, locB = locB, locA
	}

	items := []capability.CompareItem{{Label: labelA, Locator: locA}, {Label: labelB, Locator: locB}}

	v, err := c.limiter.Execute(ctx, func(ctx context.Context) (any, error) {
		return c.vision.CompareImages(ctx, items, prompt)
	})
	if err != nil {
		return trialOutcome{ok: false}
	}
	result := v.(capability.CompareResult)

	var rankLabelA, rankLabelB capability.CompareRank
	for _, r := range result.Ranking {
		switch r.Label {
		case labelA:
			rankLabelA = r
		case labelB:
			rankLabelB = r
		}
	}

	winner := graph.WinnerTie
	switch {
	case rankLabelA.Rank != 0 && rankLabelB.Rank != 0 && rankLabelA.Rank < rankLabelB.Rank:
		winner = graph.WinnerA
	case rankLabelA.Rank != 0 && rankLabelB.Rank != 0 && rankLabelB.Rank < rankLabelA.Rank:
		winner = graph.WinnerB
	}

	// Map the (possibly swapped) label outcome back to true A/B.
	trueWinner := winner
	ranksTrueA := toRanks(rankLabelA)
	ranksTrueB := toRanks(rankLabelB)
	if swap {
		switch winner {
		case graph.WinnerA:
			trueWinner = graph.WinnerB
		case graph.WinnerB:
			trueWinner = graph.WinnerA
		}
		ranksTrueA, ranksTrueB = toRanks(rankLabelB), toRanks(rankLabelA)
	}

	return trialOutcome{winner: trueWinner, ranksTrueA: ranksTrueA, ranksTrueB: ranksTrueB, ok: true}
}

func toRanks(r capability.CompareRank) graph.Ranks {
	return graph.Ranks{Alignment: r.Alignment, Aesthetic: r.Aesthetic, Combined: r.Combined}
}

func (c *Comparator) tally(outcomes []trialOutcome, swaps []bool, k int) Result {
	var aVotes, bVotes, tieVotes, collected int
	var lastRanksA, lastRanksB graph.Ranks
	aSlot, bSlot := 0, 0

	for i, o := range outcomes {
		if swaps[i] {
			bSlot++
		} else {
			aSlot++
		}
		if !o.ok {
			continue
		}
		collected++
		switch o.winner {
		case graph.WinnerA:
			aVotes++
		case graph.WinnerB:
			bVotes++
		default:
			tieVotes++
		}
		if o.ranksTrueA != (graph.Ranks{}) || o.ranksTrueB != (graph.Ranks{}) {
			lastRanksA, lastRanksB = o.ranksTrueA, o.ranksTrueB
		}
	}

	needed := k/2 + 1
	res := Result{Trials: collected, RanksA: lastRanksA, RanksB: lastRanksB, SwapCounts: [2]int{aSlot, bSlot}}

	if collected < needed {
		res.Winner = graph.WinnerTie
		res.Degraded = true
		return res
	}

	switch {
	case aVotes > bVotes && aVotes > tieVotes:
		res.Winner = graph.WinnerA
	case bVotes > aVotes && bVotes > tieVotes:
		res.Winner = graph.WinnerB
	default:
		// No strict majority (including tie-plurality) resolves to tie.
		res.Winner = graph.WinnerTie
	}
	return res
}
