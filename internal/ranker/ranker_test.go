package ranker

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamforge/beamforge/internal/capability"
	"github.com/beamforge/beamforge/internal/ensemble"
	"github.com/beamforge/beamforge/internal/graph"
)

// lowerIDWinsVision answers an all-at-once CompareImages call by ranking
// labels lexically, lowest first.
type lowerIDWinsVision struct{}

func (lowerIDWinsVision) CompareImages(ctx context.Context, items []capability.CompareItem, prompt string) (capability.CompareResult, error) {
	ranking := make([]capability.CompareRank, len(items))
	order := make([]string, len(items))
	for i, it := range items {
		order[i] = it.Label
	}
	// simple insertion sort, N is always small in tests
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && order[j] < order[j-1]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	rankOf := make(map[string]int, len(order))
	for i, id := range order {
		rankOf[id] = i + 1
	}
	for i, it := range items {
		ranking[i] = capability.CompareRank{Label: it.Label, Rank: rankOf[it.Label]}
	}
	return capability.CompareResult{Ranking: ranking}, nil
}
func (lowerIDWinsVision) MultiImageThreshold(ctx context.Context) (int, error) { return 8, nil }
func (lowerIDWinsVision) Status(ctx context.Context) (capability.Status, error) {
	return capability.Status{}, nil
}

// narrowVision behaves like lowerIDWinsVision but reports a MultiImageThreshold
// lower than some tests' configured AllAtOnceThreshold, to exercise Rank
// clamping the all-at-once strategy to what the capability actually supports.
type narrowVision struct {
	lowerIDWinsVision
	max int
}

func (v narrowVision) MultiImageThreshold(ctx context.Context) (int, error) { return v.max, nil }

// lowerIDWinsComparator is a fake Comparator (not ensemble.Comparator) used
// for the all-pairs and champion-tournament paths: the lexically lower
// candidate id always wins, deterministically, and every call is counted.
type lowerIDWinsComparator struct {
	calls int
}

func (c *lowerIDWinsComparator) Compare(ctx context.Context, prompt string, pair ensemble.Pair, k int) ensemble.Result {
	c.calls++
	if pair.IDA < pair.IDB {
		return ensemble.Result{Winner: graph.WinnerA}
	}
	return ensemble.Result{Winner: graph.WinnerB}
}

func candidatesN(n int) []Candidate {
	out := make([]Candidate, n)
	for i := 0; i < n; i++ {
		out[i] = Candidate{ID: fmt.Sprintf("%d", i), Locator: fmt.Sprintf("loc-%d", i)}
	}
	return out
}

func TestRank_SingleCandidate(t *testing.T) {
	r := New(lowerIDWinsVision{}, &lowerIDWinsComparator{})
	ranked, err := r.Rank(context.Background(), candidatesN(1), "prompt", Options{AllAtOnceThreshold: 4}, nil)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, 1, ranked[0].Rank)
}

func TestRank_AllAtOnce_N4(t *testing.T) {
	vision := lowerIDWinsVision{}
	r := New(vision, &lowerIDWinsComparator{})

	ranked, err := r.Rank(context.Background(), candidatesN(4), "prompt", Options{AllAtOnceThreshold: 4, EnsembleSize: 3}, nil)
	require.NoError(t, err)
	require.Len(t, ranked, 4)
	for i, rk := range ranked {
		assert.Equal(t, fmt.Sprintf("%d", i), rk.CandidateID)
		assert.Equal(t, i+1, rk.Rank)
	}
}

func TestRank_AllAtOnce_ClampedByCapabilityMultiImageThreshold(t *testing.T) {
	// AllAtOnceThreshold: 4 would normally route N=4 through rankAllAtOnce,
	// but the capability only supports comparing 2 at a time, so Rank must
	// fall back to the all-pairs strategy instead.
	comparator := &lowerIDWinsComparator{}
	r := New(narrowVision{max: 2}, comparator)

	ranked, err := r.Rank(context.Background(), candidatesN(4), "prompt", Options{AllAtOnceThreshold: 4, EnsembleSize: 3}, nil)
	require.NoError(t, err)
	require.Len(t, ranked, 4)
	assert.Equal(t, 6, comparator.calls, "C(4,2) = 6 real comparisons, since the all-at-once path was never taken")
}

func TestRank_AllPairs_N5_ExactlyCN2Comparisons(t *testing.T) {
	comparator := &lowerIDWinsComparator{}
	r := New(lowerIDWinsVision{}, comparator)

	events := 0
	ranked, err := r.Rank(context.Background(), candidatesN(5), "prompt", Options{AllAtOnceThreshold: 4, EnsembleSize: 3}, func(Event) { events++ })
	require.NoError(t, err)
	require.Len(t, ranked, 5)

	assert.Equal(t, 10, comparator.calls, "C(5,2) = 10")
	assert.Equal(t, 10, events)
	for i, rk := range ranked {
		assert.Equal(t, fmt.Sprintf("%d", i), rk.CandidateID)
		assert.Equal(t, i+1, rk.Rank)
	}
}

func TestRank_AllPairs_N8_ExactlyCN2Comparisons(t *testing.T) {
	// N=8 falls in the all-pairs strategy band (4 < N <= 8), requiring the
	// full C(8,2)=28 comparisons.
	comparator := &lowerIDWinsComparator{}
	r := New(lowerIDWinsVision{}, comparator)

	ranked, err := r.Rank(context.Background(), candidatesN(8), "prompt", Options{AllAtOnceThreshold: 4, EnsembleSize: 3}, nil)
	require.NoError(t, err)
	require.Len(t, ranked, 8)
	assert.Equal(t, 28, comparator.calls, "C(8,2) = 28")
}

func TestRank_ChampionTournament_ReducesComparisonsBelowNaive(t *testing.T) {
	comparator := &lowerIDWinsComparator{}
	r := New(lowerIDWinsVision{}, comparator)

	const n, keepTop = 9, 2
	ranked, err := r.Rank(context.Background(), candidatesN(n), "prompt", Options{AllAtOnceThreshold: 4, EnsembleSize: 3, KeepTop: keepTop}, nil)
	require.NoError(t, err)
	require.Len(t, ranked, n)

	assert.Equal(t, "0", ranked[0].CandidateID)
	assert.Equal(t, "1", ranked[1].CandidateID)

	tNaive := 0
	for i := 0; i < keepTop; i++ {
		tNaive += n - 1 - i
	}
	assert.LessOrEqual(t, comparator.calls, tNaive)
	assert.Less(t, comparator.calls, (n*(n-1))/2, "strictly fewer than all-pairs would need")
}

func TestRank_ChampionTournament_FullOrderWhenKeepTopUnset(t *testing.T) {
	comparator := &lowerIDWinsComparator{}
	r := New(lowerIDWinsVision{}, comparator)

	ranked, err := r.Rank(context.Background(), candidatesN(9), "prompt", Options{AllAtOnceThreshold: 4, EnsembleSize: 3}, nil)
	require.NoError(t, err)
	require.Len(t, ranked, 9)
	for i, rk := range ranked {
		assert.Equal(t, i+1, rk.Rank)
	}
}

func TestRank_NeverMutatesInputCandidates(t *testing.T) {
	cands := candidatesN(4)
	cpy := append([]Candidate{}, cands...)

	r := New(lowerIDWinsVision{}, &lowerIDWinsComparator{})
	_, err := r.Rank(context.Background(), cands, "prompt", Options{AllAtOnceThreshold: 4}, nil)
	require.NoError(t, err)

	assert.Equal(t, cpy, cands)
}

// tieComparator always reports a tie, to exercise the deterministic
// candidateId-asc fallback ordering.
type tieComparator struct{}

func (tieComparator) Compare(ctx context.Context, prompt string, pair ensemble.Pair, k int) ensemble.Result {
	return ensemble.Result{Winner: graph.WinnerTie}
}

func TestRank_AllTiesOrderedByCandidateIDAscending(t *testing.T) {
	r := New(lowerIDWinsVision{}, tieComparator{})

	ranked, err := r.Rank(context.Background(), candidatesN(5), "prompt", Options{AllAtOnceThreshold: 4, EnsembleSize: 1}, nil)
	require.NoError(t, err)
	for i, rk := range ranked {
		assert.Equal(t, fmt.Sprintf("%d", i), rk.CandidateID)
		assert.Equal(t, i+1, rk.Rank)
	}
}
