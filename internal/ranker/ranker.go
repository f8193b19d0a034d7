// Package ranker implements the comparative ranker: it produces a
// total order over N candidates by combining the ensemble comparator
// and the comparison graph, choosing an all-at-once, all-pairs, or
// champion-tournament strategy based on N.
package ranker

import (
	"context"
	"fmt"
	"sort"

	"github.com/beamforge/beamforge/internal/capability"
	"github.com/beamforge/beamforge/internal/ensemble"
	"github.com/beamforge/beamforge/internal/graph"
)

// Candidate is the minimal view of a leaf the ranker needs: its identity and
// its generated image's locator.
type Candidate struct {
	ID      string
	Locator string
}

// Ranked is one entry of the ranker's output, rank 1 = best.
type Ranked struct {
	CandidateID string
	Rank        int
	Reason      string
	Wins        int
	Losses      int
	AvgScores   graph.Stats
}

// Options configures a single ranking call.
type Options struct {
	KeepTop            int
	EnsembleSize       int
	AllAtOnceThreshold int
}

// Comparator is the subset of ensemble.Comparator's behavior the ranker
// depends on, so tests can substitute a fake.
type Comparator interface {
	Compare(ctx context.Context, prompt string, pair ensemble.Pair, k int) ensemble.Result
}

// Ranker produces a total order over a set of leaf candidates for one
// iteration. It owns one fresh comparison graph per call.
type Ranker struct {
	vision     capability.VisionCapability
	comparator Comparator
}

// New builds a Ranker backed by vision (used for the all-at-once path) and
// comparator (used for pairwise ensemble comparisons in the tournament
// paths).
func New(vision capability.VisionCapability, comparator Comparator) *Ranker {
	return &Ranker{vision: vision, comparator: comparator}
}

// Event is emitted for each real (non-inferred) pairwise comparison the
// ranker issues, for callers that want to relay ranking-comparison events
// as they happen.
type Event struct {
	IDA, IDB string
	Winner   graph.Winner
	Reason   string
}

// Rank orders candidates for prompt, using opts to choose and bound the
// comparison strategy. onCompare, if non-nil, is invoked for every real
// comparison issued (not for inferred ones). Rank never mutates candidates.
func (r *Ranker) Rank(ctx context.Context, candidates []Candidate, prompt string, opts Options, onCompare func(Event)) ([]Ranked, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) == 1 {
		return []Ranked{{CandidateID: candidates[0].ID, Rank: 1, Reason: "only candidate"}}, nil
	}

	g := graph.New()
	n := len(candidates)

	switch {
	case n <= r.allAtOnceLimit(ctx, opts.AllAtOnceThreshold):
		if err := r.rankAllAtOnce(ctx, candidates, prompt, g, onCompare); err != nil {
			return nil, err
		}
		return r.orderByGraph(candidates, g, cliqueReason), nil

	case n <= 8:
		r.rankAllPairs(ctx, candidates, prompt, opts.EnsembleSize, g, onCompare)
		return r.orderByGraph(candidates, g, tournamentReason), nil

	default:
		return r.rankChampionTournament(ctx, candidates, prompt, opts, g, onCompare), nil
	}
}

// allAtOnceLimit bounds the configured AllAtOnceThreshold by the vision
// capability's own reported MultiImageThreshold, so configuration can never
// push more candidates into a single all-at-once call than the capability
// says it can score. A capability error or non-positive report leaves the
// configured threshold unconstrained.
func (r *Ranker) allAtOnceLimit(ctx context.Context, configured int) int {
	max, err := r.vision.MultiImageThreshold(ctx)
	if err != nil || max <= 0 || max >= configured {
		return configured
	}
	return max
}

func cliqueReason(st graph.Stats) string     { return "all-at-once vision ranking" }
func tournamentReason(st graph.Stats) string { return "all-pairs tournament" }

// rankAllAtOnce issues a single vision call over every candidate and records
// the returned ranking as a clique of pairwise edges.
func (r *Ranker) rankAllAtOnce(ctx context.Context, candidates []Candidate, prompt string, g *graph.Graph, onCompare func(Event)) error {
	items := make([]capability.CompareItem, len(candidates))
	byLabel := make(map[string]Candidate, len(candidates))
	for i, c := range candidates {
		items[i] = capability.CompareItem{Label: c.ID, Locator: c.Locator}
		byLabel[c.ID] = c
	}

	res, err := r.vision.CompareImages(ctx, items, prompt)
	if err != nil {
		return fmt.Errorf("all-at-once vision comparison: %w", err)
	}

	rankByLabel := make(map[string]capability.CompareRank, len(res.Ranking))
	for _, rk := range res.Ranking {
		rankByLabel[rk.Label] = rk
	}

	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			a, b := candidates[i], candidates[j]
			ra, haveA := rankByLabel[a.ID]
			rb, haveB := rankByLabel[b.ID]
			if !haveA || !haveB {
				continue
			}
			winner := graph.WinnerTie
			switch {
			case ra.Rank < rb.Rank:
				winner = graph.WinnerA
			case rb.Rank < ra.Rank:
				winner = graph.WinnerB
			}
			g.RecordComparison(a.ID, b.ID, winner,
				graph.Ranks{Alignment: ra.Alignment, Aesthetic: ra.Aesthetic, Combined: ra.Combined},
				graph.Ranks{Alignment: rb.Alignment, Aesthetic: rb.Aesthetic, Combined: rb.Combined})
			if onCompare != nil {
				onCompare(Event{IDA: a.ID, IDB: b.ID, Winner: winner, Reason: ra.Reason})
			}
		}
	}
	return nil
}

// rankAllPairs runs C(N,2) ensemble comparisons unconditionally.
func (r *Ranker) rankAllPairs(ctx context.Context, candidates []Candidate, prompt string, ensembleSize int, g *graph.Graph, onCompare func(Event)) {
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			a, b := candidates[i], candidates[j]
			res := r.comparator.Compare(ctx, prompt, ensemble.Pair{IDA: a.ID, IDB: b.ID, LocatorA: a.Locator, LocatorB: b.Locator}, ensembleSize)
			g.RecordComparison(a.ID, b.ID, res.Winner, res.RanksA, res.RanksB)
			if onCompare != nil {
				onCompare(Event{IDA: a.ID, IDB: b.ID, Winner: res.Winner})
			}
		}
	}
}

// orderByGraph sorts candidates by (wins desc, avgCombined asc, candidateId
// asc) for the all-at-once and all-pairs paths, and assigns
// contiguous ranks.
func (r *Ranker) orderByGraph(candidates []Candidate, g *graph.Graph, reason func(graph.Stats) string) []Ranked {
	out := make([]Ranked, len(candidates))
	for i, c := range candidates {
		st, _ := g.AggregateStats(c.ID)
		out[i] = Ranked{CandidateID: c.ID, Wins: st.Wins, Losses: st.Losses, AvgScores: st}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Wins != out[j].Wins {
			return out[i].Wins > out[j].Wins
		}
		if out[i].AvgScores.AvgCombined != out[j].AvgScores.AvgCombined {
			return out[i].AvgScores.AvgCombined < out[j].AvgScores.AvgCombined
		}
		return out[i].CandidateID < out[j].CandidateID
	})

	for i := range out {
		out[i].Rank = i + 1
		out[i].Reason = reason(out[i].AvgScores)
	}
	return out
}

// rankChampionTournament implements strategy 3: repeatedly find
// the best remaining candidate by comparing it against challengers,
// consulting CanInferWinner before every real comparison, until keepTop
// candidates (or all, if keepTop >= N) have been ranked.
func (r *Ranker) rankChampionTournament(ctx context.Context, candidates []Candidate, prompt string, opts Options, g *graph.Graph, onCompare func(Event)) []Ranked {
	byID := make(map[string]Candidate, len(candidates))
	remaining := make([]string, len(candidates))
	for i, c := range candidates {
		byID[c.ID] = c
		remaining[i] = c.ID
	}
	sort.Strings(remaining) // deterministic initial order for tie-break-by-id

	keepTop := opts.KeepTop
	if keepTop <= 0 || keepTop > len(candidates) {
		keepTop = len(candidates)
	}

	var ranked []Ranked
	for len(ranked) < keepTop && len(remaining) > 0 {
		champion := remaining[0]
		challengers := remaining[1:]

		for _, challenger := range challengers {
			winner := r.resolvePair(ctx, prompt, byID[champion], byID[challenger], opts, g, onCompare)
			if winner == graph.WinnerB {
				champion = challenger
			}
		}

		st, _ := g.AggregateStats(champion)
		ranked = append(ranked, Ranked{
			CandidateID: champion,
			Rank:        len(ranked) + 1,
			Reason:      "champion tournament",
			Wins:        st.Wins,
			Losses:      st.Losses,
			AvgScores:   st,
		})

		remaining = removeID(remaining, champion)
	}

	// Any candidates not individually promoted (N > keepTop) are assigned
	// remaining ranks by cumulative wins/ties, deterministic by id.
	if len(remaining) > 0 {
		tail := make([]Ranked, len(remaining))
		for i, id := range remaining {
			st, _ := g.AggregateStats(id)
			tail[i] = Ranked{CandidateID: id, Wins: st.Wins, Losses: st.Losses, AvgScores: st, Reason: "champion tournament (unranked remainder)"}
		}
		sort.SliceStable(tail, func(i, j int) bool {
			if tail[i].Wins != tail[j].Wins {
				return tail[i].Wins > tail[j].Wins
			}
			if tail[i].AvgScores.Ties != tail[j].AvgScores.Ties {
				return tail[i].AvgScores.Ties > tail[j].AvgScores.Ties
			}
			return tail[i].CandidateID < tail[j].CandidateID
		})
		for _, t := range tail {
			t.Rank = len(ranked) + 1
			ranked = append(ranked, t)
		}
	}

	return ranked
}

// resolvePair returns the winner of (a,b), consulting the graph's
// transitive inference before issuing a real comparison.
func (r *Ranker) resolvePair(ctx context.Context, prompt string, a, b Candidate, opts Options, g *graph.Graph, onCompare func(Event)) graph.Winner {
	if rec, ok := g.Get(a.ID, b.ID); ok {
		return rec.Winner
	}
	if inf, ok := g.CanInferWinner(a.ID, b.ID); ok {
		if inf.Winner == b.ID {
			return graph.WinnerB
		}
		return graph.WinnerA
	}

	res := r.comparator.Compare(ctx, prompt, ensemble.Pair{IDA: a.ID, IDB: b.ID, LocatorA: a.Locator, LocatorB: b.Locator}, opts.EnsembleSize)
	g.RecordComparison(a.ID, b.ID, res.Winner, res.RanksA, res.RanksB)
	if onCompare != nil {
		onCompare(Event{IDA: a.ID, IDB: b.ID, Winner: res.Winner})
	}
	return res.Winner
}

func removeID(ids []string, target string) []string {
	out := make([]string, 0, len(ids)-1)
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
