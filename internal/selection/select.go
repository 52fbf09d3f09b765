package selection

import "sort"

// Candidate is the slice of backend metadata selection operates on. Candidates
// arrive already filtered to enabled backends and sorted by priority descending.
type Candidate struct {
	ID                string
	Priority          int
	Weight            float64
	CostPerInputUnit  float64
	CostPerOutputUnit float64
}

// Input carries everything Select needs besides the candidates. The cursor and
// random source live with the caller so Select stays a pure function.
type Input struct {
	Strategy             Strategy
	EstimatedInputUnits  int
	EstimatedOutputUnits int
	PreferredIDs         []string

	// Cursor is the caller-owned round-robin position.
	Cursor uint64
	// Rand returns a uniform value in [0,1); required for weighted selection.
	Rand func() float64
	// AvgLatency reports a backend's historical average latency in ms.
	// The second return is false when no data exists for that backend.
	AvgLatency func(id string) (float64, bool)
}

// Select orders candidates for invocation: the strategy's primary first, then
// the remaining candidates in their given priority order — fallback ordering
// is independent of the primary selection. The second return is true when the
// performance strategy degraded to priority order for lack of latency data;
// the caller decides how to log that.
func Select(candidates []Candidate, in Input) ([]string, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	candidates = filterPreferred(candidates, in.PreferredIDs)

	primary := 0
	degraded := false

	switch in.Strategy {
	case StrategyCost:
		primary = cheapestIndex(candidates, in.EstimatedInputUnits, in.EstimatedOutputUnits)
	case StrategyPerformance:
		primary, degraded = fastestIndex(candidates, in.AvgLatency)
	case StrategyRoundRobin:
		primary = int(in.Cursor % uint64(len(candidates)))
	case StrategyWeighted:
		primary = weightedPick(candidates, in.Rand)
	case StrategyPriority, StrategyManual:
		// Input order already is the answer
	}

	return ids(promote(candidates, primary)), degraded
}

// EstimateCost computes the estimated request cost for one candidate, with
// pricing expressed per 1K work units.
func EstimateCost(c Candidate, inputUnits, outputUnits int) float64 {
	return float64(inputUnits)/1000*c.CostPerInputUnit + float64(outputUnits)/1000*c.CostPerOutputUnit
}

// filterPreferred narrows candidates to the preferred set when at least one
// preferred candidate is present; otherwise the full set is kept.
func filterPreferred(candidates []Candidate, preferred []string) []Candidate {
	if len(preferred) == 0 {
		return candidates
	}
	wanted := make(map[string]int, len(preferred))
	for i, id := range preferred {
		if _, dup := wanted[id]; !dup {
			wanted[id] = i
		}
	}
	var kept []Candidate
	for _, c := range candidates {
		if _, ok := wanted[c.ID]; ok {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return candidates
	}
	// Preferred list order wins over priority order
	sort.SliceStable(kept, func(i, j int) bool {
		return wanted[kept[i].ID] < wanted[kept[j].ID]
	})
	return kept
}

// cheapestIndex returns the first candidate with the lowest estimated cost;
// ties keep input order.
func cheapestIndex(candidates []Candidate, inUnits, outUnits int) int {
	best := 0
	bestCost := EstimateCost(candidates[0], inUnits, outUnits)
	for i := 1; i < len(candidates); i++ {
		if cost := EstimateCost(candidates[i], inUnits, outUnits); cost < bestCost {
			best = i
			bestCost = cost
		}
	}
	return best
}

// fastestIndex returns the candidate with the lowest average latency. With no
// latency history at all it degrades to the first (highest priority) candidate
// and reports the degradation.
func fastestIndex(candidates []Candidate, avgLatency func(string) (float64, bool)) (int, bool) {
	if avgLatency == nil {
		return 0, true
	}
	best := -1
	var bestLatency float64
	for i, c := range candidates {
		lat, ok := avgLatency(c.ID)
		if !ok {
			continue
		}
		if best == -1 || lat < bestLatency {
			best = i
			bestLatency = lat
		}
	}
	if best == -1 {
		return 0, true
	}
	return best, false
}

// weightedPick draws one value in [0, totalWeight) and walks the candidates.
// All-zero weights fall back to the first candidate.
func weightedPick(candidates []Candidate, random func() float64) int {
	var total float64
	for _, c := range candidates {
		total += c.Weight
	}
	if total <= 0 || random == nil {
		return 0
	}
	r := random() * total
	for i, c := range candidates {
		r -= c.Weight
		if r <= 0 {
			return i
		}
	}
	return len(candidates) - 1
}

// promote moves candidates[idx] to the front; the rest keep their input order.
func promote(candidates []Candidate, idx int) []Candidate {
	if idx == 0 {
		return candidates
	}
	out := make([]Candidate, 0, len(candidates))
	out = append(out, candidates[idx])
	for i, c := range candidates {
		if i != idx {
			out = append(out, c)
		}
	}
	return out
}

func ids(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.ID
	}
	return out
}
