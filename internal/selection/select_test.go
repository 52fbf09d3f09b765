package selection

import (
	"reflect"
	"testing"
)

// Candidates arrive priority-sorted descending, as the registry returns them.
func testCandidates() []Candidate {
	return []Candidate{
		{ID: "fast", Priority: 90, Weight: 0.5, CostPerInputUnit: 0.01, CostPerOutputUnit: 0.03},
		{ID: "cheap", Priority: 50, Weight: 0.3, CostPerInputUnit: 0.001, CostPerOutputUnit: 0.002},
		{ID: "slow", Priority: 10, Weight: 0.2, CostPerInputUnit: 0.005, CostPerOutputUnit: 0.01},
	}
}

func TestParseStrategy(t *testing.T) {
	for _, name := range []string{"priority", "cost", "performance", "round-robin", "weighted", "manual"} {
		if _, err := ParseStrategy(name); err != nil {
			t.Errorf("expected %q to parse, got %v", name, err)
		}
	}
	if _, err := ParseStrategy("cheapest-first"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestSelect_Priority(t *testing.T) {
	got, _ := Select(testCandidates(), Input{Strategy: StrategyPriority})
	want := []string{"fast", "cheap", "slow"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSelect_CostPicksCheapestPrimary(t *testing.T) {
	got, _ := Select(testCandidates(), Input{
		Strategy:             StrategyCost,
		EstimatedInputUnits:  1000,
		EstimatedOutputUnits: 500,
	})
	// cheap is primary; fallbacks keep priority order
	want := []string{"cheap", "fast", "slow"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSelect_StrategySwitchScenario(t *testing.T) {
	candidates := []Candidate{
		{ID: "fast", Priority: 90, CostPerInputUnit: 0.01, CostPerOutputUnit: 0.03},
		{ID: "cheap", Priority: 50, CostPerInputUnit: 0.001, CostPerOutputUnit: 0.002},
	}

	byCost, _ := Select(candidates, Input{Strategy: StrategyCost, EstimatedInputUnits: 1000, EstimatedOutputUnits: 500})
	if byCost[0] != "cheap" {
		t.Errorf("cost strategy: expected cheap first, got %s", byCost[0])
	}

	byPriority, _ := Select(candidates, Input{Strategy: StrategyPriority, EstimatedInputUnits: 1000, EstimatedOutputUnits: 500})
	if byPriority[0] != "fast" {
		t.Errorf("priority strategy: expected fast first, got %s", byPriority[0])
	}
}

func TestSelect_IsPure(t *testing.T) {
	in := Input{Strategy: StrategyCost, EstimatedInputUnits: 2000, EstimatedOutputUnits: 100}
	first, _ := Select(testCandidates(), in)
	second, _ := Select(testCandidates(), in)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("identical inputs must yield identical output: %v vs %v", first, second)
	}
}

func TestSelect_RoundRobinAdvancesWithCursor(t *testing.T) {
	var seen []string
	for cursor := uint64(0); cursor < 4; cursor++ {
		got, _ := Select(testCandidates(), Input{Strategy: StrategyRoundRobin, Cursor: cursor})
		seen = append(seen, got[0])
	}
	want := []string{"fast", "cheap", "slow", "fast"}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("expected rotation %v, got %v", want, seen)
	}
}

func TestSelect_WeightedAllZeroIsDeterministic(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Priority: 90},
		{ID: "b", Priority: 50},
	}
	for i := 0; i < 10; i++ {
		got, _ := Select(candidates, Input{Strategy: StrategyWeighted, Rand: func() float64 { return 0.99 }})
		if got[0] != "a" {
			t.Fatalf("all-zero weights must pick the first candidate, got %s", got[0])
		}
	}
}

func TestSelect_WeightedHonorsDraw(t *testing.T) {
	candidates := testCandidates() // weights 0.5, 0.3, 0.2

	got, _ := Select(candidates, Input{Strategy: StrategyWeighted, Rand: func() float64 { return 0.0 }})
	if got[0] != "fast" {
		t.Errorf("draw 0.0 should land in the first bucket, got %s", got[0])
	}

	got, _ = Select(candidates, Input{Strategy: StrategyWeighted, Rand: func() float64 { return 0.6 }})
	if got[0] != "cheap" {
		t.Errorf("draw 0.6 should land in the second bucket, got %s", got[0])
	}

	got, _ = Select(candidates, Input{Strategy: StrategyWeighted, Rand: func() float64 { return 0.95 }})
	if got[0] != "slow" {
		t.Errorf("draw 0.95 should land in the third bucket, got %s", got[0])
	}
}

func TestSelect_PerformanceUsesLatency(t *testing.T) {
	latencies := map[string]float64{"fast": 900, "cheap": 120, "slow": 300}
	got, degraded := Select(testCandidates(), Input{
		Strategy: StrategyPerformance,
		AvgLatency: func(id string) (float64, bool) {
			lat, ok := latencies[id]
			return lat, ok
		},
	})
	if degraded {
		t.Error("did not expect degradation with latency data present")
	}
	want := []string{"cheap", "fast", "slow"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSelect_PerformanceDegradesWithoutData(t *testing.T) {
	got, degraded := Select(testCandidates(), Input{
		Strategy:   StrategyPerformance,
		AvgLatency: func(id string) (float64, bool) { return 0, false },
	})
	if !degraded {
		t.Error("expected degradation flag with no latency data")
	}
	if got[0] != "fast" {
		t.Errorf("expected priority order under degradation, got %v", got)
	}
}

func TestSelect_PreferredFilter(t *testing.T) {
	got, _ := Select(testCandidates(), Input{
		Strategy:     StrategyPriority,
		PreferredIDs: []string{"slow", "cheap"},
	})
	// Preferred list order wins
	want := []string{"slow", "cheap"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSelect_PreferredWithNoMatchesKeepsAll(t *testing.T) {
	got, _ := Select(testCandidates(), Input{
		Strategy:     StrategyPriority,
		PreferredIDs: []string{"unknown-x", "unknown-y"},
	})
	if len(got) != 3 {
		t.Errorf("expected full candidate set when no preferred id matches, got %v", got)
	}
}

func TestSelect_EmptyCandidates(t *testing.T) {
	got, _ := Select(nil, Input{Strategy: StrategyPriority})
	if got != nil {
		t.Errorf("expected nil for empty candidates, got %v", got)
	}
}
