package selection

import "fmt"

// Strategy determines how the primary backend is chosen.
type Strategy string

const (
	StrategyPriority    Strategy = "priority"
	StrategyCost        Strategy = "cost"
	StrategyPerformance Strategy = "performance"
	StrategyRoundRobin  Strategy = "round-robin"
	StrategyWeighted    Strategy = "weighted"
	StrategyManual      Strategy = "manual"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyPriority, StrategyCost, StrategyPerformance, StrategyRoundRobin, StrategyWeighted, StrategyManual:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}
