package capital

// RiskLevel is the risk appetite derived from runway.
type RiskLevel string

const (
	Conservative    RiskLevel = "conservative"
	Moderate        RiskLevel = "moderate"
	Aggressive      RiskLevel = "aggressive"
	UltraAggressive RiskLevel = "ultra_aggressive"
)

// Aggressiveness orders levels from 0 (conservative) to 3 (ultra_aggressive).
func (l RiskLevel) Aggressiveness() int {
	switch l {
	case Moderate:
		return 1
	case Aggressive:
		return 2
	case UltraAggressive:
		return 3
	}
	return 0
}

// Thresholds are the minimum runway days for each tier above conservative.
type Thresholds struct {
	UltraAggressive int `yaml:"ultra_aggressive"`
	Aggressive      int `yaml:"aggressive"`
	Moderate        int `yaml:"moderate"`
}

// TierLimits holds one value per risk level.
type TierLimits struct {
	UltraAggressive float64 `yaml:"ultra_aggressive"`
	Aggressive      float64 `yaml:"aggressive"`
	Moderate        float64 `yaml:"moderate"`
	Conservative    float64 `yaml:"conservative"`
}

func (t TierLimits) For(l RiskLevel) float64 {
	switch l {
	case UltraAggressive:
		return t.UltraAggressive
	case Aggressive:
		return t.Aggressive
	case Moderate:
		return t.Moderate
	}
	return t.Conservative
}

// RiskProfile is the runway state the allocator sizes against.
type RiskProfile struct {
	RunwayDays      int
	MonthlyBurnRate float64
	Level           RiskLevel
}

// LevelForRunway maps runway days to a risk level. The mapping is monotonic:
// more runway never yields a less aggressive level.
func LevelForRunway(days int, th Thresholds) RiskLevel {
	switch {
	case days >= th.UltraAggressive:
		return UltraAggressive
	case days >= th.Aggressive:
		return Aggressive
	case days >= th.Moderate:
		return Moderate
	}
	return Conservative
}

// RunwayFromCash converts cash on hand and a monthly burn into runway days
// (30-day months). Zero or negative burn means unlimited runway.
func RunwayFromCash(cash, monthlyBurn float64) int {
	if monthlyBurn <= 0 {
		return int(^uint(0) >> 1)
	}
	if cash <= 0 {
		return 0
	}
	return int(cash * 30 / monthlyBurn)
}
