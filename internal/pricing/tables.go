package pricing

type segmentPricing struct {
	multiplier float64
	elasticity float64
	floorPct   float64
}

var segments = map[string]segmentPricing{
	"enterprise": {1.5, 0.3, 0.9},
	"smb":        {1.2, 0.5, 0.8},
	"startup":    {1.0, 0.7, 0.7},
	"freelancer": {0.9, 0.8, 0.6},
	"consumer":   {0.8, 0.9, 0.5},
}

var urgency = map[string]float64{
	"critical": 1.3,
	"high":     1.15,
	"normal":   1.0,
	"low":      0.9,
	"flexible": 0.85,
}

type platformPricing struct {
	ceiling float64
	floor   float64
}

func (p platformPricing) mid() float64 { return (p.ceiling + p.floor) / 2 }

var platforms = map[string]platformPricing{
	"upwork":   {1.2, 0.5},
	"fiverr":   {1.0, 0.3},
	"linkedin": {1.5, 0.8},
	"direct":   {2.0, 0.7},
	"github":   {1.3, 0.6},
}

var unknownPlatform = platformPricing{1.3, 0.5}

// Price tiers tracked per segment for conversion learning.
var tiers = []string{"low", "mid", "high"}

// Strategy is an informational pricing posture; it never changes the price.
type Strategy string

const (
	Premium     Strategy = "premium"
	Competitive Strategy = "competitive"
	ValueBased  Strategy = "value_based"
	Dynamic     Strategy = "dynamic"
)

func selectStrategy(segment, platform string, elasticity float64) Strategy {
	switch {
	case segment == "enterprise":
		return Premium
	case platform == "fiverr" || platform == "upwork":
		return Competitive
	case elasticity < 0.4:
		return ValueBased
	}
	return Dynamic
}

// InferSegment maps a deal value to a segment when none is given.
func InferSegment(value float64) string {
	switch {
	case value >= 5000:
		return "enterprise"
	case value >= 1000:
		return "smb"
	case value >= 300:
		return "startup"
	case value >= 50:
		return "freelancer"
	}
	return "consumer"
}

func complexityMultiplier(description string) float64 {
	switch n := len(description); {
	case n > 2000:
		return 1.3
	case n > 500:
		return 1.1
	}
	return 1.0
}
