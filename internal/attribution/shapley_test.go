package attribution

import (
	"math/rand/v2"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/revcore/internal/domain"
)

func newTestEngine(cfg Config) *Engine {
	if cfg.Src == nil {
		cfg.Src = rand.NewPCG(9, 9)
	}
	return New(cfg, zerolog.Nop())
}

func total(m map[string]float64) float64 {
	var s float64
	for _, v := range m {
		s += v
	}
	return s
}

// grandCoalitionValue is v(E) computed independently of the game type.
func grandCoalitionValue(outcomes []domain.Outcome, engines []string) float64 {
	var sum float64
	var n int
	for _, o := range outcomes {
		set := map[string]bool{}
		for _, e := range o.Coalition() {
			set[e] = true
		}
		all := true
		for _, e := range engines {
			if !set[e] {
				all = false
				break
			}
		}
		if all {
			sum += o.Delta()
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func randomOutcomes(rng *rand.Rand, engines []string, n int) []domain.Outcome {
	out := make([]domain.Outcome, 0, n)
	for i := 0; i < n; i++ {
		var used []string
		for _, e := range engines {
			if rng.Float64() < 0.6 {
				used = append(used, e)
			}
		}
		if len(used) == 0 {
			used = []string{engines[rng.IntN(len(engines))]}
		}
		out = append(out, domain.Outcome{
			EnginesUsed: used,
			Revenue:     rng.Float64() * 1000,
			Baseline:    rng.Float64() * 300,
		})
	}
	// Guarantee the grand coalition is observed.
	out = append(out, domain.Outcome{EnginesUsed: engines, Revenue: 900, Baseline: 100})
	return out
}

// --- Exact ---

func TestValue_SingleEngineCoalitions(t *testing.T) {
	e := newTestEngine(Config{})
	var outcomes []domain.Outcome
	for i := 0; i < 10; i++ {
		outcomes = append(outcomes,
			domain.Outcome{Engine: "engineA", Revenue: 150, Baseline: 50},
			domain.Outcome{Engine: "engineB", Revenue: 100, Baseline: 50},
		)
	}

	phi := e.Value(outcomes, false)
	assert.Greater(t, phi["engineA"], phi["engineB"])
	assert.InDelta(t, 25.0, phi["engineA"], 1e-9)
	assert.InDelta(t, -25.0, phi["engineB"], 1e-9)
}

func TestValue_Efficiency(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, engines := range [][]string{
		{"a"},
		{"a", "b"},
		{"a", "b", "c", "d"},
		{"a", "b", "c", "d", "e", "f", "g"},
	} {
		e := newTestEngine(Config{})
		outcomes := randomOutcomes(rng, engines, 60)

		phi := e.Value(outcomes, false)
		require.Len(t, phi, len(engines))
		assert.InDelta(t, grandCoalitionValue(outcomes, engines), total(phi), 1e-6)
	}
}

func TestValue_Normalized(t *testing.T) {
	e := newTestEngine(Config{})
	outcomes := randomOutcomes(rand.New(rand.NewPCG(5, 6)), []string{"a", "b", "c"}, 30)

	phi := e.Value(outcomes, true)
	var abs float64
	for _, v := range phi {
		if v < 0 {
			v = -v
		}
		abs += v
	}
	assert.InDelta(t, 1.0, abs, 1e-9)
}

func TestValue_Empty(t *testing.T) {
	e := newTestEngine(Config{})
	assert.Empty(t, e.Value(nil, true))

	e.Record(nil, 100, 0)
	e.Record([]string{""}, 100, 0)
	assert.Empty(t, e.Value(nil, false))
	assert.Zero(t, e.Stats().OutcomesRecorded)
}

func TestRecord_AccumulatesAcrossCalls(t *testing.T) {
	e := newTestEngine(Config{})
	e.Record([]string{"a", "a"}, 100, 0)
	phi := e.Value([]domain.Outcome{{Engine: "a", Revenue: 300}}, false)

	assert.InDelta(t, 200.0, phi["a"], 1e-9)
	st := e.Stats()
	assert.Equal(t, 2, st.OutcomesRecorded)
	assert.Equal(t, 1, st.EnginesAnalyzed)
}

// --- Monte Carlo ---

func TestValue_MonteCarloAboveThreshold(t *testing.T) {
	engines := []string{"a", "b", "c", "d", "e", "f"}
	outcomes := randomOutcomes(rand.New(rand.NewPCG(3, 4)), engines, 80)

	exact := newTestEngine(Config{}).Value(outcomes, false)
	mc := newTestEngine(Config{ExactMaxEngines: 3, Permutations: 4000})
	approx := mc.Value(outcomes, false)

	// Every permutation telescopes to v(E).
	assert.InDelta(t, grandCoalitionValue(outcomes, engines), total(approx), 1e-6)

	for _, v := range mc.Values() {
		assert.False(t, v.Exact)
		assert.Greater(t, v.StdErr, 0.0)
		assert.InDelta(t, exact[v.Engine], v.Value, 4*v.StdErr+1e-6, v.Engine)
	}
}

// --- TopEngines ---

func TestTopEngines(t *testing.T) {
	e := newTestEngine(Config{})
	var outcomes []domain.Outcome
	for i := 0; i < 5; i++ {
		outcomes = append(outcomes,
			domain.Outcome{Engine: "low", Revenue: 10},
			domain.Outcome{Engine: "mid", Revenue: 50},
			domain.Outcome{Engine: "high", Revenue: 90},
		)
	}
	e.Value(outcomes, false)

	top := e.TopEngines(2)
	require.Len(t, top, 2)
	assert.Equal(t, "high", top[0].Engine)
	assert.Equal(t, "mid", top[1].Engine)
	assert.True(t, top[0].Exact)
	assert.InDelta(t, 0.3, top[0].Confidence, 1e-12)
}
