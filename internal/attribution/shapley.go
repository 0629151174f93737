package attribution

import (
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/combin"

	"github.com/alejandrodnm/revcore/internal/domain"
)

const (
	defaultExactMaxEngines = 10
	defaultPermutations    = 2000
	hardExactLimit         = 20
)

// Config configures the attribution engine.
type Config struct {
	// ExactMaxEngines is the largest engine count solved by full subset
	// enumeration; above it Shapley values are estimated by sampling
	// permutations. Default 10.
	ExactMaxEngines int `yaml:"exact_max_engines"`
	// Permutations sampled by the Monte Carlo estimator. Default 2000.
	Permutations int         `yaml:"permutations"`
	Src          rand.Source `yaml:"-"`
}

// Value is the attribution of one engine from the last computation.
type Value struct {
	Engine     string
	Value      float64 // raw Shapley value, before normalization
	SampleSize int
	Confidence float64
	StdErr     float64 // Monte Carlo standard error; 0 when exact
	Exact      bool
}

type record struct {
	engines []string
	delta   float64
	at      time.Time
}

// Engine attributes revenue deltas to execution engines with Shapley values
// over the coalitions observed in the outcome log.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	outcomes []record
	cache    map[string]Value
	rng      *rand.Rand
	now      func() time.Time
	log      zerolog.Logger
}

// New creates an attribution Engine.
func New(cfg Config, log zerolog.Logger) *Engine {
	if cfg.ExactMaxEngines <= 0 {
		cfg.ExactMaxEngines = defaultExactMaxEngines
	}
	if cfg.ExactMaxEngines > hardExactLimit {
		cfg.ExactMaxEngines = hardExactLimit
	}
	if cfg.Permutations <= 0 {
		cfg.Permutations = defaultPermutations
	}
	src := cfg.Src
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Engine{
		cfg:   cfg,
		cache: make(map[string]Value),
		rng:   rand.New(src),
		now:   time.Now,
		log:   log.With().Str("component", "attribution").Logger(),
	}
}

// Record appends an outcome to the log. Outcomes without engines are ignored.
func (e *Engine) Record(engines []string, revenue, baseline float64) {
	set := dedupe(engines)
	if len(set) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.outcomes = append(e.outcomes, record{engines: set, delta: revenue - baseline, at: e.now()})
}

// Value records the given outcomes, then computes the Shapley value of every
// engine seen in the log. Before normalization the values sum to v(E), the
// value of the grand coalition. With normalize the values are scaled so that
// Σ|φ| = 1.
func (e *Engine) Value(outcomes []domain.Outcome, normalize bool) map[string]float64 {
	for _, o := range outcomes {
		e.Record(o.Coalition(), o.Revenue, o.Baseline)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	g := newGame(e.outcomes)
	if len(g.engines) == 0 {
		return map[string]float64{}
	}

	var phi, stderr []float64
	exact := len(g.engines) <= e.cfg.ExactMaxEngines
	if exact {
		phi = g.exact()
		stderr = make([]float64, len(phi))
	} else {
		phi, stderr = g.sample(e.rng, e.cfg.Permutations)
	}

	conf := math.Min(0.95, float64(len(e.outcomes))/50)
	out := make(map[string]float64, len(phi))
	var total float64
	for i, name := range g.engines {
		out[name] = phi[i]
		total += math.Abs(phi[i])
		e.cache[name] = Value{
			Engine:     name,
			Value:      phi[i],
			SampleSize: len(e.outcomes),
			Confidence: conf,
			StdErr:     stderr[i],
			Exact:      exact,
		}
	}
	if normalize && total > 0 {
		for k, v := range out {
			out[k] = v / total
		}
	}

	e.log.Debug().
		Int("engines", len(g.engines)).
		Int("outcomes", len(e.outcomes)).
		Bool("exact", exact).
		Msg("shapley values computed")
	return out
}

// Values returns the detailed results of the last computation, sorted by value.
func (e *Engine) Values() []Value {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sortedLocked()
}

// TopEngines returns the n engines with the highest last computed value.
func (e *Engine) TopEngines(n int) []Value {
	e.mu.Lock()
	defer e.mu.Unlock()
	vals := e.sortedLocked()
	if n >= 0 && len(vals) > n {
		vals = vals[:n]
	}
	return vals
}

func (e *Engine) sortedLocked() []Value {
	vals := make([]Value, 0, len(e.cache))
	for _, v := range e.cache {
		vals = append(vals, v)
	}
	sort.Slice(vals, func(i, j int) bool {
		if vals[i].Value != vals[j].Value {
			return vals[i].Value > vals[j].Value
		}
		return vals[i].Engine < vals[j].Engine
	})
	return vals
}

// Stats summarizes the engine.
type Stats struct {
	OutcomesRecorded int
	EnginesAnalyzed  int
	Values           map[string]float64
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Stats{
		OutcomesRecorded: len(e.outcomes),
		EnginesAnalyzed:  len(e.cache),
		Values:           make(map[string]float64, len(e.cache)),
	}
	for k, v := range e.cache {
		st.Values[k] = v.Value
	}
	return st
}

// game is the coalition game induced by an outcome log: members[i][j] says
// whether engine j took part in outcome i.
type game struct {
	engines []string
	members [][]bool
	deltas  []float64
}

func newGame(log []record) *game {
	idx := make(map[string]int)
	var engines []string
	for _, r := range log {
		for _, name := range r.engines {
			if _, ok := idx[name]; !ok {
				idx[name] = -1
				engines = append(engines, name)
			}
		}
	}
	sort.Strings(engines)
	for i, name := range engines {
		idx[name] = i
	}

	g := &game{
		engines: engines,
		members: make([][]bool, len(log)),
		deltas:  make([]float64, len(log)),
	}
	for i, r := range log {
		m := make([]bool, len(engines))
		for _, name := range r.engines {
			m[idx[name]] = true
		}
		g.members[i] = m
		g.deltas[i] = r.delta
	}
	return g
}

// value is v(S): the mean delta of outcomes whose engine set contains every
// member of S. Empty S or no matching outcome is worth 0.
func (g *game) value(s []int) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	var n int
outer:
	for i, m := range g.members {
		for _, j := range s {
			if !m[j] {
				continue outer
			}
		}
		sum += g.deltas[i]
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// exact enumerates every subset S ⊆ E\{e} for each engine e and weighs the
// marginal contribution by k!(n-k-1)!/n! = 1/(n·C(n-1,k)).
func (g *game) exact() []float64 {
	n := len(g.engines)
	memo := make(map[uint64]float64, 1<<n)
	v := func(s []int) float64 {
		var mask uint64
		for _, j := range s {
			mask |= 1 << uint(j)
		}
		if val, ok := memo[mask]; ok {
			return val
		}
		val := g.value(s)
		memo[mask] = val
		return val
	}

	phi := make([]float64, n)
	others := make([]int, 0, n-1)
	for e := 0; e < n; e++ {
		others = others[:0]
		for j := 0; j < n; j++ {
			if j != e {
				others = append(others, j)
			}
		}
		for k := 0; k <= len(others); k++ {
			w := 1 / (float64(n) * float64(combin.Binomial(n-1, k)))
			gen := combin.NewCombinationGenerator(len(others), k)
			pick := make([]int, k)
			s := make([]int, k, k+1)
			for gen.Next() {
				gen.Combination(pick)
				for i, p := range pick {
					s[i] = others[p]
				}
				without := v(s)
				with := v(append(s, e))
				phi[e] += w * (with - without)
			}
		}
	}
	return phi
}

// sample estimates Shapley values by averaging marginal contributions over
// random permutations. Each permutation telescopes to v(E), so the estimates
// still sum to v(E). Returns the estimates and their standard errors.
func (g *game) sample(rng *rand.Rand, perms int) (phi, stderr []float64) {
	n := len(g.engines)
	marginals := make([][]float64, n)
	for i := range marginals {
		marginals[i] = make([]float64, 0, perms)
	}

	matching := make([]int, 0, len(g.members))
	for p := 0; p < perms; p++ {
		order := rng.Perm(n)
		matching = matching[:0]
		for i := range g.members {
			matching = append(matching, i)
		}
		prev := 0.0
		for _, e := range order {
			kept := matching[:0]
			var sum float64
			for _, i := range matching {
				if g.members[i][e] {
					kept = append(kept, i)
					sum += g.deltas[i]
				}
			}
			matching = kept
			cur := 0.0
			if len(matching) > 0 {
				cur = sum / float64(len(matching))
			}
			marginals[e] = append(marginals[e], cur-prev)
			prev = cur
		}
	}

	phi = make([]float64, n)
	stderr = make([]float64, n)
	for e, m := range marginals {
		mean, sd := stat.MeanStdDev(m, nil)
		phi[e] = mean
		if len(m) > 1 {
			stderr[e] = sd / math.Sqrt(float64(len(m)))
		}
	}
	return phi, stderr
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
