package uplift

import (
	"errors"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/alejandrodnm/revcore/internal/domain"
)

// ErrEmptyEngine is returned by Record for outcomes without an engine.
var ErrEmptyEngine = errors.New("uplift: outcome has no engine")

const (
	defaultHoldout  = 0.1
	minTreatment    = 5
	minControl      = 2
	fullSampleSize  = 50
	maxConfidence   = 0.95
	fakeConfidence  = 0.6
	fakePValue      = 0.1
	DefaultFakeLift = 0.1
)

// Config configures the estimator.
type Config struct {
	HoldoutPct float64     `yaml:"holdout_pct"` // share kept as control; default 0.1
	Src        rand.Source `yaml:"-"`
}

// Estimate is the causal uplift of one engine: treatment vs randomized holdout.
type Estimate struct {
	Engine        string
	TreatmentMean float64
	ControlMean   float64
	Uplift        float64
	UpliftPct     float64
	PValue        float64
	Confidence    float64
	SampleSize    int
}

type observation struct {
	oppID     string
	engine    string
	treatment bool
	revenue   float64
}

// Estimator assigns randomized holdouts and estimates per-engine uplift by
// difference in means.
type Estimator struct {
	mu          sync.Mutex
	holdout     float64
	rng         *rand.Rand
	assignments map[string]bool
	outcomes    []observation
	cache       map[string]Estimate
	log         zerolog.Logger
}

// New creates an Estimator.
func New(cfg Config, log zerolog.Logger) *Estimator {
	if cfg.HoldoutPct <= 0 || cfg.HoldoutPct >= 1 {
		cfg.HoldoutPct = defaultHoldout
	}
	src := cfg.Src
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Estimator{
		holdout:     cfg.HoldoutPct,
		rng:         rand.New(src),
		assignments: make(map[string]bool),
		cache:       make(map[string]Estimate),
		log:         log.With().Str("component", "uplift").Logger(),
	}
}

// AssignTreatment draws treatment with probability 1-holdout the first time
// (oppID, engine) is seen and returns the same answer forever after.
func (e *Estimator) AssignTreatment(oppID, engine string) bool {
	key := oppID + ":" + engine

	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.assignments[key]; ok {
		return t
	}
	t := e.rng.Float64() > e.holdout
	e.assignments[key] = t
	return t
}

// Record buffers an outcome for the next Estimate.
func (e *Estimator) Record(o domain.Outcome) error {
	if o.Engine == "" {
		return ErrEmptyEngine
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outcomes = append(e.outcomes, observation{
		oppID:     o.OppID,
		engine:    o.Engine,
		treatment: o.Treatment,
		revenue:   o.Revenue,
	})
	return nil
}

// Estimate records the given outcomes and returns the uplift of every engine
// with at least 5 treatment and 2 control samples. Engines below those
// minimums are omitted: their effect is not yet determinable.
func (e *Estimator) Estimate(outcomes []domain.Outcome) map[string]Estimate {
	for _, o := range outcomes {
		_ = e.Record(o)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	type groups struct{ treatment, control []float64 }
	byEngine := make(map[string]*groups)
	for _, o := range e.outcomes {
		g, ok := byEngine[o.engine]
		if !ok {
			g = &groups{}
			byEngine[o.engine] = g
		}
		if o.treatment {
			g.treatment = append(g.treatment, o.revenue)
		} else {
			g.control = append(g.control, o.revenue)
		}
	}

	out := make(map[string]Estimate, len(byEngine))
	for engine, g := range byEngine {
		est, ok := estimate(engine, g.treatment, g.control)
		if !ok {
			continue
		}
		e.cache[engine] = est
		out[engine] = est
	}

	e.log.Debug().Int("engines", len(out)).Int("outcomes", len(e.outcomes)).Msg("uplift estimated")
	return out
}

func estimate(engine string, treatment, control []float64) (Estimate, bool) {
	nt, nc := len(treatment), len(control)
	if nt < minTreatment || nc < minControl {
		return Estimate{}, false
	}

	mt, vt := stat.MeanVariance(treatment, nil)
	mc, vc := stat.MeanVariance(control, nil)
	diff := mt - mc

	se := math.Sqrt(vt/float64(nt) + vc/float64(nc))
	p := 1.0
	if se > 0 {
		t := math.Abs(diff) / se
		p = 2 * (1 - distuv.UnitNormal.CDF(t))
	}

	n := nt + nc
	return Estimate{
		Engine:        engine,
		TreatmentMean: mt,
		ControlMean:   mc,
		Uplift:        diff,
		UpliftPct:     diff / math.Max(0.01, mc),
		PValue:        p,
		Confidence:    math.Min(maxConfidence, 1-p) * math.Min(1, float64(n)/fullSampleSize),
		SampleSize:    n,
	}, true
}

// FakeSignals lists engines whose last estimate looks like correlation rather
// than cause: low confidence with uplift below threshold, or p > 0.1.
func (e *Estimator) FakeSignals(threshold float64) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var fake []string
	for engine, est := range e.cache {
		if (est.Confidence < fakeConfidence && est.UpliftPct < threshold) || est.PValue > fakePValue {
			fake = append(fake, engine)
		}
	}
	sort.Strings(fake)
	return fake
}

// TopEngines returns up to n cached estimates ordered by uplift percentage.
func (e *Estimator) TopEngines(n int) []Estimate {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Estimate, 0, len(e.cache))
	for _, est := range e.cache {
		out = append(out, est)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpliftPct != out[j].UpliftPct {
			return out[i].UpliftPct > out[j].UpliftPct
		}
		return out[i].Engine < out[j].Engine
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Stats summarizes the estimator.
type Stats struct {
	TotalOutcomes   int
	EnginesAnalyzed int
	Assignments     int
	HoldoutPct      float64
	Estimates       map[string]Estimate
}

func (e *Estimator) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Stats{
		TotalOutcomes:   len(e.outcomes),
		EnginesAnalyzed: len(e.cache),
		Assignments:     len(e.assignments),
		HoldoutPct:      e.holdout,
		Estimates:       make(map[string]Estimate, len(e.cache)),
	}
	for k, v := range e.cache {
		st.Estimates[k] = v
	}
	return st
}
