package experiment

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned for unknown experiment IDs.
	ErrNotFound = errors.New("experiment: not found")
	// ErrTerminal is returned when transitioning an experiment that already
	// graduated or rolled back.
	ErrTerminal = errors.New("experiment: already in a terminal state")
	// ErrNoTreatment is returned by Create without a treatment engine.
	ErrNoTreatment = errors.New("experiment: treatment engine required")
)

const (
	minSamples     = 30
	zCritical      = 1.96
	breachRollback = 3
)

// Config configures the Platform.
type Config struct {
	MaxExperiments int         `yaml:"max_experiments"` // soft cap; default 5
	DefaultTraffic float64     `yaml:"default_traffic"` // default 0.1
	DeployLift     float64     `yaml:"deploy_lift"`     // AutoGraduate threshold; default 0.05
	Src            rand.Source `yaml:"-"`
}

// Platform runs a bounded pool of always-on experiments with significance
// testing and SLO-triggered rollback.
type Platform struct {
	mu          sync.Mutex
	cfg         Config
	experiments []*Experiment // creation order
	byID        map[string]*Experiment
	seq         int64
	breaches    int
	graduations int
	rollbacks   int
	rng         *rand.Rand
	now         func() time.Time
	log         zerolog.Logger
}

// New creates an empty Platform.
func New(cfg Config, log zerolog.Logger) *Platform {
	if cfg.MaxExperiments <= 0 {
		cfg.MaxExperiments = 5
	}
	if cfg.DefaultTraffic <= 0 || cfg.DefaultTraffic > 1 {
		cfg.DefaultTraffic = 0.1
	}
	if cfg.DeployLift <= 0 {
		cfg.DeployLift = 0.05
	}
	src := cfg.Src
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Platform{
		cfg:  cfg,
		byID: make(map[string]*Experiment),
		rng:  rand.New(src),
		now:  time.Now,
		log:  log.With().Str("component", "experiment").Logger(),
	}
}

// Create starts a new ACTIVE experiment. When the pool is at capacity the
// oldest terminal experiment is evicted first; if none is terminal the pool
// temporarily exceeds the cap. trafficPct outside (0,1] takes the default.
func (p *Platform) Create(name, treatment, control string, trafficPct float64) (string, error) {
	if treatment == "" {
		return "", ErrNoTreatment
	}
	if trafficPct <= 0 || trafficPct > 1 {
		trafficPct = p.cfg.DefaultTraffic
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.experiments) >= p.cfg.MaxExperiments {
		p.evictOldestTerminal()
	}

	p.seq++
	exp := &Experiment{
		ID:              uuid.NewString(),
		Name:            name,
		TreatmentEngine: treatment,
		ControlEngine:   control,
		TrafficPct:      trafficPct,
		Status:          StatusActive,
		CreatedAt:       p.now(),
		Seq:             p.seq,
	}
	p.experiments = append(p.experiments, exp)
	p.byID[exp.ID] = exp

	p.log.Info().
		Str("id", exp.ID).
		Str("name", name).
		Str("treatment", treatment).
		Str("control", control).
		Float64("traffic", trafficPct).
		Msg("experiment created")
	return exp.ID, nil
}

func (p *Platform) evictOldestTerminal() {
	for i, e := range p.experiments {
		if !e.Status.Terminal() {
			continue
		}
		p.experiments = append(p.experiments[:i], p.experiments[i+1:]...)
		delete(p.byID, e.ID)
		p.log.Debug().Str("id", e.ID).Str("status", string(e.Status)).Msg("experiment evicted")
		return
	}
}

// Assign walks ACTIVE experiments in creation order and returns the treatment
// engine of the first one whose treatment is available and whose traffic
// draw hits. At most one experiment applies per opportunity.
func (p *Platform) Assign(oppID string, engines []string) (string, bool) {
	available := make(map[string]struct{}, len(engines))
	for _, e := range engines {
		available[e] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, exp := range p.experiments {
		if exp.Status != StatusActive {
			continue
		}
		if _, ok := available[exp.TreatmentEngine]; !ok {
			continue
		}
		if p.rng.Float64() < exp.TrafficPct {
			p.log.Debug().Str("opp_id", oppID).Str("experiment", exp.ID).Msg("assigned to treatment")
			return exp.TreatmentEngine, true
		}
	}
	return "", false
}

// RecordOutcome counts a trial for every ACTIVE experiment in which engine is
// the treatment or the control.
func (p *Platform) RecordOutcome(engine string, success bool, revenue float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, exp := range p.experiments {
		if exp.Status != StatusActive {
			continue
		}
		switch engine {
		case exp.TreatmentEngine:
			exp.TreatmentTrials++
			exp.TreatmentRevenue += revenue
			if success {
				exp.TreatmentWins++
			}
		case exp.ControlEngine:
			exp.ControlTrials++
			exp.ControlRevenue += revenue
			if success {
				exp.ControlWins++
			}
		}
	}
}

// CheckSignificance runs a pooled win-rate z-test. Fewer than 30 combined
// trials always yields Significant=false with ReasonInsufficientSamples.
func (p *Platform) CheckSignificance(id string) Significance {
	p.mu.Lock()
	defer p.mu.Unlock()

	exp, ok := p.byID[id]
	if !ok {
		return Significance{Reason: ReasonNotFound}
	}
	return significance(exp)
}

func significance(exp *Experiment) Significance {
	n := exp.TreatmentTrials + exp.ControlTrials
	if n < minSamples {
		return Significance{Reason: ReasonInsufficientSamples, N: n}
	}

	nt := math.Max(1, float64(exp.TreatmentTrials))
	nc := math.Max(1, float64(exp.ControlTrials))
	tr := float64(exp.TreatmentWins) / nt
	cr := float64(exp.ControlWins) / nc
	diff := tr - cr

	pooled := float64(exp.TreatmentWins+exp.ControlWins) / float64(n)
	se := math.Sqrt(pooled * (1 - pooled) * (1/nt + 1/nc))
	z := math.Abs(diff) / math.Max(0.001, se)

	return Significance{
		Significant:   z > zCritical,
		N:             n,
		TreatmentRate: tr,
		ControlRate:   cr,
		Lift:          diff / math.Max(0.001, cr),
		ZScore:        z,
	}
}

// CheckSLO feeds one SLO probe. Failures add a breach, successes remove one
// (never below zero). On the third outstanding breach the newest ACTIVE
// experiment is rolled back and the counter resets. It returns the ID of the
// rolled back experiment, if any.
func (p *Platform) CheckSLO(ok bool) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ok {
		if p.breaches > 0 {
			p.breaches--
		}
		return "", false
	}

	p.breaches++
	if p.breaches < breachRollback {
		return "", false
	}
	for i := len(p.experiments) - 1; i >= 0; i-- {
		exp := p.experiments[i]
		if exp.Status != StatusActive {
			continue
		}
		exp.Status = StatusRolledBack
		p.breaches = 0
		p.rollbacks++
		p.log.Warn().Str("id", exp.ID).Str("name", exp.Name).Msg("experiment rolled back after SLO breaches")
		return exp.ID, true
	}
	return "", false
}

// Graduate marks an ACTIVE experiment as GRADUATED.
func (p *Platform) Graduate(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	exp, ok := p.byID[id]
	if !ok {
		return fmt.Errorf("experiment.Graduate %s: %w", id, ErrNotFound)
	}
	if exp.Status.Terminal() {
		return fmt.Errorf("experiment.Graduate %s (%s): %w", id, exp.Status, ErrTerminal)
	}
	exp.Status = StatusGraduated
	p.graduations++
	p.log.Info().Str("id", id).Str("name", exp.Name).Msg("experiment graduated")
	return nil
}

// AutoGraduate graduates every ACTIVE experiment that is significant with a
// lift of at least minLift (the configured deploy lift when minLift ≤ 0).
// Returns the graduated IDs.
func (p *Platform) AutoGraduate(minLift float64) []string {
	if minLift <= 0 {
		minLift = p.cfg.DeployLift
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var done []string
	for _, exp := range p.experiments {
		if exp.Status != StatusActive {
			continue
		}
		sig := significance(exp)
		if !sig.Significant || sig.Lift < minLift {
			continue
		}
		exp.Status = StatusGraduated
		p.graduations++
		done = append(done, exp.ID)
		p.log.Info().Str("id", exp.ID).Float64("lift", sig.Lift).Msg("experiment auto-graduated")
	}
	return done
}

// Get returns a copy of one experiment.
func (p *Platform) Get(id string) (Experiment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	exp, ok := p.byID[id]
	if !ok {
		return Experiment{}, false
	}
	return *exp, true
}

// Active returns copies of the ACTIVE experiments in creation order.
func (p *Platform) Active() []Experiment {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Experiment
	for _, exp := range p.experiments {
		if exp.Status == StatusActive {
			out = append(out, *exp)
		}
	}
	return out
}

// All returns copies of every pooled experiment in creation order.
func (p *Platform) All() []Experiment {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Experiment, len(p.experiments))
	for i, exp := range p.experiments {
		out[i] = *exp
	}
	return out
}

// Stats summarizes the pool.
type Stats struct {
	Total       int
	Active      int
	Graduations int
	Rollbacks   int
	SLOBreaches int
}

func (p *Platform) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Stats{
		Total:       len(p.experiments),
		Graduations: p.graduations,
		Rollbacks:   p.rollbacks,
		SLOBreaches: p.breaches,
	}
	for _, exp := range p.experiments {
		if exp.Status == StatusActive {
			st.Active++
		}
	}
	return st
}
