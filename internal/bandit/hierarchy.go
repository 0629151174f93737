package bandit

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/alejandrodnm/revcore/internal/domain"
)

var (
	// ErrNoArms is returned by SelectArm when the candidate list is empty.
	ErrNoArms = errors.New("bandit: no arms to select from")
	// ErrEmptyArm is returned by Update when the arm name is empty.
	ErrEmptyArm = errors.New("bandit: empty arm name")
)

const (
	defaultInheritWeight = 0.3
	defaultMaxSKUArms    = 10000
	minShape             = 0.1
)

// Config configures the hierarchy.
type Config struct {
	InheritWeight float64     `yaml:"inherit_weight"` // w in (1-w)^depth; default 0.3
	MaxSKUArms    int         `yaml:"max_sku_arms"`   // LRU bound for the sku level; default 10000
	Src           rand.Source `yaml:"-"`              // nil uses the global source
}

// Hierarchy is a four-level Thompson Sampling arm store
// (global → segment → platform → sku). Every update lands on all four
// levels at once, so a brand new sku context immediately inherits the
// posterior mass accumulated by its ancestors.
type Hierarchy struct {
	mu            sync.Mutex
	inheritWeight float64
	levels        []*Level
	contexts      *lru.Cache[string, string]
	skuStore      *lruStore
	src           rand.Source
	log           zerolog.Logger
}

// New builds an empty hierarchy.
func New(cfg Config, log zerolog.Logger) (*Hierarchy, error) {
	if cfg.InheritWeight <= 0 || cfg.InheritWeight >= 1 {
		cfg.InheritWeight = defaultInheritWeight
	}
	if cfg.MaxSKUArms <= 0 {
		cfg.MaxSKUArms = defaultMaxSKUArms
	}

	sku, err := newLRUStore(cfg.MaxSKUArms)
	if err != nil {
		return nil, fmt.Errorf("bandit.New: sku store: %w", err)
	}
	contexts, err := lru.New[string, string](cfg.MaxSKUArms)
	if err != nil {
		return nil, fmt.Errorf("bandit.New: context cache: %w", err)
	}

	w := cfg.InheritWeight
	return &Hierarchy{
		inheritWeight: w,
		levels: []*Level{
			{Name: LevelGlobal, Depth: 3, arms: mapStore{}},
			{Name: LevelSegment, Parent: LevelGlobal, InheritWeight: w, Depth: 2, arms: mapStore{}},
			{Name: LevelPlatform, Parent: LevelSegment, InheritWeight: w, Depth: 1, arms: mapStore{}},
			{Name: LevelSKU, Parent: LevelPlatform, InheritWeight: w, Depth: 0, arms: sku},
		},
		contexts: contexts,
		skuStore: sku,
		src:      cfg.Src,
		log:      log.With().Str("component", "bandit").Logger(),
	}, nil
}

// armKey returns the fully qualified key of arm at the given level.
func armKey(level string, c domain.Context, arm string) string {
	switch level {
	case LevelGlobal:
		return "global:" + arm
	case LevelSegment:
		return c.Segment + ":" + arm
	case LevelPlatform:
		return c.Segment + ":" + c.Platform + ":" + arm
	default:
		return c.Key() + ":" + arm
	}
}

func normalizeContext(c domain.Context) domain.Context {
	return domain.NewContext(c.Segment, c.Platform, c.SKU)
}

// SelectArm samples each candidate's combined posterior and returns the arm
// with the highest draw together with the drawn value. Ties keep the first
// candidate in iteration order.
func (h *Hierarchy) SelectArm(c domain.Context, arms []string) (string, float64, error) {
	if len(arms) == 0 {
		return "", 0, ErrNoArms
	}
	c = normalizeContext(c)

	h.mu.Lock()
	defer h.mu.Unlock()

	best, bestSample := "", math.Inf(-1)
	for _, arm := range arms {
		alpha, beta := h.combined(c, arm)
		sample := distuv.Beta{
			Alpha: math.Max(minShape, alpha),
			Beta:  math.Max(minShape, beta),
			Src:   h.src,
		}.Rand()
		if sample > bestSample {
			best, bestSample = arm, sample
		}
	}
	if best == "" {
		best, bestSample = arms[0], 0.5
	}

	h.contexts.Add(c.Key(), best)
	h.log.Debug().
		Str("context", c.Key()).
		Str("arm", best).
		Float64("sample", bestSample).
		Msg("arm selected")
	return best, bestSample, nil
}

// combined builds the hierarchical posterior parameters for arm:
// 1 + Σ level.α·(1-w)^depth (same for β). Caller holds h.mu.
func (h *Hierarchy) combined(c domain.Context, arm string) (alpha, beta float64) {
	alpha, beta = 1, 1
	for _, lvl := range h.levels {
		a, ok := lvl.arms.get(armKey(lvl.Name, c, arm))
		if !ok {
			continue
		}
		f := math.Pow(1-h.inheritWeight, float64(lvl.Depth))
		alpha += a.Alpha * f
		beta += a.Beta * f
	}
	return alpha, beta
}

// Update folds an observed reward into the arm's posterior on all four
// levels. reward is normalized by maxReward into [0,1].
func (h *Hierarchy) Update(c domain.Context, arm string, reward, maxReward float64) error {
	if arm == "" {
		return ErrEmptyArm
	}
	c = normalizeContext(c)

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, lvl := range h.levels {
		lvl.arms.observe(armKey(lvl.Name, c, arm), reward, maxReward)
	}
	h.log.Debug().
		Str("context", c.Key()).
		Str("arm", arm).
		Float64("reward", reward).
		Msg("posterior updated")
	return nil
}

// ExplorationBonus returns the UCB1 bonus sqrt(2·ln(N)/n) of arm at the sku
// level, where N is the total sku pulls. Unknown or unpulled arms get 1.0.
func (h *Hierarchy) ExplorationBonus(c domain.Context, arm string) float64 {
	c = normalizeContext(c)

	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.skuStore.get(armKey(LevelSKU, c, arm))
	if !ok || a.Pulls == 0 {
		return 1.0
	}
	total := math.Max(1, float64(h.skuStore.totalPulls()))
	return math.Sqrt(2 * math.Log(total) / float64(a.Pulls))
}

// BestArm picks the candidate with the highest sku-level posterior mean, with
// no exploration. Falls back to the first candidate when none has been seen.
func (h *Hierarchy) BestArm(c domain.Context, arms []string) string {
	if len(arms) == 0 {
		return ""
	}
	c = normalizeContext(c)

	h.mu.Lock()
	defer h.mu.Unlock()

	best, bestMean := "", math.Inf(-1)
	for _, arm := range arms {
		a, ok := h.skuStore.get(armKey(LevelSKU, c, arm))
		if !ok {
			continue
		}
		if m := a.Mean(); m > bestMean {
			best, bestMean = arm, m
		}
	}
	if best == "" {
		return arms[0]
	}
	return best
}

// ArmStats returns a copy of every arm, keyed by level and arm key.
func (h *Hierarchy) ArmStats() map[string]map[string]Arm {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]map[string]Arm, len(h.levels))
	for _, lvl := range h.levels {
		m := make(map[string]Arm, lvl.arms.len())
		lvl.arms.each(func(k string, a *Arm) { m[k] = *a })
		out[lvl.Name] = m
	}
	return out
}

// LevelStats summarizes one level.
type LevelStats struct {
	Arms  int
	Pulls int64
}

// Stats is a point-in-time summary of the hierarchy.
type Stats struct {
	Levels            map[string]LevelStats
	InheritWeight     float64
	ContextSelections int
	EvictedSKUArms    int64
}

// Stats returns arm and pull counts per level.
func (h *Hierarchy) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Stats{
		Levels:            make(map[string]LevelStats, len(h.levels)),
		InheritWeight:     h.inheritWeight,
		ContextSelections: h.contexts.Len(),
		EvictedSKUArms:    h.skuStore.evicted,
	}
	for _, lvl := range h.levels {
		st.Levels[lvl.Name] = LevelStats{Arms: lvl.arms.len(), Pulls: lvl.arms.totalPulls()}
	}
	return st
}
