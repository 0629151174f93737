package attention

import (
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	tsShare        = 0.7
	roiShare       = 0.3
	missingWeight  = 0.05
	minROIScore    = 0.01
	strongExplore  = 10
	mildExplore    = 50
	maxConfidence  = 0.95
	defaultHistory = 100
)

// Config configures the Router.
type Config struct {
	ExplorationFactor float64          `yaml:"exploration_factor"` // default 0.1
	HistorySize       int              `yaml:"history_size"`       // weight snapshots kept; default 100
	Src               rand.Source      `yaml:"-"`                  // nil uses the global source
	Now               func() time.Time `yaml:"-"`
}

// Snapshot is one computed weight vector.
type Snapshot struct {
	Weights    map[string]float64
	Confidence float64
	Timestamp  time.Time
}

// Router splits attention and budget across platforms by blending Thompson
// Sampling over conversion posteriors with diminishing-returns marginal ROI.
type Router struct {
	mu          sync.Mutex
	exploration float64
	params      map[string]prior
	perf        map[string]*PlatformPerformance
	history     []Snapshot
	historySize int
	src         rand.Source
	now         func() time.Time
	log         zerolog.Logger
}

// New creates a Router seeded with the default platform priors.
func New(cfg Config, log zerolog.Logger) *Router {
	if cfg.ExplorationFactor <= 0 {
		cfg.ExplorationFactor = 0.1
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistory
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	r := &Router{
		exploration: cfg.ExplorationFactor,
		params:      make(map[string]prior, len(defaultPriors)),
		perf:        make(map[string]*PlatformPerformance, len(defaultPriors)),
		historySize: cfg.HistorySize,
		src:         cfg.Src,
		now:         cfg.Now,
		log:         log.With().Str("component", "attention").Logger(),
	}
	for p, pr := range defaultPriors {
		r.params[p] = pr
		r.perf[p] = &PlatformPerformance{Platform: p}
	}
	return r
}

// Weights merges the given KPI reports and returns a per-platform weight
// vector summing to 1. Platforms are all known platforms, not only the ones
// reported in kpis.
func (r *Router) Weights(kpis map[string]PlatformKPI) map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.weightsLocked(kpis)
}

func (r *Router) weightsLocked(kpis map[string]PlatformKPI) map[string]float64 {
	for p, k := range kpis {
		p = normalize(p)
		perf := r.perfFor(p)
		perf.Impressions = k.Impressions
		perf.Clicks = k.Clicks
		perf.Conversions = k.Conversions
		perf.Revenue = k.Revenue
		perf.Spend = k.Spend
	}

	ts := r.thompsonWeights()
	roi := r.roiWeights()

	platforms := unionKeys(ts, roi)
	blended := make(map[string]float64, len(platforms))
	for _, p := range platforms {
		tw, ok := ts[p]
		if !ok {
			tw = missingWeight
		}
		rw, ok := roi[p]
		if !ok {
			rw = missingWeight
		}
		blended[p] = tsShare*tw + roiShare*rw + r.explorationBonus(p)
	}

	out := normalizeWeights(platforms, blended)
	conf := r.confidenceLocked(platforms)
	r.history = append(r.history, Snapshot{Weights: out, Confidence: conf, Timestamp: r.now()})
	if len(r.history) > r.historySize {
		r.history = r.history[len(r.history)-r.historySize:]
	}

	r.log.Debug().
		Str("top", topN(out, 3)).
		Float64("confidence", conf).
		Msg("attention weights computed")
	return out
}

// thompsonWeights samples every platform's Beta posterior and normalizes.
func (r *Router) thompsonWeights() map[string]float64 {
	samples := make(map[string]float64, len(r.params))
	for _, p := range sortedKeys(r.params) {
		pr := r.params[p]
		samples[p] = distuv.Beta{Alpha: pr.alpha, Beta: pr.beta, Src: r.src}.Rand()
	}
	return normalizeWeights(sortedKeys(samples), samples)
}

func (r *Router) roiWeights() map[string]float64 {
	scores := make(map[string]float64, len(r.perf))
	for p, perf := range r.perf {
		scores[p] = math.Max(minROIScore, perf.MarginalROI())
	}
	return normalizeWeights(sortedKeys(scores), scores)
}

// explorationBonus favours platforms whose posterior has seen few samples.
func (r *Router) explorationBonus(p string) float64 {
	pr, ok := r.params[p]
	if !ok {
		pr = prior{1, 1}
	}
	switch n := pr.alpha + pr.beta - 2; {
	case n < strongExplore:
		return 2 * r.exploration
	case n < mildExplore:
		return r.exploration
	}
	return 0
}

func (r *Router) confidenceLocked(platforms []string) float64 {
	var samples float64
	for _, p := range platforms {
		pr, ok := r.params[p]
		if !ok {
			pr = prior{1, 1}
		}
		samples += pr.alpha + pr.beta - 2
	}
	return math.Min(maxConfidence, 0.5+samples/200)
}

// RecordOutcome updates the conversion posterior of platform. Successful
// outcomes also count as a conversion worth revenue.
func (r *Router) RecordOutcome(platform string, success bool, revenue float64) {
	platform = normalize(platform)

	r.mu.Lock()
	defer r.mu.Unlock()

	pr, ok := r.params[platform]
	if !ok {
		pr = prior{1, 1}
	}
	if success {
		pr.alpha++
	} else {
		pr.beta++
	}
	r.params[platform] = pr

	if success {
		perf := r.perfFor(platform)
		perf.Conversions++
		perf.Revenue += revenue
	}
}

// Quotas splits totalBudget across platforms proportionally to Weights.
func (r *Router) Quotas(totalBudget float64) map[string]float64 {
	w := r.Weights(nil)
	out := make(map[string]float64, len(w))
	for p, v := range w {
		out[p] = v * totalBudget
	}
	return out
}

// Confidence is min(0.95, 0.5 + samples/200) over all known platforms.
func (r *Router) Confidence() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.confidenceLocked(sortedKeys(r.params))
}

// History returns the retained weight snapshots, oldest first.
func (r *Router) History() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, len(r.history))
	copy(out, r.history)
	return out
}

// PlatformStats is the derived view of one platform.
type PlatformStats struct {
	Alpha       float64
	Beta        float64
	CTR         float64
	CVR         float64
	ROAS        float64
	CPA         float64
	MarginalROI float64
}

// Stats summarizes the router.
type Stats struct {
	Platforms         map[string]PlatformStats
	LastWeights       map[string]float64
	ExplorationFactor float64
	Snapshots         int
}

// Stats returns posterior parameters and derived rates per platform.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Stats{
		Platforms:         make(map[string]PlatformStats, len(r.params)),
		ExplorationFactor: r.exploration,
		Snapshots:         len(r.history),
	}
	for p, pr := range r.params {
		perf := r.perfFor(p)
		st.Platforms[p] = PlatformStats{
			Alpha:       pr.alpha,
			Beta:        pr.beta,
			CTR:         perf.CTR(),
			CVR:         perf.CVR(),
			ROAS:        perf.ROAS(),
			CPA:         perf.CPA(),
			MarginalROI: perf.MarginalROI(),
		}
	}
	if n := len(r.history); n > 0 {
		st.LastWeights = r.history[n-1].Weights
	}
	return st
}

func (r *Router) perfFor(p string) *PlatformPerformance {
	perf, ok := r.perf[p]
	if !ok {
		perf = &PlatformPerformance{Platform: p}
		r.perf[p] = perf
	}
	return perf
}

// normalizeWeights scales w to sum to 1; an all-zero vector becomes uniform.
func normalizeWeights(keys []string, w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(keys))
	if len(keys) == 0 {
		return out
	}
	var total float64
	for _, k := range keys {
		total += w[k]
	}
	for _, k := range keys {
		if total > 0 {
			out[k] = w[k] / total
		} else {
			out[k] = 1 / float64(len(keys))
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unionKeys(a, b map[string]float64) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	return sortedKeys(seen)
}

func topN(w map[string]float64, n int) string {
	keys := sortedKeys(w)
	sort.SliceStable(keys, func(i, j int) bool { return w[keys[i]] > w[keys[j]] })
	if len(keys) > n {
		keys = keys[:n]
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + strconvPct(w[k])
	}
	return strings.Join(parts, ", ")
}

func strconvPct(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 1, 64) + "%"
}

func normalize(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "unknown"
	}
	return p
}
