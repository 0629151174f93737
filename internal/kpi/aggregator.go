// Package kpi keeps running cash-efficiency totals over execution outcomes and
// turns them into point-in-time snapshots.
package kpi

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/alejandrodnm/revcore/internal/domain"
)

const (
	topEngines      = 5
	unknownEngine   = "unknown"
	defaultMaxSnaps = 10000
)

// Event is one KPI observation, usually derived from a domain.Outcome.
type Event struct {
	OppID       string
	Engine      string
	Revenue     float64
	Spend       float64
	Tokens      int64
	Success     bool
	Assured     bool
	Refunded    bool
	PaybackDays int // 0 = unknown
	Timestamp   time.Time
}

// EventFromOutcome maps an outcome onto a KPI event.
func EventFromOutcome(o domain.Outcome) Event {
	return Event{
		OppID:       o.OppID,
		Engine:      o.Engine,
		Revenue:     o.Revenue,
		Spend:       o.Spend,
		Tokens:      o.Tokens,
		Success:     o.Success,
		Assured:     o.Assured,
		Refunded:    o.Refunded,
		PaybackDays: o.PaybackDays,
		Timestamp:   o.Timestamp,
	}
}

// EngineRevenue is one row of the engine revenue ranking.
type EngineRevenue struct {
	Engine  string
	Revenue float64
}

// Report is the current KPI rollup. Ratios are rounded to 4 decimals and
// money totals to cents.
type Report struct {
	CashPerToken      float64
	PaybackDaysMedian int
	CACLTVRatio       float64
	WinRate           float64
	RefundRate        float64
	AssuredShare      float64
	TotalRevenue      float64
	TotalSpend        float64
	TotalOutcomes     int
	TopEngines        []EngineRevenue
	Timestamp         time.Time
}

// EngineKPIs summarizes one engine.
type EngineKPIs struct {
	Engine     string
	Revenue    float64
	Outcomes   int
	WinRate    float64
	AvgRevenue float64
}

// TrendPoint is one value of a metric time series.
type TrendPoint struct {
	Timestamp time.Time
	Value     float64
}

// Config configures the Aggregator.
type Config struct {
	MaxSnapshots int              `yaml:"max_snapshots"` // oldest dropped beyond this; default 10000
	Now          func() time.Time `yaml:"-"`
}

type engineTotals struct {
	revenue  float64
	outcomes int
	wins     int
}

// Aggregator is the streaming KPI rollup.
type Aggregator struct {
	mu sync.Mutex

	events   int
	revenue  float64
	spend    float64
	tokens   int64
	outcomes int
	wins     int
	refunds  int
	assured  int
	payback  []int
	engines  map[string]*engineTotals

	snapshots []domain.KPISnapshot
	maxSnaps  int
	now       func() time.Time
	log       zerolog.Logger
}

// New creates an empty Aggregator.
func New(cfg Config, log zerolog.Logger) *Aggregator {
	if cfg.MaxSnapshots <= 0 {
		cfg.MaxSnapshots = defaultMaxSnaps
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Aggregator{
		engines:  make(map[string]*engineTotals),
		maxSnaps: cfg.MaxSnapshots,
		now:      cfg.Now,
		log:      log.With().Str("component", "kpi").Logger(),
	}
}

// Emit folds one event into the running totals.
func (a *Aggregator) Emit(ev Event) {
	engine := ev.Engine
	if engine == "" {
		engine = unknownEngine
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.events++
	a.revenue += ev.Revenue
	a.spend += ev.Spend
	a.tokens += ev.Tokens
	a.outcomes++
	if ev.Success {
		a.wins++
	}
	if ev.Refunded {
		a.refunds++
	}
	if ev.Assured {
		a.assured++
	}
	if ev.PaybackDays > 0 {
		a.payback = append(a.payback, ev.PaybackDays)
	}

	et, ok := a.engines[engine]
	if !ok {
		et = &engineTotals{}
		a.engines[engine] = et
	}
	et.revenue += ev.Revenue
	et.outcomes++
	if ev.Success {
		et.wins++
	}
}

// KPIs computes the current report.
func (a *Aggregator) KPIs() Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.report()
}

func (a *Aggregator) report() Report {
	outcomes := math.Max(1, float64(a.outcomes))

	cac := 0.0
	if a.revenue > 0 {
		cac = a.spend / math.Max(1, a.revenue)
	}

	ranking := make([]EngineRevenue, 0, len(a.engines))
	for name, et := range a.engines {
		ranking = append(ranking, EngineRevenue{Engine: name, Revenue: et.revenue})
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].Revenue != ranking[j].Revenue {
			return ranking[i].Revenue > ranking[j].Revenue
		}
		return ranking[i].Engine < ranking[j].Engine
	})
	if len(ranking) > topEngines {
		ranking = ranking[:topEngines]
	}

	return Report{
		CashPerToken:      round4(a.revenue / math.Max(1, float64(a.tokens))),
		PaybackDaysMedian: a.paybackMedian(),
		CACLTVRatio:       round4(cac),
		WinRate:           round4(float64(a.wins) / outcomes),
		RefundRate:        round4(float64(a.refunds) / outcomes),
		AssuredShare:      round4(float64(a.assured) / outcomes),
		TotalRevenue:      domain.Round2(a.revenue),
		TotalSpend:        domain.Round2(a.spend),
		TotalOutcomes:     a.outcomes,
		TopEngines:        ranking,
		Timestamp:         a.now().UTC(),
	}
}

// paybackMedian returns the element at len/2 of the sorted samples. For even
// counts that is the upper middle, not the mean of the two.
func (a *Aggregator) paybackMedian() int {
	if len(a.payback) == 0 {
		return 0
	}
	sorted := append([]int(nil), a.payback...)
	sort.Ints(sorted)
	return sorted[len(sorted)/2]
}

// EngineKPIs returns the totals of one engine (zero values if never seen).
func (a *Aggregator) EngineKPIs(engine string) EngineKPIs {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := EngineKPIs{Engine: engine}
	et, ok := a.engines[engine]
	if !ok {
		return out
	}
	n := math.Max(1, float64(et.outcomes))
	out.Revenue = et.revenue
	out.Outcomes = et.outcomes
	out.WinRate = float64(et.wins) / n
	out.AvgRevenue = et.revenue / n
	return out
}

// Snapshot appends the current KPIs to the time series and returns them.
func (a *Aggregator) Snapshot() domain.KPISnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := a.report()
	snap := domain.KPISnapshot{
		Timestamp:         r.Timestamp,
		CashPerToken:      r.CashPerToken,
		PaybackDaysMedian: r.PaybackDaysMedian,
		CACLTVRatio:       r.CACLTVRatio,
		WinRate:           r.WinRate,
		RefundRate:        r.RefundRate,
		AssuredShare:      r.AssuredShare,
		TotalRevenue:      r.TotalRevenue,
		TotalSpend:        r.TotalSpend,
	}
	a.snapshots = append(a.snapshots, snap)
	if len(a.snapshots) > a.maxSnaps {
		a.snapshots = a.snapshots[len(a.snapshots)-a.maxSnaps:]
	}

	a.log.Debug().
		Float64("cash_per_token", snap.CashPerToken).
		Float64("win_rate", snap.WinRate).
		Float64("revenue", snap.TotalRevenue).
		Msg("kpi snapshot")
	return snap
}

// Trend returns metric values of the snapshots taken within the last hours.
// Unknown metrics yield 0 for every point.
func (a *Aggregator) Trend(metric string, hours int) []TrendPoint {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().UTC().Add(-time.Duration(hours) * time.Hour)
	var out []TrendPoint
	for _, s := range a.snapshots {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		v, _ := s.Metric(metric)
		out = append(out, TrendPoint{Timestamp: s.Timestamp, Value: v})
	}
	return out
}

// Snapshots returns a copy of the snapshot series.
func (a *Aggregator) Snapshots() []domain.KPISnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.KPISnapshot(nil), a.snapshots...)
}

// Reset clears every running total. The snapshot series is kept.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = 0
	a.revenue = 0
	a.spend = 0
	a.tokens = 0
	a.outcomes = 0
	a.wins = 0
	a.refunds = 0
	a.assured = 0
	a.payback = nil
	a.engines = make(map[string]*engineTotals)
}

// Stats describes the aggregator itself.
type Stats struct {
	TotalEvents    int
	Snapshots      int
	EnginesTracked int
	KPIs           Report
}

func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		TotalEvents:    a.events,
		Snapshots:      len(a.snapshots),
		EnginesTracked: len(a.engines),
		KPIs:           a.report(),
	}
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}
