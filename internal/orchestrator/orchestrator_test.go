package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/revcore/internal/attention"
	"github.com/alejandrodnm/revcore/internal/attribution"
	"github.com/alejandrodnm/revcore/internal/bandit"
	"github.com/alejandrodnm/revcore/internal/capital"
	"github.com/alejandrodnm/revcore/internal/domain"
	"github.com/alejandrodnm/revcore/internal/experiment"
	"github.com/alejandrodnm/revcore/internal/kpi"
	"github.com/alejandrodnm/revcore/internal/pricing"
	"github.com/alejandrodnm/revcore/internal/uplift"
)

// --- fakes ---

type trace struct {
	mu    sync.Mutex
	calls []string
}

func (t *trace) add(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, s)
}

type fakePricer struct {
	tr   *trace
	base float64
	risk *domain.RiskAssessment
}

func (f *fakePricer) Quote(_ domain.Opportunity, base float64, risk *domain.RiskAssessment) pricing.Quote {
	f.tr.add("pricing")
	f.base = base
	f.risk = risk
	return pricing.Quote{TargetPrice: 120, MinPrice: 90, MaxPrice: 144}
}

func (f *fakePricer) RecordConversion(segment, tier string, converted, refunded bool) {
	f.tr.add("conversion:" + segment + ":" + tier)
}

type fakeBandit struct {
	tr     *trace
	ctx    domain.Context
	arms   []string
	update error
}

func (f *fakeBandit) SelectArm(c domain.Context, arms []string) (string, float64, error) {
	f.tr.add("select")
	f.ctx = c
	f.arms = arms
	return arms[0], 0.42, nil
}

func (f *fakeBandit) Update(c domain.Context, arm string, reward, maxReward float64) error {
	f.tr.add("bandit:" + arm)
	return f.update
}

type fakeAllocator struct {
	tr     *trace
	budget float64
}

func (f *fakeAllocator) Allocate(opps []domain.Opportunity, budget float64, caps capital.Caps) (capital.Result, error) {
	f.tr.add("allocate")
	f.budget = budget
	return capital.Result{Allocations: []capital.Allocation{{OppID: opps[0].ID, Amount: 55.5, KellyFraction: 0.12}}}, nil
}

type fakeRisk struct {
	tr    *trace
	ra    domain.RiskAssessment
	err   error
	calls int
}

func (f *fakeRisk) Assess(context.Context, domain.Opportunity) (domain.RiskAssessment, error) {
	f.tr.add("risk")
	f.calls++
	return f.ra, f.err
}

type fakeExperiments struct {
	tr      *trace
	engines []string
}

func (f *fakeExperiments) Assign(_ string, engines []string) (string, bool) {
	f.tr.add("assign")
	f.engines = engines
	return engines[0], true
}

func (f *fakeExperiments) RecordOutcome(engine string, success bool, revenue float64) {
	f.tr.add("experiments:" + engine)
}

type fakeKPI struct{ tr *trace }

func (f *fakeKPI) Emit(ev kpi.Event) { f.tr.add("kpi:" + ev.Engine) }
func (f *fakeKPI) KPIs() kpi.Report  { return kpi.Report{TotalOutcomes: 7} }

type fakeAttribution struct {
	tr      *trace
	engines []string
}

func (f *fakeAttribution) Record(engines []string, revenue, baseline float64) {
	f.tr.add("attribution")
	f.engines = engines
}

func (f *fakeAttribution) Value([]domain.Outcome, bool) map[string]float64 {
	return map[string]float64{"a": 1}
}

type fakeUplift struct {
	tr      *trace
	panic   bool
	holdout bool
	engine  string
}

func (f *fakeUplift) AssignTreatment(oppID, engine string) bool {
	f.tr.add("treatment")
	f.engine = engine
	return !f.holdout
}

func (f *fakeUplift) Record(domain.Outcome) error {
	f.tr.add("uplift")
	if f.panic {
		panic("boom")
	}
	return nil
}

func (f *fakeUplift) Estimate([]domain.Outcome) map[string]uplift.Estimate { return nil }

type fakeAttention struct{ tr *trace }

func (f *fakeAttention) Weights(map[string]attention.PlatformKPI) map[string]float64 {
	return map[string]float64{"upwork": 1}
}

func (f *fakeAttention) RecordOutcome(platform string, success bool, revenue float64) {
	f.tr.add("attention:" + platform)
}

type fixture struct {
	tr   *trace
	pr   *fakePricer
	bd   *fakeBandit
	al   *fakeAllocator
	rk   *fakeRisk
	ex   *fakeExperiments
	kp   *fakeKPI
	at   *fakeAttribution
	up   *fakeUplift
	att  *fakeAttention
	orch *Orchestrator
}

func newFixture() *fixture {
	tr := &trace{}
	f := &fixture{
		tr:  tr,
		pr:  &fakePricer{tr: tr},
		bd:  &fakeBandit{tr: tr},
		al:  &fakeAllocator{tr: tr},
		rk:  &fakeRisk{tr: tr},
		ex:  &fakeExperiments{tr: tr},
		kp:  &fakeKPI{tr: tr},
		at:  &fakeAttribution{tr: tr},
		up:  &fakeUplift{tr: tr},
		att: &fakeAttention{tr: tr},
	}
	f.orch = New(Config{}, Components{
		Pricer:      f.pr,
		Conversions: f.pr,
		Bandit:      f.bd,
		Allocator:   f.al,
		Risk:        f.rk,
		Experiments: f.ex,
		KPI:         f.kp,
		Attribution: f.at,
		Uplift:      f.up,
		Attention:   f.att,
	}, zerolog.Nop())
	return f
}

// --- Evaluate ---

func TestEvaluate_NoComponents(t *testing.T) {
	o := New(Config{}, Components{}, zerolog.Nop())
	rec, err := o.Evaluate(context.Background(), domain.Opportunity{})
	require.NoError(t, err)
	assert.True(t, rec.Proceed)
	assert.Equal(t, "unknown", rec.OppID)
	assert.Empty(t, rec.Actions)

	require.NoError(t, o.RecordOutcome(context.Background(), domain.Outcome{Engine: "x"}))

	st := o.Stats()
	assert.Zero(t, st.ModulesLoaded)
	assert.Equal(t, 10, st.ModulesTotal)

	_, ok := o.KPIs()
	assert.False(t, ok)
	assert.Empty(t, o.BudgetWeights(nil))
}

func TestEvaluate_TiersInOrderWithDefaults(t *testing.T) {
	f := newFixture()
	rec, err := f.orch.Evaluate(context.Background(), domain.Opportunity{ID: "opp-1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"risk", "pricing", "select", "allocate", "assign", "treatment"}, f.tr.calls)
	assert.Equal(t, 1, f.rk.calls)

	assert.Equal(t, defaultBase, f.pr.base)
	require.NotNil(t, f.pr.risk)
	assert.Equal(t, domain.NewContext("smb", "upwork", "default"), f.bd.ctx)
	assert.Equal(t, []string{"base", "premium", "enterprise"}, f.bd.arms)
	assert.Equal(t, defaultBudget, f.al.budget)
	assert.Equal(t, []string{"default"}, f.ex.engines)

	assert.True(t, rec.Proceed)
	assert.Equal(t, 120.0, rec.TargetPrice)
	assert.Equal(t, [2]float64{90, 144}, rec.PriceRange)
	assert.Equal(t, 55.5, rec.AllocatedAmount)
	assert.Equal(t, 0.12, rec.KellyFraction)
	assert.Equal(t, "base", rec.Arm)
	assert.Equal(t, 0.42, rec.ArmSample)
	assert.Equal(t, "default", rec.ExperimentEngine)
	assert.Equal(t, "default", rec.Engine)
	assert.Equal(t, "default", f.up.engine)
	assert.True(t, rec.Treatment)
	assert.Equal(t, []string{domain.ActionAllocate, domain.ActionExperiment}, rec.Actions)
}

func TestEvaluate_HoldoutCarriedOnRecommendation(t *testing.T) {
	f := newFixture()
	f.up.holdout = true
	f.orch = New(Config{}, Components{Uplift: f.up}, zerolog.Nop())

	rec, err := f.orch.Evaluate(context.Background(), domain.Opportunity{ID: "opp-1", Engines: []string{"followup", "pitch_v1"}})
	require.NoError(t, err)
	assert.Equal(t, "followup", rec.Engine)
	assert.Equal(t, "followup", f.up.engine)
	assert.False(t, rec.Treatment)
	assert.True(t, rec.Proceed)
}

func TestEvaluate_TreatmentDefaultsWithoutUplift(t *testing.T) {
	o := New(Config{}, Components{}, zerolog.Nop())
	rec, err := o.Evaluate(context.Background(), domain.Opportunity{ID: "opp-1"})
	require.NoError(t, err)
	assert.Equal(t, defaultEngine, rec.Engine)
	assert.True(t, rec.Treatment)
}

func TestEvaluate_TreatmentAssignmentStable(t *testing.T) {
	up := uplift.New(uplift.Config{HoldoutPct: 0.5, Src: rand.NewPCG(21, 22)}, zerolog.Nop())
	o := New(Config{}, Components{Uplift: up}, zerolog.Nop())
	ctx := context.Background()

	first := make(map[string]bool)
	for i := 0; i < 40; i++ {
		opp := domain.Opportunity{ID: fmt.Sprintf("opp-%d", i), Engines: []string{"pitch_v2"}}
		rec, err := o.Evaluate(ctx, opp)
		require.NoError(t, err)
		first[opp.ID] = rec.Treatment
	}
	var treated int
	for _, tr := range first {
		if tr {
			treated++
		}
	}
	// Both groups are populated at a 50% holdout.
	assert.Positive(t, treated)
	assert.Less(t, treated, 40)

	for round := 0; round < 3; round++ {
		for id, want := range first {
			rec, err := o.Evaluate(ctx, domain.Opportunity{ID: id, Engines: []string{"pitch_v2"}})
			require.NoError(t, err)
			assert.Equal(t, want, rec.Treatment, "opp %s round %d", id, round)
			assert.Equal(t, want, up.AssignTreatment(id, "pitch_v2"))
		}
	}
}

func TestEvaluate_BlockShortCircuits(t *testing.T) {
	f := newFixture()
	f.rk.ra = domain.RiskAssessment{Score: 0.9, Block: true, RequireEscrow: true}

	rec, err := f.orch.Evaluate(context.Background(), domain.Opportunity{ID: "opp-1", Value: 500})
	require.NoError(t, err)

	assert.False(t, rec.Proceed)
	assert.True(t, rec.Block)
	assert.Equal(t, []string{"BLOCK: High adversarial risk"}, rec.Actions)
	assert.Zero(t, rec.TargetPrice)
	assert.Zero(t, rec.AllocatedAmount)
	assert.False(t, rec.RequireEscrow)
	assert.NotContains(t, f.tr.calls, "assign")
}

func TestEvaluate_Escrow(t *testing.T) {
	f := newFixture()
	f.rk.ra = domain.RiskAssessment{Score: 0.6, RequireEscrow: true}

	rec, err := f.orch.Evaluate(context.Background(), domain.Opportunity{ID: "opp-1"})
	require.NoError(t, err)

	assert.True(t, rec.Proceed)
	assert.True(t, rec.RequireEscrow)
	assert.Contains(t, rec.Actions, domain.ActionRequireEscrow)
	assert.Equal(t, []string{"Elevated risk - escrow recommended"}, rec.Warnings)
	assert.Equal(t, 0.6, rec.RiskScore)
}

func TestEvaluate_RiskFailureIsBestEffort(t *testing.T) {
	f := newFixture()
	f.rk.err = errors.New("timeout")

	rec, err := f.orch.Evaluate(context.Background(), domain.Opportunity{ID: "opp-1"})
	require.NoError(t, err)
	assert.True(t, rec.Proceed)
	assert.Nil(t, f.pr.risk)
	assert.Equal(t, 1, f.rk.calls)
	assert.Equal(t, []string{"risk assessment unavailable"}, rec.Warnings)
}

func TestEvaluate_Cancelled(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orch.Evaluate(ctx, domain.Opportunity{ID: "opp-1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"risk", "pricing"}, f.tr.calls)
}

// --- RecordOutcome ---

func TestRecordOutcome_FanOutOrder(t *testing.T) {
	f := newFixture()
	err := f.orch.RecordOutcome(context.Background(), domain.Outcome{
		OppID:     "opp-1",
		Engine:    "pitch",
		Revenue:   200,
		Success:   true,
		Segment:   "smb",
		Platform:  "upwork",
		PriceTier: "mid",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"kpi:pitch",
		"bandit:pitch",
		"experiments:pitch",
		"attribution",
		"uplift",
		"attention:upwork",
		"conversion:smb:mid",
	}, f.tr.calls)
	assert.Equal(t, []string{"pitch"}, f.at.engines)
}

func TestRecordOutcome_DefaultEngines(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.orch.RecordOutcome(context.Background(), domain.Outcome{}))
	assert.Equal(t, []string{
		"kpi:unknown",
		"bandit:default",
		"experiments:unknown",
		"attribution",
		"uplift",
	}, f.tr.calls)
}

func TestRecordOutcome_BanditUpdatesSelectedArm(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.orch.RecordOutcome(context.Background(), domain.Outcome{
		Engine: "pitch_v2", Arm: "premium", Revenue: 50, Success: true,
	}))
	assert.Contains(t, f.tr.calls, "bandit:premium")
	assert.Contains(t, f.tr.calls, "experiments:pitch_v2")
	assert.NotContains(t, f.tr.calls, "bandit:pitch_v2")
}

func TestRecordOutcome_FailuresDoNotStopOthers(t *testing.T) {
	f := newFixture()
	errBandit := errors.New("bandit broke")
	f.bd.update = errBandit
	f.up.panic = true

	err := f.orch.RecordOutcome(context.Background(), domain.Outcome{
		Engine:      "pitch",
		EnginesUsed: []string{"pitch", "pricing"},
		Platform:    "linkedin",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBandit)
	assert.Contains(t, err.Error(), "uplift: panic: boom")

	assert.Contains(t, f.tr.calls, "attention:linkedin")
	assert.Contains(t, f.tr.calls, "experiments:pitch")
	assert.Equal(t, []string{"pitch", "pricing"}, f.at.engines)
}

// --- Accessors ---

func TestAccessors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	r, ok := f.orch.KPIs()
	require.True(t, ok)
	assert.Equal(t, 7, r.TotalOutcomes)

	assert.Equal(t, map[string]float64{"upwork": 1}, f.orch.BudgetWeights(nil))

	vals, err := f.orch.Attribution(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 1}, vals)

	assert.Equal(t, 10, f.orch.Stats().ModulesLoaded)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.orch.Uplift(cancelled, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

// --- Batch ---

func TestEvaluateBatch_PreservesOrder(t *testing.T) {
	f := newFixture()
	opps := make([]domain.Opportunity, 40)
	for i := range opps {
		opps[i] = domain.Opportunity{ID: fmt.Sprintf("opp-%d", i)}
	}

	results := f.orch.EvaluateBatch(context.Background(), opps, 4)
	require.Len(t, results, 40)
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, i, r.Index)
		assert.Equal(t, opps[i].ID, r.Recommendation.OppID)
	}
}

func TestEvaluateBatch_Cancelled(t *testing.T) {
	o := New(Config{}, Components{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := o.EvaluateBatch(ctx, []domain.Opportunity{{ID: "a"}, {ID: "b"}}, 0)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

// --- Wired with real components ---

func TestEndToEnd(t *testing.T) {
	log := zerolog.Nop()
	bh, err := bandit.New(bandit.Config{Src: rand.NewPCG(1, 2)}, log)
	require.NoError(t, err)
	pe := pricing.New(pricing.Config{}, log)
	ex := experiment.New(experiment.Config{Src: rand.NewPCG(3, 4)}, log)
	agg := kpi.New(kpi.Config{}, log)
	sh := attribution.New(attribution.Config{Src: rand.NewPCG(5, 6)}, log)
	up := uplift.New(uplift.Config{Src: rand.NewPCG(7, 8)}, log)
	router := attention.New(attention.Config{Src: rand.NewPCG(9, 10)}, log)

	o := New(Config{MaxReward: 1000}, Components{
		Pricer:      pe,
		Conversions: pe,
		Bandit:      bh,
		Allocator:   capital.New(capital.DefaultConfig(), log),
		Experiments: ex,
		KPI:         agg,
		Attribution: sh,
		Uplift:      up,
		Attention:   router,
	}, log)

	_, err = ex.Create("pitch v2", "pitch_v2", "pitch_v1", 1)
	require.NoError(t, err)

	ctx := context.Background()
	opp := domain.Opportunity{
		ID: "opp-1", Segment: "smb", Platform: "upwork", Value: 500, EV: 500,
		Probability: 0.6, Risk: 0.2, Budget: 2000, Engines: []string{"pitch_v2"},
	}
	rec, err := o.Evaluate(ctx, opp)
	require.NoError(t, err)
	assert.True(t, rec.Proceed)
	assert.Greater(t, rec.TargetPrice, 0.0)
	assert.LessOrEqual(t, rec.PriceRange[0], rec.TargetPrice)
	assert.LessOrEqual(t, rec.TargetPrice, rec.PriceRange[1])
	assert.Contains(t, []string{"base", "premium", "enterprise"}, rec.Arm)
	assert.Greater(t, rec.AllocatedAmount, 0.0)
	assert.Equal(t, "pitch_v2", rec.ExperimentEngine)

	for i := 0; i < 10; i++ {
		require.NoError(t, o.RecordOutcome(ctx, domain.Outcome{
			OppID: fmt.Sprintf("o-%d", i), Engine: "pitch_v2", Treatment: true,
			Revenue: 300, Success: true, Tokens: 100, Segment: "smb", Platform: "upwork", PriceTier: "mid",
		}))
	}

	r, ok := o.KPIs()
	require.True(t, ok)
	assert.Equal(t, 10, r.TotalOutcomes)
	assert.Equal(t, 3.0, r.CashPerToken)

	vals, err := o.Attribution(ctx, nil, false)
	require.NoError(t, err)
	assert.InDelta(t, 300, vals["pitch_v2"], 1e-9)

	assert.Equal(t, int64(10), bh.ArmStats()[bandit.LevelGlobal]["global:pitch_v2"].Pulls)

	w := o.BudgetWeights(nil)
	var sum float64
	for _, v := range w {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}
