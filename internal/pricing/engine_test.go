package pricing

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/revcore/internal/domain"
)

var (
	mondayMorning = time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC)
	mondayEvening = time.Date(2026, 10, 12, 20, 0, 0, 0, time.UTC)
	saturday      = time.Date(2026, 10, 17, 11, 0, 0, 0, time.UTC)
)

func newTestEngine(at time.Time) *Engine {
	return New(Config{Now: func() time.Time { return at }}, zerolog.Nop())
}

// --- Quote ---

func TestQuote_EnterpriseOnFiverr(t *testing.T) {
	e := newTestEngine(mondayMorning)
	q := e.Quote(domain.Opportunity{ID: "b", Segment: "enterprise", Platform: "fiverr"}, 1000, nil)

	cost := 1000 * 0.6
	assert.LessOrEqual(t, q.TargetPrice, 1000*1.0)
	assert.GreaterOrEqual(t, q.MinPrice, cost*1.2)
	assert.Equal(t, 1000.0, q.TargetPrice)
	assert.Equal(t, 900.0, q.MinPrice)
	assert.Equal(t, 1200.0, q.MaxPrice)
	assert.Equal(t, []string{GuardrailPlatformCeiling}, q.GuardrailsApplied)
	assert.Equal(t, Premium, q.Strategy)
	assert.Equal(t, 0.3, q.Elasticity)
}

func TestQuote_MinMarginFloor(t *testing.T) {
	e := newTestEngine(mondayEvening)
	opp := domain.Opportunity{Segment: "consumer", Platform: "fiverr", Urgency: "flexible"}
	q := e.Quote(opp, 1000, &domain.RiskAssessment{Score: 0})

	assert.Equal(t, 720.0, q.TargetPrice)
	assert.Equal(t, 660.0, q.MinPrice)
	assert.Equal(t, 864.0, q.MaxPrice)
	assert.Equal(t, []string{GuardrailMinMargin}, q.GuardrailsApplied)
	assert.Equal(t, Competitive, q.Strategy)
}

func TestQuote_GuardrailOrder(t *testing.T) {
	e := newTestEngine(mondayEvening)
	e.RecordConversion("consumer", "low", false, true)
	require.Greater(t, e.RefundRate(), 0.015)

	opp := domain.Opportunity{Segment: "consumer", Platform: "fiverr", Urgency: "flexible"}
	q := e.Quote(opp, 1000, &domain.RiskAssessment{Score: 0})
	assert.Equal(t, []string{GuardrailRefundCeiling, GuardrailMinMargin}, q.GuardrailsApplied)
	assert.Equal(t, 720.0, q.TargetPrice)
}

func TestQuote_PlatformCeiling(t *testing.T) {
	e := newTestEngine(mondayEvening)
	q := e.Quote(domain.Opportunity{Segment: "enterprise", Platform: "direct", Urgency: "critical"}, 1000, nil)
	assert.Equal(t, 2000.0, q.TargetPrice)
	assert.Equal(t, 1800.0, q.MinPrice)
	assert.Equal(t, 2400.0, q.MaxPrice)
	assert.Equal(t, []string{GuardrailPlatformCeiling}, q.GuardrailsApplied)
}

func TestQuote_Multipliers(t *testing.T) {
	e := newTestEngine(mondayEvening)
	opp := domain.Opportunity{Segment: "startup", Platform: "linkedin"}
	q := e.Quote(opp, 100, &domain.RiskAssessment{Score: 1})

	// 100 · 1.0 · 1.0 · 1.15 · 1.0 · 1.0 · 1.3, just under the 1.5 ceiling
	assert.InDelta(t, 149.5, q.TargetPrice, 0.01)
	assert.Empty(t, q.GuardrailsApplied)
	assert.Equal(t, Dynamic, q.Strategy)

	factors := make(map[string]float64, len(q.Adjustments))
	for _, a := range q.Adjustments {
		factors[a.Factor] = a.Multiplier
	}
	assert.InDelta(t, 1.3, factors["risk"], 1e-12)
	assert.InDelta(t, 1.15, factors["platform"], 1e-12)
	assert.Equal(t, 1.0, factors["urgency"])
}

func TestQuote_RangeInvariant(t *testing.T) {
	e := newTestEngine(mondayMorning)
	for seg := range segments {
		for _, plat := range []string{"upwork", "fiverr", "linkedin", "direct", "github", "mystery"} {
			for urg := range urgency {
				q := e.Quote(domain.Opportunity{Segment: seg, Platform: plat, Urgency: urg}, 850, nil)
				assert.LessOrEqual(t, q.MinPrice, q.TargetPrice, "%s/%s/%s", seg, plat, urg)
				assert.LessOrEqual(t, q.TargetPrice, q.MaxPrice)
				assert.GreaterOrEqual(t, q.MinPrice, 850*0.6*1.1-0.01)
			}
		}
	}
}

func TestQuote_SegmentInference(t *testing.T) {
	e := newTestEngine(mondayEvening)
	q := e.Quote(domain.Opportunity{Value: 6000, Platform: "direct"}, 6000, nil)
	assert.Equal(t, "enterprise", q.Segment)

	assert.Equal(t, "smb", InferSegment(1000))
	assert.Equal(t, "startup", InferSegment(300))
	assert.Equal(t, "freelancer", InferSegment(50))
	assert.Equal(t, "consumer", InferSegment(49.99))
}

func TestDemandMultiplier(t *testing.T) {
	assert.Equal(t, 1.1, newTestEngine(mondayMorning).demandMultiplier())
	assert.Equal(t, 1.0, newTestEngine(mondayEvening).demandMultiplier())
	assert.Equal(t, 0.95, newTestEngine(saturday).demandMultiplier())
}

func TestComplexityMultiplier(t *testing.T) {
	assert.Equal(t, 1.0, complexityMultiplier(""))
	assert.Equal(t, 1.1, complexityMultiplier(string(make([]byte, 501))))
	assert.Equal(t, 1.3, complexityMultiplier(string(make([]byte, 2001))))
}

// --- Learning ---

func TestRecordConversion_RunningAverage(t *testing.T) {
	e := newTestEngine(mondayMorning)
	assert.InDelta(t, 0.53, e.Confidence("smb"), 1e-12)

	e.RecordConversion("smb", "mid", true, false)
	e.RecordConversion("smb", "mid", false, false)

	st := e.Stats().Tiers["smb"]["mid"]
	assert.InDelta(t, 1.0/3, st.ConversionRate, 1e-12)
	assert.Equal(t, 3, st.Trials)
	assert.InDelta(t, 0.55, e.Confidence("smb"), 1e-12)
}

func TestRecordConversion_RefundEMA(t *testing.T) {
	e := newTestEngine(mondayMorning)
	e.RecordConversion("smb", "low", true, false)
	assert.InDelta(t, 0.0099, e.RefundRate(), 1e-12)

	e.RecordConversion("smb", "low", true, true)
	assert.InDelta(t, 0.0099*0.95+0.05, e.RefundRate(), 1e-12)
}

func TestRecordConversion_UnknownSegmentIgnored(t *testing.T) {
	e := newTestEngine(mondayMorning)
	e.RecordConversion("galactic", "mid", true, true)
	assert.Equal(t, 0.01, e.RefundRate())
	assert.NotContains(t, e.Stats().Tiers, "galactic")
}
