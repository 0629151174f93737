package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/revcore/internal/domain"
	"github.com/alejandrodnm/revcore/internal/kpi"
)

func newTestSink(t *testing.T) *Prometheus {
	t.Helper()
	p, err := NewPrometheus()
	require.NoError(t, err)
	return p
}

func TestObserveKPIs(t *testing.T) {
	p := newTestSink(t)
	p.ObserveKPIs(kpi.Report{
		CashPerToken:      0.2,
		PaybackDaysMedian: 7,
		WinRate:           0.5,
		TotalRevenue:      400,
		TotalOutcomes:     4,
		TopEngines:        []kpi.EngineRevenue{{Engine: "pitch", Revenue: 300}, {Engine: "pricing", Revenue: 100}},
	})

	assert.Equal(t, 0.2, testutil.ToFloat64(p.KPI.WithLabelValues("cash_per_token")))
	assert.Equal(t, 7.0, testutil.ToFloat64(p.KPI.WithLabelValues("payback_days_median")))
	assert.Equal(t, 400.0, testutil.ToFloat64(p.KPI.WithLabelValues("total_revenue")))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.Outcomes))
	assert.Equal(t, 300.0, testutil.ToFloat64(p.EngineRevenue.WithLabelValues("pitch")))

	// Un engine que sale del top desaparece.
	p.ObserveKPIs(kpi.Report{TopEngines: []kpi.EngineRevenue{{Engine: "pitch", Revenue: 350}}})
	assert.Equal(t, 1, testutil.CollectAndCount(p.EngineRevenue))
}

func TestObserveRecommendation(t *testing.T) {
	p := newTestSink(t)
	p.ObserveRecommendation(domain.Recommendation{Proceed: true, TargetPrice: 120, AllocatedAmount: 50})
	p.ObserveRecommendation(domain.Recommendation{Proceed: true, RequireEscrow: true, TargetPrice: 90, RiskScore: 0.6})
	p.ObserveRecommendation(domain.Recommendation{Block: true, RiskScore: 0.9})

	assert.Equal(t, 1.0, testutil.ToFloat64(p.Recommendations.WithLabelValues("proceed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Recommendations.WithLabelValues("escrow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Recommendations.WithLabelValues("block")))
}

func TestWriteTextfile(t *testing.T) {
	p := newTestSink(t)
	p.ObserveKPIs(kpi.Report{WinRate: 0.75})

	path := filepath.Join(t.TempDir(), "revcore.prom")
	require.NoError(t, p.WriteTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), `revcore_kpi{metric="win_rate"} 0.75`))
}
