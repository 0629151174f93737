// Package metrics exporta KPIs y recomendaciones como métricas Prometheus.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alejandrodnm/revcore/internal/domain"
	"github.com/alejandrodnm/revcore/internal/kpi"
)

const namespace = "revcore"

// Prometheus implementa ports.MetricsSink.
type Prometheus struct {
	registry *prometheus.Registry

	KPI             *prometheus.GaugeVec
	EngineRevenue   *prometheus.GaugeVec
	Outcomes        prometheus.Gauge
	Recommendations *prometheus.CounterVec
	TargetPrice     prometheus.Histogram
	Allocated       prometheus.Histogram
	RiskScore       prometheus.Histogram
}

// NewPrometheus crea las métricas y las registra en un registry propio.
func NewPrometheus() (*Prometheus, error) {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),

		KPI: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "kpi",
				Help:      "Current KPI rollup value by metric name",
			},
			[]string{"metric"},
		),

		EngineRevenue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "engine_revenue",
				Help:      "Revenue of the top engines in the current rollup",
			},
			[]string{"engine"},
		),

		Outcomes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "outcomes",
				Help:      "Outcomes folded into the current rollup",
			},
		),

		Recommendations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recommendations_total",
				Help:      "Recommendations produced, by decision",
			},
			[]string{"decision"},
		),

		TargetPrice: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "target_price",
				Help:      "Quoted target price of proceeding recommendations",
				Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
		),

		Allocated: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "allocated_amount",
				Help:      "Capital allocated per proceeding recommendation",
				Buckets:   []float64{0, 10, 25, 50, 100, 250, 500, 1000},
			},
		),

		RiskScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "risk_score",
				Help:      "Adversarial risk score of evaluated opportunities",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
	}

	for _, c := range []prometheus.Collector{
		p.KPI, p.EngineRevenue, p.Outcomes, p.Recommendations,
		p.TargetPrice, p.Allocated, p.RiskScore,
	} {
		if err := p.registry.Register(c); err != nil {
			return nil, fmt.Errorf("metrics.NewPrometheus: register: %w", err)
		}
	}
	return p, nil
}

// Registry devuelve el registry para exponerlo o volcarlo.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// ObserveKPIs publica el rollup actual. El ranking de engines se reemplaza
// entero para no dejar engines que salieron del top.
func (p *Prometheus) ObserveKPIs(r kpi.Report) {
	p.KPI.WithLabelValues("cash_per_token").Set(r.CashPerToken)
	p.KPI.WithLabelValues("payback_days_median").Set(float64(r.PaybackDaysMedian))
	p.KPI.WithLabelValues("cac_ltv_ratio").Set(r.CACLTVRatio)
	p.KPI.WithLabelValues("win_rate").Set(r.WinRate)
	p.KPI.WithLabelValues("refund_rate").Set(r.RefundRate)
	p.KPI.WithLabelValues("assured_share").Set(r.AssuredShare)
	p.KPI.WithLabelValues("total_revenue").Set(r.TotalRevenue)
	p.KPI.WithLabelValues("total_spend").Set(r.TotalSpend)
	p.Outcomes.Set(float64(r.TotalOutcomes))

	p.EngineRevenue.Reset()
	for _, e := range r.TopEngines {
		p.EngineRevenue.WithLabelValues(e.Engine).Set(e.Revenue)
	}
}

// ObserveRecommendation cuenta la decisión y registra precio, capital y riesgo.
func (p *Prometheus) ObserveRecommendation(rec domain.Recommendation) {
	p.RiskScore.Observe(rec.RiskScore)

	switch {
	case rec.Block:
		p.Recommendations.WithLabelValues("block").Inc()
		return
	case rec.RequireEscrow:
		p.Recommendations.WithLabelValues("escrow").Inc()
	default:
		p.Recommendations.WithLabelValues("proceed").Inc()
	}
	if rec.TargetPrice > 0 {
		p.TargetPrice.Observe(rec.TargetPrice)
	}
	p.Allocated.Observe(rec.AllocatedAmount)
}

// WriteTextfile vuelca el registry en formato texto (textfile collector).
func (p *Prometheus) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("metrics.WriteTextfile: %w", err)
	}
	return nil
}
