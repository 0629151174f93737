package attention

import "math"

// PlatformPerformance accumulates funnel counters for one platform.
// Rates are derived on read and never stored.
type PlatformPerformance struct {
	Platform    string
	Impressions int64
	Clicks      int64
	Conversions int64
	Revenue     float64
	Spend       float64
}

// CTR is clicks per impression.
func (p PlatformPerformance) CTR() float64 {
	return float64(p.Clicks) / math.Max(1, float64(p.Impressions))
}

// CVR is conversions per click.
func (p PlatformPerformance) CVR() float64 {
	return float64(p.Conversions) / math.Max(1, float64(p.Clicks))
}

// ROAS is revenue over spend, with spend floored at 0.01.
func (p PlatformPerformance) ROAS() float64 {
	return p.Revenue / math.Max(0.01, p.Spend)
}

// CPA is spend per conversion.
func (p PlatformPerformance) CPA() float64 {
	return p.Spend / math.Max(1, float64(p.Conversions))
}

// MarginalROI discounts ROAS by 1/(1+spend/1000) to model diminishing returns.
func (p PlatformPerformance) MarginalROI() float64 {
	return p.ROAS() / (1 + p.Spend/1000)
}

// PlatformKPI is an external KPI report for one platform. It replaces the
// platform's funnel counters wholesale.
type PlatformKPI struct {
	Impressions int64   `json:"impressions" yaml:"impressions"`
	Clicks      int64   `json:"clicks" yaml:"clicks"`
	Conversions int64   `json:"conversions" yaml:"conversions"`
	Revenue     float64 `json:"revenue" yaml:"revenue"`
	Spend       float64 `json:"spend" yaml:"spend"`
}

type prior struct{ alpha, beta float64 }

// defaultPriors seeds the conversion posterior of the known platforms.
var defaultPriors = map[string]prior{
	"upwork":      {2, 8},
	"fiverr":      {3, 12},
	"linkedin":    {4, 10},
	"github":      {3, 7},
	"producthunt": {2, 10},
	"reddit":      {1, 5},
	"hackernews":  {2, 8},
	"direct":      {5, 5},
}
