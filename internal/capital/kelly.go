package capital

import (
	"math"

	"github.com/alejandrodnm/revcore/internal/domain"
)

// oddsScale converts EV into Kelly odds: b = ev/oddsScale.
// TODO: recalibrate against realized payout ratios once enough outcomes exist.
const oddsScale = 100.0

// Kelly returns the half-Kelly fraction for an opportunity, capped by limit.
// The win probability is haircut by half the risk before sizing. Returns 0
// when prob is outside (0,1), ev is not a positive finite number, or risk
// or limit is NaN.
func Kelly(ev, prob, risk, limit float64) float64 {
	if !(prob > 0 && prob < 1) || !(ev > 0) || math.IsInf(ev, 1) || math.IsNaN(risk) || !(limit > 0) {
		return 0
	}
	adj := prob * (1 - domain.Clamp(risk, 0, 1)*0.5)
	b := ev / oddsScale
	raw := domain.Clamp((b*adj-(1-adj))/b, 0, 1) * 0.5
	return domain.Clamp(raw, 0, limit)
}
