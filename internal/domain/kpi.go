package domain

import "time"

// KPISnapshot es una foto puntual de los KPIs de eficiencia de caja.
type KPISnapshot struct {
	Timestamp         time.Time `msgpack:"ts"`
	CashPerToken      float64   `msgpack:"cash_per_token"`
	PaybackDaysMedian int       `msgpack:"payback_days_median"`
	CACLTVRatio       float64   `msgpack:"cac_ltv_ratio"`
	WinRate           float64   `msgpack:"win_rate"`
	RefundRate        float64   `msgpack:"refund_rate"`
	AssuredShare      float64   `msgpack:"assured_share"`
	TotalRevenue      float64   `msgpack:"total_revenue"`
	TotalSpend        float64   `msgpack:"total_spend"`
}

// Metric devuelve el valor de una métrica por nombre ("" si no existe → 0, false).
func (s KPISnapshot) Metric(name string) (float64, bool) {
	switch name {
	case "cash_per_token":
		return s.CashPerToken, true
	case "payback_days_median":
		return float64(s.PaybackDaysMedian), true
	case "cac_ltv_ratio":
		return s.CACLTVRatio, true
	case "win_rate":
		return s.WinRate, true
	case "refund_rate":
		return s.RefundRate, true
	case "assured_share":
		return s.AssuredShare, true
	case "total_revenue":
		return s.TotalRevenue, true
	case "total_spend":
		return s.TotalSpend, true
	}
	return 0, false
}
