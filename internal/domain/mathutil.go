package domain

import "math"

// Clamp limita x al rango [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// SafeDiv divide protegiendo el denominador con un mínimo epsilon.
func SafeDiv(num, den, eps float64) float64 {
	return num / math.Max(eps, den)
}

// Round2 redondea a céntimos.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
