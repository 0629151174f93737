package domain

import "time"

// Outcome es el resultado de ejecutar una oportunidad, producido por la capa
// de ejecución. Es un valor inmutable: cada learner recibe su propia copia.
type Outcome struct {
	OppID       string
	Engine      string   // engine que ejecutó la oportunidad
	EnginesUsed []string // coalición completa (para Shapley); vacío = solo Engine
	Treatment   bool     // true si el engine se aplicó (no holdout)
	Arm         string   // arm del bandit elegido en la recomendación; vacío = Engine
	Revenue     float64
	Baseline    float64 // revenue contrafactual para calcular delta
	Spend       float64
	Tokens      int64
	Success     bool
	Assured     bool
	Refunded    bool
	PaybackDays int

	// Contexto para los bandits y el pricing.
	Segment   string
	Platform  string
	SKU       string
	PriceTier string // low | mid | high

	Timestamp time.Time
}

// Coalition devuelve el conjunto de engines que participaron en el outcome.
func (o Outcome) Coalition() []string {
	if len(o.EnginesUsed) > 0 {
		return o.EnginesUsed
	}
	if o.Engine == "" {
		return nil
	}
	return []string{o.Engine}
}

// Delta devuelve revenue - baseline.
func (o Outcome) Delta() float64 {
	return o.Revenue - o.Baseline
}

// Context devuelve el contexto jerárquico del outcome.
func (o Outcome) Context() Context {
	return NewContext(o.Segment, o.Platform, o.SKU)
}
