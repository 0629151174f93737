package domain

import "strings"

// Opportunity es una oportunidad de negocio tal como la entrega discovery/enrichment.
// Dentro del core es de solo lectura: ningún componente la muta.
type Opportunity struct {
	ID          string   `json:"id" yaml:"id"`
	Segment     string   `json:"segment" yaml:"segment"`   // enterprise | smb | startup | freelancer | consumer
	Platform    string   `json:"platform" yaml:"platform"` // upwork | fiverr | linkedin | ...
	SKU         string   `json:"sku" yaml:"sku"`
	Value       float64  `json:"value" yaml:"value"`             // valor nominal del deal
	EV          float64  `json:"ev" yaml:"ev"`                   // valor esperado (tiene prioridad sobre Value)
	Probability float64  `json:"probability" yaml:"probability"` // P(win), debe estar en (0,1) para Kelly
	Risk        float64  `json:"risk" yaml:"risk"`               // 0 = sin riesgo, 1 = máximo
	Budget      float64  `json:"budget" yaml:"budget"`
	Urgency     string   `json:"urgency" yaml:"urgency"` // critical | high | normal | low | flexible
	Description string   `json:"description" yaml:"description"`
	Verified    bool     `json:"verified" yaml:"verified"` // fuente verificada por enrichment
	Engines     []string `json:"engines" yaml:"engines"`   // engines de ejecución disponibles
}

// ExpectedValue devuelve EV si está informado; si no, cae a Value.
func (o Opportunity) ExpectedValue() float64 {
	if o.EV != 0 {
		return o.EV
	}
	return o.Value
}

// Context devuelve el contexto jerárquico (segment, platform, sku) normalizado.
// Los campos vacíos se sustituyen por "unknown" para que las claves de los
// bandits siempre estén completamente cualificadas.
func (o Opportunity) Context() Context {
	return NewContext(o.Segment, o.Platform, o.SKU)
}

// Context identifica la posición de una decisión en la jerarquía
// global → segment → platform → sku.
type Context struct {
	Segment  string
	Platform string
	SKU      string
}

// NewContext normaliza los tres niveles a minúsculas, con "unknown" por defecto.
func NewContext(segment, platform, sku string) Context {
	return Context{
		Segment:  orUnknown(segment),
		Platform: orUnknown(platform),
		SKU:      orUnknown(sku),
	}
}

// Key devuelve "segment:platform:sku".
func (c Context) Key() string {
	return c.Segment + ":" + c.Platform + ":" + c.SKU
}

func orUnknown(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
