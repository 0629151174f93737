// Package synthetic genera oportunidades y outcomes simulados para ejercitar
// el core sin conectores reales.
package synthetic

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/revcore/internal/domain"
	"github.com/alejandrodnm/revcore/internal/pricing"
)

// Config controla la distribución del generador.
type Config struct {
	Batch      int              `yaml:"batch"`       // oportunidades por ciclo; default 20
	Platforms  []string         `yaml:"platforms"`   // default upwork/fiverr/linkedin/direct
	Engines    []string         `yaml:"engines"`     // default pitch_v1/pitch_v2/followup/case_study
	SKUs       []string         `yaml:"skus"`        // default web/automation/content
	MaxValue   float64          `yaml:"max_value"`   // default 8000
	RefundRate float64          `yaml:"refund_rate"` // P(refund | win); default 0.02
	Src        rand.Source      `yaml:"-"`
	Now        func() time.Time `yaml:"-"`
}

func (c *Config) setDefaults() {
	if c.Batch <= 0 {
		c.Batch = 20
	}
	if len(c.Platforms) == 0 {
		c.Platforms = []string{"upwork", "fiverr", "linkedin", "direct"}
	}
	if len(c.Engines) == 0 {
		c.Engines = []string{"pitch_v1", "pitch_v2", "followup", "case_study"}
	}
	if len(c.SKUs) == 0 {
		c.SKUs = []string{"web", "automation", "content"}
	}
	if c.MaxValue <= 0 {
		c.MaxValue = 8000
	}
	if c.RefundRate <= 0 {
		c.RefundRate = 0.02
	}
	if c.Src == nil {
		c.Src = rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Generator implementa ports.OpportunitySource y ports.OutcomeSource.
type Generator struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

// New crea un Generator.
func New(cfg Config) *Generator {
	cfg.setDefaults()
	return &Generator{cfg: cfg, rng: rand.New(cfg.Src)}
}

// FetchOpportunities genera cfg.Batch oportunidades con IDs uuid.
func (g *Generator) FetchOpportunities(ctx context.Context) ([]domain.Opportunity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	opps := make([]domain.Opportunity, 0, g.cfg.Batch)
	for i := 0; i < g.cfg.Batch; i++ {
		// Valores log-uniformes: muchos deals pequeños, pocos enterprise.
		value := math.Round(math.Exp(g.rng.Float64()*math.Log(g.cfg.MaxValue/20))*20*100) / 100
		prob := 0.15 + 0.7*g.rng.Float64()
		opps = append(opps, domain.Opportunity{
			ID:          uuid.NewString(),
			Segment:     pricing.InferSegment(value),
			Platform:    pick(g.rng, g.cfg.Platforms),
			SKU:         pick(g.rng, g.cfg.SKUs),
			Value:       value,
			EV:          math.Round(value*prob*100) / 100,
			Probability: prob,
			Risk:        0.6 * g.rng.Float64(),
			Urgency:     pick(g.rng, []string{"critical", "high", "normal", "low", "flexible"}),
			Verified:    g.rng.Float64() < 0.5,
			Engines:     g.coalition(),
		})
	}
	return opps, nil
}

// ResolveOutcomes simula el resultado de cada recomendación no bloqueada.
// La probabilidad de ganar es la de la oportunidad, penalizada por su riesgo.
// Engine, arm y tratamiento salen de la recomendación; el holdout cobra el 80%.
func (g *Generator) ResolveOutcomes(ctx context.Context, opps []domain.Opportunity, recs []domain.Recommendation) ([]domain.Outcome, error) {
	if len(opps) != len(recs) {
		return nil, fmt.Errorf("synthetic.ResolveOutcomes: %d opportunities, %d recommendations", len(opps), len(recs))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.cfg.Now()
	outs := make([]domain.Outcome, 0, len(recs))
	for i, rec := range recs {
		if rec.Block || !rec.Proceed {
			continue
		}
		opp := opps[i]

		engine := rec.Engine
		if engine == "" {
			engine = rec.ExperimentEngine
		}
		if engine == "" {
			engine = pick(g.rng, opp.Engines)
		}
		treatment := rec.Treatment
		success := g.rng.Float64() < opp.Probability*(1-0.5*opp.Risk)

		price := rec.TargetPrice
		if price <= 0 {
			price = opp.Value
		}
		out := domain.Outcome{
			OppID:       opp.ID,
			Engine:      engine,
			EnginesUsed: opp.Engines,
			Treatment:   treatment,
			Arm:         rec.Arm,
			Spend:       math.Round(price*0.05*100) / 100,
			Tokens:      int64(500 + g.rng.IntN(4500)),
			Success:     success,
			Assured:     opp.Verified || rec.RequireEscrow,
			Segment:     opp.Segment,
			Platform:    opp.Platform,
			SKU:         opp.SKU,
			PriceTier:   priceTier(price, rec.PriceRange),
			Timestamp:   now,
		}
		if success {
			out.Revenue = price
			out.PaybackDays = 1 + g.rng.IntN(30)
			out.Refunded = g.rng.Float64() < g.cfg.RefundRate
			if !treatment {
				out.Revenue = math.Round(price*0.8*100) / 100
			}
		}
		out.Baseline = math.Round(out.Revenue*0.7*100) / 100
		outs = append(outs, out)
	}
	return outs, nil
}

// coalition elige entre 1 y 3 engines distintos.
func (g *Generator) coalition() []string {
	n := 1 + g.rng.IntN(min(3, len(g.cfg.Engines)))
	perm := g.rng.Perm(len(g.cfg.Engines))
	out := make([]string, n)
	for i := range out {
		out[i] = g.cfg.Engines[perm[i]]
	}
	return out
}

// priceTier ubica el precio en el tercio inferior, medio o superior del rango.
func priceTier(price float64, r [2]float64) string {
	span := r[1] - r[0]
	if span <= 0 {
		return "mid"
	}
	switch pos := (price - r[0]) / span; {
	case pos < 1.0/3:
		return "low"
	case pos > 2.0/3:
		return "high"
	}
	return "mid"
}

func pick(rng *rand.Rand, xs []string) string {
	if len(xs) == 0 {
		return ""
	}
	return xs[rng.IntN(len(xs))]
}

// FileSource lee un lote fijo de oportunidades desde un YAML.
type FileSource struct {
	path string
}

// NewFileSource crea un FileSource sobre path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// FetchOpportunities relee el archivo en cada ciclo; las oportunidades sin ID reciben un uuid.
func (f *FileSource) FetchOpportunities(_ context.Context) ([]domain.Opportunity, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("synthetic.FileSource: read %q: %w", f.path, err)
	}
	var doc struct {
		Opportunities []domain.Opportunity `yaml:"opportunities"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("synthetic.FileSource: parse %q: %w", f.path, err)
	}
	for i := range doc.Opportunities {
		if doc.Opportunities[i].ID == "" {
			doc.Opportunities[i].ID = uuid.NewString()
		}
	}
	return doc.Opportunities, nil
}
