package riskguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/revcore/internal/domain"
	"github.com/alejandrodnm/revcore/internal/ports"
)

// ErrUnavailable se devuelve cuando el breaker está abierto.
var ErrUnavailable = errors.New("riskguard: scorer unavailable")

// GuardedConfig configura el wrapper de resiliencia.
type GuardedConfig struct {
	Name                string        `yaml:"name"`
	RatePerSec          float64       `yaml:"rate_per_sec"`         // default 50
	Burst               int           `yaml:"burst"`                // default 10
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"` // abre el breaker; default 3
	OpenTimeout         time.Duration `yaml:"open_timeout"`         // default 60s
}

func (c *GuardedConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "risk-scorer"
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 50
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 3
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 60 * time.Second
	}
}

// Guarded envuelve un RiskScorer (típicamente remoto) con rate limiting y
// circuit breaker. Con el breaker abierto falla rápido con ErrUnavailable y
// el orquestador trata el tier como no disponible.
type Guarded struct {
	inner   ports.RiskScorer
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewGuarded crea el wrapper.
func NewGuarded(inner ports.RiskScorer, cfg GuardedConfig, log zerolog.Logger) *Guarded {
	cfg.setDefaults()
	l := log.With().Str("component", "riskguard").Str("breaker", cfg.Name).Logger()

	st := gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn().Str("from", from.String()).Str("to", to.String()).Msg("breaker state change")
		},
	}
	return &Guarded{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		cb:      gobreaker.NewCircuitBreaker(st),
		log:     l,
	}
}

// Assess implementa ports.RiskScorer.
func (g *Guarded) Assess(ctx context.Context, opp domain.Opportunity) (domain.RiskAssessment, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("riskguard.Assess: rate limit: %w", err)
	}

	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.Assess(ctx, opp)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.RiskAssessment{}, fmt.Errorf("riskguard.Assess: %w", ErrUnavailable)
	}
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("riskguard.Assess: %w", err)
	}
	return res.(domain.RiskAssessment), nil
}

// State devuelve el estado actual del breaker.
func (g *Guarded) State() gobreaker.State {
	return g.cb.State()
}
