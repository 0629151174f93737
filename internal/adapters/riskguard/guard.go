// Package riskguard implementa ports.RiskScorer con heurísticas adversariales
// (sybil, bots, baja intención, patrones de fraude) y un wrapper con circuit
// breaker y rate limiting para scorers remotos.
package riskguard

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/alejandrodnm/revcore/internal/domain"
)

// Flags que puede emitir el guard.
const (
	FlagSybil     = "sybil_suspected"
	FlagBot       = "bot_suspected"
	FlagLowIntent = "low_intent"
	FlagFraud     = "fraud_pattern_match"
)

const (
	sybilRepeats    = 3   // apariciones previas del mismo fingerprint antes de marcar
	botThreshold    = 0.5 // bot score a partir del cual se marca
	lowIntent       = 0.3
	fraudMatch      = 0.6
	sybilWeight     = 0.3
	botWeight       = 0.25
	intentWeight    = 0.2
	fraudWeight     = 0.3
	urgencyFraud    = 0.3
	inflatedFraud   = 0.2
	unverifiedFraud = 0.25
)

var urgencyWords = []string{"asap", "immediately", "right now", "emergency"}

// Config contiene los umbrales de acción.
type Config struct {
	VerifyAbove  float64 `yaml:"verify_above"` // default 0.3
	EscrowAbove  float64 `yaml:"escrow_above"` // default 0.5
	BlockAbove   float64 `yaml:"block_above"`  // default 0.85
	Fingerprints int     `yaml:"fingerprints"` // fingerprints recordados (LRU); default 100000
}

func (c *Config) setDefaults() {
	if c.VerifyAbove <= 0 {
		c.VerifyAbove = 0.3
	}
	if c.EscrowAbove <= 0 {
		c.EscrowAbove = 0.5
	}
	if c.BlockAbove <= 0 {
		c.BlockAbove = 0.85
	}
	if c.Fingerprints <= 0 {
		c.Fingerprints = 100000
	}
}

// Guard puntúa oportunidades localmente. Es seguro para uso concurrente.
type Guard struct {
	mu      sync.Mutex
	cfg     Config
	seen    *lru.Cache[string, int]
	blocked int
	flagged int
	total   int
	log     zerolog.Logger
}

// New crea un Guard.
func New(cfg Config, log zerolog.Logger) (*Guard, error) {
	cfg.setDefaults()
	seen, err := lru.New[string, int](cfg.Fingerprints)
	if err != nil {
		return nil, err
	}
	return &Guard{
		cfg:  cfg,
		seen: seen,
		log:  log.With().Str("component", "riskguard").Logger(),
	}, nil
}

// Assess implementa ports.RiskScorer. Cada llamada cuenta el fingerprint de la
// oportunidad, así que evaluar dos veces la misma oportunidad no es neutro.
func (g *Guard) Assess(_ context.Context, opp domain.Opportunity) (domain.RiskAssessment, error) {
	var (
		flags []string
		score float64
	)

	fp := fingerprint(opp)

	g.mu.Lock()
	prev, _ := g.seen.Get(fp)
	g.seen.Add(fp, prev+1)
	g.mu.Unlock()

	if prev > sybilRepeats {
		flags = append(flags, FlagSybil)
		score += sybilWeight
	}

	if bot := botScore(opp.Description); bot > botThreshold {
		flags = append(flags, FlagBot)
		score += bot * botWeight
	}

	if intent := intentScore(opp); intent < lowIntent {
		flags = append(flags, FlagLowIntent)
		score += (1 - intent) * intentWeight
	}

	if fraud := fraudScore(opp); fraud > fraudMatch {
		flags = append(flags, FlagFraud)
		score += fraud * fraudWeight
	}

	score = math.Min(1, score)
	ra := domain.RiskAssessment{
		Score:               math.Round(score*1000) / 1000,
		Flags:               flags,
		RequireEscrow:       score > g.cfg.EscrowAbove,
		RequireVerification: score > g.cfg.VerifyAbove,
		Block:               score > g.cfg.BlockAbove,
	}

	g.mu.Lock()
	g.total++
	if ra.Block {
		g.blocked++
	}
	if len(flags) > 0 {
		g.flagged++
	}
	g.mu.Unlock()

	if len(flags) > 0 {
		g.log.Warn().Str("opp_id", opp.ID).Strs("flags", flags).Float64("score", ra.Score).Msg("adversarial flags")
	}
	return ra, nil
}

// fingerprint agrupa oportunidades por plataforma, segmento y valor.
func fingerprint(opp domain.Opportunity) string {
	data := opp.Platform + ":" + opp.Segment + ":" + strconv.FormatFloat(opp.Value, 'f', -1, 64)
	sum := md5.Sum([]byte(data))
	return hex.EncodeToString(sum[:])[:8]
}

func botScore(desc string) float64 {
	var s float64
	if len(desc) < 20 {
		s += 0.2
	}
	if isUpper(desc) {
		s += 0.3
	}
	lower := strings.ToLower(desc)
	if strings.Contains(lower, "asap") && strings.Contains(lower, "urgent") {
		s += 0.2
	}
	return math.Min(1, s)
}

// isUpper: al menos una letra y ninguna minúscula.
func isUpper(s string) bool {
	return strings.ToUpper(s) == s && strings.ToLower(s) != s
}

func intentScore(opp domain.Opportunity) float64 {
	intent := 0.5
	switch {
	case opp.Value > 500:
		intent += 0.2
	case opp.Value < 50:
		intent -= 0.2
	}
	switch n := len(opp.Description); {
	case n > 200:
		intent += 0.15
	case n < 50:
		intent -= 0.15
	}
	switch strings.ToLower(opp.Platform) {
	case "linkedin", "direct", "referral":
		intent += 0.1
	case "fiverr":
		intent -= 0.1
	}
	return domain.Clamp(intent, 0, 1)
}

func fraudScore(opp domain.Opportunity) float64 {
	var s float64
	lower := strings.ToLower(opp.Description)
	for _, w := range urgencyWords {
		if strings.Contains(lower, w) {
			s += urgencyFraud
			break
		}
	}
	if opp.Value > 10000 {
		s += inflatedFraud
	}
	if !opp.Verified {
		s += unverifiedFraud
	}
	return math.Min(1, s)
}

// Stats resume la actividad del guard.
type Stats struct {
	Assessed            int
	Blocked             int
	Flagged             int
	FingerprintsTracked int
}

func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Assessed:            g.total,
		Blocked:             g.blocked,
		Flagged:             g.flagged,
		FingerprintsTracked: g.seen.Len(),
	}
}
