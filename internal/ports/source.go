package ports

import (
	"context"

	"github.com/alejandrodnm/revcore/internal/domain"
)

// OpportunitySource entrega el lote de oportunidades de un ciclo.
type OpportunitySource interface {
	FetchOpportunities(ctx context.Context) ([]domain.Opportunity, error)
}

// OutcomeSource resuelve los outcomes de las oportunidades recomendadas.
// recs[i] corresponde a opps[i]; las oportunidades bloqueadas no producen outcome.
type OutcomeSource interface {
	ResolveOutcomes(ctx context.Context, opps []domain.Opportunity, recs []domain.Recommendation) ([]domain.Outcome, error)
}
