package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/revcore/internal/bandit"
	"github.com/alejandrodnm/revcore/internal/capital"
	"github.com/alejandrodnm/revcore/internal/domain"
)

// SnapshotStore persiste snapshots del estado de decisión. No es un sistema
// de registro: solo KPIs puntuales, asignaciones de capital y posteriors.
type SnapshotStore interface {
	SaveKPISnapshot(ctx context.Context, s domain.KPISnapshot) error
	KPISnapshots(ctx context.Context, since time.Time) ([]domain.KPISnapshot, error)
	SaveAllocation(ctx context.Context, r capital.Result) error
	SaveBanditState(ctx context.Context, states []bandit.ArmState) error
	// LoadBanditState devuelve el último snapshot guardado (nil si no hay).
	LoadBanditState(ctx context.Context) ([]bandit.ArmState, error)
	// Prune borra todo lo anterior a before y devuelve las filas eliminadas.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// StateCache publica posteriors para procesos hermanos.
type StateCache interface {
	PublishPosteriors(ctx context.Context, states []bandit.ArmState) error
	// LoadPosteriors devuelve nil, nil si la clave no existe.
	LoadPosteriors(ctx context.Context) ([]bandit.ArmState, error)
}
