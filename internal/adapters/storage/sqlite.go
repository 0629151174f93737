package storage

// sqlite.go: snapshots del estado de decisión, sin ruido.
//
// Estrategia:
//   - `kpi_snapshots`: una fila por snapshot. Si ninguna métrica cambió más de
//     un 0.1% respecto al último snapshot escrito, no se escribe.
//   - `allocations`: una fila por Allocate con el detalle en msgpack.
//   - `bandit_state`: posteriors completos en msgpack; solo interesa el último.
//   - Prune automático al abrir según la retención configurada.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/revcore/internal/bandit"
	"github.com/alejandrodnm/revcore/internal/capital"
	"github.com/alejandrodnm/revcore/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS kpi_snapshots (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    taken_at            INTEGER NOT NULL,
    cash_per_token      REAL    NOT NULL DEFAULT 0,
    payback_days_median INTEGER NOT NULL DEFAULT 0,
    cac_ltv_ratio       REAL    NOT NULL DEFAULT 0,
    win_rate            REAL    NOT NULL DEFAULT 0,
    refund_rate         REAL    NOT NULL DEFAULT 0,
    assured_share       REAL    NOT NULL DEFAULT 0,
    total_revenue       REAL    NOT NULL DEFAULT 0,
    total_spend         REAL    NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS allocations (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at       INTEGER NOT NULL,
    risk_level       TEXT    NOT NULL,
    runway_days      INTEGER NOT NULL DEFAULT 0,
    kelly_limit      REAL    NOT NULL DEFAULT 0,
    total_allocated  REAL    NOT NULL DEFAULT 0,
    budget_remaining REAL    NOT NULL DEFAULT 0,
    n_allocations    INTEGER NOT NULL DEFAULT 0,
    payload          BLOB    NOT NULL
);

CREATE TABLE IF NOT EXISTS bandit_state (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    saved_at INTEGER NOT NULL,
    arms     INTEGER NOT NULL DEFAULT 0,
    payload  BLOB    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_kpi_taken    ON kpi_snapshots(taken_at DESC);
CREATE INDEX IF NOT EXISTS idx_alloc_at     ON allocations(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_bandit_saved ON bandit_state(saved_at DESC);
`

const (
	defaultRetention = 30 * 24 * time.Hour
	metricChangePct  = 0.001 // 0.1% de cambio en alguna métrica → escribir
)

// SQLiteStore implementa ports.SnapshotStore usando SQLite (pure Go, sin CGo).
type SQLiteStore struct {
	db      *sql.DB
	mu      sync.Mutex
	lastKPI *domain.KPISnapshot // último snapshot escrito
	now     func() time.Time
}

// NewSQLiteStore abre (o crea) la base de datos en la ruta dada, aplica el
// schema y borra lo que exceda la retención (0 = 30 días).
func NewSQLiteStore(path string, retention time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}

	if retention <= 0 {
		retention = defaultRetention
	}
	s := &SQLiteStore{db: db, now: time.Now}
	if _, err := s.Prune(context.Background(), s.now().Add(-retention)); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: %w", err)
	}
	return s, nil
}

// SaveKPISnapshot persiste un snapshot salvo que sea igual al último escrito.
func (s *SQLiteStore) SaveKPISnapshot(ctx context.Context, snap domain.KPISnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastKPI != nil && !kpiChanged(*s.lastKPI, snap) {
		return nil
	}

	ts := snap.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO kpi_snapshots
			(taken_at, cash_per_token, payback_days_median, cac_ltv_ratio,
			 win_rate, refund_rate, assured_share, total_revenue, total_spend)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC().UnixNano(),
		snap.CashPerToken,
		snap.PaybackDaysMedian,
		snap.CACLTVRatio,
		snap.WinRate,
		snap.RefundRate,
		snap.AssuredShare,
		snap.TotalRevenue,
		snap.TotalSpend,
	); err != nil {
		return fmt.Errorf("storage.SaveKPISnapshot: insert: %w", err)
	}
	s.lastKPI = &snap
	return nil
}

// KPISnapshots devuelve los snapshots tomados desde since, más antiguos primero.
func (s *SQLiteStore) KPISnapshots(ctx context.Context, since time.Time) ([]domain.KPISnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT taken_at, cash_per_token, payback_days_median, cac_ltv_ratio,
		       win_rate, refund_rate, assured_share, total_revenue, total_spend
		FROM kpi_snapshots
		WHERE taken_at >= ?
		ORDER BY taken_at ASC, id ASC
	`, unixNanos(since))
	if err != nil {
		return nil, fmt.Errorf("storage.KPISnapshots: query: %w", err)
	}
	defer rows.Close()

	var out []domain.KPISnapshot
	for rows.Next() {
		var snap domain.KPISnapshot
		var takenAt int64
		if err := rows.Scan(
			&takenAt,
			&snap.CashPerToken,
			&snap.PaybackDaysMedian,
			&snap.CACLTVRatio,
			&snap.WinRate,
			&snap.RefundRate,
			&snap.AssuredShare,
			&snap.TotalRevenue,
			&snap.TotalSpend,
		); err != nil {
			return nil, fmt.Errorf("storage.KPISnapshots: scan row: %w", err)
		}
		snap.Timestamp = time.Unix(0, takenAt).UTC()
		out = append(out, snap)
	}
	return out, rows.Err()
}

// SaveAllocation persiste un resultado de Allocate. El detalle por oportunidad
// va en msgpack; las columnas planas sirven para consultas rápidas.
func (s *SQLiteStore) SaveAllocation(ctx context.Context, r capital.Result) error {
	payload, err := msgpack.Marshal(r.Allocations)
	if err != nil {
		return fmt.Errorf("storage.SaveAllocation: encode: %w", err)
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO allocations
			(created_at, risk_level, runway_days, kelly_limit, total_allocated,
			 budget_remaining, n_allocations, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		created.UTC().UnixNano(),
		string(r.RiskProfile),
		r.RunwayDays,
		r.KellyLimit,
		r.TotalAllocated,
		r.BudgetRemaining,
		len(r.Allocations),
		payload,
	); err != nil {
		return fmt.Errorf("storage.SaveAllocation: insert: %w", err)
	}
	return nil
}

// Allocations devuelve los últimos limit resultados, más recientes primero.
func (s *SQLiteStore) Allocations(ctx context.Context, limit int) ([]capital.Result, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT created_at, risk_level, runway_days, kelly_limit,
		       total_allocated, budget_remaining, payload
		FROM allocations
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.Allocations: query: %w", err)
	}
	defer rows.Close()

	var out []capital.Result
	for rows.Next() {
		var (
			r         capital.Result
			createdAt int64
			level     string
			payload   []byte
		)
		if err := rows.Scan(&createdAt, &level, &r.RunwayDays, &r.KellyLimit,
			&r.TotalAllocated, &r.BudgetRemaining, &payload); err != nil {
			return nil, fmt.Errorf("storage.Allocations: scan row: %w", err)
		}
		if err := msgpack.Unmarshal(payload, &r.Allocations); err != nil {
			return nil, fmt.Errorf("storage.Allocations: decode: %w", err)
		}
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		r.RiskProfile = capital.RiskLevel(level)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveBanditState guarda un snapshot completo de los posteriors.
func (s *SQLiteStore) SaveBanditState(ctx context.Context, states []bandit.ArmState) error {
	payload, err := msgpack.Marshal(states)
	if err != nil {
		return fmt.Errorf("storage.SaveBanditState: encode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO bandit_state (saved_at, arms, payload) VALUES (?, ?, ?)`,
		s.now().UTC().UnixNano(), len(states), payload,
	); err != nil {
		return fmt.Errorf("storage.SaveBanditState: insert: %w", err)
	}
	return nil
}

// LoadBanditState devuelve el último snapshot de posteriors, o nil si no hay.
func (s *SQLiteStore) LoadBanditState(ctx context.Context) ([]bandit.ArmState, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM bandit_state ORDER BY saved_at DESC, id DESC LIMIT 1`,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.LoadBanditState: query: %w", err)
	}

	var states []bandit.ArmState
	if err := msgpack.Unmarshal(payload, &states); err != nil {
		return nil, fmt.Errorf("storage.LoadBanditState: decode: %w", err)
	}
	return states, nil
}

// Prune elimina todo lo anterior a before en las tres tablas.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UTC().UnixNano()
	var total int64
	for _, q := range []string{
		`DELETE FROM kpi_snapshots WHERE taken_at < ?`,
		`DELETE FROM allocations WHERE created_at < ?`,
		`DELETE FROM bandit_state WHERE saved_at < ?`,
	} {
		res, err := s.db.ExecContext(ctx, q, cutoff)
		if err != nil {
			return total, fmt.Errorf("storage.Prune: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

func kpiChanged(prev, next domain.KPISnapshot) bool {
	if prev.PaybackDaysMedian != next.PaybackDaysMedian {
		return true
	}
	pairs := [][2]float64{
		{prev.CashPerToken, next.CashPerToken},
		{prev.CACLTVRatio, next.CACLTVRatio},
		{prev.WinRate, next.WinRate},
		{prev.RefundRate, next.RefundRate},
		{prev.AssuredShare, next.AssuredShare},
		{prev.TotalRevenue, next.TotalRevenue},
		{prev.TotalSpend, next.TotalSpend},
	}
	for _, p := range pairs {
		if relChange(p[0], p[1]) >= metricChangePct {
			return true
		}
	}
	return false
}

// unixNanos trata el time.Time cero como "desde siempre".
func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return math.MinInt64
	}
	return t.UTC().UnixNano()
}

// relChange devuelve el cambio relativo entre dos valores (0.0 – ∞).
func relChange(old, new float64) float64 {
	if old == 0 {
		if new == 0 {
			return 0
		}
		return 1.0
	}
	return math.Abs(new-old) / math.Abs(old)
}
