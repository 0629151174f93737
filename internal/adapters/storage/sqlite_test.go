package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/revcore/internal/adapters/storage"
	"github.com/alejandrodnm/revcore/internal/bandit"
	"github.com/alejandrodnm/revcore/internal/capital"
	"github.com/alejandrodnm/revcore/internal/domain"
)

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	db, err := storage.NewSQLiteStore(":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func makeSnapshot(ts time.Time, revenue float64) domain.KPISnapshot {
	return domain.KPISnapshot{
		Timestamp:         ts,
		CashPerToken:      0.25,
		PaybackDaysMedian: 7,
		CACLTVRatio:       0.3,
		WinRate:           0.5,
		RefundRate:        0.01,
		AssuredShare:      0.2,
		TotalRevenue:      revenue,
		TotalSpend:        revenue * 0.3,
	}
}

// --- KPI snapshots ---

func TestSQLiteStore_KPISnapshots(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, db.SaveKPISnapshot(ctx, makeSnapshot(now.Add(-2*time.Hour), 1000)))
	require.NoError(t, db.SaveKPISnapshot(ctx, makeSnapshot(now, 1500)))

	all, err := db.KPISnapshots(ctx, now.Add(-3*time.Hour))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1000.0, all[0].TotalRevenue)
	assert.Equal(t, 1500.0, all[1].TotalRevenue)
	assert.True(t, now.Equal(all[1].Timestamp))
	assert.Equal(t, 7, all[1].PaybackDaysMedian)

	recent, err := db.KPISnapshots(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func TestSQLiteStore_SkipsUnchangedSnapshot(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, db.SaveKPISnapshot(ctx, makeSnapshot(now.Add(-time.Minute), 1000)))
	// Misma foto un minuto después: no se escribe.
	require.NoError(t, db.SaveKPISnapshot(ctx, makeSnapshot(now, 1000)))
	// Cambio por debajo del 0.1%: tampoco.
	require.NoError(t, db.SaveKPISnapshot(ctx, makeSnapshot(now, 1000.5)))

	snaps, err := db.KPISnapshots(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	require.NoError(t, db.SaveKPISnapshot(ctx, makeSnapshot(now, 1100)))
	snaps, err = db.KPISnapshots(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

// --- Allocations ---

func TestSQLiteStore_Allocations(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	res := capital.Result{
		Allocations: []capital.Allocation{{
			OppID:          "opp-1",
			Amount:         120.5,
			MaxAmount:      200,
			KellyFraction:  0.18,
			RiskAdjustedEV: 410,
			RiskLevel:      capital.Aggressive,
			Explanation:    []domain.Explanation{{Factor: "kelly", Multiplier: 0.18}},
		}},
		TotalAllocated:  120.5,
		BudgetRemaining: 1879.5,
		RiskProfile:     capital.Aggressive,
		RunwayDays:      75,
		KellyLimit:      0.25,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, db.SaveAllocation(ctx, res))

	got, err := db.Allocations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, res.Allocations, got[0].Allocations)
	assert.Equal(t, capital.Aggressive, got[0].RiskProfile)
	assert.Equal(t, 75, got[0].RunwayDays)
	assert.Equal(t, 1879.5, got[0].BudgetRemaining)
}

// --- Bandit state ---

func TestSQLiteStore_BanditState(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	states, err := db.LoadBanditState(ctx)
	require.NoError(t, err)
	assert.Nil(t, states)

	first := []bandit.ArmState{{Level: bandit.LevelGlobal, Key: "global:premium", Alpha: 3, Beta: 2, Pulls: 3, TotalReward: 2.5}}
	second := append(first, bandit.ArmState{Level: bandit.LevelSegment, Key: "smb:premium", Alpha: 2, Beta: 1, Pulls: 1, TotalReward: 1})
	require.NoError(t, db.SaveBanditState(ctx, first))
	require.NoError(t, db.SaveBanditState(ctx, second))

	states, err = db.LoadBanditState(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, states)
}

// --- Prune ---

func TestSQLiteStore_Prune(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.SaveKPISnapshot(ctx, makeSnapshot(old, 10)))
	require.NoError(t, db.SaveKPISnapshot(ctx, makeSnapshot(time.Now(), 20)))
	require.NoError(t, db.SaveAllocation(ctx, capital.Result{CreatedAt: old, RiskProfile: capital.Moderate}))

	n, err := db.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	snaps, err := db.KPISnapshots(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 20.0, snaps[0].TotalRevenue)
}
