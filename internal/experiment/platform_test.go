package experiment

import (
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlatform(max int) *Platform {
	return New(Config{MaxExperiments: max, Src: rand.NewPCG(8, 13)}, zerolog.Nop())
}

func mustCreate(t *testing.T, p *Platform, name, treatment, control string, traffic float64) string {
	t.Helper()
	id, err := p.Create(name, treatment, control, traffic)
	require.NoError(t, err)
	return id
}

func record(p *Platform, engine string, trials, wins int) {
	for i := 0; i < trials; i++ {
		p.RecordOutcome(engine, i < wins, 100)
	}
}

// --- Create ---

func TestCreate_Defaults(t *testing.T) {
	p := newTestPlatform(0)
	id := mustCreate(t, p, "pitch v2", "pitch_v2", "pitch_v1", 0)

	_, err := uuid.Parse(id)
	require.NoError(t, err)

	exp, ok := p.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusActive, exp.Status)
	assert.Equal(t, 0.1, exp.TrafficPct)

	_, err = p.Create("bad", "", "x", 0.5)
	assert.ErrorIs(t, err, ErrNoTreatment)

	id = mustCreate(t, p, "too much", "a", "b", 1.5)
	exp, _ = p.Get(id)
	assert.Equal(t, 0.1, exp.TrafficPct)
}

func TestCreate_EvictsOldestTerminal(t *testing.T) {
	p := newTestPlatform(2)
	a := mustCreate(t, p, "a", "ta", "ca", 0.5)
	b := mustCreate(t, p, "b", "tb", "cb", 0.5)
	require.NoError(t, p.Graduate(a))

	c := mustCreate(t, p, "c", "tc", "cc", 0.5)
	_, ok := p.Get(a)
	assert.False(t, ok)
	assert.Equal(t, 2, p.Stats().Total)

	// No terminal experiment: the soft cap is exceeded.
	d := mustCreate(t, p, "d", "td", "cd", 0.5)
	assert.Equal(t, 3, p.Stats().Total)

	var ids []string
	for _, e := range p.All() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{b, c, d}, ids)
}

// --- Assign ---

func TestAssign_FirstMatchWins(t *testing.T) {
	p := newTestPlatform(0)
	mustCreate(t, p, "unavailable", "ghost", "base", 1)
	first := mustCreate(t, p, "first", "pitch_v2", "base", 1)
	mustCreate(t, p, "second", "pricing_v3", "base", 1)

	engine, ok := p.Assign("opp-1", []string{"pricing_v3", "pitch_v2"})
	require.True(t, ok)
	assert.Equal(t, "pitch_v2", engine)

	require.NoError(t, p.Graduate(first))
	engine, ok = p.Assign("opp-2", []string{"pricing_v3", "pitch_v2"})
	require.True(t, ok)
	assert.Equal(t, "pricing_v3", engine)

	_, ok = p.Assign("opp-3", []string{"nothing"})
	assert.False(t, ok)
}

func TestAssign_TrafficShare(t *testing.T) {
	p := newTestPlatform(0)
	mustCreate(t, p, "x", "pitch_v2", "base", 0.25)
	hits := 0
	for i := 0; i < 4000; i++ {
		if _, ok := p.Assign("opp", []string{"pitch_v2"}); ok {
			hits++
		}
	}
	assert.InDelta(t, 0.25, float64(hits)/4000, 0.03)
}

// --- Significance ---

func TestCheckSignificance_InsufficientSamples(t *testing.T) {
	p := newTestPlatform(0)
	id := mustCreate(t, p, "x", "t", "c", 0.5)
	record(p, "t", 20, 20)
	record(p, "c", 9, 0)

	sig := p.CheckSignificance(id)
	assert.False(t, sig.Significant)
	assert.Equal(t, ReasonInsufficientSamples, sig.Reason)
	assert.Equal(t, 29, sig.N)

	assert.Equal(t, ReasonNotFound, p.CheckSignificance("missing").Reason)
}

func TestCheckSignificance_PooledZTest(t *testing.T) {
	p := newTestPlatform(0)
	id := mustCreate(t, p, "x", "t", "c", 0.5)
	record(p, "t", 50, 40)
	record(p, "c", 50, 20)

	sig := p.CheckSignificance(id)
	assert.True(t, sig.Significant)
	assert.Empty(t, sig.Reason)
	assert.InDelta(t, 0.8, sig.TreatmentRate, 1e-12)
	assert.InDelta(t, 0.4, sig.ControlRate, 1e-12)
	assert.InDelta(t, 1.0, sig.Lift, 1e-12)
	assert.InDelta(t, 0.4/0.09797958971, sig.ZScore, 1e-6)
}

func TestCheckSignificance_NoDifference(t *testing.T) {
	p := newTestPlatform(0)
	id := mustCreate(t, p, "x", "t", "c", 0.5)
	record(p, "t", 40, 20)
	record(p, "c", 40, 20)
	assert.False(t, p.CheckSignificance(id).Significant)
}

func TestRecordOutcome_OnlyActive(t *testing.T) {
	p := newTestPlatform(0)
	id := mustCreate(t, p, "x", "t", "c", 0.5)
	record(p, "t", 3, 2)
	require.NoError(t, p.Graduate(id))
	record(p, "t", 5, 5)

	exp, _ := p.Get(id)
	assert.Equal(t, 3, exp.TreatmentTrials)
	assert.Equal(t, 2, exp.TreatmentWins)
	assert.Equal(t, 300.0, exp.TreatmentRevenue)
}

// --- SLO ---

func TestCheckSLO_RollbackAfterThreeBreaches(t *testing.T) {
	p := newTestPlatform(0)
	older := mustCreate(t, p, "older", "a", "b", 0.5)
	newer := mustCreate(t, p, "newer", "c", "d", 0.5)

	_, rolled := p.CheckSLO(false)
	assert.False(t, rolled)
	_, rolled = p.CheckSLO(false)
	assert.False(t, rolled)
	id, rolled := p.CheckSLO(false)
	require.True(t, rolled)
	assert.Equal(t, newer, id)

	exp, _ := p.Get(newer)
	assert.Equal(t, StatusRolledBack, exp.Status)
	exp, _ = p.Get(older)
	assert.Equal(t, StatusActive, exp.Status)
	assert.Zero(t, p.Stats().SLOBreaches)
	assert.Equal(t, 1, p.Stats().Rollbacks)
}

func TestCheckSLO_SuccessDecrements(t *testing.T) {
	p := newTestPlatform(0)
	id := mustCreate(t, p, "x", "a", "b", 0.5)

	p.CheckSLO(true)
	assert.Zero(t, p.Stats().SLOBreaches)

	p.CheckSLO(false)
	p.CheckSLO(false)
	p.CheckSLO(true)
	_, rolled := p.CheckSLO(false)
	assert.False(t, rolled)
	assert.Equal(t, 2, p.Stats().SLOBreaches)

	_, rolled = p.CheckSLO(false)
	assert.True(t, rolled)
	exp, _ := p.Get(id)
	assert.Equal(t, StatusRolledBack, exp.Status)
}

// --- Graduation ---

func TestGraduate_TerminalIsFinal(t *testing.T) {
	p := newTestPlatform(0)
	id := mustCreate(t, p, "x", "a", "b", 0.5)
	require.NoError(t, p.Graduate(id))
	assert.ErrorIs(t, p.Graduate(id), ErrTerminal)
	assert.ErrorIs(t, p.Graduate("missing"), ErrNotFound)

	rb := mustCreate(t, p, "y", "c", "d", 0.5)
	for i := 0; i < 3; i++ {
		p.CheckSLO(false)
	}
	assert.ErrorIs(t, p.Graduate(rb), ErrTerminal)
	assert.Equal(t, 1, p.Stats().Graduations)
}

func TestAutoGraduate(t *testing.T) {
	p := newTestPlatform(0)
	winner := mustCreate(t, p, "winner", "t1", "c1", 0.5)
	loser := mustCreate(t, p, "loser", "t2", "c2", 0.5)
	record(p, "t1", 50, 40)
	record(p, "c1", 50, 20)
	record(p, "t2", 50, 10)
	record(p, "c2", 50, 30)

	assert.Equal(t, []string{winner}, p.AutoGraduate(0))
	exp, _ := p.Get(loser)
	assert.Equal(t, StatusActive, exp.Status)
	assert.Len(t, p.Active(), 1)
}
