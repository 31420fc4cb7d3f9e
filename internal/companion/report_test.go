package companion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/resonance/internal/signal"
	"github.com/ent0n29/resonance/internal/store"
)

func TestReportCoversLastWeekAndIsStored(t *testing.T) {
	h := newHarness(t, &recordingGenerator{reply: echo})
	ctx := t.Context()
	now := time.Date(2026, 3, 8, 2, 0, 0, 0, time.UTC)
	h.orch.cfg.Now = func() time.Time { return now }

	high, low := 0.9, 0.3
	seedSignals := []store.Signal{
		{UserID: "u1", CreatedAt: now.Add(-10 * 24 * time.Hour), ResponseStyle: "old", Resonance: &high},
		{UserID: "u1", CreatedAt: now.Add(-3 * 24 * time.Hour), ResponseStyle: "grounded", Resonance: &low},
		{UserID: "u1", CreatedAt: now.Add(-2 * 24 * time.Hour), ResponseStyle: "warm", Resonance: &high},
		{UserID: "u2", CreatedAt: now.Add(-time.Hour), ResponseStyle: "warm"},
	}
	for _, s := range seedSignals {
		require.NoError(t, h.store.CreateSignal(ctx, s))
	}

	r, err := h.orch.Report(ctx, "u1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, r.TotalInteractions)
	assert.InDelta(t, 0.6, r.MeanResonance, 1e-9)
	assert.Equal(t, "warm", r.BestResponseStyle)
	assert.Equal(t, now.Add(-signal.ReportWindow), r.PeriodStart)
	assert.Equal(t, now, r.PeriodEnd)
	assert.NotEmpty(t, r.ID)

	stored, err := h.orch.Reports(ctx, "u1", 5)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, r.ID, stored[0].ID)

	_, err = h.orch.Report(ctx, "u3", time.Time{})
	assert.ErrorIs(t, err, ErrNoSignals)

	_, err = h.orch.Report(ctx, "", time.Time{})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	none, err := h.orch.Reports(ctx, "u3", 5)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestReportAllWritesOnePerActiveUser(t *testing.T) {
	h := newHarness(t, &recordingGenerator{reply: echo})
	ctx := t.Context()
	now := time.Date(2026, 3, 8, 2, 0, 0, 0, time.UTC)
	h.orch.cfg.Now = func() time.Time { return now }

	for _, s := range []store.Signal{
		{UserID: "u1", CreatedAt: now.Add(-time.Hour)},
		{UserID: "u2", CreatedAt: now.Add(-6 * 24 * time.Hour)},
		{UserID: "dormant", CreatedAt: now.Add(-30 * 24 * time.Hour)},
	} {
		require.NoError(t, h.store.CreateSignal(ctx, s))
	}

	n, err := h.orch.ReportAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for user, want := range map[string]int{"u1": 1, "u2": 1, "dormant": 0} {
		got, err := h.store.Reports(ctx, user, 10)
		require.NoError(t, err)
		assert.Len(t, got, want, user)
	}
}

func TestReportSchedulerRunsSundaysAtTwo(t *testing.T) {
	h := newHarness(t, &recordingGenerator{reply: echo})

	_, err := NewReportScheduler(h.orch, "weekly")
	assert.Error(t, err)

	s, err := NewReportScheduler(h.orch, "")
	require.NoError(t, err)
	// 2026-03-04 is a Wednesday.
	next, err := s.Next(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 8, 2, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.Sunday, next.Weekday())
}
