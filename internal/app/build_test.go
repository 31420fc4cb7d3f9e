package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/resonance/internal/companion"
	"github.com/ent0n29/resonance/internal/config"
	"github.com/ent0n29/resonance/internal/observability"
)

func testConfig() config.Config {
	return config.Config{
		ShutdownTimeout:          time.Second,
		SessionInactivityTimeout: time.Minute,
		StrategyCacheTTL:         time.Minute,
		BrainMode:                "mock",
		BrainTimeout:             time.Second,
		BrainTemperature:         0.8,
		BrainMaxTokens:           500,
		BrainFallbackMaxTokens:   300,
		AIName:                   "Sam",
		MemoryCandidateLimit:     10,
		MemoryRecallLimit:        3,
		SignalHistoryLimit:       10,
		MaxMessageRunes:          8000,
		PendingFlushSchedule:     "* * * * *",
		ReportSchedule:           "0 2 * * 0",
	}
}

func build(t *testing.T, cfg config.Config) *BuildResult {
	t.Helper()
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test_app")
	res, err := BuildWith(t.Context(), cfg, metrics)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, res.Cleanup()) })
	return res
}

func TestBuildInMemory(t *testing.T) {
	res := build(t, testConfig())
	assert.True(t, res.Brain.Configured)
	assert.Equal(t, "memory", res.Companion.Healthy().StoreMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res.Start(ctx)

	out, err := res.Companion.Orchestrate(ctx, companion.TurnInput{UserID: "u1", Message: "I feel anxious about work"})
	require.NoError(t, err)
	assert.Equal(t, "I heard you: I feel anxious about work", out.Response)
	assert.Equal(t, "gentle_grounding", out.StrategyUsed)
}

func TestBuildWithSQLiteAndRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.StoreURL = "sqlite://" + filepath.Join(t.TempDir(), "resonance.db")
	cfg.RedisURL = "redis://" + mr.Addr()

	res := build(t, cfg)
	assert.Equal(t, "sqlite", res.Companion.Healthy().StoreMode)

	ctx := context.Background()
	first, err := res.Companion.Orchestrate(ctx, companion.TurnInput{UserID: "u1", Message: "my boss keeps yelling"})
	require.NoError(t, err)
	_, ok := res.Companion.CaptureReply(ctx, first.SignalID, "thanks, that helps", 20)
	require.True(t, ok)

	second, err := res.Companion.Orchestrate(ctx, companion.TurnInput{UserID: "u1", Message: "my boss again"})
	require.NoError(t, err)
	assert.True(t, second.MemoryUsed)
}

func TestBuildRejectsBadLexiconPath(t *testing.T) {
	cfg := testConfig()
	cfg.LexiconPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := BuildWith(t.Context(), cfg, observability.NewMetricsWith(prometheus.NewRegistry(), "test_app"))
	assert.ErrorContains(t, err, "lexicon")
}

func TestBuildAutoWithoutProvidersIsUnconfigured(t *testing.T) {
	cfg := testConfig()
	cfg.BrainMode = "auto"
	res := build(t, cfg)
	assert.False(t, res.Brain.Configured)
	assert.False(t, res.Companion.Healthy().BrainConfigured)
}

func TestBuildRejectsBadReportSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.ReportSchedule = "weekly"
	_, err := BuildWith(t.Context(), cfg, observability.NewMetricsWith(prometheus.NewRegistry(), "test_app"))
	assert.ErrorContains(t, err, "report schedule")
}

func TestBuildWritesLearningReports(t *testing.T) {
	res := build(t, testConfig())
	ctx := t.Context()

	turn, err := res.Companion.Orchestrate(ctx, companion.TurnInput{UserID: "u1", Message: "I feel anxious about work"})
	require.NoError(t, err)
	_, ok := res.Companion.CaptureReply(ctx, turn.SignalID, "thanks, I realized it is the deadline", 20)
	require.True(t, ok)

	n, err := res.Companion.ReportAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reports, err := res.Companion.Reports(ctx, "u1", 5)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].TotalInteractions)
	assert.Equal(t, "u1", reports[0].UserID)
}
