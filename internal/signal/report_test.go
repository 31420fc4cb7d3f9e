package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/resonance/internal/emotion"
	"github.com/ent0n29/resonance/internal/store"
)

func reportSignal(style, memType string, resonance *float64, intensity float64) store.Signal {
	return store.Signal{
		ResponseStyle: style,
		MemoryType:    memType,
		Resonance:     resonance,
		EmotionBefore: emotion.Signature{PrimaryTone: "anxious", Intensity: intensity},
	}
}

func replied(s store.Signal, elapsed float64, depth int, shift float64, reply string) store.Signal {
	s.Replied = true
	s.TimeToReply = ptr(elapsed)
	s.FollowupDepth = ptr(depth)
	s.EmotionalShift = ptr(shift)
	s.Reply = reply
	return s
}

func TestBuildReportImprovingWeek(t *testing.T) {
	end := time.Date(2026, 3, 8, 2, 0, 0, 0, time.UTC)
	start := end.Add(-ReportWindow)
	sigs := []store.Signal{
		replied(reportSignal("grounded", "", ptr(0.4), 0.5), 300, 1, -0.2, "a b c"),
		reportSignal("warm", "recent", nil, 0.5),
		replied(reportSignal("warm", "recent", ptr(0.9), 0.5), 0, 5, 0.4, "one two three four"),
		replied(reportSignal("grounded", "theme", ptr(0.8), 0.5), 0, 4, 0.2, "one two"),
	}

	r := BuildReport("u1", sigs, start, end)
	assert.Equal(t, "u1", r.UserID)
	assert.Equal(t, start, r.PeriodStart)
	assert.Equal(t, end, r.PeriodEnd)
	assert.Equal(t, 4, r.TotalInteractions)
	assert.InDelta(t, 0.65, r.MeanResonance, 1e-9)
	assert.Equal(t, "warm", r.BestResponseStyle)
	assert.Equal(t, "theme", r.BestMemoryType)
	assert.InDelta(t, 0.133, r.MoodTrend, 1e-9)
	// First half engages at 0.6 and 0, second half at 1 and 1.
	assert.InDelta(t, 0.7, r.EngagementTrend, 1e-9)
	assert.InDelta(t, 0.875, r.DepthTrend, 1e-9)
	assert.Equal(t, 3, r.OptimalReplyWords)
	assert.InDelta(t, 1.0, r.EmotionalStability, 1e-9)
	assert.InDelta(t, 0.25, r.InsightFrequency, 1e-9)
	assert.Equal(t, []string{SuggestRoomToReflect, SuggestMirrorInsight}, r.SuggestedAdaptations)
}

func TestBuildReportDecliningWeek(t *testing.T) {
	sigs := []store.Signal{
		replied(reportSignal("grounded", "", ptr(0.3), 0.2), 60, 3, -0.3, "long answer here"),
		reportSignal("grounded", "", ptr(0.2), 0.8),
	}
	sigs[0].TimeToReply = nil

	r := BuildReport("u1", sigs, time.Time{}, time.Time{})
	assert.InDelta(t, 0.25, r.MeanResonance, 1e-9)
	assert.InDelta(t, -0.3, r.MoodTrend, 1e-9)
	assert.InDelta(t, -0.9, r.EngagementTrend, 1e-9)
	assert.Zero(t, r.DepthTrend)
	assert.Zero(t, r.OptimalReplyWords)
	assert.InDelta(t, 0.4, r.EmotionalStability, 1e-9)
	assert.Zero(t, r.InsightFrequency)
	assert.Equal(t, []string{SuggestCheckIn, SuggestGroundFirst, SuggestShorter}, r.SuggestedAdaptations)
}

func TestBuildReportSparseInput(t *testing.T) {
	empty := BuildReport("u1", nil, time.Time{}, time.Time{})
	assert.Zero(t, empty.TotalInteractions)
	require.NotNil(t, empty.SuggestedAdaptations)
	assert.Empty(t, empty.SuggestedAdaptations)

	single := BuildReport("u1", []store.Signal{reportSignal("", "", nil, 0.4)}, time.Time{}, time.Time{})
	assert.InDelta(t, UnscoredResonance, single.MeanResonance, 1e-9)
	assert.Empty(t, single.BestResponseStyle)
	assert.Empty(t, single.BestMemoryType)
	assert.Zero(t, single.EngagementTrend)
	assert.Zero(t, single.DepthTrend)
	assert.InDelta(t, 1.0, single.EmotionalStability, 1e-9)
	assert.Empty(t, single.SuggestedAdaptations)
}

func TestMeansBestPrefersEarliestOnTie(t *testing.T) {
	m := NewMeans()
	m.Add("", 1)
	m.Add("a", 0.5)
	m.Add("b", 0.5)
	assert.Equal(t, "a", m.Best())
	m.Add("b", 0.9)
	assert.Equal(t, "b", m.Best())
	assert.Empty(t, NewMeans().Best())
}
