package signal

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ent0n29/resonance/internal/store"
)

// Report tuning.
const (
	// ReportWindow is the period a scheduled report covers.
	ReportWindow = 7 * 24 * time.Hour
	// DefaultReportSchedule runs the report on Sundays at 02:00.
	DefaultReportSchedule = "0 2 * * 0"

	// UnscoredResonance stands in for signals that never got a score.
	UnscoredResonance = 0.5
	// HighResonance marks the replies whose length sets OptimalReplyWords.
	HighResonance = 0.7
)

// Suggested adaptations a report can carry.
const (
	SuggestCheckIn       = "check in more before offering perspective"
	SuggestGroundFirst   = "ground feelings before exploring them"
	SuggestShorter       = "keep replies shorter and end with one open question"
	SuggestRoomToReflect = "leave room for reflection while the user opens up"
	SuggestMirrorInsight = "mirror insights back in the user's own words"
)

// BuildReport summarises sigs, which must be oldest first, over the period
// [start, end).
func BuildReport(userID string, sigs []store.Signal, start, end time.Time) store.LearningReport {
	r := store.LearningReport{
		UserID:               userID,
		PeriodStart:          start,
		PeriodEnd:            end,
		TotalInteractions:    len(sigs),
		SuggestedAdaptations: []string{},
	}
	if len(sigs) == 0 {
		return r
	}

	var sum float64
	memTypes := NewMeans()
	styles := NewMeans()
	for _, s := range sigs {
		v := resonanceOrUnscored(s)
		sum += v
		memTypes.Add(s.MemoryType, v)
		styles.Add(s.ResponseStyle, v)
	}
	r.MeanResonance = round3(sum / float64(len(sigs)))
	r.BestMemoryType = memTypes.Best()
	r.BestResponseStyle = styles.Best()

	r.MoodTrend = round3(moodTrend(sigs))
	first, second := sigs[:len(sigs)/2], sigs[len(sigs)/2:]
	if len(first) > 0 {
		r.EngagementTrend = round3(clamp(meanOf(second, engagement)-meanOf(first, engagement), -1, 1))
		r.DepthTrend = round3(depthTrend(first, second))
	}
	r.OptimalReplyWords = optimalReplyWords(sigs)
	r.EmotionalStability = round3(stability(sigs))
	r.InsightFrequency = round3(insightFrequency(sigs))
	r.SuggestedAdaptations = suggest(r)
	return r
}

func resonanceOrUnscored(s store.Signal) float64 {
	if s.Resonance == nil {
		return UnscoredResonance
	}
	return *s.Resonance
}

// moodTrend is the mean emotional shift of the replies that were answered.
func moodTrend(sigs []store.Signal) float64 {
	var sum float64
	var n int
	for _, s := range sigs {
		if s.EmotionalShift == nil {
			continue
		}
		sum += *s.EmotionalShift
		n++
	}
	if n == 0 {
		return 0
	}
	return clamp(sum/float64(n), -1, 1)
}

// engagement is 0 for an unanswered reply and grows from 0.5 to 1 the
// faster the user answered.
func engagement(s store.Signal) (float64, bool) {
	if !s.Replied {
		return 0, true
	}
	elapsed := DefaultElapsedSeconds
	if s.TimeToReply != nil {
		elapsed = *s.TimeToReply
	}
	return 0.5 + 0.5*TimingScore(elapsed), true
}

func followupDepth(s store.Signal) (float64, bool) {
	if s.FollowupDepth == nil {
		return 0, false
	}
	return float64(*s.FollowupDepth), true
}

func depthTrend(first, second []store.Signal) float64 {
	a, okA := meanOK(first, followupDepth)
	b, okB := meanOK(second, followupDepth)
	if !okA || !okB {
		return 0
	}
	return clamp((b-a)/float64(MaxDepth-MinDepth), -1, 1)
}

func optimalReplyWords(sigs []store.Signal) int {
	var words, n int
	for _, s := range sigs {
		if s.Reply == "" || resonanceOrUnscored(s) < HighResonance {
			continue
		}
		words += len(strings.Fields(s.Reply))
		n++
	}
	if n == 0 {
		return 0
	}
	return int(math.Round(float64(words) / float64(n)))
}

// stability is 1 minus twice the standard deviation of the incoming
// intensity, so a constant intensity scores 1.
func stability(sigs []store.Signal) float64 {
	var sum float64
	for _, s := range sigs {
		sum += s.EmotionBefore.Intensity
	}
	mean := sum / float64(len(sigs))
	var variance float64
	for _, s := range sigs {
		d := s.EmotionBefore.Intensity - mean
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(len(sigs)))
	return clamp(1-2*sd, 0, 1)
}

func insightFrequency(sigs []store.Signal) float64 {
	var n int
	for _, s := range sigs {
		if s.FollowupDepth != nil && *s.FollowupDepth >= MaxDepth {
			n++
		}
	}
	return float64(n) / float64(len(sigs))
}

func suggest(r store.LearningReport) []string {
	out := []string{}
	if r.MeanResonance < UnscoredResonance {
		out = append(out, SuggestCheckIn)
	}
	if r.MoodTrend < 0 {
		out = append(out, SuggestGroundFirst)
	}
	if r.EngagementTrend < -0.1 {
		out = append(out, SuggestShorter)
	}
	if r.DepthTrend > 0.1 {
		out = append(out, SuggestRoomToReflect)
	}
	if r.InsightFrequency >= 0.2 {
		out = append(out, SuggestMirrorInsight)
	}
	return out
}

func meanOf(sigs []store.Signal, f func(store.Signal) (float64, bool)) float64 {
	v, _ := meanOK(sigs, f)
	return v
}

func meanOK(sigs []store.Signal, f func(store.Signal) (float64, bool)) (float64, bool) {
	var sum float64
	var n int
	for _, s := range sigs {
		if v, ok := f(s); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Means tracks the mean score per key in first-seen order.
type Means struct {
	order []string
	sum   map[string]float64
	n     map[string]int
}

func NewMeans() *Means {
	return &Means{sum: make(map[string]float64), n: make(map[string]int)}
}

// Add records v under key. Empty keys are ignored.
func (m *Means) Add(key string, v float64) {
	if key == "" {
		return
	}
	if m.n[key] == 0 {
		m.order = append(m.order, key)
	}
	m.sum[key] += v
	m.n[key]++
}

// Best returns the key with the highest mean, earliest seen on ties.
func (m *Means) Best() string {
	keys := append([]string(nil), m.order...)
	sort.SliceStable(keys, func(i, j int) bool {
		return m.sum[keys[i]]/float64(m.n[keys[i]]) > m.sum[keys[j]]/float64(m.n[keys[j]])
	})
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}
