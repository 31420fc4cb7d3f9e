package signal

import (
	"unicode/utf8"

	"github.com/ent0n29/resonance/internal/emotion"
	"github.com/ent0n29/resonance/internal/lexicon"
)

// Resonance weights and thresholds.
const (
	TimingWeight  = 0.3
	EmotionWeight = 0.4
	DepthWeight   = 0.3

	// OptimalReplySeconds is the reply delay at which timing bottoms out.
	OptimalReplySeconds = 300.0
	MinTimingScore      = 0.2

	MinDepth = 1
	MaxDepth = 5

	ReinforceAbove = 0.9
	FlagBelow      = 0.3

	// Inputs assumed when feedback arrives before any reply was captured.
	DefaultElapsedSeconds = 60.0
	DefaultShift          = 0.0
	DefaultDepth          = 3
)

// Explicit feedback labels.
const (
	FeedbackPerfect   = "perfect"
	FeedbackHelpful   = "helpful"
	FeedbackNotQuite  = "not_quite"
	FeedbackUnhelpful = "unhelpful"
)

// Adaptation side-effects recorded on a signal.
const (
	AdaptReinforce = "reinforce"
	AdaptFlag      = "flag"
)

var feedbackMultipliers = map[string]float64{
	FeedbackPerfect:   1.2,
	FeedbackHelpful:   1.1,
	FeedbackNotQuite:  0.7,
	FeedbackUnhelpful: 0.3,
}

// FeedbackLabels lists the accepted labels, strongest first.
func FeedbackLabels() []string {
	return []string{FeedbackPerfect, FeedbackHelpful, FeedbackNotQuite, FeedbackUnhelpful}
}

// Multiplier returns the resonance multiplier for label.
func Multiplier(label string) (float64, bool) {
	m, ok := feedbackMultipliers[label]
	return m, ok
}

// TimingScore is 1 for an immediate reply and decays linearly to
// MinTimingScore at OptimalReplySeconds and beyond.
func TimingScore(elapsedSeconds float64) float64 {
	return clamp((OptimalReplySeconds-elapsedSeconds)/OptimalReplySeconds, MinTimingScore, 1)
}

// EmotionScore maps a shift in [-1,1] onto [0,1].
func EmotionScore(shift float64) float64 {
	return clamp((shift+1)/2, 0, 1)
}

// Score combines the three reply observations into a resonance in [0,1].
func Score(elapsedSeconds, shift float64, depth int) float64 {
	depthScore := float64(clampInt(depth, MinDepth, MaxDepth)) / MaxDepth
	v := TimingWeight*TimingScore(elapsedSeconds) +
		EmotionWeight*EmotionScore(shift) +
		DepthWeight*depthScore
	return clamp(v, 0, 1)
}

// DefaultResonance is the score assumed for a signal that never saw a reply.
func DefaultResonance() float64 {
	return Score(DefaultElapsedSeconds, DefaultShift, DefaultDepth)
}

// ApplyFeedback scales base by the label's multiplier. Unknown labels leave
// base unchanged.
func ApplyFeedback(base float64, label string) float64 {
	m, ok := Multiplier(label)
	if !ok {
		return clamp(base, 0, 1)
	}
	return clamp(base*m, 0, 1)
}

// Adaptation returns the side-effect triggered by an extreme resonance.
func Adaptation(resonance float64) string {
	switch {
	case resonance > ReinforceAbove:
		return AdaptReinforce
	case resonance < FlagBelow:
		return AdaptFlag
	default:
		return ""
	}
}

// Depth rates how far the user opened up in text, 1 to 5. The deepest
// matching level wins and long messages gain one level. Single-word markers
// are stems, so inflected forms count.
func Depth(lx *lexicon.Lexicon, text string) int {
	if lx == nil {
		lx = lexicon.Default()
	}
	if text == "" {
		return MinDepth
	}
	norm := lexicon.Normalize(text)
	depth := MinDepth
	for _, lvl := range lx.Depth {
		if lvl.Level > depth && lexicon.AnyStem(norm, lvl.Keywords) {
			depth = lvl.Level
		}
	}
	if utf8.RuneCountInString(text) > lx.LongMessageChars {
		depth++
	}
	return clampInt(depth, MinDepth, MaxDepth)
}

// EmotionalShift measures how the reply moved the user, in [-1,1]. The tone
// after the reply decides the direction: positive tones should grow in
// intensity, negative ones should ease, anything else counts as no shift.
func EmotionalShift(lx *lexicon.Lexicon, before, after emotion.Signature) float64 {
	if lx == nil {
		lx = lexicon.Default()
	}
	switch lx.PolarityOf(after.PrimaryTone) {
	case 1:
		return clamp(after.Intensity-before.Intensity, -1, 1)
	case -1:
		return clamp(before.Intensity-after.Intensity, -1, 1)
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
