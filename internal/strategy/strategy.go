package strategy

import (
	"fmt"
	"strings"

	"github.com/ent0n29/resonance/internal/emotion"
	"github.com/ent0n29/resonance/internal/lexicon"
	"github.com/ent0n29/resonance/internal/store"
)

// Confidence levels and resonance thresholds.
const (
	DefaultConfidence = 0.7
	HighConfidence    = 0.9
	LowConfidence     = 0.6

	HighResonance    = 0.8
	LowResonance     = 0.4
	MissingResonance = 0.5
	// AdaptedWeight is the weight in the mean of signals that triggered a
	// reinforce or flag side-effect.
	AdaptedWeight = 2.0

	PreferenceThreshold = 0.8
	PreferenceBoost     = 0.1

	DefaultHistory = 10
)

// Recommended memory use and message length.
const (
	MemoryUseModerate = "moderate"
	MemoryUseLight    = "light"
	LengthMedium      = "medium"
	LengthShort       = "short"
)

// Where a strategy came from.
const (
	SourceDefault = "default"
	SourceHistory = "history"
	SourceCache   = "cache"
)

// Segments that do not come from lexicon rules.
const (
	SegmentNewUser = "new_user"
	SegmentGeneral = "general_support"
)

// Strategy is the per-turn guidance handed to prompt assembly.
type Strategy struct {
	Approach      string  `json:"approach"`
	ResponseStyle string  `json:"response_style"`
	MemoryUse     string  `json:"memory_use"`
	MessageLength string  `json:"message_length"`
	Confidence    float64 `json:"confidence"`
	Segment       string  `json:"segment"`
	Source        string  `json:"source"`
	MeanResonance float64 `json:"mean_resonance,omitempty"`
	Samples       int     `json:"samples,omitempty"`
}

// Context is what the selector knows about the current turn.
type Context struct {
	Emotion        emotion.Signature
	MemoryRecalled bool
}

// Default is the static strategy used when no history is available. The
// first approach and style of lx are the defaults.
func Default(lx *lexicon.Lexicon) Strategy {
	if lx == nil {
		lx = lexicon.Default()
	}
	return Strategy{
		Approach:      lx.Approaches[0].Name,
		ResponseStyle: lx.Styles[0].Name,
		MemoryUse:     MemoryUseModerate,
		MessageLength: LengthMedium,
		Confidence:    DefaultConfidence,
		Segment:       SegmentNewUser,
		Source:        SourceDefault,
	}
}

// Guidance renders the strategy as prompt instructions.
func (s Strategy) Guidance(lx *lexicon.Lexicon) string {
	if lx == nil {
		lx = lexicon.Default()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Approach: %s", s.Approach)
	if g, ok := lx.Approach(s.Approach); ok {
		b.WriteString(" - " + g.Guidance)
	}
	fmt.Fprintf(&b, "\nResponse style: %s", s.ResponseStyle)
	if g, ok := lx.Style(s.ResponseStyle); ok {
		b.WriteString(" - " + g.Guidance)
	}
	fmt.Fprintf(&b, "\nMemory use: %s", s.MemoryUse)
	fmt.Fprintf(&b, "\nMessage length: %s", s.MessageLength)
	fmt.Fprintf(&b, "\nConfidence: %.2f", s.Confidence)
	return b.String()
}

// Segment classifies a user from the opening tones of their recent signals.
// The first lexicon rule reaching its minimum wins.
func Segment(lx *lexicon.Lexicon, recent []store.Signal) string {
	if lx == nil {
		lx = lexicon.Default()
	}
	if len(recent) == 0 {
		return SegmentNewUser
	}
	for _, rule := range lx.Segments {
		hits := 0
		for _, s := range recent {
			for _, tone := range rule.Tones {
				if s.EmotionBefore.PrimaryTone == tone {
					hits++
					break
				}
			}
		}
		if hits >= rule.MinHits {
			return rule.Name
		}
	}
	return SegmentGeneral
}

// MeanResonance weights adapted signals double and treats unscored ones as
// MissingResonance.
func MeanResonance(recent []store.Signal) float64 {
	if len(recent) == 0 {
		return 0
	}
	var sum, weight float64
	for _, s := range recent {
		v := MissingResonance
		if s.Resonance != nil {
			v = *s.Resonance
		}
		w := 1.0
		if s.Adaptation != "" {
			w = AdaptedWeight
		}
		sum += v * w
		weight += w
	}
	return sum / weight
}

// dominant returns the most frequent non-empty value of field, preferring
// the most recent on ties. recent is newest first.
func dominant(recent []store.Signal, field func(store.Signal) string) string {
	counts := make(map[string]int)
	order := make([]string, 0, len(recent))
	for _, s := range recent {
		v := field(s)
		if v == "" {
			continue
		}
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	best, bestN := "", 0
	for _, v := range order {
		if counts[v] > bestN {
			best, bestN = v, counts[v]
		}
	}
	return best
}

// nextGuide returns the entry after current in gs, wrapping around, while
// skipping names in skip.
func nextGuide(gs []lexicon.Guide, current string, skip map[string]bool) string {
	start := 0
	for i, g := range gs {
		if g.Name == current {
			start = i + 1
			break
		}
	}
	for i := 0; i < len(gs); i++ {
		g := gs[(start+i)%len(gs)]
		if g.Name != current && !skip[g.Name] {
			return g.Name
		}
	}
	return current
}
