package emotion

import (
	"regexp"
	"strings"

	"github.com/ent0n29/resonance/internal/lexicon"
)

var uppercaseRun = regexp.MustCompile(`\p{Lu}{2,}`)

// Analyzer classifies messages with fixed lexicon heuristics. It is safe for
// concurrent use.
type Analyzer struct {
	lex *lexicon.Lexicon
}

// NewAnalyzer builds an analyzer over lx, or over the embedded lexicon when lx is nil.
func NewAnalyzer(lx *lexicon.Lexicon) *Analyzer {
	if lx == nil {
		lx = lexicon.Default()
	}
	return &Analyzer{lex: lx}
}

// Analyze never fails; blank input yields Neutral().
func (a *Analyzer) Analyze(text string) Signature {
	if strings.TrimSpace(text) == "" {
		return Neutral()
	}
	norm := lexicon.Normalize(text)

	sig := Signature{
		PrimaryTone: a.primaryTone(norm),
		Intensity:   a.intensity(text, norm),
		Underlying:  a.underlying(norm),
		Masking:     a.lex.MaskingFlags(norm),
		Energy:      a.energy(norm),
	}
	sig.Regulation = a.regulation(norm, sig.Intensity)
	return sig
}

// DominantEmotion returns the first emotion category with a keyword present
// in text, or "" when none matches.
func (a *Analyzer) DominantEmotion(text string) string {
	norm := lexicon.Normalize(text)
	for _, c := range a.lex.Emotions {
		if c.Any(norm) {
			return c.Name
		}
	}
	return ""
}

func (a *Analyzer) primaryTone(norm string) string {
	best, bestHits, tied := ToneNeutral, 0, false
	for _, c := range a.lex.Tones {
		h := c.Hits(norm)
		switch {
		case h > bestHits:
			best, bestHits, tied = c.Name, h, false
		case h == bestHits && h > 0:
			tied = true
		}
	}
	if bestHits == 0 || tied {
		return ToneNeutral
	}
	return best
}

func (a *Analyzer) intensity(raw, norm string) float64 {
	v := BaselineIntensity
	if lexicon.AnyPhrase(norm, a.lex.Intensifiers) {
		v += IntensifierBoost
	}
	if uppercaseRun.MatchString(raw) {
		v += UppercaseBoost
	}
	if n := strings.Count(raw, "!"); n > 0 {
		v += min(ExclamationCap, float64(n)*ExclamationStep)
	}
	if hasRepeatedRun(norm, 3) {
		v += RepeatedCharBoost
	}
	if lexicon.AnyPhrase(norm, a.lex.Profanity) {
		v += ProfanityBoost
	}
	return clamp01(v)
}

func (a *Analyzer) underlying(norm string) []string {
	var out []string
	for _, c := range a.lex.Tones {
		if len(out) == MaxUnderlying {
			break
		}
		if c.Any(norm) {
			out = append(out, c.Name)
		}
	}
	return out
}

func (a *Analyzer) energy(norm string) string {
	best, bestHits, tied := EnergyModerate, 0, false
	for _, c := range a.lex.Energy {
		h := c.Hits(norm)
		switch {
		case h > bestHits:
			best, bestHits, tied = c.Name, h, false
		case h == bestHits && h > 0:
			tied = true
		}
	}
	if bestHits == 0 || tied {
		return EnergyModerate
	}
	return best
}

func (a *Analyzer) regulation(norm string, intensity float64) string {
	if intensity > DysregulatedIntensity || lexicon.AnyPhrase(norm, a.lex.Crisis) {
		return RegulationDysregulated
	}
	if lexicon.AnyPhrase(norm, a.lex.Recovery) {
		return RegulationRecovering
	}
	return RegulationRegulated
}

// hasRepeatedRun reports whether any rune appears n or more times in a row.
// Whitespace runs do not count.
func hasRepeatedRun(s string, n int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev && r != ' ' {
			run++
			if run >= n {
				return true
			}
			continue
		}
		prev, run = r, 1
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
