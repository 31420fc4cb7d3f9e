package emotion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeBlankInputIsNeutral(t *testing.T) {
	a := NewAnalyzer(nil)
	for _, in := range []string{"", "   ", "\n\t"} {
		assert.Equal(t, Neutral(), a.Analyze(in))
	}
}

func TestAnalyzeAnxiousAboutWork(t *testing.T) {
	sig := NewAnalyzer(nil).Analyze("I feel really anxious about work today")
	assert.Equal(t, "anxious", sig.PrimaryTone)
	assert.InDelta(t, BaselineIntensity, sig.Intensity, 1e-9)
	assert.Equal(t, []string{"anxious"}, sig.Underlying)
	assert.Equal(t, EnergyModerate, sig.Energy)
	assert.Equal(t, RegulationRegulated, sig.Regulation)
}

func TestAnalyzeTieFallsBackToNeutral(t *testing.T) {
	// one weary hit, one hopeful hit
	sig := NewAnalyzer(nil).Analyze("tired but excited")
	assert.Equal(t, ToneNeutral, sig.PrimaryTone)
	assert.Equal(t, []string{"weary", "hopeful"}, sig.Underlying)
}

func TestAnalyzeUnderlyingIsCapped(t *testing.T) {
	sig := NewAnalyzer(nil).Analyze("overwhelmed, tired, worried, stuck and sad")
	assert.Len(t, sig.Underlying, MaxUnderlying)
	assert.Equal(t, []string{"distressed", "weary", "anxious"}, sig.Underlying)
}

func TestIntensityIncrements(t *testing.T) {
	a := NewAnalyzer(nil)
	cases := []struct {
		name string
		in   string
		want float64
	}{
		{"baseline", "a quiet day", 0.3},
		{"intensifier", "it was absolutely draining", 0.6},
		{"uppercase run", "this is SO much", 0.5},
		{"single exclamation", "oh no!", 0.4},
		{"repeated chars", "noooo", 0.4},
		{"profanity", "damn it", 0.5},
		{"clamped", "ABSOLUTELY DAMN!!! nooooo", 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, a.Analyze(tc.in).Intensity, 1e-9)
		})
	}
}

func TestIntensityNeverDecreasesWithExclamations(t *testing.T) {
	a := NewAnalyzer(nil)
	prev := 0.0
	for n := 0; n <= 8; n++ {
		got := a.Analyze("hello" + strings.Repeat("!", n)).Intensity
		require.GreaterOrEqual(t, got, prev, "n=%d", n)
		require.GreaterOrEqual(t, got, 0.0)
		require.LessOrEqual(t, got, 1.0)
		prev = got
	}
}

func TestRegulationStates(t *testing.T) {
	a := NewAnalyzer(nil)
	assert.Equal(t, RegulationDysregulated, a.Analyze("I am spiraling").Regulation)
	assert.Equal(t, RegulationDysregulated, a.Analyze("ABSOLUTELY DAMN this!!").Regulation)
	assert.Equal(t, RegulationRecovering, a.Analyze("slowly getting better").Regulation)
	assert.Equal(t, RegulationRegulated, a.Analyze("just a normal day").Regulation)
}

func TestEnergyLevels(t *testing.T) {
	a := NewAnalyzer(nil)
	assert.Equal(t, EnergyLow, a.Analyze("I can barely get up").Energy)
	assert.Equal(t, EnergyHigh, a.Analyze("so motivated and ready").Energy)
	assert.Equal(t, EnergyModerate, a.Analyze("nothing to report").Energy)
}

func TestMaskingFlagsIndependentOfTone(t *testing.T) {
	sig := NewAnalyzer(nil).Analyze("haha I'm actually fine, anyway")
	assert.Contains(t, sig.Masking, "humor_masking_pain")
	assert.Contains(t, sig.Masking, "deflecting")
}

func TestDominantEmotion(t *testing.T) {
	a := NewAnalyzer(nil)
	assert.Equal(t, "anxious", a.DominantEmotion("so nervous about tomorrow"))
	assert.Equal(t, "sad", a.DominantEmotion("feeling down and nervous"))
	assert.Equal(t, "", a.DominantEmotion("a table and a chair"))
}

func TestContextFormat(t *testing.T) {
	sig := Signature{
		PrimaryTone: "anxious",
		Intensity:   0.6,
		Underlying:  []string{"anxious", "weary", "sad"},
		Masking:     []string{"minimizing"},
		Energy:      EnergyLow,
		Regulation:  RegulationRegulated,
	}
	assert.Equal(t,
		"Primary tone: anxious | Intensity: 0.6/1.0 | Energy: low | Regulation: regulated | Underlying: anxious, weary | Possible masking: minimizing",
		sig.Context())
	assert.Equal(t, "Primary tone: neutral | Intensity: 0.3/1.0 | Energy: moderate | Regulation: regulated", Neutral().Context())
}
