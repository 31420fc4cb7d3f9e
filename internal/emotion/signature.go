package emotion

import (
	"fmt"
	"strings"
)

const (
	ToneNeutral = "neutral"

	EnergyLow      = "low"
	EnergyModerate = "moderate"
	EnergyHigh     = "high"

	RegulationRegulated    = "regulated"
	RegulationDysregulated = "dysregulated"
	RegulationRecovering   = "recovering"
)

// Intensity weights. Kept stable: stored resonance history depends on them.
const (
	BaselineIntensity     = 0.3
	IntensifierBoost      = 0.3
	UppercaseBoost        = 0.2
	ExclamationStep       = 0.1
	ExclamationCap        = 0.2
	RepeatedCharBoost     = 0.1
	ProfanityBoost        = 0.2
	DysregulatedIntensity = 0.8
	MaxUnderlying         = 3
)

// Signature is the structured emotional reading of one message.
type Signature struct {
	PrimaryTone string   `json:"primary_tone"`
	Intensity   float64  `json:"intensity"`
	Underlying  []string `json:"underlying,omitempty"`
	Masking     []string `json:"masking,omitempty"`
	Energy      string   `json:"energy"`
	Regulation  string   `json:"regulation"`
}

// Neutral is the signature returned for empty or unreadable input.
func Neutral() Signature {
	return Signature{
		PrimaryTone: ToneNeutral,
		Intensity:   BaselineIntensity,
		Energy:      EnergyModerate,
		Regulation:  RegulationRegulated,
	}
}

// Context renders the signature as the single-line emotional context used in prompts.
func (s Signature) Context() string {
	parts := []string{
		"Primary tone: " + s.PrimaryTone,
		fmt.Sprintf("Intensity: %.1f/1.0", s.Intensity),
		"Energy: " + s.Energy,
		"Regulation: " + s.Regulation,
	}
	if len(s.Underlying) > 0 {
		under := s.Underlying
		if len(under) > 2 {
			under = under[:2]
		}
		parts = append(parts, "Underlying: "+strings.Join(under, ", "))
	}
	if len(s.Masking) > 0 {
		parts = append(parts, "Possible masking: "+strings.Join(s.Masking, ", "))
	}
	return strings.Join(parts, " | ")
}
