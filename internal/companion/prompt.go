package companion

import (
	"fmt"
	"strings"
)

// Placeholders used when a prompt section has nothing to say.
const (
	EmotionUnavailable = "Emotional tone: neutral/unknown"
	StrategyDefault    = "No adaptive guidance yet - respond with warmth and presence."
)

// Prompt is the typed input of one assembled prompt.
type Prompt struct {
	AIName   string
	UserName string
	Memory   string
	Emotion  string
	Guidance string
	Message  string
}

// Render assembles the prompt sections in their fixed order: identity,
// memory, emotional context, strategy guidance, user message, instruction.
func (p Prompt) Render() string {
	name := strings.TrimSpace(p.AIName)
	if name == "" {
		name = DefaultAIName
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an emotionally intelligent AI companion.\n\n", name)
	b.WriteString("Your purpose is to provide warm, grounded, trauma-informed support. ")
	if user := strings.TrimSpace(p.UserName); user != "" {
		fmt.Fprintf(&b, "You are speaking with %s. You remember their journey", user)
	} else {
		b.WriteString("You remember users' journeys")
	}
	b.WriteString(" and respond with genuine presence, not performative empathy.\n\n")
	b.WriteString("Core principles:\n")
	for _, line := range corePrinciples {
		b.WriteString("- " + line + "\n")
	}

	section(&b, "MEMORY CONTEXT", orDefault(p.Memory, "No relevant memories found - respond authentically in the present moment."))
	section(&b, "EMOTIONAL CONTEXT", orDefault(p.Emotion, EmotionUnavailable))
	section(&b, "RESPONSE STRATEGY", orDefault(p.Guidance, StrategyDefault))
	section(&b, "USER INPUT", p.Message)

	fmt.Fprintf(&b, "\n--- %s'S RESPONSE ---\n", strings.ToUpper(name))
	fmt.Fprintf(&b, "Respond as %s with warmth, insight, and emotional resonance. ", name)
	b.WriteString("If memory is present, weave it naturally into your response. ")
	b.WriteString("Follow the response strategy. Speak like a grounded friend who truly sees them.")
	return b.String()
}

var corePrinciples = []string{
	"Reflect before advising",
	"Hold space without forcing insight",
	"Use gentle metaphors (seasons, breath, roots, light)",
	"Never pathologize or diagnose",
	"Respect autonomy and boundaries",
}

// MinimalPrompt is the augmentation-free prompt of the fallback path.
func MinimalPrompt(aiName, message string) string {
	name := strings.TrimSpace(aiName)
	if name == "" {
		name = DefaultAIName
	}
	return fmt.Sprintf("You are %s, a gentle AI companion. Respond warmly to: %s", name, message)
}

func section(b *strings.Builder, title, body string) {
	fmt.Fprintf(b, "\n--- %s ---\n%s\n", title, strings.TrimSpace(body))
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
