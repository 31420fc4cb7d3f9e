package policy

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxMessageRunes bounds a single user message.
const DefaultMaxMessageRunes = 8000

// InputError describes why a turn was rejected before any work ran.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CheckTurnInput validates the caller-supplied parts of a turn.
func CheckTurnInput(userID, message string, maxRunes int) error {
	if strings.TrimSpace(userID) == "" {
		return &InputError{Field: "user_id", Reason: "is required"}
	}
	if strings.ContainsAny(userID, "/\x00") {
		return &InputError{Field: "user_id", Reason: "contains reserved characters"}
	}
	if strings.TrimSpace(message) == "" {
		return &InputError{Field: "message", Reason: "is empty"}
	}
	if !utf8.ValidString(message) {
		return &InputError{Field: "message", Reason: "is not valid UTF-8"}
	}
	if maxRunes <= 0 {
		maxRunes = DefaultMaxMessageRunes
	}
	if n := utf8.RuneCountInString(message); n > maxRunes {
		return &InputError{Field: "message", Reason: fmt.Sprintf("is %d characters, limit %d", n, maxRunes)}
	}
	return nil
}
