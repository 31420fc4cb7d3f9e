package policy

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	require.True(t, changed)
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		assert.Contains(t, out, marker)
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "reach me at [REDACTED_EMAIL]", Preview("reach me\n at  a@b.io", 0))
	assert.Equal(t, "hello…", Preview("hello world", 5))
	assert.Equal(t, "short", Preview("short", 10))
}

func TestCheckTurnInput(t *testing.T) {
	cases := []struct {
		name    string
		user    string
		message string
		field   string
	}{
		{"ok", "u1", "hi", ""},
		{"missing user", " ", "hi", "user_id"},
		{"reserved user", "a/b", "hi", "user_id"},
		{"empty message", "u1", "  \n", "message"},
		{"too long", "u1", strings.Repeat("a", 11), "message"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckTurnInput(tc.user, tc.message, 10)
			if tc.field == "" {
				assert.NoError(t, err)
				return
			}
			var ie *InputError
			require.True(t, errors.As(err, &ie))
			assert.Equal(t, tc.field, ie.Field)
		})
	}
}
