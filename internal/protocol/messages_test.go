package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessageChat(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"chat_message","message":"my boss again","user_name":"Ada"}`))
	require.NoError(t, err)

	chat, ok := msg.(ChatMessage)
	require.True(t, ok, "message type = %T", msg)
	assert.Equal(t, "my boss again", chat.Message)
	assert.Equal(t, "Ada", chat.UserName)

	typ, ok := TypeOf(chat)
	assert.True(t, ok)
	assert.Equal(t, TypeChatMessage, typ)
}

func TestParseClientMessageReplyAndFeedback(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"chat_reply","signal_id":"s1","text":"I realize it","elapsed_seconds":42}`))
	require.NoError(t, err)
	reply := msg.(ChatReply)
	assert.Equal(t, 42.0, reply.ElapsedSeconds)

	msg, err = ParseClientMessage([]byte(`{"type":"chat_feedback","signal_id":"s1","feedback":"perfect"}`))
	require.NoError(t, err)
	assert.Equal(t, "perfect", msg.(ChatFeedback).Feedback)
}

func TestParseClientMessageRejectsInvalid(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	for _, raw := range []string{
		`not json`,
		`{"type":"chat_message","message":"  "}`,
		`{"type":"chat_reply","text":"hi"}`,
		`{"type":"chat_reply","signal_id":"s1","elapsed_seconds":-1}`,
		`{"type":"chat_feedback","signal_id":"s1"}`,
	} {
		_, err := ParseClientMessage([]byte(raw))
		assert.Error(t, err, raw)
	}
}
