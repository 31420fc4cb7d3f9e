package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatMessage   MessageType = "chat_message"
	TypeChatReply     MessageType = "chat_reply"
	TypeChatFeedback  MessageType = "chat_feedback"
	TypeTurnResult    MessageType = "turn_result"
	TypeResonance     MessageType = "resonance_update"
	TypeFeedbackAck   MessageType = "feedback_ack"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
	TypeSessionOpened MessageType = "session_opened"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ChatMessage is a new user message. If the session has an answered turn
// it is also scored as the reply to that turn.
type ChatMessage struct {
	Type     MessageType `json:"type"`
	Message  string      `json:"message"`
	AIName   string      `json:"ai_name,omitempty"`
	UserName string      `json:"user_name,omitempty"`
}

// ChatReply explicitly scores a follow-up to a signal.
type ChatReply struct {
	Type           MessageType `json:"type"`
	SignalID       string      `json:"signal_id"`
	Text           string      `json:"text"`
	ElapsedSeconds float64     `json:"elapsed_seconds"`
}

type ChatFeedback struct {
	Type     MessageType `json:"type"`
	SignalID string      `json:"signal_id"`
	Feedback string      `json:"feedback"`
	Details  string      `json:"details,omitempty"`
}

type SessionOpened struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	UserID    string      `json:"user_id"`
}

type TurnResult struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"session_id"`
	TurnID       string      `json:"turn_id"`
	Response     string      `json:"response"`
	SignalID     string      `json:"signal_id,omitempty"`
	StrategyUsed string      `json:"strategy_used"`
	Confidence   float64     `json:"confidence"`
	MemoryUsed   bool        `json:"memory_used"`
}

type ResonanceUpdate struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	SignalID  string      `json:"signal_id"`
	Resonance *float64    `json:"resonance"`
	Captured  bool        `json:"captured"`
}

type FeedbackAck struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	SignalID  string      `json:"signal_id"`
	Success   bool        `json:"success"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes one inbound websocket frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Message) == "" {
			return nil, errors.New("invalid chat_message: empty message")
		}
		return msg, nil
	case TypeChatReply:
		var msg ChatReply
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SignalID == "" || msg.ElapsedSeconds < 0 {
			return nil, errors.New("invalid chat_reply")
		}
		return msg, nil
	case TypeChatFeedback:
		var msg ChatFeedback
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SignalID == "" || msg.Feedback == "" {
			return nil, errors.New("invalid chat_feedback")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf returns the type tag of a known message value.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ChatMessage:
		return m.Type, true
	case ChatReply:
		return m.Type, true
	case ChatFeedback:
		return m.Type, true
	case SessionOpened:
		return m.Type, true
	case TurnResult:
		return m.Type, true
	case ResonanceUpdate:
		return m.Type, true
	case FeedbackAck:
		return m.Type, true
	case SystemEvent:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
