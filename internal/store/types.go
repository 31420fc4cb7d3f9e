package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/resonance/internal/emotion"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("record not found")

// Signal lifecycle states.
const (
	StateStarted          = "started"
	StateResponded        = "responded"
	StateReplied          = "replied"
	StateFeedbackReceived = "feedback_received"
)

// Preference provenance.
const (
	SourceExplicitFeedback = "explicit_feedback"
	SourceInferredPattern  = "inferred_pattern"
)

// PreferenceResponseStyle is the preference type learned from explicit
// feedback. Values are a style name or AvoidPrefix+style.
const (
	PreferenceResponseStyle = "response_style"
	AvoidPrefix             = "avoid:"
)

// ConversationMemory is one completed exchange. Immutable once written.
type ConversationMemory struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
	UserMessage   string    `json:"user_message"`
	Reply         string    `json:"reply"`
	EmotionalTone string    `json:"emotional_tone"`
	TimeSinceLast string    `json:"time_since_last"`
	Themes        []string  `json:"themes,omitempty"`
}

// Signal is the learning record for one turn.
type Signal struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	State     string    `json:"state"`

	UserMessage   string            `json:"user_message"`
	EmotionBefore emotion.Signature `json:"emotion_before"`

	Reply         string `json:"reply,omitempty"`
	Approach      string `json:"approach,omitempty"`
	ResponseStyle string `json:"response_style,omitempty"`
	MemoryUsed    bool   `json:"memory_used"`
	MemoryType    string `json:"memory_type,omitempty"`
	Move          string `json:"move,omitempty"`

	Replied         bool               `json:"replied"`
	FollowupMessage string             `json:"followup_message,omitempty"`
	TimeToReply     *float64           `json:"time_to_reply,omitempty"`
	EmotionAfter    *emotion.Signature `json:"emotion_after,omitempty"`
	FollowupDepth   *int               `json:"followup_depth,omitempty"`
	EmotionalShift  *float64           `json:"emotional_shift,omitempty"`

	// BaseResonance is the score before any feedback multiplier.
	BaseResonance   *float64 `json:"base_resonance,omitempty"`
	Resonance       *float64 `json:"resonance,omitempty"`
	Feedback        string   `json:"feedback,omitempty"`
	FeedbackDetails string   `json:"feedback_details,omitempty"`
	Adaptation      string   `json:"adaptation,omitempty"`
}

// Preference is a learned or explicit user preference.
type Preference struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Type           string    `json:"type"`
	Value          string    `json:"value"`
	Confidence     float64   `json:"confidence"`
	Source         string    `json:"source"`
	Reinforcements int       `json:"reinforcements"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LearningReport summarises one user's signals over a reporting period.
// Trends compare the second half of the period with the first, in [-1,1].
type LearningReport struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	TotalInteractions int     `json:"total_interactions"`
	MeanResonance     float64 `json:"mean_resonance"`
	BestMemoryType    string  `json:"best_memory_type,omitempty"`
	BestResponseStyle string  `json:"best_response_style,omitempty"`

	MoodTrend            float64  `json:"mood_trend"`
	EngagementTrend      float64  `json:"engagement_trend"`
	DepthTrend           float64  `json:"depth_trend"`
	OptimalReplyWords    int      `json:"optimal_reply_words"`
	EmotionalStability   float64  `json:"emotional_stability"`
	InsightFrequency     float64  `json:"insight_frequency"`
	SuggestedAdaptations []string `json:"suggested_adaptations"`
}

// PreferenceID derives the stable key of a (user, type, value) preference.
func PreferenceID(userID, prefType, value string) string {
	key := strings.Join([]string{userID, prefType, value}, "\x00")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// Store persists the per-user record families.
type Store interface {
	AppendMemory(ctx context.Context, m ConversationMemory) error
	// RecentMemories returns at most limit memories, newest first.
	RecentMemories(ctx context.Context, userID string, limit int) ([]ConversationMemory, error)

	// CreateSignal inserts s. It is a no-op when the id already exists.
	CreateSignal(ctx context.Context, s Signal) error
	GetSignal(ctx context.Context, signalID string) (Signal, error)
	// UpdateSignal applies fn to the stored signal as one read-modify-write.
	// fn errors abort the update and are returned unchanged. fn must not call
	// back into the store.
	UpdateSignal(ctx context.Context, signalID string, fn func(*Signal) error) (Signal, error)
	// RecentSignals returns at most limit signals, newest first.
	RecentSignals(ctx context.Context, userID string, limit int) ([]Signal, error)

	GetPreference(ctx context.Context, id string) (Preference, error)
	PutPreference(ctx context.Context, p Preference) error
	Preferences(ctx context.Context, userID string) ([]Preference, error)

	// SignalsSince returns the user's signals created at or after since,
	// oldest first.
	SignalsSince(ctx context.Context, userID string, since time.Time) ([]Signal, error)
	// ActiveUsers lists users with a signal created at or after since.
	ActiveUsers(ctx context.Context, since time.Time) ([]string, error)

	SaveReport(ctx context.Context, r LearningReport) error
	// Reports returns at most limit reports, newest first.
	Reports(ctx context.Context, userID string, limit int) ([]LearningReport, error)

	// EraseUser deletes every record owned by userID.
	EraseUser(ctx context.Context, userID string) error

	Mode() string
	Close() error
}

func stampMemory(m *ConversationMemory, now time.Time) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
}

func stampSignal(s *Signal, now time.Time) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.State == "" {
		s.State = StateStarted
	}
	s.UpdatedAt = now
}

func stampPreference(p *Preference, now time.Time) {
	if p.ID == "" {
		p.ID = PreferenceID(p.UserID, p.Type, p.Value)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
}

func stampReport(r *LearningReport, now time.Time) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
}
