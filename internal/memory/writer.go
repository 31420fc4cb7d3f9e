package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/ent0n29/resonance/internal/lexicon"
	"github.com/ent0n29/resonance/internal/observability"
	"github.com/ent0n29/resonance/internal/store"
)

// MaxThemes caps the themes stored on one memory.
const MaxThemes = 3

// Time-since-last buckets.
const (
	FirstConversation = "first_conversation"
	JustNow           = "just_now"
)

// Writer appends completed exchanges to the user's memory.
type Writer struct {
	store   store.Store
	lex     *lexicon.Lexicon
	now     func() time.Time
	metrics *observability.Metrics
}

func NewWriter(st store.Store, lx *lexicon.Lexicon, cfg Config) *Writer {
	if lx == nil {
		lx = lexicon.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Writer{store: st, lex: lx, now: cfg.Now, metrics: cfg.Metrics}
}

// Store records one exchange. Failures are logged and reported, never fatal
// to the turn.
func (w *Writer) Store(ctx context.Context, userID, message, reply, tone string) (store.ConversationMemory, error) {
	if w == nil || w.store == nil {
		return store.ConversationMemory{}, fmt.Errorf("memory writer not configured")
	}
	now := w.now()
	since := FirstConversation
	if prev, err := w.store.RecentMemories(ctx, userID, 1); err == nil && len(prev) > 0 {
		since = TimeSince(now.Sub(prev[0].CreatedAt))
	}

	m := store.ConversationMemory{
		UserID:        userID,
		CreatedAt:     now,
		UserMessage:   message,
		Reply:         reply,
		EmotionalTone: tone,
		TimeSinceLast: since,
		Themes:        ExtractThemes(w.lex, message, reply),
	}
	if err := w.store.AppendMemory(ctx, m); err != nil {
		w.metrics.ObserveStoreError("append_memory")
		observability.LoggerFromContext(ctx).Warn("memory write failed", "error", err)
		return store.ConversationMemory{}, fmt.Errorf("append memory: %w", err)
	}
	return m, nil
}

// ExtractThemes returns up to MaxThemes topical categories present in the
// message and reply, in lexicon order.
func ExtractThemes(lx *lexicon.Lexicon, message, reply string) []string {
	if lx == nil {
		lx = lexicon.Default()
	}
	return themesOf(lx, lexicon.Normalize(message+" "+reply), MaxThemes)
}

func themesOf(lx *lexicon.Lexicon, norm string, limit int) []string {
	var out []string
	for _, c := range lx.Themes {
		if len(out) == limit {
			break
		}
		if c.Any(norm) {
			out = append(out, c.Name)
		}
	}
	return out
}

// TimeSince buckets the gap since the previous exchange.
func TimeSince(d time.Duration) string {
	secs := int(d.Seconds())
	switch {
	case secs < 60:
		return JustNow
	case secs < 3600:
		return fmt.Sprintf("%d_minutes_ago", secs/60)
	case secs < 86400:
		return fmt.Sprintf("%d_hours_ago", secs/3600)
	default:
		return fmt.Sprintf("%d_days_ago", secs/86400)
	}
}
