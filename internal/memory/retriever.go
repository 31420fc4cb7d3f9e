package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/resonance/internal/emotion"
	"github.com/ent0n29/resonance/internal/lexicon"
	"github.com/ent0n29/resonance/internal/observability"
	"github.com/ent0n29/resonance/internal/store"
)

// Relevance weights.
const (
	KeywordWeight     = 0.3
	ThemeWeight       = 0.5
	EmotionMatchBonus = 0.4
	RecentDayBonus    = 0.3
	RecentWeekBonus   = 0.1

	DefaultCandidates = 10
	DefaultRecall     = 3
	previewRunes      = 100
)

const (
	// NoRelevantMemory tells the prompt not to invent continuity.
	NoRelevantMemory = "No relevant memories found - this feels like a fresh conversation."
	// Unavailable marks a recall that could not be computed.
	Unavailable = "Memory system offline - responding in present moment."
)

// Memory types reported on the signal.
const (
	TypeThematic  = "thematic"
	TypeEmotional = "emotional"
	TypeKeyword   = "keyword"
)

// Scored is a memory with its relevance breakdown.
type Scored struct {
	Memory       store.ConversationMemory `json:"memory"`
	Score        float64                  `json:"score"`
	KeywordHits  int                      `json:"keyword_hits"`
	ThemeHits    int                      `json:"theme_hits"`
	EmotionMatch bool                     `json:"emotion_match"`
}

// Result is the retrieval outcome for one turn.
type Result struct {
	Memories    []Scored `json:"memories"`
	Recall      string   `json:"recall"`
	Unavailable bool     `json:"unavailable"`
}

// Used reports whether any memory was selected.
func (r Result) Used() bool { return len(r.Memories) > 0 }

// Type classifies the strongest selected memory by what made it relevant.
func (r Result) Type() string {
	if len(r.Memories) == 0 {
		return ""
	}
	top := r.Memories[0]
	switch {
	case top.ThemeHits > 0:
		return TypeThematic
	case top.EmotionMatch:
		return TypeEmotional
	default:
		return TypeKeyword
	}
}

// Config tunes retrieval.
type Config struct {
	Candidates int
	Now        func() time.Time
	Metrics    *observability.Metrics
}

// Retriever ranks a user's recent memories against the current message.
type Retriever struct {
	store      store.Store
	analyzer   *emotion.Analyzer
	lex        *lexicon.Lexicon
	candidates int
	now        func() time.Time
	metrics    *observability.Metrics
}

func NewRetriever(st store.Store, lx *lexicon.Lexicon, cfg Config) *Retriever {
	if lx == nil {
		lx = lexicon.Default()
	}
	if cfg.Candidates <= 0 {
		cfg.Candidates = DefaultCandidates
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Retriever{
		store:      st,
		analyzer:   emotion.NewAnalyzer(lx),
		lex:        lx,
		candidates: cfg.Candidates,
		now:        cfg.Now,
		metrics:    cfg.Metrics,
	}
}

// Retrieve never returns an error: store failures yield an empty result
// marked Unavailable.
func (r *Retriever) Retrieve(ctx context.Context, userID, message string, k int) Result {
	if k <= 0 {
		k = DefaultRecall
	}
	if r == nil || r.store == nil {
		return Result{Recall: Unavailable, Unavailable: true}
	}
	mems, err := r.store.RecentMemories(ctx, userID, r.candidates)
	if err != nil {
		r.metrics.ObserveStoreError("recent_memories")
		observability.LoggerFromContext(ctx).Warn("memory retrieval degraded", "error", err)
		return Result{Recall: Unavailable, Unavailable: true}
	}

	q := r.newQuery(message)
	now := r.now()
	scored := make([]Scored, 0, len(mems))
	for _, m := range mems {
		s := r.score(m, q, now)
		if s.Score > 0 {
			scored = append(scored, s)
		}
	}
	// Candidates arrive newest first; stable sort keeps that order on ties.
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return Result{Memories: scored, Recall: FormatRecall(scored, now)}
}

// Score computes the relevance of one memory to message at now.
func (r *Retriever) Score(m store.ConversationMemory, message string, now time.Time) Scored {
	return r.score(m, r.newQuery(message), now)
}

type query struct {
	words   map[string]struct{}
	themes  []string
	emotion string
}

func (r *Retriever) newQuery(message string) query {
	norm := lexicon.Normalize(message)
	return query{
		words:   lexicon.Words(norm),
		themes:  themesOf(r.lex, norm, len(r.lex.Themes)),
		emotion: r.analyzer.DominantEmotion(message),
	}
}

func (r *Retriever) score(m store.ConversationMemory, q query, now time.Time) Scored {
	out := Scored{Memory: m}
	for w := range lexicon.Words(lexicon.Normalize(m.UserMessage)) {
		if _, ok := q.words[w]; ok {
			out.KeywordHits++
		}
	}
	for _, t := range m.Themes {
		for _, qt := range q.themes {
			if t == qt {
				out.ThemeHits++
				break
			}
		}
	}
	if q.emotion != "" && q.emotion == r.analyzer.DominantEmotion(m.UserMessage) {
		out.EmotionMatch = true
	}

	s := KeywordWeight*float64(out.KeywordHits) + ThemeWeight*float64(out.ThemeHits)
	if out.EmotionMatch {
		s += EmotionMatchBonus
	}
	s += recencyBonus(now.Sub(m.CreatedAt))
	out.Score = s
	return out
}

// recencyBonus counts age in whole days, so "one day" covers anything under 48h.
func recencyBonus(age time.Duration) float64 {
	days := int(age / (24 * time.Hour))
	switch {
	case days <= 1:
		return RecentDayBonus
	case days <= 7:
		return RecentWeekBonus
	default:
		return 0
	}
}

// FormatRecall renders selected memories for the prompt.
func FormatRecall(selected []Scored, now time.Time) string {
	if len(selected) == 0 {
		return NoRelevantMemory
	}
	var b strings.Builder
	b.WriteString("Relevant memories:")
	for _, s := range selected {
		m := s.Memory
		fmt.Fprintf(&b, "\n%s, you shared: %q", relativeDay(now.Sub(m.CreatedAt)), preview(m.UserMessage))
		if m.EmotionalTone != "" && m.EmotionalTone != emotion.ToneNeutral {
			fmt.Fprintf(&b, " (feeling %s)", m.EmotionalTone)
		}
	}
	return b.String()
}

func relativeDay(age time.Duration) string {
	days := int(age / (24 * time.Hour))
	switch {
	case days <= 0:
		return "Earlier today"
	case days == 1:
		return "Yesterday"
	case days < 7:
		return fmt.Sprintf("%d days ago", days)
	case days < 14:
		return "1 week ago"
	default:
		return fmt.Sprintf("%d weeks ago", days/7)
	}
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return string([]rune(s)[:previewRunes]) + "..."
}
