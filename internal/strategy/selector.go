package strategy

import (
	"context"
	"sort"
	"strings"

	"github.com/ent0n29/resonance/internal/emotion"
	"github.com/ent0n29/resonance/internal/lexicon"
	"github.com/ent0n29/resonance/internal/observability"
	"github.com/ent0n29/resonance/internal/store"
)

type Config struct {
	History int
	Cache   Cache
	Metrics *observability.Metrics
}

// Selector chooses a Strategy from a user's recent outcomes. It never
// fails: any unavailable input falls back to Default.
type Selector struct {
	store   store.Store
	lex     *lexicon.Lexicon
	history int
	cache   Cache
	metrics *observability.Metrics
}

func NewSelector(st store.Store, lx *lexicon.Lexicon, cfg Config) *Selector {
	if lx == nil {
		lx = lexicon.Default()
	}
	if cfg.History <= 0 {
		cfg.History = DefaultHistory
	}
	if cfg.Cache == nil {
		cfg.Cache = NopCache{}
	}
	return &Selector{store: st, lex: lx, history: cfg.History, cache: cfg.Cache, metrics: cfg.Metrics}
}

// Select returns the strategy for userID's current turn.
func (s *Selector) Select(ctx context.Context, userID string, c Context) Strategy {
	log := observability.LoggerFromContext(ctx)
	if s == nil {
		return Default(nil)
	}

	if cached, ok, err := s.cache.Get(ctx, userID); err != nil {
		log.Warn("strategy cache read failed", "error", err)
	} else if ok {
		cached.Source = SourceCache
		return s.fitTurn(cached, c)
	}

	if s.store == nil {
		return s.fitTurn(Default(s.lex), c)
	}
	recent, err := s.store.RecentSignals(ctx, userID, s.history)
	if err != nil {
		s.metrics.ObserveStoreError("recent_signals")
		log.Warn("strategy history unavailable, using default", "error", err)
		return s.fitTurn(Default(s.lex), c)
	}

	out := s.fromHistory(recent)
	s.applyPreferences(ctx, userID, &out)
	if err := s.cache.Set(ctx, userID, out); err != nil {
		log.Warn("strategy cache write failed", "error", err)
	}
	log.Debug("strategy selected",
		"approach", out.Approach,
		"style", out.ResponseStyle,
		"confidence", out.Confidence,
		"segment", out.Segment,
		"mean_resonance", out.MeanResonance,
	)
	return s.fitTurn(out, c)
}

// Invalidate drops any cached strategy so the next turn sees new outcomes.
func (s *Selector) Invalidate(ctx context.Context, userID string) {
	if s == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		observability.LoggerFromContext(ctx).Warn("strategy cache invalidate failed", "error", err)
	}
}

func (s *Selector) fromHistory(recent []store.Signal) Strategy {
	out := Default(s.lex)
	out.Segment = Segment(s.lex, recent)
	if len(recent) == 0 {
		return out
	}
	out.Source = SourceHistory
	out.Samples = len(recent)
	out.MeanResonance = MeanResonance(recent)

	current := dominant(recent, func(sig store.Signal) string { return sig.Approach })
	if _, ok := s.lex.Approach(current); !ok {
		current = out.Approach
	}
	if style := dominant(recent, func(sig store.Signal) string { return sig.ResponseStyle }); style != "" {
		if _, ok := s.lex.Style(style); ok {
			out.ResponseStyle = style
		}
	}

	out.Approach = current
	switch {
	case out.MeanResonance > HighResonance:
		out.Confidence = HighConfidence
	case out.MeanResonance < LowResonance:
		out.Approach = s.alternative(current, out.Segment)
		out.Confidence = LowConfidence
	}
	return out
}

// alternative picks the approach to try after poor outcomes: the segment's
// own approach when it differs from current, else the next in rotation.
func (s *Selector) alternative(current, segment string) string {
	for _, rule := range s.lex.Segments {
		if rule.Name == segment && rule.Approach != "" && rule.Approach != current {
			return rule.Approach
		}
	}
	return nextGuide(s.lex.Approaches, current, nil)
}

func (s *Selector) applyPreferences(ctx context.Context, userID string, out *Strategy) {
	prefs, err := s.store.Preferences(ctx, userID)
	if err != nil {
		s.metrics.ObserveStoreError("preferences")
		observability.LoggerFromContext(ctx).Warn("preferences unavailable", "error", err)
		return
	}
	var prefer []store.Preference
	avoid := make(map[string]bool)
	for _, p := range prefs {
		if p.Type != store.PreferenceResponseStyle || p.Confidence <= PreferenceThreshold {
			continue
		}
		if name, ok := strings.CutPrefix(p.Value, store.AvoidPrefix); ok {
			avoid[name] = true
			continue
		}
		if _, ok := s.lex.Style(p.Value); ok {
			prefer = append(prefer, p)
		}
	}
	sort.SliceStable(prefer, func(i, j int) bool {
		if prefer[i].Confidence != prefer[j].Confidence {
			return prefer[i].Confidence > prefer[j].Confidence
		}
		return prefer[i].Reinforcements > prefer[j].Reinforcements
	})
	for _, p := range prefer {
		if avoid[p.Value] {
			continue
		}
		out.ResponseStyle = p.Value
		out.Confidence = min(1.0, out.Confidence+PreferenceBoost)
		return
	}
	if avoid[out.ResponseStyle] {
		out.ResponseStyle = nextGuide(s.lex.Styles, out.ResponseStyle, avoid)
	}
}

// fitTurn adjusts a strategy for the state of the current message.
func (s *Selector) fitTurn(out Strategy, c Context) Strategy {
	if c.Emotion.Regulation == emotion.RegulationDysregulated {
		out.MessageLength = LengthShort
	}
	if !c.MemoryRecalled {
		out.MemoryUse = MemoryUseLight
	}
	return out
}
