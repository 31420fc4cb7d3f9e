package signal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/resonance/internal/emotion"
	"github.com/ent0n29/resonance/internal/lexicon"
	"github.com/ent0n29/resonance/internal/observability"
	"github.com/ent0n29/resonance/internal/store"
)

// Preference learning constants.
const (
	InitialPreferenceConfidence = 0.6
	PreferenceStep              = 0.15
	MaxPreferenceConfidence     = 0.95
)

// ErrInvalidFeedback is returned by ValidateFeedback for unknown labels.
var ErrInvalidFeedback = errors.New("invalid feedback label")

// StartInput describes a turn whose analysis and retrieval have finished.
type StartInput struct {
	UserID        string
	Message       string
	EmotionBefore emotion.Signature
	MemoryUsed    bool
}

// Completion is the generated reply attached to a started signal.
type Completion struct {
	Reply         string
	Approach      string
	ResponseStyle string
	MemoryType    string
}

type Config struct {
	Now     func() time.Time
	Metrics *observability.Metrics
}

// Recorder owns the interaction signal lifecycle. Signals that cannot be
// written are buffered in memory until Flush succeeds.
type Recorder struct {
	store    store.Store
	lex      *lexicon.Lexicon
	analyzer *emotion.Analyzer
	now      func() time.Time
	metrics  *observability.Metrics

	mu      sync.Mutex
	pending map[string]*pendingSignal
}

type pendingSignal struct {
	sig     store.Signal
	version int
}

func NewRecorder(st store.Store, lx *lexicon.Lexicon, cfg Config) *Recorder {
	if lx == nil {
		lx = lexicon.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Recorder{
		store:    st,
		lex:      lx,
		analyzer: emotion.NewAnalyzer(lx),
		now:      cfg.Now,
		metrics:  cfg.Metrics,
		pending:  make(map[string]*pendingSignal),
	}
}

// ValidateFeedback reports whether label is an accepted feedback label.
func ValidateFeedback(label string) error {
	if _, ok := Multiplier(label); !ok {
		return fmt.Errorf("%w %q", ErrInvalidFeedback, label)
	}
	return nil
}

// Start creates a STARTED signal and returns its id. It always returns an
// id: when the store rejects the write the signal is kept pending.
func (r *Recorder) Start(ctx context.Context, in StartInput) string {
	now := r.now()
	sig := store.Signal{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
		State:         store.StateStarted,
		UserMessage:   in.Message,
		EmotionBefore: in.EmotionBefore,
		MemoryUsed:    in.MemoryUsed,
	}
	ctx = observability.WithSignal(ctx, sig.ID)
	log := observability.LoggerFromContext(ctx)
	if r.store == nil {
		r.buffer(sig)
		return sig.ID
	}
	if err := r.store.CreateSignal(ctx, sig); err != nil {
		r.metrics.ObserveStoreError("create_signal")
		log.Warn("signal store degraded, buffering", "error", err)
		r.buffer(sig)
		return sig.ID
	}
	log.Debug("signal started")
	return sig.ID
}

// Complete attaches the reply. Repeated calls overwrite the previous reply.
func (r *Recorder) Complete(ctx context.Context, signalID string, c Completion) bool {
	ctx = observability.WithSignal(ctx, signalID)
	move := DetectMove(r.lex, c.Reply)
	_, err := r.update(ctx, signalID, func(s *store.Signal) error {
		s.Reply = c.Reply
		s.Approach = c.Approach
		s.ResponseStyle = c.ResponseStyle
		s.MemoryType = c.MemoryType
		s.Move = move
		if s.State == store.StateStarted || s.State == "" {
			s.State = store.StateResponded
		}
		return nil
	})
	if err != nil {
		r.logUpdateError(ctx, "complete", err)
		return false
	}
	return true
}

// CaptureReply scores how the reply landed once the user answers. after may
// be nil, in which case the follow-up text is analyzed. The returned score
// includes any feedback already recorded. ok is false for unknown signals.
func (r *Recorder) CaptureReply(ctx context.Context, signalID, followup string, elapsedSeconds float64, after *emotion.Signature) (float64, bool) {
	ctx = observability.WithSignal(ctx, signalID)
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}
	var sigAfter emotion.Signature
	if after != nil {
		sigAfter = *after
	} else {
		sigAfter = r.analyzer.Analyze(followup)
	}
	depth := Depth(r.lex, followup)

	var base float64
	updated, err := r.update(ctx, signalID, func(s *store.Signal) error {
		shift := EmotionalShift(r.lex, s.EmotionBefore, sigAfter)
		base = Score(elapsedSeconds, shift, depth)
		final := base
		if s.Feedback != "" {
			final = ApplyFeedback(base, s.Feedback)
		}
		afterCopy := sigAfter
		s.Replied = true
		s.FollowupMessage = followup
		s.TimeToReply = ptr(elapsedSeconds)
		s.EmotionAfter = &afterCopy
		s.FollowupDepth = ptr(depth)
		s.EmotionalShift = ptr(shift)
		s.BaseResonance = ptr(base)
		s.Resonance = ptr(final)
		s.Adaptation = Adaptation(base)
		if s.State != store.StateFeedbackReceived {
			s.State = store.StateReplied
		}
		return nil
	})
	if err != nil {
		r.logUpdateError(ctx, "capture_reply", err)
		return 0, false
	}

	log := observability.LoggerFromContext(ctx)
	r.metrics.ObserveResonance(base)
	switch updated.Adaptation {
	case AdaptReinforce:
		r.metrics.ObserveAdaptation(AdaptReinforce)
		log.Info("high resonance, reinforcing pattern", "resonance", base, "style", updated.ResponseStyle)
	case AdaptFlag:
		r.metrics.ObserveAdaptation(AdaptFlag)
		log.Warn("low resonance, flagging pattern", "resonance", base, "style", updated.ResponseStyle)
	default:
		log.Debug("reply captured", "resonance", base, "depth", depth)
	}
	return *updated.Resonance, true
}

// CaptureFeedback applies an explicit rating. The multiplier always scales
// the reply-derived base score, so the last label wins and repeating a
// label has no further effect.
func (r *Recorder) CaptureFeedback(ctx context.Context, signalID, label, details string) bool {
	ctx = observability.WithSignal(ctx, signalID)
	mult, ok := Multiplier(label)
	if !ok {
		observability.LoggerFromContext(ctx).Warn("rejected feedback label", "label", label)
		return false
	}
	var previous string
	updated, err := r.update(ctx, signalID, func(s *store.Signal) error {
		previous = s.Feedback
		base := DefaultResonance()
		if s.BaseResonance != nil {
			base = *s.BaseResonance
		}
		s.Feedback = label
		s.FeedbackDetails = details
		s.Resonance = ptr(clamp(base*mult, 0, 1))
		s.State = store.StateFeedbackReceived
		return nil
	})
	if err != nil {
		r.logUpdateError(ctx, "capture_feedback", err)
		return false
	}
	r.metrics.ObserveFeedback(label)
	observability.LoggerFromContext(ctx).Debug("feedback captured",
		"label", label, "resonance", *updated.Resonance)

	if previous != label {
		switch label {
		case FeedbackPerfect:
			r.learnPreference(ctx, updated.UserID, updated.ResponseStyle)
		case FeedbackUnhelpful:
			if updated.ResponseStyle != "" {
				r.learnPreference(ctx, updated.UserID, store.AvoidPrefix+updated.ResponseStyle)
			}
		}
	}
	return true
}

// learnPreference creates or reinforces a response-style preference.
func (r *Recorder) learnPreference(ctx context.Context, userID, value string) {
	if r.store == nil || userID == "" || value == "" {
		return
	}
	log := observability.LoggerFromContext(ctx)
	id := store.PreferenceID(userID, store.PreferenceResponseStyle, value)
	p, err := r.store.GetPreference(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		p = store.Preference{
			ID:             id,
			UserID:         userID,
			Type:           store.PreferenceResponseStyle,
			Value:          value,
			Confidence:     InitialPreferenceConfidence,
			Source:         store.SourceExplicitFeedback,
			Reinforcements: 1,
		}
	case err != nil:
		r.metrics.ObserveStoreError("get_preference")
		log.Warn("preference lookup failed", "error", err)
		return
	default:
		p.Reinforcements++
		p.Confidence = min(MaxPreferenceConfidence, p.Confidence+PreferenceStep)
	}
	if err := r.store.PutPreference(ctx, p); err != nil {
		r.metrics.ObserveStoreError("put_preference")
		log.Warn("preference write failed", "error", err)
		return
	}
	log.Info("preference learned", "value", value, "confidence", p.Confidence)
}

// Lookup returns the current state of a signal, buffered or stored.
func (r *Recorder) Lookup(ctx context.Context, signalID string) (store.Signal, bool) {
	r.mu.Lock()
	if p, ok := r.pending[signalID]; ok {
		sig := p.sig
		r.mu.Unlock()
		return sig, true
	}
	r.mu.Unlock()
	if r.store == nil || signalID == "" {
		return store.Signal{}, false
	}
	sig, err := r.store.GetSignal(ctx, signalID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.metrics.ObserveStoreError("get_signal")
		}
		return store.Signal{}, false
	}
	return sig, true
}

// Pending returns the number of buffered signals.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush writes buffered signals to the store, oldest first, and returns how
// many were persisted. Signals that still fail stay buffered.
func (r *Recorder) Flush(ctx context.Context) int {
	if r.store == nil {
		return 0
	}
	r.mu.Lock()
	batch := make([]pendingSignal, 0, len(r.pending))
	for _, p := range r.pending {
		batch = append(batch, *p)
	}
	r.mu.Unlock()
	sort.Slice(batch, func(i, j int) bool {
		if batch[i].sig.CreatedAt.Equal(batch[j].sig.CreatedAt) {
			return batch[i].sig.ID < batch[j].sig.ID
		}
		return batch[i].sig.CreatedAt.Before(batch[j].sig.CreatedAt)
	})

	log := observability.LoggerFromContext(ctx)
	flushed := 0
	for _, p := range batch {
		if ctx.Err() != nil {
			break
		}
		if r.flushOne(ctx, p.sig) {
			flushed++
		}
	}
	r.metrics.SetPending(r.Pending())
	if flushed > 0 {
		log.Info("flushed pending signals", "count", flushed)
	}
	return flushed
}

// flushOne persists one buffered signal. CreateSignal ignores ids that
// already exist, so the latest buffered document is then written over the
// row with UpdateSignal.
func (r *Recorder) flushOne(ctx context.Context, sig store.Signal) bool {
	ctx = observability.WithSignal(ctx, sig.ID)
	log := observability.LoggerFromContext(ctx)
	if err := r.store.CreateSignal(ctx, sig); err != nil {
		r.metrics.ObserveStoreError("flush_signal")
		log.Warn("pending signal flush failed", "error", err)
		return false
	}

	r.mu.Lock()
	cur, ok := r.pending[sig.ID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	latest, version := cur.sig, cur.version
	r.mu.Unlock()

	if _, err := r.store.UpdateSignal(ctx, latest.ID, func(s *store.Signal) error {
		*s = latest
		return nil
	}); err != nil {
		r.metrics.ObserveStoreError("flush_signal")
		log.Warn("pending signal catch-up failed", "error", err)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.pending[sig.ID]; ok && cur.version == version {
		delete(r.pending, sig.ID)
		return true
	}
	// Updated while the write was in flight; the next flush carries it.
	return false
}

func (r *Recorder) buffer(sig store.Signal) {
	r.mu.Lock()
	r.pending[sig.ID] = &pendingSignal{sig: sig}
	n := len(r.pending)
	r.mu.Unlock()
	r.metrics.SetPending(n)
}

// update applies fn to a buffered signal or, failing that, to the stored one.
func (r *Recorder) update(ctx context.Context, signalID string, fn func(*store.Signal) error) (store.Signal, error) {
	if signalID == "" {
		return store.Signal{}, store.ErrNotFound
	}
	r.mu.Lock()
	if p, ok := r.pending[signalID]; ok {
		defer r.mu.Unlock()
		next := p.sig
		if err := fn(&next); err != nil {
			return store.Signal{}, err
		}
		next.UpdatedAt = r.now()
		p.sig = next
		p.version++
		return next, nil
	}
	r.mu.Unlock()

	if r.store == nil {
		return store.Signal{}, store.ErrNotFound
	}
	return r.store.UpdateSignal(ctx, signalID, fn)
}

func (r *Recorder) logUpdateError(ctx context.Context, op string, err error) {
	log := observability.LoggerFromContext(ctx)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("unknown signal", "op", op)
		return
	}
	r.metrics.ObserveStoreError(op)
	log.Warn("signal update failed", "op", op, "error", err)
}

func ptr[T any](v T) *T { return &v }
