package companion

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/resonance/internal/brain"
	"github.com/ent0n29/resonance/internal/emotion"
	"github.com/ent0n29/resonance/internal/lexicon"
	"github.com/ent0n29/resonance/internal/memory"
	"github.com/ent0n29/resonance/internal/observability"
	"github.com/ent0n29/resonance/internal/policy"
	"github.com/ent0n29/resonance/internal/signal"
	"github.com/ent0n29/resonance/internal/store"
	"github.com/ent0n29/resonance/internal/strategy"
)

const (
	DefaultAIName            = "Sam"
	DefaultTemperature       = 0.8
	DefaultMaxTokens         = 500
	DefaultFallbackMaxTokens = 300

	// StrategyFallback is reported for every reply that did not come from
	// the full prompt.
	StrategyFallback = "fallback"

	// Apology is the last-resort reply.
	Apology = "I'm here with you, but something went wrong on my side. You're not alone. Let's try again in a moment."

	memorySaveTimeout = 2 * time.Second
	logPreviewRunes   = 80
)

// Turn outcomes reported to metrics.
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
	OutcomeApology  = "apology"
	OutcomeInvalid  = "invalid"
)

// ErrInvalidInput marks turns rejected before any work ran.
var ErrInvalidInput = errors.New("invalid input")

// ValidationError is the structured rejection of a malformed turn.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// TurnInput is one inbound chat message.
type TurnInput struct {
	UserID   string `json:"user_id"`
	Message  string `json:"message"`
	AIName   string `json:"ai_name,omitempty"`
	UserName string `json:"user_name,omitempty"`
}

// TurnResult is what the caller sees for one turn.
type TurnResult struct {
	TurnID       string            `json:"turn_id"`
	Response     string            `json:"response"`
	SignalID     string            `json:"signal_id,omitempty"`
	StrategyUsed string            `json:"strategy_used"`
	Confidence   float64           `json:"confidence"`
	MemoryUsed   bool              `json:"memory_used"`
	MemoryType   string            `json:"memory_type,omitempty"`
	Emotion      emotion.Signature `json:"emotion"`
	Strategy     strategy.Strategy `json:"strategy"`
	Provider     string            `json:"provider,omitempty"`
	TokensUsed   int               `json:"tokens_used"`
}

type Config struct {
	AIName            string
	Temperature       float64
	MaxTokens         int
	FallbackMaxTokens int
	RecallLimit       int
	MaxMessageRunes   int
	Metrics           *observability.Metrics
	Now               func() time.Time
}

// Orchestrator runs a turn through analysis, retrieval, signal tracking,
// strategy selection and generation.
type Orchestrator struct {
	lex       *lexicon.Lexicon
	store     store.Store
	analyzer  *emotion.Analyzer
	retriever *memory.Retriever
	writer    *memory.Writer
	recorder  *signal.Recorder
	selector  *strategy.Selector
	generator brain.Generator
	cfg       Config
	metrics   *observability.Metrics
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Lexicon   *lexicon.Lexicon
	Store     store.Store
	Analyzer  *emotion.Analyzer
	Retriever *memory.Retriever
	Writer    *memory.Writer
	Recorder  *signal.Recorder
	Selector  *strategy.Selector
	Generator brain.Generator
}

func New(d Deps, cfg Config) *Orchestrator {
	if d.Lexicon == nil {
		d.Lexicon = lexicon.Default()
	}
	if d.Analyzer == nil {
		d.Analyzer = emotion.NewAnalyzer(d.Lexicon)
	}
	if d.Generator == nil {
		d.Generator = brain.Unconfigured{}
	}
	if strings.TrimSpace(cfg.AIName) == "" {
		cfg.AIName = DefaultAIName
	}
	// Zero is a valid, deterministic temperature.
	if cfg.Temperature < 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.FallbackMaxTokens <= 0 {
		cfg.FallbackMaxTokens = DefaultFallbackMaxTokens
	}
	if cfg.RecallLimit <= 0 {
		cfg.RecallLimit = memory.DefaultRecall
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		lex:       d.Lexicon,
		store:     d.Store,
		analyzer:  d.Analyzer,
		retriever: d.Retriever,
		writer:    d.Writer,
		recorder:  d.Recorder,
		selector:  d.Selector,
		generator: d.Generator,
		cfg:       cfg,
		metrics:   cfg.Metrics,
	}
}

// Analyze exposes the emotional signature of text.
func (o *Orchestrator) Analyze(text string) emotion.Signature {
	return o.analyzer.Analyze(text)
}

// Orchestrate runs one turn. The only error it returns is a
// *ValidationError; every downstream failure degrades to a fallback reply.
func (o *Orchestrator) Orchestrate(ctx context.Context, in TurnInput) (TurnResult, error) {
	if err := o.validate(in); err != nil {
		o.metrics.ObserveTurn(OutcomeInvalid)
		return TurnResult{}, err
	}
	turnStart := time.Now()
	turnID := uuid.NewString()
	ctx = observability.WithTurn(ctx, in.UserID, turnID)
	log := observability.LoggerFromContext(ctx)
	log.Info("turn received", "message", policy.Preview(in.Message, logPreviewRunes))

	p := o.prepare(ctx, in)

	result := TurnResult{
		TurnID:   turnID,
		Emotion:  p.emotion,
		Strategy: p.strategy,
	}
	result.SignalID = o.startSignal(ctx, in, p)
	if result.SignalID != "" {
		ctx = observability.WithSignal(ctx, result.SignalID)
		log = observability.LoggerFromContext(ctx)
	}

	outcome := OutcomeOK
	stage := time.Now()
	resp, err := o.generate(ctx, p.prompt, in, o.cfg.MaxTokens)
	o.metrics.ObserveStage(observability.StageGenerate, time.Since(stage))
	switch {
	case err == nil:
		result.Response = resp.Text
		result.StrategyUsed = p.strategy.Approach
		result.Confidence = p.strategy.Confidence
		result.MemoryUsed = p.memory.Used()
		result.MemoryType = p.memory.Type()
	default:
		outcome, resp = o.fallback(ctx, in, err)
		result.Response = resp.Text
		result.StrategyUsed = StrategyFallback
	}
	result.Provider = resp.Provider
	result.TokensUsed = resp.TokensUsed

	o.completeSignal(ctx, result, p)
	if outcome != OutcomeApology {
		o.remember(ctx, in, result.Response, p.emotion.PrimaryTone)
	}

	o.metrics.ObserveTurn(outcome)
	o.metrics.ObserveStage(observability.StageTurnTotal, time.Since(turnStart))
	log.Info("turn completed",
		"outcome", outcome,
		"strategy", result.StrategyUsed,
		"confidence", result.Confidence,
		"memory_used", result.MemoryUsed,
		"provider", result.Provider,
		"tokens", result.TokensUsed,
		"elapsed_ms", time.Since(turnStart).Milliseconds(),
	)
	return result, nil
}

// DebugPrompt renders the exact prompt a turn would send, without starting
// a signal or calling the generator.
func (o *Orchestrator) DebugPrompt(ctx context.Context, in TurnInput) (string, error) {
	if err := o.validate(in); err != nil {
		return "", err
	}
	return o.prepare(ctx, in).prompt, nil
}

// CaptureReply scores the user's follow-up to a completed turn. It reports
// false for unknown signals.
func (o *Orchestrator) CaptureReply(ctx context.Context, signalID, reply string, elapsedSeconds float64) (float64, bool) {
	if o.recorder == nil {
		return 0, false
	}
	after := o.analyzer.Analyze(reply)
	score, ok := o.recorder.CaptureReply(ctx, signalID, reply, elapsedSeconds, &after)
	if ok {
		o.invalidate(ctx, signalID)
	}
	return score, ok
}

// CaptureFeedback applies an explicit rating to a signal.
func (o *Orchestrator) CaptureFeedback(ctx context.Context, signalID, label, details string) bool {
	if o.recorder == nil {
		return false
	}
	ok := o.recorder.CaptureFeedback(ctx, signalID, label, details)
	if ok {
		o.invalidate(ctx, signalID)
	}
	return ok
}

// EraseUser deletes every record of userID.
func (o *Orchestrator) EraseUser(ctx context.Context, userID string) error {
	if err := policy.CheckTurnInput(userID, "-", 0); err != nil {
		return toValidation(err)
	}
	if o.store == nil {
		return errors.New("store not configured")
	}
	if err := o.store.EraseUser(ctx, userID); err != nil {
		o.metrics.ObserveStoreError("erase_user")
		return err
	}
	o.selector.Invalidate(ctx, userID)
	observability.LoggerFromContext(ctx).Info("user erased", "user_id", userID)
	return nil
}

// Health is the systemic state of the orchestrator.
type Health struct {
	BrainConfigured bool   `json:"brain_configured"`
	StoreMode       string `json:"store_mode"`
	PendingSignals  int    `json:"pending_signals"`
}

// Healthy reports whether turns can produce generated replies at all.
func (o *Orchestrator) Healthy() Health {
	h := Health{BrainConfigured: brain.Configured(o.generator), StoreMode: "none"}
	if o.store != nil {
		h.StoreMode = o.store.Mode()
	}
	if o.recorder != nil {
		h.PendingSignals = o.recorder.Pending()
	}
	return h
}

type prepared struct {
	emotion  emotion.Signature
	memory   memory.Result
	strategy strategy.Strategy
	prompt   string
}

func (o *Orchestrator) prepare(ctx context.Context, in TurnInput) prepared {
	var p prepared

	stage := time.Now()
	p.emotion = o.analyzer.Analyze(in.Message)
	o.metrics.ObserveStage(observability.StageAnalyze, time.Since(stage))

	stage = time.Now()
	p.memory = o.retriever.Retrieve(ctx, in.UserID, in.Message, o.cfg.RecallLimit)
	o.metrics.ObserveStage(observability.StageRetrieve, time.Since(stage))

	stage = time.Now()
	p.strategy = o.selector.Select(ctx, in.UserID, strategy.Context{
		Emotion:        p.emotion,
		MemoryRecalled: p.memory.Used(),
	})
	o.metrics.ObserveStage(observability.StageStrategy, time.Since(stage))

	aiName := in.AIName
	if strings.TrimSpace(aiName) == "" {
		aiName = o.cfg.AIName
	}
	p.prompt = Prompt{
		AIName:   aiName,
		UserName: in.UserName,
		Memory:   p.memory.Recall,
		Emotion:  p.emotion.Context(),
		Guidance: p.strategy.Guidance(o.lex),
		Message:  in.Message,
	}.Render()

	observability.LoggerFromContext(ctx).Debug("turn prepared",
		"primary_tone", p.emotion.PrimaryTone,
		"intensity", p.emotion.Intensity,
		"regulation", p.emotion.Regulation,
		"memories", len(p.memory.Memories),
		"memory_unavailable", p.memory.Unavailable,
		"approach", p.strategy.Approach,
		"style", p.strategy.ResponseStyle,
		"strategy_source", p.strategy.Source,
	)
	return p
}

func (o *Orchestrator) startSignal(ctx context.Context, in TurnInput, p prepared) string {
	if o.recorder == nil {
		return ""
	}
	return o.recorder.Start(ctx, signal.StartInput{
		UserID:        in.UserID,
		Message:       in.Message,
		EmotionBefore: p.emotion,
		MemoryUsed:    p.memory.Used(),
	})
}

func (o *Orchestrator) completeSignal(ctx context.Context, res TurnResult, p prepared) {
	if o.recorder == nil || res.SignalID == "" {
		return
	}
	c := signal.Completion{Reply: res.Response}
	if res.StrategyUsed != StrategyFallback {
		c.Approach = p.strategy.Approach
		c.ResponseStyle = p.strategy.ResponseStyle
		c.MemoryType = res.MemoryType
	}
	o.recorder.Complete(ctx, res.SignalID, c)
}

func (o *Orchestrator) generate(ctx context.Context, prompt string, in TurnInput, maxTokens int) (brain.Response, error) {
	return o.generator.Generate(ctx, brain.Request{
		Prompt:      prompt,
		Temperature: o.cfg.Temperature,
		MaxTokens:   maxTokens,
		UserID:      in.UserID,
		Input:       in.Message,
	})
}

// fallback runs the minimal prompt and, if that fails too, returns the
// apology.
func (o *Orchestrator) fallback(ctx context.Context, in TurnInput, cause error) (string, brain.Response) {
	log := observability.LoggerFromContext(ctx)
	if brain.IsUnconfigured(cause) {
		log.Error("generative service not configured, replying with apology")
		return OutcomeApology, brain.Response{Text: Apology}
	}
	log.Warn("generation failed, trying minimal prompt", "error", cause)

	aiName := in.AIName
	if strings.TrimSpace(aiName) == "" {
		aiName = o.cfg.AIName
	}
	resp, err := o.generate(ctx, MinimalPrompt(aiName, in.Message), in, o.cfg.FallbackMaxTokens)
	if err == nil {
		return OutcomeFallback, resp
	}
	log.Warn("minimal prompt failed, replying with apology", "error", err)
	return OutcomeApology, brain.Response{Text: Apology}
}

func (o *Orchestrator) remember(ctx context.Context, in TurnInput, reply, tone string) {
	if o.writer == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), memorySaveTimeout)
	defer cancel()
	if _, err := o.writer.Store(saveCtx, in.UserID, in.Message, reply, tone); err != nil {
		observability.LoggerFromContext(ctx).Warn("memory write-back failed", "error", err)
	}
}

func (o *Orchestrator) invalidate(ctx context.Context, signalID string) {
	if o.selector == nil {
		return
	}
	if sig, ok := o.recorder.Lookup(ctx, signalID); ok {
		o.selector.Invalidate(ctx, sig.UserID)
	}
}

func (o *Orchestrator) validate(in TurnInput) error {
	return Validate(in, o.cfg.MaxMessageRunes)
}

// Validate checks a turn the way Orchestrate does, returning a
// *ValidationError. maxRunes <= 0 uses the default limit.
func Validate(in TurnInput, maxRunes int) error {
	return toValidation(policy.CheckTurnInput(in.UserID, in.Message, maxRunes))
}

func toValidation(err error) error {
	if err == nil {
		return nil
	}
	var ie *policy.InputError
	if errors.As(err, &ie) {
		return &ValidationError{Field: ie.Field, Reason: ie.Reason}
	}
	return &ValidationError{Field: "input", Reason: err.Error()}
}
