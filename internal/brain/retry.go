package brain

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/resonance/internal/observability"
	"github.com/ent0n29/resonance/internal/reliability"
)

const (
	DefaultRetryBase = 500 * time.Millisecond
	maxRetryWait     = 8 * time.Second
)

type RetryConfig struct {
	Provider   string
	MaxRetries int
	Base       time.Duration
	// CallTimeout bounds each attempt; zero leaves attempts unbounded.
	CallTimeout time.Duration
	Metrics     *observability.Metrics
}

// Retrying retries retryable failures of the wrapped generator with capped
// exponential backoff.
type Retrying struct {
	next  Generator
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetrying(next Generator, cfg RetryConfig) *Retrying {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Base <= 0 {
		cfg.Base = DefaultRetryBase
	}
	return &Retrying{next: next, cfg: cfg, sleep: sleepCtx}
}

func (r *Retrying) Generate(ctx context.Context, req Request) (Response, error) {
	log := observability.LoggerFromContext(ctx).With("provider", r.cfg.Provider)
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, r.cfg.Base, maxRetryWait)
			log.Info("retrying generative call", "attempt", attempt, "wait", wait, "error", lastErr)
			if err := r.sleep(ctx, wait); err != nil {
				return Response{}, err
			}
		}
		resp, err := r.call(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		r.cfg.Metrics.ObserveBrainError(r.cfg.Provider, reliability.Code(err))
		if ctx.Err() != nil || !reliability.IsRetryable(err) {
			break
		}
	}
	return Response{}, lastErr
}

func (r *Retrying) call(ctx context.Context, req Request) (Response, error) {
	if r.cfg.CallTimeout <= 0 {
		return r.next.Generate(ctx, req)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	return r.next.Generate(callCtx, req)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsUnconfigured reports whether err means no generative service exists.
func IsUnconfigured(err error) bool {
	return errors.Is(err, ErrUnconfigured)
}
