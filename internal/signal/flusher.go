package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/ent0n29/resonance/internal/observability"
)

// DefaultFlushSchedule retries buffered signals every minute.
const DefaultFlushSchedule = "* * * * *"

// ValidSchedule reports whether expr is a cron expression gronx accepts.
func ValidSchedule(expr string) bool {
	return gronx.New().IsValid(expr)
}

// Flusher retries a Recorder's buffered signals on a cron schedule.
type Flusher struct {
	rec  *Recorder
	expr string
	now  func() time.Time
}

func NewFlusher(rec *Recorder, expr string) (*Flusher, error) {
	if expr == "" {
		expr = DefaultFlushSchedule
	}
	if !ValidSchedule(expr) {
		return nil, fmt.Errorf("invalid flush schedule %q", expr)
	}
	return &Flusher{rec: rec, expr: expr, now: time.Now}, nil
}

// Next returns the first scheduled run strictly after t.
func (f *Flusher) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(f.expr, t, false)
}

// Start runs the schedule until ctx is done, then makes one last flush
// attempt with a short deadline.
func (f *Flusher) Start(ctx context.Context) {
	go func() {
		log := observability.Logger().With("component", "signal_flusher", "schedule", f.expr)
		for {
			next, err := f.Next(f.now())
			if err != nil {
				log.Error("flush schedule stopped", "error", err)
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				f.final()
				return
			case <-timer.C:
				if f.rec.Pending() > 0 {
					f.rec.Flush(ctx)
				}
			}
		}
	}()
}

func (f *Flusher) final() {
	if f.rec.Pending() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.rec.Flush(ctx)
}
