package companion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/ent0n29/resonance/internal/observability"
	"github.com/ent0n29/resonance/internal/signal"
	"github.com/ent0n29/resonance/internal/store"
)

// ErrNoSignals is returned by Report when the user has no signals in the
// requested period.
var ErrNoSignals = errors.New("no signals in report period")

// Report summarises the user's signals created since since, stores the
// result and returns it.
func (o *Orchestrator) Report(ctx context.Context, userID string, since time.Time) (store.LearningReport, error) {
	if err := o.validate(TurnInput{UserID: userID, Message: "-"}); err != nil {
		return store.LearningReport{}, err
	}
	if o.store == nil {
		return store.LearningReport{}, errors.New("store not configured")
	}
	now := o.cfg.Now()
	if since.IsZero() {
		since = now.Add(-signal.ReportWindow)
	}
	sigs, err := o.store.SignalsSince(ctx, userID, since)
	if err != nil {
		o.metrics.ObserveStoreError("signals_since")
		return store.LearningReport{}, fmt.Errorf("load signals: %w", err)
	}
	if len(sigs) == 0 {
		return store.LearningReport{}, ErrNoSignals
	}

	r := signal.BuildReport(userID, sigs, since, now)
	r.ID = uuid.NewString()
	r.CreatedAt = now
	if err := o.store.SaveReport(ctx, r); err != nil {
		o.metrics.ObserveStoreError("save_report")
		return store.LearningReport{}, fmt.Errorf("save report: %w", err)
	}
	observability.LoggerFromContext(ctx).Info("learning report saved",
		"user_id", userID,
		"interactions", r.TotalInteractions,
		"mean_resonance", r.MeanResonance,
		"best_style", r.BestResponseStyle,
	)
	return r, nil
}

// Reports returns the user's stored reports, newest first.
func (o *Orchestrator) Reports(ctx context.Context, userID string, limit int) ([]store.LearningReport, error) {
	if err := o.validate(TurnInput{UserID: userID, Message: "-"}); err != nil {
		return nil, err
	}
	if o.store == nil {
		return nil, errors.New("store not configured")
	}
	out, err := o.store.Reports(ctx, userID, limit)
	if err != nil {
		o.metrics.ObserveStoreError("reports")
		return nil, fmt.Errorf("load reports: %w", err)
	}
	if out == nil {
		out = []store.LearningReport{}
	}
	return out, nil
}

// ReportAll writes a report for every user active in the last
// signal.ReportWindow and returns how many were written.
func (o *Orchestrator) ReportAll(ctx context.Context) (int, error) {
	if o.store == nil {
		return 0, errors.New("store not configured")
	}
	since := o.cfg.Now().Add(-signal.ReportWindow)
	users, err := o.store.ActiveUsers(ctx, since)
	if err != nil {
		o.metrics.ObserveStoreError("active_users")
		return 0, fmt.Errorf("list active users: %w", err)
	}
	log := observability.LoggerFromContext(ctx)
	written := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		if _, err := o.Report(ctx, userID, since); err != nil {
			if !errors.Is(err, ErrNoSignals) {
				log.Warn("learning report failed", "user_id", userID, "error", err)
			}
			continue
		}
		written++
	}
	return written, nil
}

// ReportScheduler runs ReportAll on a cron schedule.
type ReportScheduler struct {
	orch *Orchestrator
	expr string
	now  func() time.Time
}

func NewReportScheduler(orch *Orchestrator, expr string) (*ReportScheduler, error) {
	if expr == "" {
		expr = signal.DefaultReportSchedule
	}
	if !signal.ValidSchedule(expr) {
		return nil, fmt.Errorf("invalid report schedule %q", expr)
	}
	return &ReportScheduler{orch: orch, expr: expr, now: time.Now}, nil
}

// Next returns the first scheduled run strictly after t.
func (s *ReportScheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, t, false)
}

// Start runs the schedule until ctx is done.
func (s *ReportScheduler) Start(ctx context.Context) {
	go func() {
		log := observability.Logger().With("component", "report_scheduler", "schedule", s.expr)
		for {
			next, err := s.Next(s.now())
			if err != nil {
				log.Error("report schedule stopped", "error", err)
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				n, err := s.orch.ReportAll(ctx)
				if err != nil {
					log.Warn("weekly reports incomplete", "written", n, "error", err)
					continue
				}
				log.Info("weekly reports written", "count", n)
			}
		}
	}()
}
