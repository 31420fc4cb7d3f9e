package companion

import (
	"context"
	"fmt"
	"math"

	"github.com/ent0n29/resonance/internal/signal"
	"github.com/ent0n29/resonance/internal/store"
	"github.com/ent0n29/resonance/internal/strategy"
)

// StatsWindow is how many recent signals LearningStats looks at.
const StatsWindow = 100

// Stats summarises what has been learned about one user.
type Stats struct {
	UserID        string             `json:"user_id"`
	Signals       int                `json:"signals"`
	Replied       int                `json:"replied"`
	WithFeedback  int                `json:"with_feedback"`
	MeanResonance float64            `json:"mean_resonance"`
	Feedback      map[string]int     `json:"feedback"`
	Reinforced    int                `json:"reinforced"`
	Flagged       int                `json:"flagged"`
	BestApproach  string             `json:"best_approach,omitempty"`
	BestStyle     string             `json:"best_style,omitempty"`
	Segment       string             `json:"segment"`
	Preferences   []store.Preference `json:"preferences"`
}

// LearningStats reports resonance and feedback aggregates over the user's
// recent signals.
func (o *Orchestrator) LearningStats(ctx context.Context, userID string) (Stats, error) {
	if err := o.validate(TurnInput{UserID: userID, Message: "-"}); err != nil {
		return Stats{}, err
	}
	if o.store == nil {
		return Stats{}, fmt.Errorf("store not configured")
	}
	recent, err := o.store.RecentSignals(ctx, userID, StatsWindow)
	if err != nil {
		o.metrics.ObserveStoreError("recent_signals")
		return Stats{}, fmt.Errorf("load signals: %w", err)
	}
	prefs, err := o.store.Preferences(ctx, userID)
	if err != nil {
		o.metrics.ObserveStoreError("preferences")
		return Stats{}, fmt.Errorf("load preferences: %w", err)
	}

	st := Stats{
		UserID:      userID,
		Signals:     len(recent),
		Feedback:    make(map[string]int),
		Segment:     strategy.Segment(o.lex, recent),
		Preferences: prefs,
	}
	if st.Preferences == nil {
		st.Preferences = []store.Preference{}
	}

	var sum float64
	var scored int
	approaches := signal.NewMeans()
	styles := signal.NewMeans()
	for _, s := range recent {
		if s.Replied {
			st.Replied++
		}
		if s.Feedback != "" {
			st.WithFeedback++
			st.Feedback[s.Feedback]++
		}
		switch s.Adaptation {
		case signal.AdaptReinforce:
			st.Reinforced++
		case signal.AdaptFlag:
			st.Flagged++
		}
		if s.Resonance == nil {
			continue
		}
		sum += *s.Resonance
		scored++
		approaches.Add(s.Approach, *s.Resonance)
		styles.Add(s.ResponseStyle, *s.Resonance)
	}
	if scored > 0 {
		st.MeanResonance = math.Round(sum/float64(scored)*1000) / 1000
	}
	st.BestApproach = approaches.Best()
	st.BestStyle = styles.Best()
	return st, nil
}
