package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/resonance/internal/emotion"
)

func TestInMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewInMemoryStore())
}

func TestSQLiteStoreContract(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "nested", "resonance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	assert.Equal(t, "sqlite", s.Mode())
	runStoreContract(t, s)
}

func TestPostgresStoreContract(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStore(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	runStoreContract(t, s)
}

func TestNewStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, "  ")
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Mode())

	s, err = NewStore(ctx, "sqlite://"+filepath.Join(t.TempDir(), "a.db"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", s.Mode())
	require.NoError(t, s.Close())
}

func TestPreferenceIDIsStable(t *testing.T) {
	a := PreferenceID("u1", "tone", "warm_validation")
	assert.Equal(t, a, PreferenceID("u1", "tone", "warm_validation"))
	assert.NotEqual(t, a, PreferenceID("u2", "tone", "warm_validation"))
}

// runStoreContract exercises the behavior every backend must share. Each
// run uses fresh user ids so it is safe against a shared database.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	user := "user-" + uuid.NewString()
	other := "user-" + uuid.NewString()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("memories newest first and scoped", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			require.NoError(t, s.AppendMemory(ctx, ConversationMemory{
				UserID:      user,
				CreatedAt:   base.Add(time.Duration(i) * time.Hour),
				UserMessage: []string{"a", "b", "c", "d"}[i],
				Themes:      []string{"work"},
			}))
		}
		require.NoError(t, s.AppendMemory(ctx, ConversationMemory{UserID: other, CreatedAt: base, UserMessage: "x"}))

		got, err := s.RecentMemories(ctx, user, 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "d", got[0].UserMessage)
		assert.Equal(t, "b", got[2].UserMessage)
		assert.NotEmpty(t, got[0].ID)
		assert.Equal(t, []string{"work"}, got[0].Themes)
	})

	t.Run("signal update is read-modify-write", func(t *testing.T) {
		sig := Signal{
			ID:            uuid.NewString(),
			UserID:        user,
			CreatedAt:     base,
			UserMessage:   "hello",
			EmotionBefore: emotion.Signature{PrimaryTone: "anxious", Intensity: 0.6},
		}
		require.NoError(t, s.CreateSignal(ctx, sig))

		got, err := s.GetSignal(ctx, sig.ID)
		require.NoError(t, err)
		assert.Equal(t, StateStarted, got.State)
		assert.Equal(t, "anxious", got.EmotionBefore.PrimaryTone)

		updated, err := s.UpdateSignal(ctx, sig.ID, func(cur *Signal) error {
			cur.Reply = "I hear you"
			cur.State = StateResponded
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "I hear you", updated.Reply)

		boom := errors.New("boom")
		_, err = s.UpdateSignal(ctx, sig.ID, func(cur *Signal) error {
			cur.Reply = "discarded"
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err = s.GetSignal(ctx, sig.ID)
		require.NoError(t, err)
		assert.Equal(t, "I hear you", got.Reply)
		assert.Equal(t, StateResponded, got.State)
	})

	t.Run("unknown signal", func(t *testing.T) {
		_, err := s.GetSignal(ctx, "missing-"+uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.UpdateSignal(ctx, "missing-"+uuid.NewString(), func(*Signal) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("recent signals newest first", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			require.NoError(t, s.CreateSignal(ctx, Signal{UserID: user, CreatedAt: base.Add(time.Duration(i) * time.Minute), UserMessage: string(rune('a' + i))}))
		}
		got, err := s.RecentSignals(ctx, user, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "d", got[0].UserMessage)
		assert.Equal(t, "c", got[1].UserMessage)
	})

	t.Run("preferences upsert by key", func(t *testing.T) {
		p := Preference{UserID: user, Type: "tone", Value: "grounded", Confidence: 0.6, Source: SourceExplicitFeedback}
		require.NoError(t, s.PutPreference(ctx, p))
		p.Confidence = 0.75
		p.Reinforcements = 1
		require.NoError(t, s.PutPreference(ctx, p))

		got, err := s.GetPreference(ctx, PreferenceID(user, "tone", "grounded"))
		require.NoError(t, err)
		assert.InDelta(t, 0.75, got.Confidence, 1e-9)
		assert.Equal(t, 1, got.Reinforcements)

		all, err := s.Preferences(ctx, user)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		_, err = s.GetPreference(ctx, PreferenceID(user, "tone", "none"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("memories with equal timestamps order by id", func(t *testing.T) {
		tied := "user-" + uuid.NewString()
		for _, suffix := range []string{"b", "a", "c"} {
			require.NoError(t, s.AppendMemory(ctx, ConversationMemory{
				ID:          tied + "-" + suffix,
				UserID:      tied,
				CreatedAt:   base,
				UserMessage: suffix,
			}))
		}
		for range 2 {
			got, err := s.RecentMemories(ctx, tied, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "c", got[0].UserMessage)
			assert.Equal(t, "b", got[1].UserMessage)
		}
		require.NoError(t, s.EraseUser(ctx, tied))
	})

	t.Run("signals since window oldest first", func(t *testing.T) {
		windowUser := "user-" + uuid.NewString()
		for i, offset := range []time.Duration{-8 * 24 * time.Hour, -2 * time.Hour, -time.Hour} {
			require.NoError(t, s.CreateSignal(ctx, Signal{
				UserID:      windowUser,
				CreatedAt:   base.Add(offset),
				UserMessage: string(rune('a' + i)),
			}))
		}
		got, err := s.SignalsSince(ctx, windowUser, base.Add(-7*24*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "b", got[0].UserMessage)
		assert.Equal(t, "c", got[1].UserMessage)

		users, err := s.ActiveUsers(ctx, base.Add(-90*time.Minute))
		require.NoError(t, err)
		assert.Contains(t, users, windowUser)

		users, err = s.ActiveUsers(ctx, base.Add(time.Hour))
		require.NoError(t, err)
		assert.NotContains(t, users, windowUser)
		require.NoError(t, s.EraseUser(ctx, windowUser))
	})

	t.Run("reports newest first", func(t *testing.T) {
		for i := range 3 {
			require.NoError(t, s.SaveReport(ctx, LearningReport{
				UserID:               user,
				CreatedAt:            base.Add(time.Duration(i) * 7 * 24 * time.Hour),
				TotalInteractions:    i + 1,
				MeanResonance:        0.5,
				SuggestedAdaptations: []string{"keep going"},
			}))
		}
		got, err := s.Reports(ctx, user, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 3, got[0].TotalInteractions)
		assert.Equal(t, 2, got[1].TotalInteractions)
		assert.NotEmpty(t, got[0].ID)
		assert.Equal(t, []string{"keep going"}, got[0].SuggestedAdaptations)
	})

	t.Run("erase user", func(t *testing.T) {
		require.NoError(t, s.EraseUser(ctx, user))
		mems, err := s.RecentMemories(ctx, user, 10)
		require.NoError(t, err)
		assert.Empty(t, mems)
		sigs, err := s.RecentSignals(ctx, user, 10)
		require.NoError(t, err)
		assert.Empty(t, sigs)
		prefs, err := s.Preferences(ctx, user)
		require.NoError(t, err)
		assert.Empty(t, prefs)
		reports, err := s.Reports(ctx, user, 10)
		require.NoError(t, err)
		assert.Empty(t, reports)

		mems, err = s.RecentMemories(ctx, other, 10)
		require.NoError(t, err)
		assert.Len(t, mems, 1)
	})
}
