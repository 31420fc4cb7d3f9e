package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps each record as a JSONB document keyed by id, with the
// columns needed for per-user ordered queries pulled out alongside.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			doc JSONB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_memories_user_created ON conversation_memories (user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS interaction_signals (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			doc JSONB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interaction_signals_user_created ON interaction_signals (user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS user_preferences (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			pref_type TEXT NOT NULL,
			pref_value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			doc JSONB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_user_preferences_user ON user_preferences (user_id);`,
		`CREATE TABLE IF NOT EXISTS learning_reports (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			doc JSONB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_learning_reports_user_created ON learning_reports (user_id, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) AppendMemory(ctx context.Context, m ConversationMemory) error {
	stampMemory(&m, s.now())
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversation_memories (id, user_id, created_at, doc) VALUES ($1, $2, $3, $4)`,
		m.ID, m.UserID, m.CreatedAt, doc,
	)
	if err != nil {
		return fmt.Errorf("append memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentMemories(ctx context.Context, userID string, limit int) ([]ConversationMemory, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM conversation_memories WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	return collectDocs[ConversationMemory](rows, "memory")
}

func (s *PostgresStore) CreateSignal(ctx context.Context, sig Signal) error {
	stampSignal(&sig, s.now())
	doc, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO interaction_signals (id, user_id, state, created_at, updated_at, doc)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		sig.ID, sig.UserID, sig.State, sig.CreatedAt, sig.UpdatedAt, doc,
	)
	if err != nil {
		return fmt.Errorf("create signal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSignal(ctx context.Context, signalID string) (Signal, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM interaction_signals WHERE id=$1`, signalID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return Signal{}, ErrNotFound
	}
	if err != nil {
		return Signal{}, fmt.Errorf("get signal: %w", err)
	}
	var sig Signal
	if err := json.Unmarshal(doc, &sig); err != nil {
		return Signal{}, fmt.Errorf("decode signal: %w", err)
	}
	return sig, nil
}

func (s *PostgresStore) UpdateSignal(ctx context.Context, signalID string, fn func(*Signal) error) (Signal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Signal{}, fmt.Errorf("begin signal update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var doc []byte
	err = tx.QueryRow(ctx, `SELECT doc FROM interaction_signals WHERE id=$1 FOR UPDATE`, signalID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return Signal{}, ErrNotFound
	}
	if err != nil {
		return Signal{}, fmt.Errorf("lock signal: %w", err)
	}
	var sig Signal
	if err := json.Unmarshal(doc, &sig); err != nil {
		return Signal{}, fmt.Errorf("decode signal: %w", err)
	}
	if err := fn(&sig); err != nil {
		return Signal{}, err
	}
	sig.ID = signalID
	sig.UpdatedAt = s.now()
	if doc, err = json.Marshal(sig); err != nil {
		return Signal{}, fmt.Errorf("encode signal: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE interaction_signals SET state=$2, updated_at=$3, doc=$4 WHERE id=$1`,
		signalID, sig.State, sig.UpdatedAt, doc,
	); err != nil {
		return Signal{}, fmt.Errorf("update signal: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Signal{}, fmt.Errorf("commit signal update: %w", err)
	}
	return sig, nil
}

func (s *PostgresStore) RecentSignals(ctx context.Context, userID string, limit int) ([]Signal, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM interaction_signals WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	return collectDocs[Signal](rows, "signal")
}

func (s *PostgresStore) GetPreference(ctx context.Context, id string) (Preference, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM user_preferences WHERE id=$1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return Preference{}, ErrNotFound
	}
	if err != nil {
		return Preference{}, fmt.Errorf("get preference: %w", err)
	}
	var p Preference
	if err := json.Unmarshal(doc, &p); err != nil {
		return Preference{}, fmt.Errorf("decode preference: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) PutPreference(ctx context.Context, p Preference) error {
	stampPreference(&p, s.now())
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode preference: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_preferences (id, user_id, pref_type, pref_value, updated_at, doc)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET updated_at=EXCLUDED.updated_at,
		   doc=jsonb_set(EXCLUDED.doc, '{created_at}', user_preferences.doc->'created_at')`,
		p.ID, p.UserID, p.Type, p.Value, p.UpdatedAt, doc,
	)
	if err != nil {
		return fmt.Errorf("put preference: %w", err)
	}
	return nil
}

func (s *PostgresStore) Preferences(ctx context.Context, userID string) ([]Preference, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM user_preferences WHERE user_id=$1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	return collectDocs[Preference](rows, "preference")
}

func (s *PostgresStore) SignalsSince(ctx context.Context, userID string, since time.Time) ([]Signal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM interaction_signals WHERE user_id=$1 AND created_at >= $2 ORDER BY created_at, id`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query signals since: %w", err)
	}
	return collectDocs[Signal](rows, "signal")
}

func (s *PostgresStore) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT user_id FROM interaction_signals WHERE created_at >= $1 ORDER BY user_id`, since)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan active users: %w", err)
	}
	return users, nil
}

func (s *PostgresStore) SaveReport(ctx context.Context, r LearningReport) error {
	stampReport(&r, s.now())
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO learning_reports (id, user_id, created_at, doc) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET doc=EXCLUDED.doc`,
		r.ID, r.UserID, r.CreatedAt, doc,
	)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func (s *PostgresStore) Reports(ctx context.Context, userID string, limit int) ([]LearningReport, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM learning_reports WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	return collectDocs[LearningReport](rows, "report")
}

func (s *PostgresStore) EraseUser(ctx context.Context, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin erase: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, table := range []string{"conversation_memories", "interaction_signals", "user_preferences", "learning_reports"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE user_id=$1`, userID); err != nil {
			return fmt.Errorf("erase %s: %w", table, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit erase: %w", err)
	}
	return nil
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func collectDocs[T any](rows pgx.Rows, kind string) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", kind, err)
		}
		var v T
		if err := json.Unmarshal(doc, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", kind, err)
	}
	return out, nil
}
