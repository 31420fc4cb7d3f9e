package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the single-node persistent backend. Records are stored as
// JSON documents with millisecond timestamps for ordering.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates or opens the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serializes writers; read-modify-write on a signal
	// then needs no extra locking.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS conversation_memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			doc_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS conversation_memories_user_idx ON conversation_memories(user_id, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS interaction_signals (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			doc_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS interaction_signals_user_idx ON interaction_signals(user_id, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS user_preferences (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			pref_type TEXT NOT NULL,
			pref_value TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			doc_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS user_preferences_user_idx ON user_preferences(user_id);`,
		`CREATE TABLE IF NOT EXISTS learning_reports (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			doc_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS learning_reports_user_idx ON learning_reports(user_id, created_at_ms DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) AppendMemory(ctx context.Context, m ConversationMemory) error {
	stampMemory(&m, s.now())
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_memories (id, user_id, created_at_ms, doc_json) VALUES (?, ?, ?, ?)`,
		m.ID, m.UserID, m.CreatedAt.UnixMilli(), string(doc),
	)
	if err != nil {
		return fmt.Errorf("append memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentMemories(ctx context.Context, userID string, limit int) ([]ConversationMemory, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_json FROM conversation_memories WHERE user_id = ? ORDER BY created_at_ms DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	return scanDocs[ConversationMemory](rows, "memory")
}

func (s *SQLiteStore) CreateSignal(ctx context.Context, sig Signal) error {
	stampSignal(&sig, s.now())
	doc, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO interaction_signals (id, user_id, state, created_at_ms, updated_at_ms, doc_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.UserID, sig.State, sig.CreatedAt.UnixMilli(), sig.UpdatedAt.UnixMilli(), string(doc),
	)
	if err != nil {
		return fmt.Errorf("create signal: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSignal(ctx context.Context, signalID string) (Signal, error) {
	return getDoc[Signal](ctx, s.db, `SELECT doc_json FROM interaction_signals WHERE id = ?`, signalID, "signal")
}

func (s *SQLiteStore) UpdateSignal(ctx context.Context, signalID string, fn func(*Signal) error) (Signal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Signal{}, fmt.Errorf("begin signal update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sig, err := getDoc[Signal](ctx, tx, `SELECT doc_json FROM interaction_signals WHERE id = ?`, signalID, "signal")
	if err != nil {
		return Signal{}, err
	}
	if err := fn(&sig); err != nil {
		return Signal{}, err
	}
	sig.ID = signalID
	sig.UpdatedAt = s.now()
	doc, err := json.Marshal(sig)
	if err != nil {
		return Signal{}, fmt.Errorf("encode signal: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE interaction_signals SET state = ?, updated_at_ms = ?, doc_json = ? WHERE id = ?`,
		sig.State, sig.UpdatedAt.UnixMilli(), string(doc), signalID,
	); err != nil {
		return Signal{}, fmt.Errorf("update signal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Signal{}, fmt.Errorf("commit signal update: %w", err)
	}
	return sig, nil
}

func (s *SQLiteStore) RecentSignals(ctx context.Context, userID string, limit int) ([]Signal, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_json FROM interaction_signals WHERE user_id = ? ORDER BY created_at_ms DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	return scanDocs[Signal](rows, "signal")
}

func (s *SQLiteStore) GetPreference(ctx context.Context, id string) (Preference, error) {
	return getDoc[Preference](ctx, s.db, `SELECT doc_json FROM user_preferences WHERE id = ?`, id, "preference")
}

func (s *SQLiteStore) PutPreference(ctx context.Context, p Preference) error {
	if p.ID == "" {
		p.ID = PreferenceID(p.UserID, p.Type, p.Value)
	}
	if p.CreatedAt.IsZero() {
		if prev, err := s.GetPreference(ctx, p.ID); err == nil {
			p.CreatedAt = prev.CreatedAt
		}
	}
	stampPreference(&p, s.now())
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode preference: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_preferences (id, user_id, pref_type, pref_value, updated_at_ms, doc_json)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at_ms = excluded.updated_at_ms, doc_json = excluded.doc_json`,
		p.ID, p.UserID, p.Type, p.Value, p.UpdatedAt.UnixMilli(), string(doc),
	)
	if err != nil {
		return fmt.Errorf("put preference: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Preferences(ctx context.Context, userID string) ([]Preference, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc_json FROM user_preferences WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	return scanDocs[Preference](rows, "preference")
}

func (s *SQLiteStore) SignalsSince(ctx context.Context, userID string, since time.Time) ([]Signal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_json FROM interaction_signals WHERE user_id = ? AND created_at_ms >= ? ORDER BY created_at_ms, id`,
		userID, since.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("query signals since: %w", err)
	}
	return scanDocs[Signal](rows, "signal")
}

func (s *SQLiteStore) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM interaction_signals WHERE created_at_ms >= ? ORDER BY user_id`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan active user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active users: %w", err)
	}
	return users, nil
}

func (s *SQLiteStore) SaveReport(ctx context.Context, r LearningReport) error {
	stampReport(&r, s.now())
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO learning_reports (id, user_id, created_at_ms, doc_json) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc_json = excluded.doc_json`,
		r.ID, r.UserID, r.CreatedAt.UnixMilli(), string(doc),
	)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Reports(ctx context.Context, userID string, limit int) ([]LearningReport, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_json FROM learning_reports WHERE user_id = ? ORDER BY created_at_ms DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	return scanDocs[LearningReport](rows, "report")
}

func (s *SQLiteStore) EraseUser(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin erase: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, table := range []string{"conversation_memories", "interaction_signals", "user_preferences", "learning_reports"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("erase %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit erase: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Mode() string { return "sqlite" }

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDoc[T any](ctx context.Context, q queryRower, query, id, kind string) (T, error) {
	var zero T
	var raw string
	err := q.QueryRowContext(ctx, query, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("get %s: %w", kind, err)
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return zero, fmt.Errorf("decode %s: %w", kind, err)
	}
	return v, nil
}

func scanDocs[T any](rows *sql.Rows, kind string) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", kind, err)
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", kind, err)
	}
	return out, nil
}
