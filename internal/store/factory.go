package store

import (
	"context"
	"strings"
)

// NewStore selects a backend from url: empty for in-memory, postgres:// or
// postgresql:// for PostgreSQL, and sqlite://path, file:path or a path ending
// in .db for SQLite.
func NewStore(ctx context.Context, url string) (Store, error) {
	url = strings.TrimSpace(url)
	switch {
	case url == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return NewPostgresStore(ctx, url)
	case strings.HasPrefix(url, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(url, "sqlite://"))
	default:
		return NewSQLiteStore(ctx, url)
	}
}
