package storage

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/flowerschoolbengaluru/flowerschool/internal/db"
	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
)

const (
	getKV    = `SELECT value FROM kv WHERE key = ?`
	upsertKV = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	deleteKV = `DELETE FROM kv WHERE key = ?`
)

// SQLite is a durable tier backed by the kv table created by the database
// package migrations. Several clients may share one database file.
type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLite expects a database whose schema is already migrated.
func NewSQLite(logger *slog.Logger, conn *sql.DB) *SQLite {
	return &SQLite{db: conn, log: logutil.OrDiscard(logger)}
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	defer logutil.NewTimingLogger(s.log, time.Now(), "executed sql query", "method", "get", "key", key)()

	var value string
	err := s.db.QueryRowContext(ctx, getKV, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, logutil.DebugAndWrapErr(s.log, "failed to read durable key",
			models.NewStorageError(models.TierDurable, db.WrapSqliteError("get", key, err)),
			"key", key)
	}
	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	defer logutil.NewTimingLogger(s.log, time.Now(), "executed sql query", "method", "set", "key", key)()

	if _, err := s.db.ExecContext(ctx, upsertKV, key, value, time.Now().UnixMilli()); err != nil {
		return logutil.LogAndWrapErr(s.log, "failed to write durable key",
			models.NewStorageError(models.TierDurable, db.WrapSqliteError("set", key, err)),
			"key", key)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	defer logutil.NewTimingLogger(s.log, time.Now(), "executed sql query", "method", "delete", "key", key)()

	if _, err := s.db.ExecContext(ctx, deleteKV, key); err != nil {
		return logutil.LogAndWrapErr(s.log, "failed to delete durable key",
			models.NewStorageError(models.TierDurable, db.WrapSqliteError("delete", key, err)),
			"key", key)
	}
	return nil
}
