/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	ns TEXT NOT NULL,
	k TEXT NOT NULL,
	v BLOB NOT NULL,
	PRIMARY KEY (ns, k)
);
`

// SQLiteStore implements Store on a local SQLite file for single-node
// deployments without a Redis backend
type SQLiteStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a SQLite-backed store
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// CRITICAL: Prevents "database is locked" errors with concurrent access
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite store initialized",
		slog.String("database_path", dbPath),
		slog.String("journal_mode", "WAL"))

	return &SQLiteStore{db: db, logger: logger}, nil
}

// wrapSQLiteErr maps database/sql failures onto the package sentinel errors
func wrapSQLiteErr(op string, err error) error {
	msg := err.Error()
	switch {
	case errors.Is(err, sql.ErrConnDone), strings.Contains(msg, "database is closed"):
		return fmt.Errorf("%s: %w: %s", op, ErrDisconnected, msg)
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "busy"):
		return fmt.Errorf("%s: %w: %s", op, ErrTransient, msg)
	default:
		return fmt.Errorf("%s: %w: %s", op, ErrRejected, msg)
	}
}

// Get retrieves the value for a key
func (s *SQLiteStore) Get(ctx context.Context, ns, key string) ([]byte, error) {
	var val []byte
	err := s.db.GetContext(ctx, &val, "SELECT v FROM kv WHERE ns = ? AND k = ?", ns, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, wrapSQLiteErr("get", err)
	}
	return val, nil
}

// Set writes a value under a key
func (s *SQLiteStore) Set(ctx context.Context, ns, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (ns, k, v) VALUES (?, ?, ?) ON CONFLICT (ns, k) DO UPDATE SET v = excluded.v",
		ns, key, value)
	if err != nil {
		return wrapSQLiteErr("set", err)
	}
	return nil
}

// Delete removes a key
func (s *SQLiteStore) Delete(ctx context.Context, ns, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE ns = ? AND k = ?", ns, key)
	if err != nil {
		return wrapSQLiteErr("delete", err)
	}
	return nil
}

// FindAndGet returns every key starting with prefix, with its value
func (s *SQLiteStore) FindAndGet(ctx context.Context, ns, prefix string) (map[string][]byte, error) {
	pattern := escapeLike(prefix) + "%"
	rows, err := s.db.QueryxContext(ctx,
		`SELECT k, v FROM kv WHERE ns = ? AND k LIKE ? ESCAPE '\'`, ns, pattern)
	if err != nil {
		return nil, wrapSQLiteErr("find_and_get", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var val []byte
		if err := rows.Scan(&key, &val); err != nil {
			return nil, wrapSQLiteErr("find_and_get", err)
		}
		out[key] = val
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSQLiteErr("find_and_get", err)
	}
	return out, nil
}

// escapeLike escapes LIKE metacharacters so prefixes match literally
func escapeLike(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`%`, `\%`,
		`_`, `\_`,
	)
	return replacer.Replace(s)
}

// Healthy reports whether the backend is reachable
func (s *SQLiteStore) Healthy(ctx context.Context) bool {
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Warn("SQLite health probe failed", slog.Any("error", err))
		return false
	}
	return true
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
