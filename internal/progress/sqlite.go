package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/spigell/hr-intake/internal/chat"
)

// SQLite stores one row per session. Save replaces every row inside a single
// transaction.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	store := &SQLite{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLite) initSchema() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS intake_progress (
			user_id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}

	return nil
}

func (s *SQLite) Name() string { return "sqlite" }

func (s *SQLite) Load(ctx context.Context) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, payload FROM intake_progress`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshot := Snapshot{}
	for rows.Next() {
		var user, payload string
		if err := rows.Scan(&user, &payload); err != nil {
			return nil, err
		}

		var session Session
		if err := json.Unmarshal([]byte(payload), &session); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", user, err)
		}
		if session.Index < 0 {
			session.Index = 0
		}
		snapshot[chat.UserID(user)] = &session
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return snapshot, nil
}

func (s *SQLite) Save(ctx context.Context, snapshot Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM intake_progress`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO intake_progress (user_id, payload, updated_at) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, user := range snapshot.Users() {
		session := snapshot[user]
		if session == nil {
			continue
		}

		payload, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", user, err)
		}

		if _, err := stmt.ExecContext(ctx, string(user), string(payload), now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
