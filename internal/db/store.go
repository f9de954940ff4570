package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/g960059/viasacra/internal/model"
)

var ErrNotFound = errors.New("not found")

const (
	keyRoomID          = "room_id"
	keyRole            = "role"
	keyHostToken       = "host_token"
	keyParticipantName = "participant_name"
)

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// LoadSession returns the persisted session fields exactly as stored. An
// empty table yields the zero Session.
func (s *Store) LoadSession(ctx context.Context) (model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM session_state`)
	if err != nil {
		return model.Session{}, fmt.Errorf("load session: %w", err)
	}
	defer rows.Close()

	var out model.Session
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return model.Session{}, fmt.Errorf("scan session row: %w", err)
		}
		switch key {
		case keyRoomID:
			out.RoomID = value
		case keyRole:
			out.Role = model.Role(value)
		case keyHostToken:
			out.HostToken = value
		case keyParticipantName:
			out.ParticipantName = value
		}
	}
	if err := rows.Err(); err != nil {
		return model.Session{}, fmt.Errorf("iter session rows: %w", err)
	}
	return out, nil
}

// SaveSession replaces every session key in one transaction. Empty fields
// are removed rather than stored.
func (s *Store) SaveSession(ctx context.Context, session model.Session) error {
	now := ts(time.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_state`); err != nil {
			return fmt.Errorf("reset session: %w", err)
		}
		values := []struct {
			key   string
			value string
		}{
			{keyRoomID, session.RoomID},
			{keyRole, string(session.Role)},
			{keyHostToken, session.HostToken},
			{keyParticipantName, session.ParticipantName},
		}
		for _, v := range values {
			if v.value == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO session_state(key, value, updated_at) VALUES (?, ?, ?)
`, v.key, v.value, now); err != nil {
				return fmt.Errorf("save session %s: %w", v.key, err)
			}
		}
		return nil
	})
}

// ClearSession drops the session keys and the navigation position together.
func (s *Store) ClearSession(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_state`); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM navigation_position`); err != nil {
			return fmt.Errorf("clear navigation position: %w", err)
		}
		return nil
	})
}

func (s *Store) SavePosition(ctx context.Context, station int) error {
	if !model.ValidStation(station) {
		return fmt.Errorf("save position: station %d out of range", station)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO navigation_position(id, station, updated_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	station = excluded.station,
	updated_at = excluded.updated_at
`, station, ts(time.Now()))
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// LoadPosition returns ErrNotFound when no position has been persisted.
func (s *Store) LoadPosition(ctx context.Context) (int, error) {
	var station int
	err := s.db.QueryRowContext(ctx, `SELECT station FROM navigation_position WHERE id = 1`).Scan(&station)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load position: %w", err)
	}
	return station, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
