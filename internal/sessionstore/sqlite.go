package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS portal_sessions (
	key         TEXT PRIMARY KEY,
	cookies     TEXT NOT NULL,
	captured_at INTEGER NOT NULL
)`

// SQLiteStore keeps sessions in a local sqlite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and avoids
	// writer contention on files.
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStore(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database and ensures the schema.
func NewSQLiteStore(ctx context.Context, db *sql.DB, logger *zap.Logger) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to create session schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger.Named("sessionstore.sqlite")}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (*schemas.Session, bool) {
	if validKey(key) != nil {
		return nil, false
	}

	var (
		raw        string
		capturedAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT cookies, captured_at FROM portal_sessions WHERE key = ?`, key).Scan(&raw, &capturedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Info("No stored session found.", zap.String("key", key))
		} else {
			s.logger.Warn("Could not read stored session.", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	session := &schemas.Session{Key: key, CapturedAt: time.Unix(0, capturedAt).UTC()}
	if err := json.Unmarshal([]byte(raw), &session.Cookies); err != nil {
		s.logger.Warn("Stored session is corrupt, ignoring it.", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if session.Empty() {
		return nil, false
	}
	return session, true
}

func (s *SQLiteStore) Save(ctx context.Context, session *schemas.Session) error {
	if session == nil {
		return &PersistError{Err: fmt.Errorf("nil session")}
	}
	if err := validKey(session.Key); err != nil {
		return &PersistError{Key: session.Key, Err: err}
	}

	raw, err := json.Marshal(session.Cookies)
	if err != nil {
		return &PersistError{Key: session.Key, Err: fmt.Errorf("failed to encode cookies: %w", err)}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO portal_sessions (key, cookies, captured_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET cookies = excluded.cookies, captured_at = excluded.captured_at`,
		session.Key, string(raw), session.CapturedAt.UTC().UnixNano(),
	)
	if err != nil {
		return &PersistError{Key: session.Key, Err: fmt.Errorf("failed to upsert session: %w", err)}
	}
	s.logger.Info("Session saved.", zap.String("key", session.Key), zap.Int("cookies", len(session.Cookies)))
	return nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
