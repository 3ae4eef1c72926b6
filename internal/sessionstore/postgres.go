package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
	"github.com/xkilldash9x/harvester-cli/internal/store"
)

// PostgresStore keeps sessions in the portal_sessions table.
type PostgresStore struct {
	pool   store.DBPool
	logger *zap.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a store over pool. The schema is managed by store.Migrate.
func NewPostgresStore(pool store.DBPool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger.Named("sessionstore.postgres")}
}

func (s *PostgresStore) Load(ctx context.Context, key string) (*schemas.Session, bool) {
	if validKey(key) != nil {
		return nil, false
	}

	var (
		raw        []byte
		capturedAt time.Time
	)
	err := s.pool.QueryRow(ctx, `SELECT cookies, captured_at FROM portal_sessions WHERE key = $1`, key).Scan(&raw, &capturedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.Info("No stored session found.", zap.String("key", key))
		} else {
			s.logger.Warn("Could not read stored session.", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	session := &schemas.Session{Key: key, CapturedAt: capturedAt.UTC()}
	if err := json.Unmarshal(raw, &session.Cookies); err != nil {
		s.logger.Warn("Stored session is corrupt, ignoring it.", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if session.Empty() {
		return nil, false
	}
	return session, true
}

func (s *PostgresStore) Save(ctx context.Context, session *schemas.Session) error {
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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO portal_sessions (key, cookies, captured_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			cookies = EXCLUDED.cookies,
			captured_at = EXCLUDED.captured_at`,
		session.Key, raw, session.CapturedAt.UTC(),
	)
	if err != nil {
		return &PersistError{Key: session.Key, Err: fmt.Errorf("failed to upsert session: %w", err)}
	}
	s.logger.Info("Session saved.", zap.String("key", session.Key), zap.Int("cookies", len(session.Cookies)))
	return nil
}
