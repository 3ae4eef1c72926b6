package sessionstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/harvester-cli/internal/config"
	"github.com/xkilldash9x/harvester-cli/internal/store"
)

// Open builds the store selected by cfg. pool is only used by the postgres
// backend. The returned close function releases backend resources.
func Open(ctx context.Context, cfg config.SessionStoreConfig, pool store.DBPool, logger *zap.Logger) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir, logger), noop, nil
	case "sqlite":
		s, err := OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case "postgres":
		if pool == nil {
			return nil, noop, fmt.Errorf("postgres session backend requires a database pool")
		}
		return NewPostgresStore(pool, logger), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown session store backend %q", cfg.Backend)
	}
}
