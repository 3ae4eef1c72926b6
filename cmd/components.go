package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvester-cli/internal/artifacts"
	"github.com/xkilldash9x/harvester-cli/internal/browser"
	"github.com/xkilldash9x/harvester-cli/internal/config"
	"github.com/xkilldash9x/harvester-cli/internal/forward"
	"github.com/xkilldash9x/harvester-cli/internal/harvest"
	"github.com/xkilldash9x/harvester-cli/internal/portal"
	"github.com/xkilldash9x/harvester-cli/internal/sessionstore"
	"github.com/xkilldash9x/harvester-cli/internal/store"
)

// components holds initialized services.
type components struct {
	cfg       *config.Config
	logger    *zap.Logger
	DBPool    *pgxpool.Pool
	RunStore  *store.Store
	Sessions  sessionstore.Store
	Artifacts *artifacts.Dir
	Browser   *browser.Manager

	closeSessions func() error
}

// initializeComponents handles dependency injection. The browser is only
// launched when withBrowser is set.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, withBrowser bool) (*components, error) {
	c := &components{cfg: cfg, logger: logger, closeSessions: func() error { return nil }}

	// 1. Database, only when something is stored there.
	needDB := cfg.Artifacts.PersistRuns || cfg.SessionStore.Backend == "postgres"
	var pool store.DBPool
	if needDB {
		dbPool, err := store.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return c, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.DBPool = dbPool
		pool = dbPool

		runStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			return c, fmt.Errorf("failed to initialize database store: %w", err)
		}
		if err := runStore.Migrate(ctx); err != nil {
			return c, err
		}
		c.RunStore = runStore
	}

	// 2. Session store
	sessions, closeFn, err := sessionstore.Open(ctx, cfg.SessionStore, pool, logger)
	if err != nil {
		return c, fmt.Errorf("failed to open session store: %w", err)
	}
	c.Sessions = sessions
	c.closeSessions = closeFn

	// 3. Artifacts
	c.Artifacts = artifacts.New(cfg.Artifacts.Dir, logger)

	// 4. Browser Manager
	if withBrowser {
		manager, err := browser.NewManager(ctx, logger, cfg.Browser, cfg.Timeouts)
		if err != nil {
			return c, fmt.Errorf("failed to initialize browser manager: %w", err)
		}
		c.Browser = manager
	}

	return c, nil
}

// sinks returns the result sinks enabled by configuration.
func (c *components) sinks() []harvest.Sink {
	sinks := []harvest.Sink{harvest.SnapshotSink{Dir: c.Artifacts}}
	if c.RunStore != nil && c.cfg.Artifacts.PersistRuns {
		sinks = append(sinks, harvest.StoreSink{Store: c.RunStore})
	}
	if c.cfg.Forward.Enabled {
		sinks = append(sinks, harvest.ForwardSink{Client: forward.New(c.cfg.Forward, c.logger)})
	}
	return sinks
}

// orchestrator builds the orchestrator for the configured portal name.
func (c *components) orchestrator(name string) (*harvest.Orchestrator, portal.Identity, error) {
	pc, ok := c.cfg.Portals[name]
	if !ok {
		return nil, portal.Identity{}, fmt.Errorf("portal %q is not configured", name)
	}
	identity, err := portal.FromConfig(name, pc)
	if err != nil {
		return nil, portal.Identity{}, err
	}
	if identity.Credentials.Username == "" || identity.Credentials.Password == "" {
		return nil, identity, fmt.Errorf("portal %q has no credentials (set HARVESTER_%s_USERNAME and _PASSWORD)", name, envName(name))
	}
	if c.Browser == nil {
		return nil, identity, fmt.Errorf("browser is not initialized")
	}

	orch, err := harvest.New(c.cfg, c.logger, identity, c.Browser, c.Sessions,
		harvest.WithArtifacts(c.Artifacts),
		harvest.WithSinks(c.sinks()...))
	if err != nil {
		return nil, identity, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return orch, identity, nil
}

// Shutdown gracefully closes all components.
func (c *components) Shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if c.Browser != nil {
		if err := c.Browser.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}
	if err := c.closeSessions(); err != nil {
		c.logger.Warn("Error closing session store", zap.Error(err))
	}
	if c.DBPool != nil {
		c.DBPool.Close()
	}
}

// enabledPortals lists the configured portals with enabled set, sorted.
func enabledPortals(cfg *config.Config) []string {
	var names []string
	for name, p := range cfg.Portals {
		if p.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
