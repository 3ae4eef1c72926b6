package browser

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvester-cli/internal/config"
)

// Manager owns the browser process. Pages are tabs opened on it.
type Manager struct {
	logger   *zap.Logger
	cfg      config.BrowserConfig
	timeouts config.TimeoutsConfig

	// allocatorCtx manages the browser process; browserCtx is the first
	// connection to it and the parent of every page.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	// wg tracks open pages for a graceful shutdown.
	wg sync.WaitGroup
}

// NewManager launches the browser and verifies it responds.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig, timeouts config.TimeoutsConfig) (*Manager, error) {
	m := &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		timeouts: timeouts,
	}
	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...")

	// The browser must outlive the launch call, so only values are taken from ctx.
	allocCtx, allocCancel := chromedp.NewExecAllocator(Detach(ctx), DefaultAllocatorOptions(m.cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.allocatorCtx, m.allocatorCancel = allocCtx, allocCancel
	m.browserCtx, m.browserCancel = browserCtx, browserCancel
	m.logger.Info("Browser launched successfully and is responsive.", zap.Bool("headless", m.cfg.Headless))
	return nil
}

// DefaultAllocatorOptions assembles the browser flags for cfg on top of
// chromedp's defaults.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	flags := allocatorFlags(cfg)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}

	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}
	return opts
}

// allocatorFlags returns the command line flags layered over the defaults.
// A false value removes a default flag.
func allocatorFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		// Do not advertise automation to the page.
		"enable-automation":         false,
		"headless":                  cfg.Headless,
		"disable-gpu":               cfg.Headless,
		"disable-extensions":        true,
		"disable-popup-blocking":    true,
		"ignore-certificate-errors": cfg.IgnoreTLSErrors,
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")

		if len(parts) == 2 {
			flags[flagName] = parts[1]
		} else {
			flags[flagName] = true
		}
	}

	// Containers on linux need these to start at all.
	if runtime.GOOS == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
	}
	return flags
}

// NewPage opens a fresh tab in its own browser context, so it starts with an
// empty cookie jar and shares no storage with other pages. Contexts the tab
// opens stay in that browser context, which is disposed when the page closes.
// Close the page when done.
func (m *Manager) NewPage(ctx context.Context) (*Page, error) {
	if m.browserCtx == nil || m.browserCtx.Err() != nil {
		return nil, fmt.Errorf("browser is not running")
	}

	tabCtx, cancel := chromedp.NewContext(m.browserCtx, chromedp.WithNewBrowserContext())
	openCtx, openCancel := CombineContext(tabCtx, ctx)
	defer openCancel()
	if err := chromedp.Run(openCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	m.wg.Add(1)
	p := newPage(tabCtx, cancel, m.logger, m.timeouts)
	p.onClose = m.wg.Done
	m.logger.Debug("Page opened.", zap.String("target_id", p.targetID()))
	return p, nil
}

// Open is NewPage behind the Engine interface.
func (m *Manager) Open(ctx context.Context) (Engine, error) {
	p, err := m.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Shutdown waits for open pages to close, respecting ctx, then stops the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated. Waiting for open pages to close...")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		m.logger.Info("All pages closed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline reached with pages still open. Forcing browser closure.")
		err = ctx.Err()
	}

	if m.browserCtx != nil {
		if cerr := chromedp.Cancel(m.browserCtx); cerr != nil {
			m.logger.Debug("Graceful browser close failed.", zap.Error(cerr))
		}
		m.browserCancel()
	}
	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}
	m.logger.Info("Browser process terminated.")
	return err
}
