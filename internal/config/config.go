// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig            `mapstructure:"logger" yaml:"logger"`
	Browser      BrowserConfig           `mapstructure:"browser" yaml:"browser"`
	Timeouts     TimeoutsConfig          `mapstructure:"timeouts" yaml:"timeouts"`
	Harvest      HarvestConfig           `mapstructure:"harvest" yaml:"harvest"`
	SessionStore SessionStoreConfig      `mapstructure:"session_store" yaml:"session_store"`
	Database     DatabaseConfig          `mapstructure:"database" yaml:"database"`
	Artifacts    ArtifactsConfig         `mapstructure:"artifacts" yaml:"artifacts"`
	Forward      ForwardConfig           `mapstructure:"forward" yaml:"forward"`
	Portals      map[string]PortalConfig `mapstructure:"portals" yaml:"portals"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string   `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent       string   `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string `mapstructure:"args" yaml:"args"`
	ViewportWidth   int      `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int      `mapstructure:"viewport_height" yaml:"viewport_height"`
}

// TimeoutsConfig bounds every suspension point of a harvest run.
type TimeoutsConfig struct {
	Navigation  time.Duration `mapstructure:"navigation" yaml:"navigation"`
	FrameProbe  time.Duration `mapstructure:"frame_probe" yaml:"frame_probe"`
	ListingWait time.Duration `mapstructure:"listing_wait" yaml:"listing_wait"`
	NewContext  time.Duration `mapstructure:"new_context" yaml:"new_context"`
	DetailReady time.Duration `mapstructure:"detail_ready" yaml:"detail_ready"`
	Action      time.Duration `mapstructure:"action" yaml:"action"`
}

// HarvestConfig configures a single harvest run.
type HarvestConfig struct {
	RunTimeout time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	// RowDelay paces detail-view openings so the portal is not hammered.
	RowDelay time.Duration `mapstructure:"row_delay" yaml:"row_delay"`
}

// SessionStoreConfig selects where captured sessions are kept.
type SessionStoreConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"`
	Dir        string `mapstructure:"dir" yaml:"dir"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ArtifactsConfig controls the diagnostic artifacts written during a run.
type ArtifactsConfig struct {
	Dir         string `mapstructure:"dir" yaml:"dir"`
	Checkpoints bool   `mapstructure:"checkpoints" yaml:"checkpoints"`
	PersistRuns bool   `mapstructure:"persist_runs" yaml:"persist_runs"`
}

// ForwardConfig configures the optional downstream consumer webhook.
type ForwardConfig struct {
	Enabled bool              `mapstructure:"enabled" yaml:"enabled"`
	URL     string            `mapstructure:"url" yaml:"url"`
	Token   string            `mapstructure:"token" yaml:"-"`
	Timeout time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	Retries int               `mapstructure:"retries" yaml:"retries"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
}

// PortalConfig describes one vendor portal identity.
type PortalConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	Profile    string        `mapstructure:"profile" yaml:"profile"`
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url"`
	Username   string        `mapstructure:"username" yaml:"username"`
	Password   string        `mapstructure:"password" yaml:"-"`
	SessionKey string        `mapstructure:"session_key" yaml:"session_key"`
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	// Lookback is the width of the date window used by scheduled runs.
	Lookback time.Duration `mapstructure:"lookback" yaml:"lookback"`
	Filter   FilterConfig  `mapstructure:"filter" yaml:"filter"`
	// Selectors overrides individual entries of the portal's page profile.
	Selectors map[string]string `mapstructure:"selectors" yaml:"selectors"`
}

// FilterConfig holds default listing filter values for a portal.
type FilterConfig struct {
	DocumentTypeID string `mapstructure:"document_type_id" yaml:"document_type_id"`
	Direction      string `mapstructure:"direction" yaml:"direction"`
	Status         string `mapstructure:"status" yaml:"status"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "harvester")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 900)

	// -- Timeouts --
	v.SetDefault("timeouts.navigation", "60s")
	v.SetDefault("timeouts.frame_probe", "5s")
	v.SetDefault("timeouts.listing_wait", "5s")
	v.SetDefault("timeouts.new_context", "20s")
	v.SetDefault("timeouts.detail_ready", "15s")
	v.SetDefault("timeouts.action", "10s")

	// -- Harvest --
	v.SetDefault("harvest.run_timeout", "30m")
	v.SetDefault("harvest.row_delay", "0s")

	// -- Session Store --
	v.SetDefault("session_store.backend", "file")
	v.SetDefault("session_store.dir", "cookies")
	v.SetDefault("session_store.sqlite_path", "harvester.db")

	// -- Artifacts --
	v.SetDefault("artifacts.dir", "artifacts")
	v.SetDefault("artifacts.checkpoints", false)
	v.SetDefault("artifacts.persist_runs", false)

	// -- Forward --
	v.SetDefault("forward.enabled", false)
	v.SetDefault("forward.timeout", "30s")
	v.SetDefault("forward.retries", 2)

	// -- Portals --
	v.SetDefault("portals.comercionet.enabled", false)
	v.SetDefault("portals.comercionet.profile", "comercionet")
	v.SetDefault("portals.comercionet.base_url", "https://www.comercionet.cl")
	v.SetDefault("portals.comercionet.session_key", "comercionet")
	v.SetDefault("portals.comercionet.interval", "1h")
	v.SetDefault("portals.comercionet.lookback", "24h")
	v.SetDefault("portals.comercionet.filter.document_type_id", "9")
	v.SetDefault("portals.comercionet.filter.direction", "recibidos")
	v.SetDefault("portals.comercionet.filter.status", "0")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("database.url", "HARVESTER_DATABASE_URL")
	v.BindEnv("forward.token", "HARVESTER_FORWARD_TOKEN")
	for name := range v.GetStringMap("portals") {
		envName := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
		v.BindEnv("portals."+name+".username", "HARVESTER_"+envName+"_USERNAME")
		v.BindEnv("portals."+name+".password", "HARVESTER_"+envName+"_PASSWORD")
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Map entries unmarshal as copies, so credentials bound through env are
	// written back explicitly.
	for name, p := range cfg.Portals {
		if p.Username == "" {
			p.Username = v.GetString("portals." + name + ".username")
		}
		if p.Password == "" {
			p.Password = v.GetString("portals." + name + ".password")
		}
		cfg.Portals[name] = p
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves "~" in every filesystem path the configuration holds.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.Logger.LogFile,
		&c.SessionStore.Dir,
		&c.SessionStore.SQLitePath,
		&c.Artifacts.Dir,
		&c.Browser.ExecPath,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.SessionStore.Backend {
	case "file":
		if c.SessionStore.Dir == "" {
			return fmt.Errorf("session_store.dir is required for the file backend")
		}
	case "sqlite":
		if c.SessionStore.SQLitePath == "" {
			return fmt.Errorf("session_store.sqlite_path is required for the sqlite backend")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres session backend")
		}
	default:
		return fmt.Errorf("session_store.backend must be one of file, sqlite, postgres (got %q)", c.SessionStore.Backend)
	}
	if c.Artifacts.PersistRuns && c.Database.URL == "" {
		return fmt.Errorf("database.url is required when artifacts.persist_runs is enabled")
	}
	if c.Harvest.RunTimeout <= 0 {
		return fmt.Errorf("harvest.run_timeout must be a positive duration")
	}
	if err := c.Timeouts.Validate(); err != nil {
		return fmt.Errorf("timeouts configuration invalid: %w", err)
	}
	if err := c.Forward.Validate(); err != nil {
		return fmt.Errorf("forward configuration invalid: %w", err)
	}
	for name, p := range c.Portals {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("portal %q invalid: %w", name, err)
		}
	}
	return nil
}

// Validate checks that every wait is bounded.
func (t *TimeoutsConfig) Validate() error {
	checks := map[string]time.Duration{
		"navigation":   t.Navigation,
		"frame_probe":  t.FrameProbe,
		"listing_wait": t.ListingWait,
		"new_context":  t.NewContext,
		"detail_ready": t.DetailReady,
		"action":       t.Action,
	}
	for name, d := range checks {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	return nil
}

// Validate checks the forward configuration.
func (f *ForwardConfig) Validate() error {
	if !f.Enabled {
		return nil
	}
	if f.URL == "" {
		return fmt.Errorf("url is required when forwarding is enabled")
	}
	if f.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	return nil
}

// Validate checks a portal entry. Disabled portals are not checked.
func (p *PortalConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if p.Username == "" || p.Password == "" {
		return fmt.Errorf("username and password are required")
	}
	if p.Interval < 0 {
		return fmt.Errorf("interval must not be negative")
	}
	return nil
}
