// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Extraction() ExtractionConfig
	Export() ExportConfig
	Service() ServiceConfig
	Redis() RedisConfig
	Database() DatabaseConfig
	Client() ClientConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserViewport(width, height int)

	// Extraction Setters
	SetExtractionMaxPages(int)
	SetExportDir(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	ExtractionCfg ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	ExportCfg     ExportConfig     `mapstructure:"export" yaml:"export"`
	ServiceCfg    ServiceConfig    `mapstructure:"service" yaml:"service"`
	RedisCfg      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	ClientCfg     ClientConfig     `mapstructure:"client" yaml:"client"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Extraction() ExtractionConfig { return c.ExtractionCfg }
func (c *Config) Export() ExportConfig         { return c.ExportCfg }
func (c *Config) Service() ServiceConfig       { return c.ServiceCfg }
func (c *Config) Redis() RedisConfig           { return c.RedisCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Client() ClientConfig         { return c.ClientCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserViewport(width, height int) {
	c.BrowserCfg.ViewportWidth = width
	c.BrowserCfg.ViewportHeight = height
}
func (c *Config) SetExtractionMaxPages(n int) { c.ExtractionCfg.MaxPages = n }
func (c *Config) SetExportDir(dir string)     { c.ExportCfg.Dir = dir }

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

// BrowserConfig holds settings for the Chrome instances driven over CDP.
type BrowserConfig struct {
	Headless       bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath       string        `mapstructure:"exec_path" yaml:"exec_path"`
	DisableGPU     bool          `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	Args           []string      `mapstructure:"args" yaml:"args"`
	ViewportWidth  int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	CloseTimeout   time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
}

// ExtractionConfig drives the login, filter, and table traversal sequence.
type ExtractionConfig struct {
	LoginURL    string         `mapstructure:"login_url" yaml:"login_url"`
	TotemURL    string         `mapstructure:"totem_url" yaml:"totem_url"`
	MaxPages    int            `mapstructure:"max_pages" yaml:"max_pages"`
	QuietPeriod time.Duration  `mapstructure:"quiet_period" yaml:"quiet_period"`
	Selectors   SelectorConfig `mapstructure:"selectors" yaml:"selectors"`
	Delays      DelayConfig    `mapstructure:"delays" yaml:"delays"`
	Timeouts    TimeoutConfig  `mapstructure:"timeouts" yaml:"timeouts"`
}

// SelectorConfig lists the CSS conventions probed on the target pages.
// List-valued entries are tried in order.
type SelectorConfig struct {
	Username     string   `mapstructure:"username" yaml:"username"`
	Password     string   `mapstructure:"password" yaml:"password"`
	Submit       string   `mapstructure:"submit" yaml:"submit"`
	ModalConfirm string   `mapstructure:"modal_confirm" yaml:"modal_confirm"`
	ApplyFilters string   `mapstructure:"apply_filters" yaml:"apply_filters"`
	Table        string   `mapstructure:"table" yaml:"table"`
	Headers      []string `mapstructure:"headers" yaml:"headers"`
	Rows         []string `mapstructure:"rows" yaml:"rows"`
	Cells        []string `mapstructure:"cells" yaml:"cells"`
	NextControls []string `mapstructure:"next_controls" yaml:"next_controls"`
}

// DelayConfig holds the fixed pauses. The target UI exposes no readiness
// signal for these transitions.
type DelayConfig struct {
	PreAction  time.Duration `mapstructure:"pre_action" yaml:"pre_action"`
	Dropdown   time.Duration `mapstructure:"dropdown" yaml:"dropdown"`
	PostLogin  time.Duration `mapstructure:"post_login" yaml:"post_login"`
	Modal      time.Duration `mapstructure:"modal" yaml:"modal"`
	PostFilter time.Duration `mapstructure:"post_filter" yaml:"post_filter"`
	PageTurn   time.Duration `mapstructure:"page_turn" yaml:"page_turn"`
	Inspect    time.Duration `mapstructure:"inspect" yaml:"inspect"`
}

// TimeoutConfig bounds every blocking step of a run.
type TimeoutConfig struct {
	Run        time.Duration `mapstructure:"run" yaml:"run"`
	Navigation time.Duration `mapstructure:"navigation" yaml:"navigation"`
	Credential time.Duration `mapstructure:"credential" yaml:"credential"`
	Settle     time.Duration `mapstructure:"settle" yaml:"settle"`
	Page       time.Duration `mapstructure:"page" yaml:"page"`
	Action     time.Duration `mapstructure:"action" yaml:"action"`
	Screenshot time.Duration `mapstructure:"screenshot" yaml:"screenshot"`
}

// ExportConfig controls the artifacts written after a run.
type ExportConfig struct {
	Dir         string `mapstructure:"dir" yaml:"dir"`
	CSV         bool   `mapstructure:"csv" yaml:"csv"`
	JSON        bool   `mapstructure:"json" yaml:"json"`
	HTML        bool   `mapstructure:"html" yaml:"html"`
	Screenshots bool   `mapstructure:"screenshots" yaml:"screenshots"`
}

// ResolveDir expands a leading ~ in the export directory.
func (e ExportConfig) ResolveDir() (string, error) {
	if e.Dir == "" {
		return ".", nil
	}
	dir, err := homedir.Expand(e.Dir)
	if err != nil {
		return "", fmt.Errorf("failed to expand export dir %q: %w", e.Dir, err)
	}
	return dir, nil
}

// ServiceConfig configures the HTTP task service.
type ServiceConfig struct {
	ListenAddr        string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	MaxConcurrentRuns int           `mapstructure:"max_concurrent_runs" yaml:"max_concurrent_runs"`
	TaskBackend       string        `mapstructure:"task_backend" yaml:"task_backend"`
	TaskRetention     time.Duration `mapstructure:"task_retention" yaml:"task_retention"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
	SubmitRateLimit   float64       `mapstructure:"submit_rate_limit" yaml:"submit_rate_limit"`
	SubmitBurst       int           `mapstructure:"submit_burst" yaml:"submit_burst"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// RedisConfig holds the connection for the shared task store.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr" yaml:"addr"`
	Password  string        `mapstructure:"password" yaml:"-"`
	DB        int           `mapstructure:"db" yaml:"db"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	TaskTTL   time.Duration `mapstructure:"task_ttl" yaml:"task_ttl"`
}

// DatabaseConfig holds the database connection details for the result archive.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"-"`
}

// ClientConfig configures the polling API client.
type ClientConfig struct {
	APIURL         string        `mapstructure:"api_url" yaml:"api_url"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	PollDelay      time.Duration `mapstructure:"poll_delay" yaml:"poll_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// Task backends.
const (
	TaskBackendMemory = "memory"
	TaskBackendRedis  = "redis"
)

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
	v.SetDefault("logger.service_name", "totemscrape")
	v.SetDefault("logger.log_file", "totemscrape.log")
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
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.close_timeout", "10s")

	// -- Extraction --
	v.SetDefault("extraction.login_url", "https://pacs.imagoradiologia.com.br/Netris-web/login")
	v.SetDefault("extraction.totem_url", "https://pacs.imagoradiologia.com.br/Netris-web/gerenciamentoTotem/atendimentosTotemPorChegada")
	v.SetDefault("extraction.max_pages", 50)
	v.SetDefault("extraction.quiet_period", "500ms")

	v.SetDefault("extraction.selectors.username", `input[name="j_username"]`)
	v.SetDefault("extraction.selectors.password", `input[name="j_password"]`)
	v.SetDefault("extraction.selectors.submit", `button[type="submit"]`)
	v.SetDefault("extraction.selectors.modal_confirm", "#btnSetGuicheModal")
	v.SetDefault("extraction.selectors.apply_filters", "#btnFiltrar")
	v.SetDefault("extraction.selectors.table", "table")
	v.SetDefault("extraction.selectors.headers", []string{
		"table thead th",
		"table tr:first-child th, table tr:first-child td",
	})
	v.SetDefault("extraction.selectors.rows", []string{
		"table tbody tr",
		"table tr:not(:first-child)",
	})
	v.SetDefault("extraction.selectors.cells", []string{"td", "td, th"})
	v.SetDefault("extraction.selectors.next_controls", []string{
		"a.next",
		"a.pagination-next",
		"li.next a",
		"button.next",
		".pagination .next",
		"[aria-label='Next page']",
		".paginate_button.next",
		"#dataTableAtendimentosTotem_next",
		".dataTables_paginate .next",
	})

	v.SetDefault("extraction.delays.pre_action", "1s")
	v.SetDefault("extraction.delays.dropdown", "1s")
	v.SetDefault("extraction.delays.post_login", "5s")
	v.SetDefault("extraction.delays.modal", "2s")
	v.SetDefault("extraction.delays.post_filter", "3s")
	v.SetDefault("extraction.delays.page_turn", "2s")
	v.SetDefault("extraction.delays.inspect", "3s")

	v.SetDefault("extraction.timeouts.run", "10m")
	v.SetDefault("extraction.timeouts.navigation", "60s")
	v.SetDefault("extraction.timeouts.credential", "30s")
	v.SetDefault("extraction.timeouts.settle", "30s")
	v.SetDefault("extraction.timeouts.page", "30s")
	v.SetDefault("extraction.timeouts.action", "15s")
	v.SetDefault("extraction.timeouts.screenshot", "10s")

	// -- Export --
	v.SetDefault("export.dir", "artifacts")
	v.SetDefault("export.csv", true)
	v.SetDefault("export.json", true)
	v.SetDefault("export.html", true)
	v.SetDefault("export.screenshots", true)

	// -- Service --
	v.SetDefault("service.listen_addr", ":8000")
	v.SetDefault("service.max_concurrent_runs", 2)
	v.SetDefault("service.task_backend", TaskBackendMemory)
	v.SetDefault("service.task_retention", "24h")
	v.SetDefault("service.cleanup_interval", "10m")
	v.SetDefault("service.submit_rate_limit", 1.0)
	v.SetDefault("service.submit_burst", 5)
	v.SetDefault("service.request_timeout", "30s")
	v.SetDefault("service.shutdown_timeout", "30s")

	// -- Redis --
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "totem:task:")
	v.SetDefault("redis.task_ttl", "24h")

	// -- Client --
	v.SetDefault("client.api_url", "http://localhost:8000")
	v.SetDefault("client.max_retries", 30)
	v.SetDefault("client.poll_delay", "5s")
	v.SetDefault("client.request_timeout", "30s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("redis.password", "TOTEM_REDIS_PASSWORD")
	_ = v.BindEnv("database.url", "TOTEM_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.ExtractionCfg.Validate(); err != nil {
		return fmt.Errorf("extraction configuration invalid: %w", err)
	}
	if c.BrowserCfg.ViewportWidth <= 0 || c.BrowserCfg.ViewportHeight <= 0 {
		return fmt.Errorf("browser.viewport_width and browser.viewport_height must be positive integers")
	}
	if err := c.ServiceCfg.Validate(); err != nil {
		return fmt.Errorf("service configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the extraction settings.
func (e *ExtractionConfig) Validate() error {
	for name, raw := range map[string]string{"login_url": e.LoginURL, "totem_url": e.TotemURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", name)
		}
	}
	if e.MaxPages <= 0 {
		return fmt.Errorf("max_pages must be a positive integer")
	}
	if e.Selectors.Username == "" || e.Selectors.Password == "" || e.Selectors.Submit == "" {
		return fmt.Errorf("selectors.username, selectors.password, and selectors.submit are required")
	}
	if len(e.Selectors.Headers) == 0 || len(e.Selectors.Rows) == 0 || len(e.Selectors.Cells) == 0 {
		return fmt.Errorf("selectors.headers, selectors.rows, and selectors.cells need at least one entry")
	}
	if e.Timeouts.Run <= 0 || e.Timeouts.Settle <= 0 || e.Timeouts.Page <= 0 {
		return fmt.Errorf("timeouts.run, timeouts.settle, and timeouts.page must be positive durations")
	}
	return nil
}

// Validate checks the service settings.
func (s *ServiceConfig) Validate() error {
	if s.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("max_concurrent_runs must be a positive integer")
	}
	switch s.TaskBackend {
	case TaskBackendMemory, TaskBackendRedis:
	default:
		return fmt.Errorf("task_backend must be %q or %q, got %q", TaskBackendMemory, TaskBackendRedis, s.TaskBackend)
	}
	return nil
}
