// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Guard() GuardConfig
	Runner() RunnerConfig

	SetBrowserBackend(Backend)
	SetRunnerScreenshotDir(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	GuardCfg   GuardConfig   `mapstructure:"guard" yaml:"guard"`
	RunnerCfg  RunnerConfig  `mapstructure:"runner" yaml:"runner"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Guard() GuardConfig     { return c.GuardCfg }
func (c *Config) Runner() RunnerConfig   { return c.RunnerCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserBackend(b Backend)       { c.BrowserCfg.Backend = b }
func (c *Config) SetRunnerScreenshotDir(dir string) { c.RunnerCfg.ScreenshotDir = dir }

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

// Backend selects the browser driver behind the page handle.
type Backend string

const (
	BackendChromedp   Backend = "chromedp"
	BackendPlaywright Backend = "playwright"
)

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Backend         Backend        `mapstructure:"backend" yaml:"backend"`
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	UserDataDir     string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	LaunchTimeout   time.Duration  `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	// NavigationTimeout bounds a single Navigate call.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// InstallBrowsers downloads the Playwright Chromium build before launch.
	InstallBrowsers bool `mapstructure:"install_browsers" yaml:"install_browsers"`
}

// GuardConfig tunes the per-action guards used by the execution engine.
type GuardConfig struct {
	SelectorTimeout    time.Duration `mapstructure:"selector_timeout" yaml:"selector_timeout"`
	ActionTimeout      time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	SettleTimeout      time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
	NetworkQuietPeriod time.Duration `mapstructure:"network_quiet_period" yaml:"network_quiet_period"`
	WaitDuration       time.Duration `mapstructure:"wait_duration" yaml:"wait_duration"`
	CaptureTimeout     time.Duration `mapstructure:"capture_timeout" yaml:"capture_timeout"`
}

// RunnerConfig configures the command line harness.
type RunnerConfig struct {
	ScreenshotDir    string  `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	Output           string  `mapstructure:"output" yaml:"output"`
	ActionsPerSecond float64 `mapstructure:"actions_per_second" yaml:"actions_per_second"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
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
	v.SetDefault("logger.service_name", "pageprobe")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.backend", string(BackendChromedp))
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 800})
	v.SetDefault("browser.launch_timeout", "60s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.install_browsers", false)

	// -- Guard --
	v.SetDefault("guard.selector_timeout", "5s")
	v.SetDefault("guard.action_timeout", "10s")
	v.SetDefault("guard.settle_timeout", "15s")
	v.SetDefault("guard.network_quiet_period", "500ms")
	v.SetDefault("guard.wait_duration", "1s")
	v.SetDefault("guard.capture_timeout", "20s")

	// -- Runner --
	v.SetDefault("runner.screenshot_dir", "screenshots")
	v.SetDefault("runner.output", "")
	v.SetDefault("runner.actions_per_second", 2.0)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in user supplied paths.
func (c *Config) expandPaths() error {
	paths := []*string{&c.RunnerCfg.ScreenshotDir, &c.RunnerCfg.Output, &c.BrowserCfg.UserDataDir, &c.LoggerCfg.LogFile}
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
	switch Backend(strings.ToLower(string(c.BrowserCfg.Backend))) {
	case BackendChromedp, BackendPlaywright:
	default:
		return fmt.Errorf("browser.backend must be one of %q or %q, got %q", BackendChromedp, BackendPlaywright, c.BrowserCfg.Backend)
	}
	if err := c.GuardCfg.Validate(); err != nil {
		return fmt.Errorf("guard configuration invalid: %w", err)
	}
	if c.RunnerCfg.ActionsPerSecond < 0 {
		return fmt.Errorf("runner.actions_per_second must not be negative")
	}
	return nil
}

// Validate checks the guard timeouts.
func (g *GuardConfig) Validate() error {
	if g.SelectorTimeout <= 0 {
		return fmt.Errorf("selector_timeout must be a positive duration")
	}
	if g.ActionTimeout <= 0 {
		return fmt.Errorf("action_timeout must be a positive duration")
	}
	if g.SettleTimeout < 0 {
		return fmt.Errorf("settle_timeout must not be negative")
	}
	if g.NetworkQuietPeriod < 0 {
		return fmt.Errorf("network_quiet_period must not be negative")
	}
	if g.WaitDuration < 0 {
		return fmt.Errorf("wait_duration must not be negative")
	}
	return nil
}
