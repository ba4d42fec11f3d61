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
	Database() DatabaseConfig
	ToolServer() ToolServerConfig
	Harness() HarnessConfig
	Backoff() BackoffConfig
	Agent() AgentConfig
	Screenshot() ScreenshotConfig

	// Harness Setters
	SetHarnessMaxParallelTasks(int)
	SetHarnessMaxSteps(int)
	SetHarnessOutputDir(string)

	// Agent Setters
	SetAgentURL(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	ToolServerCfg ToolServerConfig `mapstructure:"toolserver" yaml:"toolserver"`
	HarnessCfg    HarnessConfig    `mapstructure:"harness" yaml:"harness"`
	BackoffCfg    BackoffConfig    `mapstructure:"backoff" yaml:"backoff"`
	AgentCfg      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	ScreenshotCfg ScreenshotConfig `mapstructure:"screenshot" yaml:"screenshot"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) ToolServer() ToolServerConfig { return c.ToolServerCfg }
func (c *Config) Harness() HarnessConfig       { return c.HarnessCfg }
func (c *Config) Backoff() BackoffConfig       { return c.BackoffCfg }
func (c *Config) Agent() AgentConfig           { return c.AgentCfg }
func (c *Config) Screenshot() ScreenshotConfig { return c.ScreenshotCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetHarnessMaxParallelTasks(n int) { c.HarnessCfg.MaxParallelTasks = n }
func (c *Config) SetHarnessMaxSteps(n int)         { c.HarnessCfg.MaxSteps = n }
func (c *Config) SetHarnessOutputDir(dir string)   { c.HarnessCfg.OutputDir = dir }
func (c *Config) SetAgentURL(url string)           { c.AgentCfg.URL = url }

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

// DatabaseConfig holds the database connection details. An empty URL
// disables result persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ToolServerConfig describes how the browser tool server subprocess is
// launched, handshaken and torn down.
type ToolServerConfig struct {
	Command              string        `mapstructure:"command" yaml:"command"`
	Args                 []string      `mapstructure:"args" yaml:"args"`
	Browser              string        `mapstructure:"browser" yaml:"browser"`
	Headless             bool          `mapstructure:"headless" yaml:"headless"`
	NoSandbox            bool          `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	InstallBrowser       bool          `mapstructure:"install_browser" yaml:"install_browser"`
	StartupGrace         time.Duration `mapstructure:"startup_grace" yaml:"startup_grace"`
	ShutdownPolls        int           `mapstructure:"shutdown_polls" yaml:"shutdown_polls"`
	ShutdownPollInterval time.Duration `mapstructure:"shutdown_poll_interval" yaml:"shutdown_poll_interval"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	CallTimeout          time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	ProtocolVersion      string        `mapstructure:"protocol_version" yaml:"protocol_version"`
	ClientName           string        `mapstructure:"client_name" yaml:"client_name"`
	ClientVersion        string        `mapstructure:"client_version" yaml:"client_version"`
}

// HarnessConfig configures the task scheduler and the per-task step loop.
type HarnessConfig struct {
	MaxParallelTasks          int           `mapstructure:"max_parallel_tasks" yaml:"max_parallel_tasks"`
	MaxSteps                  int           `mapstructure:"max_steps" yaml:"max_steps"`
	SnapshotMaxChars          int           `mapstructure:"snapshot_max_chars" yaml:"snapshot_max_chars"`
	AgentTimeout              time.Duration `mapstructure:"agent_timeout" yaml:"agent_timeout"`
	MaxConsecutiveParseErrors int           `mapstructure:"max_consecutive_parse_errors" yaml:"max_consecutive_parse_errors"`
	CloseRequiresHistory      bool          `mapstructure:"close_requires_history" yaml:"close_requires_history"`
	ValidationErrorsFatal     bool          `mapstructure:"validation_errors_fatal" yaml:"validation_errors_fatal"`
	OutputDir                 string        `mapstructure:"output_dir" yaml:"output_dir"`
	TaskLimit                 int           `mapstructure:"task_limit" yaml:"task_limit"`
	TaskLevel                 string        `mapstructure:"task_level" yaml:"task_level"`
	SaveDebugSnapshots        bool          `mapstructure:"save_debug_snapshots" yaml:"save_debug_snapshots"`
	SaveDebugResponses        bool          `mapstructure:"save_debug_responses" yaml:"save_debug_responses"`
	CleanupIncomplete         bool          `mapstructure:"cleanup_incomplete" yaml:"cleanup_incomplete"`
}

// BackoffConfig tunes the adaptive inter-step delay.
type BackoffConfig struct {
	BaseDelay     time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxMultiplier float64       `mapstructure:"max_multiplier" yaml:"max_multiplier"`
	GrowFactor    float64       `mapstructure:"grow_factor" yaml:"grow_factor"`
	ShrinkFactor  float64       `mapstructure:"shrink_factor" yaml:"shrink_factor"`
	ShrinkAfter   int           `mapstructure:"shrink_after" yaml:"shrink_after"`
}

// AgentConfig describes the endpoint of the agent under test.
type AgentConfig struct {
	URL               string        `mapstructure:"url" yaml:"url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	MaxRetries        uint64        `mapstructure:"max_retries" yaml:"max_retries"`
	RetryInterval     time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
}

// ScreenshotConfig controls capture retries and the compressed copy sent to the agent.
type ScreenshotConfig struct {
	Attempts      int           `mapstructure:"attempts" yaml:"attempts"`
	RetryInterval time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	MaxWidth      int           `mapstructure:"max_width" yaml:"max_width"`
	JPEGQuality   int           `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
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
	v.SetDefault("logger.service_name", "wabe")
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

	// -- Tool Server --
	v.SetDefault("toolserver.command", "npx")
	v.SetDefault("toolserver.args", []string{"-y", "@playwright/mcp"})
	v.SetDefault("toolserver.browser", "chromium")
	v.SetDefault("toolserver.headless", true)
	v.SetDefault("toolserver.no_sandbox", true)
	v.SetDefault("toolserver.install_browser", true)
	v.SetDefault("toolserver.startup_grace", "2s")
	v.SetDefault("toolserver.shutdown_polls", 10)
	v.SetDefault("toolserver.shutdown_poll_interval", "500ms")
	v.SetDefault("toolserver.handshake_timeout", "5s")
	v.SetDefault("toolserver.call_timeout", "60s")
	v.SetDefault("toolserver.protocol_version", "2024-11-05")
	v.SetDefault("toolserver.client_name", "wabe")
	v.SetDefault("toolserver.client_version", "1.0.0")

	// -- Harness --
	v.SetDefault("harness.max_parallel_tasks", 5)
	v.SetDefault("harness.max_steps", 10)
	v.SetDefault("harness.snapshot_max_chars", 20000)
	v.SetDefault("harness.agent_timeout", "300s")
	v.SetDefault("harness.max_consecutive_parse_errors", 3)
	v.SetDefault("harness.close_requires_history", true)
	v.SetDefault("harness.validation_errors_fatal", true)
	v.SetDefault("harness.output_dir", ".output/results")
	v.SetDefault("harness.task_limit", 0)
	v.SetDefault("harness.task_level", "")
	v.SetDefault("harness.save_debug_snapshots", false)
	v.SetDefault("harness.save_debug_responses", false)
	v.SetDefault("harness.cleanup_incomplete", true)

	// -- Backoff --
	v.SetDefault("backoff.base_delay", "2s")
	v.SetDefault("backoff.max_multiplier", 8.0)
	v.SetDefault("backoff.grow_factor", 2.0)
	v.SetDefault("backoff.shrink_factor", 0.8)
	v.SetDefault("backoff.shrink_after", 3)

	// -- Agent --
	v.SetDefault("agent.url", "")
	v.SetDefault("agent.request_timeout", "300s")
	v.SetDefault("agent.requests_per_second", 0.0)
	v.SetDefault("agent.burst", 1)
	v.SetDefault("agent.max_retries", 3)
	v.SetDefault("agent.retry_interval", "2s")

	// -- Screenshot --
	v.SetDefault("screenshot.attempts", 3)
	v.SetDefault("screenshot.retry_interval", "1s")
	v.SetDefault("screenshot.max_width", 1280)
	v.SetDefault("screenshot.jpeg_quality", 80)
}

// legacyEnv maps configuration keys to the unprefixed environment variables
// that older evaluation scripts export.
var legacyEnv = map[string]string{
	"harness.max_parallel_tasks":   "MAX_PARALLEL_TASKS",
	"harness.task_limit":           "TASK_LIMIT",
	"harness.task_level":           "TASK_LEVEL",
	"harness.save_debug_snapshots": "SAVE_DEBUG_HTML",
	"harness.save_debug_responses": "SAVE_DEBUG_RESPONSES",
	"database.url":                 "DATABASE_URL",
}

// BindLegacyEnv binds the unprefixed environment variable names. The
// prefixed WABE_ form is still resolved first.
func BindLegacyEnv(v *viper.Viper) {
	for key, env := range legacyEnv {
		prefixed := "WABE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, env)
	}
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	BindLegacyEnv(v)

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading ~ in filesystem settings.
func (c *Config) ExpandPaths() error {
	out, err := homedir.Expand(c.HarnessCfg.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to expand harness.output_dir: %w", err)
	}
	c.HarnessCfg.OutputDir = out

	logFile, err := homedir.Expand(c.LoggerCfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to expand logger.log_file: %w", err)
	}
	c.LoggerCfg.LogFile = logFile
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.HarnessCfg.MaxParallelTasks <= 0 {
		return fmt.Errorf("harness.max_parallel_tasks must be a positive integer")
	}
	if c.HarnessCfg.MaxSteps <= 0 {
		return fmt.Errorf("harness.max_steps must be a positive integer")
	}
	if c.HarnessCfg.MaxConsecutiveParseErrors <= 0 {
		return fmt.Errorf("harness.max_consecutive_parse_errors must be a positive integer")
	}
	if c.HarnessCfg.AgentTimeout <= 0 {
		return fmt.Errorf("harness.agent_timeout must be a positive duration")
	}
	if c.ToolServerCfg.Command == "" {
		return fmt.Errorf("toolserver.command is required")
	}
	if err := c.BackoffCfg.Validate(); err != nil {
		return fmt.Errorf("backoff configuration invalid: %w", err)
	}
	if err := c.ScreenshotCfg.Validate(); err != nil {
		return fmt.Errorf("screenshot configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the BackoffConfig settings.
func (b *BackoffConfig) Validate() error {
	if b.BaseDelay < 0 {
		return fmt.Errorf("base_delay must not be negative")
	}
	if b.MaxMultiplier < 1 {
		return fmt.Errorf("max_multiplier must be at least 1")
	}
	if b.GrowFactor <= 1 {
		return fmt.Errorf("grow_factor must be greater than 1")
	}
	if b.ShrinkFactor <= 0 || b.ShrinkFactor >= 1 {
		return fmt.Errorf("shrink_factor must be between 0 and 1")
	}
	if b.ShrinkAfter <= 0 {
		return fmt.Errorf("shrink_after must be a positive integer")
	}
	return nil
}

// Validate checks the ScreenshotConfig settings.
func (s *ScreenshotConfig) Validate() error {
	if s.Attempts <= 0 {
		return fmt.Errorf("attempts must be a positive integer")
	}
	if s.JPEGQuality < 1 || s.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100")
	}
	if s.MaxWidth <= 0 {
		return fmt.Errorf("max_width must be a positive integer")
	}
	return nil
}
