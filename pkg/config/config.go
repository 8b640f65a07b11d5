// Package config loads intentrun settings from intentrun.yaml and
// INTENTRUN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ormasoftchile/intentrun/pkg/governance"
	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// INTENTRUN_DRIVER_CDP_URL.
const EnvPrefix = "INTENTRUN"

// Config is the complete intentrun configuration.
type Config struct {
	Driver   DriverConfig   `mapstructure:"driver"`
	Semantic SemanticConfig `mapstructure:"semantic"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Trace    TraceConfig    `mapstructure:"trace"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`

	Governance governance.Policy `mapstructure:"governance"`
}

// DriverConfig selects the browser backend.
type DriverConfig struct {
	// Kind is "chrome" for a real browser or "replay" for scenario pages.
	Kind       string `mapstructure:"kind"`
	CDPURL     string `mapstructure:"cdp_url"`
	Headless   bool   `mapstructure:"headless"`
	ChromePath string `mapstructure:"chrome_path"`
}

// SemanticConfig describes the MCP server that carries out
// natural-language instructions. An empty command disables the AI path.
type SemanticConfig struct {
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
	Tool      string   `mapstructure:"tool"`
	ArgName   string   `mapstructure:"arg_name"`
	TimeoutMs int      `mapstructure:"timeout_ms"`
}

// EngineConfig holds run-wide defaults.
type EngineConfig struct {
	// Parallelism bounds concurrent runs when several specs are given.
	Parallelism int `mapstructure:"parallelism"`
	// CacheSize bounds the shared pattern and expression cache.
	CacheSize int `mapstructure:"cache_size"`
	// RunTimeoutMs caps a whole run; 0 means no cap.
	RunTimeoutMs int `mapstructure:"run_timeout_ms"`
}

// TraceConfig controls the JSONL audit trail.
type TraceConfig struct {
	// Dir receives one <run-id>.jsonl per run when set.
	Dir string `mapstructure:"dir"`
	// Secrets are environment variable names whose values are redacted.
	Secrets []string `mapstructure:"secrets"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Driver:   DriverConfig{Kind: "chrome", Headless: true},
		Semantic: SemanticConfig{ArgName: "instruction", TimeoutMs: 60000},
		Engine:   EngineConfig{Parallelism: 1, CacheSize: 512},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("driver.kind", d.Driver.Kind)
	v.SetDefault("driver.cdp_url", d.Driver.CDPURL)
	v.SetDefault("driver.headless", d.Driver.Headless)
	v.SetDefault("driver.chrome_path", d.Driver.ChromePath)

	v.SetDefault("semantic.command", d.Semantic.Command)
	v.SetDefault("semantic.args", d.Semantic.Args)
	v.SetDefault("semantic.tool", d.Semantic.Tool)
	v.SetDefault("semantic.arg_name", d.Semantic.ArgName)
	v.SetDefault("semantic.timeout_ms", d.Semantic.TimeoutMs)

	v.SetDefault("engine.parallelism", d.Engine.Parallelism)
	v.SetDefault("engine.cache_size", d.Engine.CacheSize)
	v.SetDefault("engine.run_timeout_ms", d.Engine.RunTimeoutMs)

	v.SetDefault("trace.dir", d.Trace.Dir)
	v.SetDefault("trace.secrets", d.Trace.Secrets)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// New returns a viper instance wired with defaults, the config search
// path and environment overrides.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigName("intentrun")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "intentrun"))
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and decodes the result. An explicit
// path must exist; the search path may come up empty.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d config errors:", len(e))
	for _, err := range e {
		sb.WriteString("\n  " + err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the accepted log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	switch c.Driver.Kind {
	case "chrome", "replay":
	default:
		add("driver.kind", c.Driver.Kind, "must be chrome or replay")
	}
	if c.Semantic.Command != "" && c.Semantic.Tool == "" {
		add("semantic.tool", c.Semantic.Tool, "required when semantic.command is set")
	}
	if c.Semantic.TimeoutMs < 0 {
		add("semantic.timeout_ms", c.Semantic.TimeoutMs, "must not be negative")
	}
	if c.Engine.Parallelism < 1 {
		add("engine.parallelism", c.Engine.Parallelism, "must be at least 1")
	}
	if c.Engine.CacheSize < 1 {
		add("engine.cache_size", c.Engine.CacheSize, "must be at least 1")
	}
	if c.Engine.RunTimeoutMs < 0 {
		add("engine.run_timeout_ms", c.Engine.RunTimeoutMs, "must not be negative")
	}
	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Log.Level)) {
		add("log.level", c.Log.Level, "must be one of "+strings.Join(ValidLogLevels(), ", "))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format", c.Log.Format, "must be text or json")
	}
	if _, err := governance.New(c.Governance); err != nil {
		add("governance", "", err.Error())
	}
	return errs
}

// Timeout is the per-instruction timeout.
func (c *SemanticConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return schema.DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// RunTimeout caps a whole run; zero means none.
func (c *EngineConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutMs) * time.Millisecond
}
