package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all modcall configuration.
type Config struct {
	// Declarations lists directories or files (.cue, .yaml, .yml) with
	// module declaration tables. Relative paths resolve against the config file.
	Declarations []string `yaml:"declarations"`

	// BuiltinModules registers the reference modules (IO, Subtask, Knowledge, Manual).
	BuiltinModules bool `yaml:"builtin_modules"`

	Syntax   SyntaxConfig   `yaml:"syntax"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Store    StoreConfig    `yaml:"store"`
	Log      LogConfig      `yaml:"log"`
}

// SyntaxConfig sets the span delimiters agents use.
type SyntaxConfig struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

// DispatchConfig tunes the dispatcher.
type DispatchConfig struct {
	// ExtraFields is the policy for query keys the schema does not declare:
	// "pass" (default), "strip", or "reject".
	ExtraFields string `yaml:"extra_fields"`

	// Concurrency caps spans in flight per turn. 1 runs spans in order.
	Concurrency int `yaml:"concurrency"`

	// MaxSpans caps spans dispatched per turn; later spans fail quota_exceeded.
	MaxSpans int `yaml:"max_spans"`
}

// StoreConfig configures the SQLite database backing the Knowledge module.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		BuiltinModules: true,
		Syntax: SyntaxConfig{
			Open:  "[[command]]",
			Close: "[[/command]]",
		},
		Dispatch: DispatchConfig{
			ExtraFields: "pass",
			Concurrency: 1,
			MaxSpans:    32,
		},
		Store: StoreConfig{Path: "modcall.db"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i, p := range cfg.Declarations {
		if !filepath.IsAbs(p) {
			cfg.Declarations[i] = filepath.Join(base, p)
		}
	}
	if cfg.Store.Path != "" && cfg.Store.Path != ":memory:" && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(base, cfg.Store.Path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Syntax.Open) == "" || strings.TrimSpace(c.Syntax.Close) == "" {
		return fmt.Errorf("syntax.open and syntax.close are required")
	}
	if c.Syntax.Open == c.Syntax.Close {
		return fmt.Errorf("syntax.open and syntax.close must differ")
	}
	switch c.Dispatch.ExtraFields {
	case "pass", "strip", "reject":
	default:
		return fmt.Errorf("dispatch.extra_fields must be pass, strip, or reject, got %q", c.Dispatch.ExtraFields)
	}
	if c.Dispatch.Concurrency < 1 {
		return fmt.Errorf("dispatch.concurrency must be at least 1")
	}
	if c.Dispatch.MaxSpans < 0 {
		return fmt.Errorf("dispatch.max_spans must not be negative")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level must be debug, info, warn, or error, got %q", s)
	}
}
