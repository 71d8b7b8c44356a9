// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/dotandev/ilpatch/internal/errors"
)

// Config represents the general configuration for ilpatch
type Config struct {
	// Debug turns on the instruction trace written to DebugLogPath.
	Debug        bool   `toml:"debug"`
	DebugLogPath string `toml:"debug_log_path"`
	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"`
	// JournalPath is the sqlite file recording patch generations. Empty disables it.
	JournalPath       string `toml:"journal_path"`
	TelemetryEnabled  bool   `toml:"telemetry_enabled"`
	TelemetryEndpoint string `toml:"telemetry_endpoint"`
	ServiceName       string `toml:"service_name"`
	// PointerSize selects the jump stub width (4 or 8). Zero means the host's.
	PointerSize int `toml:"pointer_size"`
}

var defaultConfig = &Config{
	DebugLogPath:      filepath.Join(os.TempDir(), "ilpatch.log.txt"),
	LogLevel:          "info",
	LogFormat:         "text",
	TelemetryEndpoint: "localhost:4318",
	ServiceName:       "ilpatch",
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Load builds the configuration from defaults, the first TOML file found,
// and ILPATCH_* environment variables, in that order.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configPaths() []string {
	if p := os.Getenv("ILPATCH_CONFIG"); p != "" {
		return []string{p}
	}
	return []string{
		".ilpatch.toml",
		filepath.Join(os.ExpandEnv("$HOME"), ".ilpatch.toml"),
	}
}

func (c *Config) loadFromFile() error {
	for _, path := range configPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return c.LoadFile(path)
	}
	return nil
}

// LoadFile merges one TOML file into c.
func (c *Config) LoadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.WrapConfigError("failed to parse "+path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return errors.WrapConfigError("unknown keys in "+path+": "+strings.Join(keys, ", "), nil)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.DebugLogPath = getEnv("ILPATCH_DEBUG_LOG", c.DebugLogPath)
	c.LogLevel = getEnv("ILPATCH_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("ILPATCH_LOG_FORMAT", c.LogFormat)
	c.JournalPath = getEnv("ILPATCH_JOURNAL", c.JournalPath)
	c.TelemetryEndpoint = getEnv("ILPATCH_OTLP_ENDPOINT", c.TelemetryEndpoint)
	c.ServiceName = getEnv("ILPATCH_SERVICE_NAME", c.ServiceName)

	if v := os.Getenv("ILPATCH_DEBUG"); v != "" {
		c.Debug = parseBool(v)
	}
	if v := os.Getenv("ILPATCH_TELEMETRY"); v != "" {
		c.TelemetryEnabled = parseBool(v)
	}
	if v := os.Getenv("ILPATCH_POINTER_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.WrapConfigError("ILPATCH_POINTER_SIZE", err)
		}
		c.PointerSize = n
	}
	return nil
}

func (c *Config) Validate() error {
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return errors.WrapValidationError(fmt.Sprintf("log_level %q must be one of debug, info, warn, error", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return errors.WrapValidationError(fmt.Sprintf("log_format %q must be text or json", c.LogFormat))
	}
	switch c.PointerSize {
	case 0, 4, 8:
	default:
		return errors.WrapValidationError(fmt.Sprintf("pointer_size %d must be 4 or 8", c.PointerSize))
	}
	if c.Debug && c.DebugLogPath == "" {
		return errors.WrapValidationError("debug_log_path cannot be empty when debug is set")
	}
	if c.TelemetryEnabled && c.TelemetryEndpoint == "" {
		return errors.WrapValidationError("telemetry_endpoint cannot be empty when telemetry is enabled")
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Debug: %t, LogLevel: %s, Journal: %s, Telemetry: %t}",
		c.Debug, c.LogLevel, c.JournalPath, c.TelemetryEnabled,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func DefaultConfig() *Config {
	cfg := *defaultConfig
	return &cfg
}

func (c *Config) WithDebug(path string) *Config {
	c.Debug = true
	if path != "" {
		c.DebugLogPath = path
	}
	return c
}

func (c *Config) WithLogLevel(level string) *Config {
	c.LogLevel = level
	return c
}

func (c *Config) WithJournal(path string) *Config {
	c.JournalPath = path
	return c
}

func (c *Config) WithTelemetry(endpoint string) *Config {
	c.TelemetryEnabled = true
	c.TelemetryEndpoint = endpoint
	return c
}
