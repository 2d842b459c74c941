// Package logging builds the slog logger used by the composer and its CLI.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Environment variables read by LoadEnv
const (
	EnvLevel  = "LOG_LEVEL"
	EnvFormat = "LOG_FORMAT"
)

// Level names a log severity as written in config files
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var slogLevels = map[Level]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

func (l Level) Validate() error {
	if _, ok := slogLevels[l]; !ok {
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", l)
	}
	return nil
}

// SlogLevel maps l onto slog; anything unrecognized logs at info
func (l Level) SlogLevel() slog.Level {
	if lvl, ok := slogLevels[l]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// Format selects the slog handler
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

func (f Format) Validate() error {
	if f != FormatText && f != FormatJSON {
		return fmt.Errorf("logging.format %q is not one of text, json", f)
	}
	return nil
}

// Config is the logging section of the composer config
type Config struct {
	Level  Level  `yaml:"level"`
	Format Format `yaml:"format"`
}

// LoadEnv fills fields the file left empty from LOG_LEVEL and LOG_FORMAT.
// Values are lower-cased so LOG_LEVEL=DEBUG works.
func (c *Config) LoadEnv() {
	if v := os.Getenv(EnvLevel); v != "" && c.Level == "" {
		c.Level = Level(strings.ToLower(v))
	}
	if v := os.Getenv(EnvFormat); v != "" && c.Format == "" {
		c.Format = Format(strings.ToLower(v))
	}
}

// ApplyDefaults sets info level and text output where unset
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = LevelInfo
	}
	if c.Format == "" {
		c.Format = FormatText
	}
}

func (c *Config) Validate() error {
	if err := c.Level.Validate(); err != nil {
		return err
	}
	return c.Format.Validate()
}

// New returns a logger writing to stderr
func New(cfg Config) *slog.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

func NewWithWriter(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level.SlogLevel()}
	if cfg.Format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
