package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default file rotation settings
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
	DefaultFilename   = "ff7link.log"
)

// Level names accepted in config.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Output formats accepted in config.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// SlogConfig controls the structured application logger.
type SlogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	TimeStamps bool   `mapstructure:"timestamps"`
	Source     bool   `mapstructure:"source"`
}

// FileConfig describes the optional rotating log file.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config is the [log] section: one slog logger, optionally teed into a rotating file.
type Config struct {
	Slog SlogConfig `mapstructure:"slog"`
	File FileConfig `mapstructure:"file"`
}

// DefaultConfig returns colored text logging at info level to stderr only.
func DefaultConfig() Config {
	return Config{
		Slog: SlogConfig{
			Level:      LevelInfo,
			Format:     FormatText,
			Color:      true,
			TimeStamps: true,
		},
	}
}

// FileWriter returns the rotating file writer, or nil when no Dir is configured.
func (c Config) FileWriter() io.WriteCloser {
	if c.File.Dir == "" {
		return nil
	}
	name := c.File.Filename
	if name == "" {
		name = DefaultFilename
	}
	return &lj.Logger{
		Filename:   filepath.Join(c.File.Dir, name),
		MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.File.Compress,
	}
}

// NewSlogger builds a logger writing to stderr and, when configured, the rotating file.
// Colors are only applied to the terminal stream.
func (c Config) NewSlogger() *slog.Logger {
	return c.NewSloggerTo(os.Stderr)
}

// NewSloggerTo is NewSlogger with an explicit terminal writer.
func (c Config) NewSloggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(c.Slog.Level),
		AddSource: c.Slog.Source,
	}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTime
	}

	handlers := []slog.Handler{c.handler(w, opts, c.Slog.Color)}
	if fw := c.FileWriter(); fw != nil {
		handlers = append(handlers, c.handler(fw, opts, false))
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0])
	}
	return slog.New(&teeHandler{handlers: handlers})
}

func (c Config) handler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	if strings.EqualFold(c.Slog.Format, FormatJSON) {
		return slog.NewJSONHandler(w, opts)
	}
	if color {
		return NewColorTextHandler(w, opts, c.Slog.TimeStamps)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a config level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "warning":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
