// Package logging is the component logger shared by every syncstage
// package. Each component asks for its logger by name and gets a silent one
// until the CLI calls Init.
//
//	if err := logging.Init(logging.Config{Level: "info"}); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	logging.Get("hasher").Info("hashed", "path", p, "bytes", n)
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Level represents a logging level.
type Level int

// Log levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) charm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ErrInvalidLevel is returned when an invalid log level string is provided.
var ErrInvalidLevel = errors.New("invalid log level")

// ErrInvalidFormat is returned for an unknown file format.
var ErrInvalidFormat = errors.New("invalid log format")

// ParseLevel parses a string into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

func parseFormat(s string) (log.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return log.TextFormatter, fmt.Errorf("%w: %s", ErrInvalidFormat, s)
	}
}

// Config configures the logging system.
type Config struct {
	// Level is the default file log level (debug, info, warn, error).
	Level string `mapstructure:"level"`

	// Path is the log file path. Empty uses DefaultLogPath().
	Path string `mapstructure:"path"`

	// Format is the file format: text, json or logfmt.
	Format string `mapstructure:"format"`

	// Rotation configures log file rotation.
	Rotation RotationConfig `mapstructure:"rotation"`

	// Components maps component names to level overrides.
	Components map[string]string `mapstructure:"components"`

	// ConsoleLevel enables stderr output at the given level.
	// Empty disables console output.
	ConsoleLevel string `mapstructure:"console_level"`

	// Console replaces stderr as the console destination.
	Console io.Writer `mapstructure:"-"`
}

// Logger is a named component logger. It looks up its backend on every
// call, so loggers obtained before Init start writing once Init runs.
type Logger struct {
	component string
	keyvals   []any
}

// Component returns the name the logger was created with.
func (l *Logger) Component() string { return l.component }

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }

// Info logs an info message.
func (l *Logger) Info(msg string, args ...any) { l.log(LevelInfo, msg, args...) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) { l.log(LevelWarn, msg, args...) }

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }

func (l *Logger) log(level Level, msg string, args ...any) {
	b := global.backend(l.component)
	if b == nil {
		return
	}
	if len(l.keyvals) > 0 {
		args = append(append(make([]any, 0, len(l.keyvals)+len(args)), l.keyvals...), args...)
	}
	logTo(b.file, level, msg, args...)
	if b.console != nil {
		logTo(b.console, level, msg, args...)
	}
}

func logTo(logger *log.Logger, level Level, msg string, args ...any) {
	switch level {
	case LevelDebug:
		logger.Debug(msg, args...)
	case LevelInfo:
		logger.Info(msg, args...)
	case LevelWarn:
		logger.Warn(msg, args...)
	case LevelError:
		logger.Error(msg, args...)
	}
}

// With returns a logger that adds keyvals to every entry.
func (l *Logger) With(args ...any) *Logger {
	kv := make([]any, 0, len(l.keyvals)+len(args))
	kv = append(append(kv, l.keyvals...), args...)
	return &Logger{component: l.component, keyvals: kv}
}

type backend struct {
	file    *log.Logger
	console *log.Logger
}

type state struct {
	mu         sync.RWMutex
	writer     *RotatingWriter
	format     log.Formatter
	level      Level
	components map[string]Level
	backends   map[string]*backend
	loggers    map[string]*Logger

	console      io.Writer
	consoleLevel Level
}

var global = &state{
	backends: make(map[string]*backend),
	loggers:  make(map[string]*Logger),
}

// backend returns the writer pair for component, or nil before Init.
func (s *state) backend(component string) *backend {
	s.mu.RLock()
	if s.writer == nil {
		s.mu.RUnlock()
		return nil
	}
	b, ok := s.backends[component]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return nil
	}
	if b, ok := s.backends[component]; ok {
		return b
	}
	b = s.newBackend(component)
	s.backends[component] = b
	return b
}

// newBackend must be called with s.mu held.
func (s *state) newBackend(component string) *backend {
	level := s.level
	if l, ok := s.components[component]; ok {
		level = l
	}

	b := &backend{
		file: log.NewWithOptions(s.writer, log.Options{
			Level:           level.charm(),
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          component,
			Formatter:       s.format,
		}),
	}
	if s.console != nil {
		b.console = log.NewWithOptions(s.console, log.Options{
			Level:           s.consoleLevel.charm(),
			ReportTimestamp: true,
			TimeFormat:      "15:04:05",
			Prefix:          component,
		})
	}
	return b
}

// Init opens the log file. Calling Init again replaces the previous
// configuration for every logger, including ones already handed out.
func Init(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	format, err := parseFormat(cfg.Format)
	if err != nil {
		return err
	}
	components := make(map[string]Level, len(cfg.Components))
	for comp, lvl := range cfg.Components {
		parsed, err := ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		components[comp] = parsed
	}

	var console io.Writer
	var consoleLevel Level
	if cfg.ConsoleLevel != "" {
		consoleLevel, err = ParseLevel(cfg.ConsoleLevel)
		if err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
		console = cfg.Console
		if console == nil {
			console = os.Stderr
		}
	}

	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}
	writer, err := NewRotatingWriter(path, cfg.Rotation)
	if err != nil {
		return fmt.Errorf("creating log writer: %w", err)
	}

	global.mu.Lock()
	defer global.mu.Unlock()

	if global.writer != nil {
		_ = global.writer.Close()
	}
	global.writer = writer
	global.format = format
	global.level = level
	global.components = components
	global.console = console
	global.consoleLevel = consoleLevel
	global.backends = make(map[string]*backend)
	return nil
}

// Get returns the logger for component.
func Get(component string) *Logger {
	global.mu.RLock()
	logger, ok := global.loggers[component]
	global.mu.RUnlock()
	if ok {
		return logger
	}

	global.mu.Lock()
	defer global.mu.Unlock()
	if logger, ok := global.loggers[component]; ok {
		return logger
	}
	logger = &Logger{component: component}
	global.loggers[component] = logger
	return logger
}

// Close flushes the log file and silences every logger until the next Init.
func Close() error {
	global.mu.Lock()
	defer global.mu.Unlock()

	if global.writer == nil {
		return nil
	}
	err := global.writer.Close()
	global.writer = nil
	global.console = nil
	global.backends = make(map[string]*backend)
	if err != nil {
		return fmt.Errorf("closing log writer: %w", err)
	}
	return nil
}

// DefaultLogPath returns $XDG_STATE_HOME/syncstage/syncstage.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "syncstage", "syncstage.log")
}

// DefaultConfig returns file logging at info with default rotation.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Path:     DefaultLogPath(),
		Format:   "text",
		Rotation: DefaultRotationConfig(),
	}
}
