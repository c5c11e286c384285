// Package logging provides structured logging for snmpbulk on top of log/slog.
//
// # Global Logger
//
// The command line front end configures the process-wide logger once:
//
//	if err := logging.Init(logging.Config{Level: "debug", Format: "json"}); err != nil {
//		return err
//	}
//	defer logging.Shutdown()
//
//	logging.Info("walk started", "target", "192.0.2.1:161")
//
// # Component Loggers
//
// Library packages log through the Logger interface. Each component gets a
// logger tagged with its name and type:
//
//	log := logging.NewComponentLogger("transport", "udp")
//	log.Debug("request sent", "request_id", 42)
//	// Output: ... component=transport component_type=udp request_id=42
//
// # Context Fields
//
// Fields stored with WithContextField are added to messages logged through the
// *Context functions of the global logger:
//
//	ctx = logging.WithContextField(ctx, logging.FieldTarget, "192.0.2.1:161")
//	logging.InfoContext(ctx, "table retrieved", "rows", 12)
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Log formats.
const (
	// FormatLogfmt writes key=value pairs.
	FormatLogfmt = "logfmt"

	// FormatJSON writes one JSON object per message.
	FormatJSON = "json"
)

// Field keys shared by the snmpbulk packages.
const (
	FieldTarget    = "target"
	FieldRequestID = "request_id"
	FieldWalk      = "walk"
	FieldOID       = "oid"
	FieldStatus    = "status"
	FieldRows      = "rows"
	FieldRound     = "round"
)

// contextFields lists the keys WithContextField values are read back from.
var contextFields = []string{FieldTarget, FieldWalk, FieldRequestID, FieldOID}

// Config holds the logger settings.
type Config struct {
	// Level is one of "debug", "info", "warn" or "error". Default: "info".
	Level string `json:"level" yaml:"level"`

	// Format is "logfmt" or "json". Default: "logfmt".
	Format string `json:"format" yaml:"format"`

	// Output is "stdout", "stderr" or a file path. Parent directories of a
	// file are created. Default: "stdout".
	Output string `json:"output" yaml:"output"`

	// AddSource includes the source file and line of each message.
	AddSource bool `json:"add_source" yaml:"add_source"`
}

// DefaultConfig returns info level logfmt logging to stdout.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: FormatLogfmt,
		Output: "stdout",
	}
}

// Validate checks the level and format.
func (c Config) Validate() error {
	if c.Level != "" && !ValidateLevel(c.Level) {
		return fmt.Errorf("invalid log level: %q, must be one of: %s, %s, %s, %s",
			c.Level, LevelDebug, LevelInfo, LevelWarn, LevelError)
	}
	if c.Format != "" && !ValidateFormat(c.Format) {
		return fmt.Errorf("invalid log format: %q, must be one of: %s, %s",
			c.Format, FormatLogfmt, FormatJSON)
	}
	return nil
}

var (
	mu             sync.RWMutex
	globalLogger   *slog.Logger
	globalCloser   io.Closer
	globalLevelVar *slog.LevelVar
)

// build creates the handler output for config. The closer is non-nil only
// when logging to a file.
func build(config Config) (*slog.Logger, *slog.LevelVar, io.Closer, error) {
	if err := config.Validate(); err != nil {
		return nil, nil, nil, err
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(parseLevel(config.Level))

	var writer io.Writer
	var closer io.Closer
	switch strings.ToLower(config.Output) {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		file, err := openLogFile(config.Output)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		writer = file
		closer = file
	}

	opts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: config.AddSource,
	}
	var handler slog.Handler
	if strings.ToLower(config.Format) == FormatJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler), levelVar, closer, nil
}

// New creates a logger independent from the global one. The closer is
// non-nil when the output is a file and must be closed by the caller.
func New(config Config) (*slog.Logger, io.Closer, error) {
	logger, _, closer, err := build(config)
	return logger, closer, err
}

// NewLogger is New returning the Logger interface.
func NewLogger(config Config) (Logger, io.Closer, error) {
	logger, closer, err := New(config)
	if err != nil {
		return nil, nil, err
	}
	return &slogWrapper{logger: logger}, closer, nil
}

// Init replaces the global logger. A file opened by the previous global
// logger is closed.
func Init(config Config) error {
	logger, levelVar, closer, err := build(config)
	if err != nil {
		return err
	}

	mu.Lock()
	previous := globalCloser
	globalLogger = logger
	globalCloser = closer
	globalLevelVar = levelVar
	mu.Unlock()

	slog.SetDefault(logger)
	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

// InitWithDefaults calls Init(DefaultConfig()).
func InitWithDefaults() error {
	return Init(DefaultConfig())
}

// Shutdown closes the file the global logger writes to, if any. It is safe
// to call more than once.
func Shutdown() error {
	mu.Lock()
	closer := globalCloser
	globalCloser = nil
	mu.Unlock()
	if closer != nil {
		return closer.Close()
	}
	return nil
}

// SetLevel changes the level of the global logger at runtime.
func SetLevel(level string) error {
	if !ValidateLevel(level) {
		return fmt.Errorf("invalid log level: %q, must be one of: %s, %s, %s, %s",
			level, LevelDebug, LevelInfo, LevelWarn, LevelError)
	}
	mu.RLock()
	defer mu.RUnlock()
	if globalLevelVar != nil {
		globalLevelVar.Set(parseLevel(level))
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// ValidateLevel reports whether level is a valid log level string.
func ValidateLevel(level string) bool {
	switch strings.ToLower(level) {
	case LevelDebug, LevelInfo, LevelWarn, "warning", LevelError:
		return true
	default:
		return false
	}
}

// ValidateFormat reports whether format is a valid log format string.
func ValidateFormat(format string) bool {
	switch strings.ToLower(format) {
	case FormatLogfmt, FormatJSON:
		return true
	default:
		return false
	}
}

// Get returns the global logger, initializing it with defaults on first use.
func Get() *slog.Logger {
	mu.RLock()
	logger := globalLogger
	mu.RUnlock()
	if logger != nil {
		return logger
	}
	if err := InitWithDefaults(); err != nil {
		return slog.Default()
	}
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// Debug logs at debug level with the global logger.
func Debug(msg string, args ...any) { Get().Debug(msg, args...) }

// Info logs at info level with the global logger.
func Info(msg string, args ...any) { Get().Info(msg, args...) }

// Warn logs at warn level with the global logger.
func Warn(msg string, args ...any) { Get().Warn(msg, args...) }

// Error logs at error level with the global logger.
func Error(msg string, args ...any) { Get().Error(msg, args...) }

// DebugContext logs at debug level, adding the context fields of ctx.
func DebugContext(ctx context.Context, msg string, args ...any) {
	Get().DebugContext(ctx, msg, withContextFields(ctx, args)...)
}

// InfoContext logs at info level, adding the context fields of ctx.
func InfoContext(ctx context.Context, msg string, args ...any) {
	Get().InfoContext(ctx, msg, withContextFields(ctx, args)...)
}

// WarnContext logs at warn level, adding the context fields of ctx.
func WarnContext(ctx context.Context, msg string, args ...any) {
	Get().WarnContext(ctx, msg, withContextFields(ctx, args)...)
}

// ErrorContext logs at error level, adding the context fields of ctx.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	Get().ErrorContext(ctx, msg, withContextFields(ctx, args)...)
}

// Logger is the logging interface snmpbulk packages depend on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	// With returns a Logger adding args to every message.
	With(args ...any) Logger
}

// GetLogger returns a Logger backed by the global logger.
func GetLogger() Logger {
	return globalLoggerWrapper{}
}

// Discard returns a Logger dropping every message.
func Discard() Logger {
	return &slogWrapper{logger: slog.New(slog.DiscardHandler)}
}

type globalLoggerWrapper struct{}

func (globalLoggerWrapper) Debug(msg string, args ...any) { Debug(msg, args...) }
func (globalLoggerWrapper) Info(msg string, args ...any)  { Info(msg, args...) }
func (globalLoggerWrapper) Warn(msg string, args ...any)  { Warn(msg, args...) }
func (globalLoggerWrapper) Error(msg string, args ...any) { Error(msg, args...) }

func (globalLoggerWrapper) DebugContext(ctx context.Context, msg string, args ...any) {
	DebugContext(ctx, msg, args...)
}

func (globalLoggerWrapper) InfoContext(ctx context.Context, msg string, args ...any) {
	InfoContext(ctx, msg, args...)
}

func (globalLoggerWrapper) WarnContext(ctx context.Context, msg string, args ...any) {
	WarnContext(ctx, msg, args...)
}

func (globalLoggerWrapper) ErrorContext(ctx context.Context, msg string, args ...any) {
	ErrorContext(ctx, msg, args...)
}

func (globalLoggerWrapper) With(args ...any) Logger {
	return &slogWrapper{logger: Get().With(args...)}
}

type slogWrapper struct {
	logger *slog.Logger
}

func (s *slogWrapper) Debug(msg string, args ...any) { s.logger.Debug(msg, args...) }
func (s *slogWrapper) Info(msg string, args ...any)  { s.logger.Info(msg, args...) }
func (s *slogWrapper) Warn(msg string, args ...any)  { s.logger.Warn(msg, args...) }
func (s *slogWrapper) Error(msg string, args ...any) { s.logger.Error(msg, args...) }

func (s *slogWrapper) DebugContext(ctx context.Context, msg string, args ...any) {
	s.logger.DebugContext(ctx, msg, withContextFields(ctx, args)...)
}

func (s *slogWrapper) InfoContext(ctx context.Context, msg string, args ...any) {
	s.logger.InfoContext(ctx, msg, withContextFields(ctx, args)...)
}

func (s *slogWrapper) WarnContext(ctx context.Context, msg string, args ...any) {
	s.logger.WarnContext(ctx, msg, withContextFields(ctx, args)...)
}

func (s *slogWrapper) ErrorContext(ctx context.Context, msg string, args ...any) {
	s.logger.ErrorContext(ctx, msg, withContextFields(ctx, args)...)
}

func (s *slogWrapper) With(args ...any) Logger {
	return &slogWrapper{logger: s.logger.With(args...)}
}

// ComponentLogger is a Logger tagging every message with the component name
// and type it was created for.
type ComponentLogger struct {
	slogWrapper
	component     string
	componentType string
}

// NewComponentLogger returns a logger adding component and component_type
// fields, e.g. NewComponentLogger("transport", "udp").
func NewComponentLogger(component, componentType string) *ComponentLogger {
	return &ComponentLogger{
		slogWrapper:   slogWrapper{logger: Get().With("component", component, "component_type", componentType)},
		component:     component,
		componentType: componentType,
	}
}

// With returns a logger keeping the component context and adding args.
func (cl *ComponentLogger) With(args ...any) Logger {
	return &ComponentLogger{
		slogWrapper:   slogWrapper{logger: cl.logger.With(args...)},
		component:     cl.component,
		componentType: cl.componentType,
	}
}

// Component returns the component name.
func (cl *ComponentLogger) Component() string {
	return cl.component
}

// ComponentType returns the component type.
func (cl *ComponentLogger) ComponentType() string {
	return cl.componentType
}

type contextKey string

// WithContextField returns a copy of ctx carrying a logging field. Only the
// Field* keys listed for context use are read back: target, walk,
// request_id and oid.
func WithContextField(ctx context.Context, key, value string) context.Context {
	return context.WithValue(ctx, contextKey(key), value)
}

func withContextFields(ctx context.Context, args []any) []any {
	if ctx == nil {
		return args
	}
	for _, key := range contextFields {
		if v, ok := ctx.Value(contextKey(key)).(string); ok && v != "" {
			args = append(args, key, v)
		}
	}
	return args
}

// openLogFile opens a log file for appending after validating the path and
// creating parent directories.
func openLogFile(filePath string) (*os.File, error) {
	if filePath == "" {
		return nil, errors.New("log file path cannot be empty")
	}

	cleanPath := filepath.Clean(filePath)
	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid log file path: contains directory traversal: %s", cleanPath)
	}
	if filepath.IsAbs(cleanPath) {
		for _, p := range []string{"/etc/", "/proc/", "/sys/", "/dev/", "/run/secrets"} {
			if strings.HasPrefix(cleanPath+"/", p) || cleanPath == strings.TrimSuffix(p, "/") {
				return nil, fmt.Errorf("log file path not allowed: %s", cleanPath)
			}
		}
	}

	dir := filepath.Dir(cleanPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	// refuse symlinks and non-regular files
	if info, err := os.Lstat(cleanPath); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return nil, fmt.Errorf("refusing to open symlink for log file: %s", cleanPath)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("log path must be a regular file: %s", cleanPath)
		}
	}

	return os.OpenFile(cleanPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}
