// Package logx provides component-scoped logging on top of zap with env-controlled debug output.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TimestampLayout is the UTC layout written at the start of every line.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Level names a log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ContextKey is the type used for values logx reads from a context.
type ContextKey string

// SessionKey carries the session id picked up by Debug.
const SessionKey ContextKey = "session_id"

// Logger writes lines tagged with a component name.
type Logger struct {
	component string
}

//nolint:gochecknoglobals // process-wide logging backend
var (
	baseMu  sync.RWMutex
	base    *zap.Logger
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	domains map[string]bool // nil means every domain

	defaultLogger = NewLogger("system")
)

func init() { //nolint:gochecknoinits // env-driven debug defaults
	base = newBase(os.Stderr)
	initDebugFromEnv()
}

func newBase(w io.Writer) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "component",
		MessageKey:    "msg",
		StacktraceKey: "",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + t.UTC().Format(TimestampLayout) + "]")
		},
		EncodeLevel: zapcore.CapitalLevelEncoder,
		EncodeName: func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + name + "]")
		},
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core)
}

func initDebugFromEnv() {
	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		level.SetLevel(zapcore.DebugLevel)
	}
	if list := os.Getenv("DEBUG_DOMAINS"); list != "" {
		SetDebugDomains(strings.Split(list, ","))
	}
}

// SetOutput redirects all loggers to w. Passing nil restores stderr.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	baseMu.Lock()
	defer baseMu.Unlock()
	base = newBase(w)
}

// SetDebug toggles debug level output for every logger.
func SetDebug(enabled bool) {
	if enabled {
		level.SetLevel(zapcore.DebugLevel)
		return
	}
	level.SetLevel(zapcore.InfoLevel)
}

// IsDebugEnabled reports whether debug lines are written.
func IsDebugEnabled() bool {
	return level.Enabled(zapcore.DebugLevel)
}

// SetDebugDomains limits Debug(ctx, domain, ...) output to the named domains.
// An empty list enables all domains.
func SetDebugDomains(list []string) {
	baseMu.Lock()
	defer baseMu.Unlock()
	if len(list) == 0 {
		domains = nil
		return
	}
	domains = make(map[string]bool, len(list))
	for _, d := range list {
		domains[strings.TrimSpace(d)] = true
	}
}

// IsDebugEnabledForDomain reports whether Debug output for domain is written.
func IsDebugEnabledForDomain(domain string) bool {
	if !IsDebugEnabled() {
		return false
	}
	baseMu.RLock()
	defer baseMu.RUnlock()
	return domains == nil || domains[domain]
}

// Sync flushes buffered output.
func Sync() {
	baseMu.RLock()
	defer baseMu.RUnlock()
	_ = base.Sync()
}

func current() *zap.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

// NewLogger returns a logger tagged with component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) sugar() *zap.SugaredLogger {
	return current().Named(l.component).Sugar()
}

func (l *Logger) Debug(format string, args ...any) {
	l.sugar().Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.sugar().Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.sugar().Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.sugar().Errorf(format, args...)
}

// Component returns the name the logger tags lines with.
func (l *Logger) Component() string {
	return l.component
}

// WithComponent returns a logger sharing the backend under a different name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{component: component}
}

// Debug logs under a domain, honoring DEBUG_DOMAINS. The session id is read
// from ctx when present.
//
//	logx.Debug(ctx, "gateway", "attempt %d", n)
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	session := "unknown"
	if ctx != nil {
		if id, ok := ctx.Value(SessionKey).(string); ok && id != "" {
			session = id
		}
	}
	NewLogger(session).Debug("[%s] %s", domain, fmt.Sprintf(format, args...))
}

// DebugState logs a state transition under domain.
func DebugState(ctx context.Context, domain, action, state string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = " - " + extra[0]
	}
	Debug(ctx, domain, "State %s: %s%s", action, state, extraInfo)
}

func Debugf(format string, args ...any) {
	defaultLogger.Debug(format, args...)
}

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error:
//
//	return logx.Errorf("open store: %w", err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err and returns fmt.Errorf("%s: %w", msg, err).
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
