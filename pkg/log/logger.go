package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "INFO"
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel maps a level name to a LogLevel. Unknown names fall back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Options controls where and how log lines are written.
type Options struct {
	Level  LogLevel
	Format string // "text" or "json"
	File   string // optional rotated log file
	Out    io.Writer
}

type Logger struct {
	base zerolog.Logger // structured call sites
	zl   zerolog.Logger // printf wrappers, caller skips the wrapper frames
}

func NewLogger(opts Options) *Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var w io.Writer = out
	if opts.Format != "json" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05"}
	}
	if opts.File != "" {
		w = io.MultiWriter(w, zerolog.ConsoleWriter{
			NoColor: true,
			Out: &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			},
		})
	}

	base := zerolog.New(w).
		Level(opts.Level.zerolog()).
		With().
		Timestamp().
		Logger()
	return &Logger{
		base: base,
		zl:   base.With().CallerWithSkipFrameCount(5).Logger(),
	}
}

// SetLevel changes the minimum level
func (l *Logger) SetLevel(level LogLevel) {
	l.base = l.base.Level(level.zerolog())
	l.zl = l.zl.Level(level.zerolog())
}

// With starts a structured child logger that reports its own call site.
func (l *Logger) With() zerolog.Context {
	return l.base.With().Caller()
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(l.zl.Debug(), format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(l.zl.Info(), format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(l.zl.Warn(), format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(l.zl.Error(), format, args...)
}

// Fatal logs and exits the process
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(l.zl.WithLevel(zerolog.FatalLevel), format, args...)
	os.Exit(1)
}

func (l *Logger) log(ev *zerolog.Event, format string, args ...interface{}) {
	if ev == nil {
		return
	}
	if len(args) == 0 {
		ev.Msg(format)
		return
	}
	ev.Msg(fmt.Sprintf(format, args...))
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// InitLogger replaces the global logger
func InitLogger(opts Options) {
	globalMu.Lock()
	globalLogger = NewLogger(opts)
	globalMu.Unlock()
}

func GetLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewLogger(Options{Level: LevelInfo})
	}
	return globalLogger
}

// With starts a structured child logger from the global one.
func With() zerolog.Context {
	return GetLogger().With()
}

// Convenience functions
func Debug(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

func Info(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

func Warn(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

func Error(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

func Fatal(format string, args ...interface{}) {
	GetLogger().Fatal(format, args...)
}
