// Package logger implements CuttleFS's leveled logger: a log/slog-based
// handler offering TRACE/DEBUG/INFO/WARNING/ERROR/OFF severities with
// text and JSON output, optionally rotated through lumberjack, mirroring
// the teacher's internal/logger package.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels, ordered least to most verbose suppression. OFF
// disables logging entirely.
const (
	TRACE   = "TRACE"
	DEBUG   = "DEBUG"
	INFO    = "INFO"
	WARNING = "WARNING"
	ERROR   = "ERROR"
	OFF     = "OFF"
)

// slog levels for the severities above. TRACE/OFF have no stdlib
// equivalent, so they're modeled as levels below/above the standard
// range.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(16)
)

// RotateConfig mirrors lumberjack's rotation knobs.
type RotateConfig struct {
	MaxFileSizeMB   int
	BackupFileCount int
	Compress        bool
}

// DefaultRotateConfig matches the teacher's defaults: 512MB files, 10
// backups, compressed.
func DefaultRotateConfig() RotateConfig {
	return RotateConfig{MaxFileSizeMB: 512, BackupFileCount: 10, Compress: true}
}

// Config selects the destination, format, and severity of the default
// logger.
type Config struct {
	// FilePath is the log file path, or "" to log to stderr.
	FilePath string
	// Format is "text" or "json" ("" defaults to "json").
	Format string
	// Severity is one of the constants above.
	Severity string
	// Rotate configures lumberjack rotation, used only when FilePath != "".
	Rotate RotateConfig
}

type loggerFactory struct {
	file         *os.File
	sysWriter    io.Writer
	format       string
	level        string
	rotateConfig RotateConfig
}

var (
	defaultLoggerFactory = &loggerFactory{sysWriter: os.Stderr, format: "json", level: INFO}
	defaultLogger        = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, levelVarFor(INFO), ""))
)

func levelVarFor(severity string) *slog.LevelVar {
	v := new(slog.LevelVar)
	setLoggingLevel(severity, v)
	return v
}

func setLoggingLevel(severity string, v *slog.LevelVar) {
	switch severity {
	case TRACE:
		v.Set(LevelTrace)
	case DEBUG:
		v.Set(LevelDebug)
	case INFO:
		v.Set(LevelInfo)
	case WARNING:
		v.Set(LevelWarn)
	case ERROR:
		v.Set(LevelError)
	case OFF:
		v.Set(LevelOff)
	default:
		v.Set(LevelInfo)
	}
}

// severityLabel maps a slog.Level back to the severity string it was
// configured from, for rendering in log lines (slog's own names don't
// cover TRACE/WARNING/OFF).
func severityLabel(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return TRACE
	case l <= LevelDebug:
		return DEBUG
	case l <= LevelInfo:
		return INFO
	case l <= LevelWarn:
		return WARNING
	default:
		return ERROR
	}
}

type textHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	prefix string
}

func (h *textHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level.Level() }

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintf(h.w, "time=%q severity=%s message=%q\n",
		r.Time.Format("2006/01/02 15:04:05.000000"), severityLabel(r.Level), h.prefix+r.Message)
	return err
}

func (h *textHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *textHandler) WithGroup(_ string) slog.Handler      { return h }

type jsonHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	prefix string
}

func (h *jsonHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level.Level() }

func (h *jsonHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintf(h.w, "{\"timestamp\":{\"seconds\":%d,\"nanos\":%d},\"severity\":%q,\"message\":%q}\n",
		r.Time.Unix(), r.Time.Nanosecond(), severityLabel(r.Level), h.prefix+r.Message)
	return err
}

func (h *jsonHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *jsonHandler) WithGroup(_ string) slog.Handler      { return h }

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	if f.format == "text" {
		return &textHandler{w: w, level: level, prefix: prefix}
	}
	return &jsonHandler{w: w, level: level, prefix: prefix}
}

// Init points the default logger at cfg's destination/format/severity.
// If cfg.FilePath is empty, logs go to stderr.
func Init(cfg Config) error {
	rotate := cfg.Rotate
	if rotate == (RotateConfig{}) {
		rotate = DefaultRotateConfig()
	}

	factory := &loggerFactory{format: cfg.Format, level: cfg.Severity, rotateConfig: rotate}

	var w io.Writer
	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    rotate.MaxFileSizeMB,
			MaxBackups: rotate.BackupFileCount,
			Compress:   rotate.Compress,
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("logger: opening %q: %w", cfg.FilePath, err)
		}
		factory.file = f
		w = lj
	} else {
		factory.sysWriter = os.Stderr
		w = os.Stderr
	}

	defaultLoggerFactory = factory
	defaultLogger = slog.New(factory.createJsonOrTextHandler(w, levelVarFor(cfg.Severity), ""))
	return nil
}

// SetLogFormat reformats the default logger without touching its
// destination or severity.
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format

	var w io.Writer = defaultLoggerFactory.sysWriter
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, levelVarFor(defaultLoggerFactory.level), ""))
}

// Tracef logs at TRACE severity.
func Tracef(format string, args ...interface{}) { logAt(LevelTrace, format, args...) }

// Debugf logs at DEBUG severity.
func Debugf(format string, args ...interface{}) { logAt(LevelDebug, format, args...) }

// Infof logs at INFO severity.
func Infof(format string, args ...interface{}) { logAt(LevelInfo, format, args...) }

// Warnf logs at WARNING severity.
func Warnf(format string, args ...interface{}) { logAt(LevelWarn, format, args...) }

// Errorf logs at ERROR severity.
func Errorf(format string, args ...interface{}) { logAt(LevelError, format, args...) }

func logAt(level slog.Level, format string, args ...interface{}) {
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}
