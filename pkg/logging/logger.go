package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Fields carries structured context for a single log call
type Fields map[string]interface{}

// Logger provides structured logging backed by zap
type Logger struct {
	zl      *zap.Logger
	logFile *os.File
}

// NewLogger creates a logger writing to stderr
func NewLogger(level Level, jsonFormat bool) *Logger {
	return NewLoggerTo(os.Stderr, level, jsonFormat)
}

// NewLoggerTo creates a logger writing to w
func NewLoggerTo(w io.Writer, level Level, jsonFormat bool) *Logger {
	core := zapcore.NewCore(newEncoder(jsonFormat), zapcore.AddSync(w), level.zapLevel())
	return &Logger{zl: zap.New(core)}
}

// NewFileLogger creates a logger that writes to path and stderr.
// The parent directory is created if missing.
func NewFileLogger(path string, level Level, jsonFormat bool) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %s: %w", path, err)
	}

	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	ws := zapcore.NewMultiWriteSyncer(zapcore.AddSync(logFile), zapcore.AddSync(os.Stderr))
	core := zapcore.NewCore(newEncoder(jsonFormat), ws, level.zapLevel())

	logger := &Logger{zl: zap.New(core), logFile: logFile}
	logger.Info("Logger initialized", Fields{"path": path})
	return logger, nil
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{zl: zap.NewNop()}
}

func newEncoder(jsonFormat bool) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "message"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if jsonFormat {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func toZapFields(fields []Fields) []zap.Field {
	merged := Fields{}
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return nil
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, merged[k]))
	}
	return out
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...Fields) {
	l.zl.Debug(message, toZapFields(fields)...)
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...Fields) {
	l.zl.Info(message, toZapFields(fields)...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...Fields) {
	l.zl.Warn(message, toZapFields(fields)...)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...Fields) {
	l.zl.Error(message, toZapFields(fields)...)
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With(zap.Any(key, value)), logFile: l.logFile}
}

// Zap exposes the underlying zap logger
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// ParseLevel parses a log level string, defaulting to INFO
func ParseLevel(level string) Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Close flushes buffered entries and closes the log file if opened
func (l *Logger) Close() error {
	_ = l.zl.Sync()
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}
