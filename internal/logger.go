package internal

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

type FieldKey string

const (
	FieldError     FieldKey = "error"
	FieldMsg       FieldKey = "message"
	FieldAddr      FieldKey = "addr"
	FieldPort      FieldKey = "port"
	FieldPath      FieldKey = "path"
	FieldSession   FieldKey = "session_id"
	FieldSeq       FieldKey = "seq"
	FieldBytes     FieldKey = "bytes"
	FieldState     FieldKey = "state"
	FieldType      FieldKey = "type"
	FieldDigest    FieldKey = "digest"
	FieldAttempt   FieldKey = "attempt"
	FieldRtt       FieldKey = "rtt"
	ConfigPath     FieldKey = "config_path"
	ReceiptPath    FieldKey = "receipt_path"
	MetricsAddress FieldKey = "metrics_addr"
)

type Fields map[FieldKey]any

type Level = pterm.LogLevel

const (
	LevelTrace Level = pterm.LogLevelTrace
	LevelDebug Level = pterm.LogLevelDebug
	LevelInfo  Level = pterm.LogLevelInfo
	LevelWarn  Level = pterm.LogLevelWarn
	LevelError Level = pterm.LogLevelError
	LevelFatal Level = pterm.LogLevelFatal
)

var levelNames = map[string]Level{
	"trace":   LevelTrace,
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
	"fatal":   LevelFatal,
}

// sink is the process-wide logger. Transfers log from several goroutines at
// once; mu only guards swapping the logger, pterm serializes the writes.
var sink = struct {
	mu     sync.RWMutex
	logger *pterm.Logger
}{
	logger: pterm.DefaultLogger.
		WithTime(true).
		WithTimeFormat(time.RFC3339).
		WithMaxWidth(120).
		WithCaller(false).
		WithLevel(LevelInfo).
		AppendKeyStyles(map[string]pterm.Style{
			string(FieldError):  *pterm.NewStyle(pterm.FgRed, pterm.Bold),
			string(FieldDigest): *pterm.NewStyle(pterm.FgCyan),
		}),
}

// ConfigureLogger sets the level by name. Unknown names fall back to info
// and are reported so the caller can warn about them.
func ConfigureLogger(level string) error {
	level = strings.TrimSpace(strings.ToLower(level))
	if level == "" {
		SetLogLevel(LevelInfo)
		return nil
	}
	lvl, ok := levelNames[level]
	if !ok {
		SetLogLevel(LevelInfo)
		return fmt.Errorf("unknown log level %q", level)
	}
	SetLogLevel(lvl)
	return nil
}

func SetLogLevel(level Level) {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink.logger = sink.logger.WithLevel(level)
}

// SetLogOutput redirects log lines, e.g. to keep a progress bar readable.
func SetLogOutput(w io.Writer) {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink.logger = sink.logger.WithWriter(w)
}

func current() *pterm.Logger {
	sink.mu.RLock()
	defer sink.mu.RUnlock()
	return sink.logger
}

func emit(level Level, msg string, fields Fields) {
	logger := current()
	if level < logger.Level {
		return
	}
	args := loggerArgs(fields)

	switch level {
	case LevelTrace:
		logger.Trace(msg, args)
	case LevelDebug:
		logger.Debug(msg, args)
	case LevelWarn:
		logger.Warn(msg, args)
	case LevelError, LevelFatal:
		logger.Error(msg, args)
	default:
		logger.Info(msg, args)
	}
}

// loggerArgs orders fields by key so lines from the client and server line
// up when read side by side.
func loggerArgs(fields Fields) []pterm.LoggerArgument {
	if len(fields) == 0 {
		return nil
	}
	keys := slices.Sorted(maps.Keys(fields))
	args := make([]pterm.LoggerArgument, 0, len(keys))
	for _, k := range keys {
		args = append(args, pterm.LoggerArgument{Key: string(k), Value: fields[k]})
	}
	return args
}

func Debug(msg string, fields Fields) { emit(LevelDebug, msg, fields) }
func Info(msg string, fields Fields)  { emit(LevelInfo, msg, fields) }
func Warn(msg string, fields Fields)  { emit(LevelWarn, msg, fields) }
func Error(msg string, fields Fields) { emit(LevelError, msg, fields) }
