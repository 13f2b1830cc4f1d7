package observability

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LogLevel represents log severity
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a LOG_LEVEL value to a level, defaulting to info
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is a leveled key/value logger with trace context support.
// Derived loggers share the output and level of their parent.
type Logger struct {
	out         *output
	minLevel    LogLevel
	fields      map[string]interface{}
	serviceName string
}

type output struct {
	mu     sync.Mutex
	logger *log.Logger
}

var defaultLogger *Logger
var loggerOnce sync.Once

// NewLogger creates a logger writing to w
func NewLogger(serviceName string, minLevel LogLevel, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{
		out:         &output{logger: log.New(w, "", 0)},
		minLevel:    minLevel,
		fields:      map[string]interface{}{},
		serviceName: serviceName,
	}
}

// GetLogger returns the process logger configured from SERVICE_NAME and LOG_LEVEL
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		serviceName := os.Getenv("SERVICE_NAME")
		if serviceName == "" {
			serviceName = "scanlog"
		}
		defaultLogger = NewLogger(serviceName, ParseLevel(os.Getenv("LOG_LEVEL")), os.Stdout)
	})
	return defaultLogger
}

// Discard returns a logger that drops everything; handy in tests
func Discard() *Logger {
	return NewLogger("discard", LevelError+1, io.Discard)
}

// SetOutput redirects the logger and every logger derived from it
func (l *Logger) SetOutput(w io.Writer) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.logger = log.New(w, "", 0)
}

// With returns a logger carrying the given key/value pairs
func (l *Logger) With(kv ...interface{}) *Logger {
	if len(kv) == 0 {
		return l
	}
	fields := make(map[string]interface{}, len(l.fields)+len(kv)/2)
	for k, v := range l.fields {
		fields[k] = v
	}
	addPairs(fields, kv)
	return &Logger{
		out:         l.out,
		minLevel:    l.minLevel,
		fields:      fields,
		serviceName: l.serviceName,
	}
}

// WithContext adds trace and span ids when ctx carries a sampled span
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return l
	}
	return l.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.log(LevelDebug, msg, kv) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.log(LevelInfo, msg, kv) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.log(LevelWarn, msg, kv) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.log(LevelError, msg, kv) }

// Enabled reports whether level would be written
func (l *Logger) Enabled(level LogLevel) bool {
	return level >= l.minLevel
}

func (l *Logger) log(level LogLevel, msg string, kv []interface{}) {
	if level < l.minLevel {
		return
	}

	_, file, line, _ := runtime.Caller(2)
	if idx := strings.LastIndex(file, "/"); idx >= 0 {
		file = file[idx+1:]
	}

	fields := l.fields
	if len(kv) > 0 {
		fields = make(map[string]interface{}, len(l.fields)+len(kv)/2)
		for k, v := range l.fields {
			fields[k] = v
		}
		addPairs(fields, kv)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s:%d %s", time.Now().Format("2006/01/02 15:04:05"), level, file, line, msg)
	for _, k := range sortedKeys(fields) {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}

	l.out.mu.Lock()
	l.out.logger.Println(b.String())
	l.out.mu.Unlock()
}

func addPairs(fields map[string]interface{}, kv []interface{}) {
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			fields[key] = "(missing)"
			break
		}
		fields[key] = kv[i+1]
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package-level shortcuts against the process logger

func Debug(msg string, kv ...interface{}) { GetLogger().log(LevelDebug, msg, kv) }
func Info(msg string, kv ...interface{})  { GetLogger().log(LevelInfo, msg, kv) }
func Warn(msg string, kv ...interface{})  { GetLogger().log(LevelWarn, msg, kv) }
func Error(msg string, kv ...interface{}) { GetLogger().log(LevelError, msg, kv) }

// Attribute helpers for span and metric labels

func DayKey(day string) attribute.KeyValue {
	return attribute.String("scan.day", day)
}

func Code(code string) attribute.KeyValue {
	return attribute.String("scan.code", code)
}

func Outcome(outcome string) attribute.KeyValue {
	return attribute.String("scan.outcome", outcome)
}

func Operation(op string) attribute.KeyValue {
	return attribute.String("operation", op)
}

func Duration(d time.Duration) attribute.KeyValue {
	return attribute.Int64("duration_ms", d.Milliseconds())
}
