// Package logger is the structured, leveled logger shared by every
// component. It is call-compatible with the standard library's slog
// package (the same Debug/Info/Warn/Error(msg, kv...) and With(kv...)
// shapes, the same Handler/HandlerOptions construction pattern) so the
// rest of the tree reads exactly as it would against slog, but every
// record is produced through a *logrus.Entry underneath.
package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Environment variable name for log level configuration.
const envLogLevel = "RTMP_LOG_LEVEL"

// Severity is a leveled-logging threshold, numerically compatible with
// slog.Level (Debug=-4, Info=0, Warn=4, Error=8) so comparisons and the
// handful of arithmetic call sites elsewhere in the tree keep working.
type Severity int

const (
	LevelDebug Severity = -4
	LevelInfo  Severity = 0
	LevelWarn  Severity = 4
	LevelError Severity = 8
)

func (s Severity) String() string {
	switch {
	case s < LevelInfo:
		return "DEBUG"
	case s < LevelWarn:
		return "INFO"
	case s < LevelError:
		return "WARN"
	default:
		return "ERROR"
	}
}

// Level implements Leveler so a bare Severity value can be used directly
// as a HandlerOptions.Level, mirroring slog.Level's self-Leveler trick.
func (s Severity) Level() Severity { return s }

// Leveler is satisfied by anything reporting a current Severity.
type Leveler interface{ Level() Severity }

func toLogrusLevel(s Severity) logrus.Level {
	switch {
	case s < LevelInfo:
		return logrus.DebugLevel
	case s < LevelWarn:
		return logrus.InfoLevel
	case s < LevelError:
		return logrus.WarnLevel
	default:
		return logrus.ErrorLevel
	}
}

// dynamicLevel is an atomically mutable Leveler; SetLevel mutates the one
// instance the global logger's handler was built with.
type dynamicLevel struct{ v int64 }

func (d *dynamicLevel) Level() Severity { return Severity(atomic.LoadInt64(&d.v)) }
func (d *dynamicLevel) set(s Severity)  { atomic.StoreInt64(&d.v, int64(s)) }

var atomicLevel = &dynamicLevel{v: int64(LevelInfo)}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Level     Leveler
	AddSource bool
}

// Handler pairs an output writer with an encoding. Logger is built from
// one via New, mirroring slog.New(slog.NewXHandler(...)).
type Handler struct {
	writer    io.Writer
	formatter logrus.Formatter
	level     Leveler
}

// NewJSONHandler builds a Handler that renders one JSON object per record.
func NewJSONHandler(w io.Writer, opts *HandlerOptions) *Handler {
	return &Handler{writer: w, formatter: jsonFormatter{}, level: handlerLevel(opts)}
}

// NewTextHandler builds a Handler that renders key=value text lines.
func NewTextHandler(w io.Writer, opts *HandlerOptions) *Handler {
	return &Handler{writer: w, formatter: textFormatter{}, level: handlerLevel(opts)}
}

func handlerLevel(opts *HandlerOptions) Leveler {
	if opts == nil || opts.Level == nil {
		return atomicLevel
	}
	return opts.Level
}

// Logger is a structured logger backed by a *logrus.Entry.
type Logger struct {
	entry *logrus.Entry
	level Leveler
}

// New builds a Logger from a Handler, mirroring slog.New.
func New(h *Handler) *Logger {
	if h == nil {
		h = NewJSONHandler(os.Stdout, nil)
	}
	lg := logrus.New()
	lg.SetOutput(h.writer)
	lg.SetFormatter(h.formatter)
	lg.SetLevel(logrus.TraceLevel) // level gating happens in Logger.enabled so it stays dynamic
	return &Logger{entry: logrus.NewEntry(lg), level: h.level}
}

func (l *Logger) enabled(s Severity) bool {
	if l == nil || l.level == nil {
		return true
	}
	return s >= l.level.Level()
}

// With returns a child Logger carrying the given key/value pairs as
// structured fields on every subsequent record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{entry: l.entry.WithFields(fieldsFrom(args)), level: l.level}
}

func (l *Logger) log(s Severity, lvl logrus.Level, msg string, args []any) {
	if !l.enabled(s) {
		return
	}
	e := l.entry
	if len(args) > 0 {
		e = e.WithFields(fieldsFrom(args))
	}
	e.Log(lvl, msg)
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, toLogrusLevel(LevelDebug), msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, toLogrusLevel(LevelInfo), msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, toLogrusLevel(LevelWarn), msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, toLogrusLevel(LevelError), msg, args) }

func fieldsFrom(args []any) logrus.Fields {
	f := make(logrus.Fields, len(args)/2+1)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		f[key] = args[i+1]
	}
	if len(args)%2 == 1 {
		f["!BADKEY"] = args[len(args)-1]
	}
	return f
}

// jsonFormatter renders one compact JSON object per record with
// slog-shaped field names (level/msg/time), uppercase level strings.
type jsonFormatter struct{}

func (jsonFormatter) Format(e *logrus.Entry) ([]byte, error) {
	data := make(logrus.Fields, len(e.Data)+3)
	for k, v := range e.Data {
		data[k] = v
	}
	data["level"] = strings.ToUpper(e.Level.String())
	data["msg"] = e.Message
	data["time"] = e.Time.Format(time.RFC3339Nano)
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// textFormatter renders level=value key=value lines, sorted by key for
// deterministic output.
type textFormatter struct{}

func (textFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "time=%s level=%s msg=%q", e.Time.Format(time.RFC3339), strings.ToUpper(e.Level.String()), e.Message)
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, " %s=%v", k, e.Data[k])
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

var (
	global   *Logger
	initOnce sync.Once
)

// Init initializes the global logger exactly once.
func Init() {
	initOnce.Do(func() {
		lvl := detectLevel()
		atomicLevel.set(lvl)
		global = New(NewJSONHandler(os.Stdout, &HandlerOptions{Level: atomicLevel}))
	})
}

// detectLevel resolves the initial log level from (precedence high→low):
//  1. environment variable RTMP_LOG_LEVEL
//  2. a "-log.level=" / "--log.level=" argument in os.Args
//  3. default (info)
func detectLevel() Severity {
	if v := strings.TrimSpace(os.Getenv(envLogLevel)); v != "" {
		if lvl, ok := parseLevel(v); ok {
			return lvl
		}
	}
	for _, arg := range os.Args[1:] {
		for _, prefix := range []string{"-log.level=", "--log.level="} {
			if strings.HasPrefix(arg, prefix) {
				if lvl, ok := parseLevel(strings.TrimPrefix(arg, prefix)); ok {
					return lvl
				}
			}
		}
	}
	return LevelInfo
}

// parseLevel converts a string to a Severity.
func parseLevel(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, true
	case "info", "":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error", "err":
		return LevelError, true
	}
	return 0, false
}

// SetLevel changes the runtime log level.
func SetLevel(level string) error {
	Init()
	lvl, ok := parseLevel(level)
	if !ok {
		return fmt.Errorf("invalid log level: %s", level)
	}
	atomicLevel.set(lvl)
	return nil
}

// Level returns the current runtime level as a string.
func Level() string {
	Init()
	return atomicLevel.Level().String()
}

// UseWriter swaps the global logger's output writer (intended for
// tests). Retains the current runtime level.
func UseWriter(w io.Writer) {
	Init()
	global = New(NewJSONHandler(w, &HandlerOptions{Level: atomicLevel}))
}

// L returns the global logger, ensuring Init was called.
func L() *Logger { Init(); return global }

// Default mirrors slog.Default for call sites that only need a
// logger instance and don't care whether it was explicitly supplied.
func Default() *Logger { return L() }

// Convenience top-level logging functions.
func Debug(msg string, args ...any) { L().Debug(msg, args...) }
func Info(msg string, args ...any)  { L().Info(msg, args...) }
func Warn(msg string, args ...any)  { L().Warn(msg, args...) }
func Error(msg string, args ...any) { L().Error(msg, args...) }

// WithConn attaches connection identity fields.
func WithConn(l *Logger, connID, peerAddr string) *Logger {
	return l.With("conn_id", connID, "peer_addr", peerAddr)
}

// WithStream attaches the stream key.
func WithStream(l *Logger, streamKey string) *Logger {
	return l.With("stream_key", streamKey)
}

// WithMessageMeta attaches message metadata fields. Timestamp is an RTMP
// timestamp in milliseconds if provided (>0); if ts==0 it uses the
// current wall-clock time in milliseconds.
func WithMessageMeta(l *Logger, msgType string, csid int, msid uint32, ts uint32) *Logger {
	if ts == 0 {
		ms := uint32(time.Now().UnixMilli() & 0xFFFFFFFF)
		return l.With("msg_type", msgType, "csid", csid, "msid", msid, "timestamp", ms)
	}
	return l.With("msg_type", msgType, "csid", csid, "msid", msid, "timestamp", ts)
}
