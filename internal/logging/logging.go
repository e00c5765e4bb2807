// Package logging configures the process-wide zerolog logger: format
// selection (json/console/auto), level parsing, an optional rolling file
// sink, and a broadcaster so the HTTP layer can stream recent log lines to
// connected operators.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

const defaultTimeFmt = "2006-01-02T15:04:05.000Z07:00"

// Config controls Init. Format is one of "json", "console", "auto" (console
// when stderr is a terminal, json otherwise). FilePath, MaxSizeMB,
// MaxAgeDays and Compress configure an optional rolling file sink; leaving
// FilePath empty disables it.
type Config struct {
	Format     string
	Level      string
	Component  string
	FilePath   string
	MaxSizeMB  int
	MaxAgeDays int
	Compress   bool
}

var (
	mu            sync.RWMutex
	baseWriter    io.Writer = os.Stderr
	baseComponent string
	baseLogger    = zerolog.New(os.Stderr).With().Timestamp().Logger()

	nowFn        = time.Now
	isTerminalFn = term.IsTerminal
	mkdirAllFn   = os.MkdirAll
	openFileFn   = os.OpenFile
	openFn       = os.Open
	statFn       = os.Stat
	readDirFn    = os.ReadDir
	renameFn     = os.Rename
	removeFn     = os.Remove
	copyFn       = io.Copy

	statFileFn  = defaultStatFileFn
	closeFileFn = defaultCloseFileFn
	compressFn  = compressAndRemove

	broadcaster = newLogBroadcaster()
)

// Init (re)configures the global zerolog logger. Safe to call repeatedly
// and concurrently; later calls replace the active writer and level.
func Init(cfg Config) {
	zerolog.TimeFieldFormat = defaultTimeFmt
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	writers := []io.Writer{selectWriter(cfg.Format), broadcaster}
	if fw, err := newRollingFileWriter(cfg); err != nil {
		log.Error().Err(err).Msg("failed to initialize rolling file writer")
	} else if fw != nil {
		writers = append(writers, fw)
	}

	mu.Lock()
	defer mu.Unlock()

	baseComponent = cfg.Component
	baseWriter = io.MultiWriter(writers...)
	ctx := zerolog.New(baseWriter).With().Timestamp()
	if baseComponent != "" {
		ctx = ctx.Str("component", baseComponent)
	}
	baseLogger = ctx.Logger()
	log.Logger = baseLogger
}

// Broadcaster exposes the process-wide log broadcaster so an HTTP handler
// can subscribe to a live tail.
func Broadcaster() *LogBroadcaster {
	return broadcaster
}

func selectWriter(format string) io.Writer {
	switch format {
	case "json":
		return os.Stderr
	case "console":
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: defaultTimeFmt}
	case "auto":
		if isTerminal(os.Stderr) {
			return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: defaultTimeFmt}
		}
		return os.Stderr
	default:
		return os.Stderr
	}
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isTerminalFn(int(f.Fd()))
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// IsLevelEnabled reports whether a log line at level would currently be
// emitted, given the global level set by the last Init call.
func IsLevelEnabled(level zerolog.Level) bool {
	return level >= zerolog.GlobalLevel()
}

type requestIDKey struct{}

// WithRequestID attaches a request id to ctx, generating one if id is
// empty or all-whitespace. A nil ctx is treated as context.Background().
func WithRequestID(ctx context.Context, id string) (context.Context, string) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		trimmed = uuid.NewString()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey{}, trimmed), trimmed
}

// RequestIDFromContext returns the request id stashed by WithRequestID, if
// any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok
}
