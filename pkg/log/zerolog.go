package log

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Zerolog implements Logger using zerolog. The level can be changed
// while the logger is in use, which backs config hot reload.
type Zerolog struct {
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewZerolog creates a zerolog-backed logger writing to stderr with
// console formatting. Unknown levels fall back to info.
func NewZerolog(level string) *Zerolog {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).Level(lvl).With().Timestamp().Logger()
	return &Zerolog{logger: logger}
}

// NewZerologWithLogger creates an adapter wrapping an existing zerolog.Logger.
func NewZerologWithLogger(logger zerolog.Logger) *Zerolog {
	return &Zerolog{logger: logger}
}

// SetLevel changes the minimum emitted level. Unknown or empty levels
// leave the current level in place.
func (z *Zerolog) SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return
	}
	z.mu.Lock()
	z.logger = z.logger.Level(lvl)
	z.mu.Unlock()
}

// Debug logs a debug-level message.
func (z *Zerolog) Debug(msg string, fields ...Field) {
	l := z.current()
	z.emit(l.Debug(), msg, fields)
}

// Info logs an info-level message.
func (z *Zerolog) Info(msg string, fields ...Field) {
	l := z.current()
	z.emit(l.Info(), msg, fields)
}

// Warn logs a warning-level message.
func (z *Zerolog) Warn(msg string, fields ...Field) {
	l := z.current()
	z.emit(l.Warn(), msg, fields)
}

// Error logs an error-level message.
func (z *Zerolog) Error(msg string, fields ...Field) {
	l := z.current()
	z.emit(l.Error(), msg, fields)
}

// Logger returns the underlying zerolog.Logger.
func (z *Zerolog) Logger() zerolog.Logger {
	return z.current()
}

func (z *Zerolog) current() zerolog.Logger {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.logger
}

func (z *Zerolog) emit(event *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		event = addField(event, f)
	}
	event.Msg(msg)
}

func addField(event *zerolog.Event, f Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return event.Str(f.Key, v)
	case int:
		return event.Int(f.Key, v)
	case bool:
		return event.Bool(f.Key, v)
	case time.Duration:
		return event.Dur(f.Key, v)
	case time.Time:
		return event.Time(f.Key, v)
	case error:
		return event.Err(v)
	default:
		return event.Interface(f.Key, v)
	}
}
