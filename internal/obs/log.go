package obs

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu           sync.RWMutex
	base         = newLogger(os.Stdout)
	debugEnabled bool
)

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// EnableDebug globally enables debug logs.
func EnableDebug(v bool) {
	mu.Lock()
	defer mu.Unlock()
	debugEnabled = v
	if v {
		base = base.Level(zerolog.DebugLevel)
	} else {
		base = base.Level(zerolog.InfoLevel)
	}
}

// SetOutput redirects log lines to w, keeping the current level.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	lvl := zerolog.InfoLevel
	if debugEnabled {
		lvl = zerolog.DebugLevel
	}
	base = newLogger(w).Level(lvl)
}

type Fields map[string]any

func logWith(ev func(*zerolog.Logger) *zerolog.Event, msg string, f Fields) {
	mu.RLock()
	l := base
	mu.RUnlock()
	e := ev(&l)
	if e == nil {
		return
	}
	e.Fields(map[string]any(f)).Msg(msg)
}

func Info(msg string, f Fields)  { logWith((*zerolog.Logger).Info, msg, f) }
func Error(msg string, f Fields) { logWith((*zerolog.Logger).Error, msg, f) }
func Debug(msg string, f Fields) { logWith((*zerolog.Logger).Debug, msg, f) }
