// Package gwlog is the gateway's structured logging façade: every other
// package logs through an *izerolog.Event-backed logiface.Logger, never
// through the standard library's log package.
package gwlog

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger is a type alias so callers can write gwlog.Logger without spelling
// out the event type parameter everywhere.
type Logger = logiface.Logger[*izerolog.Event]

// New builds a Logger writing newline-delimited JSON to w at the given
// minimum level.
func New(w io.Writer, level logiface.Level) *Logger {
	zl := zerolog.New(w).With().Timestamp().Logger()
	return logiface.New[*izerolog.Event](
		izerolog.WithZerolog(zl),
		logiface.WithLevel[*izerolog.Event](level),
	)
}

// Default is a process-wide logger writing to stderr at Informational
// level. cmd/pseqgw does not use it: it builds its own Logger with New at the
// configured level and hands that one to the dispatcher and transport.
var Default = New(os.Stderr, logiface.LevelInformational)

// ParseLevel maps a config-file level name to logiface.Level.
func ParseLevel(name string) (logiface.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info", "informational":
		return logiface.LevelInformational, nil
	case "debug":
		return logiface.LevelDebug, nil
	case "trace":
		return logiface.LevelTrace, nil
	case "warning", "warn":
		return logiface.LevelWarning, nil
	case "error":
		return logiface.LevelError, nil
	case "notice":
		return logiface.LevelNotice, nil
	case "critical":
		return logiface.LevelCritical, nil
	case "alert":
		return logiface.LevelAlert, nil
	case "emergency":
		return logiface.LevelEmergency, nil
	default:
		return 0, fmt.Errorf("gwlog: unknown log level %q", name)
	}
}
