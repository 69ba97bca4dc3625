// Package util provides logging, counters and other shared helpers.
package util

import (
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by the pterm default logger.
// All output goes to stderr unless redirected with SetOutput.

func LogDebug(format string, args ...any) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...any) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...any) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// SetOutput redirects the logger. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	pterm.DefaultLogger.Writer = w
}

// Logger attaches a fixed set of key/value pairs to every line, e.g. the
// session id of one negotiation.
type Logger struct {
	kv []any
}

// Scoped returns a Logger that appends kv to every entry.
func Scoped(kv ...any) *Logger {
	return &Logger{kv: kv}
}

func (l *Logger) args() [][]pterm.LoggerArgument {
	if l == nil || len(l.kv) == 0 {
		return nil
	}
	return [][]pterm.LoggerArgument{pterm.DefaultLogger.Args(l.kv...)}
}

func (l *Logger) Debug(format string, args ...any) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...), l.args()...)
}

func (l *Logger) Info(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...), l.args()...)
}

func (l *Logger) Warn(format string, args ...any) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...), l.args()...)
}

func (l *Logger) Error(format string, args ...any) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...), l.args()...)
}
