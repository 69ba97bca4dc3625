package util

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pterm/pterm"
)

// pionLoggerFactory routes pion's scoped loggers into the pterm logger.
// pion is chatty, so its levels are shifted down by one: pion Info shows up
// only with debug enabled and pion Debug/Trace map to pterm Trace.
type pionLoggerFactory struct{}

// NewPionLoggerFactory returns a logging.LoggerFactory for pion's SettingEngine.
func NewPionLoggerFactory() logging.LoggerFactory {
	return pionLoggerFactory{}
}

func (pionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{scope: scope}
}

type pionLogger struct {
	scope string
}

func (l *pionLogger) line(msg string) string {
	return "[pion/" + l.scope + "] " + msg
}

func (l *pionLogger) Trace(msg string) { pterm.DefaultLogger.Trace(l.line(msg)) }
func (l *pionLogger) Tracef(format string, args ...any) {
	l.Trace(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Debug(msg string) { pterm.DefaultLogger.Trace(l.line(msg)) }
func (l *pionLogger) Debugf(format string, args ...any) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Info(msg string) { pterm.DefaultLogger.Debug(l.line(msg)) }
func (l *pionLogger) Infof(format string, args ...any) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Warn(msg string) { pterm.DefaultLogger.Warn(l.line(msg)) }
func (l *pionLogger) Warnf(format string, args ...any) {
	l.Warn(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Error(msg string) { pterm.DefaultLogger.Error(l.line(msg)) }
func (l *pionLogger) Errorf(format string, args ...any) {
	l.Error(fmt.Sprintf(format, args...))
}
