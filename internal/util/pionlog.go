package util

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pterm/pterm"
)

// LoggerFactory hands pion-style leveled loggers to the protocol packages.
// Every logger writes through pterm.DefaultLogger, so the CLI has a single
// sink and a single level switch.
type LoggerFactory struct{}

var _ logging.LoggerFactory = LoggerFactory{}

// NewLogger returns a logger that tags each line with scope.
func (LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{scope: scope}
}

type scopedLogger struct {
	scope string
}

func (l *scopedLogger) args() []pterm.LoggerArgument {
	return pterm.DefaultLogger.Args("scope", l.scope)
}

func (l *scopedLogger) Trace(msg string) { pterm.DefaultLogger.Trace(msg, l.args()) }
func (l *scopedLogger) Debug(msg string) { pterm.DefaultLogger.Debug(msg, l.args()) }
func (l *scopedLogger) Info(msg string)  { pterm.DefaultLogger.Info(msg, l.args()) }
func (l *scopedLogger) Warn(msg string)  { pterm.DefaultLogger.Warn(msg, l.args()) }
func (l *scopedLogger) Error(msg string) { pterm.DefaultLogger.Error(msg, l.args()) }

func (l *scopedLogger) Tracef(format string, args ...interface{}) { l.Trace(fmt.Sprintf(format, args...)) }
func (l *scopedLogger) Debugf(format string, args ...interface{}) { l.Debug(fmt.Sprintf(format, args...)) }
func (l *scopedLogger) Infof(format string, args ...interface{})  { l.Info(fmt.Sprintf(format, args...)) }
func (l *scopedLogger) Warnf(format string, args ...interface{})  { l.Warn(fmt.Sprintf(format, args...)) }
func (l *scopedLogger) Errorf(format string, args ...interface{}) { l.Error(fmt.Sprintf(format, args...)) }
