// Package util provides the shared logging and traffic statistics helpers.
package util

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
)

// ErrUnknownLevel is returned by SetLevel for a name it does not know.
var ErrUnknownLevel = errors.New("util: unknown log level")

var levels = map[string]pterm.LogLevel{
	"trace": pterm.LogLevelTrace,
	"debug": pterm.LogLevelDebug,
	"info":  pterm.LogLevelInfo,
	"warn":  pterm.LogLevelWarn,
	"error": pterm.LogLevelError,
}

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled helpers for the CLI and the signaling layer. Protocol packages
// log through LoggerFactory instead; both end up in pterm.DefaultLogger
// (stderr).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

// LogSuccess marks a milestone (association up, channel open) with pterm's
// success prefix.
func LogSuccess(format string, args ...interface{}) {
	pterm.Success.Println(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// SetLevel sets the minimum level by name: trace, debug, info, warn or error.
func SetLevel(name string) error {
	level, ok := levels[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownLevel)
	}
	pterm.DefaultLogger.Level = level
	return nil
}

// EnableDebug shows debug messages.
func EnableDebug() { _ = SetLevel("debug") }

// EnableTrace shows everything, including per-chunk protocol traces.
func EnableTrace() { _ = SetLevel("trace") }
