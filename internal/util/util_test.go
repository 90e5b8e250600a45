package util

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pterm/pterm"
)

func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{100 * 1024, " 0.1 MiB"},
	}
	for _, tc := range testCases {
		if got := formatBytes(tc.in); got != tc.want {
			t.Errorf("formatBytes(%v) = %q, want %q", tc.in, got, tc.want)
		}
		if got := formatBytes(tc.in); len(got) != 8 {
			t.Errorf("formatBytes(%v) = %q is not 8 chars", tc.in, got)
		}
	}
}

func TestFormatStats(t *testing.T) {
	var s TrafficStats
	prev := s.Snapshot()

	if _, active := formatStats(prev, s.Snapshot(), time.Second); active {
		t.Error("idle interval reported as active")
	}

	s.OpenChannel()
	s.AddMessageSent()
	s.AddSent(2048)
	line, active := formatStats(prev, s.Snapshot(), time.Second)
	if !active {
		t.Fatal("interval with traffic reported as idle")
	}
	if !strings.Contains(line, " 2.0 KiB/s") || !strings.Contains(line, " 1+") {
		t.Errorf("unexpected line %q", line)
	}
}

func TestLoggerFactory(t *testing.T) {
	log := LoggerFactory{}.NewLogger("sctp")
	log.Debugf("state change: '%s' => '%s'", "Closed", "CookieWait")
	log.Trace("not shown at the default level")
}

func TestSetLevel(t *testing.T) {
	prev := pterm.DefaultLogger.Level
	t.Cleanup(func() { pterm.DefaultLogger.Level = prev })

	if err := SetLevel(" Debug "); err != nil {
		t.Fatalf("SetLevel(Debug) error = %v", err)
	}
	if pterm.DefaultLogger.Level != pterm.LogLevelDebug {
		t.Errorf("level = %v, want debug", pterm.DefaultLogger.Level)
	}

	EnableTrace()
	if pterm.DefaultLogger.Level != pterm.LogLevelTrace {
		t.Errorf("level = %v, want trace", pterm.DefaultLogger.Level)
	}

	if err := SetLevel("verbose"); !errors.Is(err, ErrUnknownLevel) {
		t.Errorf("SetLevel(verbose) error = %v, want %v", err, ErrUnknownLevel)
	}
	if pterm.DefaultLogger.Level != pterm.LogLevelTrace {
		t.Error("failed SetLevel changed the level")
	}
}
