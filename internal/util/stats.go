package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// Stats is the process-wide traffic/channel counter.
var Stats = &TrafficStats{}

// TrafficStats counts channel and datagram activity. The zero value is
// ready to use; every field is safe for concurrent use.
type TrafficStats struct {
	ChannelsOpened atomic.Int64 // cumulative channels that reached Open
	ChannelsClosed atomic.Int64 // cumulative channels that reached Closed
	MessagesSent   atomic.Int64 // application messages handed to the association
	MessagesRecv   atomic.Int64 // application messages delivered to the user
	BytesSent      atomic.Int64 // datagram bytes written to the wire
	BytesRecv      atomic.Int64 // datagram bytes read from the wire
}

func (s *TrafficStats) OpenChannel()    { s.ChannelsOpened.Add(1) }
func (s *TrafficStats) CloseChannel()   { s.ChannelsClosed.Add(1) }
func (s *TrafficStats) AddMessageSent() { s.MessagesSent.Add(1) }
func (s *TrafficStats) AddMessageRecv() { s.MessagesRecv.Add(1) }
func (s *TrafficStats) AddSent(n int)   { s.BytesSent.Add(int64(n)) }
func (s *TrafficStats) AddRecv(n int)   { s.BytesRecv.Add(int64(n)) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	ChannelsOpened int64 `json:"channels_opened"`
	ChannelsClosed int64 `json:"channels_closed"`
	MessagesSent   int64 `json:"messages_sent"`
	MessagesRecv   int64 `json:"messages_recv"`
	BytesSent      int64 `json:"bytes_sent"`
	BytesRecv      int64 `json:"bytes_recv"`
}

// Snapshot reads every counter.
func (s *TrafficStats) Snapshot() Snapshot {
	return Snapshot{
		ChannelsOpened: s.ChannelsOpened.Load(),
		ChannelsClosed: s.ChannelsClosed.Load(),
		MessagesSent:   s.MessagesSent.Load(),
		MessagesRecv:   s.MessagesRecv.Load(),
		BytesSent:      s.BytesSent.Load(),
		BytesRecv:      s.BytesRecv.Load(),
	}
}

// StartStatsReporter launches a goroutine that logs s every interval while
// there is traffic. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, s *TrafficStats, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := s.Snapshot()
		for {
			select {
			case <-ticker.C:
				cur := s.Snapshot()
				if line, active := formatStats(prev, cur, interval); active {
					pterm.DefaultLogger.Info(line)
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders the change between two snapshots and reports whether
// anything happened worth logging.
func formatStats(prev, cur Snapshot, interval time.Duration) (string, bool) {
	secs := interval.Seconds()
	outS := float64(cur.BytesSent-prev.BytesSent) / secs
	inS := float64(cur.BytesRecv-prev.BytesRecv) / secs
	msgOut := cur.MessagesSent - prev.MessagesSent
	msgIn := cur.MessagesRecv - prev.MessagesRecv
	opened := cur.ChannelsOpened - prev.ChannelsOpened
	closed := cur.ChannelsClosed - prev.ChannelsClosed

	line := fmt.Sprintf("In: %s/s | Out: %s/s | Msg: %3d↓ %3d↑ | Chan: %2d+ %2d-",
		formatBytes(inS),
		formatBytes(outS),
		msgIn,
		msgOut,
		opened,
		closed,
	)
	return line, msgIn > 0 || msgOut > 0 || opened > 0 || closed > 0
}
