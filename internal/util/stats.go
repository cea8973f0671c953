package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide datagram counter.
var Stats = &stats{}

type stats struct {
	DatagramsSent atomic.Int64 // datagrams handed to the socket
	DatagramsRecv atomic.Int64 // datagrams read from the socket
	BytesSent     atomic.Int64 // wire bytes sent, after compression
	BytesRecv     atomic.Int64 // wire bytes received, before decompression
	Dropped       atomic.Int64 // inbound datagrams discarded as malformed or unexpected
	Compressed    atomic.Int64 // outbound datagrams that went out compressed
	Participants  atomic.Int64 // participants currently known to the local controller
}

func (s *stats) AddSent(n int) {
	s.DatagramsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.DatagramsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

func (s *stats) AddDropped()           { s.Dropped.Add(1) }
func (s *stats) AddCompressed()        { s.Compressed.Add(1) }
func (s *stats) SetParticipants(n int) { s.Participants.Store(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs lobby traffic every
// 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevDropped int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				dropped := Stats.Dropped.Load()

				outS := float64(sent-prevSent) / 10.0
				inS := float64(recv-prevRecv) / 10.0
				drops := dropped - prevDropped

				if inS > 0 || outS > 0 || drops > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, drops, Stats.Participants.Load()))
				}

				prevSent = sent
				prevRecv = recv
				prevDropped = dropped

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

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, drops, players int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Dropped: %3d | Players: %2d",
		formatBytes(inS),
		formatBytes(outS),
		drops,
		players,
	)
}
