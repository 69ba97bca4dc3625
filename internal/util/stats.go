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

// Stats is the process-wide signaling/media counter.
var Stats = &stats{}

type stats struct {
	MessagesIn        atomic.Int64 // signaling messages received
	MessagesOut       atomic.Int64 // signaling messages sent
	UnknownKinds      atomic.Int64 // inbound messages with an unrecognized kind
	CandidatesSent    atomic.Int64 // local candidates forwarded to the peer
	CandidatesApplied atomic.Int64 // remote candidates handed to the engine
	CandidatesQueued  atomic.Int64 // remote candidates deferred until stable
	Tracks            atomic.Int64 // remote tracks announced by the engine
	RTPPackets        atomic.Int64 // RTP packets read from remote tracks
	RTPBytes          atomic.Int64 // RTP payload bytes read from remote tracks
}

func (s *stats) AddIn()               { s.MessagesIn.Add(1) }
func (s *stats) AddOut()              { s.MessagesOut.Add(1) }
func (s *stats) AddUnknown()          { s.UnknownKinds.Add(1) }
func (s *stats) AddCandidateSent()    { s.CandidatesSent.Add(1) }
func (s *stats) AddCandidateApplied() { s.CandidatesApplied.Add(1) }
func (s *stats) AddCandidateQueued()  { s.CandidatesQueued.Add(1) }
func (s *stats) AddTrack()            { s.Tracks.Add(1) }

func (s *stats) AddRTP(n int) {
	s.RTPPackets.Add(1)
	s.RTPBytes.Add(int64(n))
}

// Reset zeroes every counter.
func (s *stats) Reset() {
	for _, c := range []*atomic.Int64{
		&s.MessagesIn, &s.MessagesOut, &s.UnknownKinds,
		&s.CandidatesSent, &s.CandidatesApplied, &s.CandidatesQueued,
		&s.Tracks, &s.RTPPackets, &s.RTPBytes,
	} {
		c.Store(0)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs media throughput every
// interval while anything is flowing. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevBytes, prevPkts int64
		for {
			select {
			case <-ticker.C:
				bytes := Stats.RTPBytes.Load()
				pkts := Stats.RTPPackets.Load()

				rate := float64(bytes-prevBytes) / secs
				pps := float64(pkts-prevPkts) / secs

				if pkts != prevPkts {
					pterm.DefaultLogger.Info(formatStats(rate, pps, Stats.Tracks.Load()))
				}

				prevBytes = bytes
				prevPkts = pkts

			case <-ctx.Done():
				return
			}
		}
	}()
}

// Summary returns a one-line description of the signaling counters.
func Summary() string {
	return fmt.Sprintf("msgs %d in / %d out | candidates %d sent, %d applied, %d queued | unknown %d",
		Stats.MessagesIn.Load(),
		Stats.MessagesOut.Load(),
		Stats.CandidatesSent.Load(),
		Stats.CandidatesApplied.Load(),
		Stats.CandidatesQueued.Load(),
		Stats.UnknownKinds.Load(),
	)
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string,
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns the media line shown by the reporter.
func formatStats(rate, pps float64, tracks int64) string {
	return fmt.Sprintf("Media: %s/s | %5.0f pkt/s | Tracks: %d",
		formatBytes(rate),
		pps,
		tracks,
	)
}
