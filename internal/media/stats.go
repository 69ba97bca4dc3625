package media

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

// Counters is a point-in-time copy of a track's RTP accounting.
type Counters struct {
	Packets    int64
	Bytes      int64
	Lost       int64
	Late       int64
	Duplicates int64
}

func (c Counters) String() string {
	return fmt.Sprintf("%d packets, %d bytes, %d lost, %d late, %d duplicate",
		c.Packets, c.Bytes, c.Lost, c.Late, c.Duplicates)
}

// seenWindow is how many sequence numbers behind the highest one are
// remembered for duplicate detection.
const seenWindow = 64

// TrackStats counts the RTP packets of one track. Loss is estimated from
// sequence number gaps; a late packet fills the gap it left behind. Repeats
// within seenWindow of the highest sequence number count as duplicates; a
// packet older than that counts as late and leaves Lost unchanged, since it
// cannot be told apart from a repeat.
type TrackStats struct {
	mu sync.Mutex
	c  Counters

	started bool
	highest uint16
	seen    uint64 // bit i set: highest-i was received
}

// Observe accounts one packet.
func (s *TrackStats) Observe(pkt *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.Packets++
	s.c.Bytes += int64(len(pkt.Payload))

	seq := pkt.SequenceNumber
	if !s.started {
		s.started = true
		s.highest = seq
		s.seen = 1
		return
	}

	// int16 difference handles wrap-around at 65535.
	switch diff := int(int16(seq - s.highest)); {
	case diff > 0:
		s.c.Lost += int64(diff) - 1
		s.highest = seq
		if diff >= seenWindow {
			s.seen = 1
		} else {
			s.seen = s.seen<<diff | 1
		}
	case diff == 0:
		s.c.Duplicates++
	case -diff >= seenWindow:
		s.c.Late++
	default:
		bit := uint64(1) << -diff
		if s.seen&bit != 0 {
			s.c.Duplicates++
			return
		}
		s.seen |= bit
		s.c.Late++
		if s.c.Lost > 0 {
			s.c.Lost--
		}
	}
}

// Snapshot returns the current counters.
func (s *TrackStats) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}
