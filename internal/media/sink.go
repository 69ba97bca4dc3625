// Package media consumes remote tracks announced during negotiation. It
// reads and accounts RTP; decoding and rendering are left to others.
package media

import (
	"errors"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rtcsignal/internal/util"
)

const rtcpBufferSize = 1500

// Sink reads every remote track it is handed until the track ends.
type Sink struct {
	mu     sync.Mutex
	tracks map[webrtc.SSRC]*TrackStats
}

// NewSink creates an empty Sink.
func NewSink() *Sink {
	return &Sink{tracks: make(map[webrtc.SSRC]*TrackStats)}
}

// Handle matches signaling.TrackHandler. It blocks until the track ends.
func (s *Sink) Handle(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	codec := track.Codec()
	util.LogInfo("remote %s track: id=%s stream=%s codec=%s ssrc=%d",
		track.Kind(), track.ID(), track.StreamID(), codec.MimeType, track.SSRC())

	st := s.stats(track.SSRC())

	// RTCP must be read for interceptors (NACK, reports) to make progress.
	if receiver != nil {
		go drainRTCP(receiver)
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				util.LogDebug("track %s read stopped: %v", track.ID(), err)
			}
			break
		}
		st.Observe(pkt)
		util.Stats.AddRTP(len(pkt.Payload))
	}

	util.LogInfo("remote %s track %s ended: %s", track.Kind(), track.ID(), st.Snapshot())
}

// Stats returns a snapshot of the counters for ssrc.
func (s *Sink) Stats(ssrc webrtc.SSRC) (Counters, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tracks[ssrc]
	if !ok {
		return Counters{}, false
	}
	return st.Snapshot(), true
}

func (s *Sink) stats(ssrc webrtc.SSRC) *TrackStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tracks[ssrc]
	if !ok {
		st = &TrackStats{}
		s.tracks[ssrc] = st
	}
	return st
}

// drainRTCP reads RTCP from the receiver until it is closed.
func drainRTCP(receiver *webrtc.RTPReceiver) {
	buf := make([]byte, rtcpBufferSize)
	for {
		if _, _, err := receiver.Read(buf); err != nil {
			return
		}
	}
}
