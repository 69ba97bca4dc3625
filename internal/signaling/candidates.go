package signaling

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rtcsignal/internal/config"
)

// remoteCandidate is one decoded inbound candidate. eoc marks the
// end-of-candidates signal.
type remoteCandidate struct {
	init webrtc.ICECandidateInit
	eoc  bool
}

// pendingCandidates holds remote candidates that arrived before the engine
// could accept them, plus the single-fire trigger that releases them.
type pendingCandidates struct {
	items []remoteCandidate
	armed bool
}

// hold queues c and arms the trigger.
func (p *pendingCandidates) hold(c remoteCandidate) {
	p.items = append(p.items, c)
	p.armed = true
}

// fire disarms the trigger and hands back the queue in arrival order.
// It returns nil when the trigger is not armed.
func (p *pendingCandidates) fire() []remoteCandidate {
	if !p.armed {
		return nil
	}
	items := p.items
	p.items = nil
	p.armed = false
	return items
}

func (p *pendingCandidates) len() int { return len(p.items) }

// localGate decides when locally gathered candidates may leave. Candidates
// gathered while the gate is shut are buffered in order.
//
// Eager mode opens once the local description is set. Deferred mode also
// needs "reqice" to have been sent and received.
type localGate struct {
	mode config.Mode

	described bool
	reqSent   bool
	reqRecv   bool

	buf []*webrtc.ICECandidateInit
}

func (g *localGate) open() bool {
	if !g.described {
		return false
	}
	if g.mode == config.ModeDeferred {
		return g.reqSent && g.reqRecv
	}
	return true
}

// push returns the candidates to send now: c itself when the gate is open,
// otherwise nothing and c is buffered.
func (g *localGate) push(c *webrtc.ICECandidateInit) []*webrtc.ICECandidateInit {
	if g.open() {
		return []*webrtc.ICECandidateInit{c}
	}
	g.buf = append(g.buf, c)
	return nil
}

// release returns and clears the buffer if the gate is open.
func (g *localGate) release() []*webrtc.ICECandidateInit {
	if !g.open() {
		return nil
	}
	out := g.buf
	g.buf = nil
	return out
}
