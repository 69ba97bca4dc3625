// Package transport wraps the pion PeerConnection used as the negotiation
// engine of one session.
package transport

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rtcsignal/internal/util"
)

// Transport wraps a single PeerConnection on the answering side.
//
// Its lifecycle follows the PeerConnection state and the context passed at
// construction time: Connected fires on the first "connected" state, Done
// fires on "failed", "closed" or cancellation.
type Transport struct {
	pc *webrtc.PeerConnection

	ctx    context.Context
	cancel context.CancelFunc

	connected chan struct{}
	connOnce  sync.Once

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
	onState func(webrtc.PeerConnectionState)

	closeOnce sync.Once
	closeErr  error
}

// New creates a Transport backed by a fresh PeerConnection. The caller
// performs signaling through the exposed methods.
func New(ctx context.Context, opts Options) (*Transport, error) {
	pc, err := newPeerConnection(opts)
	if err != nil {
		return nil, err
	}

	tCtx, tCancel := context.WithCancel(ctx)

	t := &Transport{
		pc:        pc,
		ctx:       tCtx,
		cancel:    tCancel,
		connected: make(chan struct{}),
		pcState:   webrtc.PeerConnectionStateNew,
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())

		t.mu.Lock()
		t.pcState = state
		fn := t.onState
		t.mu.Unlock()

		switch state {
		case webrtc.PeerConnectionStateConnected:
			t.connOnce.Do(func() { close(t.connected) })
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			tCancel()
		}

		if fn != nil {
			fn(state)
		}
	})

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Connected returns a channel that is closed once ICE and DTLS succeed.
func (t *Transport) Connected() <-chan struct{} {
	return t.connected
}

// Done returns a channel that is closed when the Transport is shut down
// (connection failed or closed, or parent context cancelled).
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close shuts down the PeerConnection. Safe to call multiple times.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		t.closeErr = t.pc.Close()
	})
	return t.closeErr
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateAnswer generates an SDP answer for the applied remote offer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP and starts candidate gathering.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// LocalDescription returns the pending or current local description.
func (t *Transport) LocalDescription() *webrtc.SessionDescription {
	return t.pc.LocalDescription()
}

// RemoteDescription returns the pending or current remote description.
func (t *Transport) RemoteDescription() *webrtc.SessionDescription {
	return t.pc.RemoteDescription()
}

// SignalingState returns the engine's signaling state.
func (t *Transport) SignalingState() webrtc.SignalingState {
	return t.pc.SignalingState()
}

// OnICECandidate registers a callback invoked for every gathered local
// candidate. A nil candidate signals the end of gathering.
func (t *Transport) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			fn(nil)
			return
		}
		init := c.ToJSON()
		fn(&init)
	})
}

// AddICECandidate adds a remote ICE candidate received through signaling.
// An empty candidate line marks the end of remote candidates.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// OnSignalingStateChange registers the signaling state observer.
func (t *Transport) OnSignalingStateChange(fn func(webrtc.SignalingState)) {
	t.pc.OnSignalingStateChange(fn)
}

// OnConnectionStateChange registers an observer in addition to the
// Transport's own lifecycle tracking.
func (t *Transport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

// OnTrack registers the handler for remote media tracks.
func (t *Transport) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	t.pc.OnTrack(fn)
}
