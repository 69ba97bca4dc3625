package signaling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rtcsignal/internal/config"
	"github.com/1ureka/rtcsignal/internal/util"
)

// Engine is the negotiation object the Adapter drives. transport.Transport
// implements it on top of a pion PeerConnection.
type Engine interface {
	SetRemoteDescription(desc webrtc.SessionDescription) error
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState

	// OnICECandidate reports local candidates; nil marks the end of gathering.
	OnICECandidate(fn func(*webrtc.ICECandidateInit))
	OnSignalingStateChange(fn func(webrtc.SignalingState))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
}

// TrackHandler consumes a remote media track. It runs on its own goroutine
// and is called for as long as the engine lives, also after Run returns.
type TrackHandler func(*webrtc.TrackRemote, *webrtc.RTPReceiver)

// Phase is the adapter's view of the negotiation.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseAwaitingOffer
	PhaseNegotiating
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingOffer:
		return "awaiting-offer"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseConnected:
		return "connected"
	}
	return "unknown"
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithMode selects the candidate exchange mode (eager by default).
func WithMode(m config.Mode) Option {
	return func(a *Adapter) { a.gate.mode = m }
}

// WithTrackHandler routes remote tracks to fn.
func WithTrackHandler(fn TrackHandler) Option {
	return func(a *Adapter) { a.onTrack = fn }
}

// WithSessionID tags every log line with id.
func WithSessionID(id string) Option {
	return func(a *Adapter) { a.id = id }
}

// Adapter keeps exactly one negotiation session in sync with the peer.
//
// All session state below the events field is owned by the Run loop;
// engine callbacks only enqueue events.
type Adapter struct {
	conn    Conn
	engine  Engine
	onTrack TrackHandler
	id      string
	log     *util.Logger

	events  *eventQueue
	started atomic.Bool

	gate    localGate
	pending pendingCandidates

	phase     atomic.Int32
	connected chan struct{}
	connOnce  sync.Once
}

// NewAdapter wires engine callbacks immediately so no early event is lost;
// nothing is sent until Run.
func NewAdapter(conn Conn, engine Engine, opts ...Option) *Adapter {
	a := &Adapter{
		conn:      conn,
		engine:    engine,
		events:    newEventQueue(),
		gate:      localGate{mode: config.ModeEager},
		connected: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.id == "" {
		a.id = uuid.NewString()[:8]
	}
	a.log = util.Scoped("session", a.id)

	engine.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		a.events.push(event{kind: evLocalCandidate, candidate: c})
	})
	engine.OnSignalingStateChange(func(s webrtc.SignalingState) {
		a.events.push(event{kind: evSignalingState, signaling: s})
	})
	engine.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		a.events.push(event{kind: evConnectionState, conn: s})
	})
	// Tracks show up with the first RTP packet, usually after the session
	// is connected and the loop is gone, so they bypass the event queue.
	engine.OnTrack(a.routeTrack)

	return a
}

// ID returns the session id used in log lines.
func (a *Adapter) ID() string { return a.id }

// Phase returns the current phase.
func (a *Adapter) Phase() Phase { return Phase(a.phase.Load()) }

func (a *Adapter) setPhase(p Phase) {
	if old := Phase(a.phase.Swap(int32(p))); old != p {
		a.log.Debug("phase %s -> %s", old, p)
	}
}

// Connected is closed once the engine reports a connected state.
func (a *Adapter) Connected() <-chan struct{} { return a.connected }

// Run announces this client with an initiation message and then processes
// relay messages and engine events until ctx is done or the channel closes.
// Negotiation errors are logged and never end Run.
func (a *Adapter) Run(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return errors.New("adapter already running")
	}
	defer a.events.close()

	if err := a.send(Message{Type: initiationWireType, Data: InitiationText}); err != nil {
		return err
	}
	a.setPhase(PhaseAwaitingOffer)

	msgs := a.conn.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-msgs:
			if !ok {
				return ErrChannelClosed
			}
			a.handleFrame(frame)

		case <-a.events.notify:
			for _, ev := range a.events.drain() {
				a.handleEvent(ev)
			}
		}
	}
}

// send writes msg and logs it.
func (a *Adapter) send(msg Message) error {
	if err := a.conn.Send(msg); err != nil {
		a.log.Error("failed to send %s message: %v", msg.Type, err)
		return err
	}
	util.Stats.AddOut()
	a.log.Debug("sent %s message: %s", msg.Type, msg.Data)
	return nil
}

// ---------------------------------------------------------------------------
// Inbound messages
// ---------------------------------------------------------------------------

func (a *Adapter) handleFrame(frame []byte) {
	util.Stats.AddIn()

	msg, err := Decode(frame)
	if err != nil {
		a.log.Warn("dropping message: %v", err)
		return
	}
	if !msg.Known() {
		util.Stats.AddUnknown()
		a.log.Warn("ignoring unrecognized message type %q", msg.Type)
		return
	}

	a.log.Debug("received %s message: %s", msg.Kind(), msg.Data)

	switch msg.Kind() {
	case MsgTypeOffer:
		a.handleOffer(msg.Data)
	case MsgTypeCandidate:
		a.handleRemoteCandidate(msg.Data)
	case MsgTypeReqICE:
		a.handleReqICE()
	case MsgTypeInitiation:
		a.log.Info("peer initiation: %s", msg.Data)
	case MsgTypeAnswer:
		a.log.Warn("ignoring answer: this side only answers")
	}
}

// handleOffer runs accept remote -> create answer -> set local -> send answer,
// strictly in that order. A failing step abandons the rest and leaves the
// phase unchanged.
func (a *Adapter) handleOffer(payload string) {
	if p := a.Phase(); p != PhaseAwaitingOffer {
		a.log.Warn("ignoring offer in phase %s", p)
		return
	}

	offer, err := DecodeDescription(payload)
	if err != nil {
		a.log.Warn("dropping offer: %v", err)
		return
	}
	if offer.Type != webrtc.SDPTypeOffer {
		a.log.Warn("dropping offer: payload is a %s", offer.Type)
		return
	}

	if err := a.engine.SetRemoteDescription(offer); err != nil {
		a.log.Error("SetRemoteDescription failed: %v", err)
		return
	}
	answer, err := a.engine.CreateAnswer()
	if err != nil {
		a.log.Error("CreateAnswer failed: %v", err)
		return
	}
	if err := a.engine.SetLocalDescription(answer); err != nil {
		a.log.Error("SetLocalDescription failed: %v", err)
		return
	}

	local := a.engine.LocalDescription()
	if local == nil {
		local = &answer
	}
	data, err := EncodeDescription(*local)
	if err != nil {
		a.log.Error("failed to encode answer: %v", err)
		return
	}
	if err := a.send(Message{Type: MsgTypeAnswer, Data: data}); err != nil {
		return
	}

	a.setPhase(PhaseNegotiating)
	a.gate.described = true

	if a.gate.mode == config.ModeDeferred {
		if err := a.send(Message{Type: MsgTypeReqICE, Data: ReqICEText}); err == nil {
			a.gate.reqSent = true
		}
	}
	a.flushLocal()
}

func (a *Adapter) handleReqICE() {
	if a.gate.mode != config.ModeDeferred {
		a.log.Debug("reqice ignored in %s mode", a.gate.mode)
		return
	}
	a.gate.reqRecv = true
	a.flushLocal()
}

// handleRemoteCandidate applies the candidate when the engine can take it,
// otherwise queues it until the next transition into stable.
func (a *Adapter) handleRemoteCandidate(payload string) {
	init, eoc, err := DecodeCandidate(payload)
	if err != nil {
		a.log.Warn("dropping candidate: %v", err)
		return
	}
	c := remoteCandidate{init: init, eoc: eoc}

	if a.accepting() {
		a.applyCandidate(c)
		return
	}

	a.pending.hold(c)
	util.Stats.AddCandidateQueued()
	a.log.Debug("candidate queued until signaling state is stable (%d pending)", a.pending.len())
}

// accepting reports whether a remote candidate may be applied right now.
func (a *Adapter) accepting() bool {
	if a.engine.RemoteDescription() == nil {
		return false
	}
	switch a.engine.SignalingState() {
	case webrtc.SignalingStateStable, webrtc.SignalingStateHaveLocalOffer:
		return true
	}
	return false
}

func (a *Adapter) applyCandidate(c remoteCandidate) {
	if c.eoc {
		a.log.Debug("remote end of candidates")
		c.init = webrtc.ICECandidateInit{}
	}
	if err := a.engine.AddICECandidate(c.init); err != nil {
		a.log.Warn("AddICECandidate failed: %v", err)
		return
	}
	util.Stats.AddCandidateApplied()
}

// ---------------------------------------------------------------------------
// Engine events
// ---------------------------------------------------------------------------

func (a *Adapter) handleEvent(ev event) {
	switch ev.kind {
	case evLocalCandidate:
		for _, c := range a.gate.push(ev.candidate) {
			a.sendCandidate(c)
		}
		if !a.gate.open() {
			a.log.Debug("local candidate buffered (%d waiting)", len(a.gate.buf))
		}

	case evSignalingState:
		a.log.Debug("signaling state: %s", ev.signaling)
		if ev.signaling == webrtc.SignalingStateStable && a.engine.RemoteDescription() != nil {
			for _, c := range a.pending.fire() {
				a.applyCandidate(c)
			}
		}

	case evConnectionState:
		a.log.Info("connection state: %s", ev.conn)
		switch ev.conn {
		case webrtc.PeerConnectionStateConnected:
			a.setPhase(PhaseConnected)
			a.connOnce.Do(func() { close(a.connected) })
		case webrtc.PeerConnectionStateFailed:
			a.log.Error("peer connection failed")
		}
	}
}

func (a *Adapter) routeTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	util.Stats.AddTrack()
	if a.onTrack == nil {
		a.log.Info("remote %s track %s (no handler)", track.Kind(), track.ID())
		return
	}
	go a.onTrack(track, receiver)
}

func (a *Adapter) flushLocal() {
	for _, c := range a.gate.release() {
		a.sendCandidate(c)
	}
}

// sendCandidate forwards one local candidate; nil is sent as the empty
// end-of-candidates payload.
func (a *Adapter) sendCandidate(c *webrtc.ICECandidateInit) {
	data, err := EncodeCandidate(c)
	if err != nil {
		a.log.Error("failed to encode candidate: %v", err)
		return
	}
	if err := a.send(Message{Type: MsgTypeCandidate, Data: data}); err == nil {
		util.Stats.AddCandidateSent()
	}
}
