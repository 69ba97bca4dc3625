package signaling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rtcsignal/internal/config"
	"github.com/1ureka/rtcsignal/internal/util"
)

const (
	hostCandidate  = "candidate:1 1 udp 2130706431 192.168.1.2 50000 typ host"
	srflxCandidate = "candidate:2 1 udp 1694498815 203.0.113.7 40000 typ srflx raddr 192.168.1.2 rport 50000"
)

func TestOfferProducesExactlyOneAnswer(t *testing.T) {
	h := startAdapter(t)

	h.deliverOffer()
	msg := h.expect(MsgTypeAnswer)

	answer, err := DecodeDescription(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Equal(t, answerSDP, answer.SDP)

	assert.Equal(t, []string{"SetRemoteDescription", "CreateAnswer", "SetLocalDescription"}, h.engine.callLog())
	assert.Equal(t, PhaseNegotiating, h.a.Phase())

	h.expectNone(100 * time.Millisecond)
}

func TestOfferKindIsCaseInsensitive(t *testing.T) {
	h := startAdapter(t)

	data, err := EncodeDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "X"})
	require.NoError(t, err)
	h.deliver("Offer", data)

	h.expect(MsgTypeAnswer)
}

func TestSecondOfferIsIgnored(t *testing.T) {
	h := startAdapter(t)

	h.deliverOffer()
	h.expect(MsgTypeAnswer)

	h.deliverOffer()
	h.settle()

	h.expectNone(50 * time.Millisecond)
	assert.Len(t, h.engine.callLog(), 3)
}

func TestMalformedOfferIsDropped(t *testing.T) {
	h := startAdapter(t)

	h.deliver(MsgTypeOffer, "not json")
	h.deliver(MsgTypeOffer, "")
	h.deliver(MsgTypeOffer, `{"type":"answer","sdp":"X"}`)
	h.settle()

	h.expectNone(50 * time.Millisecond)
	assert.Empty(t, h.engine.callLog())
	assert.Equal(t, PhaseAwaitingOffer, h.a.Phase())

	// A valid offer afterwards is still answered.
	h.deliverOffer()
	h.expect(MsgTypeAnswer)
}

func TestRejectedOfferLeavesPhaseUnchanged(t *testing.T) {
	h := startAdapter(t)

	h.engine.mu.Lock()
	h.engine.failRemote = errors.New("bad sdp")
	h.engine.mu.Unlock()

	h.deliverOffer()
	h.settle()

	h.expectNone(50 * time.Millisecond)
	assert.Equal(t, []string{"SetRemoteDescription"}, h.engine.callLog())
	assert.Equal(t, PhaseAwaitingOffer, h.a.Phase())
}

func TestEarlyCandidateIsAppliedOnceAfterStable(t *testing.T) {
	h := startAdapter(t)
	queued := util.Stats.CandidatesQueued.Load()

	h.deliverCandidate(hostCandidate)
	h.settle()

	assert.Empty(t, h.engine.appliedCandidates(), "applied before a remote description exists")
	assert.Equal(t, queued+1, util.Stats.CandidatesQueued.Load())

	h.deliverOffer()
	h.expect(MsgTypeAnswer)

	require.Eventually(t, func() bool {
		return len(h.engine.appliedCandidates()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, hostCandidate, h.engine.appliedCandidates()[0].Candidate)

	// The trigger is single-fire: later stable transitions replay nothing.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.engine.appliedCandidates(), 1)
}

func TestQueuedCandidatesKeepArrivalOrder(t *testing.T) {
	h := startAdapter(t)

	h.deliverCandidate(hostCandidate)
	h.deliverCandidate(srflxCandidate)
	h.deliverOffer()
	h.expect(MsgTypeAnswer)

	require.Eventually(t, func() bool {
		return len(h.engine.appliedCandidates()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	applied := h.engine.appliedCandidates()
	assert.Equal(t, hostCandidate, applied[0].Candidate)
	assert.Equal(t, srflxCandidate, applied[1].Candidate)
}

func TestCandidateAfterAnswerIsAppliedImmediately(t *testing.T) {
	h := startAdapter(t)

	h.deliverOffer()
	h.expect(MsgTypeAnswer)

	h.deliverCandidate(hostCandidate)
	h.settle()

	applied := h.engine.appliedCandidates()
	require.Len(t, applied, 1)
	assert.Equal(t, hostCandidate, applied[0].Candidate)
}

func TestEndOfCandidatesIsApplied(t *testing.T) {
	h := startAdapter(t)

	h.deliverOffer()
	h.expect(MsgTypeAnswer)

	h.deliver(MsgTypeCandidate, "")
	h.settle()

	applied := h.engine.appliedCandidates()
	require.Len(t, applied, 1)
	assert.Equal(t, webrtc.ICECandidateInit{}, applied[0])
}

func TestReplayedCandidateIsHarmless(t *testing.T) {
	h := startAdapter(t)

	h.deliverOffer()
	h.expect(MsgTypeAnswer)

	h.deliverCandidate(hostCandidate)
	h.deliverCandidate(hostCandidate)
	h.settle()

	assert.Len(t, h.engine.appliedCandidates(), 1)
	assert.Equal(t, PhaseNegotiating, h.a.Phase())

	// Still processing.
	h.deliverCandidate(srflxCandidate)
	h.settle()
	assert.Len(t, h.engine.appliedCandidates(), 2)
}

func TestUnknownKindIsLoggedOnceAndIgnored(t *testing.T) {
	logs := captureLogs(t)
	h := startAdapter(t)
	unknown := util.Stats.UnknownKinds.Load()

	h.deliver("bogus-kind", `{"x":1}`)
	h.settle()

	assert.Equal(t, 1, logs.linesContaining("bogus-kind"))
	assert.Equal(t, unknown+2, util.Stats.UnknownKinds.Load()) // bogus-kind + settle marker
	assert.Equal(t, PhaseAwaitingOffer, h.a.Phase())
	assert.Empty(t, h.engine.callLog())
	h.expectNone(50 * time.Millisecond)
}

func TestMalformedFrameIsDropped(t *testing.T) {
	h := startAdapter(t)

	h.conn.in <- []byte("{not json")
	h.settle()

	assert.Equal(t, PhaseAwaitingOffer, h.a.Phase())
	h.expectNone(50 * time.Millisecond)
}

func TestEagerBuffersLocalCandidatesUntilAnswer(t *testing.T) {
	h := startAdapter(t)

	h.engine.gather(&webrtc.ICECandidateInit{Candidate: hostCandidate})
	h.expectNone(100 * time.Millisecond)

	h.deliverOffer()
	h.expect(MsgTypeAnswer)

	msg := h.expect(MsgTypeCandidate)
	init, eoc, err := DecodeCandidate(msg.Data)
	require.NoError(t, err)
	assert.False(t, eoc)
	assert.Equal(t, hostCandidate, init.Candidate)

	h.engine.gather(&webrtc.ICECandidateInit{Candidate: srflxCandidate})
	msg = h.expect(MsgTypeCandidate)
	init, _, err = DecodeCandidate(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, srflxCandidate, init.Candidate)

	// End of gathering is forwarded as an empty payload.
	h.engine.gather(nil)
	msg = h.expect(MsgTypeCandidate)
	assert.Empty(t, msg.Data)
}

func TestEagerIgnoresReqICE(t *testing.T) {
	h := startAdapter(t)

	h.deliverOffer()
	h.expect(MsgTypeAnswer)

	h.deliver(MsgTypeReqICE, ReqICEText)
	h.settle()
	h.expectNone(50 * time.Millisecond)
}

func TestDeferredWaitsForReqICE(t *testing.T) {
	h := startAdapter(t, WithMode(config.ModeDeferred))

	h.engine.gather(&webrtc.ICECandidateInit{Candidate: hostCandidate})
	h.deliverOffer()

	h.expect(MsgTypeAnswer)
	req := h.expect(MsgTypeReqICE)
	assert.Equal(t, ReqICEText, req.Data)

	// reqice sent but not yet received: nothing leaves.
	h.engine.gather(&webrtc.ICECandidateInit{Candidate: srflxCandidate})
	h.expectNone(150 * time.Millisecond)

	h.deliver(MsgTypeReqICE, ReqICEText)

	first := h.expect(MsgTypeCandidate)
	second := h.expect(MsgTypeCandidate)
	c1, _, err := DecodeCandidate(first.Data)
	require.NoError(t, err)
	c2, _, err := DecodeCandidate(second.Data)
	require.NoError(t, err)
	assert.Equal(t, hostCandidate, c1.Candidate)
	assert.Equal(t, srflxCandidate, c2.Candidate)

	// Once open, candidates flow directly.
	h.engine.gather(nil)
	msg := h.expect(MsgTypeCandidate)
	assert.Empty(t, msg.Data)
}

func TestDeferredReqICEBeforeOffer(t *testing.T) {
	h := startAdapter(t, WithMode(config.ModeDeferred))

	h.deliver(MsgTypeReqICE, ReqICEText)
	h.engine.gather(&webrtc.ICECandidateInit{Candidate: hostCandidate})
	h.settle()
	h.expectNone(50 * time.Millisecond)

	h.deliverOffer()
	h.expect(MsgTypeAnswer)
	h.expect(MsgTypeReqICE)
	h.expect(MsgTypeCandidate)
}

func TestConnectedStateClosesConnected(t *testing.T) {
	h := startAdapter(t)

	h.deliverOffer()
	h.expect(MsgTypeAnswer)

	h.engine.connect(webrtc.PeerConnectionStateConnecting)
	h.engine.connect(webrtc.PeerConnectionStateConnected)

	select {
	case <-h.a.Connected():
	case <-time.After(2 * time.Second):
		t.Fatal("Connected not closed")
	}
	assert.Equal(t, PhaseConnected, h.a.Phase())

	// A second report must not panic on the closed channel.
	h.engine.connect(webrtc.PeerConnectionStateConnected)
	h.settle()
}

func TestTrackIsRoutedToHandler(t *testing.T) {
	got := make(chan struct{}, 1)
	h := startAdapter(t, WithTrackHandler(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
		got <- struct{}{}
	}))
	tracks := util.Stats.Tracks.Load()

	h.engine.mu.Lock()
	fn := h.engine.onTrack
	h.engine.mu.Unlock()
	fn(nil, nil)

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("track handler not called")
	}
	assert.Equal(t, tracks+1, util.Stats.Tracks.Load())
}

func TestRunTwiceFails(t *testing.T) {
	h := startAdapter(t)
	require.Error(t, h.a.Run(context.Background()))
}

func TestRunReturnsWhenChannelCloses(t *testing.T) {
	conn := newMockConn()
	a := NewAdapter(conn, newMockEngine())

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(context.Background()) }()

	msg := <-conn.sent
	assert.Equal(t, MsgTypeInitiation, msg.Kind())
	close(conn.in)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNewAdapterAssignsSessionID(t *testing.T) {
	a := NewAdapter(newMockConn(), newMockEngine())
	assert.Len(t, a.ID(), 8)
	assert.Equal(t, PhaseIdle, a.Phase())
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "awaiting-offer", PhaseAwaitingOffer.String())
	assert.Equal(t, "negotiating", PhaseNegotiating.String())
	assert.Equal(t, "connected", PhaseConnected.String())
	assert.Equal(t, "unknown", Phase(42).String())
}

func TestInitiationWireBytes(t *testing.T) {
	relay := newTestRelay(t)
	ch, peer := dialRelay(t, relay, DialOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- NewAdapter(ch, newMockEngine()).Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := peer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"Initiation","data":"Initiation of WebRTC"}`, string(frame))
}
