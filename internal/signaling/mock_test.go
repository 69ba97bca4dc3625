package signaling

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rtcsignal/internal/util"
)

// Compile-time interface checks.
var (
	_ Engine = (*mockEngine)(nil)
	_ Conn   = (*mockConn)(nil)
)

const answerSDP = "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

// mockEngine imitates the signaling state machine of a PeerConnection:
// SetRemoteDescription(offer) moves to have-remote-offer and
// SetLocalDescription(answer) moves back to stable, each reporting the
// change through the registered callback like pion does.
type mockEngine struct {
	mu      sync.Mutex
	state   webrtc.SignalingState
	remote  *webrtc.SessionDescription
	local   *webrtc.SessionDescription
	applied []webrtc.ICECandidateInit
	calls   []string

	failRemote error

	onCandidate func(*webrtc.ICECandidateInit)
	onSignaling func(webrtc.SignalingState)
	onConn      func(webrtc.PeerConnectionState)
	onTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func newMockEngine() *mockEngine {
	return &mockEngine{state: webrtc.SignalingStateStable}
}

func (m *mockEngine) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *mockEngine) setState(s webrtc.SignalingState) {
	m.state = s
	fn := m.onSignaling
	m.mu.Unlock()
	if fn != nil {
		fn(s)
	}
	m.mu.Lock()
}

func (m *mockEngine) SetRemoteDescription(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SetRemoteDescription")
	if m.failRemote != nil {
		return m.failRemote
	}
	m.remote = &desc
	m.setState(webrtc.SignalingStateHaveRemoteOffer)
	return nil
}

func (m *mockEngine) CreateAnswer() (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateAnswer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}, nil
}

func (m *mockEngine) SetLocalDescription(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SetLocalDescription")
	m.local = &desc
	m.setState(webrtc.SignalingStateStable)
	return nil
}

func (m *mockEngine) LocalDescription() *webrtc.SessionDescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local
}

func (m *mockEngine) RemoteDescription() *webrtc.SessionDescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remote
}

// AddICECandidate rejects a candidate line it has already applied, the way
// a real engine refuses duplicates.
func (m *mockEngine) AddICECandidate(c webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("AddICECandidate")
	for _, prev := range m.applied {
		if c.Candidate != "" && prev.Candidate == c.Candidate {
			return errors.New("duplicate candidate")
		}
	}
	m.applied = append(m.applied, c)
	return nil
}

func (m *mockEngine) SignalingState() webrtc.SignalingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockEngine) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	m.mu.Lock()
	m.onCandidate = fn
	m.mu.Unlock()
}

func (m *mockEngine) OnSignalingStateChange(fn func(webrtc.SignalingState)) {
	m.mu.Lock()
	m.onSignaling = fn
	m.mu.Unlock()
}

func (m *mockEngine) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	m.mu.Lock()
	m.onConn = fn
	m.mu.Unlock()
}

func (m *mockEngine) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	m.mu.Lock()
	m.onTrack = fn
	m.mu.Unlock()
}

// gather reports a local candidate from a foreign goroutine, like pion.
func (m *mockEngine) gather(c *webrtc.ICECandidateInit) {
	m.mu.Lock()
	fn := m.onCandidate
	m.mu.Unlock()
	fn(c)
}

func (m *mockEngine) connect(s webrtc.PeerConnectionState) {
	m.mu.Lock()
	fn := m.onConn
	m.mu.Unlock()
	fn(s)
}

func (m *mockEngine) appliedCandidates() []webrtc.ICECandidateInit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), m.applied...)
}

func (m *mockEngine) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// mockConn is an in-memory signaling channel. Frames pushed with deliver
// reach the adapter; messages the adapter sends land in sent.
type mockConn struct {
	in   chan []byte
	sent chan Message
}

func newMockConn() *mockConn {
	return &mockConn{
		in:   make(chan []byte, 64),
		sent: make(chan Message, 64),
	}
}

func (c *mockConn) Send(msg Message) error {
	c.sent <- msg
	return nil
}

func (c *mockConn) Messages() <-chan []byte { return c.in }

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	t      *testing.T
	conn   *mockConn
	engine *mockEngine
	a      *Adapter
	errCh  chan error
}

// startAdapter runs an Adapter over a mockConn and mockEngine and consumes
// the initiation message.
func startAdapter(t *testing.T, opts ...Option) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		t:      t,
		conn:   newMockConn(),
		engine: newMockEngine(),
		errCh:  make(chan error, 1),
	}
	h.a = NewAdapter(h.conn, h.engine, append([]Option{WithSessionID("test")}, opts...)...)

	go func() { h.errCh <- h.a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.errCh
	})

	msg := h.expect(MsgTypeInitiation)
	require.Equal(t, InitiationText, msg.Data)
	return h
}

func (h *harness) deliver(typ MessageType, data string) {
	h.t.Helper()
	frame, err := Encode(Message{Type: typ, Data: data})
	require.NoError(h.t, err)
	h.conn.in <- frame
}

func (h *harness) deliverOffer() {
	h.t.Helper()
	data, err := EncodeDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "X"})
	require.NoError(h.t, err)
	h.deliver(MsgTypeOffer, data)
}

func (h *harness) deliverCandidate(line string) {
	h.t.Helper()
	data, err := EncodeCandidate(&webrtc.ICECandidateInit{Candidate: line})
	require.NoError(h.t, err)
	h.deliver(MsgTypeCandidate, data)
}

// expect waits for the next outbound message and checks its type.
func (h *harness) expect(typ MessageType) Message {
	h.t.Helper()
	select {
	case msg := <-h.conn.sent:
		require.Equal(h.t, typ, msg.Kind())
		return msg
	case <-time.After(2 * time.Second):
		h.t.Fatalf("timed out waiting for %s message", typ)
		return Message{}
	}
}

// expectNone fails if anything is sent within d.
func (h *harness) expectNone(d time.Duration) {
	h.t.Helper()
	select {
	case msg := <-h.conn.sent:
		h.t.Fatalf("unexpected %s message: %q", msg.Type, msg.Data)
	case <-time.After(d):
	}
}

// settle waits until the adapter loop has drained everything queued so far.
// It relies on the loop handling frames in order: the marker is an unknown
// kind that only bumps a counter.
func (h *harness) settle() {
	h.t.Helper()
	before := util.Stats.UnknownKinds.Load()
	h.deliver("settle-marker", "")
	require.Eventually(h.t, func() bool {
		return util.Stats.UnknownKinds.Load() > before
	}, 2*time.Second, 5*time.Millisecond)
}

// ---------------------------------------------------------------------------
// Log capture
// ---------------------------------------------------------------------------

// logBuffer is a goroutine-safe sink for util.SetOutput.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// linesContaining counts log lines that mention s.
func (b *logBuffer) linesContaining(s string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, line := range strings.Split(b.buf.String(), "\n") {
		if strings.Contains(line, s) {
			n++
		}
	}
	return n
}

func captureLogs(t *testing.T) *logBuffer {
	t.Helper()
	b := &logBuffer{}
	util.SetOutput(b)
	t.Cleanup(func() { util.SetOutput(nil) })
	return b
}
