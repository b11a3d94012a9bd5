package mesh_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	httpadapter "github.com/dkeye/MeetLink/internal/adapters/http"
	"github.com/dkeye/MeetLink/internal/app"
	"github.com/dkeye/MeetLink/internal/app/orch"
	"github.com/dkeye/MeetLink/internal/client/media"
	"github.com/dkeye/MeetLink/internal/client/mesh"
	"github.com/dkeye/MeetLink/internal/client/peer"
	"github.com/dkeye/MeetLink/internal/client/signaling"
	"github.com/dkeye/MeetLink/internal/config"
	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/dkeye/MeetLink/internal/protocol"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

func startRelay(t *testing.T) string {
	t.Helper()
	v := config.New()
	v.Set("mode", "test")
	cfg, err := config.LoadFrom(v)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	o := orch.New(app.NewRegistry(), app.NewRoomManager(), app.PolicyFor(cfg.SlowConsumer))
	srv := httptest.NewServer(httpadapter.SetupRouter(t.Context(), cfg, o))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
}

type fakeSender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = t
	return nil
}

type fakeDC struct {
	mu   sync.Mutex
	sent int
}

func (d *fakeDC) Label() string                       { return protocol.ChatChannelLabel }
func (d *fakeDC) ReadyState() webrtc.DataChannelState { return webrtc.DataChannelStateOpen }
func (d *fakeDC) OnOpen(func())                       {}
func (d *fakeDC) OnClose(func())                      {}
func (d *fakeDC) OnMessage(func([]byte))              {}
func (d *fakeDC) Close() error                        { return nil }

func (d *fakeDC) Send([]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent++
	return nil
}

func (d *fakeDC) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent
}

// fakeTransport negotiates nothing real: descriptions are placeholders and
// the chat channel only exists when openChannels is set.
type fakeTransport struct {
	openChannels bool

	mu      sync.Mutex
	senders []*fakeSender
	dc      *fakeDC
}

func (f *fakeTransport) AddTrack(t webrtc.TrackLocal) (peer.Sender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSender{track: t}
	f.senders = append(f.senders, s)
	return s, nil
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (f *fakeTransport) SetRemoteDescription(webrtc.SessionDescription) error { return nil }
func (f *fakeTransport) Rollback() error                                      { return nil }
func (f *fakeTransport) AddICECandidate(webrtc.ICECandidateInit) error        { return nil }
func (f *fakeTransport) WriteRTCP([]rtcp.Packet) error                        { return nil }
func (f *fakeTransport) OnICECandidate(func(webrtc.ICECandidateInit))         {}
func (f *fakeTransport) OnTrack(func(peer.RemoteTrack))                       {}
func (f *fakeTransport) OnDataChannel(func(peer.DataChannel))                 {}
func (f *fakeTransport) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {
}
func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) CreateDataChannel(string) (peer.DataChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.openChannels {
		return &closedDC{}, nil
	}
	f.dc = &fakeDC{}
	return f.dc, nil
}

func (f *fakeTransport) videoTrack() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.senders {
		s.mu.Lock()
		t := s.track
		s.mu.Unlock()
		if t != nil && t.Kind() == webrtc.RTPCodecTypeVideo {
			return t.ID()
		}
	}
	return ""
}

type closedDC struct{ fakeDC }

func (d *closedDC) ReadyState() webrtc.DataChannelState { return webrtc.DataChannelStateConnecting }

type fakeFactory struct {
	openChannels bool

	mu   sync.Mutex
	made map[domain.SessionID]*fakeTransport
}

func (f *fakeFactory) NewTransport(remote domain.SessionID) (peer.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.made == nil {
		f.made = make(map[domain.SessionID]*fakeTransport)
	}
	tr := &fakeTransport{openChannels: f.openChannels}
	f.made[remote] = tr
	return tr, nil
}

func (f *fakeFactory) transport(remote domain.SessionID) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.made[remote]
}

// recordingCapturer remembers the last display capture so tests can end it.
type recordingCapturer struct {
	media.SampleCapturer

	mu      sync.Mutex
	display *media.TrackSet
}

func (c *recordingCapturer) AcquireDisplayMedia(ctx context.Context) (*media.TrackSet, error) {
	set, err := c.SampleCapturer.AcquireDisplayMedia(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.display = set
	c.mu.Unlock()
	return set, nil
}

func (c *recordingCapturer) lastDisplay() *media.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.display == nil {
		return nil
	}
	return c.display.Video
}

type participant struct {
	*mesh.Coordinator
	factory  *fakeFactory
	capturer *recordingCapturer

	mu     sync.Mutex
	msgs   []domain.ChatMessage
	joined []domain.Member
	left   []domain.SessionID
}

func testClientConfig() config.Client {
	return config.Client{
		ConnectRetries: 1,
		RetryBackoff:   10 * time.Millisecond,
		JoinTimeout:    5 * time.Second,
		AnswerTimeout:  5 * time.Second,
	}
}

func newParticipant(t *testing.T, url string, openChannels bool) *participant {
	t.Helper()
	p := &participant{
		factory:  &fakeFactory{openChannels: openChannels},
		capturer: &recordingCapturer{},
	}
	p.Coordinator = mesh.New(mesh.Options{
		Client:   testClientConfig(),
		Capturer: p.capturer,
		Dial: func(ctx context.Context) (mesh.SignalConn, error) {
			return signaling.Dial(ctx, url)
		},
		Transports: p.factory,
	})
	p.OnMessage(func(m domain.ChatMessage) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.msgs = append(p.msgs, m)
	})
	p.OnPeerJoined(func(m domain.Member) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.joined = append(p.joined, m)
	})
	p.OnPeerLeft(func(id domain.SessionID) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.left = append(p.left, id)
	})
	return p
}

func (p *participant) messages() []domain.ChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ChatMessage(nil), p.msgs...)
}

func (p *participant) leftPeers() []domain.SessionID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.SessionID(nil), p.left...)
}

func (p *participant) connectedTo(id domain.SessionID) bool {
	for _, info := range p.Peers() {
		if info.ID == id && info.State == peer.StateConnected {
			return true
		}
	}
	return false
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// scriptedConn is a relay connection driven by the test.
type scriptedConn struct {
	in     chan *protocol.Message
	onSend func(m *protocol.Message, in chan<- *protocol.Message)

	mu     sync.Mutex
	sent   []*protocol.Message
	closed bool
}

func newScriptedConn(onSend func(*protocol.Message, chan<- *protocol.Message)) *scriptedConn {
	return &scriptedConn{in: make(chan *protocol.Message, 16), onSend: onSend}
}

func (c *scriptedConn) Send(m *protocol.Message) error {
	c.mu.Lock()
	c.sent = append(c.sent, m)
	c.mu.Unlock()
	if c.onSend != nil {
		c.onSend(m, c.in)
	}
	return nil
}

func (c *scriptedConn) Incoming() <-chan *protocol.Message { return c.in }

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptedConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func domainMember(id, name string) domain.Member {
	return domain.NewMember(domain.SessionID(id), name)
}
