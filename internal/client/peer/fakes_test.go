package peer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/MeetLink/internal/client/media"
	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/dkeye/MeetLink/internal/protocol"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

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
	label string

	mu      sync.Mutex
	state   webrtc.DataChannelState
	sent    [][]byte
	onOpen  func()
	onClose func()
	onMsg   func([]byte)
}

func (d *fakeDC) Label() string { return d.label }

func (d *fakeDC) ReadyState() webrtc.DataChannelState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDC) Send(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != webrtc.DataChannelStateOpen {
		return errors.New("not open")
	}
	d.sent = append(d.sent, data)
	return nil
}

func (d *fakeDC) OnOpen(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOpen = fn
}

func (d *fakeDC) OnClose(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClose = fn
}

func (d *fakeDC) OnMessage(fn func([]byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMsg = fn
}

func (d *fakeDC) Close() error {
	d.setState(webrtc.DataChannelStateClosed)
	return nil
}

func (d *fakeDC) setState(s webrtc.DataChannelState) {
	d.mu.Lock()
	d.state = s
	var cb func()
	switch s {
	case webrtc.DataChannelStateOpen:
		cb = d.onOpen
	case webrtc.DataChannelStateClosed:
		cb = d.onClose
	}
	d.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (d *fakeDC) deliver(data []byte) {
	d.mu.Lock()
	cb := d.onMsg
	d.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

type fakeRemoteTrack struct {
	id   string
	kind webrtc.RTPCodecType
	pkts chan *rtp.Packet
}

func newFakeRemoteTrack(id string, kind webrtc.RTPCodecType) *fakeRemoteTrack {
	return &fakeRemoteTrack{id: id, kind: kind, pkts: make(chan *rtp.Packet, 8)}
}

func (t *fakeRemoteTrack) ID() string                { return t.id }
func (t *fakeRemoteTrack) StreamID() string          { return "remote" }
func (t *fakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *fakeRemoteTrack) SSRC() webrtc.SSRC         { return 1234 }

func (t *fakeRemoteTrack) ReadRTP() (*rtp.Packet, error) {
	p, ok := <-t.pkts
	if !ok {
		return nil, errors.New("track ended")
	}
	return p, nil
}

type fakeTransport struct {
	mu         sync.Mutex
	offers     int
	answers    int
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	senders    []*fakeSender
	rollbacks  int
	plis       int
	closed     bool
	dcs        []*fakeDC

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(RemoteTrack)
	onDC    func(DataChannel)
	onState func(webrtc.PeerConnectionState)
}

func (f *fakeTransport) AddTrack(t webrtc.TrackLocal) (Sender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSender{track: t}
	f.senders = append(f.senders, s)
	return s, nil
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "fake-offer"}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "fake-answer"}, nil
}

func (f *fakeTransport) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = append(f.remote, d)
	return nil
}

func (f *fakeTransport) Rollback() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbacks++
	return nil
}

func (f *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) CreateDataChannel(label string) (DataChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dc := &fakeDC{label: label, state: webrtc.DataChannelStateConnecting}
	f.dcs = append(f.dcs, dc)
	return dc, nil
}

func (f *fakeTransport) WriteRTCP([]rtcp.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plis++
	return nil
}

func (f *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onICE = fn
}

func (f *fakeTransport) OnTrack(fn func(RemoteTrack)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = fn
}

func (f *fakeTransport) OnDataChannel(fn func(DataChannel)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDC = fn
}

func (f *fakeTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeTransport) fireTrack(t RemoteTrack) {
	f.mu.Lock()
	cb := f.onTrack
	f.mu.Unlock()
	cb(t)
}

func (f *fakeTransport) fireState(s webrtc.PeerConnectionState) {
	f.mu.Lock()
	cb := f.onState
	f.mu.Unlock()
	cb(s)
}

func (f *fakeTransport) fireICE(c webrtc.ICECandidateInit) {
	f.mu.Lock()
	cb := f.onICE
	f.mu.Unlock()
	cb(c)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) snapshot() fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeTransport{
		offers:     f.offers,
		answers:    f.answers,
		remote:     append([]webrtc.SessionDescription(nil), f.remote...),
		candidates: append([]webrtc.ICECandidateInit(nil), f.candidates...),
		senders:    append([]*fakeSender(nil), f.senders...),
		rollbacks:  f.rollbacks,
		closed:     f.closed,
		dcs:        append([]*fakeDC(nil), f.dcs...),
	}
}

type fakeFactory struct {
	mu     sync.Mutex
	made   []*fakeTransport
	failed error
}

func (f *fakeFactory) NewTransport(domain.SessionID) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed != nil {
		return nil, f.failed
	}
	tr := &fakeTransport{}
	f.made = append(f.made, tr)
	return tr, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.made)
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.made) == 0 {
		return nil
	}
	return f.made[len(f.made)-1]
}

type fakeSignaler struct {
	out chan *protocol.Message
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{out: make(chan *protocol.Message, 64)}
}

func (s *fakeSignaler) Send(m *protocol.Message) error {
	s.out <- m
	return nil
}

func (s *fakeSignaler) next(t *testing.T, want protocol.Type) *protocol.Message {
	t.Helper()
	for {
		select {
		case m := <-s.out:
			if m.Type == protocol.TypeCandidate && want != protocol.TypeCandidate {
				continue
			}
			if m.Type != want {
				t.Fatalf("expected %s, got %s", want, m.Type)
			}
			return m
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s", want)
			return nil
		}
	}
}

func (s *fakeSignaler) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case m := <-s.out:
		t.Fatalf("unexpected %s", m.Type)
	case <-time.After(d):
	}
}

type fakeObserver struct {
	mu      sync.Mutex
	states  []State
	streams []*RemoteStream
	chats   []domain.ChatMessage
	failed  chan error
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{failed: make(chan error, 4)}
}

func (o *fakeObserver) OnRemoteStream(_ *Link, s *RemoteStream) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.streams = append(o.streams, s)
}

func (o *fakeObserver) OnChat(_ *Link, m domain.ChatMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chats = append(o.chats, m)
}

func (o *fakeObserver) OnStateChange(_ *Link, st State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, st)
}

func (o *fakeObserver) OnFailed(_ *Link, err error) { o.failed <- err }

func (o *fakeObserver) streamCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.streams)
}

func (o *fakeObserver) chatCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.chats)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func newCapture(t *testing.T) *media.TrackSet {
	t.Helper()
	c := &media.SampleCapturer{}
	set, err := c.AcquireLocalMedia(t.Context(), media.Constraints{Audio: true, Video: true})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	return set
}
