// Package peer negotiates one peer-to-peer connection per remote participant.
//
// A Link is driven by a single goroutine that drains an operation queue:
// signaling input, timer expiry and transport callbacks are all turned into
// queued operations, so negotiation state is only touched by that goroutine.
package peer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/MeetLink/internal/client/media"
	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/dkeye/MeetLink/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultAnswerTimeout = 15 * time.Second

// Signaler sends envelopes to the relay. It must not block.
type Signaler interface {
	Send(m *protocol.Message) error
}

// Observer receives link events. Calls come from the link goroutine or from
// transport callbacks and must not call back into Close.
type Observer interface {
	OnRemoteStream(l *Link, s *RemoteStream)
	OnChat(l *Link, msg domain.ChatMessage)
	OnStateChange(l *Link, st State)
	OnFailed(l *Link, err error)
}

type Config struct {
	Room          domain.RoomID
	Local         domain.SessionID
	Remote        domain.SessionID
	Role          Role
	AnswerTimeout time.Duration
	PLIInterval   time.Duration
}

type trackSender struct {
	sender  Sender
	trackID string
}

type Link struct {
	cfg      Config
	factory  TransportFactory
	signaler Signaler
	tracks   func() *media.Snapshot
	observer Observer
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	done   chan struct{}

	qmu   sync.Mutex
	queue []func()
	wake  chan struct{}

	// owned by the run goroutine
	transport      Transport
	remoteSet      bool
	pendingICE     []webrtc.ICECandidateInit
	senders        map[webrtc.RTPCodecType]*trackSender
	awaitingAnswer bool
	pendingRenego  bool
	forceOffer     bool
	answerTimer    *time.Timer
	timerGen       uint64
	dataChannel    DataChannel
	closeErr       error

	mu       sync.Mutex
	state    State
	attached []string
	stream   *RemoteStream
	chat     DataChannel
}

// NewLink starts the link goroutine. The transport is created lazily by
// Start or by the first remote offer.
func NewLink(cfg Config, factory TransportFactory, signaler Signaler, tracks func() *media.Snapshot, observer Observer) *Link {
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = DefaultAnswerTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Link{
		cfg:      cfg,
		factory:  factory,
		signaler: signaler,
		tracks:   tracks,
		observer: observer,
		logger: log.With().
			Str("module", "client.peer").
			Str("room", string(cfg.Room)).
			Str("remote", string(cfg.Remote)).
			Str("role", cfg.Role.String()).
			Logger(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		senders: make(map[webrtc.RTPCodecType]*trackSender),
		stream:  newRemoteStream(cfg.Remote),
	}
	go l.run()
	return l
}

func (l *Link) Remote() domain.SessionID { return l.cfg.Remote }
func (l *Link) Role() Role               { return l.cfg.Role }

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// AttachedTracks lists the ids of local tracks currently sent on this link.
func (l *Link) AttachedTracks() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.attached...)
}

func (l *Link) Stream() *RemoteStream { return l.stream }

// Done is closed once the link has released its transport.
func (l *Link) Done() <-chan struct{} { return l.done }

// Start sends the first offer. Only meaningful for the initiator in Idle.
func (l *Link) Start() {
	l.enqueue(func() {
		if l.currentState() != StateIdle {
			return
		}
		if err := l.ensureTransport(); err != nil {
			l.fail(err)
			return
		}
		dc, err := l.transport.CreateDataChannel(protocol.ChatChannelLabel)
		if err != nil {
			l.logger.Warn().Err(err).Msg("chat channel unavailable, chat falls back to relay")
		} else {
			l.bindChat(dc)
		}
		l.setState(StateOffering)
		l.sendOffer()
	})
}

func (l *Link) HandleOffer(desc webrtc.SessionDescription) {
	l.enqueue(func() { l.handleOffer(desc) })
}

func (l *Link) HandleAnswer(desc webrtc.SessionDescription) {
	l.enqueue(func() { l.handleAnswer(desc) })
}

func (l *Link) HandleCandidate(c webrtc.ICECandidateInit) {
	l.enqueue(func() { l.handleCandidate(c) })
}

// Renegotiate re-syncs local tracks from the snapshot and, when anything
// changed, runs a new offer/answer exchange on the same transport.
func (l *Link) Renegotiate() {
	l.enqueue(l.renegotiate)
}

// SendChat delivers msg over the data channel. It reports false when the
// channel is not open, leaving the caller to use the relay.
func (l *Link) SendChat(msg domain.ChatMessage) bool {
	if l.closed.Load() {
		return false
	}
	l.mu.Lock()
	dc := l.chat
	l.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return false
	}
	frame, err := protocol.EncodeChatFrame(msg)
	if err != nil {
		l.logger.Warn().Err(err).Msg("encode chat frame")
		return false
	}
	if err := dc.Send(frame); err != nil {
		l.logger.Debug().Err(err).Msg("chat send over data channel failed")
		return false
	}
	return true
}

// Close cancels any negotiation in flight and waits for the transport to be
// released. Later calls and operations are no-ops.
func (l *Link) Close() error {
	l.shutdown()
	<-l.done
	return l.closeErr
}

func (l *Link) shutdown() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	l.setState(StateClosed)
	l.cancel()
}

func (l *Link) enqueue(op func()) {
	if l.closed.Load() {
		return
	}
	l.qmu.Lock()
	l.queue = append(l.queue, op)
	l.qmu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Link) next() func() {
	l.qmu.Lock()
	defer l.qmu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	op := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return op
}

func (l *Link) run() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.teardown()
			return
		case <-l.wake:
			for op := l.next(); op != nil; op = l.next() {
				if l.ctx.Err() != nil {
					break
				}
				op()
			}
		}
	}
}

func (l *Link) teardown() {
	l.stopAnswerTimer()
	l.qmu.Lock()
	l.queue = nil
	l.qmu.Unlock()

	l.mu.Lock()
	l.chat = nil
	l.mu.Unlock()
	l.stream.close()

	if l.dataChannel != nil {
		_ = l.dataChannel.Close()
	}
	if l.transport != nil {
		if err := l.transport.Close(); err != nil {
			l.closeErr = fmt.Errorf("close transport: %w", err)
		}
	}
	l.logger.Debug().Msg("link closed")
	l.observer.OnStateChange(l, StateClosed)
}

func (l *Link) currentState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) setState(st State) {
	l.mu.Lock()
	if l.state == st || l.state == StateClosed {
		l.mu.Unlock()
		return
	}
	prev := l.state
	l.state = st
	l.mu.Unlock()

	l.logger.Debug().Str("from", prev.String()).Str("to", st.String()).Msg("link state")
	if st != StateClosed {
		l.observer.OnStateChange(l, st)
	}
}

// fail reports err and closes the link from inside the link goroutine.
func (l *Link) fail(err error) {
	if l.closed.Load() {
		return
	}
	l.logger.Error().Err(err).Str("state", l.currentState().String()).Msg("link failed")
	l.observer.OnFailed(l, err)
	l.shutdown()
}
