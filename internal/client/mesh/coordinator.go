// Package mesh coordinates one participant's full-mesh session: it owns the
// signaling connection, one peer.Link per remote participant, the local
// tracks, and the event feeds a UI subscribes to.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/MeetLink/internal/client/media"
	"github.com/dkeye/MeetLink/internal/client/peer"
	"github.com/dkeye/MeetLink/internal/config"
	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/dkeye/MeetLink/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SignalConn is the relay connection as the coordinator uses it.
type SignalConn interface {
	Send(m *protocol.Message) error
	Incoming() <-chan *protocol.Message
	Close() error
}

type DialFunc func(ctx context.Context) (SignalConn, error)

type Options struct {
	Client     config.Client
	Capturer   media.Capturer
	Dial       DialFunc
	Transports peer.TransportFactory
}

type RemoteStreamEvent struct {
	Peer   domain.SessionID
	Stream *peer.RemoteStream
}

type PeerFailure struct {
	Peer domain.SessionID
	Err  error
}

// SessionEnd reports a session that ended without LeaveRoom.
type SessionEnd struct {
	Room domain.RoomID
	Err  error
}

type PeerInfo struct {
	ID     domain.SessionID
	Role   peer.Role
	State  peer.State
	Tracks []string
}

type Coordinator struct {
	opts   Options
	logger zerolog.Logger

	remoteStreams Feed[RemoteStreamEvent]
	messages      Feed[domain.ChatMessage]
	peerJoined    Feed[domain.Member]
	peerLeft      Feed[domain.SessionID]
	peerFailed    Feed[PeerFailure]
	sessionEnded  Feed[SessionEnd]

	snapshot atomic.Pointer[media.Snapshot]
	shareMu  sync.Mutex

	mu   sync.Mutex
	sess *session
}

// session is one JoinRoom..LeaveRoom span. Fields below mu are guarded by
// Coordinator.mu.
type session struct {
	room     domain.RoomID
	name     string
	signal   SignalConn
	cancel   context.CancelFunc
	loopDone chan struct{}
	ack      chan error
	ackOnce  sync.Once
	local    *media.TrackSet

	self     domain.SessionID
	joined   bool
	closed   bool
	links    map[domain.SessionID]*peer.Link
	departed map[domain.SessionID]struct{}
	screen   *media.LocalTrack
}

func (s *session) finishJoin(err error) {
	s.ackOnce.Do(func() { s.ack <- err })
}

func New(opts Options) *Coordinator {
	if opts.Client.ConnectRetries < 1 {
		opts.Client.ConnectRetries = 1
	}
	if opts.Client.JoinTimeout <= 0 {
		opts.Client.JoinTimeout = 10 * time.Second
	}
	return &Coordinator{
		opts:   opts,
		logger: log.With().Str("module", "client.mesh").Logger(),
	}
}

func (c *Coordinator) OnRemoteStream(fn func(RemoteStreamEvent)) func() {
	return c.remoteStreams.Subscribe(fn)
}

func (c *Coordinator) OnMessage(fn func(domain.ChatMessage)) func() {
	return c.messages.Subscribe(fn)
}

func (c *Coordinator) OnPeerJoined(fn func(domain.Member)) func() {
	return c.peerJoined.Subscribe(fn)
}

func (c *Coordinator) OnPeerLeft(fn func(domain.SessionID)) func() {
	return c.peerLeft.Subscribe(fn)
}

func (c *Coordinator) OnPeerFailed(fn func(PeerFailure)) func() {
	return c.peerFailed.Subscribe(fn)
}

// OnSessionEnded fires when the relay connection is lost after the join. The
// session is already torn down and the coordinator may join again.
func (c *Coordinator) OnSessionEnded(fn func(SessionEnd)) func() {
	return c.sessionEnded.Subscribe(fn)
}

// SessionID is the id the relay assigned, empty when not joined.
func (c *Coordinator) SessionID() domain.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.self
}

func (c *Coordinator) Room() domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.room
}

// LocalTracks is the current outgoing track set.
func (c *Coordinator) LocalTracks() *media.Snapshot {
	return c.snapshot.Load()
}

func (c *Coordinator) Peers() []PeerInfo {
	c.mu.Lock()
	var links []*peer.Link
	if c.sess != nil {
		for _, l := range c.sess.links {
			links = append(links, l)
		}
	}
	c.mu.Unlock()

	out := make([]PeerInfo, 0, len(links))
	for _, l := range links {
		out = append(out, PeerInfo{ID: l.Remote(), Role: l.Role(), State: l.State(), Tracks: l.AttachedTracks()})
	}
	slices.SortFunc(out, func(a, b PeerInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// JoinRoom acquires local media, connects to the relay and waits for the
// room-joined ack. On error everything acquired so far is released.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID domain.RoomID, displayName string) error {
	if err := roomID.Validate(); err != nil {
		return &OpError{Op: "join", Err: err}
	}
	name, err := domain.NormalizeDisplayName(displayName)
	if err != nil {
		return &OpError{Op: "join", Err: err}
	}
	s := &session{
		room:     roomID,
		name:     name,
		ack:      make(chan error, 1),
		links:    make(map[domain.SessionID]*peer.Link),
		departed: make(map[domain.SessionID]struct{}),
	}
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return &OpError{Op: "join", Err: ErrAlreadyJoined}
	}
	c.sess = s
	c.mu.Unlock()

	if err := c.join(ctx, s); err != nil {
		c.mu.Lock()
		if c.sess == s {
			c.sess = nil
		}
		c.mu.Unlock()
		if terr := c.teardown(s); terr != nil {
			c.logger.Debug().Err(terr).Msg("teardown after failed join")
		}
		return &OpError{Op: "join", Err: err}
	}
	c.logger.Info().Str("room", string(roomID)).Str("sid", string(c.SessionID())).Msg("joined room")
	return nil
}

func (c *Coordinator) join(ctx context.Context, s *session) error {
	local, err := c.opts.Capturer.AcquireLocalMedia(ctx, media.Constraints{Audio: true, Video: true})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	s.local = local
	c.snapshot.Store(&media.Snapshot{Audio: local.Audio, Video: local.Video})

	sc, err := c.connect(ctx)
	if err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.signal = sc
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	go c.dispatch(loopCtx, s)

	timer := time.NewTimer(c.opts.Client.JoinTimeout)
	defer timer.Stop()
	select {
	case err := <-s.ack:
		return err
	case <-timer.C:
		return ErrJoinTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) connect(ctx context.Context) (SignalConn, error) {
	backoff := c.opts.Client.RetryBackoff
	var last error
	for attempt := 1; attempt <= c.opts.Client.ConnectRetries; attempt++ {
		sc, err := c.opts.Dial(ctx)
		if err == nil {
			return sc, nil
		}
		last = err
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("signaling connect failed")
		if attempt == c.opts.Client.ConnectRetries {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrSignalingUnreachable, ctx.Err())
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%w: %w", ErrSignalingUnreachable, last)
}

// LeaveRoom closes every link, stops local tracks, tells the relay and closes
// the signaling connection. Every step runs; failures are joined.
func (c *Coordinator) LeaveRoom() error {
	c.mu.Lock()
	s := c.sess
	if s == nil || !s.joined {
		c.mu.Unlock()
		return &OpError{Op: "leave", Err: ErrNotJoined}
	}
	c.sess = nil
	c.mu.Unlock()

	if err := c.teardown(s); err != nil {
		return &OpError{Op: "leave", Err: err}
	}
	c.logger.Info().Str("room", string(s.room)).Msg("left room")
	return nil
}

func (c *Coordinator) teardown(s *session) error {
	var errs []error
	if s.cancel != nil {
		s.cancel()
	}

	c.mu.Lock()
	s.closed = true
	links := s.links
	s.links = make(map[domain.SessionID]*peer.Link)
	screen := s.screen
	s.screen = nil
	joined := s.joined
	c.mu.Unlock()

	for id, l := range links {
		if err := l.Close(); err != nil {
			errs = append(errs, &OpError{Op: "close link", Peer: id, Err: err})
		}
	}

	s.local.Stop()
	if screen != nil {
		screen.Stop()
	}
	c.snapshot.Store(nil)

	if s.signal != nil {
		if joined {
			if err := s.signal.Send(&protocol.Message{Type: protocol.TypeLeaveRoom, RoomID: s.room}); err != nil {
				errs = append(errs, fmt.Errorf("send leave-room: %w", err))
			}
		}
		if err := s.signal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close signaling: %w", err))
		}
	}
	if s.loopDone != nil {
		<-s.loopDone
	}
	return errors.Join(errs...)
}

func (c *Coordinator) newLink(s *session, remote domain.SessionID, role peer.Role) *peer.Link {
	return peer.NewLink(peer.Config{
		Room:          s.room,
		Local:         s.self,
		Remote:        remote,
		Role:          role,
		AnswerTimeout: c.opts.Client.AnswerTimeout,
		PLIInterval:   c.opts.Client.PLIInterval,
	}, c.opts.Transports, s.signal, c.snapshot.Load, &linkObserver{c: c, s: s})
}

// renegotiateAll asks every link of s to pick up the current snapshot.
func (c *Coordinator) renegotiateAll(s *session) {
	c.mu.Lock()
	links := make([]*peer.Link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	c.mu.Unlock()
	for _, l := range links {
		l.Renegotiate()
	}
}

// joinedSession returns the active session once the relay has acked it.
func (c *Coordinator) joinedSession() (*session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || !c.sess.joined || c.sess.closed {
		return nil, false
	}
	return c.sess, true
}

type linkObserver struct {
	c *Coordinator
	s *session
}

func (o *linkObserver) OnRemoteStream(l *peer.Link, st *peer.RemoteStream) {
	o.c.remoteStreams.Emit(RemoteStreamEvent{Peer: l.Remote(), Stream: st})
}

// OnChat stamps the sender with the link's remote id; a peer cannot speak for
// someone else over its own channel.
func (o *linkObserver) OnChat(l *peer.Link, msg domain.ChatMessage) {
	msg.Sender = l.Remote()
	o.c.messages.Emit(msg)
}

func (o *linkObserver) OnStateChange(l *peer.Link, st peer.State) {
	o.c.logger.Debug().Str("peer", string(l.Remote())).Str("state", st.String()).Msg("link state")
}

func (o *linkObserver) OnFailed(l *peer.Link, err error) {
	o.c.mu.Lock()
	if o.s.links[l.Remote()] == l {
		delete(o.s.links, l.Remote())
	}
	o.c.mu.Unlock()
	o.c.logger.Warn().Err(err).Str("peer", string(l.Remote())).Msg("peer link failed")
	o.c.peerFailed.Emit(PeerFailure{Peer: l.Remote(), Err: &OpError{Op: "negotiate", Peer: l.Remote(), Err: err}})
}
