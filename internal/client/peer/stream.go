package peer

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var ErrUnknownTrack = errors.New("unknown remote track")

// RemoteStream merges every track received from one peer. Tracks are keyed
// by id, so a track announced twice is kept once.
type RemoteStream struct {
	peer domain.SessionID

	mu      sync.RWMutex
	order   []string
	relays  map[string]*trackRelay
	onTrack []func(RemoteTrack)
	closed  bool
}

type trackRelay struct {
	src RemoteTrack

	mu    sync.RWMutex
	sinks map[string]*Sink
}

func newRemoteStream(peer domain.SessionID) *RemoteStream {
	return &RemoteStream{peer: peer, relays: make(map[string]*trackRelay)}
}

func (s *RemoteStream) Peer() domain.SessionID { return s.peer }

func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RemoteTrack, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.relays[id].src)
	}
	return out
}

// OnTrack registers fn for tracks added after the call.
func (s *RemoteStream) OnTrack(fn func(RemoteTrack)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTrack = append(s.onTrack, fn)
}

// AddSink attaches w to the track with the given id under name.
func (s *RemoteStream) AddSink(trackID, name string, w RTPWriter) (*Sink, error) {
	s.mu.RLock()
	r, ok := s.relays[trackID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownTrack
	}
	sink := NewSink(w)
	r.mu.Lock()
	r.sinks[name] = sink
	r.mu.Unlock()
	return sink, nil
}

// add reports whether t was new.
func (s *RemoteStream) add(t RemoteTrack) (*trackRelay, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false
	}
	if _, dup := s.relays[t.ID()]; dup {
		s.mu.Unlock()
		return nil, false
	}
	r := &trackRelay{src: t, sinks: make(map[string]*Sink)}
	s.relays[t.ID()] = r
	s.order = append(s.order, t.ID())
	handlers := append([]func(RemoteTrack){}, s.onTrack...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(t)
	}
	return r, true
}

func (s *RemoteStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, r := range s.relays {
		r.markAllDelete()
	}
}

// loop drains the source track and forwards packets to every sink.
func (r *trackRelay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			r.markAllDelete()
			return
		default:
		}
		pkt, err := r.src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Str("track", r.src.ID()).Msg("remote track read stopped")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *trackRelay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.sinks)
	r.mu.RUnlock()

	var dirty []string
	for name, sink := range snapshot {
		switch sink.State() {
		case SinkStateDelete:
			dirty = append(dirty, name)
		case SinkStateMuted:
		case SinkStateOk:
			if err := sink.W.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Str("sink", name).Msg("sink write failed, dropping sink")
				sink.MarkDelete()
				dirty = append(dirty, name)
			}
		}
	}
	if len(dirty) > 0 {
		r.mu.Lock()
		for _, name := range dirty {
			delete(r.sinks, name)
		}
		r.mu.Unlock()
	}
}

func (r *trackRelay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sink := range r.sinks {
		sink.MarkDelete()
	}
}

// requestKeyframes sends a picture loss indication for a remote video track
// every interval so decoders recover after loss.
func requestKeyframes(ctx context.Context, tr Transport, t RemoteTrack, interval time.Duration, logger *zerolog.Logger) {
	if t.Kind() != webrtc.RTPCodecTypeVideo || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tr.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(t.SSRC())}}); err != nil {
				logger.Debug().Err(err).Str("track", t.ID()).Msg("pli write failed")
				return
			}
		}
	}
}
