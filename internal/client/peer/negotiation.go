package peer

import (
	"fmt"
	"time"

	"github.com/dkeye/MeetLink/internal/client/media"
	"github.com/dkeye/MeetLink/internal/protocol"
	"github.com/pion/webrtc/v4"
)

func (l *Link) ensureTransport() error {
	if l.transport != nil {
		return nil
	}
	tr, err := l.factory.NewTransport(l.cfg.Remote)
	if err != nil {
		return fmt.Errorf("%w: create transport: %w", ErrNegotiationFailed, err)
	}
	l.transport = tr

	tr.OnICECandidate(func(c webrtc.ICECandidateInit) {
		l.enqueue(func() { l.sendCandidate(c) })
	})
	tr.OnTrack(func(t RemoteTrack) {
		l.enqueue(func() { l.addRemoteTrack(t) })
	})
	tr.OnDataChannel(func(dc DataChannel) {
		if dc.Label() != protocol.ChatChannelLabel {
			return
		}
		l.enqueue(func() { l.bindChat(dc) })
	})
	tr.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		l.logger.Debug().Str("transport", s.String()).Msg("transport state")
		if s == webrtc.PeerConnectionStateFailed {
			l.enqueue(func() { l.fail(fmt.Errorf("%w: %w", ErrNegotiationFailed, ErrTransportFailed)) })
		}
	})

	if _, err := l.syncTracks(); err != nil {
		return err
	}
	return nil
}

// syncTracks makes the senders match the current snapshot, one per kind.
// Kinds already attached get their track replaced rather than re-added.
func (l *Link) syncTracks() (bool, error) {
	var snap *media.Snapshot
	if l.tracks != nil {
		snap = l.tracks()
	}
	want := make(map[webrtc.RTPCodecType]*media.LocalTrack, 2)
	for _, t := range snap.Tracks() {
		want[t.Kind()] = t
	}

	changed := false
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		t, cur := want[kind], l.senders[kind]
		switch {
		case t == nil && cur == nil:
		case t == nil:
			if cur.trackID == "" {
				continue
			}
			if err := cur.sender.ReplaceTrack(nil); err != nil {
				return changed, fmt.Errorf("%w: detach %s track: %w", ErrNegotiationFailed, kind, err)
			}
			cur.trackID = ""
			changed = true
		case cur == nil:
			s, err := l.transport.AddTrack(t.TrackLocal())
			if err != nil {
				return changed, fmt.Errorf("%w: add %s track: %w", ErrNegotiationFailed, kind, err)
			}
			l.senders[kind] = &trackSender{sender: s, trackID: t.ID()}
			changed = true
		case cur.trackID != t.ID():
			if err := cur.sender.ReplaceTrack(t.TrackLocal()); err != nil {
				return changed, fmt.Errorf("%w: replace %s track: %w", ErrNegotiationFailed, kind, err)
			}
			cur.trackID = t.ID()
			changed = true
		}
	}

	attached := make([]string, 0, len(l.senders))
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if s := l.senders[kind]; s != nil && s.trackID != "" {
			attached = append(attached, s.trackID)
		}
	}
	l.mu.Lock()
	l.attached = attached
	l.mu.Unlock()
	return changed, nil
}

func (l *Link) sendOffer() {
	desc, err := l.transport.CreateOffer()
	if err != nil {
		l.fail(fmt.Errorf("%w: create offer: %w", ErrNegotiationFailed, err))
		return
	}
	if err := l.sendDescription(protocol.TypeOffer, desc); err != nil {
		l.fail(err)
		return
	}
	l.awaitingAnswer = true
	l.armAnswerTimer()
}

// answer applies a remote offer and replies. It reports false after failing
// the link.
func (l *Link) answer(desc webrtc.SessionDescription) bool {
	if err := l.transport.SetRemoteDescription(desc); err != nil {
		l.fail(fmt.Errorf("%w: set remote offer: %w", ErrNegotiationFailed, err))
		return false
	}
	l.remoteSet = true
	l.flushICE()

	ans, err := l.transport.CreateAnswer()
	if err != nil {
		l.fail(fmt.Errorf("%w: create answer: %w", ErrNegotiationFailed, err))
		return false
	}
	if err := l.sendDescription(protocol.TypeAnswer, ans); err != nil {
		l.fail(err)
		return false
	}
	return true
}

func (l *Link) handleOffer(desc webrtc.SessionDescription) {
	switch st := l.currentState(); st {
	case StateIdle:
		if err := l.ensureTransport(); err != nil {
			l.fail(err)
			return
		}
		l.setState(StateAnswering)
		if !l.answer(desc) {
			return
		}
		l.setState(StateConnected)
		l.flushRenegotiation()

	case StateConnected:
		l.setState(StateRenegotiating)
		if !l.answer(desc) {
			return
		}
		l.setState(StateConnected)
		l.flushRenegotiation()

	case StateOffering, StateRenegotiating:
		if l.cfg.Role == RoleInitiator {
			l.logger.Debug().Str("state", st.String()).Msg("offer collision, keeping local offer")
			return
		}
		l.logger.Debug().Str("state", st.String()).Msg("offer collision, rolling back local offer")
		if err := l.transport.Rollback(); err != nil {
			l.fail(fmt.Errorf("%w: rollback: %w", ErrNegotiationFailed, err))
			return
		}
		l.awaitingAnswer = false
		l.stopAnswerTimer()
		l.pendingRenego = true
		l.forceOffer = true
		if !l.answer(desc) {
			return
		}
		l.setState(StateConnected)
		l.flushRenegotiation()

	default:
		l.logger.Debug().Str("state", st.String()).Msg("offer dropped")
	}
}

func (l *Link) handleAnswer(desc webrtc.SessionDescription) {
	st := l.currentState()
	if !l.awaitingAnswer || (st != StateOffering && st != StateRenegotiating) {
		l.logger.Debug().Str("state", st.String()).Msg("unexpected answer dropped")
		return
	}
	l.awaitingAnswer = false
	l.stopAnswerTimer()

	if err := l.transport.SetRemoteDescription(desc); err != nil {
		l.fail(fmt.Errorf("%w: set remote answer: %w", ErrNegotiationFailed, err))
		return
	}
	l.remoteSet = true
	l.flushICE()
	l.setState(StateConnected)
	l.flushRenegotiation()
}

func (l *Link) handleCandidate(c webrtc.ICECandidateInit) {
	if l.currentState() == StateClosed {
		return
	}
	if l.transport == nil || !l.remoteSet {
		l.pendingICE = append(l.pendingICE, c)
		return
	}
	if err := l.transport.AddICECandidate(c); err != nil {
		l.logger.Warn().Err(err).Msg("add ice candidate")
	}
}

func (l *Link) flushICE() {
	pending := l.pendingICE
	l.pendingICE = nil
	for _, c := range pending {
		if err := l.transport.AddICECandidate(c); err != nil {
			l.logger.Warn().Err(err).Msg("add buffered ice candidate")
		}
	}
}

func (l *Link) renegotiate() {
	switch l.currentState() {
	case StateConnected:
		l.renegotiateNow(false)
	case StateOffering, StateAnswering, StateRenegotiating:
		l.pendingRenego = true
	}
}

func (l *Link) renegotiateNow(force bool) {
	changed, err := l.syncTracks()
	if err != nil {
		l.fail(err)
		return
	}
	if !changed && !force {
		return
	}
	l.setState(StateRenegotiating)
	l.sendOffer()
}

func (l *Link) flushRenegotiation() {
	if !l.pendingRenego || l.currentState() != StateConnected {
		return
	}
	force := l.forceOffer
	l.pendingRenego, l.forceOffer = false, false
	l.renegotiateNow(force)
}

func (l *Link) armAnswerTimer() {
	l.stopAnswerTimer()
	gen := l.timerGen
	l.answerTimer = time.AfterFunc(l.cfg.AnswerTimeout, func() {
		l.enqueue(func() {
			if gen != l.timerGen || !l.awaitingAnswer {
				return
			}
			l.fail(fmt.Errorf("%w: %w", ErrNegotiationFailed, ErrAnswerTimeout))
		})
	})
}

func (l *Link) stopAnswerTimer() {
	if l.answerTimer != nil {
		l.answerTimer.Stop()
		l.answerTimer = nil
	}
	l.timerGen++
}

func (l *Link) sendDescription(t protocol.Type, desc webrtc.SessionDescription) error {
	m, err := protocol.NewEnvelope(t, l.cfg.Room, l.cfg.Remote, desc)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrNegotiationFailed, t, err)
	}
	if err := l.signaler.Send(m); err != nil {
		return fmt.Errorf("%w: send %s: %w", ErrNegotiationFailed, t, err)
	}
	return nil
}

func (l *Link) sendCandidate(c webrtc.ICECandidateInit) {
	m, err := protocol.NewEnvelope(protocol.TypeCandidate, l.cfg.Room, l.cfg.Remote, c)
	if err != nil {
		l.logger.Warn().Err(err).Msg("encode ice candidate")
		return
	}
	if err := l.signaler.Send(m); err != nil {
		l.logger.Warn().Err(err).Msg("send ice candidate")
	}
}

func (l *Link) addRemoteTrack(t RemoteTrack) {
	relay, added := l.stream.add(t)
	if !added {
		l.logger.Debug().Str("track", t.ID()).Msg("duplicate remote track ignored")
		return
	}
	l.logger.Info().Str("track", t.ID()).Str("kind", t.Kind().String()).Msg("remote track")
	go relay.loop(l.ctx, &l.logger)
	go requestKeyframes(l.ctx, l.transport, t, l.cfg.PLIInterval, &l.logger)
	if len(l.stream.Tracks()) == 1 {
		l.observer.OnRemoteStream(l, l.stream)
	}
}

func (l *Link) bindChat(dc DataChannel) {
	if l.dataChannel != nil && l.dataChannel != dc {
		_ = l.dataChannel.Close()
	}
	l.dataChannel = dc
	open := func() {
		l.mu.Lock()
		if l.state != StateClosed {
			l.chat = dc
		}
		l.mu.Unlock()
	}
	dc.OnOpen(func() {
		l.logger.Debug().Msg("chat channel open")
		open()
	})
	dc.OnClose(func() {
		l.mu.Lock()
		if l.chat == dc {
			l.chat = nil
		}
		l.mu.Unlock()
	})
	dc.OnMessage(func(data []byte) {
		if l.closed.Load() {
			return
		}
		msg, err := protocol.DecodeChatFrame(data)
		if err != nil {
			l.logger.Warn().Err(err).Msg("bad chat frame dropped")
			return
		}
		l.observer.OnChat(l, msg)
	})
	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		open()
	}
}
