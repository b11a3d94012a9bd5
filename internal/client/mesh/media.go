package mesh

import (
	"context"
	"errors"

	"github.com/dkeye/MeetLink/internal/client/media"
	"github.com/pion/webrtc/v4"
)

// ToggleTrack flips the enabled flag of the local track of kind. The track
// stays attached, so nothing is renegotiated or signaled.
func (c *Coordinator) ToggleTrack(kind webrtc.RTPCodecType) (bool, error) {
	s, ok := c.joinedSession()
	if !ok {
		return false, &OpError{Op: "toggle track", Err: ErrNotJoined}
	}
	var t *media.LocalTrack
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		t = s.local.Audio
	case webrtc.RTPCodecTypeVideo:
		t = s.local.Video
	}
	if t == nil {
		return false, &OpError{Op: "toggle track", Err: ErrNoTrack}
	}
	enabled := !t.Enabled()
	t.SetEnabled(enabled)
	c.logger.Info().Str("kind", kind.String()).Bool("enabled", enabled).Msg("local track toggled")
	return enabled, nil
}

// ToggleScreenShare starts or stops sending the display instead of the
// camera. It reports whether sharing is active afterwards.
func (c *Coordinator) ToggleScreenShare(ctx context.Context) (bool, error) {
	c.shareMu.Lock()
	defer c.shareMu.Unlock()

	s, ok := c.joinedSession()
	if !ok {
		return false, &OpError{Op: "share screen", Err: ErrNotJoined}
	}
	c.mu.Lock()
	current := s.screen
	c.mu.Unlock()
	if current != nil {
		c.stopShareLocked(s, current)
		return false, nil
	}

	set, err := c.opts.Capturer.AcquireDisplayMedia(ctx)
	if err != nil {
		return false, &OpError{Op: "share screen", Err: err}
	}
	if set == nil || set.Video == nil {
		return false, &OpError{Op: "share screen", Err: errors.New("display capture returned no video")}
	}
	screen := set.Video

	c.mu.Lock()
	if s.closed {
		c.mu.Unlock()
		screen.Stop()
		return false, &OpError{Op: "share screen", Err: ErrNotJoined}
	}
	s.screen = screen
	c.mu.Unlock()

	screen.OnEnded(func() {
		c.shareMu.Lock()
		defer c.shareMu.Unlock()
		c.logger.Info().Msg("display capture ended by host")
		c.stopShareLocked(s, screen)
	})

	c.snapshot.Store(&media.Snapshot{Audio: s.local.Audio, Video: screen})
	c.renegotiateAll(s)
	c.logger.Info().Str("track", screen.ID()).Msg("screen share started")
	return true, nil
}

// stopShareLocked restores the camera. Caller holds shareMu.
func (c *Coordinator) stopShareLocked(s *session, screen *media.LocalTrack) {
	c.mu.Lock()
	if s.screen != screen {
		c.mu.Unlock()
		return
	}
	s.screen = nil
	closed := s.closed
	c.mu.Unlock()

	screen.Stop()
	if closed {
		return
	}
	c.snapshot.Store(&media.Snapshot{Audio: s.local.Audio, Video: s.local.Video})
	c.renegotiateAll(s)
	c.logger.Info().Msg("screen share stopped")
}
