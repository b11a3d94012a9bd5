// Package media holds the local capture side of a session: the tracks this
// participant sends and the capability that produces them.
package media

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

type Source string

const (
	SourceMicrophone Source = "microphone"
	SourceCamera     Source = "camera"
	SourceScreen     Source = "screen"
)

var ErrTrackStopped = errors.New("track stopped")

// LocalTrack is one captured track. Muting flips Enabled; the track stays
// attached to every peer so no renegotiation is needed.
type LocalTrack struct {
	source Source
	track  webrtc.TrackLocal

	enabled atomic.Bool
	stopped atomic.Bool

	mu      sync.Mutex
	onEnded []func()
}

func NewLocalTrack(source Source, track webrtc.TrackLocal) *LocalTrack {
	t := &LocalTrack{source: source, track: track}
	t.enabled.Store(true)
	return t
}

func (t *LocalTrack) ID() string                    { return t.track.ID() }
func (t *LocalTrack) Kind() webrtc.RTPCodecType     { return t.track.Kind() }
func (t *LocalTrack) Source() Source                { return t.source }
func (t *LocalTrack) TrackLocal() webrtc.TrackLocal { return t.track }
func (t *LocalTrack) Enabled() bool                 { return t.enabled.Load() }
func (t *LocalTrack) SetEnabled(v bool)             { t.enabled.Store(v) }
func (t *LocalTrack) Stopped() bool                 { return t.stopped.Load() }

// Stop releases the capture. It does not fire OnEnded handlers.
func (t *LocalTrack) Stop() {
	t.stopped.Store(true)
}

// End is called by the capture host when the track ends on its own (device
// unplugged, display share stopped from the host UI). Handlers run once.
func (t *LocalTrack) End() {
	if !t.stopped.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	handlers := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

func (t *LocalTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = append(t.onEnded, fn)
}

// WriteSample pushes one encoded sample. Disabled tracks swallow samples,
// which peers observe as silence or a frozen frame.
func (t *LocalTrack) WriteSample(s pionmedia.Sample) error {
	if t.stopped.Load() {
		return io.ErrClosedPipe
	}
	if !t.enabled.Load() {
		return nil
	}
	w, ok := t.track.(interface {
		WriteSample(pionmedia.Sample) error
	})
	if !ok {
		return errors.New("track does not accept samples")
	}
	return w.WriteSample(s)
}

// TrackSet is what one capture call returned.
type TrackSet struct {
	Audio *LocalTrack
	Video *LocalTrack
}

func (s *TrackSet) Tracks() []*LocalTrack {
	if s == nil {
		return nil
	}
	out := make([]*LocalTrack, 0, 2)
	if s.Audio != nil {
		out = append(out, s.Audio)
	}
	if s.Video != nil {
		out = append(out, s.Video)
	}
	return out
}

func (s *TrackSet) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// Snapshot is the immutable set of tracks currently sent to peers, one per
// kind. A new snapshot is published whenever the outgoing set changes.
type Snapshot struct {
	Audio *LocalTrack
	Video *LocalTrack
}

func (s *Snapshot) Tracks() []*LocalTrack {
	if s == nil {
		return nil
	}
	ts := TrackSet{Audio: s.Audio, Video: s.Video}
	return ts.Tracks()
}
