package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var ErrNoDevice = errors.New("no capture device")

type Constraints struct {
	Audio bool
	Video bool
}

// Capturer is the capture capability provided by the host.
type Capturer interface {
	AcquireLocalMedia(ctx context.Context, c Constraints) (*TrackSet, error)
	AcquireDisplayMedia(ctx context.Context) (*TrackSet, error)
}

// SampleCapturer produces sample-fed tracks (Opus audio, VP8 video). The host
// application writes encoded samples into them; a headless participant may
// leave them idle.
type SampleCapturer struct {
	StreamID      string
	NoDisplay     bool
	NoLocalDevice bool
}

func (c *SampleCapturer) streamID() string {
	if c.StreamID != "" {
		return c.StreamID
	}
	return "meetlink"
}

func (c *SampleCapturer) AcquireLocalMedia(ctx context.Context, cons Constraints) (*TrackSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.NoLocalDevice {
		return nil, ErrNoDevice
	}
	set := &TrackSet{}
	if cons.Audio {
		t, err := newSampleTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", c.streamID())
		if err != nil {
			return nil, err
		}
		set.Audio = NewLocalTrack(SourceMicrophone, t)
	}
	if cons.Video {
		t, err := newSampleTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "camera", c.streamID())
		if err != nil {
			return nil, err
		}
		set.Video = NewLocalTrack(SourceCamera, t)
	}
	return set, nil
}

func (c *SampleCapturer) AcquireDisplayMedia(ctx context.Context) (*TrackSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.NoDisplay {
		return nil, ErrNoDevice
	}
	t, err := newSampleTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "screen", c.streamID())
	if err != nil {
		return nil, err
	}
	return &TrackSet{Video: NewLocalTrack(SourceScreen, t)}, nil
}

func newSampleTrack(c webrtc.RTPCodecCapability, prefix, streamID string) (*webrtc.TrackLocalStaticSample, error) {
	t, err := webrtc.NewTrackLocalStaticSample(c, prefix+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", prefix, err)
	}
	return t, nil
}
