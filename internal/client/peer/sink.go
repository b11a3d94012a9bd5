package peer

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type SinkState int32

const (
	SinkStateOk SinkState = iota
	SinkStateMuted
	SinkStateDelete
)

// RTPWriter receives forwarded packets. *webrtc.TrackLocalStaticRTP fits.
type RTPWriter interface {
	WriteRTP(pkt *rtp.Packet) error
}

// Sink is one consumer of a remote track.
type Sink struct {
	W     RTPWriter
	state atomic.Int32
}

func NewSink(w RTPWriter) *Sink {
	return &Sink{W: w}
}

func (s *Sink) State() SinkState { return SinkState(s.state.Load()) }
func (s *Sink) MarkOk()          { s.state.Store(int32(SinkStateOk)) }
func (s *Sink) MarkMuted()       { s.state.Store(int32(SinkStateMuted)) }
func (s *Sink) MarkDelete()      { s.state.Store(int32(SinkStateDelete)) }
