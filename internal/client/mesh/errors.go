package mesh

import (
	"errors"

	"github.com/dkeye/MeetLink/internal/client/peer"
	"github.com/dkeye/MeetLink/internal/domain"
)

var (
	ErrDeviceUnavailable    = errors.New("capture device unavailable")
	ErrSignalingUnreachable = errors.New("signaling server unreachable")
	ErrSignalingLost        = errors.New("signaling connection lost")
	ErrNegotiationFailed    = peer.ErrNegotiationFailed
	ErrNotJoined            = errors.New("not joined to a room")
	ErrAlreadyJoined        = errors.New("already joined to a room")
	ErrJoinTimeout          = errors.New("timed out waiting for room-joined")
	ErrJoinRejected         = errors.New("join rejected by relay")
	ErrNoTrack              = errors.New("no local track of that kind")
)

// OpError records which coordinator operation failed and, when it concerns a
// single link, the remote participant.
type OpError struct {
	Op   string
	Peer domain.SessionID
	Err  error
}

func (e *OpError) Error() string {
	if e.Peer != "" {
		return e.Op + " " + string(e.Peer) + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }
