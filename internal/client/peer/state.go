package peer

import "errors"

type State int32

const (
	StateIdle State = iota
	StateOffering
	StateAnswering
	StateConnected
	StateRenegotiating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateRenegotiating:
		return "renegotiating"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Role decides who sends the first offer. The initiator is also the impolite
// side when offers collide.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

var (
	ErrNegotiationFailed = errors.New("negotiation failed")
	ErrAnswerTimeout     = errors.New("answer timeout")
	ErrTransportFailed   = errors.New("transport failed")
	ErrLinkClosed        = errors.New("link closed")
)
