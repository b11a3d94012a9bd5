package core

import "github.com/dkeye/MeetLink/internal/domain"

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	ID() domain.SessionID
	Meta() domain.Member
	Signal() SignalConnection
}
