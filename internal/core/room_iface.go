package core

import (
	"github.com/dkeye/MeetLink/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

func (r *PublishResult) merge(o PublishResult) {
	r.SendTo += o.SendTo
	r.Dropped = append(r.Dropped, o.Dropped...)
}

// LeaveResult describes the effect of removing a member.
type LeaveResult struct {
	PublishResult
	Removed bool
	Empty   bool
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []domain.Member
	Has(sid domain.SessionID) bool

	// AddMember admits ms, queues its room-joined ack and announces it. ok is
	// false when the room was already closed because it became empty; callers
	// retry on a fresh room.
	AddMember(ms MemberSession) (others []domain.Member, res PublishResult, ok bool)
	RemoveMember(sid domain.SessionID) LeaveResult
	Broadcast(from domain.SessionID, data Frame, exclude ...domain.SessionID) PublishResult
	SendTo(sid domain.SessionID, data Frame) error
	Close() []MemberSession
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}

type RoomManager interface {
	Join(id domain.RoomID, ms MemberSession) ([]domain.Member, PublishResult)
	Leave(id domain.RoomID, sid domain.SessionID) LeaveResult
	GetRoom(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id domain.RoomID) []MemberSession
}
