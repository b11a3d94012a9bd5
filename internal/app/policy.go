package app

import (
	"github.com/dkeye/MeetLink/internal/core"
	"github.com/dkeye/MeetLink/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

const (
	SlowConsumerKick       = "kick"
	SlowConsumerDropOldest = "drop_oldest"
)

// Policy decides what happens to a member whose outbound queue rejected a
// frame.
type Policy interface {
	OnBackPressure(room domain.RoomID, member core.MemberSession) BackpressureAction
}

// SimplePolicy disconnects slow consumers; they rejoin with a fresh queue.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomID, core.MemberSession) BackpressureAction {
	return KickMember
}

// DropPolicy keeps slow consumers connected and loses the frame.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.RoomID, core.MemberSession) BackpressureAction {
	return DropFrame
}

func PolicyFor(slowConsumer string) Policy {
	if slowConsumer == SlowConsumerDropOldest {
		return DropPolicy{}
	}
	return SimplePolicy{}
}
