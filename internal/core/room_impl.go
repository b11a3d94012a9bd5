package core

import (
	"errors"
	"slices"
	"sync"

	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/dkeye/MeetLink/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrNotMember = errors.New("not a member of the room")

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room   *domain.Room
	mu     sync.RWMutex
	bySID  map[domain.SessionID]MemberSession
	order  []domain.SessionID
	closed bool
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:  room,
		bySID: make(map[domain.SessionID]MemberSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) Has(sid domain.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bySID[sid]
	return ok
}

// AddMember queues, under the room lock: user-joined for every existing member
// to the newcomer, then the newcomer's room-joined ack, then user-joined for
// the newcomer to every existing member. A member therefore sees every
// user-joined sent before its ack listed in that ack, and no member sees a
// partially applied join.
func (r *roomImpl) AddMember(ms MemberSession) ([]domain.Member, PublishResult, bool) {
	sid := ms.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, PublishResult{}, false
	}

	others := make([]domain.Member, 0, len(r.order))
	for _, id := range r.order {
		if id == sid {
			continue
		}
		others = append(others, r.bySID[id].Meta())
	}

	res := PublishResult{}
	frames := make([]Frame, 0, len(others)+1)
	for _, m := range others {
		frames = append(frames, mustEncode(protocol.UserJoined(m)))
	}
	frames = append(frames, mustEncode(protocol.RoomJoined(r.room.ID, sid, others)))
	for _, f := range frames {
		if err := ms.Signal().TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, ms)
			break
		}
		res.SendTo++
	}

	if _, ok := r.bySID[sid]; !ok {
		r.order = append(r.order, sid)
	}
	r.bySID[sid] = ms
	res.merge(r.broadcastLocked(sid, mustEncode(protocol.UserJoined(ms.Meta())), nil))

	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Int("others", len(others)).Msg("member added")
	return others, res, true
}

// RemoveMember drops sid. An emptied room is closed; otherwise the remaining
// members get user-left.
func (r *roomImpl) RemoveMember(sid domain.SessionID) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; !ok {
		return LeaveResult{Empty: len(r.bySID) == 0}
	}
	delete(r.bySID, sid)
	r.order = slices.DeleteFunc(r.order, func(id domain.SessionID) bool { return id == sid })

	out := LeaveResult{Removed: true}
	if len(r.bySID) == 0 {
		r.closed = true
		out.Empty = true
	} else {
		out.PublishResult = r.broadcastLocked(sid, mustEncode(protocol.UserLeft(sid)), nil)
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Bool("empty", out.Empty).Msg("member removed")
	return out
}

func (r *roomImpl) Broadcast(from domain.SessionID, data Frame, exclude ...domain.SessionID) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := r.broadcastLocked(from, data, exclude)
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) broadcastLocked(from domain.SessionID, data Frame, exclude []domain.SessionID) PublishResult {
	res := PublishResult{}
	for _, sid := range r.order {
		if sid == from || slices.Contains(exclude, sid) {
			continue
		}
		m := r.bySID[sid]
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	return res
}

func (r *roomImpl) SendTo(sid domain.SessionID, data Frame) error {
	r.mu.RLock()
	m, ok := r.bySID[sid]
	r.mu.RUnlock()
	if !ok {
		return ErrNotMember
	}
	return m.Signal().TrySend(data)
}

func (r *roomImpl) MembersSnapshot() []domain.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Member, 0, len(r.order))
	for _, sid := range r.order {
		out = append(out, r.bySID[sid].Meta())
	}
	return out
}

// Close marks the room closed and hands back its members so the caller can
// disconnect them.
func (r *roomImpl) Close() []MemberSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	out := make([]MemberSession, 0, len(r.order))
	for _, sid := range r.order {
		out = append(out, r.bySID[sid])
	}
	return out
}

func mustEncode(m *protocol.Message) Frame {
	b, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("type", string(m.Type)).Msg("encode event")
		return nil
	}
	return b
}
