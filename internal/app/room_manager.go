package app

import (
	"sync"

	"github.com/dkeye/MeetLink/internal/core"
	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomManagerImpl is the room registry: room id -> membership. Rooms are
// created on first join and removed once they become empty.
type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]core.RoomService
}

func NewRoomManager() *RoomManagerImpl {
	return &RoomManagerImpl{rooms: make(map[domain.RoomID]core.RoomService)}
}

func (f *RoomManagerImpl) getOrCreate(id domain.RoomID) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[id]; ok {
		return room
	}
	room = core.NewRoomService(&domain.Room{ID: id})
	f.rooms[id] = room
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	return room
}

// drop removes the map entry only if it still points at room, so a fresh room
// created by a concurrent join is left alone.
func (f *RoomManagerImpl) drop(id domain.RoomID, room core.RoomService) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.rooms[id]; ok && cur == room {
		delete(f.rooms, id)
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room deleted")
	}
}

// Join admits ms to the room, creating it if needed, and returns the other
// members. A join that races with the room emptying retries on a new room.
func (f *RoomManagerImpl) Join(id domain.RoomID, ms core.MemberSession) ([]domain.Member, core.PublishResult) {
	for {
		room := f.getOrCreate(id)
		others, res, ok := room.AddMember(ms)
		if ok {
			return others, res
		}
		f.drop(id, room)
	}
}

// Leave is a no-op for unknown rooms or non-members.
func (f *RoomManagerImpl) Leave(id domain.RoomID, sid domain.SessionID) core.LeaveResult {
	room, ok := f.GetRoom(id)
	if !ok {
		return core.LeaveResult{}
	}
	res := room.RemoveMember(sid)
	if res.Empty {
		f.drop(id, room)
	}
	return res
}

// Broadcast delivers data to every member of id except from and exclude.
func (f *RoomManagerImpl) Broadcast(id domain.RoomID, from domain.SessionID, data core.Frame, exclude ...domain.SessionID) core.PublishResult {
	room, ok := f.GetRoom(id)
	if !ok {
		return core.PublishResult{}
	}
	return room.Broadcast(from, data, exclude...)
}

func (f *RoomManagerImpl) GetRoom(id domain.RoomID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, core.RoomInfo{ID: id, MemberCount: r.MemberCount()})
	}
	return out
}

// StopRoom closes and forgets the room, returning its former members.
func (f *RoomManagerImpl) StopRoom(id domain.RoomID) []core.MemberSession {
	f.mu.Lock()
	room, ok := f.rooms[id]
	delete(f.rooms, id)
	f.mu.Unlock()
	if !ok {
		return nil
	}
	return room.Close()
}
