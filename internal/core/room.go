package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/vovakirdan/rtchat-server/internal/store"
)

// presence tracks the live sessions of one identity in a room.
type presence struct {
	identity Identity
	sessions map[string]struct{}
}

// Room holds the in-memory state of one room. Every field below mu is guarded
// by it, and every mutation of a room happens with mu held.
type Room struct {
	ID   string
	Kind store.RoomKind

	mu      sync.Mutex
	name    string
	adminID int64 // 0 when the room has no admin
	members map[int64]struct{}
	banned  map[int64]struct{}
	online  map[int64]*presence
	deleted bool
}

func newRoom(meta *store.Room, members, banned []int64) *Room {
	r := &Room{
		ID:      meta.ID,
		Kind:    meta.Kind,
		name:    meta.Name,
		members: make(map[int64]struct{}, len(members)),
		banned:  make(map[int64]struct{}, len(banned)),
		online:  make(map[int64]*presence),
	}
	if meta.AdminID != nil {
		r.adminID = *meta.AdminID
	}
	for _, id := range members {
		r.members[id] = struct{}{}
	}
	for _, id := range banned {
		r.banned[id] = struct{}{}
		delete(r.members, id)
	}
	return r
}

func (r *Room) isMember(id int64) bool {
	_, ok := r.members[id]
	return ok
}

func (r *Room) isBanned(id int64) bool {
	_, ok := r.banned[id]
	return ok
}

// canEnter reports whether id may read from and write to the room.
func (r *Room) canEnter(id int64) error {
	if r.deleted {
		return ErrRoomNotFound
	}
	if r.isBanned(id) {
		return ErrAlreadyBanned
	}
	if r.Kind != store.RoomKindPublic && !r.isMember(id) {
		return ErrNotAuthorized
	}
	return nil
}

func (r *Room) onlineIdentities() []Identity {
	out := make([]Identity, 0, len(r.online))
	for _, p := range r.online {
		out = append(out, p.identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Room) memberIDs() []int64 {
	ids := lo.Keys(r.members)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Room) bannedIDs() []int64 {
	ids := lo.Keys(r.banned)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// check verifies the set invariants of the room.
func (r *Room) check() error {
	if both := lo.Intersect(lo.Keys(r.members), lo.Keys(r.banned)); len(both) > 0 {
		return fmt.Errorf("room %s: banned users %v are members", r.ID, both)
	}
	for id, p := range r.online {
		if len(p.sessions) == 0 {
			return fmt.Errorf("room %s: user %d online without sessions", r.ID, id)
		}
		if r.isBanned(id) {
			return fmt.Errorf("room %s: banned user %d is online", r.ID, id)
		}
		if r.Kind != store.RoomKindPublic && !r.isMember(id) {
			return fmt.Errorf("room %s: non-member %d is online", r.ID, id)
		}
	}
	return nil
}

// RoomSnapshot is a consistent copy of a room's state.
type RoomSnapshot struct {
	ID      string
	Name    string
	Kind    store.RoomKind
	AdminID int64
	Members []int64
	Banned  []int64
	Online  []Identity
}

func (r *Room) snapshot() RoomSnapshot {
	return RoomSnapshot{
		ID:      r.ID,
		Name:    r.name,
		Kind:    r.Kind,
		AdminID: r.adminID,
		Members: r.memberIDs(),
		Banned:  r.bannedIDs(),
		Online:  r.onlineIdentities(),
	}
}
