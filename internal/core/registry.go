package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/rtchat-server/internal/store"
)

// Publisher delivers room-scoped events. Router implements it.
type Publisher interface {
	Publish(room string, ev Event) int
}

// Registry owns the in-memory state of every loaded room: metadata, member and
// ban sets, and presence. Rooms are loaded from the store on first use.
//
// The registry mutex guards only the room map. Mutations of a room hold that
// room's mutex alone, so different rooms never block one another. Events caused
// by a mutation are published while the room mutex is held, which gives every
// subscriber the same order of presence and membership changes.
type Registry struct {
	store store.Store
	pub   Publisher
	log   *zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
	// onPresence runs with the room mutex held after presence of a room changed.
	// members lists the identities whose view of the room may have changed.
	onPresence func(roomID string, kind store.RoomKind, members []int64)

	// deleted holds ids of rooms deleted while the process runs. A load that
	// read the store before the delete must not put the room back.
	deleted map[string]struct{}
}

// NewRegistry creates an empty registry backed by st.
func NewRegistry(st store.Store, pub Publisher, logger *zerolog.Logger) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Registry{
		store: st,
		pub:   pub,
		log:   logger,
		rooms:   make(map[string]*Room),
		deleted: make(map[string]struct{}),
	}
}

// room returns the loaded room, loading it from the store when needed.
func (r *Registry) room(ctx context.Context, id string) (*Room, error) {
	r.mu.RLock()
	room, ok := r.rooms[id]
	r.mu.RUnlock()
	if ok {
		return room, nil
	}

	meta, err := r.store.GetRoom(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("load room: %w", err)
	}
	members, err := r.store.ListMembers(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	banned, err := r.store.ListBans(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load bans: %w", err)
	}

	loaded := newRoom(meta, members, banned)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rooms[id]; ok {
		return existing, nil
	}
	if _, gone := r.deleted[id]; gone {
		return nil, ErrRoomNotFound
	}
	r.rooms[id] = loaded
	return loaded, nil
}

func (r *Registry) cached(id string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[id]
}

// add registers a room that was just created in the store.
func (r *Registry) add(meta *store.Room, members []int64) {
	room := newRoom(meta, members, nil)
	r.mu.Lock()
	r.rooms[meta.ID] = room
	r.mu.Unlock()
}

func (r *Registry) forget(id string) {
	r.mu.Lock()
	delete(r.rooms, id)
	r.deleted[id] = struct{}{}
	r.mu.Unlock()
}

// verify logs a broken invariant. It must be called with room.mu held.
func (r *Registry) verify(room *Room) {
	if err := room.check(); err != nil {
		r.log.Error().Err(err).Str("room_id", room.ID).Msg("room invariant violated")
	}
}

// publishPresence must be called with room.mu held. removed names identities
// that just lost membership and still need to hear about it.
func (r *Registry) publishPresence(room *Room, removed ...int64) {
	r.pub.Publish(room.ID, PresenceChanged{Room: room.ID, Online: room.onlineIdentities()})
	r.presenceMoved(room, removed...)
}

func (r *Registry) presenceMoved(room *Room, removed ...int64) {
	if r.onPresence != nil {
		r.onPresence(room.ID, room.Kind, append(room.memberIDs(), removed...))
	}
}

// Join makes identity a member of a joinable room. It is idempotent. Public
// rooms need no membership and private rooms cannot be joined, only entered by
// their two members.
func (r *Registry) Join(ctx context.Context, roomID string, identity Identity) error {
	room, err := r.room(ctx, roomID)
	if err != nil {
		return err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.deleted {
		return ErrRoomNotFound
	}
	if room.isBanned(identity.ID) {
		return ErrAlreadyBanned
	}

	switch room.Kind {
	case store.RoomKindPublic:
		return nil
	case store.RoomKindPrivate:
		if !room.isMember(identity.ID) {
			return ErrNotAuthorized
		}
		return nil
	case store.RoomKindGroup:
		if room.isMember(identity.ID) {
			return nil
		}
		if err := r.store.AddMember(ctx, roomID, identity.ID); err != nil {
			return fmt.Errorf("add member: %w", err)
		}
		room.members[identity.ID] = struct{}{}
		r.verify(room)
		return nil
	default:
		return fmt.Errorf("room %s: unknown kind %q", roomID, room.Kind)
	}
}

// Connect marks sessionID of identity as online in the room and returns the
// number of distinct identities online. Presence is published when identity
// was not online before.
func (r *Registry) Connect(ctx context.Context, roomID string, identity Identity, sessionID string) (int, error) {
	room, err := r.room(ctx, roomID)
	if err != nil {
		return 0, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if err := room.canEnter(identity.ID); err != nil {
		return 0, err
	}

	p, ok := room.online[identity.ID]
	if !ok {
		p = &presence{identity: identity, sessions: make(map[string]struct{})}
		room.online[identity.ID] = p
	}
	p.sessions[sessionID] = struct{}{}
	r.verify(room)

	if !ok {
		r.publishPresence(room)
	}
	return len(room.online), nil
}

// Disconnect removes sessionID from the room's presence. The identity goes
// offline only with its last session. Unknown rooms or sessions are a no-op,
// which covers sessions whose presence was already cleared by a ban.
func (r *Registry) Disconnect(roomID string, identityID int64, sessionID string) int {
	room := r.cached(roomID)
	if room == nil {
		return 0
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	p, ok := room.online[identityID]
	if !ok {
		return len(room.online)
	}
	if _, ok := p.sessions[sessionID]; !ok {
		return len(room.online)
	}
	delete(p.sessions, sessionID)
	if len(p.sessions) > 0 {
		return len(room.online)
	}

	delete(room.online, identityID)
	r.verify(room)
	if !room.deleted {
		r.publishPresence(room)
	}
	return len(room.online)
}

// Post authorizes author, persists msg and publishes it as MessageCreated.
// It returns the members to notify.
func (r *Registry) Post(ctx context.Context, author Identity, msg *store.Message) (Message, []int64, error) {
	room, err := r.room(ctx, msg.RoomID)
	if err != nil {
		return Message{}, nil, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if err := room.canEnter(author.ID); err != nil {
		return Message{}, nil, err
	}

	msg.UserID = author.ID
	msg.Username = author.Name
	if err := r.store.SaveMessage(ctx, msg); err != nil {
		return Message{}, nil, fmt.Errorf("save message: %w", err)
	}

	created := messageFromStore(msg)
	r.pub.Publish(room.ID, MessageCreated{Room: room.ID, Message: created})
	return created, room.memberIDs(), nil
}

// Ban moves target from the member set to the ban set, clears its presence and
// publishes UserBanned. Presence is republished when target was online.
func (r *Registry) Ban(ctx context.Context, roomID string, target Identity) error {
	room, err := r.room(ctx, roomID)
	if err != nil {
		return err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.deleted {
		return ErrRoomNotFound
	}
	if room.isBanned(target.ID) {
		return ErrAlreadyBanned
	}
	if !room.isMember(target.ID) {
		return ErrTargetNotMember
	}

	if err := r.store.BanMember(ctx, roomID, target.ID); err != nil {
		return fmt.Errorf("ban member: %w", err)
	}

	delete(room.members, target.ID)
	room.banned[target.ID] = struct{}{}
	_, wasOnline := room.online[target.ID]
	delete(room.online, target.ID)
	r.verify(room)

	r.pub.Publish(room.ID, UserBanned{Room: room.ID, Target: target})
	if wasOnline {
		r.publishPresence(room, target.ID)
	}
	return nil
}

// Unban lifts a ban. The user is not made a member again; a group room is
// rejoined on the next connection.
func (r *Registry) Unban(ctx context.Context, roomID string, target Identity) error {
	room, err := r.room(ctx, roomID)
	if err != nil {
		return err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.deleted {
		return ErrRoomNotFound
	}
	if !room.isBanned(target.ID) {
		return ErrNotBanned
	}

	if err := r.store.UnbanMember(ctx, roomID, target.ID); err != nil {
		return fmt.Errorf("unban member: %w", err)
	}
	delete(room.banned, target.ID)
	r.verify(room)

	r.pub.Publish(room.ID, UserUnbanned{Room: room.ID, Target: target})
	return nil
}

// Leave removes identity from a group room's members and presence.
// The admin cannot leave; the room has to be deleted instead.
func (r *Registry) Leave(ctx context.Context, roomID string, identity Identity) error {
	room, err := r.room(ctx, roomID)
	if err != nil {
		return err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.deleted {
		return ErrRoomNotFound
	}
	if room.Kind != store.RoomKindGroup || room.adminID == identity.ID {
		return ErrNotAuthorized
	}
	if !room.isMember(identity.ID) {
		return ErrTargetNotMember
	}

	if err := r.store.RemoveMember(ctx, roomID, identity.ID); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	delete(room.members, identity.ID)
	_, wasOnline := room.online[identity.ID]
	delete(room.online, identity.ID)
	r.verify(room)

	if wasOnline {
		r.publishPresence(room, identity.ID)
	}
	return nil
}

// Rename changes the display name of a group room. Only the admin may do it.
func (r *Registry) Rename(ctx context.Context, roomID string, actorID int64, name string) error {
	room, err := r.room(ctx, roomID)
	if err != nil {
		return err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.deleted {
		return ErrRoomNotFound
	}
	if room.adminID == 0 || room.adminID != actorID {
		return ErrNotAuthorized
	}
	if err := r.store.RenameRoom(ctx, roomID, name); err != nil {
		return fmt.Errorf("rename room: %w", err)
	}
	room.name = name
	return nil
}

// Delete removes a group room and publishes RoomDeleted to its sessions.
// Only the admin may do it.
func (r *Registry) Delete(ctx context.Context, roomID string, actorID int64) error {
	room, err := r.room(ctx, roomID)
	if err != nil {
		return err
	}

	room.mu.Lock()
	if room.deleted {
		room.mu.Unlock()
		return ErrRoomNotFound
	}
	if room.adminID == 0 || room.adminID != actorID {
		room.mu.Unlock()
		return ErrNotAuthorized
	}
	if err := r.store.DeleteRoom(ctx, roomID); err != nil {
		room.mu.Unlock()
		return fmt.Errorf("delete room: %w", err)
	}
	room.deleted = true
	wasOnline := len(room.online) > 0
	room.online = make(map[int64]*presence)
	r.pub.Publish(room.ID, RoomDeleted{Room: room.ID})
	if wasOnline {
		r.presenceMoved(room)
	}
	room.mu.Unlock()

	r.forget(roomID)
	return nil
}

// Snapshot returns a consistent copy of a room's state.
func (r *Registry) Snapshot(ctx context.Context, roomID string) (RoomSnapshot, error) {
	room, err := r.room(ctx, roomID)
	if err != nil {
		return RoomSnapshot{}, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.deleted {
		return RoomSnapshot{}, ErrRoomNotFound
	}
	return room.snapshot(), nil
}

// Online returns the identities online in a loaded room.
func (r *Registry) Online(roomID string) []Identity {
	room := r.cached(roomID)
	if room == nil {
		return nil
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.onlineIdentities()
}

// CheckInvariants verifies every loaded room.
func (r *Registry) CheckInvariants() error {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	var errs []error
	for _, room := range rooms {
		room.mu.Lock()
		errs = append(errs, room.check())
		room.mu.Unlock()
	}
	return errors.Join(errs...)
}
