package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/rtchat-server/internal/store"
	"github.com/vovakirdan/rtchat-server/internal/utils"
)

// Renderer turns an event into the frame a given viewer receives.
// A nil frame means the viewer gets nothing for this event.
type Renderer interface {
	Render(ctx context.Context, viewer Identity, ev Event) ([]byte, error)
}

// Options tunes sessions created by the hub.
type Options struct {
	QueueSize        int
	MaxMessageLength int
	MessageRate      float64 // messages per second per session, 0 disables the limit
	MessageBurst     int
	HistoryLimit     int
	OnlineRoom       string
	PublicRoom       string // shown on the online-status channel
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		QueueSize:        64,
		MaxMessageLength: 300,
		MessageRate:      5,
		MessageBurst:     10,
		HistoryLimit:     100,
		OnlineRoom:       "online-status",
		PublicRoom:       "public-chat",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.QueueSize <= 0 {
		o.QueueSize = def.QueueSize
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = def.MaxMessageLength
	}
	if o.MessageBurst <= 0 {
		o.MessageBurst = def.MessageBurst
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = def.HistoryLimit
	}
	if o.OnlineRoom == "" {
		o.OnlineRoom = def.OnlineRoom
	}
	if o.PublicRoom == "" {
		o.PublicRoom = def.PublicRoom
	}
	return o
}

// Hub wires the registry, router, notifier and moderator together and is the
// entry point used by the transport layer.
type Hub struct {
	store     store.Store
	renderer  Renderer
	registry  *Registry
	router    *Router
	notifier  *Notifier
	watchers  *Notifier // online-status sessions by identity
	moderator *Moderator
	opts      Options
	log       *zerolog.Logger
}

// NewHub creates a hub backed by st.
func NewHub(st store.Store, renderer Renderer, opts Options, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	router := NewRouter()
	notifier := NewNotifier()
	registry := NewRegistry(st, router, logger)
	h := &Hub{
		store:     st,
		renderer:  renderer,
		registry:  registry,
		router:    router,
		notifier:  notifier,
		watchers:  NewNotifier(),
		moderator: NewModerator(registry, router, notifier, logger),
		opts:      opts.withDefaults(),
		log:       logger,
	}
	registry.onPresence = h.presenceMoved
	return h
}

// Options returns the effective options.
func (h *Hub) Options() Options {
	return h.opts
}

// ConnectRoom opens a room session. Group rooms are joined implicitly; private
// rooms require membership. On failure nothing is registered and the error
// matches ErrConnectionRejected.
func (h *Hub) ConnectRoom(ctx context.Context, roomID string, identity Identity) (*Session, error) {
	return h.connect(ctx, roomID, identity, KindRoom)
}

// ConnectOnline opens a session on the online-status room. Its frames are
// OnlineStatus views, recomputed whenever presence changes in the online-status
// room, the public chat or one of the identity's rooms.
func (h *Hub) ConnectOnline(ctx context.Context, identity Identity) (*Session, error) {
	return h.connect(ctx, h.opts.OnlineRoom, identity, KindOnline)
}

func (h *Hub) connect(ctx context.Context, roomID string, identity Identity, kind SessionKind) (*Session, error) {
	if err := h.registry.Join(ctx, roomID, identity); err != nil {
		return nil, rejected(err)
	}

	s := newSession(h, identity, roomID, kind)
	if !h.router.Subscribe(roomID, s) {
		return nil, rejected(ErrRoomNotFound)
	}

	if kind == KindOnline {
		h.watchers.Subscribe(s)
	}

	online, err := h.registry.Connect(ctx, roomID, identity, s.ID)
	if err != nil {
		h.router.Unsubscribe(roomID, s)
		h.watchers.Unsubscribe(s)
		return nil, rejected(err)
	}
	s.activate()
	if kind == KindOnline {
		s.enqueue(OnlineStatusPing{Room: roomID})
	}

	h.log.Debug().
		Str("room_id", roomID).
		Int64("user_id", identity.ID).
		Str("session_id", s.ID).
		Int("online", online).
		Msg("session connected")
	return s, nil
}

// ConnectNotifications opens the personal notification session of identity.
// The first frame is the current unread summary.
func (h *Hub) ConnectNotifications(_ context.Context, identity Identity) (*Session, error) {
	s := newSession(h, identity, "", KindNotifications)
	h.notifier.Subscribe(s)
	s.activate()
	s.enqueue(NotificationPing{})

	h.log.Debug().
		Int64("user_id", identity.ID).
		Str("session_id", s.ID).
		Msg("notification session connected")
	return s, nil
}

// disconnect unregisters s. It runs once per session from Session.Close.
func (h *Hub) disconnect(s *Session) {
	switch s.Kind {
	case KindNotifications:
		h.notifier.Unsubscribe(s)
	case KindOnline:
		h.watchers.Unsubscribe(s)
		h.router.Unsubscribe(s.Room, s)
		h.registry.Disconnect(s.Room, s.Identity.ID, s.ID)
	case KindRoom:
		h.router.Unsubscribe(s.Room, s)
		h.registry.Disconnect(s.Room, s.Identity.ID, s.ID)
	}

	h.log.Debug().
		Str("room_id", s.Room).
		Int64("user_id", s.Identity.ID).
		Str("session_id", s.ID).
		AnErr("reason", s.Err()).
		Msg("session closed")
}

func (h *Hub) validateBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > h.opts.MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return body, nil
}

// PostMessage stores a text message, broadcasts it to the room and pings the
// notification sessions of the other members.
func (h *Hub) PostMessage(ctx context.Context, roomID string, author Identity, body string) (*Message, error) {
	body, err := h.validateBody(body)
	if err != nil {
		return nil, err
	}
	return h.post(ctx, author, &store.Message{
		RoomID:    roomID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	})
}

// PostFile stores a message that references an uploaded file and broadcasts it.
func (h *Hub) PostFile(ctx context.Context, roomID string, author Identity, file FileRef) (*Message, error) {
	if file.Ref == "" {
		return nil, ErrBadRequest
	}
	return h.post(ctx, author, &store.Message{
		RoomID:      roomID,
		FileRef:     file.Ref,
		FileName:    file.Name,
		ContentType: file.ContentType,
		FileSize:    file.Size,
		CreatedAt:   time.Now().UTC(),
	})
}

func (h *Hub) post(ctx context.Context, author Identity, msg *store.Message) (*Message, error) {
	created, members, err := h.registry.Post(ctx, author, msg)
	if err != nil {
		return nil, err
	}
	pinged := h.notifier.Notify(created.Room, author.ID, members)

	h.log.Debug().
		Str("room_id", created.Room).
		Int64("user_id", author.ID).
		Int64("message_id", created.ID).
		Int("pinged", pinged).
		Msg("message posted")
	return &created, nil
}

// CanAccess authorizes identity for reading a room, joining group rooms on the way.
func (h *Hub) CanAccess(ctx context.Context, roomID string, identity Identity) error {
	return h.registry.Join(ctx, roomID, identity)
}

// History returns the latest messages of a room in chronological order.
func (h *Hub) History(ctx context.Context, roomID string, identity Identity) ([]Message, error) {
	if err := h.registry.Join(ctx, roomID, identity); err != nil {
		return nil, err
	}
	msgs, err := h.store.ListMessages(ctx, roomID, h.opts.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	slices.Reverse(msgs)
	return MessagesFromStore(msgs), nil
}

// Room returns a snapshot of a room visible to identity.
func (h *Hub) Room(ctx context.Context, roomID string, identity Identity) (RoomSnapshot, error) {
	if err := h.registry.Join(ctx, roomID, identity); err != nil {
		return RoomSnapshot{}, err
	}
	return h.registry.Snapshot(ctx, roomID)
}

// CreateRoom creates a group room administered by creator and returns its id.
func (h *Hub) CreateRoom(ctx context.Context, name string, creator Identity) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrBadRequest
	}

	meta, err := h.store.CreateRoom(ctx, utils.NewRoomID(), name, store.RoomKindGroup, &creator.ID)
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	h.registry.add(meta, []int64{creator.ID})

	h.log.Info().Str("room_id", meta.ID).Int64("user_id", creator.ID).Msg("room created")
	return meta.ID, nil
}

// OpenPrivate returns the private room of a and b, creating it on first use.
func (h *Hub) OpenPrivate(ctx context.Context, a Identity, b int64) (string, error) {
	if a.ID == b {
		return "", ErrBadRequest
	}
	if _, err := h.store.GetUserByID(ctx, b); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("get user: %w", err)
	}

	first, second := min(a.ID, b), max(a.ID, b)
	key := fmt.Sprintf("dm:%d:%d", first, second)
	room, err := h.store.CreateDirectRoom(ctx, utils.NewRoomID(), key, first, second)
	if err != nil {
		return "", fmt.Errorf("create direct room: %w", err)
	}
	return room.ID, nil
}

// RenameRoom renames a group room. Only its admin may do it.
func (h *Hub) RenameRoom(ctx context.Context, roomID string, actor Identity, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrBadRequest
	}
	return h.registry.Rename(ctx, roomID, actor.ID, name)
}

// DeleteRoom deletes a group room. Every live session of the room receives a
// final room_deleted frame and closes.
func (h *Hub) DeleteRoom(ctx context.Context, roomID string, actor Identity) error {
	if err := h.registry.Delete(ctx, roomID, actor.ID); err != nil {
		return err
	}
	sessions := h.router.Drop(roomID)

	h.log.Info().
		Str("room_id", roomID).
		Int64("user_id", actor.ID).
		Int("sessions", len(sessions)).
		Msg("room deleted")
	return nil
}

// Leave removes identity from a group room and closes its sessions there.
func (h *Hub) Leave(ctx context.Context, roomID string, identity Identity) error {
	if err := h.registry.Leave(ctx, roomID, identity); err != nil {
		return err
	}
	for _, s := range h.router.Evict(roomID, identity.ID) {
		s.Close()
	}
	return nil
}

// Ban bans target from a room on behalf of actor.
func (h *Hub) Ban(ctx context.Context, roomID string, actor int64, target Identity) error {
	return h.moderator.Ban(ctx, roomID, actor, target)
}

// Unban lifts a ban on behalf of actor.
func (h *Hub) Unban(ctx context.Context, roomID string, actor int64, target Identity) error {
	return h.moderator.Unban(ctx, roomID, actor, target)
}

// MarkSeen sets the seen flag of a message in one of identity's rooms and
// refreshes identity's notification sessions.
func (h *Hub) MarkSeen(ctx context.Context, messageID int64, identity Identity) (*Message, error) {
	m, err := h.store.MarkSeen(ctx, messageID, identity.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("mark seen: %w", err)
	}
	h.notifier.Ping(identity.ID, NotificationPing{Room: m.RoomID, From: identity.ID})

	msg := messageFromStore(m)
	return &msg, nil
}

// Rooms lists public rooms and the rooms identity belongs to.
func (h *Hub) Rooms(ctx context.Context, identity Identity) ([]*store.Room, error) {
	rooms, err := h.store.ListRooms(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// User resolves a user id to an identity.
func (h *Hub) User(ctx context.Context, id int64) (Identity, error) {
	u, err := h.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Identity{}, ErrUserNotFound
		}
		return Identity{}, fmt.Errorf("get user: %w", err)
	}
	return Identity{ID: u.ID, Name: u.Username}, nil
}

// presenceMoved pings the online-status sessions whose view depends on the
// presence of roomID. It runs under the room mutex and never blocks.
func (h *Hub) presenceMoved(roomID string, kind store.RoomKind, members []int64) {
	ping := OnlineStatusPing{Room: roomID}
	switch {
	case roomID == h.opts.OnlineRoom:
		// Watchers are subscribed to it and get its PresenceChanged directly.
	case roomID == h.opts.PublicRoom:
		h.watchers.PingAll(ping)
	case kind != store.RoomKindPublic:
		for _, id := range members {
			h.watchers.Ping(id, ping)
		}
	}
}

// OnlineStatus computes what the online-status channel shows viewer.
func (h *Hub) OnlineStatus(ctx context.Context, viewer Identity) (OnlineStatus, error) {
	others := func(roomID string) []Identity {
		return lo.Reject(h.registry.Online(roomID), func(id Identity, _ int) bool { return id.ID == viewer.ID })
	}

	rooms, err := h.store.ListRooms(ctx, viewer.ID)
	if err != nil {
		return OnlineStatus{}, fmt.Errorf("list rooms: %w", err)
	}

	status := OnlineStatus{
		Room:   h.opts.OnlineRoom,
		Online: others(h.opts.OnlineRoom),
		Public: others(h.opts.PublicRoom),
	}
	for _, r := range rooms {
		if r.Kind == store.RoomKindPublic {
			continue
		}
		if len(others(r.ID)) > 0 {
			status.Chats = append(status.Chats, r.ID)
		}
	}
	return status, nil
}

// Online returns the identities online in a room.
func (h *Hub) Online(roomID string) []Identity {
	return h.registry.Online(roomID)
}

// CheckInvariants verifies the state of every loaded room.
func (h *Hub) CheckInvariants() error {
	return h.registry.CheckInvariants()
}
