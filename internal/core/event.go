package core

// Event is something that happened in a room and must reach subscribed sessions.
// Events live only in memory; they are never persisted.
type Event interface {
	// RoomID returns the room the event belongs to. NotificationPing may carry
	// an empty room when it is not tied to a specific message.
	RoomID() string
	isEvent()
}

// MessageCreated announces a new text or file message.
type MessageCreated struct {
	Room    string
	Message Message
}

// PresenceChanged carries the full set of identities online in a room.
type PresenceChanged struct {
	Room   string
	Online []Identity
}

// UserBanned tells the room that Target was banned. For sessions of Target it is
// the last event they ever deliver.
type UserBanned struct {
	Room   string
	Target Identity
}

// UserUnbanned tells the room and Target that the ban was lifted.
type UserUnbanned struct {
	Room   string
	Target Identity
}

// RoomDeleted is the last event every session of a deleted room delivers.
type RoomDeleted struct {
	Room string
}

// NotificationPing asks a notification session to recompute its unread summary.
type NotificationPing struct {
	Room string
	From int64
}

// OnlineStatusPing asks online-status sessions to recompute their view after
// presence changed in Room.
type OnlineStatusPing struct {
	Room string
}

// OnlineStatus is what the online-status channel shows one viewer. The viewer
// is never part of it.
type OnlineStatus struct {
	Room   string
	Online []Identity // online in the online-status room
	Public []Identity // online in the public chat
	Chats  []string   // viewer's private and group rooms with someone else online
}

// InChats reports whether anybody else is online in the public chat or in one
// of the viewer's rooms.
func (s OnlineStatus) InChats() bool {
	return len(s.Public) > 0 || len(s.Chats) > 0
}

func (e MessageCreated) RoomID() string   { return e.Room }
func (e PresenceChanged) RoomID() string  { return e.Room }
func (e UserBanned) RoomID() string       { return e.Room }
func (e UserUnbanned) RoomID() string     { return e.Room }
func (e RoomDeleted) RoomID() string      { return e.Room }
func (e NotificationPing) RoomID() string { return e.Room }
func (e OnlineStatusPing) RoomID() string { return e.Room }
func (e OnlineStatus) RoomID() string     { return e.Room }

func (MessageCreated) isEvent()   {}
func (PresenceChanged) isEvent()  {}
func (UserBanned) isEvent()       {}
func (UserUnbanned) isEvent()     {}
func (RoomDeleted) isEvent()      {}
func (NotificationPing) isEvent() {}
func (OnlineStatusPing) isEvent() {}
func (OnlineStatus) isEvent()     {}

// critical events are never dropped by a full outbox.
func critical(ev Event) bool {
	switch ev.(type) {
	case UserBanned, RoomDeleted:
		return true
	case MessageCreated, PresenceChanged, UserUnbanned, NotificationPing, OnlineStatusPing, OnlineStatus:
		return false
	default:
		return false
	}
}

// terminal reports whether ev ends a session owned by viewer, and with which error.
func terminal(ev Event, viewer Identity) (bool, error) {
	switch e := ev.(type) {
	case UserBanned:
		if e.Target.ID == viewer.ID {
			return true, ErrBanned
		}
	case RoomDeleted:
		return true, ErrRoomDeleted
	case MessageCreated, PresenceChanged, UserUnbanned, NotificationPing, OnlineStatusPing, OnlineStatus:
	}
	return false, nil
}
