package proto

// Inbound is the frame a room session sends.
type Inbound struct {
	Body string `json:"body"`
}

const (
	ProtocolVersion = 1

	OutboundTypeMessage        = "message"
	OutboundTypePresence       = "presence"
	OutboundTypeBanned         = "banned"
	OutboundTypeMemberBanned   = "member_banned"
	OutboundTypeMemberUnbanned = "member_unbanned"
	OutboundTypeUnbanned       = "unbanned"
	OutboundTypeRoomDeleted    = "room_deleted"
	OutboundTypeNotifications  = "notifications"
	OutboundTypeOnlineStatus   = "online_status"
	OutboundTypeError          = "error"
)

// Outbound is the envelope for frames sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// User identifies a participant on the wire.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// File describes an attachment.
type File struct {
	Ref         string `json:"ref"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
}

// Message is a chat message as the client sees it.
type Message struct {
	ID     int64  `json:"id"`
	Room   string `json:"room"`
	Author User   `json:"author"`
	Body   string `json:"body,omitempty"`
	File   *File  `json:"file,omitempty"`
	Seen   bool   `json:"seen"`
	TS     int64  `json:"ts"`
	Own    bool   `json:"own"`
}

// Presence lists who else is online in a room.
type Presence struct {
	Room   string `json:"room"`
	Count  int    `json:"count"`
	Online []User `json:"online"`
}

// Moderation tells about a ban or unban in a room.
type Moderation struct {
	Room string `json:"room"`
	User User   `json:"user"`
}

// RoomClosed is sent before a session ends because its room went away.
type RoomClosed struct {
	Room string `json:"room"`
}

// OnlineStatus is a user's view of who else is around.
type OnlineStatus struct {
	Room          string   `json:"room"`
	Count         int      `json:"count"`
	Online        []User   `json:"online"`
	PublicChat    []User   `json:"public_chat"`
	Chats         []string `json:"chats"`
	OnlineInChats bool     `json:"online_in_chats"`
}

// Notifications is the unread summary of a user.
type Notifications struct {
	Count  int       `json:"count"`
	Latest []Message `json:"latest"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
