package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a unique constraint rejects a write.
var ErrConflict = errors.New("already exists")

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// RoomKind defines different kinds of rooms.
type RoomKind string

const (
	// RoomKindPublic rooms have no membership restriction.
	RoomKindPublic RoomKind = "public"
	// RoomKindPrivate rooms are closed two-member conversations.
	RoomKindPrivate RoomKind = "private"
	// RoomKindGroup rooms are joinable and moderated by an admin.
	RoomKindGroup RoomKind = "group"
)

// Room represents a chat room.
type Room struct {
	ID        string
	Name      string
	Kind      RoomKind
	AdminID   *int64  // nil for public and private rooms
	DirectKey *string // for private rooms: "dm:{minUserId}:{maxUserId}"
	CreatedAt time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID          int64
	RoomID      string
	UserID      int64
	Username    string
	Body        string
	FileRef     string
	FileName    string
	ContentType string
	FileSize    int64
	Seen        bool
	CreatedAt   time.Time
}

// UnreadSummary is what a notification connection shows for one user.
type UnreadSummary struct {
	Count  int
	Latest []*Message
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// RoomStore handles room persistence.
type RoomStore interface {
	// CreateRoom creates a new room with the given identifier.
	CreateRoom(ctx context.Context, id, name string, kind RoomKind, adminID *int64) (*Room, error)

	// CreateDirectRoom returns the private room for directKey, creating it with
	// both users as members if it does not exist yet.
	CreateDirectRoom(ctx context.Context, id, directKey string, user1ID, user2ID int64) (*Room, error)

	// GetRoom retrieves a room by ID.
	GetRoom(ctx context.Context, id string) (*Room, error)

	// ListRooms lists all rooms visible to a user.
	ListRooms(ctx context.Context, userID int64) ([]*Room, error)

	// RenameRoom updates the display name of a room.
	RenameRoom(ctx context.Context, id, name string) error

	// DeleteRoom removes a room together with its members, bans and messages.
	DeleteRoom(ctx context.Context, id string) error
}

// MemberStore handles membership and ban lists.
type MemberStore interface {
	AddMember(ctx context.Context, roomID string, userID int64) error
	RemoveMember(ctx context.Context, roomID string, userID int64) error
	IsMember(ctx context.Context, roomID string, userID int64) (bool, error)
	ListMembers(ctx context.Context, roomID string) ([]int64, error)

	// BanMember removes the user from the member list and records the ban atomically.
	BanMember(ctx context.Context, roomID string, userID int64) error
	UnbanMember(ctx context.Context, roomID string, userID int64) error
	ListBans(ctx context.Context, roomID string) ([]int64, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message and fills in its ID.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// ListMessages returns the latest messages of a room, newest first.
	ListMessages(ctx context.Context, roomID string, limit int) ([]*Message, error)

	// MarkSeen flips the seen flag of a message in one of the user's rooms.
	MarkSeen(ctx context.Context, messageID, userID int64) (*Message, error)

	// UnreadSummary counts unseen messages written by others in the user's
	// non-public rooms and returns the latest of them.
	UnreadSummary(ctx context.Context, userID int64, limit int) (*UnreadSummary, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	RoomStore
	MemberStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
