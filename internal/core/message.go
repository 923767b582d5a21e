package core

import (
	"time"

	"github.com/vovakirdan/rtchat-server/internal/store"
)

// Identity is the authenticated user behind a session. It never changes for
// the lifetime of a connection.
type Identity struct {
	ID   int64
	Name string
}

// FileRef points at an uploaded file attached to a message.
type FileRef struct {
	Ref         string
	Name        string
	ContentType string
	Size        int64
}

// Message is the domain model for a chat message.
type Message struct {
	ID        int64
	Room      string
	Author    Identity
	Body      string
	File      *FileRef
	Seen      bool
	CreatedAt time.Time
}

func messageFromStore(m *store.Message) Message {
	msg := Message{
		ID:        m.ID,
		Room:      m.RoomID,
		Author:    Identity{ID: m.UserID, Name: m.Username},
		Body:      m.Body,
		Seen:      m.Seen,
		CreatedAt: m.CreatedAt,
	}
	if m.FileRef != "" {
		msg.File = &FileRef{
			Ref:         m.FileRef,
			Name:        m.FileName,
			ContentType: m.ContentType,
			Size:        m.FileSize,
		}
	}
	return msg
}

// MessagesFromStore converts persisted messages into domain messages.
func MessagesFromStore(msgs []*store.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageFromStore(m))
	}
	return out
}
