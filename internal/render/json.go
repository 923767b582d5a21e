package render

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"

	"github.com/vovakirdan/rtchat-server/internal/core"
	"github.com/vovakirdan/rtchat-server/internal/proto"
	"github.com/vovakirdan/rtchat-server/internal/store"
)

// FileURLPrefix is where uploaded files are served from.
const FileURLPrefix = "/api/files/"

// JSON renders events as proto.Outbound envelopes.
type JSON struct {
	summaries *Summarizer
}

var _ core.Renderer = (*JSON)(nil)

// NewJSON creates a JSON renderer. Notification frames need summaries.
func NewJSON(summaries *Summarizer) *JSON {
	return &JSON{summaries: summaries}
}

// Render implements core.Renderer.
func (j *JSON) Render(ctx context.Context, viewer core.Identity, ev core.Event) ([]byte, error) {
	out, err := j.envelope(ctx, viewer, ev)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return json.Marshal(out)
}

func (j *JSON) envelope(ctx context.Context, viewer core.Identity, ev core.Event) (*proto.Outbound, error) {
	switch e := ev.(type) {
	case core.MessageCreated:
		return &proto.Outbound{Type: proto.OutboundTypeMessage, Data: Message(e.Message, viewer.ID)}, nil

	case core.PresenceChanged:
		others := lo.Filter(e.Online, func(id core.Identity, _ int) bool { return id.ID != viewer.ID })
		return &proto.Outbound{Type: proto.OutboundTypePresence, Data: proto.Presence{
			Room:   e.Room,
			Count:  len(others),
			Online: users(others),
		}}, nil

	case core.UserBanned:
		typ := proto.OutboundTypeMemberBanned
		if e.Target.ID == viewer.ID {
			typ = proto.OutboundTypeBanned
		}
		return &proto.Outbound{Type: typ, Data: proto.Moderation{Room: e.Room, User: user(e.Target)}}, nil

	case core.UserUnbanned:
		typ := proto.OutboundTypeMemberUnbanned
		if e.Target.ID == viewer.ID {
			typ = proto.OutboundTypeUnbanned
		}
		return &proto.Outbound{Type: typ, Data: proto.Moderation{Room: e.Room, User: user(e.Target)}}, nil

	case core.RoomDeleted:
		return &proto.Outbound{Type: proto.OutboundTypeRoomDeleted, Data: proto.RoomClosed{Room: e.Room}}, nil

	case core.OnlineStatus:
		return &proto.Outbound{Type: proto.OutboundTypeOnlineStatus, Data: proto.OnlineStatus{
			Room:          e.Room,
			Count:         len(e.Online),
			Online:        users(e.Online),
			PublicChat:    users(e.Public),
			Chats:         lo.Ternary(e.Chats == nil, []string{}, e.Chats),
			OnlineInChats: e.InChats(),
		}}, nil

	case core.OnlineStatusPing:
		// Sessions resolve pings into OnlineStatus before rendering.
		return nil, nil

	case core.NotificationPing:
		if j.summaries == nil {
			return nil, nil
		}
		summary, err := j.summaries.Summary(ctx, viewer.ID)
		if err != nil {
			return nil, err
		}
		return &proto.Outbound{Type: proto.OutboundTypeNotifications, Data: Notifications(summary, viewer.ID)}, nil

	default:
		return nil, fmt.Errorf("render: unknown event %T", ev)
	}
}

func user(id core.Identity) proto.User {
	return proto.User{ID: id.ID, Name: id.Name}
}

func users(ids []core.Identity) []proto.User {
	return lo.Map(ids, func(id core.Identity, _ int) proto.User { return user(id) })
}

// Message converts a domain message for viewer.
func Message(m core.Message, viewer int64) proto.Message {
	out := proto.Message{
		ID:     m.ID,
		Room:   m.Room,
		Author: user(m.Author),
		Body:   m.Body,
		Seen:   m.Seen,
		TS:     m.CreatedAt.Unix(),
		Own:    m.Author.ID == viewer,
	}
	if m.File != nil {
		out.File = &proto.File{
			Ref:         m.File.Ref,
			Name:        m.File.Name,
			ContentType: m.File.ContentType,
			Size:        m.File.Size,
			URL:         FileURLPrefix + m.File.Ref,
		}
	}
	return out
}

// Messages converts a list of domain messages for viewer.
func Messages(msgs []core.Message, viewer int64) []proto.Message {
	return lo.Map(msgs, func(m core.Message, _ int) proto.Message { return Message(m, viewer) })
}

// Notifications converts an unread summary for viewer.
func Notifications(summary *store.UnreadSummary, viewer int64) proto.Notifications {
	return proto.Notifications{
		Count:  summary.Count,
		Latest: Messages(core.MessagesFromStore(summary.Latest), viewer),
	}
}
