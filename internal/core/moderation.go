package core

import (
	"context"

	"github.com/rs/zerolog"
)

// Moderator applies ban and unban decisions made by a room's admin and makes them
// visible to live sessions right away.
type Moderator struct {
	registry *Registry
	router   *Router
	notifier *Notifier
	log      *zerolog.Logger
}

// NewModerator creates a moderator over the given components.
func NewModerator(registry *Registry, router *Router, notifier *Notifier, logger *zerolog.Logger) *Moderator {
	return &Moderator{
		registry: registry,
		router:   router,
		notifier: notifier,
		log:      logger,
	}
}

func (m *Moderator) authorize(ctx context.Context, roomID string, actor, target int64) error {
	snap, err := m.registry.Snapshot(ctx, roomID)
	if err != nil {
		return err
	}
	if snap.AdminID == 0 || snap.AdminID != actor || actor == target {
		return ErrNotAuthorized
	}
	return nil
}

// Ban bans target from the room. The room receives UserBanned; target's
// sessions deliver it as their last frame and are removed from the room topic.
func (m *Moderator) Ban(ctx context.Context, roomID string, actor int64, target Identity) error {
	if err := m.authorize(ctx, roomID, actor, target.ID); err != nil {
		return err
	}
	if err := m.registry.Ban(ctx, roomID, target); err != nil {
		return err
	}
	evicted := m.router.Evict(roomID, target.ID)

	m.log.Info().
		Str("room_id", roomID).
		Int64("actor_id", actor).
		Int64("user_id", target.ID).
		Int("sessions", len(evicted)).
		Msg("user banned")
	return nil
}

// Unban lifts a ban. The room receives UserUnbanned and target's notification
// sessions are pinged so its clients can enable the room again.
func (m *Moderator) Unban(ctx context.Context, roomID string, actor int64, target Identity) error {
	if err := m.authorize(ctx, roomID, actor, target.ID); err != nil {
		return err
	}
	if err := m.registry.Unban(ctx, roomID, target); err != nil {
		return err
	}
	m.notifier.Ping(target.ID, UserUnbanned{Room: roomID, Target: target})

	m.log.Info().
		Str("room_id", roomID).
		Int64("actor_id", actor).
		Int64("user_id", target.ID).
		Msg("user unbanned")
	return nil
}
