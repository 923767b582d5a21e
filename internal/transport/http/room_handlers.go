package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/rtchat-server/internal/core"
	"github.com/vovakirdan/rtchat-server/internal/proto"
	"github.com/vovakirdan/rtchat-server/internal/render"
	"github.com/vovakirdan/rtchat-server/internal/store"
)

// RoomHandlers provides HTTP handlers for room management and moderation.
type RoomHandlers struct {
	hub *core.Hub
	log *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(hub *core.Hub, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		hub: hub,
		log: logger,
	}
}

// CreateRoomRequest represents the create and rename room request body.
type CreateRoomRequest struct {
	Name string `json:"name" binding:"required,min=1,max=64"`
}

// UserRequest names the other party of a private room or a moderation target.
type UserRequest struct {
	UserID int64 `json:"user_id" binding:"required,gt=0"`
}

// RoomIDResponse is returned when a room is created or opened.
type RoomIDResponse struct {
	ID string `json:"id"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Kind      string       `json:"kind"`
	AdminID   *int64       `json:"admin_id,omitempty"`
	CreatedAt string       `json:"created_at,omitempty"`
	Members   []int64      `json:"members,omitempty"`
	Banned    []int64      `json:"banned,omitempty"`
	Online    []proto.User `json:"online,omitempty"`
}

func roomResponse(r *store.Room) RoomResponse {
	return RoomResponse{
		ID:        r.ID,
		Name:      r.Name,
		Kind:      string(r.Kind),
		AdminID:   r.AdminID,
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func snapshotResponse(s core.RoomSnapshot, viewer int64) RoomResponse {
	resp := RoomResponse{
		ID:      s.ID,
		Name:    s.Name,
		Kind:    string(s.Kind),
		Members: s.Members,
		Online: lo.Map(s.Online, func(id core.Identity, _ int) proto.User {
			return proto.User{ID: id.ID, Name: id.Name}
		}),
	}
	if s.AdminID != 0 {
		resp.AdminID = &s.AdminID
		// Only the admin sees the ban list.
		if s.AdminID == viewer {
			resp.Banned = s.Banned
		}
	}
	return resp
}

// ListRooms lists public rooms and the caller's rooms.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	rooms, err := h.hub.Rooms(c.Request.Context(), identity(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(rooms, func(r *store.Room, _ int) RoomResponse { return roomResponse(r) }))
}

// CreateRoom creates a group room administered by the caller.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		writeError(c, h.log, core.ErrBadRequest)
		return
	}

	id, err := h.hub.CreateRoom(c.Request.Context(), req.Name, identity(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, RoomIDResponse{ID: id})
}

// OpenPrivate returns the private room shared with another user, creating it
// on first use.
// POST /api/rooms/private
func (h *RoomHandlers) OpenPrivate(c *gin.Context) {
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.log, core.ErrBadRequest)
		return
	}

	id, err := h.hub.OpenPrivate(c.Request.Context(), identity(c), req.UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, RoomIDResponse{ID: id})
}

// GetRoom returns a snapshot of a room.
// GET /api/rooms/:room
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	caller := identity(c)
	snap, err := h.hub.Room(c.Request.Context(), c.Param("room"), caller)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, snapshotResponse(snap, caller.ID))
}

// RenameRoom renames a group room.
// PATCH /api/rooms/:room
func (h *RoomHandlers) RenameRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.log, core.ErrBadRequest)
		return
	}
	if err := h.hub.RenameRoom(c.Request.Context(), c.Param("room"), identity(c), req.Name); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteRoom deletes a group room and closes its sessions.
// DELETE /api/rooms/:room
func (h *RoomHandlers) DeleteRoom(c *gin.Context) {
	if err := h.hub.DeleteRoom(c.Request.Context(), c.Param("room"), identity(c)); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// LeaveRoom removes the caller from a group room.
// POST /api/rooms/:room/leave
func (h *RoomHandlers) LeaveRoom(c *gin.Context) {
	if err := h.hub.Leave(c.Request.Context(), c.Param("room"), identity(c)); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// History returns the latest messages of a room, oldest first.
// GET /api/rooms/:room/messages
func (h *RoomHandlers) History(c *gin.Context) {
	caller := identity(c)
	msgs, err := h.hub.History(c.Request.Context(), c.Param("room"), caller)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, render.Messages(msgs, caller.ID))
}

// MarkSeen marks a message as seen.
// POST /api/messages/:id/seen
func (h *RoomHandlers) MarkSeen(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, h.log, core.ErrBadRequest)
		return
	}
	caller := identity(c)
	msg, err := h.hub.MarkSeen(c.Request.Context(), id, caller)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, render.Message(*msg, caller.ID))
}

// Ban bans a member from a room.
// POST /api/rooms/:room/bans
func (h *RoomHandlers) Ban(c *gin.Context) {
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.log, core.ErrBadRequest)
		return
	}
	h.moderate(c, req.UserID, h.hub.Ban)
}

// Unban lifts a ban.
// DELETE /api/rooms/:room/bans/:user
func (h *RoomHandlers) Unban(c *gin.Context) {
	target, err := strconv.ParseInt(c.Param("user"), 10, 64)
	if err != nil || target <= 0 {
		writeError(c, h.log, core.ErrBadRequest)
		return
	}
	h.moderate(c, target, h.hub.Unban)
}

type moderationFunc func(ctx context.Context, roomID string, actor int64, target core.Identity) error

func (h *RoomHandlers) moderate(c *gin.Context, targetID int64, apply moderationFunc) {
	ctx := c.Request.Context()
	target, err := h.hub.User(ctx, targetID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if err := apply(ctx, c.Param("room"), identity(c).ID, target); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
