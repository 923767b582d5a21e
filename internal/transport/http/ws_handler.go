package http

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/rtchat-server/internal/core"
	"github.com/vovakirdan/rtchat-server/internal/proto"
)

const (
	wsReadLimit    = 16 << 10
	wsWriteTimeout = 10 * time.Second
)

// WSHandlers upgrades HTTP connections and bridges them to core sessions.
// The session is opened before the upgrade, so a rejected connection gets a
// plain HTTP error and never a websocket.
type WSHandlers struct {
	hub *core.Hub
	log *zerolog.Logger
}

// NewWSHandlers builds the websocket handlers.
func NewWSHandlers(hub *core.Hub, logger *zerolog.Logger) *WSHandlers {
	return &WSHandlers{hub: hub, log: logger}
}

// Room serves a room session.
// GET /ws/rooms/:room
func (h *WSHandlers) Room(c *gin.Context) {
	s, err := h.hub.ConnectRoom(c.Request.Context(), c.Param("room"), identity(c))
	h.serve(c, s, err)
}

// Online serves an online-status session.
// GET /ws/online
func (h *WSHandlers) Online(c *gin.Context) {
	s, err := h.hub.ConnectOnline(c.Request.Context(), identity(c))
	h.serve(c, s, err)
}

// Notifications serves the caller's personal notification session.
// GET /ws/notifications
func (h *WSHandlers) Notifications(c *gin.Context) {
	s, err := h.hub.ConnectNotifications(c.Request.Context(), identity(c))
	h.serve(c, s, err)
}

func (h *WSHandlers) serve(c *gin.Context, s *core.Session, err error) {
	if err != nil {
		h.log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("ws connection rejected")
		writeError(c, h.log, err)
		return
	}
	defer s.Close()

	logger := h.log.With().
		Str("session_id", s.ID).
		Str("room_id", s.Room).
		Int64("user_id", s.Identity.ID).
		Logger()

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Error().Err(err).Msg("ws accept error")
		return
	}
	conn.SetReadLimit(wsReadLimit)
	logger.Debug().Msg("ws session started")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, s, &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, s)
	}()

	err = <-errCh
	status, reason := closeStatus(err)
	if status == websocket.StatusInternalError {
		logger.Warn().Err(err).Msg("ws connection closed with error")
	}
	// Close before cancelling so the peer gets our status, not a cancelled read.
	_ = conn.Close(status, reason)
	cancel()
	<-errCh

	logger.Debug().Int("dropped", s.Dropped()).Str("reason", reason).Msg("ws session ended")
}

// readLoop feeds inbound frames to the session. A bad frame is reported to
// this session only and never ends it.
func (h *WSHandlers) readLoop(ctx context.Context, conn *websocket.Conn, s *core.Session, logger *zerolog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText || s.Kind != core.KindRoom {
			logger.Debug().Msg("ignoring inbound frame")
			continue
		}

		err = s.Receive(ctx, data)
		if err == nil || errors.Is(err, core.ErrSessionClosed) {
			continue
		}
		code, msg := errorBody(err)
		if code == codeInternal {
			logger.Error().Err(err).Msg("inbound frame failed")
		} else {
			logger.Debug().Err(err).Str("code", code).Msg("inbound frame rejected")
		}

		wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		err = wsjson.Write(wctx, conn, proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: code, Msg: msg},
		})
		cancel()
		if err != nil {
			return err
		}
	}
}

// writeLoop writes rendered events in queue order until the session ends.
func (h *WSHandlers) writeLoop(ctx context.Context, conn *websocket.Conn, s *core.Session) error {
	for {
		frame, err := s.NextFrame(ctx)
		if err != nil {
			return err
		}
		wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		err = conn.Write(wctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			return err
		}
	}
}

func closeStatus(err error) (websocket.StatusCode, string) {
	switch {
	case err == nil, errors.Is(err, core.ErrSessionClosed), errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		return websocket.StatusNormalClosure, "closing"
	case errors.Is(err, core.ErrBanned):
		return websocket.StatusPolicyViolation, "banned"
	case errors.Is(err, core.ErrRoomDeleted):
		return websocket.StatusGoingAway, "room deleted"
	}
	switch websocket.CloseStatus(err) {
	case -1:
		return websocket.StatusInternalError, "internal error"
	default:
		// The peer closed first.
		return websocket.StatusNormalClosure, "closing"
	}
}
