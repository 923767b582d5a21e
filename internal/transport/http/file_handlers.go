package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/rtchat-server/internal/core"
	"github.com/vovakirdan/rtchat-server/internal/filestore"
	"github.com/vovakirdan/rtchat-server/internal/render"
)

const uploadFormField = "file"

// FileHandlers stores uploads and posts them as file messages.
type FileHandlers struct {
	hub      *core.Hub
	files    filestore.Store
	maxBytes int64
	log      *zerolog.Logger
}

// NewFileHandlers creates file handlers accepting uploads up to maxBytes.
func NewFileHandlers(hub *core.Hub, files filestore.Store, maxBytes int64, logger *zerolog.Logger) *FileHandlers {
	return &FileHandlers{hub: hub, files: files, maxBytes: maxBytes, log: logger}
}

// Upload stores a multipart file and broadcasts it as a message of the room.
// POST /api/rooms/:room/files
func (h *FileHandlers) Upload(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("room")
	caller := identity(c)

	// Check access first so rejected callers never store anything.
	if err := h.hub.CanAccess(ctx, roomID, caller); err != nil {
		writeError(c, h.log, err)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	header, err := c.FormFile(uploadFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "file too large", Code: "file_too_large"})
			return
		}
		h.log.Debug().Err(err).Msg("invalid upload")
		writeError(c, h.log, core.ErrBadRequest)
		return
	}

	f, err := header.Open()
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if len(data) == 0 {
		writeError(c, h.log, core.ErrBadRequest)
		return
	}

	obj, err := h.files.Put(ctx, filepath.Base(header.Filename), data)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	msg, err := h.hub.PostFile(ctx, roomID, caller, core.FileRef{
		Ref:         obj.Ref,
		Name:        obj.Name,
		ContentType: obj.ContentType,
		Size:        obj.Size,
	})
	if err != nil {
		// Access can be lost between the check and the post, e.g. by a ban.
		if derr := h.files.Delete(context.WithoutCancel(ctx), obj.Ref); derr != nil {
			h.log.Warn().Err(derr).Str("file_ref", obj.Ref).Msg("failed to remove orphaned upload")
		}
		writeError(c, h.log, err)
		return
	}

	h.log.Info().
		Str("room_id", roomID).
		Int64("user_id", caller.ID).
		Str("file_ref", obj.Ref).
		Str("content_type", obj.ContentType).
		Int64("size", obj.Size).
		Msg("file uploaded")
	c.JSON(http.StatusCreated, render.Message(*msg, caller.ID))
}

// Download streams a stored file.
// GET /api/files/:ref
func (h *FileHandlers) Download(c *gin.Context) {
	data, obj, err := h.files.Get(c.Request.Context(), c.Param("ref"))
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: "file not found", Code: "file_not_found"})
			return
		}
		writeError(c, h.log, err)
		return
	}

	if obj.Name != "" {
		c.Header("Content-Disposition", "inline; filename="+strconv.Quote(obj.Name))
	}
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, obj.ContentType, data)
}
