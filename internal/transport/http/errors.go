package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/rtchat-server/internal/core"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

const codeInternal = "internal"

var statusByCode = map[string]int{
	core.ErrCodeRoomNotFound:    http.StatusNotFound,
	core.ErrCodeUserNotFound:    http.StatusNotFound,
	core.ErrCodeMessageNotFound: http.StatusNotFound,
	core.ErrCodeNotAuthorized:   http.StatusForbidden,
	core.ErrCodeAlreadyBanned:   http.StatusForbidden,
	core.ErrCodeTargetNotMember: http.StatusConflict,
	core.ErrCodeNotBanned:       http.StatusConflict,
	core.ErrCodeEmptyMessage:    http.StatusBadRequest,
	core.ErrCodeMessageTooLong:  http.StatusBadRequest,
	core.ErrCodeBadRequest:      http.StatusBadRequest,
	core.ErrCodeRateLimited:     http.StatusTooManyRequests,
}

// errorBody returns the wire code and message for err. Errors without a code
// are internal and their text is not exposed.
func errorBody(err error) (string, string) {
	if ce, ok := core.Innermost(err); ok {
		return ce.Code, ce.Message
	}
	return codeInternal, "internal server error"
}

// writeError maps err to an HTTP status and writes an ErrorResponse.
func writeError(c *gin.Context, logger *zerolog.Logger, err error) {
	code, msg := errorBody(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: code})
}
