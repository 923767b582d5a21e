package core

import "errors"

// Error codes for domain errors. They are stable and safe to send to clients.
const (
	ErrCodeRoomNotFound       = "room_not_found"
	ErrCodeNotAuthorized      = "not_authorized"
	ErrCodeAlreadyBanned      = "already_banned"
	ErrCodeTargetNotMember    = "target_not_member"
	ErrCodeNotBanned          = "not_banned"
	ErrCodeUserNotFound       = "user_not_found"
	ErrCodeMessageNotFound    = "message_not_found"
	ErrCodeEmptyMessage       = "empty_message"
	ErrCodeMessageTooLong     = "message_too_long"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeConnectionRejected = "connection_rejected"
)

var (
	ErrRoomNotFound    = coreError(ErrCodeRoomNotFound, "room not found")
	ErrNotAuthorized   = coreError(ErrCodeNotAuthorized, "not authorized")
	ErrAlreadyBanned   = coreError(ErrCodeAlreadyBanned, "user is banned from this room")
	ErrTargetNotMember = coreError(ErrCodeTargetNotMember, "target is not a member of this room")
	ErrNotBanned       = coreError(ErrCodeNotBanned, "user is not banned from this room")
	ErrUserNotFound    = coreError(ErrCodeUserNotFound, "user not found")
	ErrMessageNotFound = coreError(ErrCodeMessageNotFound, "message not found")
	ErrEmptyMessage    = coreError(ErrCodeEmptyMessage, "empty message")
	ErrMessageTooLong  = coreError(ErrCodeMessageTooLong, "message too long")
	ErrRateLimited     = coreError(ErrCodeRateLimited, "too many messages")
	ErrBadRequest      = coreError(ErrCodeBadRequest, "bad request")

	// ErrConnectionRejected matches every error returned by a failed Connect call.
	// The underlying reason is available through errors.Is on the same error.
	ErrConnectionRejected = coreError(ErrCodeConnectionRejected, "connection rejected")
)

// Session termination reasons.
var (
	ErrSessionClosed = errors.New("session closed")
	ErrBanned        = errors.New("banned from room")
	ErrRoomDeleted   = errors.New("room deleted")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// Is matches any CoreError carrying the same code.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	return ok && t.Code == e.Code
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

func rejected(cause error) error {
	return &CoreError{Code: ErrCodeConnectionRejected, Message: "connection rejected", Err: cause}
}

// ErrorCode returns the most specific domain code found in err, or "" if none.
func ErrorCode(err error) string {
	if ce, ok := Innermost(err); ok {
		return ce.Code
	}
	return ""
}

// Innermost returns the deepest CoreError in err's chain.
func Innermost(err error) (*CoreError, bool) {
	var found *CoreError
	for err != nil {
		var ce *CoreError
		if !errors.As(err, &ce) {
			break
		}
		found = ce
		err = ce.Err
	}
	return found, found != nil
}
