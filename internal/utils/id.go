package utils

import (
	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

// NewID returns a random UUID string.
func NewID() string {
	return uuid.NewString()
}

// NewRoomID returns a short, URL-safe room identifier.
func NewRoomID() string {
	return shortuuid.New()
}
