package render

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/rtchat-server/internal/store"
)

// Summarizer computes unread summaries. Concurrent requests for the same
// identity, like several open tabs woken by one ping, share one store query.
type Summarizer struct {
	store store.MessageStore
	limit int
	group singleflight.Group
}

// NewSummarizer creates a summarizer returning at most limit latest messages.
func NewSummarizer(st store.MessageStore, limit int) *Summarizer {
	if limit <= 0 {
		limit = 5
	}
	return &Summarizer{store: st, limit: limit}
}

// Summary returns the unread summary of identityID. The shared query does not
// follow ctx cancellation, so one caller going away does not fail the others.
func (s *Summarizer) Summary(ctx context.Context, identityID int64) (*store.UnreadSummary, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(strconv.FormatInt(identityID, 10), func() (any, error) {
		return s.store.UnreadSummary(shared, identityID, s.limit)
	})
	if err != nil {
		return nil, fmt.Errorf("unread summary: %w", err)
	}
	return v.(*store.UnreadSummary), nil
}
