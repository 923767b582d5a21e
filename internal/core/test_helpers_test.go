package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/rtchat-server/internal/store"
	"github.com/vovakirdan/rtchat-server/internal/store/sqlite"
)

func newTestHub(t *testing.T, opts Options) (*Hub, *sqlite.SQLiteStore) {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { st.Close() })

	if opts.MessageRate == 0 {
		opts.MessageRate = 1000
		opts.MessageBurst = 1000
	}
	return NewHub(st, nil, opts, nil), st
}

func mustUser(t *testing.T, st store.Store, name string) Identity {
	t.Helper()
	u, err := st.CreateUser(context.Background(), name, "hash")
	require.NoError(t, err, "failed to create user %s", name)
	return Identity{ID: u.ID, Name: u.Username}
}

// mustEvent skips events of other types until one of type T arrives.
func mustEvent[T Event](t *testing.T, s *Session) T {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for {
		ev, err := s.Next(ctx)
		var zero T
		require.NoError(t, err, "expected event %T not received", zero)
		if typed, ok := ev.(T); ok {
			return typed
		}
	}
}

// drain returns every event queued on s without waiting.
func drain(s *Session) []Event {
	var out []Event
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		ev, err := s.Next(ctx)
		cancel()
		if err != nil {
			return out
		}
		out = append(out, ev)
	}
}

func mustNoEvent(t *testing.T, s *Session) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ev, err := s.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded, "unexpected event %#v", ev)
}
