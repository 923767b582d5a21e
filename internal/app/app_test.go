package app

import (
	"context"
	"net"
	stdhttp "net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/rtchat-server/internal/config"
	"github.com/vovakirdan/rtchat-server/internal/store"
	"github.com/vovakirdan/rtchat-server/internal/store/sqlite"
)

func TestEnsurePublicRooms(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	names := []string{"online-status", "lobby", "lobby", ""}
	require.NoError(t, EnsurePublicRooms(ctx, st, names))
	require.NoError(t, EnsurePublicRooms(ctx, st, names))

	room, err := st.GetRoom(ctx, "lobby")
	require.NoError(t, err)
	require.Equal(t, store.RoomKindPublic, room.Kind)
	require.Nil(t, room.AdminID)
}

func TestServeUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(dir, "rtchat.db")
	cfg.UploadDir = filepath.Join(dir, "uploads")
	cfg.PublicRooms = []string{"lobby"}
	cfg.ShutdownTimeout = time.Second

	logger := zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, &cfg, &logger)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := stdhttp.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == stdhttp.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
