package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/rtchat-server/internal/auth"
	"github.com/vovakirdan/rtchat-server/internal/config"
	"github.com/vovakirdan/rtchat-server/internal/core"
	"github.com/vovakirdan/rtchat-server/internal/filestore"
	"github.com/vovakirdan/rtchat-server/internal/proto"
	"github.com/vovakirdan/rtchat-server/internal/render"
	"github.com/vovakirdan/rtchat-server/internal/store/sqlite"
)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type testEnv struct {
	ts    *httptest.Server
	hub   *core.Hub
	auth  *auth.Service
	store *sqlite.SQLiteStore
}

type testUser struct {
	core.Identity
	token string
}

type envOption func(*config.Config, *filestore.Store)

func withFiles(files filestore.Store) envOption {
	return func(_ *config.Config, fs *filestore.Store) { *fs = files }
}

func withConfig(fn func(*config.Config)) envOption {
	return func(cfg *config.Config, _ *filestore.Store) { fn(cfg) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.MaxUploadBytes = 1 << 10
	cfg.AuthRatePerMinute = 0

	var files filestore.Store
	for _, opt := range opts {
		opt(&cfg, &files)
	}
	if files == nil {
		files, err = filestore.NewDisk(afero.NewMemMapFs(), "/uploads")
		require.NoError(t, err)
	}

	logger := zerolog.Nop()
	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	})
	hub := core.NewHub(st, render.NewJSON(render.NewSummarizer(st, cfg.UnreadPreview)), core.Options{
		MessageRate:  1000,
		MessageBurst: 1000,
	}, &logger)

	ts := httptest.NewServer(NewRouter(hub, authService, files, &cfg, &logger))
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, hub: hub, auth: authService, store: st}
}

func (e *testEnv) user(t *testing.T, name string) testUser {
	t.Helper()
	token, err := e.auth.Register(context.Background(), name, "password123")
	require.NoError(t, err)
	claims, err := e.auth.ValidateToken(token)
	require.NoError(t, err)
	return testUser{Identity: core.Identity{ID: claims.UserID, Name: claims.Username}, token: token}
}

// do sends a JSON request and returns the status and raw body.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := stdhttp.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (e *testEnv) createRoom(t *testing.T, owner testUser, name string) string {
	t.Helper()
	status, body := e.do(t, stdhttp.MethodPost, "/api/rooms", owner.token, CreateRoomRequest{Name: name})
	require.Equal(t, stdhttp.StatusCreated, status, string(body))
	var resp RoomIDResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp), string(body))
	return resp.Code
}

func (e *testEnv) wsURL(path, token string) string {
	return "ws" + strings.TrimPrefix(e.ts.URL, "http") + path + "?token=" + url.QueryEscape(token)
}

func (e *testEnv) dial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, e.wsURL(path, token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

type frame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f), string(data))
	return f
}

// readUntil skips frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	for {
		if f := readFrame(t, conn); f.Type == typ {
			return f
		}
	}
}

func decode[T any](t *testing.T, f frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v), string(f.Data))
	return v
}

// expectClose reads until the server closes the connection and returns the status.
func expectClose(t *testing.T, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return websocket.CloseStatus(err)
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(data)))
}
