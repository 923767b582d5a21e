package http

import (
	"context"
	"encoding/json"
	"fmt"
	stdhttp "net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/rtchat-server/internal/config"
	"github.com/vovakirdan/rtchat-server/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, stdhttp.MethodGet, "/health", "", nil)
	require.Equal(t, stdhttp.StatusOK, status)
	require.Equal(t, "ok", string(body))
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, stdhttp.MethodPost, "/api/register", "", RegisterRequest{Username: "alice", Password: "password123"})
	require.Equal(t, stdhttp.StatusCreated, status, string(body))

	status, body = env.do(t, stdhttp.MethodPost, "/api/register", "", RegisterRequest{Username: "alice", Password: "password123"})
	require.Equal(t, stdhttp.StatusConflict, status)
	require.Equal(t, "user_exists", errorCode(t, body))

	status, body = env.do(t, stdhttp.MethodPost, "/api/register", "", map[string]string{"username": "al"})
	require.Equal(t, stdhttp.StatusBadRequest, status, string(body))

	status, body = env.do(t, stdhttp.MethodPost, "/api/login", "", LoginRequest{Username: "alice", Password: "password123"})
	require.Equal(t, stdhttp.StatusOK, status)
	var resp AuthResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotEmpty(t, resp.Token)

	status, _ = env.do(t, stdhttp.MethodPost, "/api/login", "", LoginRequest{Username: "alice", Password: "wrong-password"})
	require.Equal(t, stdhttp.StatusUnauthorized, status)
	status, _ = env.do(t, stdhttp.MethodPost, "/api/login", "", LoginRequest{Username: "nobody", Password: "password123"})
	require.Equal(t, stdhttp.StatusUnauthorized, status)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, stdhttp.MethodGet, "/api/rooms", "", nil)
	require.Equal(t, stdhttp.StatusUnauthorized, status)

	status, _ = env.do(t, stdhttp.MethodGet, "/api/rooms", "garbage", nil)
	require.Equal(t, stdhttp.StatusUnauthorized, status)

	req, err := stdhttp.NewRequest(stdhttp.MethodGet, env.ts.URL+"/api/rooms", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Token abc")
	resp, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, stdhttp.StatusUnauthorized, resp.StatusCode)
}

func TestAuthRateLimit(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *config.Config) { cfg.AuthRatePerMinute = 2 }))

	login := LoginRequest{Username: "nobody", Password: "password123"}
	for range 2 {
		status, _ := env.do(t, stdhttp.MethodPost, "/api/login", "", login)
		require.Equal(t, stdhttp.StatusUnauthorized, status)
	}
	status, body := env.do(t, stdhttp.MethodPost, "/api/login", "", login)
	require.Equal(t, stdhttp.StatusTooManyRequests, status)
	require.Equal(t, "rate_limited", errorCode(t, body))

	// Authenticated routes are not limited.
	alice := env.user(t, "alice")
	for range 5 {
		status, _ := env.do(t, stdhttp.MethodGet, "/api/rooms", alice.token, nil)
		require.Equal(t, stdhttp.StatusOK, status)
	}
}

func TestRoomLifecycle(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")

	roomID := env.createRoom(t, alice, "friends")

	status, body := env.do(t, stdhttp.MethodPost, "/api/rooms", alice.token, CreateRoomRequest{Name: ""})
	require.Equal(t, stdhttp.StatusBadRequest, status)
	require.Equal(t, "bad_request", errorCode(t, body))

	// Public rooms and the caller's own rooms are listed.
	status, body = env.do(t, stdhttp.MethodGet, "/api/rooms", alice.token, nil)
	require.Equal(t, stdhttp.StatusOK, status)
	var rooms []RoomResponse
	require.NoError(t, json.Unmarshal(body, &rooms))
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	require.Contains(t, ids, roomID)
	require.Contains(t, ids, "public-chat")

	// Bob joins the group by opening it.
	status, body = env.do(t, stdhttp.MethodGet, "/api/rooms/"+roomID, bob.token, nil)
	require.Equal(t, stdhttp.StatusOK, status, string(body))
	var snap RoomResponse
	require.NoError(t, json.Unmarshal(body, &snap))
	require.Equal(t, "group", snap.Kind)
	require.Equal(t, alice.ID, *snap.AdminID)
	require.ElementsMatch(t, []int64{alice.ID, bob.ID}, snap.Members)

	status, body = env.do(t, stdhttp.MethodPatch, "/api/rooms/"+roomID, bob.token, CreateRoomRequest{Name: "mine"})
	require.Equal(t, stdhttp.StatusForbidden, status)
	require.Equal(t, "not_authorized", errorCode(t, body))

	status, _ = env.do(t, stdhttp.MethodPatch, "/api/rooms/"+roomID, alice.token, CreateRoomRequest{Name: "best friends"})
	require.Equal(t, stdhttp.StatusNoContent, status)
	_, body = env.do(t, stdhttp.MethodGet, "/api/rooms/"+roomID, alice.token, nil)
	require.NoError(t, json.Unmarshal(body, &snap))
	require.Equal(t, "best friends", snap.Name)

	status, _ = env.do(t, stdhttp.MethodDelete, "/api/rooms/"+roomID, bob.token, nil)
	require.Equal(t, stdhttp.StatusForbidden, status)

	status, _ = env.do(t, stdhttp.MethodDelete, "/api/rooms/"+roomID, alice.token, nil)
	require.Equal(t, stdhttp.StatusNoContent, status)

	status, body = env.do(t, stdhttp.MethodGet, "/api/rooms/"+roomID, alice.token, nil)
	require.Equal(t, stdhttp.StatusNotFound, status)
	require.Equal(t, "room_not_found", errorCode(t, body))
}

func TestLeaveRoom(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	roomID := env.createRoom(t, alice, "friends")

	status, body := env.do(t, stdhttp.MethodPost, "/api/rooms/"+roomID+"/leave", bob.token, nil)
	require.Equal(t, stdhttp.StatusConflict, status, "non-members cannot leave")
	require.Equal(t, "target_not_member", errorCode(t, body))

	env.do(t, stdhttp.MethodGet, "/api/rooms/"+roomID, bob.token, nil)
	status, _ = env.do(t, stdhttp.MethodPost, "/api/rooms/"+roomID+"/leave", bob.token, nil)
	require.Equal(t, stdhttp.StatusNoContent, status)

	status, _ = env.do(t, stdhttp.MethodPost, "/api/rooms/"+roomID+"/leave", alice.token, nil)
	require.Equal(t, stdhttp.StatusForbidden, status, "the admin deletes instead of leaving")
}

func TestBanAndUnban(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	carol := env.user(t, "carol")
	roomID := env.createRoom(t, alice, "friends")
	env.do(t, stdhttp.MethodGet, "/api/rooms/"+roomID, bob.token, nil)

	bans := "/api/rooms/" + roomID + "/bans"

	status, body := env.do(t, stdhttp.MethodPost, bans, bob.token, UserRequest{UserID: alice.ID})
	require.Equal(t, stdhttp.StatusForbidden, status)
	require.Equal(t, "not_authorized", errorCode(t, body))

	status, body = env.do(t, stdhttp.MethodPost, bans, alice.token, UserRequest{UserID: carol.ID})
	require.Equal(t, stdhttp.StatusConflict, status)
	require.Equal(t, "target_not_member", errorCode(t, body))

	status, body = env.do(t, stdhttp.MethodPost, bans, alice.token, UserRequest{UserID: 999})
	require.Equal(t, stdhttp.StatusNotFound, status)
	require.Equal(t, "user_not_found", errorCode(t, body))

	status, _ = env.do(t, stdhttp.MethodPost, bans, alice.token, UserRequest{UserID: bob.ID})
	require.Equal(t, stdhttp.StatusNoContent, status)

	status, body = env.do(t, stdhttp.MethodPost, bans, alice.token, UserRequest{UserID: bob.ID})
	require.Equal(t, stdhttp.StatusForbidden, status)
	require.Equal(t, "already_banned", errorCode(t, body))

	// The admin sees the ban list, the banned user cannot open the room.
	_, body = env.do(t, stdhttp.MethodGet, "/api/rooms/"+roomID, alice.token, nil)
	var snap RoomResponse
	require.NoError(t, json.Unmarshal(body, &snap))
	require.Equal(t, []int64{bob.ID}, snap.Banned)
	require.Equal(t, []int64{alice.ID}, snap.Members)

	status, body = env.do(t, stdhttp.MethodGet, "/api/rooms/"+roomID+"/messages", bob.token, nil)
	require.Equal(t, stdhttp.StatusForbidden, status)
	require.Equal(t, "already_banned", errorCode(t, body))

	unban := fmt.Sprintf("%s/%d", bans, bob.ID)
	status, _ = env.do(t, stdhttp.MethodDelete, unban, bob.token, nil)
	require.Equal(t, stdhttp.StatusForbidden, status)
	status, _ = env.do(t, stdhttp.MethodDelete, unban, alice.token, nil)
	require.Equal(t, stdhttp.StatusNoContent, status)
	status, body = env.do(t, stdhttp.MethodDelete, unban, alice.token, nil)
	require.Equal(t, stdhttp.StatusConflict, status)
	require.Equal(t, "not_banned", errorCode(t, body))
	status, _ = env.do(t, stdhttp.MethodDelete, bans+"/abc", alice.token, nil)
	require.Equal(t, stdhttp.StatusBadRequest, status)

	status, _ = env.do(t, stdhttp.MethodGet, "/api/rooms/"+roomID, bob.token, nil)
	require.Equal(t, stdhttp.StatusOK, status)
}

func TestOpenPrivate(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	carol := env.user(t, "carol")

	open := func(u testUser, other int64) (int, RoomIDResponse, []byte) {
		status, body := env.do(t, stdhttp.MethodPost, "/api/rooms/private", u.token, UserRequest{UserID: other})
		var resp RoomIDResponse
		if status == stdhttp.StatusOK {
			require.NoError(t, json.Unmarshal(body, &resp))
		}
		return status, resp, body
	}

	status, first, _ := open(alice, bob.ID)
	require.Equal(t, stdhttp.StatusOK, status)
	_, second, _ := open(bob, alice.ID)
	require.Equal(t, first.ID, second.ID)

	status, _, body := open(alice, alice.ID)
	require.Equal(t, stdhttp.StatusBadRequest, status)
	require.Equal(t, "bad_request", errorCode(t, body))

	status, _, body = open(alice, 999)
	require.Equal(t, stdhttp.StatusNotFound, status)
	require.Equal(t, "user_not_found", errorCode(t, body))

	status, body = env.do(t, stdhttp.MethodGet, "/api/rooms/"+first.ID, carol.token, nil)
	require.Equal(t, stdhttp.StatusForbidden, status)
	require.Equal(t, "not_authorized", errorCode(t, body))
}

func TestHistoryAndMarkSeen(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	roomID := env.createRoom(t, alice, "friends")
	env.do(t, stdhttp.MethodGet, "/api/rooms/"+roomID, bob.token, nil)

	ctx := context.Background()
	_, err := env.hub.PostMessage(ctx, roomID, alice.Identity, "first")
	require.NoError(t, err)
	msg, err := env.hub.PostMessage(ctx, roomID, alice.Identity, "second")
	require.NoError(t, err)

	status, body := env.do(t, stdhttp.MethodGet, "/api/rooms/"+roomID+"/messages", bob.token, nil)
	require.Equal(t, stdhttp.StatusOK, status)
	var history []proto.Message
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history, 2)
	require.Equal(t, "first", history[0].Body)
	require.Equal(t, "second", history[1].Body)
	require.False(t, history[1].Own)

	seen := fmt.Sprintf("/api/messages/%d/seen", msg.ID)
	status, body = env.do(t, stdhttp.MethodPost, seen, bob.token, nil)
	require.Equal(t, stdhttp.StatusOK, status, string(body))
	var marked proto.Message
	require.NoError(t, json.Unmarshal(body, &marked))
	require.True(t, marked.Seen)

	outsider := env.user(t, "carol")
	status, body = env.do(t, stdhttp.MethodPost, seen, outsider.token, nil)
	require.Equal(t, stdhttp.StatusNotFound, status)
	require.Equal(t, "message_not_found", errorCode(t, body))

	status, _ = env.do(t, stdhttp.MethodPost, "/api/messages/zero/seen", bob.token, nil)
	require.Equal(t, stdhttp.StatusBadRequest, status)
}
