package http

import (
	"context"
	stdhttp "net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/rtchat-server/internal/config"
)

func makeJWT(t *testing.T, secret, aud, iss string, userID int64, name string, ttl time.Duration) string {
	t.Helper()

	claims := jwt.MapClaims{
		"exp": time.Now().Add(ttl).Unix(),
	}
	if aud != "" {
		claims["aud"] = aud
	}
	if iss != "" {
		claims["iss"] = iss
	}
	if userID != 0 {
		claims["user_id"] = userID
	}
	if name != "" {
		claims["username"] = name
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestWebSocketJWT(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	def := config.Default()

	cases := []struct {
		name   string
		token  string
		status int
	}{
		{"valid", makeJWT(t, "test-secret", def.JWTAudience, def.JWTIssuer, alice.ID, "alice", time.Minute), stdhttp.StatusSwitchingProtocols},
		{"expired", makeJWT(t, "test-secret", def.JWTAudience, def.JWTIssuer, alice.ID, "alice", -time.Minute), stdhttp.StatusUnauthorized},
		{"wrong secret", makeJWT(t, "other-secret", def.JWTAudience, def.JWTIssuer, alice.ID, "alice", time.Minute), stdhttp.StatusUnauthorized},
		{"wrong audience", makeJWT(t, "test-secret", "someone-else", def.JWTIssuer, alice.ID, "alice", time.Minute), stdhttp.StatusUnauthorized},
		{"wrong issuer", makeJWT(t, "test-secret", def.JWTAudience, "mallory", alice.ID, "alice", time.Minute), stdhttp.StatusUnauthorized},
		{"no user", makeJWT(t, "test-secret", def.JWTAudience, def.JWTIssuer, 0, "alice", time.Minute), stdhttp.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn, resp, err := websocket.Dial(ctx, env.wsURL("/ws/rooms/public-chat", tc.token), nil)
			require.NotNil(t, resp)
			require.Equal(t, tc.status, resp.StatusCode)
			if tc.status == stdhttp.StatusSwitchingProtocols {
				require.NoError(t, err)
				_ = conn.Close(websocket.StatusNormalClosure, "done")
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestBearerHeaderWinsOverQuery(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")

	req, err := stdhttp.NewRequest(stdhttp.MethodGet, env.ts.URL+"/api/rooms?token="+alice.token, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer garbage")

	resp, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, stdhttp.StatusUnauthorized, resp.StatusCode)

	status, _ := env.do(t, stdhttp.MethodGet, "/api/rooms?token="+alice.token, "", nil)
	require.Equal(t, stdhttp.StatusOK, status)
}
