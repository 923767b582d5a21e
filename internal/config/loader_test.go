package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, resolved, err := Load(nil, path, nil)
	require.NoError(t, err)
	require.Equal(t, path, resolved)
	require.Equal(t, Default(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err)

	// The written file round-trips to the same values.
	again, _, err := Load(nil, path, nil)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":9000\"\nhistory_limit: 20\njwt_ttl: 1h\nmessage_burst: 3\n"), 0o600))

	t.Setenv("RTCHAT_HISTORY_LIMIT", "40")
	t.Setenv("RTCHAT_MESSAGE_BURST", "4")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "", "")
	flags.Int("message-burst", 0, "")
	flags.String("addr", "", "")
	require.NoError(t, flags.Parse([]string{"--message-burst=7"}))

	cfg, _, err := Load(nil, path, flags)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Addr, "unchanged flag must not override the file")
	require.Equal(t, 40, cfg.HistoryLimit, "env overrides file")
	require.Equal(t, 7, cfg.MessageBurst, "changed flag overrides env")
	require.Equal(t, time.Hour, cfg.JWTTTL)
	require.Equal(t, Default().MaxMessageLength, cfg.MaxMessageLength)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jwt_secret: \"\"\nmax_upload_bytes: 0\n"), 0o600))

	_, _, err := Load(nil, path, nil)
	require.ErrorContains(t, err, "jwt_secret is required")
	require.ErrorContains(t, err, "max_upload_bytes must be positive")
}

func TestResolveConfigPathFromEnv(t *testing.T) {
	base := filepath.Join(t.TempDir(), "cfg")
	t.Setenv(envConfigDefaultPath, base)
	require.Equal(t, filepath.Join(base, defaultConfigName), resolveConfigPath(""))
	require.Equal(t, "explicit.yaml", resolveConfigPath("explicit.yaml"))
}
