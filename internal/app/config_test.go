package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaymesh/internal/domain"
	"relaymesh/internal/relay"
)

const testConfig = `
Relays = ["WSS://Relay.One.Example/", "ws://127.0.0.1:7447"]

[Logging]
  Level = "debug"

[Session]
  ConnectTimeout = "3s"
  MaxRetries = 7

[Publish]
  Fanout = 2
  MinAcks = 2
  Timeout = "4s"

[Router]
  DedupWindow = 128

[Metrics]
  Address = "127.0.0.1:9464"
`

func TestLoad(t *testing.T) {
	cfg, err := Load([]byte(testConfig))
	require.NoError(t, err)
	require.Equal(t, []string{"wss://relay.one.example", "ws://127.0.0.1:7447"}, cfg.Relays)
	require.Equal(t, "DEBUG", cfg.Logging.Level)
	require.Equal(t, "127.0.0.1:9464", cfg.Metrics.Address)

	pc := cfg.ProfileConfig()
	require.Equal(t, 3*time.Second, pc.Pool.Session.ConnectTimeout)
	require.Equal(t, 7, pc.Pool.Session.MaxRetries)
	require.Equal(t, relay.DefaultConfig().BackoffMax, pc.Pool.Session.BackoffMax)
	require.Equal(t, 2, pc.Publish.Fanout)
	require.Equal(t, 2, pc.Publish.MinAcks)
	require.Equal(t, 4*time.Second, pc.Publish.Timeout)
	require.Equal(t, 128, pc.Router.DedupWindow)
	require.NoError(t, pc.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Empty(t, cfg.Relays)
	require.Equal(t, defaultLogLevel, cfg.Logging.Level)
	require.Equal(t, 1, cfg.Publish.MinAcks)
	require.Equal(t, Default().ProfileConfig(), cfg.ProfileConfig())
}

func TestLoad_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"level":    "[Logging]\nLevel = \"chatty\"\n",
		"relay":    "Relays = [\"https://not-a-relay\"]\n",
		"quorum":   "[Publish]\nFanout = 1\nMinAcks = 3\n",
		"session":  "[Session]\nBackoffBase = \"1m\"\nBackoffMax = \"1s\"\n",
		"syntax":   "Relays = [",
		"negative": "[Router]\nDedupWindow = -1\n",
	} {
		_, err := Load([]byte(body))
		require.ErrorIs(t, err, domain.ErrInvalidConfiguration, name)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relaymesh.toml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfg.Relays, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
