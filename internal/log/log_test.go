package log_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"relaymesh/internal/log"
)

func TestBackend_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	b, err := log.NewWriter(&buf, "NOTICE")
	require.NoError(t, err)

	l := b.GetLogger("pool")
	l.Debugf("hidden %d", 1)
	l.Noticef("published to %d/%d relays", 3, 5)

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "NOTI pool: published to 3/5 relays")
}

func TestParseLevel(t *testing.T) {
	for _, lvl := range []string{"error", "WARNING", "notice", "Info", "DEBUG"} {
		_, err := log.ParseLevel(lvl)
		require.NoError(t, err, lvl)
	}
	_, err := log.ParseLevel("verbose")
	require.Error(t, err)
}

func TestNew_FileAndDisable(t *testing.T) {
	b, err := log.New(t.TempDir()+"/relaymesh.log", "INFO", false)
	require.NoError(t, err)
	b.GetLogger("cli").Info("hello")
	require.NoError(t, b.Close())

	_, err = log.New("", "LOUD", true)
	require.Error(t, err)
}
