package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_StdoutJSON(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := newLogger(Config{Level: "DEBUG"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	log.Debug().Str("conversation_id", "7").Msg("turn")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "debug", line["level"])
	require.Equal(t, "turn", line["message"])
	require.Equal(t, "7", line["conversation_id"])
	require.Equal(t, "whistle-agent", line["service"])
	require.NotEmpty(t, line["time"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := newLogger(Config{Level: "warn"}, &buf)
	require.NoError(t, err)

	log.Info().Msg("dropped")
	require.Zero(t, buf.Len())
	log.Warn().Msg("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestNew_DefaultLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := newLogger(Config{}, &buf)
	require.NoError(t, err)
	log.Debug().Msg("dropped")
	require.Zero(t, buf.Len())
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New(Config{Level: "loud"})
	require.Error(t, err)
}

func TestNew_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "whistle.log")
	log, closer, err := New(Config{File: path, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)

	log.Info().Str("route", "/chat/start").Msg("request handled")
	require.NoError(t, closer.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan())
	var line map[string]any
	require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
	require.Equal(t, "/chat/start", line["route"])
}
