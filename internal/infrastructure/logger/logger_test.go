package logger_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_spot/internal/infrastructure/logger"
	"go.uber.org/zap"
)

func TestHub_BacklogWraps(t *testing.T) {
	hub := logger.NewHub(3)
	for _, line := range []string{"a\n", "b\n", "c\n", "d\n"} {
		_, err := hub.Write([]byte(line))
		require.NoError(t, err)
	}

	recent, _, cancel := hub.Subscribe()
	defer cancel()
	assert.Equal(t, []string{"b", "c", "d"}, recent)
}

func TestHub_SubscriberReceivesNewLines(t *testing.T) {
	hub := logger.NewHub(10)
	recent, lines, cancel := hub.Subscribe()
	assert.Empty(t, recent)

	_, err := hub.Write([]byte("first\nsecond\n"))
	require.NoError(t, err)
	assert.Equal(t, "first", <-lines)
	assert.Equal(t, "second", <-lines)

	cancel()
	cancel()
	_, err = hub.Write([]byte("after cancel\n"))
	require.NoError(t, err)
	select {
	case l := <-lines:
		t.Fatalf("unexpected line after cancel: %q", l)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestNewLogger_WritesFileAndHub(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "activity.log")
	hub := logger.NewHub(10)

	log, err := logger.NewLogger(logger.Config{Level: "warn", File: path}, hub)
	require.NoError(t, err)
	log.Debug("Debug line reaches the file", zap.String("symbol", "BTCUSDT"))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Debug line reaches the file")
	assert.Contains(t, string(data), "BTCUSDT")

	recent, _, cancel := hub.Subscribe()
	defer cancel()
	require.Len(t, recent, 1)
	assert.Contains(t, recent[0], "DEBUG")
}
