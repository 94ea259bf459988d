package observability_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TotallyBullshit/SignalR/pkg/observability"
)

func TestSetup_FileSink(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "logs", "server.log")

	logger, err := observability.Setup(observability.Config{
		Level:   "debug",
		Format:  "json",
		Outputs: []string{path},
	})
	req.NoError(err)

	logger.Info("store opened", zap.String("store", "memory"))
	req.NoError(logger.Sync())

	data, err := os.ReadFile(path)
	req.NoError(err)
	req.Contains(string(data), "store opened")

	var entry map[string]any
	req.NoError(json.Unmarshal(data, &entry))
	req.Equal("memory", entry["store"])
	req.Equal("info", entry["level"])
}

func TestSetup_InvalidLevel(t *testing.T) {
	_, err := observability.Setup(observability.Config{Level: "loud"})
	require.Error(t, err)
}

func TestSetup_LevelFiltering(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "server.log")

	logger, err := observability.Setup(observability.Config{
		Level:   "warn",
		Format:  "json",
		Outputs: []string{path},
	})
	req.NoError(err)

	logger.Info("quiet")
	logger.Warn("loud")
	req.NoError(logger.Sync())

	data, err := os.ReadFile(path)
	req.NoError(err)
	req.NotContains(string(data), "quiet")
	req.Contains(string(data), "loud")
}

func TestSetup_RotatedSink(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "server.log")

	logger, err := observability.Setup(observability.Config{
		Outputs:  []string{path},
		Rotation: observability.Rotation{Enabled: true, MaxSizeMB: 1},
	})
	req.NoError(err)

	logger.Info("rotated sink")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	req.NoError(err)
	req.Contains(string(data), "rotated sink")
}
