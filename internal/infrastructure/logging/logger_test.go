package logging

import (
	"path/filepath"
	"testing"

	"github.com/hilthontt/nearchat/internal/infrastructure/configs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerBackends(t *testing.T) {
	dir := t.TempDir()

	for _, backend := range []string{"zap", "zerolog"} {
		t.Run(backend, func(t *testing.T) {
			logger, err := NewLogger(configs.LoggerConfig{
				Backend:  backend,
				Level:    "debug",
				FilePath: filepath.Join(dir, backend+".log"),
			})
			require.NoError(t, err)

			logger.Info(General, Startup, "hello", map[ExtraKey]any{RoomCode: "ABCD"})
			logger.Debug(Relay, Frame, "no extras", nil)
			_ = logger.Sync()
		})
	}
}

func TestNewLoggerUnknownBackend(t *testing.T) {
	_, err := NewLogger(configs.LoggerConfig{Backend: "logrus"})
	assert.Error(t, err)
}

func TestZapParamsIncludeCategory(t *testing.T) {
	params := prepareZapParams(Session, Membership, map[ExtraKey]any{ConnectionID: "c1"})
	assert.Contains(t, params, "Category")
	assert.Contains(t, params, string(Session))
	assert.Contains(t, params, "c1")
}
