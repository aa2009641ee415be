package env

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pixvault/go-common/logger"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().String("otlp-url", "", "")
	cmd.Flags().String("otlp-token", "", "")
	cmd.Flags().Bool("no-telemetry", false, "")
	return cmd
}

func TestFlagOrEnv(t *testing.T) {
	cmd := newCommand()
	assert.Equal(t, "fallback", FlagOrEnv(cmd, "otlp-url", "PIXVAULT_TEST_UNSET", "fallback"))

	t.Setenv("PIXVAULT_TEST_URL", "http://env")
	assert.Equal(t, "http://env", FlagOrEnv(cmd, "otlp-url", "PIXVAULT_TEST_URL", "fallback"))

	require.NoError(t, cmd.Flags().Set("otlp-url", "http://flag"))
	assert.Equal(t, "http://flag", FlagOrEnv(cmd, "otlp-url", "PIXVAULT_TEST_URL", "fallback"))
}

func TestLogLevel(t *testing.T) {
	cmd := newCommand()
	t.Setenv(logger.EnvLogLevel, "")
	assert.Equal(t, logger.LevelInfo, LogLevel(cmd))

	t.Setenv(logger.EnvLogLevel, "warning")
	assert.Equal(t, logger.LevelWarn, LogLevel(cmd))

	require.NoError(t, cmd.Flags().Set("log-level", "DEBUG"))
	assert.Equal(t, logger.LevelDebug, LogLevel(cmd))

	require.NoError(t, cmd.Flags().Set("log-level", "bogus"))
	assert.Equal(t, logger.LevelInfo, LogLevel(cmd))
}

func TestNewTelemetryDisabled(t *testing.T) {
	t.Setenv(EnvOTLPURL, "")
	cmd := newCommand()
	log, shutdown, err := NewTelemetry(context.Background(), cmd, "test")
	require.NoError(t, err)
	assert.NotNil(t, log)
	shutdown()

	require.NoError(t, cmd.Flags().Set("otlp-url", "http://localhost:4318"))
	require.NoError(t, cmd.Flags().Set("no-telemetry", "true"))
	log, shutdown, err = NewTelemetry(context.Background(), cmd, "test")
	require.NoError(t, err)
	assert.NotNil(t, log)
	shutdown()
}

func TestNewTelemetryEnabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cmd := newCommand()
	t.Setenv(EnvOTLPURL, server.URL)
	log, shutdown, err := NewTelemetry(context.Background(), cmd, "test")
	require.NoError(t, err)
	log.Info("exported")
	shutdown()

	require.NoError(t, cmd.Flags().Set("otlp-url", "ftp://nowhere"))
	_, _, err = NewTelemetry(context.Background(), cmd, "test")
	assert.Error(t, err)
}
