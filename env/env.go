// Package env resolves command line settings from cobra flags with
// PIXVAULT_* environment fallbacks.
package env

import (
	"context"
	"log"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pixvault/go-common/logger"
	"github.com/pixvault/go-common/telemetry"
	"github.com/spf13/cobra"
)

const (
	EnvOTLPURL   = "PIXVAULT_OTLP_URL"
	EnvOTLPToken = "PIXVAULT_OTLP_TOKEN"
)

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

func LogLevel(cmd *cobra.Command) logger.LogLevel {
	level, _ := logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, "info"))
	return level
}

// NewLogger returns a console logger by first checking the cobra.Command log-level flag, then use the
// PIXVAULT_LOG_LEVEL environment value and falling back to the info logger level
func NewLogger(cmd *cobra.Command) logger.Logger {
	log.SetFlags(0)
	return logger.NewConsoleLogger(LogLevel(cmd))
}

// NewTelemetry returns a logger and shutdown function. The cobra flags it expects are:
//
// --no-telemetry (boolean): if set, telemetry will be disabled
//
// --otlp-url (string): the url of the otlp server, telemetry is disabled when empty
//
// --otlp-token (string): the bearer token for the otlp server
func NewTelemetry(ctx context.Context, cmd *cobra.Command, serviceName string) (logger.Logger, func(), error) {
	console := NewLogger(cmd)
	if noTelemetry, err := cmd.Flags().GetBool("no-telemetry"); err == nil && noTelemetry {
		return console, func() {}, nil
	}
	otlpURL := FlagOrEnv(cmd, "otlp-url", EnvOTLPURL, "")
	if otlpURL == "" {
		return console, func() {}, nil
	}
	otlpToken := FlagOrEnv(cmd, "otlp-token", EnvOTLPToken, "")

	log, shutdown, err := telemetry.New(ctx, otlpURL, otlpToken, serviceName, console)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error creating telemetry")
	}
	return log, shutdown, nil
}
