// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "MESHCTL_LOG_LEVEL"
	EnvLogNoColor = "MESHCTL_LOG_NOCOLOR"
)

// New builds the runtime logger for app and installs it as the zerolog
// global. Level and color honor env overrides.
func New(app string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    envBool(EnvLogNoColor),
	}
	logger := zerolog.New(output).
		Level(envLevel()).
		With().
		Timestamp().
		Str("app", app).
		Logger()
	log.Logger = logger
	return logger
}

func envLevel() zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogLevel))) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func envBool(key string) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return v
}
