// Package testlog routes component logs through the test runner.
package testlog

import (
	"testing"

	"github.com/rs/zerolog"
)

// Logger returns a logger that writes through t.Log, so component output
// shows up attached to the failing test.
func Logger(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
}
