// Package rlog wires structured logging for the relay daemon. Every
// error the rest of the codebase returns is already wrapped with
// context via fmt.Errorf("...: %w", err), matching the teacher's
// discipline; rlog just gives the long-running daemon leveled,
// field-keyed output instead of the single-call logging a transport
// plugin would use.
package rlog

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a console-friendly zerolog.Logger at the given level
// override from spec.md §6's configuration record. An unrecognized or
// empty level falls back to info, matching the teacher's pattern of
// clamping out-of-range config values in Config.Validate rather than
// failing bootstrap over a cosmetic setting.
func New(levelOverride string, relayName string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(levelOverride))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	return zerolog.New(os.Stderr).
		Level(level).
		With().
		Timestamp().
		Str("relay", relayName).
		Logger()
}
