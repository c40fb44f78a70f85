// Package logging configures the process-wide zerolog logger and the
// cold-start summary every Lambda emits.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnv names the environment variable holding the log level.
const LevelEnv = "PUBLISHER_LOG_LEVEL"

// Init sets the global level from PUBLISHER_LOG_LEVEL (trace, debug, info,
// warn, error; default info). Inside Lambda the output stays JSON so
// CloudWatch can index fields; elsewhere it is human-readable.
func Init() {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv(LevelEnv)))
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	var out io.Writer = os.Stderr
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") == "" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
