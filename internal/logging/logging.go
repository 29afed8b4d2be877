// Package logging constructs the node's zerolog.Logger: human-readable
// console output in development, structured JSON in production,
// keeping the teacher's bracketed-subsystem message convention
// ("[STORE] ...", "[GOSSIP] ...") as the first token of the message
// rather than a separate field, so log lines read the same whether
// they're piped through jq or a terminal.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger from a level name
// ("debug", "info", "warn", "error") and whether to use the
// colorized console writer (local/dev) or plain JSON (production).
func Init(levelName string, pretty bool) {
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	log.Logger = logger
}
