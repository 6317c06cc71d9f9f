package logging

import (
	gnarkLogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
	"os"
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

func Logger() *zerolog.Logger {
	return &log
}

// WithComponent returns a child logger tagged with a component name, for
// long-running subsystems like queue workers.
func WithComponent(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func SetJSONOutput() {
	log = zerolog.New(os.Stdout).With().Timestamp().Logger()
	gnarkLogger.Set(log)
}
