package server

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a human-readable console logger in development and a JSON
// logger otherwise.
func NewLogger(env string) zerolog.Logger {
	if env == "" || env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}
