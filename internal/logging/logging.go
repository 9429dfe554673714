/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, os.Stdout, nil)
}

// SetupWithWriter configures zerolog writing to out. Development gets the
// console writer at debug level; everything else gets JSON at info.
// PLAYPLAN_LOG_LEVEL overrides the level. additional receives JSON lines
// when set.
func SetupWithWriter(environment string, out io.Writer, additional io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	var writer io.Writer = out
	if environment == "development" {
		level = zerolog.DebugLevel
		writer = zerolog.ConsoleWriter{Out: out}
	}
	if raw := strings.TrimSpace(os.Getenv("PLAYPLAN_LOG_LEVEL")); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}

	if additional != nil {
		writer = zerolog.MultiLevelWriter(writer, additional)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}
