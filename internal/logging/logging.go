/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logging configures the process-wide zerolog logger. Every
// Scannarr component derives its own logger from the returned one with
// a "component" field, so the root carries only the shared settings.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process. Development gets a
// human-readable console at debug level; anything else emits plain JSON
// at info for the log pipeline.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, nil)
}

// SetupWithWriter is Setup with an extra sink teed in, used to mirror
// server output into an in-process ring alongside forwarded watcher
// logs.
func SetupWithWriter(environment string, extra io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	var out io.Writer = os.Stdout
	if environment == "development" {
		level = zerolog.DebugLevel
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	if extra != nil {
		out = zerolog.MultiLevelWriter(out, extra)
	}

	logger := zerolog.New(out).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}
