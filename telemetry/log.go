// Copyright (C) 2024-2026, Enclave Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package telemetry provides the structured logging and metrics every
// actor in the runtime shares, plus the closed error-kind taxonomy used to
// classify failures as fatal, retryable, or logged-and-dropped.
package telemetry

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level names a logging verbosity, matched case-insensitively from config.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// LogConfig controls how the process-wide logger renders output.
type LogConfig struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Logger is the process-wide structured logger. Every actor derives a
// child logger from it via WithComponent so logs can be filtered by which
// actor emitted them.
var Logger zerolog.Logger

// InitLogging configures the process-wide Logger. The cmd/enclave
// entrypoint calls this once at startup, before the supervisor and its
// actors are constructed.
func InitLogging(cfg LogConfig) {
	var level zerolog.Level
	switch Level(strings.ToLower(string(cfg.Level))) {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagging every entry with which
// actor produced it (e.g. "router", "aggregator", "indexer/ethereum").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithE3 returns a child logger scoped to one E3 request, so every log
// line touching that request can be grepped by e3_id.
func WithE3(base zerolog.Logger, e3ID uint64) zerolog.Logger {
	return base.With().Uint64("e3_id", e3ID).Logger()
}
