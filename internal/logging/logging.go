// Package logging builds the zerolog logger shared by the CLI and the stages.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// Canonical field names used across the stages.
const (
	FieldStage   = "stage"
	FieldVersion = "version"
	FieldRunID   = "run_id"
	FieldCommit  = "commit"
	FieldBranch  = "branch"
	FieldPath    = "path"
)

// New returns a logger writing to w at the given level. Format "json" emits
// one JSON object per line; anything else uses the human console writer.
func New(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("parse log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := w
	if format != "json" {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: "15:04:05",
		}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}
