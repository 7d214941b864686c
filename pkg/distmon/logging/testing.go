package logging

import (
	"io"
	"log/slog"

	"github.com/distmon/distmon/pkg/distmon/types"
)

// NewDiscard builds a Logger that drops everything. Useful for tests that
// exercise failure paths without wanting the fixture's full log, and for
// clusters where onFatal is supplied separately via t.Errorf.
func NewDiscard() types.Logger {
	level := new(slog.LevelVar)
	level.Set(slog.LevelError + 1) // above any level slog.Logger emits
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: level})
	return &slogLogger{logger: slog.New(handler), level: level}
}
