package testutils

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mehul-Gupta-SMH/PromptProp/infrastructure/store"
)

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewStore opens an in-memory experiment store that is closed when the test
// ends.
func NewStore(tb testing.TB) *store.Store {
	tb.Helper()

	s, err := store.Open(store.InMemoryConfig(), DiscardLogger())
	require.NoError(tb, err, "open in-memory store")
	tb.Cleanup(func() { _ = s.Close() })
	return s
}
