package gvtest

import (
	"log/slog"
	"testing"

	"github.com/neilotoole/slogt"
)

// NewLogger returns a logger that routes through t.Log,
// so that log output is associated with the correct test
// and is hidden unless the test fails or -v is set.
func NewLogger(t testing.TB) *slog.Logger {
	return slogt.New(t)
}
