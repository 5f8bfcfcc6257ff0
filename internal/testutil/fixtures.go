package testutil

import (
	"io"
	"log/slog"
	"testing"

	"github.com/vnykmshr/tupleflow/pkg/schema"
	"github.com/vnykmshr/tupleflow/pkg/tuple"
)

// QuietLogger returns a logger that discards everything, keeping engine
// tests readable.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WordSchema returns the single text-attribute schema shared by engine
// tests.
func WordSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New(schema.Attribute{Name: "word", Type: schema.TypeText})
	AssertNoError(t, err)
	return s
}

// WordTuples builds one tuple per word against the given schema.
func WordTuples(t *testing.T, s *schema.Schema, words ...string) []*tuple.Tuple {
	t.Helper()
	rows := make([]*tuple.Tuple, 0, len(words))
	for _, w := range words {
		row, err := tuple.New(s, w)
		AssertNoError(t, err)
		rows = append(rows, row)
	}
	return rows
}
