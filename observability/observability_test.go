package observability

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	log := NewSlogLogger(slog.New(h)).With(String("component", "xref"))

	log.Warn("repairing", Int64("offset", 42), Error("err", errors.New("bad header")))

	out := buf.String()
	assert.Contains(t, out, "component=xref")
	assert.Contains(t, out, "offset=42")
	assert.Contains(t, out, "bad header")
}

func TestSlogLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	NewSlogLogger(slog.New(h)).Debug("hidden", Hexdump("bytes", []byte("abc")))
	assert.Empty(t, buf.String())
}

func TestWindow(t *testing.T) {
	data := make([]byte, 200)
	w := Window(data, 100)
	require.Len(t, w, MaxDumpBytes)
	assert.Len(t, Window(data[:10], 5), 10)
	assert.Nil(t, Window(nil, 0))
}

func TestOrNop(t *testing.T) {
	assert.IsType(t, NopLogger{}, OrNop(nil))
	l := NewSlogLogger(nil)
	assert.Equal(t, Logger(l), OrNop(l))
}
