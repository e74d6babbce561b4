package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeRecorder struct {
	bytes.Buffer
	closed int
}

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

func decodeLines(t *testing.T, raw string) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}

		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}

	return out
}

func TestNewJSONLogger(t *testing.T) {
	t.Run("writes service, level, message and fields", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewJSONLogger(&buf, "ingest", zerolog.DebugLevel)

		l.Info("connection closed", Field{Key: "frames", Value: 3}, Field{Key: "remote_addr", Value: "127.0.0.1:5000"})

		lines := decodeLines(t, buf.String())
		require.Len(t, lines, 1)
		assert.Equal(t, "ingest", lines[0]["service"])
		assert.Equal(t, "info", lines[0]["level"])
		assert.Equal(t, "connection closed", lines[0]["message"])
		assert.Equal(t, float64(3), lines[0]["frames"])
		assert.Equal(t, "127.0.0.1:5000", lines[0]["remote_addr"])
		assert.Contains(t, lines[0], "time")
	})

	t.Run("filters entries below level", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewJSONLogger(&buf, "ingest", zerolog.WarnLevel)

		l.Debug("debug")
		l.Info("info")
		l.Warn("warn")
		l.Error("error")

		lines := decodeLines(t, buf.String())
		require.Len(t, lines, 2)
		assert.Equal(t, "warn", lines[0]["message"])
		assert.Equal(t, "error", lines[1]["message"])
	})

	t.Run("closes a closable writer once", func(t *testing.T) {
		w := &closeRecorder{}
		l := NewJSONLogger(w, "ingest", zerolog.InfoLevel)

		require.NoError(t, l.Close())
		require.NoError(t, l.Close())
		assert.Equal(t, 1, w.closed)
	})
}

func TestZerologLogger_With(t *testing.T) {
	t.Run("derived logger carries fields and parent is unchanged", func(t *testing.T) {
		var buf bytes.Buffer
		parent := NewJSONLogger(&buf, "ingest", zerolog.InfoLevel)
		child := parent.With(Field{Key: "session_id", Value: 7})

		child.Info("child")
		parent.Info("parent")

		lines := decodeLines(t, buf.String())
		require.Len(t, lines, 2)
		assert.Equal(t, float64(7), lines[0]["session_id"])
		assert.NotContains(t, lines[1], "session_id")
	})

	t.Run("closing a derived logger does not close the writer", func(t *testing.T) {
		w := &closeRecorder{}
		parent := NewJSONLogger(w, "ingest", zerolog.InfoLevel)

		require.NoError(t, parent.With(Field{Key: "k", Value: "v"}).Close())
		assert.Equal(t, 0, w.closed)
	})
}

func TestNewConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(&buf, "ingest", zerolog.InfoLevel)

	l.Info("server started", Field{Key: "port", Value: 3000})

	out := buf.String()
	assert.Contains(t, out, "server started")
	assert.Contains(t, out, "port=")
	assert.Contains(t, out, "3000")
}

func TestNewNopLogger(t *testing.T) {
	l := NewNopLogger()
	require.NotNil(t, l)

	assert.NotPanics(t, func() {
		l.Debug("x")
		l.Info("x")
		l.Warn("x")
		l.Error("x", Field{Key: "error", Value: "boom"})
		l.With(Field{Key: "a", Value: 1}).Info("y")
	})
	assert.NoError(t, l.Close())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    zerolog.Level
		wantErr bool
	}{
		{name: "", want: zerolog.InfoLevel},
		{name: "debug", want: zerolog.DebugLevel},
		{name: " WARN ", want: zerolog.WarnLevel},
		{name: "error", want: zerolog.ErrorLevel},
		{name: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("parses "+strings.TrimSpace(tt.name), func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
