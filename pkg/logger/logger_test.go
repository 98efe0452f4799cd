package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kindError struct{}

func (kindError) Error() string   { return "set_psk: no such peer" }
func (kindError) Code() string    { return "no_such_peer" }
func (kindError) Retryable() bool { return true }

func newBufferLogger(buf *bytes.Buffer) *Logger {
	cfg := DefaultConfig()
	cfg.Format = FormatJSON
	cfg.Component = "test-component"
	cfg.Version = "v1"
	cfg.Output = buf
	return New(cfg)
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.NewDecoder(buf).Decode(&entry))
	return entry
}

func TestErrorCtx_EnrichesAndOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithOperation(ctx, "set_psk")
	ctx = WithInterface(ctx, "wg0")
	ctx = WithPeerID(ctx, "AAAAAAAA...")

	err := fmt.Errorf("wrapped: %w", kindError{})
	l.ErrorCtx(ctx, "operation failed", err, slog.String("extra", "value"))

	entry := decode(t, &buf)
	for _, k := range []string{
		"error", "error_kind", "retryable", "request_id", "operation",
		"interface", "peer_id", "component", "version", "extra", "msg", "time", "level",
	} {
		assert.Contains(t, entry, k)
	}
	assert.Equal(t, "no_such_peer", entry["error_kind"])
	assert.Equal(t, true, entry["retryable"])
}

func TestErrorCtx_PlainError(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	l.ErrorCtx(context.Background(), "boom", errors.New("plain"))

	entry := decode(t, &buf)
	assert.Equal(t, "plain", entry["error"])
	assert.NotContains(t, entry, "error_kind")
}

func TestOperation_CompleteAndFail(t *testing.T) {
	var buf bytes.Buffer
	l := New(LoggerConfig{Level: LevelInfo, Format: FormatJSON, Component: "op", Output: &buf})

	op := l.StartOp(context.Background(), "set_psk", slog.String("interface", "wg0"))
	op.Complete("psk installed")

	entry := decode(t, &buf)
	assert.Equal(t, "psk installed", entry["msg"])
	assert.Equal(t, "set_psk", entry["operation"])
	assert.Equal(t, "wg0", entry["interface"])
	assert.Contains(t, entry, "duration_ms")

	op.FailWarn(errors.New("no such device"), "")
	entry = decode(t, &buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "operation failed", entry["msg"])
}

func TestWithComponent_DoesNotMutateParent(t *testing.T) {
	l := NewNop()
	child := l.WithComponent("ipc.server")

	assert.Equal(t, "psk-broker", l.Component())
	assert.Equal(t, "ipc.server", child.Component())
}
