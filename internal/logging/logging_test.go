package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("websocket")

	var buf bytes.Buffer
	Init("text", "info", &buf)
	t.Cleanup(func() { Init("text", "info", nil) })

	logger.Info("client connected", "remote", "127.0.0.1:50412")

	out := buf.String()
	assert.Contains(t, out, `msg="client connected"`)
	assert.Contains(t, out, "component=websocket")
	assert.Contains(t, out, "remote=127.0.0.1:50412")
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("websocket")

	var buf bytes.Buffer
	Init("text", "warn", &buf)
	t.Cleanup(func() { Init("text", "info", nil) })

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "debug", &buf)
	t.Cleanup(func() { Init("text", "info", nil) })

	L("bridge").Debug("parsed request")

	assert.Contains(t, buf.String(), `"component":"bridge"`)
	assert.Contains(t, buf.String(), `"msg":"parsed request"`)
}

func TestWithCorrelationAttachesIDs(t *testing.T) {
	var buf bytes.Buffer
	Init("text", "info", &buf)
	t.Cleanup(func() { Init("text", "info", nil) })

	logger := WithCorrelation(WithConn(L("bridge"), "c-1"), "chan", "msg", "guild")
	logger.Info("notification shown")

	out := buf.String()
	for _, want := range []string{"connId=c-1", "channelId=chan", "messageId=msg", "guildId=guild"} {
		assert.Contains(t, out, want)
	}
}

func TestContextRoundTrip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := NewContext(context.Background(), logger)
	require.Same(t, logger, FromContext(ctx))
	require.NotNil(t, FromContext(context.Background()))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), "parseLevel(%q)", in)
	}
}
