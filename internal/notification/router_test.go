package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breeze-rmm/notify-bridge/internal/protocol"
)

var cc = protocol.CorrelationContext{ChannelID: "chan", MessageID: "msg", GuildID: "guild"}

func TestRouteMergesCorrelation(t *testing.T) {
	out := &fakeOutbox{}
	r := NewRouter(out, nil)

	require.NoError(t, r.Route(protocol.ActionReply, cc, map[string]any{"text": "ok"}))

	events := out.Events()
	require.Len(t, events, 1)
	fields := events[0].Fields()
	assert.Equal(t, "reply", fields["action"])
	assert.Equal(t, "chan", fields["id"])
	assert.Equal(t, "msg", fields["message_id"])
	assert.Equal(t, "guild", fields["guild_id"])
	assert.Equal(t, "ok", fields["text"])
}

func TestRouteNilPayload(t *testing.T) {
	out := &fakeOutbox{}
	require.NoError(t, NewRouter(out, nil).Route(protocol.ActionClick, cc, nil))
	require.Len(t, out.Events(), 1)
	assert.NotNil(t, out.Events()[0].Payload)
}

func TestRouteToleratesRepeatedCalls(t *testing.T) {
	out := &fakeOutbox{}
	r := NewRouter(out, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Route(protocol.ActionClick, cc, nil))
	}
	assert.Len(t, out.Events(), 3)
}

func TestRouteWriteFailureIsReported(t *testing.T) {
	out := &fakeOutbox{err: errBusGone}
	err := NewRouter(out, nil).Route(protocol.ActionRead, cc, nil)
	assert.ErrorIs(t, err, ErrOutboundWrite)
	assert.ErrorIs(t, err, errBusGone)
}
