package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCC = CorrelationContext{ChannelID: "c", MessageID: "m", GuildID: "g"}

func TestEventJSONShape(t *testing.T) {
	cases := []struct {
		name string
		ev   OutboundActionEvent
		want string
	}{
		{"read", NewReadEvent(testCC, "hi"), `{"action":"read","body":"hi","guild_id":"g","id":"c","message_id":"m"}`},
		{"reply", NewReplyEvent(testCC, "on my way"), `{"action":"reply","guild_id":"g","id":"c","message_id":"m","text":"on my way"}`},
		{"click", NewClickEvent(testCC), `{"action":"click","guild_id":"g","id":"c","message_id":"m"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(data))
		})
	}
}

func TestEventCorrelationOverridesPayload(t *testing.T) {
	ev := OutboundActionEvent{
		Action:      ActionReply,
		Correlation: testCC,
		Payload:     map[string]any{"id": "spoofed", "action": "click", "text": "x"},
	}
	fields := ev.Fields()
	assert.Equal(t, "c", fields["id"])
	assert.Equal(t, "reply", fields["action"])
	assert.Equal(t, "x", fields["text"])
}

func TestEventRejectsUnknownAction(t *testing.T) {
	_, err := json.Marshal(OutboundActionEvent{Action: "dismiss", Correlation: testCC})
	assert.Error(t, err)
}
