package protocol

import (
	"encoding/json"
	"fmt"
)

// Action is the kind of user interaction reported back to the client.
type Action string

const (
	ActionRead  Action = "read"
	ActionReply Action = "reply"
	ActionClick Action = "click"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionRead, ActionReply, ActionClick:
		return true
	}
	return false
}

// Outbound field names. FieldChannelID and friends are shared with the
// inbound message so the client can correlate on the same keys.
const (
	FieldAction = "action"
	FieldText   = "text"
)

// CorrelationContext is captured when a request is handled and carried by
// every callback registered for its notification.
type CorrelationContext struct {
	ChannelID string
	MessageID string
	GuildID   string
}

// OutboundActionEvent is a user action on a notification, addressed back to
// the request that produced it.
type OutboundActionEvent struct {
	Action      Action
	Correlation CorrelationContext
	Payload     map[string]any
}

// NewReadEvent reports the "mark as read" button, echoing the message body.
func NewReadEvent(cc CorrelationContext, body string) OutboundActionEvent {
	return OutboundActionEvent{Action: ActionRead, Correlation: cc, Payload: map[string]any{FieldBody: body}}
}

// NewReplyEvent reports text typed into the reply field.
func NewReplyEvent(cc CorrelationContext, text string) OutboundActionEvent {
	return OutboundActionEvent{Action: ActionReply, Correlation: cc, Payload: map[string]any{FieldText: text}}
}

// NewClickEvent reports a click on the notification body.
func NewClickEvent(cc CorrelationContext) OutboundActionEvent {
	return OutboundActionEvent{Action: ActionClick, Correlation: cc, Payload: map[string]any{}}
}

// Fields flattens the event into a single mapping. The action and
// correlation keys are written last and override same-named payload keys.
func (e OutboundActionEvent) Fields() map[string]any {
	out := make(map[string]any, len(e.Payload)+4)
	for k, v := range e.Payload {
		out[k] = v
	}
	out[FieldAction] = string(e.Action)
	out[FieldChannelID] = e.Correlation.ChannelID
	out[FieldMessageID] = e.Correlation.MessageID
	out[FieldGuildID] = e.Correlation.GuildID
	return out
}

// MarshalJSON encodes the flattened form produced by Fields.
func (e OutboundActionEvent) MarshalJSON() ([]byte, error) {
	if !e.Action.Valid() {
		return nil, fmt.Errorf("unknown action %q", e.Action)
	}
	return json.Marshal(e.Fields())
}
