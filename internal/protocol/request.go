// Package protocol defines the JSON messages exchanged with the remote
// client: inbound notification requests and outbound action events.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// DefaultID is used for title and for any correlation identifier the client
// leaves out.
const DefaultID = "Discord"

// Inbound field names.
const (
	FieldTitle         = "title"
	FieldBody          = "body"
	FieldChannelID     = "id"
	FieldMessageID     = "message_id"
	FieldGuildID       = "guild_id"
	FieldAvatarURL     = "avatar_url"
	FieldAttachmentURL = "attachment_url"
)

// NotificationRequest is one inbound notification, normalized with defaults.
// It is immutable after Parse returns.
type NotificationRequest struct {
	Title         string
	Body          string
	ChannelID     string
	MessageID     string
	GuildID       string
	AvatarURL     string
	AttachmentURL string
}

// Correlation returns the identifiers that tie user actions on this
// request's notification back to it.
func (r NotificationRequest) Correlation() CorrelationContext {
	return CorrelationContext{
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		GuildID:   r.GuildID,
	}
}

// ImageURL returns the URL that should be resolved for this request and
// whether it is a message attachment. Attachments win over avatars.
func (r NotificationRequest) ImageURL() (url string, isAttachment bool) {
	if r.AttachmentURL != "" {
		return r.AttachmentURL, true
	}
	return r.AvatarURL, false
}

// Parse decodes a raw inbound message. A payload that is not exactly one
// JSON object is an error; missing, null or empty fields fall back to
// defaults.
func Parse(data []byte) (NotificationRequest, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return NotificationRequest{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if raw == nil {
		return NotificationRequest{}, fmt.Errorf("%w: payload is not an object", ErrMalformedRequest)
	}
	if _, err := dec.Token(); err != io.EOF {
		return NotificationRequest{}, fmt.Errorf("%w: trailing data after object", ErrMalformedRequest)
	}
	return FromMap(raw), nil
}

// FromMap builds a request from an already-decoded mapping.
func FromMap(raw map[string]any) NotificationRequest {
	return NotificationRequest{
		Title:         stringField(raw, FieldTitle, DefaultID),
		Body:          stringField(raw, FieldBody, ""),
		ChannelID:     stringField(raw, FieldChannelID, DefaultID),
		MessageID:     stringField(raw, FieldMessageID, DefaultID),
		GuildID:       stringField(raw, FieldGuildID, DefaultID),
		AvatarURL:     stringField(raw, FieldAvatarURL, ""),
		AttachmentURL: stringField(raw, FieldAttachmentURL, ""),
	}
}

// stringField reads key as a string. Numbers and booleans are rendered in
// their JSON form since snowflake ids sometimes arrive unquoted; objects and
// arrays are ignored.
func stringField(raw map[string]any, key, def string) string {
	var s string
	switch v := raw[key].(type) {
	case string:
		s = v
	case json.Number:
		s = v.String()
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(v)
	}
	if s == "" {
		return def
	}
	return s
}
