package protocol

import "errors"

// ErrMalformedRequest marks an inbound message that could not be decoded
// as a JSON object. Only that message is skipped.
var ErrMalformedRequest = errors.New("malformed request")
