package realtime

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	ErrNotConnected     = errors.New("realtime: not connected")
	ErrAlreadyConnected = errors.New("realtime: already connected")
	ErrMissingAPIKey    = errors.New("realtime: missing API key")

	// ErrUnknownTool is reported when the model invokes a tool that was
	// never registered. The session continues; an error string is sent
	// back as the tool output.
	ErrUnknownTool = errors.New("realtime: unknown tool")

	// ErrMalformedToolArgs is reported when tool arguments fail to parse
	// as JSON. The session continues.
	ErrMalformedToolArgs = errors.New("realtime: malformed tool arguments")
)

// APIError is an error event reported by the remote service.
// These are surfaced through the error callback; the session stays open.
type APIError struct {
	Type    string
	Code    string
	Message string
	EventID string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: api error: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("realtime: api error: %s", e.Message)
}
