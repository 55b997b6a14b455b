package domain

import (
	"time"
)

// EventKind categorizes entries in a session's event log.
type EventKind string

const (
	EventMessage  EventKind = "message"
	EventToolCall EventKind = "tool_call"
	EventStatus   EventKind = "status"
)

// EventSource identifies who produced an event.
type EventSource string

const (
	SourceCustomer EventSource = "customer"
	SourceAgent    EventSource = "agent"
	SourceHuman    EventSource = "human"
	SourceSystem   EventSource = "system"
)

// Event is a single immutable entry in a session's append-only log.
// Offsets are assigned by the SessionStore and are strictly increasing
// within a session.
type Event struct {
	ID            string      `json:"id"`
	Offset        int64       `json:"offset"`
	Kind          EventKind   `json:"kind"`
	Source        EventSource `json:"source"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Data          any         `json:"data"`
	Timestamp     time.Time   `json:"timestamp"`
}

// MessageData is the payload of a message event.
type MessageData struct {
	Text string `json:"text"`

	// NoMatch marks the distinguished "no authored template satisfies this
	// turn" outcome of strict composition. The turn still counts as replied.
	NoMatch bool `json:"no_match,omitempty"`

	// Participant is the display name of the speaker.
	Participant string `json:"participant,omitempty"`
}

// AsMessageData recovers a message payload from an event's Data field.
// Events freshly appended carry the typed struct; events read back from a
// JSON-backed store carry a generic map.
func AsMessageData(data any) (MessageData, bool) {
	switch v := data.(type) {
	case MessageData:
		return v, true
	case *MessageData:
		return *v, true
	case map[string]any:
		var out MessageData
		out.Text, _ = v["text"].(string)
		out.NoMatch, _ = v["no_match"].(bool)
		out.Participant, _ = v["participant"].(string)
		return out, true
	}
	return MessageData{}, false
}

// ToolCallData is the payload of a tool_call event: one batch of calls
// planned (and executed) within a single turn.
type ToolCallData struct {
	Calls []ToolCallRecord `json:"calls"`
}

// Status is the fixed vocabulary of processing statuses emitted while a
// turn is handled. The front end renders these directly.
type Status string

const (
	StatusAcknowledging Status = "acknowledging"
	StatusProcessing    Status = "processing"
	StatusTyping        Status = "typing"
	StatusCancelling    Status = "cancelling"
	StatusReady         Status = "ready"
	StatusError         Status = "error"
)

// StatusData is the payload of a status event.
type StatusData struct {
	Status Status `json:"status"`

	// Detail carries optional human-readable context (e.g. the error
	// summary accompanying StatusError).
	Detail string `json:"detail,omitempty"`
}
