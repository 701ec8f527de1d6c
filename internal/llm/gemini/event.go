package gemini

import (
	"encoding/json"
	"fmt"
)

// EventKind tags a StreamEvent variant.
type EventKind int

const (
	// EventTextDelta carries an incremental text fragment.
	EventTextDelta EventKind = iota
	// EventToolCall carries a tool invocation requested by the model.
	EventToolCall
	// EventDone marks the normal end of the stream.
	EventDone
	// EventError marks the abnormal end of the stream.
	EventError
)

// StreamErrorKind classifies terminal stream failures.
type StreamErrorKind string

const (
	// ParseFailure reports a frame that did not decode; events emitted
	// before the bad frame remain valid.
	ParseFailure StreamErrorKind = "parse_failure"
	// TransportClosed reports an unexpected connection loss.
	TransportClosed StreamErrorKind = "transport_closed"
	// Cancelled reports caller-initiated cancellation.
	Cancelled StreamErrorKind = "cancelled"
)

// StreamError is the payload of an EventError stream event.
type StreamError struct {
	// Kind classifies the failure.
	Kind StreamErrorKind
	// Message describes the failure.
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s: %s", e.Kind, e.Message)
}

// StreamEvent is the decoded form of one semantic stream occurrence. Events
// are delivered strictly in transport order and exactly one of the payload
// fields is set, selected by Kind.
type StreamEvent struct {
	// Kind selects the variant.
	Kind EventKind
	// Text is the delta payload for EventTextDelta.
	Text string
	// Call is the payload for EventToolCall.
	Call *ToolCall
	// Err is the payload for EventError.
	Err *StreamError
}

// ToolCall is a tool invocation surfaced from the stream. The id is
// synthesized at the decode boundary because the wire format carries none;
// it correlates the eventual result back to this call.
type ToolCall struct {
	// ID uniquely identifies this call within the conversation.
	ID string
	// Name is the tool to invoke.
	Name string
	// Args is the JSON argument object.
	Args json.RawMessage
}

// Handler consumes stream events in order. Returning an error stops the
// stream and closes the transport.
type Handler func(event StreamEvent) error
