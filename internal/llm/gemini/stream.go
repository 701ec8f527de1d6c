package gemini

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// StreamGenerateContent executes a streaming generation request and decodes
// the SSE body into StreamEvents delivered to handler in arrival order. The
// sequence is finite: it ends with exactly one EventDone or EventError. A
// cancelled context stops the stream between events and closes the transport.
//
// The returned error mirrors the terminal event: nil after EventDone, the
// *StreamError after EventError, or the handler's own error.
func (c *Client) StreamGenerateContent(ctx context.Context, request *GenerateRequest, handler Handler) error {
	if handler == nil {
		return errors.New("stream handler is required")
	}

	query := url.Values{}
	query.Set("alt", "sse")
	response, err := c.post(ctx, request, "streamGenerateContent", query)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	reader := bufio.NewReader(response.Body)
	for {
		// Cancellation is honored between events; a frame in progress is
		// abandoned rather than surfaced as if complete.
		if ctx.Err() != nil {
			return c.emitCancelled(ctx, handler)
		}

		data, err := readSSEEvent(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// The endpoint ends the stream by closing the body; an
				// explicit [DONE] marker is optional.
				return emitDone(handler)
			}
			if ctx.Err() != nil {
				return c.emitCancelled(ctx, handler)
			}
			return emitStreamError(handler, TransportClosed, err.Error())
		}
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return emitDone(handler)
		}

		var frame GenerateResponse
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return emitStreamError(handler, ParseFailure, fmt.Sprintf("decode frame: %v", err))
		}

		for _, event := range frameEvents(&frame) {
			if err := handler(event); err != nil {
				return err
			}
		}
	}
}

// frameEvents decodes one frame into zero or more semantic events, keeping
// the part order of the first candidate.
func frameEvents(frame *GenerateResponse) []StreamEvent {
	if len(frame.Candidates) == 0 || frame.Candidates[0].Content == nil {
		return nil
	}
	var events []StreamEvent
	for _, part := range frame.Candidates[0].Content.Parts {
		if part.Text != "" {
			events = append(events, StreamEvent{Kind: EventTextDelta, Text: part.Text})
		}
		if part.FunctionCall != nil {
			events = append(events, StreamEvent{
				Kind: EventToolCall,
				Call: &ToolCall{
					ID:   uuid.NewString(),
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				},
			})
		}
	}
	return events
}

// emitDone delivers the terminal done event.
func emitDone(handler Handler) error {
	return handler(StreamEvent{Kind: EventDone})
}

// emitStreamError delivers a terminal error event and returns its payload.
func emitStreamError(handler Handler, kind StreamErrorKind, message string) error {
	streamErr := &StreamError{Kind: kind, Message: message}
	if err := handler(StreamEvent{Kind: EventError, Err: streamErr}); err != nil {
		return err
	}
	return streamErr
}

// emitCancelled delivers the cancellation event and returns the context error.
func (c *Client) emitCancelled(ctx context.Context, handler Handler) error {
	if err := handler(StreamEvent{Kind: EventError, Err: &StreamError{Kind: Cancelled, Message: ctx.Err().Error()}}); err != nil {
		return err
	}
	return ctx.Err()
}

// readSSEEvent reads one SSE event payload: data lines accumulated until a
// blank line. Partial frames split across transport reads stay buffered in
// the reader until the delimiter arrives.
func readSSEEvent(reader *bufio.Reader) (string, error) {
	var builder strings.Builder
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if builder.Len() == 0 {
				if errors.Is(err, io.EOF) {
					return "", io.EOF
				}
				continue
			}
			return strings.TrimSuffix(builder.String(), "\n"), nil
		}
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			builder.WriteString(payload)
			builder.WriteByte('\n')
		}
		if errors.Is(err, io.EOF) {
			if builder.Len() == 0 {
				return "", io.EOF
			}
			return strings.TrimSuffix(builder.String(), "\n"), nil
		}
	}
}
