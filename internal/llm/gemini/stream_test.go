package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gemx-cli/gemx/internal/testutil"
)

// sseServer serves the given body as a text/event-stream, split into chunks
// of chunkSize bytes with a flush after each chunk. chunkSize <= 0 writes
// the body at once.
func sseServer(testingHandle *testing.T, body string, chunkSize int) *httptest.Server {
	testingHandle.Helper()
	return httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		responseWriter.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := responseWriter.(http.Flusher)
		if !ok {
			http.Error(responseWriter, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		if chunkSize <= 0 {
			chunkSize = len(body)
		}
		for start := 0; start < len(body); start += chunkSize {
			end := start + chunkSize
			if end > len(body) {
				end = len(body)
			}
			_, _ = fmt.Fprint(responseWriter, body[start:end])
			flusher.Flush()
		}
	}))
}

// collectEvents runs a streaming request and gathers every delivered event.
func collectEvents(testingHandle *testing.T, serverURL string) ([]StreamEvent, error) {
	testingHandle.Helper()
	client := NewClient(serverURL, "test-key", 5*time.Second)
	request := &GenerateRequest{
		Model:    "model-x",
		Contents: []Content{UserText("hello")},
	}
	var events []StreamEvent
	err := client.StreamGenerateContent(context.Background(), request, func(event StreamEvent) error {
		events = append(events, event)
		return nil
	})
	return events, err
}

// eventSignature flattens events for order comparison across runs.
func eventSignature(events []StreamEvent) []string {
	signature := make([]string, 0, len(events))
	for _, event := range events {
		switch event.Kind {
		case EventTextDelta:
			signature = append(signature, "text:"+event.Text)
		case EventToolCall:
			signature = append(signature, "call:"+event.Call.Name)
		case EventDone:
			signature = append(signature, "done")
		case EventError:
			signature = append(signature, "error:"+string(event.Err.Kind))
		}
	}
	return signature
}

const helloBody = "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"Hel\"}]}}]}\n\n" +
	"data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"lo\"}]}}]}\n\n"

// TestStreamDecodesTextDeltas verifies ordered delta delivery and the
// terminal done event.
func TestStreamDecodesTextDeltas(testingHandle *testing.T) {
	server := sseServer(testingHandle, helloBody, 0)
	defer server.Close()

	events, err := collectEvents(testingHandle, server.URL)
	testutil.RequireNoError(testingHandle, err, "stream request")
	testutil.RequireEqual(testingHandle, eventSignature(events), []string{"text:Hel", "text:lo", "done"}, "event order mismatch")
}

// TestStreamChunkBoundaryIndependence verifies the event sequence does not
// depend on how the transport splits the bytes.
func TestStreamChunkBoundaryIndependence(testingHandle *testing.T) {
	whole := sseServer(testingHandle, helloBody, 0)
	defer whole.Close()
	wholeEvents, err := collectEvents(testingHandle, whole.URL)
	testutil.RequireNoError(testingHandle, err, "whole-body stream")

	for _, chunkSize := range []int{1, 2, 3, 7, 16} {
		chunked := sseServer(testingHandle, helloBody, chunkSize)
		chunkedEvents, err := collectEvents(testingHandle, chunked.URL)
		chunked.Close()
		testutil.RequireNoError(testingHandle, err, fmt.Sprintf("chunked stream (size %d)", chunkSize))
		testutil.RequireEqual(testingHandle, eventSignature(chunkedEvents), eventSignature(wholeEvents), fmt.Sprintf("chunk size %d changed the event sequence", chunkSize))
	}
}

// TestStreamDecodesToolCall verifies function calls become tool-call events
// with synthesized correlation ids.
func TestStreamDecodesToolCall(testingHandle *testing.T) {
	body := "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"functionCall\":{\"name\":\"search\",\"args\":{\"q\":\"x\"}}}]},\"finishReason\":\"STOP\"}]}\n\n"
	server := sseServer(testingHandle, body, 0)
	defer server.Close()

	events, err := collectEvents(testingHandle, server.URL)
	testutil.RequireNoError(testingHandle, err, "stream request")
	testutil.RequireEqual(testingHandle, eventSignature(events), []string{"call:search", "done"}, "event order mismatch")

	call := events[0].Call
	testutil.RequireTrue(testingHandle, call.ID != "", "expected synthesized call id")
	testutil.RequireEqual(testingHandle, string(call.Args), `{"q":"x"}`, "arguments mismatch")
}

// TestStreamDoneMarker verifies the optional [DONE] sentinel ends the stream.
func TestStreamDoneMarker(testingHandle *testing.T) {
	body := helloBody + "data: [DONE]\n\n"
	server := sseServer(testingHandle, body, 0)
	defer server.Close()

	events, err := collectEvents(testingHandle, server.URL)
	testutil.RequireNoError(testingHandle, err, "stream request")
	testutil.RequireEqual(testingHandle, eventSignature(events), []string{"text:Hel", "text:lo", "done"}, "event order mismatch")
}

// TestStreamMalformedFrame verifies a bad frame terminates the stream with a
// parse failure while earlier events stand.
func TestStreamMalformedFrame(testingHandle *testing.T) {
	body := helloBody + "data: {not json}\n\n"
	server := sseServer(testingHandle, body, 0)
	defer server.Close()

	events, err := collectEvents(testingHandle, server.URL)
	var streamErr *StreamError
	testutil.RequireTrue(testingHandle, errors.As(err, &streamErr), "expected StreamError")
	testutil.RequireEqual(testingHandle, streamErr.Kind, ParseFailure, "expected parse failure")
	testutil.RequireEqual(testingHandle, eventSignature(events), []string{"text:Hel", "text:lo", "error:parse_failure"}, "event order mismatch")
}

// TestStreamCancellation verifies cancelling between events stops delivery
// with a cancellation event and no partial frame.
func TestStreamCancellation(testingHandle *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		responseWriter.Header().Set("Content-Type", "text/event-stream")
		flusher := responseWriter.(http.Flusher)
		_, _ = fmt.Fprint(responseWriter, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"first\"}]}}]}\n\n")
		flusher.Flush()
		// Hold the connection open until the client walks away.
		select {
		case <-release:
		case <-request.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, "test-key", 5*time.Second)
	request := &GenerateRequest{Model: "model-x", Contents: []Content{UserText("hello")}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events []StreamEvent
	err := client.StreamGenerateContent(ctx, request, func(event StreamEvent) error {
		events = append(events, event)
		if event.Kind == EventTextDelta {
			cancel()
		}
		return nil
	})
	testutil.RequireTrue(testingHandle, errors.Is(err, context.Canceled), "expected context.Canceled")
	testutil.RequireEqual(testingHandle, eventSignature(events), []string{"text:first", "error:cancelled"}, "event order mismatch")
}

// TestStreamAPIError verifies non-success responses fail before any event.
func TestStreamAPIError(testingHandle *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		http.Error(responseWriter, `{"error":{"message":"quota"}}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	events, err := collectEvents(testingHandle, server.URL)
	var apiErr *APIError
	testutil.RequireTrue(testingHandle, errors.As(err, &apiErr), "expected APIError")
	testutil.RequireEqual(testingHandle, apiErr.StatusCode, http.StatusTooManyRequests, "status mismatch")
	testutil.RequireEqual(testingHandle, len(events), 0, "no events expected")
}

// TestAccumulatorBuildsModelContent verifies history assembly from events.
func TestAccumulatorBuildsModelContent(testingHandle *testing.T) {
	accumulator := NewAccumulator()
	accumulator.Apply(StreamEvent{Kind: EventTextDelta, Text: "Hel"})
	accumulator.Apply(StreamEvent{Kind: EventTextDelta, Text: "lo"})
	accumulator.Apply(StreamEvent{Kind: EventToolCall, Call: &ToolCall{ID: "call-1", Name: "search", Args: []byte(`{"q":"x"}`)}})
	accumulator.Apply(StreamEvent{Kind: EventDone})

	testutil.RequireEqual(testingHandle, accumulator.Text(), "Hello", "text mismatch")
	testutil.RequireTrue(testingHandle, accumulator.Done(), "expected done")

	content := accumulator.Content()
	testutil.RequireEqual(testingHandle, content.Role, "model", "role mismatch")
	testutil.RequireEqual(testingHandle, len(content.Parts), 2, "part count mismatch")
	testutil.RequireEqual(testingHandle, content.Parts[0].Text, "Hello", "text part mismatch")
	testutil.RequireEqual(testingHandle, content.Parts[1].FunctionCall.Name, "search", "function call mismatch")
}
