package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gemx-cli/gemx/internal/llm/gemini"
	"github.com/gemx-cli/gemx/internal/testutil"
)

// scriptedModel serves one SSE body per generation request, in order, and
// records every request body it receives.
type scriptedModel struct {
	bodies   []string
	requests []string
}

func (m *scriptedModel) handler(testingHandle *testing.T) http.HandlerFunc {
	return func(responseWriter http.ResponseWriter, request *http.Request) {
		payload, err := io.ReadAll(request.Body)
		if err != nil {
			http.Error(responseWriter, "read body", http.StatusInternalServerError)
			return
		}
		m.requests = append(m.requests, string(payload))
		if len(m.bodies) == 0 {
			http.Error(responseWriter, "no scripted response left", http.StatusInternalServerError)
			return
		}
		body := m.bodies[0]
		m.bodies = m.bodies[1:]
		responseWriter.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(responseWriter, body)
	}
}

// stubDispatcher serves a fixed catalog and canned results.
type stubDispatcher struct {
	results map[string]string
	err     error
	// calls records "name:args" per dispatch.
	calls []string
}

func (d *stubDispatcher) Dispatch(ctx context.Context, callID string, name string, arguments json.RawMessage) (json.RawMessage, error) {
	d.calls = append(d.calls, name+":"+string(arguments))
	if d.err != nil {
		return nil, d.err
	}
	return json.RawMessage(d.results[name]), nil
}

func (d *stubDispatcher) Declarations() []gemini.Tool {
	return []gemini.Tool{{FunctionDeclarations: []gemini.FunctionDeclaration{
		{Name: "search", Parameters: map[string]any{"type": "object"}},
	}}}
}

func textFrame(text string) string {
	return fmt.Sprintf("data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":%q}]}}]}\n\n", text)
}

func callFrame(name string, args string) string {
	return fmt.Sprintf("data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"functionCall\":{\"name\":%q,\"args\":%s}}]}}]}\n\n", name, args)
}

func newTestRunner(testingHandle *testing.T, model *scriptedModel, tools ToolDispatcher) *Runner {
	testingHandle.Helper()
	server := httptest.NewServer(model.handler(testingHandle))
	testingHandle.Cleanup(server.Close)
	return &Runner{
		Client: gemini.NewClient(server.URL, "test-key", 5*time.Second),
		Tools:  tools,
	}
}

// TestRunStreamPlainAnswer verifies a tool-free turn assembles the text and
// ends after one request.
func TestRunStreamPlainAnswer(testingHandle *testing.T) {
	model := &scriptedModel{bodies: []string{textFrame("Hel") + textFrame("lo")}}
	runner := newTestRunner(testingHandle, model, nil)

	result, err := runner.RunStream(context.Background(), nil, "greet me", "model-x", nil)
	testutil.RequireNoError(testingHandle, err, "run")
	testutil.RequireEqual(testingHandle, result.FinalText, "Hello", "assembled text mismatch")
	testutil.RequireEqual(testingHandle, result.NumTurns, 1, "expected a single generation request")
	testutil.RequireEqual(testingHandle, len(result.Events), 0, "no tool events expected")
	// History: user prompt plus model response.
	testutil.RequireEqual(testingHandle, len(result.History), 2, "history length mismatch")
	testutil.RequireEqual(testingHandle, result.History[1].Role, "model", "final content role mismatch")
}

// TestRunStreamToolRoundTrip verifies a requested tool call is dispatched
// and its result is carried into the continuation request.
func TestRunStreamToolRoundTrip(testingHandle *testing.T) {
	model := &scriptedModel{bodies: []string{
		callFrame("search", `{"q":"x"}`),
		textFrame("Found nothing."),
	}}
	tools := &stubDispatcher{results: map[string]string{"search": `{"results":[]}`}}
	runner := newTestRunner(testingHandle, model, tools)

	result, err := runner.RunStream(context.Background(), nil, "look it up", "model-x", nil)
	testutil.RequireNoError(testingHandle, err, "run")
	testutil.RequireEqual(testingHandle, result.FinalText, "Found nothing.", "final text mismatch")
	testutil.RequireEqual(testingHandle, result.NumTurns, 2, "expected a continuation request")

	testutil.RequireEqual(testingHandle, len(tools.calls), 1, "dispatch count mismatch")
	testutil.RequireEqual(testingHandle, tools.calls[0], `search:{"q":"x"}`, "dispatch arguments mismatch")

	testutil.RequireEqual(testingHandle, len(model.requests), 2, "request count mismatch")
	continuation := model.requests[1]
	testutil.RequireStringContains(testingHandle, continuation, `"functionCall"`, "continuation must replay the model's call")
	testutil.RequireStringContains(testingHandle, continuation, `"functionResponse"`, "continuation must carry the tool result")
	testutil.RequireStringContains(testingHandle, continuation, `"results":[]`, "continuation must carry the result payload")

	testutil.RequireEqual(testingHandle, len(result.Events), 2, "expected call and result events")
	testutil.RequireEqual(testingHandle, result.Events[0].Type, "tool_call", "first event mismatch")
	testutil.RequireEqual(testingHandle, result.Events[1].Type, "tool_result", "second event mismatch")
	testutil.RequireTrue(testingHandle, result.Events[0].CallID != "", "call events carry a correlation id")
	testutil.RequireEqual(testingHandle, result.Events[0].CallID, result.Events[1].CallID, "result must share the call id")
}

// TestRunStreamToolFailureFlowsToModel verifies a failed dispatch becomes
// an error payload for the model rather than aborting the turn.
func TestRunStreamToolFailureFlowsToModel(testingHandle *testing.T) {
	model := &scriptedModel{bodies: []string{
		callFrame("search", `{"q":"x"}`),
		textFrame("The tool is unavailable."),
	}}
	tools := &stubDispatcher{err: errors.New("server crashed")}
	runner := newTestRunner(testingHandle, model, tools)

	result, err := runner.RunStream(context.Background(), nil, "look it up", "model-x", nil)
	testutil.RequireNoError(testingHandle, err, "run")
	testutil.RequireEqual(testingHandle, result.FinalText, "The tool is unavailable.", "final text mismatch")
	testutil.RequireTrue(testingHandle, result.Events[1].IsError, "result event must be marked as error")
	testutil.RequireStringContains(testingHandle, model.requests[1], "server crashed", "error must reach the model")
}

// TestRunStreamMaxTurns verifies a model that never stops calling tools is
// cut off.
func TestRunStreamMaxTurns(testingHandle *testing.T) {
	bodies := make([]string, 0, 3)
	for index := 0; index < 3; index++ {
		bodies = append(bodies, callFrame("search", `{"q":"again"}`))
	}
	model := &scriptedModel{bodies: bodies}
	tools := &stubDispatcher{results: map[string]string{"search": `{"results":[]}`}}
	runner := newTestRunner(testingHandle, model, tools)
	runner.MaxTurns = 3

	_, err := runner.RunStream(context.Background(), nil, "loop forever", "model-x", nil)
	testutil.RequireTrue(testingHandle, errors.Is(err, ErrMaxTurns), "expected ErrMaxTurns")
	testutil.RequireEqual(testingHandle, len(model.requests), 3, "request count mismatch")
}

// TestRunStreamCallbacks verifies lifecycle hooks observe deltas and tool
// results in order.
func TestRunStreamCallbacks(testingHandle *testing.T) {
	model := &scriptedModel{bodies: []string{
		callFrame("search", `{"q":"x"}`),
		textFrame("Done."),
	}}
	tools := &stubDispatcher{results: map[string]string{"search": `{"results":[]}`}}
	runner := newTestRunner(testingHandle, model, tools)

	var trace []string
	callbacks := &StreamCallbacks{
		OnStreamStart: func(model string) error {
			trace = append(trace, "start:"+model)
			return nil
		},
		OnStreamEvent: func(event gemini.StreamEvent) error {
			switch event.Kind {
			case gemini.EventTextDelta:
				trace = append(trace, "text")
			case gemini.EventToolCall:
				trace = append(trace, "call:"+event.Call.Name)
			case gemini.EventDone:
				trace = append(trace, "done")
			}
			return nil
		},
		OnToolResult: func(event ToolEvent) error {
			trace = append(trace, "result:"+event.ToolName)
			return nil
		},
	}

	_, err := runner.RunStream(context.Background(), nil, "look it up", "model-x", callbacks)
	testutil.RequireNoError(testingHandle, err, "run")
	expected := "start:model-x,call:search,done,result:search,start:model-x,text,done"
	testutil.RequireEqual(testingHandle, strings.Join(trace, ","), expected, "callback order mismatch")
}
