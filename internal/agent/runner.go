package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/gemx-cli/gemx/internal/llm/gemini"
)

// ErrMaxTurns reports that the tool loop hit its turn ceiling before the
// model produced a final answer.
var ErrMaxTurns = errors.New("agent: max turns exceeded")

// ToolDispatcher routes tool invocations requested by the model and
// advertises the available catalog.
type ToolDispatcher interface {
	// Dispatch executes one tool call, identified by the correlation id the
	// orchestrator assigned to it.
	Dispatch(ctx context.Context, callID string, name string, arguments json.RawMessage) (json.RawMessage, error)
	// Declarations exports the catalog as generation-request tool blocks.
	Declarations() []gemini.Tool
}

// ToolEvent captures tool call/result events for streaming output.
type ToolEvent struct {
	// Type is either "tool_call" or "tool_result".
	Type string `json:"type"`
	// ToolName is the function name.
	ToolName string `json:"tool_name,omitempty"`
	// CallID associates tool results with calls.
	CallID string `json:"call_id,omitempty"`
	// Arguments stores serialized tool arguments.
	Arguments json.RawMessage `json:"arguments,omitempty"`
	// Result stores the tool's JSON result.
	Result json.RawMessage `json:"result,omitempty"`
	// IsError indicates whether the tool result represents a failure.
	IsError bool `json:"is_error,omitempty"`
}

// PendingCall tracks one requested tool invocation awaiting its result.
type PendingCall struct {
	// ID is the correlation id assigned at decode time.
	ID string
	// Tool is the requested function name.
	Tool string
	// Arguments is the JSON argument object from the model.
	Arguments json.RawMessage
	// Turn identifies the generation turn that requested the call.
	Turn string
}

// RunResult captures the outcome of a single user turn.
type RunResult struct {
	// History is the full conversation after the turn, including every
	// model response and tool result content entry.
	History []gemini.Content
	// FinalText is the text of the last model response.
	FinalText string
	// Events contains tool call and result events in execution order.
	Events []ToolEvent
	// NumTurns counts generation requests made for this user turn.
	NumTurns int
}

// StreamCallbacks wires streaming lifecycle hooks.
type StreamCallbacks struct {
	// OnStreamStart fires before each generation request.
	OnStreamStart func(model string) error
	// OnStreamEvent receives every decoded stream event.
	OnStreamEvent func(event gemini.StreamEvent) error
	// OnToolResult fires after a tool result joins the conversation.
	OnToolResult func(event ToolEvent) error
}

// Runner executes the tool-assisted conversation loop.
type Runner struct {
	// Client executes generation requests.
	Client *gemini.Client
	// Tools dispatches tool calls. Nil disables tool use.
	Tools ToolDispatcher
	// MaxTurns limits generation requests per user turn. Zero means 8.
	MaxTurns int
}

// RunStream executes one user turn with streaming responses and tool
// handling. The prompt, if non-empty, is appended to history as a user
// content entry before the first request.
func (r *Runner) RunStream(
	ctx context.Context,
	history []gemini.Content,
	prompt string,
	model string,
	callbacks *StreamCallbacks,
) (*RunResult, error) {
	if r.Client == nil {
		return nil, errors.New("agent: client is required")
	}
	maxTurns := r.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 8
	}

	if prompt != "" {
		history = append(history, gemini.UserText(prompt))
	}
	result := &RunResult{History: history}

	for turn := 0; turn < maxTurns; turn++ {
		request := &gemini.GenerateRequest{
			Model:    model,
			Contents: result.History,
		}
		if r.Tools != nil {
			request.Tools = r.Tools.Declarations()
		}

		if callbacks != nil && callbacks.OnStreamStart != nil {
			if err := callbacks.OnStreamStart(model); err != nil {
				return nil, fmt.Errorf("stream start callback: %w", err)
			}
		}

		accumulator := gemini.NewAccumulator()
		err := r.Client.StreamGenerateContent(ctx, request, func(event gemini.StreamEvent) error {
			accumulator.Apply(event)
			if callbacks != nil && callbacks.OnStreamEvent != nil {
				if err := callbacks.OnStreamEvent(event); err != nil {
					return fmt.Errorf("stream event callback: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("stream request: %w", err)
		}

		result.History = append(result.History, accumulator.Content())
		result.FinalText = accumulator.Text()
		result.NumTurns++

		calls := accumulator.ToolCalls()
		if len(calls) == 0 || r.Tools == nil {
			return result, nil
		}

		turnID := uuid.NewString()
		for _, call := range calls {
			pending := PendingCall{
				ID:        call.ID,
				Tool:      call.Name,
				Arguments: call.Args,
				Turn:      turnID,
			}
			result.Events = append(result.Events, ToolEvent{
				Type:      "tool_call",
				ToolName:  pending.Tool,
				CallID:    pending.ID,
				Arguments: pending.Arguments,
			})

			response, dispatchErr := r.Tools.Dispatch(ctx, pending.ID, pending.Tool, pending.Arguments)
			resultEvent := ToolEvent{
				Type:     "tool_result",
				ToolName: pending.Tool,
				CallID:   pending.ID,
				Result:   response,
			}
			if dispatchErr != nil {
				// Tool failures flow back to the model as data so it can
				// recover; only the transport failing is fatal.
				if ctx.Err() != nil {
					return nil, dispatchErr
				}
				resultEvent.IsError = true
				resultEvent.Result = errorResponse(dispatchErr)
			}
			result.Events = append(result.Events, resultEvent)
			result.History = append(result.History, gemini.ToolResponse(pending.Tool, resultEvent.Result))

			if callbacks != nil && callbacks.OnToolResult != nil {
				if err := callbacks.OnToolResult(resultEvent); err != nil {
					return nil, fmt.Errorf("tool result callback: %w", err)
				}
			}
		}
	}

	return result, ErrMaxTurns
}

// errorResponse encodes a tool failure as a JSON object for the model.
func errorResponse(err error) json.RawMessage {
	encoded, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return json.RawMessage(`{"error":"tool failed"}`)
	}
	return encoded
}
