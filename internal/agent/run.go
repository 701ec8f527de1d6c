package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/gemx-cli/gemx/internal/llm/gemini"
)

// Run executes one user turn without streaming, using the blocking
// generation endpoint. Tool handling matches RunStream.
func (r *Runner) Run(
	ctx context.Context,
	history []gemini.Content,
	prompt string,
	model string,
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

		response, err := r.Client.GenerateContent(ctx, request)
		if err != nil {
			return nil, fmt.Errorf("generate request: %w", err)
		}

		content, text, calls := splitCandidate(response)
		result.History = append(result.History, content)
		result.FinalText = text
		result.NumTurns++

		if len(calls) == 0 || r.Tools == nil {
			return result, nil
		}

		turnID := uuid.NewString()
		for _, call := range calls {
			call.Turn = turnID
			resultEvent, content := r.dispatchCall(ctx, call)
			if resultEvent == nil {
				return nil, ctx.Err()
			}
			result.Events = append(result.Events,
				ToolEvent{Type: "tool_call", ToolName: call.Tool, CallID: call.ID, Arguments: call.Arguments},
				*resultEvent,
			)
			result.History = append(result.History, content)
		}
	}

	return result, ErrMaxTurns
}

// splitCandidate extracts the first candidate's content, its text, and any
// requested tool calls, synthesizing correlation ids.
func splitCandidate(response *gemini.GenerateResponse) (gemini.Content, string, []PendingCall) {
	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return gemini.Content{Role: "model"}, "", nil
	}
	content := *response.Candidates[0].Content
	var text string
	var calls []PendingCall
	for _, part := range content.Parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.FunctionCall != nil {
			calls = append(calls, PendingCall{
				ID:        uuid.NewString(),
				Tool:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}
	return content, text, calls
}

// dispatchCall runs one pending call and shapes its conversation entry.
// A nil event means the context was cancelled mid-dispatch.
func (r *Runner) dispatchCall(ctx context.Context, call PendingCall) (*ToolEvent, gemini.Content) {
	response, err := r.Tools.Dispatch(ctx, call.ID, call.Tool, call.Arguments)
	event := &ToolEvent{
		Type:     "tool_result",
		ToolName: call.Tool,
		CallID:   call.ID,
		Result:   response,
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, gemini.Content{}
		}
		event.IsError = true
		event.Result = errorResponse(err)
	}
	return event, gemini.ToolResponse(call.Tool, event.Result)
}
