package gemini

import "strings"

// Accumulator assembles a complete model turn from stream events so the
// orchestrator can append it to the conversation history.
type Accumulator struct {
	// textBuilder accumulates streamed text deltas.
	textBuilder strings.Builder
	// calls preserves tool calls in arrival order.
	calls []ToolCall
	// done records whether a terminal event arrived.
	done bool
	// streamErr records the terminal error, if any.
	streamErr *StreamError
}

// NewAccumulator creates an empty accumulator for one generation call.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Apply ingests one stream event.
func (acc *Accumulator) Apply(event StreamEvent) {
	switch event.Kind {
	case EventTextDelta:
		acc.textBuilder.WriteString(event.Text)
	case EventToolCall:
		if event.Call != nil {
			acc.calls = append(acc.calls, *event.Call)
		}
	case EventDone:
		acc.done = true
	case EventError:
		acc.done = true
		acc.streamErr = event.Err
	}
}

// Text returns the accumulated assistant text.
func (acc *Accumulator) Text() string {
	return acc.textBuilder.String()
}

// ToolCalls returns the tool calls in arrival order.
func (acc *Accumulator) ToolCalls() []ToolCall {
	return acc.calls
}

// Done reports whether a terminal event was applied.
func (acc *Accumulator) Done() bool {
	return acc.done
}

// Err returns the terminal stream error, when the stream failed.
func (acc *Accumulator) Err() *StreamError {
	return acc.streamErr
}

// Content builds the model-role history entry for this turn: text first,
// then each requested function call as its own part.
func (acc *Accumulator) Content() Content {
	content := Content{Role: "model"}
	if text := acc.textBuilder.String(); text != "" {
		content.Parts = append(content.Parts, Part{Text: text})
	}
	for index := range acc.calls {
		call := acc.calls[index]
		content.Parts = append(content.Parts, Part{
			FunctionCall: &FunctionCall{Name: call.Name, Args: call.Args},
		})
	}
	return content
}
