package gemini

import "encoding/json"

// GenerateRequest matches the generateContent request body.
type GenerateRequest struct {
	// Model is the model identifier; it travels in the URL, not the body.
	Model string `json:"-"`
	// Contents is the ordered conversation history.
	Contents []Content `json:"contents"`
	// Tools advertises callable functions to the model.
	Tools []Tool `json:"tools,omitempty"`
}

// Content is one conversation entry made of ordered parts.
type Content struct {
	// Role is "user", "model", or "tool".
	Role string `json:"role,omitempty"`
	// Parts carries the text, function calls, and function responses.
	Parts []Part `json:"parts"`
}

// Part is a single content fragment.
type Part struct {
	// Text holds plain text output or input.
	Text string `json:"text,omitempty"`
	// FunctionCall is a tool invocation requested by the model.
	FunctionCall *FunctionCall `json:"functionCall,omitempty"`
	// FunctionResponse feeds a tool result back to the model.
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// FunctionCall names a tool and its JSON arguments.
type FunctionCall struct {
	// Name identifies the tool to invoke.
	Name string `json:"name"`
	// Args is the JSON argument object.
	Args json.RawMessage `json:"args,omitempty"`
}

// FunctionResponse carries a tool result back into the conversation.
type FunctionResponse struct {
	// Name echoes the invoked tool.
	Name string `json:"name"`
	// Response is the JSON result object.
	Response json.RawMessage `json:"response"`
}

// Tool groups function declarations advertised to the model.
type Tool struct {
	// FunctionDeclarations lists the callable functions.
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// FunctionDeclaration describes one callable function.
type FunctionDeclaration struct {
	// Name is the unique function identifier.
	Name string `json:"name"`
	// Description summarizes the function for the model.
	Description string `json:"description,omitempty"`
	// Parameters is a JSON Schema object describing inputs.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// GenerateResponse matches both streamed frames and full responses.
type GenerateResponse struct {
	// Candidates holds the model output; the first candidate is used.
	Candidates []Candidate `json:"candidates,omitempty"`
	// UsageMetadata reports token counts when present.
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// Candidate is one generated answer.
type Candidate struct {
	// Content holds the generated parts.
	Content *Content `json:"content,omitempty"`
	// FinishReason signals why generation stopped.
	FinishReason string `json:"finishReason,omitempty"`
}

// UsageMetadata reports token usage.
type UsageMetadata struct {
	// PromptTokenCount counts input tokens.
	PromptTokenCount int `json:"promptTokenCount"`
	// CandidatesTokenCount counts output tokens.
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	// TotalTokenCount is the total for the call.
	TotalTokenCount int `json:"totalTokenCount"`
}

// UserText builds a single-part user content entry.
func UserText(text string) Content {
	return Content{Role: "user", Parts: []Part{{Text: text}}}
}

// ToolResponse builds the tool content entry carrying one function result.
func ToolResponse(name string, response json.RawMessage) Content {
	return Content{
		Role:  "tool",
		Parts: []Part{{FunctionResponse: &FunctionResponse{Name: name, Response: response}}},
	}
}
