package mcp

import "encoding/json"

// protocolVersion is the MCP revision this client negotiates.
const protocolVersion = "2024-11-05"

// rpcRequest is one outgoing JSON-RPC request or notification. Requests
// carry a correlation id; notifications leave it nil.
type rpcRequest struct {
	// JSONRPC is always "2.0".
	JSONRPC string `json:"jsonrpc"`
	// ID correlates the eventual response; nil marks a notification.
	ID *int64 `json:"id,omitempty"`
	// Method is the RPC method name.
	Method string `json:"method"`
	// Params is the method parameter object.
	Params any `json:"params,omitempty"`
}

// rpcMessage is one incoming line from the server: a response when ID is
// set, a notification when only Method is.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// initializeParams is the handshake request payload.
type initializeParams struct {
	// ProtocolVersion is the revision this client speaks.
	ProtocolVersion string `json:"protocolVersion"`
	// Capabilities advertises client capabilities; empty for now.
	Capabilities map[string]any `json:"capabilities"`
	// ClientInfo identifies this client to the server.
	ClientInfo clientInfo `json:"clientInfo"`
}

// clientInfo names the client in the handshake.
type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeResult is the handshake response payload.
type initializeResult struct {
	// ProtocolVersion is the revision the server settled on.
	ProtocolVersion string `json:"protocolVersion"`
	// Capabilities advertises server capabilities.
	Capabilities map[string]any `json:"capabilities"`
}

// ToolInfo describes one tool advertised by a server.
type ToolInfo struct {
	// Name is the tool identifier, unique within one server.
	Name string `json:"name"`
	// Description summarizes the tool.
	Description string `json:"description,omitempty"`
	// InputSchema is the JSON Schema for the tool arguments.
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// toolsListResult is the tools/list response payload.
type toolsListResult struct {
	Tools []ToolInfo `json:"tools"`
}

// callToolParams is the tools/call request payload.
type callToolParams struct {
	// Name is the tool to invoke.
	Name string `json:"name"`
	// Arguments is the JSON argument object.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}
