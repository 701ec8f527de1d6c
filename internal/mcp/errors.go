package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawnFailed reports that the server process could not be started.
	ErrSpawnFailed = errors.New("mcp: spawn failed")
	// ErrHandshakeTimeout reports that the initialize exchange did not
	// complete within the handshake deadline.
	ErrHandshakeTimeout = errors.New("mcp: handshake timeout")
	// ErrServerCrashed reports that the server process exited while calls
	// were in flight. Terminal for the session.
	ErrServerCrashed = errors.New("mcp: server crashed")
	// ErrProtocol reports a message that violates the wire protocol.
	// Terminal for the session.
	ErrProtocol = errors.New("mcp: protocol violation")
	// ErrSessionClosed reports a call against a deliberately closed session.
	ErrSessionClosed = errors.New("mcp: session closed")
	// ErrSessionNotReady reports a call against a session outside Ready.
	ErrSessionNotReady = errors.New("mcp: session not ready")
	// ErrUnknownTool reports a dispatch for a tool no session advertises.
	ErrUnknownTool = errors.New("mcp: unknown tool")
)

// DuplicateToolError reports two enabled servers advertising the same tool
// name. The registry refuses to commit an ambiguous catalog.
type DuplicateToolError struct {
	// Tool is the colliding tool name.
	Tool string
	// Servers names the colliding servers.
	Servers [2]string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("mcp: duplicate tool %q advertised by %s and %s", e.Tool, e.Servers[0], e.Servers[1])
}

// RPCError is a structured error returned by a server for one request.
type RPCError struct {
	// Code is the JSON-RPC error code.
	Code int64 `json:"code"`
	// Message describes the error.
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mcp: server error %d: %s", e.Code, e.Message)
}
