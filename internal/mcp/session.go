package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	// handshakeTimeout bounds the initialize exchange after spawn.
	handshakeTimeout = 10 * time.Second
	// shutdownTimeout bounds the graceful-exit wait before the process is
	// forcibly killed.
	shutdownTimeout = 3 * time.Second
	// maxLineSize caps one protocol line; tool results can be large.
	maxLineSize = 10 * 1024 * 1024
)

// State tracks the session lifecycle. Only Ready accepts calls.
type State int

const (
	// StateStarting covers spawn and handshake.
	StateStarting State = iota
	// StateReady accepts tool calls.
	StateReady
	// StateDead is terminal; the session is never restarted.
	StateDead
)

// pendingResult is delivered to a waiting caller: a matched response or the
// session's death error.
type pendingResult struct {
	message *rpcMessage
	err     error
}

// Session owns one server child process and its line-delimited JSON-RPC
// connection. Requests are correlated to responses by a per-session
// monotonically increasing id, so responses may arrive in any order.
type Session struct {
	// name is the configured server id, used in error attribution.
	name string
	// process is the child; nil for pipe-backed sessions in tests.
	process *exec.Cmd
	// stdin is the server's request channel.
	stdin io.WriteCloser
	// stdout is the server's response channel.
	stdout io.Reader

	// writeMu serializes request writes onto stdin.
	writeMu sync.Mutex

	// mu guards state, nextID, pending, closed, and deathErr against the
	// read loop racing callers.
	mu       sync.Mutex
	state    State
	closed   bool
	deathErr error
	nextID   int64
	pending  map[int64]chan pendingResult

	// readDone closes when the read loop exits.
	readDone chan struct{}
	// procDone closes when the child has been reaped.
	procDone chan struct{}
}

// StartSession spawns the configured server process and completes the MCP
// handshake within a bounded timeout.
func StartSession(ctx context.Context, config ServerConfig) (*Session, error) {
	command := exec.Command(config.Command, config.Args...)
	command.Stderr = os.Stderr

	stdin, err := command.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawnFailed, config.Name, err)
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawnFailed, config.Name, err)
	}
	if err := command.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawnFailed, config.Name, err)
	}

	session := newSession(config.Name, stdin, stdout)
	session.process = command
	go session.readLoop()
	go func() {
		// Reap only after the read loop has drained stdout.
		<-session.readDone
		_ = command.Wait()
		close(session.procDone)
	}()

	if err := session.handshake(ctx); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

// newSession builds a session over an established transport. The read loop
// is started by the caller (StartSession) or the test harness.
func newSession(name string, stdin io.WriteCloser, stdout io.Reader) *Session {
	return &Session{
		name:     name,
		stdin:    stdin,
		stdout:   stdout,
		state:    StateStarting,
		pending:  map[int64]chan pendingResult{},
		readDone: make(chan struct{}),
		procDone: make(chan struct{}),
	}
}

// Name returns the configured server id.
func (s *Session) Name() string {
	return s.name
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// handshake performs the initialize exchange and marks the session Ready.
func (s *Session) handshake(ctx context.Context) error {
	handshakeCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: "gemx", Version: "0.1.0"},
	}
	var result initializeResult
	if err := s.call(handshakeCtx, "initialize", params, &result); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrHandshakeTimeout, s.name)
		}
		return fmt.Errorf("initialize %s: %w", s.name, err)
	}
	if err := s.notify("notifications/initialized", nil); err != nil {
		return fmt.Errorf("initialized notification %s: %w", s.name, err)
	}

	s.mu.Lock()
	if s.state == StateStarting {
		s.state = StateReady
	}
	s.mu.Unlock()
	return nil
}

// ListTools requests the server's tool catalog.
func (s *Session) ListTools(ctx context.Context) ([]ToolInfo, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	var result toolsListResult
	if err := s.call(ctx, "tools/list", map[string]any{}, &result); err != nil {
		return nil, fmt.Errorf("list tools on %s: %w", s.name, err)
	}
	return result.Tools, nil
}

// CallTool invokes one tool and returns the raw result payload. Multiple
// calls may be in flight at once; correlation ids match each response to
// its originating request regardless of arrival order.
func (s *Session) CallTool(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	var result json.RawMessage
	if err := s.call(ctx, "tools/call", callToolParams{Name: name, Arguments: arguments}, &result); err != nil {
		return nil, fmt.Errorf("call tool %s on %s: %w", name, s.name, err)
	}
	return result, nil
}

// ensureReady rejects calls outside the Ready state.
func (s *Session) ensureReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady:
		return nil
	case StateDead:
		if s.deathErr != nil {
			return s.deathErr
		}
		return ErrSessionClosed
	default:
		return fmt.Errorf("%w: %s", ErrSessionNotReady, s.name)
	}
}

// call sends one correlated request and waits for its matched response.
func (s *Session) call(ctx context.Context, method string, params any, result any) error {
	s.mu.Lock()
	if s.state == StateDead {
		deathErr := s.deathErr
		s.mu.Unlock()
		if deathErr != nil {
			return deathErr
		}
		return ErrSessionClosed
	}
	s.nextID++
	id := s.nextID
	slot := make(chan pendingResult, 1)
	s.pending[id] = slot
	s.mu.Unlock()

	request := rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
	if err := s.write(request); err != nil {
		s.forgetPending(id)
		return fmt.Errorf("%w: write %s: %v", ErrServerCrashed, method, err)
	}

	select {
	case <-ctx.Done():
		s.forgetPending(id)
		return ctx.Err()
	case delivered := <-slot:
		if delivered.err != nil {
			return delivered.err
		}
		if delivered.message.Error != nil {
			return delivered.message.Error
		}
		if result != nil && len(delivered.message.Result) > 0 {
			if err := json.Unmarshal(delivered.message.Result, result); err != nil {
				return fmt.Errorf("%w: decode %s result: %v", ErrProtocol, method, err)
			}
		}
		return nil
	}
}

// notify sends a fire-and-forget message carrying no correlation id.
func (s *Session) notify(method string, params any) error {
	return s.write(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

// write marshals one message onto stdin as a single line.
func (s *Session) write(message rpcRequest) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.stdin.Write(append(payload, '\n')); err != nil {
		return err
	}
	return nil
}

// forgetPending drops a correlation slot after cancellation or write failure.
func (s *Session) forgetPending(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// readLoop consumes stdout lines, matching responses to pending calls by
// correlation id. It runs until the transport closes or a protocol
// violation, then fails every in-flight call.
func (s *Session) readLoop() {
	defer close(s.readDone)

	scanner := bufio.NewScanner(s.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var message rpcMessage
		if err := json.Unmarshal(line, &message); err != nil {
			s.shutdown(fmt.Errorf("%w: %s: undecodable message: %v", ErrProtocol, s.name, err))
			return
		}
		if message.ID == nil {
			// Server notifications carry no id and need no reply.
			continue
		}

		s.mu.Lock()
		slot, known := s.pending[*message.ID]
		delete(s.pending, *message.ID)
		s.mu.Unlock()
		if known {
			slot <- pendingResult{message: &message}
		}
		// A response for an unknown id is a cancelled call's late reply.
	}

	err := scanner.Err()
	if err == nil {
		err = fmt.Errorf("%w: %s", ErrServerCrashed, s.name)
	} else {
		err = fmt.Errorf("%w: %s: %v", ErrServerCrashed, s.name, err)
	}
	s.shutdown(err)
}

// shutdown moves the session to Dead and releases every waiting caller with
// the death error.
func (s *Session) shutdown(cause error) {
	s.mu.Lock()
	if s.state == StateDead {
		s.mu.Unlock()
		return
	}
	s.state = StateDead
	if s.closed {
		cause = ErrSessionClosed
	}
	s.deathErr = cause
	waiting := s.pending
	s.pending = map[int64]chan pendingResult{}
	s.mu.Unlock()

	for _, slot := range waiting {
		slot <- pendingResult{err: cause}
	}
}

// Close shuts the session down: stdin closes to request a graceful exit,
// and the child is killed when it outlives the shutdown timeout.
func (s *Session) Close() error {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()
	if alreadyClosed {
		return nil
	}

	_ = s.stdin.Close()
	s.shutdown(ErrSessionClosed)

	if s.process == nil {
		return nil
	}
	select {
	case <-s.procDone:
	case <-time.After(shutdownTimeout):
		_ = s.process.Process.Kill()
		<-s.procDone
	}
	return nil
}
