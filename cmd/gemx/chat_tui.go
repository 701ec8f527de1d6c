package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gemx-cli/gemx/internal/agent"
	"github.com/gemx-cli/gemx/internal/config"
	"github.com/gemx-cli/gemx/internal/llm/gemini"
)

// chatCommand starts the full-screen interactive session.
func chatCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New("chat requires a TTY")
			}

			ctx := context.Background()
			settings, err := config.LoadSettings()
			if err != nil {
				return err
			}
			model := config.ResolveModel(opts.Model, settings)

			runner, cleanup, err := buildRunner(ctx, opts, settings)
			if err != nil {
				return err
			}
			defer cleanup()

			program := tea.NewProgram(newChatModel(runner, model), tea.WithAltScreen())
			_, err = program.Run()
			return err
		},
	}
}

// chatMessage is a rendered conversation entry.
type chatMessage struct {
	// Role labels the message origin (user, model, tool, system).
	Role string
	// Content is the text displayed in the chat viewport.
	Content string
}

// streamDeltaMsg carries streamed text chunks into the TUI event loop.
type streamDeltaMsg struct {
	// Text is the model delta text chunk.
	Text string
}

// toolEventMsg wraps a tool event for the side panel.
type toolEventMsg struct {
	// Event is the tool event emitted by the runner.
	Event agent.ToolEvent
}

// streamDoneMsg signals a completed run with the final result.
type streamDoneMsg struct {
	// Result is the full run result to reconcile history.
	Result *agent.RunResult
}

// streamErrorMsg reports an error that occurred during a run.
type streamErrorMsg struct {
	// Err is the underlying error.
	Err error
}

// chatModel drives the interactive terminal UI.
type chatModel struct {
	// runner executes conversation turns.
	runner *agent.Runner
	// model is the current model identifier.
	model string
	// history is the full conversation used for generation requests.
	history []gemini.Content
	// messages holds display-friendly entries.
	messages []chatMessage
	// toolLines keeps a rolling log of tool activity.
	toolLines []string
	// inputHistory stores prior inputs for recall with Ctrl+P/N.
	inputHistory []string
	// historyIndex tracks the active position in inputHistory.
	historyIndex int
	// historyDraft preserves in-progress input while browsing history.
	historyDraft string
	// chatView renders the conversation.
	chatView viewport.Model
	// toolView renders tool activity.
	toolView viewport.Model
	// input collects the next user turn.
	input textarea.Model
	// markdownRenderer formats model output when available.
	markdownRenderer *glamour.TermRenderer
	// statusText is the bottom status line.
	statusText string
	// streamBuffer accumulates streamed model text.
	streamBuffer strings.Builder
	// streamCh delivers stream messages into the update loop.
	streamCh chan tea.Msg
	// cancel cancels the in-flight run when present.
	cancel context.CancelFunc
	// running indicates an in-flight request.
	running bool
	// width and height track the terminal size.
	width  int
	height int
	// quitting indicates a user-requested exit.
	quitting bool
}

// newChatModel constructs the initial TUI state.
func newChatModel(runner *agent.Runner, model string) *chatModel {
	input := textarea.New()
	input.Placeholder = "Type a message..."
	input.Focus()
	input.CharLimit = 0
	input.Prompt = "> "
	input.SetHeight(3)
	input.SetWidth(20)

	chatView := viewport.New(20, 10)
	toolView := viewport.New(20, 10)
	toolView.SetContent("No tool activity yet.")

	var renderer *glamour.TermRenderer
	if glam, err := glamour.NewTermRenderer(glamour.WithAutoStyle()); err == nil {
		renderer = glam
	}

	return &chatModel{
		runner:           runner,
		model:            model,
		chatView:         chatView,
		toolView:         toolView,
		input:            input,
		markdownRenderer: renderer,
		statusText:       "Enter: send | Ctrl+J: newline | Ctrl+P/N: history | Ctrl+C: cancel | Ctrl+Q: quit",
	}
}

// Init starts the blinking cursor for the input field.
func (m *chatModel) Init() tea.Cmd {
	return textarea.Blink
}

// Update handles UI events and streaming updates.
func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.applyWindowSize(typed)
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(typed)
	case streamDeltaMsg:
		m.streamBuffer.WriteString(typed.Text)
		m.refreshChat()
		return m, m.listenStream()
	case toolEventMsg:
		m.appendToolEvent(typed.Event)
		return m, m.listenStream()
	case streamDoneMsg:
		m.finishRun(typed.Result)
		return m, nil
	case streamErrorMsg:
		m.finishError(typed.Err)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the full UI layout.
func (m *chatModel) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "Initializing..."
	}
	header := m.renderHeader()
	body := m.renderBody()
	input := m.renderInput()
	status := m.renderStatus()
	return lipgloss.JoinVertical(lipgloss.Left, header, body, input, status)
}

// handleKey routes keyboard input and submission.
func (m *chatModel) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "ctrl+c":
		if m.running {
			m.cancelRun("Cancelled.")
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit
	case "ctrl+q":
		m.quitting = true
		return m, tea.Quit
	case "ctrl+j":
		m.input.InsertString("\n")
		return m, nil
	case "ctrl+p":
		m.cycleInputHistory(-1)
		return m, nil
	case "ctrl+n":
		m.cycleInputHistory(1)
		return m, nil
	case "pgup":
		m.chatView.LineUp(10)
		return m, nil
	case "pgdown":
		m.chatView.LineDown(10)
		return m, nil
	}

	if key.Type == tea.KeyEnter {
		if key.Alt {
			m.input.InsertString("\n")
			return m, nil
		}
		return m.submitInput()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(key)
	return m, cmd
}

// submitInput sends the current input as a new user turn.
func (m *chatModel) submitInput() (tea.Model, tea.Cmd) {
	if m.running {
		m.statusText = "Wait for the current response or cancel with Ctrl+C."
		return m, nil
	}
	value := strings.TrimSpace(m.input.Value())
	if value == "" {
		return m, nil
	}
	m.input.SetValue("")
	m.appendInputHistory(value)

	m.appendMessage("user", value)
	m.refreshChat()

	m.running = true
	m.streamBuffer.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.statusText = "Thinking..."
	m.streamCh = make(chan tea.Msg, 128)

	return m, tea.Batch(m.startRun(ctx, value), m.listenStream())
}

// appendInputHistory records an input line for history navigation.
func (m *chatModel) appendInputHistory(value string) {
	m.inputHistory = append(m.inputHistory, value)
	if len(m.inputHistory) > 200 {
		m.inputHistory = m.inputHistory[len(m.inputHistory)-200:]
	}
	m.historyIndex = len(m.inputHistory)
	m.historyDraft = ""
}

// cycleInputHistory moves the input buffer through stored history entries.
func (m *chatModel) cycleInputHistory(delta int) {
	if len(m.inputHistory) == 0 {
		return
	}
	if m.historyIndex == len(m.inputHistory) {
		m.historyDraft = m.input.Value()
	}
	next := m.historyIndex + delta
	if next < 0 {
		next = 0
	}
	if next > len(m.inputHistory) {
		next = len(m.inputHistory)
	}
	m.historyIndex = next
	if m.historyIndex == len(m.inputHistory) {
		m.input.SetValue(m.historyDraft)
		return
	}
	m.input.SetValue(m.inputHistory[m.historyIndex])
}

// startRun launches the turn and feeds updates into the stream channel.
func (m *chatModel) startRun(ctx context.Context, prompt string) tea.Cmd {
	history := append([]gemini.Content(nil), m.history...)
	runner := m.runner
	modelName := m.model
	streamCh := m.streamCh

	return func() tea.Msg {
		callbacks := &agent.StreamCallbacks{
			OnStreamEvent: func(event gemini.StreamEvent) error {
				if event.Kind != gemini.EventTextDelta {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case streamCh <- streamDeltaMsg{Text: event.Text}:
				}
				return nil
			},
			OnToolResult: func(event agent.ToolEvent) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case streamCh <- toolEventMsg{Event: event}:
				}
				return nil
			},
		}

		result, err := runner.RunStream(ctx, history, prompt, modelName, callbacks)
		if err != nil {
			streamCh <- streamErrorMsg{Err: err}
			close(streamCh)
			return nil
		}
		streamCh <- streamDoneMsg{Result: result}
		close(streamCh)
		return nil
	}
}

// listenStream waits for the next streaming message.
func (m *chatModel) listenStream() tea.Cmd {
	if m.streamCh == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-m.streamCh
		if !ok {
			return nil
		}
		return msg
	}
}

// finishRun reconciles history and appends the final model message.
func (m *chatModel) finishRun(result *agent.RunResult) {
	m.running = false
	m.statusText = ""
	m.cancel = nil
	if result == nil {
		m.appendMessage("model", m.streamBuffer.String())
		m.streamBuffer.Reset()
		m.refreshChat()
		return
	}
	m.history = result.History
	finalText := result.FinalText
	if finalText == "" {
		finalText = m.streamBuffer.String()
	}
	m.appendMessage("model", finalText)
	m.streamBuffer.Reset()
	m.refreshChat()
}

// finishError surfaces errors from the run.
func (m *chatModel) finishError(err error) {
	m.running = false
	m.statusText = formatRunError(err)
	m.cancel = nil
	m.streamBuffer.Reset()
}

// cancelRun cancels an in-flight request and updates status.
func (m *chatModel) cancelRun(reason string) {
	if m.cancel != nil {
		m.cancel()
	}
	m.statusText = reason
}

// appendMessage adds a new chat entry to the display list.
func (m *chatModel) appendMessage(role string, content string) {
	m.messages = append(m.messages, chatMessage{Role: role, Content: content})
}

// appendToolEvent records tool activity for the side panel.
func (m *chatModel) appendToolEvent(event agent.ToolEvent) {
	status := "completed"
	if event.IsError {
		status = "failed"
	}
	m.toolLines = append(m.toolLines, fmt.Sprintf("%s: %s", event.ToolName, status))
	if len(event.Result) > 0 {
		m.toolLines = append(m.toolLines, "  "+truncateLine(string(event.Result), 160))
	}
	if len(m.toolLines) > 200 {
		m.toolLines = m.toolLines[len(m.toolLines)-200:]
	}
	m.refreshTools()
}

// refreshChat rebuilds the chat viewport content.
func (m *chatModel) refreshChat() {
	var builder strings.Builder
	for _, message := range m.messages {
		builder.WriteString(m.renderMessage(message, false))
		builder.WriteString("\n\n")
	}
	if m.running {
		streamText := m.streamBuffer.String()
		if streamText != "" {
			builder.WriteString(m.renderMessage(chatMessage{Role: "model", Content: streamText}, true))
			builder.WriteString("\n\n")
		}
	}
	m.chatView.SetContent(builder.String())
	m.chatView.GotoBottom()
}

// refreshTools rebuilds the tool viewport content.
func (m *chatModel) refreshTools() {
	if len(m.toolLines) == 0 {
		m.toolView.SetContent("No tool activity yet.")
		return
	}
	m.toolView.SetContent(strings.Join(m.toolLines, "\n"))
	m.toolView.GotoBottom()
}

// applyWindowSize recalculates the layout for a new window size.
func (m *chatModel) applyWindowSize(msg tea.WindowSizeMsg) {
	m.width = msg.Width
	m.height = msg.Height

	headerHeight := 1
	statusHeight := 1
	inputHeight := m.input.Height()
	bodyHeight := m.height - headerHeight - statusHeight - inputHeight
	if bodyHeight < 4 {
		bodyHeight = 4
	}

	toolWidth := maxInt(24, m.width/4)
	if toolWidth > 60 {
		toolWidth = 60
	}
	chatWidth := m.width - toolWidth - 3
	if chatWidth < 20 {
		chatWidth = 20
		toolWidth = maxInt(20, m.width-chatWidth-3)
	}

	m.chatView.Width = chatWidth - 2
	m.chatView.Height = bodyHeight - 2
	m.toolView.Width = toolWidth - 2
	m.toolView.Height = bodyHeight - 2
	m.input.SetWidth(m.width - 2)

	m.refreshChat()
	m.refreshTools()
}

// renderHeader builds the top status line.
func (m *chatModel) renderHeader() string {
	style := lipgloss.NewStyle().Bold(true)
	header := fmt.Sprintf("gemx | model %s", m.model)
	if m.running {
		header += " | running"
	}
	return style.Render(padRight(header, m.width))
}

// renderBody composes the chat and tool panes.
func (m *chatModel) renderBody() string {
	chat := m.renderPane("Conversation", m.chatView.View(), m.chatView.Width+2)
	tools := m.renderPane("Tools", m.toolView.View(), m.toolView.Width+2)
	return lipgloss.JoinHorizontal(lipgloss.Top, chat, tools)
}

// renderInput returns the input box rendering.
func (m *chatModel) renderInput() string {
	style := lipgloss.NewStyle().Border(asciiBorder()).Padding(0, 1)
	return style.Render(m.input.View())
}

// renderStatus returns the bottom status line.
func (m *chatModel) renderStatus() string {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	text := m.statusText
	if text == "" {
		text = "Ready"
	}
	return style.Render(padRight(text, m.width))
}

// renderPane formats a bordered pane with a title.
func (m *chatModel) renderPane(title string, content string, width int) string {
	style := lipgloss.NewStyle().Border(asciiBorder()).Padding(0, 1)
	header := fmt.Sprintf("[%s]", title)
	pane := lipgloss.JoinVertical(lipgloss.Left, header, content)
	return style.Width(width).Render(pane)
}

// renderMessage formats a chat message for display.
func (m *chatModel) renderMessage(message chatMessage, streaming bool) string {
	label := strings.ToUpper(message.Role)
	content := message.Content
	style := lipgloss.NewStyle()
	switch message.Role {
	case "user":
		style = style.Foreground(lipgloss.Color("39")).Bold(true)
		label = "YOU"
	case "model":
		style = style.Foreground(lipgloss.Color("10")).Bold(true)
		label = "GEMINI"
	case "tool":
		style = style.Foreground(lipgloss.Color("13"))
		label = "TOOL"
	case "system":
		style = style.Foreground(lipgloss.Color("3"))
		label = "SYSTEM"
	}
	if !streaming && message.Role == "model" {
		content = m.renderMarkdown(content)
	}
	return fmt.Sprintf("%s\n%s", style.Render(label+":"), content)
}

// renderMarkdown converts markdown into terminal output when possible.
func (m *chatModel) renderMarkdown(content string) string {
	if m.markdownRenderer == nil {
		return content
	}
	rendered, err := m.markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// formatRunError keeps run failures to a single status line.
func formatRunError(err error) string {
	if errors.Is(err, context.Canceled) {
		return "Cancelled."
	}
	return truncateLine("Error: "+err.Error(), 200)
}

// asciiBorder avoids Unicode dependencies in minimal terminals.
func asciiBorder() lipgloss.Border {
	return lipgloss.Border{
		Top:         "-",
		Bottom:      "-",
		Left:        "|",
		Right:       "|",
		TopLeft:     "+",
		TopRight:    "+",
		BottomLeft:  "+",
		BottomRight: "+",
	}
}

// truncateLine collapses newlines and bounds the length for status output.
func truncateLine(value string, limit int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}

// padRight pads a string with spaces to the target width.
func padRight(value string, width int) string {
	runes := []rune(value)
	if len(runes) >= width {
		return value
	}
	return value + strings.Repeat(" ", width-len(runes))
}

// maxInt returns the larger of two integers.
func maxInt(left int, right int) int {
	if left > right {
		return left
	}
	return right
}
