// Package tui renders the chat in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/internal/client"
	"github.com/omochice/roomchat/pkg/protocol"
)

// Chat is the part of client.Client the UI drives.
type Chat interface {
	Updates() <-chan client.State
	State() client.State
	Connect(ctx context.Context) error
	JoinChat(ctx context.Context, username string) (protocol.User, error)
	SendMessage(ctx context.Context, req client.SendRequest) (protocol.Message, error)
	ClearError() error
}

// Commands typed into the input line.
const (
	cmdQuit      = "/quit"
	cmdReconnect = "/reconnect"
	cmdClear     = "/clear"
)

type stateMsg client.State

type errMsg struct{ err error }

type joinedMsg struct{ user protocol.User }

// Model is the bubbletea model of the chat screen.
type Model struct {
	ctx      context.Context
	chat     Chat
	username string

	viewport viewport.Model
	input    textinput.Model
	state    client.State
	err      error
	width    int
	height   int
}

// New builds the screen for chat, joining as username once connected.
func New(ctx context.Context, c Chat, username string) Model {
	input := textinput.New()
	input.Placeholder = "Type a message, or /quit /reconnect /clear"
	input.CharLimit = chat.MaxMessageLength
	input.Focus()

	m := Model{
		ctx:      ctx,
		chat:     c,
		username: username,
		viewport: viewport.New(80, 18),
		input:    input,
		state:    c.State(),
	}
	m.resize(80, 24)
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForState(), m.connectAndJoin())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" {
				return m, nil
			}
			return m.submit(line)
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case stateMsg:
		m.state = client.State(msg)
		m.refresh()
		cmds = append(cmds, m.waitForState())

	case joinedMsg:
		m.err = nil

	case errMsg:
		m.err = msg.err
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	switch line {
	case cmdQuit:
		return m, tea.Quit
	case cmdReconnect:
		return m, m.connectAndJoin()
	case cmdClear:
		m.err = nil
		return m, m.clearError()
	}
	return m, m.send(line)
}

func (m Model) View() string {
	var sb strings.Builder

	sb.WriteString(m.renderHeader())
	sb.WriteString("\n")
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, m.viewport.View(), m.renderUsers()))
	sb.WriteString("\n")
	if e := m.errorText(); e != "" {
		sb.WriteString(errorStyle.Render(e))
	}
	sb.WriteString("\n")
	sb.WriteString(inputStyle.Render(m.input.View()))
	return sb.String()
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	// header, error line and the bordered input
	const chrome = 1 + 1 + 3 + 1
	m.viewport.Width = max(width-sidebarWidth-2, 20)
	m.viewport.Height = max(height-chrome, 3)
	m.input.Width = max(width-8, 10)
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m Model) errorText() string {
	if m.err != nil {
		return m.err.Error()
	}
	return m.state.Status.Error
}

func (m Model) renderHeader() string {
	title := headerStyle.Render("roomchat")
	return lipgloss.JoinHorizontal(lipgloss.Top, title, statusStyle.Render(statusLine(m.state)))
}

func statusLine(s client.State) string {
	var parts []string
	switch {
	case s.Status.Connected:
		parts = append(parts, "connected")
	case s.Status.Reconnecting:
		parts = append(parts, fmt.Sprintf("reconnecting (attempt %d, in %s)", s.Status.Attempts, s.Status.NextDelay))
	case s.Status.Exhausted:
		parts = append(parts, "offline, /reconnect to retry")
	default:
		parts = append(parts, "offline")
	}
	if s.CurrentUser != nil && s.Join == client.JoinJoined {
		parts = append(parts, "as "+s.CurrentUser.Username)
	} else {
		parts = append(parts, s.Join.String())
	}
	return strings.Join(parts, " · ")
}

func (m Model) renderMessages() string {
	var selfID string
	if m.state.CurrentUser != nil {
		selfID = m.state.CurrentUser.ID
	}

	var sb strings.Builder
	for _, msg := range m.state.Messages {
		name := msg.SenderUsername
		if name == "" {
			name = "unknown"
		}
		nameStyle := usernameStyle
		if msg.SenderID != "" && msg.SenderID == selfID {
			nameStyle = selfStyle
		}
		content := msg.Content
		if msg.Pending {
			content = pendingStyle.Render(content + " (sending)")
		}
		fmt.Fprintf(&sb, "%s%s%s\n",
			timestampStyle.Render(formatTimestamp(msg.Timestamp)),
			nameStyle.Render(name),
			content,
		)
	}
	return sb.String()
}

func (m Model) renderUsers() string {
	var sb strings.Builder
	online := m.state.OnlineUsers()
	offline := m.state.OfflineUsers()

	fmt.Fprintf(&sb, "Online (%d)\n", len(online))
	for _, u := range online {
		sb.WriteString(onlineStyle.Render("● "+u.Username) + "\n")
	}
	if len(offline) > 0 {
		fmt.Fprintf(&sb, "\nOffline (%d)\n", len(offline))
		for _, u := range offline {
			sb.WriteString(offlineStyle.Render("○ "+u.Username) + "\n")
		}
	}
	return sidebarStyle.Height(m.viewport.Height).Render(sb.String())
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("15:04:05")
}

func (m Model) waitForState() tea.Cmd {
	updates := m.chat.Updates()
	return func() tea.Msg {
		s, ok := <-updates
		if !ok {
			return nil
		}
		return stateMsg(s)
	}
}

func (m Model) connectAndJoin() tea.Cmd {
	ctx, c, username := m.ctx, m.chat, m.username
	return func() tea.Msg {
		if err := c.Connect(ctx); err != nil {
			return errMsg{err}
		}
		if c.State().Join == client.JoinJoined {
			return nil
		}
		user, err := c.JoinChat(ctx, username)
		if err != nil {
			return errMsg{fmt.Errorf("failed to join as %s: %w", username, err)}
		}
		return joinedMsg{user}
	}
}

func (m Model) send(content string) tea.Cmd {
	ctx, c := m.ctx, m.chat
	return func() tea.Msg {
		if _, err := c.SendMessage(ctx, client.SendRequest{Content: content}); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m Model) clearError() tea.Cmd {
	c := m.chat
	return func() tea.Msg {
		if err := c.ClearError(); err != nil {
			return errMsg{err}
		}
		return nil
	}
}
