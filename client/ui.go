package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kumocha/censord/model"
)

var (
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00AF5F"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#D70000"))
	updateStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFFF")).Bold(true)
)

type connectionMsg struct {
	connected bool
}

type modelState struct {
	network   *Network
	viewport  viewport.Model
	textInput textinput.Model
	lines     []string
	clientID  string
	username  string
	channel   string
	err       error
	ready     bool
}

func initialModel(net *Network) modelState {
	ti := textinput.New()
	ti.Placeholder = "Type /help for commands..."
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 20

	return modelState{
		network:   net,
		textInput: ti,
		clientID:  "bot1",
		username:  "tester",
		channel:   "testchannel",
		lines:     []string{},
	}
}

func (m modelState) Init() tea.Cmd {
	return textinput.Blink
}

func (m *modelState) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m modelState) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.textInput.Value() != "" {
				content := m.textInput.Value()
				m.textInput.SetValue("")
				return m.handleInput(content)
			}
		}

	case connectionMsg:
		if msg.connected {
			m.appendLine(successStyle.Render("Connected."))
			return m, m.network.WaitForMessage
		}

	case tea.WindowSizeMsg:
		headerHeight := 0
		footerHeight := 3
		verticalMarginHeight := headerHeight + footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-verticalMarginHeight)
			m.viewport.YPosition = headerHeight
			m.viewport.SetContent("")
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - verticalMarginHeight
		}
		m.textInput.Width = msg.Width

	case model.RelayResponse:
		m.appendLine(formatResponse(msg))
		return m, m.network.WaitForMessage

	case closedMsg:
		m.appendLine(errorStyle.Render(fmt.Sprintf("Connection closed by server (%d): %s", msg.code, msg.reason)))
		return m, nil

	case errMsg:
		m.err = msg
		m.appendLine(errorStyle.Render("Error: " + msg.Error()))
		return m, nil
	}

	m.textInput, tiCmd = m.textInput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd)
}

func (m modelState) handleInput(content string) (tea.Model, tea.Cmd) {
	parts := strings.Fields(content)
	if len(parts) == 0 {
		return m, nil
	}
	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "/help":
		m.appendLine(infoStyle.Render(strings.TrimSpace(`
/connect <host>         Connect to a relay server
/id <client-id>         Set the client identity to present (default bot1)
/user <name>            Set the requesting username
/channel <name>         Set the requesting channel name
/auth                   Send an AUTH frame
/request <word ...>     Submit a word whitelist request
/userrequest <name ...> Submit a username whitelist request
/unconnect              Disconnect
`)))
		return m, nil

	case "/connect":
		if len(args) != 1 {
			m.appendLine("Usage: /connect <host>")
			return m, nil
		}
		host := args[0]
		return m, func() tea.Msg {
			if err := m.network.Connect(host); err != nil {
				return errMsg(err)
			}
			return connectionMsg{connected: true}
		}

	case "/id":
		if len(args) != 1 {
			m.appendLine("Usage: /id <client-id>")
			return m, nil
		}
		m.clientID = args[0]
		m.appendLine(infoStyle.Render("Client ID set to " + m.clientID))
		return m, nil

	case "/user":
		if len(args) != 1 {
			m.appendLine("Usage: /user <name>")
			return m, nil
		}
		m.username = args[0]
		m.appendLine(infoStyle.Render("Username set to " + m.username))
		return m, nil

	case "/channel":
		if len(args) != 1 {
			m.appendLine("Usage: /channel <name>")
			return m, nil
		}
		m.channel = args[0]
		m.appendLine(infoStyle.Render("Channel set to " + m.channel))
		return m, nil

	case "/auth":
		m.appendLine(infoStyle.Render("-> AUTH as " + m.clientID))
		return m, m.network.SendAuth(m.clientID)

	case "/request", "/userrequest":
		if len(args) == 0 {
			m.appendLine(fmt.Sprintf("Usage: %s <word ...>", cmd))
			return m, nil
		}
		req := model.WhitelistRequest{
			Requests:      args,
			Message:       content,
			Username:      m.username,
			IsUsernameReq: cmd == "/userrequest",
			ChannelName:   m.channel,
		}
		m.appendLine(infoStyle.Render(fmt.Sprintf("-> WHITELIST_REQUEST %v", args)))
		return m, m.network.SendWhitelistRequest(m.clientID, req)

	case "/unconnect":
		m.network.Disconnect()
		m.appendLine("Disconnected.")
		return m, nil
	}

	m.appendLine("Unknown command: " + cmd)
	return m, nil
}

func (m modelState) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf("%s\n%s\n%s",
		m.viewport.View(),
		strings.Repeat("─", m.viewport.Width),
		m.textInput.View(),
	)
}

func formatResponse(resp model.RelayResponse) string {
	switch resp.Message {
	case model.ResponseAuthSuccess:
		return successStyle.Render(fmt.Sprintf("<- AUTH_SUCCESS (id=%s, ts=%s)", resp.ID, resp.Timestamp))
	case model.ResponseAuthFail:
		return errorStyle.Render(fmt.Sprintf("<- AUTH_FAIL (id=%s)", resp.ID))
	case model.ResponseWhitelistUpdate:
		if resp.Data != nil {
			category := "word"
			if resp.Data.IsUsername {
				category = "username"
			}
			return updateStyle.Render(fmt.Sprintf("<- WHITELIST_UPDATE %s %q (from %s)", category, resp.Data.Word, resp.ID))
		}
		return updateStyle.Render("<- WHITELIST_UPDATE (no data)")
	default:
		return infoStyle.Render(fmt.Sprintf("<- %s (id=%s, ts=%s)", resp.Message, resp.ID, resp.Timestamp))
	}
}
