package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/relaypane/harness/internal/railview"
	"github.com/relaypane/harness/internal/streamproto"
	"github.com/relaypane/harness/internal/streamtransport"
)

// scrollbackLimit bounds the in-memory pty output buffer; durable full
// scrollback beyond this is explicitly out of scope.
const scrollbackLimit = 1 << 20 // 1 MiB of raw bytes

const railWidth = 28

type model struct {
	client    *streamtransport.Client
	sessionID string
	resumed   bool

	width, height int
	vp            viewport.Model
	scrollback    strings.Builder

	rail     []railview.Row
	status   string
	exited   bool
	exitNote string

	events chan tea.Msg
}

func newModel(client *streamtransport.Client, sessionID string, resumed bool) *model {
	m := &model{
		client:    client,
		sessionID: sessionID,
		resumed:   resumed,
		vp:        viewport.New(80, 24),
		status:    "starting",
		events:    make(chan tea.Msg, 256),
	}
	client.OnEnvelope(func(env streamproto.Envelope) {
		if msg := m.translateEnvelope(env); msg != nil {
			select {
			case m.events <- msg:
			default:
			}
		}
	})
	return m
}

type ptyOutputMsg struct{ data []byte }
type ptyExitMsg struct {
	status int
	signal string
}
type statusMsg struct{ status string }
type railMsg struct{ rows []railview.Row }
type writeErrMsg struct{ err error }

func (m *model) translateEnvelope(env streamproto.Envelope) tea.Msg {
	switch env.EKind {
	case streamproto.EnvelopePTYOutput:
		var d streamproto.PTYOutputData
		if json.Unmarshal(env.Data, &d) != nil || d.SessionID != m.sessionID {
			return nil
		}
		raw, err := base64.StdEncoding.DecodeString(d.DataB64)
		if err != nil {
			return nil
		}
		return ptyOutputMsg{data: raw}
	case streamproto.EnvelopePTYExit:
		var d streamproto.PTYExitData
		if json.Unmarshal(env.Data, &d) != nil || d.SessionID != m.sessionID {
			return nil
		}
		return ptyExitMsg{status: d.ExitStatus, signal: d.ExitSignal}
	case streamproto.EnvelopeConversationStatus:
		var d streamproto.ConversationStatusData
		if json.Unmarshal(env.Data, &d) != nil || d.SessionID != m.sessionID {
			return nil
		}
		return statusMsg{status: d.Status}
	case streamproto.EnvelopeRailInvalidated:
		return railRefreshMsg{}
	case streamproto.EnvelopeGatewayShutdown:
		return gatewayShutdownMsg{}
	}
	return nil
}

type railRefreshMsg struct{}
type gatewayShutdownMsg struct{}

func (m *model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), m.refreshRail())
}

func (m *model) refreshRail() tea.Cmd {
	client := m.client
	sessionID := m.sessionID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		raw, err := client.SendCommand(ctx, streamproto.CommandRailList, streamproto.RailListParams{ActiveConversationID: sessionID})
		if err != nil {
			return nil
		}
		var body struct {
			Rows []railview.Row `json:"rows"`
		}
		if json.Unmarshal(raw, &body) != nil {
			return nil
		}
		return railMsg{rows: body.Rows}
	}
}

func (m *model) sendWrite(data []byte) tea.Cmd {
	client := m.client
	sessionID := m.sessionID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := client.SendCommand(ctx, streamproto.CommandPTYWrite, streamproto.PTYWriteParams{
			SessionID:    sessionID,
			TextOrBase64: base64.StdEncoding.EncodeToString(data),
			Base64:       true,
		})
		if err != nil {
			return writeErrMsg{err: err}
		}
		return nil
	}
}

func (m *model) sendResize(cols, rows int) tea.Cmd {
	client := m.client
	sessionID := m.sessionID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client.SendCommand(ctx, streamproto.CommandPTYResize, streamproto.PTYResizeParams{
			SessionID: sessionID, Cols: cols, Rows: rows, Immediate: true,
		})
		return nil
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		vpW := m.width - railWidth - 1
		if vpW < 10 {
			vpW = m.width
		}
		m.vp.Width = vpW
		m.vp.Height = m.height - 1
		return m, m.sendResize(m.vp.Width, m.vp.Height)

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlQ {
			return m, tea.Quit
		}
		data := keyBytes(msg)
		if data == nil {
			return m, nil
		}
		return m, m.sendWrite(data)

	case ptyOutputMsg:
		m.appendOutput(msg.data)
		return m, m.waitForEvent()

	case ptyExitMsg:
		m.exited = true
		m.exitNote = fmt.Sprintf("process exited: status=%d signal=%s", msg.status, msg.signal)
		return m, m.waitForEvent()

	case statusMsg:
		m.status = msg.status
		return m, m.waitForEvent()

	case railMsg:
		m.rail = msg.rows
		return m, m.waitForEvent()

	case railRefreshMsg:
		return m, tea.Batch(m.refreshRail(), m.waitForEvent())

	case gatewayShutdownMsg:
		m.exited = true
		m.exitNote = "gateway is shutting down"
		return m, m.waitForEvent()

	case writeErrMsg:
		return m, m.waitForEvent()
	}
	return m, nil
}

func (m *model) appendOutput(data []byte) {
	m.scrollback.Write(data)
	if m.scrollback.Len() > scrollbackLimit {
		trimmed := m.scrollback.String()[m.scrollback.Len()-scrollbackLimit:]
		m.scrollback.Reset()
		m.scrollback.WriteString(trimmed)
	}
	m.vp.SetContent(m.scrollback.String())
	m.vp.GotoBottom()
}

var (
	railStyle   = lipgloss.NewStyle().Width(railWidth).Padding(0, 1).BorderStyle(lipgloss.NormalBorder()).BorderRight(true)
	statusStyle = lipgloss.NewStyle().Faint(true)
)

func (m *model) View() string {
	if m.width == 0 {
		return "connecting..."
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top, railStyle.Height(m.vp.Height).Render(renderRail(m.rail)), m.vp.View())
	footer := statusStyle.Render(fmt.Sprintf(" %s  status=%s  ctrl+q detach", m.sessionID, m.status))
	if m.exited {
		footer = statusStyle.Render(" " + m.exitNote + "  ctrl+q detach")
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, footer)
}
