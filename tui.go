package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	sig "github.com/mkarlsen/gomeet/pkg/signal"
)

// sessionEventMsg wraps a session notification for the UI
type sessionEventMsg struct {
	ev SessionEvent
}

// sessionEndedMsg indicates the session loop has exited
type sessionEndedMsg struct {
	err error
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	urlStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	activeBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)

	inactiveBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("8")).
				Padding(0, 1)

	boxTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))
)

// peerStatus mirrors one peer link for display
type peerStatus struct {
	id        string
	linkState LinkState
	role      LinkRole
	connState string
	connType  string
	hasAudio  bool
	hasVideo  bool
}

type chatLine struct {
	name string
	text string
	self bool
}

type meetingModel struct {
	session *Session
	ended   <-chan error

	room     string
	selfName string
	selfID   string

	peers map[string]*peerStatus
	order []string

	chat        []chatLine
	input       textinput.Model
	viewport    viewport.Model
	showChat    bool
	chatFocused bool
	unread      int

	media   MediaKind
	errText string
	width   int
	height  int
}

func newMeetingModel(room, selfName string, session *Session, ended <-chan error) meetingModel {
	input := textinput.New()
	input.Placeholder = "message the room"
	input.CharLimit = 500

	vp := viewport.New(40, 10)

	return meetingModel{
		session:  session,
		ended:    ended,
		room:     room,
		selfName: selfName,
		peers:    make(map[string]*peerStatus),
		input:    input,
		viewport: vp,
		showChat: true,
		media:    MediaPlaceholder,
	}
}

func waitForSessionEvent(events <-chan SessionEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return sessionEventMsg{ev: ev}
	}
}

func waitForSessionEnd(ended <-chan error) tea.Cmd {
	return func() tea.Msg {
		return sessionEndedMsg{err: <-ended}
	}
}

func (m meetingModel) Init() tea.Cmd {
	return tea.Batch(
		waitForSessionEvent(m.session.Events()),
		waitForSessionEnd(m.ended),
	)
}

func (m meetingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = max(20, msg.Width/2-4)
		m.viewport.Height = max(5, msg.Height-10)
		m.refreshChat()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case sessionEventMsg:
		m.applyEvent(msg.ev)
		return m, waitForSessionEvent(m.session.Events())

	case publishDoneMsg:
		if msg.err != nil {
			m.errText = msg.err.Error()
		} else {
			m.media = m.session.publisher.Kind()
		}
		return m, nil

	case sessionEndedMsg:
		return m, tea.Quit
	}

	return m, nil
}

func (m meetingModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.chatFocused {
		switch msg.String() {
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text != "" {
				m.session.SendChat(text)
				m.chat = append(m.chat, chatLine{name: m.selfName, text: text, self: true})
				m.refreshChat()
			}
			m.input.Reset()
			return m, nil
		case "esc", "tab":
			m.chatFocused = false
			m.input.Blur()
			return m, nil
		case "ctrl+c":
			return m, tea.Quit
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "tab":
		m.showChat = !m.showChat
		if m.showChat {
			m.unread = 0
			m.chatFocused = true
			m.input.Focus()
		} else {
			m.chatFocused = false
			m.input.Blur()
		}
		return m, nil
	case "c":
		return m, m.publishCmd(MediaCamera)
	case "v":
		return m, m.publishCmd(MediaScreen)
	case "x":
		return m, m.publishCmd(MediaPlaceholder)
	}
	return m, nil
}

// publishCmd switches the published descriptor off the UI goroutine; the
// publisher reports the resulting kind back through its own state.
func (m meetingModel) publishCmd(kind MediaKind) tea.Cmd {
	session := m.session
	return func() tea.Msg {
		return publishDoneMsg{err: session.Publish(kind)}
	}
}

// publishDoneMsg refreshes the displayed descriptor after a publish
type publishDoneMsg struct {
	err error
}

func (m *meetingModel) applyEvent(ev SessionEvent) {
	switch ev := ev.(type) {
	case EventJoined:
		m.selfID = ev.SelfID

	case EventPeerJoined:
		if _, ok := m.peers[ev.ID]; ok {
			return
		}
		m.peers[ev.ID] = &peerStatus{id: ev.ID, connState: "connecting", connType: "unknown"}
		m.order = append(m.order, ev.ID)

	case EventPeerLeft:
		delete(m.peers, ev.ID)
		for i, id := range m.order {
			if id == ev.ID {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}

	case EventLinkState:
		if p, ok := m.peers[ev.ID]; ok {
			p.linkState = ev.State
			p.role = ev.Role
		}

	case EventConnState:
		if p, ok := m.peers[ev.ID]; ok {
			p.connState = ev.State
			if ev.ConnType != "unknown" {
				p.connType = ev.ConnType
			}
		}

	case EventRemoteTrack:
		if p, ok := m.peers[ev.ID]; ok {
			switch ev.Kind {
			case "audio":
				p.hasAudio = true
			case "video":
				p.hasVideo = true
			}
		}

	case EventChat:
		m.chat = append(m.chat, chatLine{name: ev.Name, text: ev.Text})
		m.refreshChat()
		if !m.showChat {
			m.unread++
		}

	case EventError:
		m.errText = ev.Err
	}
}

func (m *meetingModel) refreshChat() {
	var b strings.Builder
	for _, line := range m.chat {
		name := line.name
		if line.self {
			name = name + " (you)"
		}
		b.WriteString(selectedStyle.Render(name))
		b.WriteString("\n")
		b.WriteString(normalStyle.Render(line.text))
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m meetingModel) View() string {
	header := titleStyle.Render("GoMeet") + "  " +
		urlStyle.Render(m.room) + "  " +
		dimStyle.Render(m.selfName) + "  " +
		statusStyle.Render("publishing: "+m.media.String())

	roster := m.renderRoster()

	body := roster
	if m.showChat {
		chatBox := m.renderChat()
		body = lipgloss.JoinHorizontal(lipgloss.Top, roster, " ", chatBox)
	}

	help := helpStyle.Render(
		keyStyle.Render("c") + " camera  " +
			keyStyle.Render("v") + " screen  " +
			keyStyle.Render("x") + " stop  " +
			keyStyle.Render("tab") + " chat  " +
			keyStyle.Render("q") + " leave")
	if m.unread > 0 {
		help += "  " + errorStyle.Render(fmt.Sprintf("(%d unread)", m.unread))
	}

	parts := []string{header, "", body, "", help}
	if m.errText != "" {
		parts = append(parts, errorStyle.Render(m.errText))
	}
	return strings.Join(parts, "\n")
}

func (m meetingModel) renderRoster() string {
	var b strings.Builder
	b.WriteString(boxTitleStyle.Render(fmt.Sprintf("Participants (%d)", len(m.order)+1)))
	b.WriteString("\n")
	b.WriteString(selectedStyle.Render(m.selfName) + dimStyle.Render(" (you)"))
	b.WriteString("\n")

	for _, id := range m.order {
		p := m.peers[id]
		if p == nil {
			continue
		}
		badges := ""
		if p.hasAudio {
			badges += " a"
		}
		if p.hasVideo {
			badges += " v"
		}
		b.WriteString(normalStyle.Render(shortID(id)))
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %s/%s %s%s", p.linkState, p.connState, p.connType, badges)))
		b.WriteString("\n")
	}

	style := inactiveBoxStyle
	if !m.chatFocused {
		style = activeBoxStyle
	}
	return style.Render(b.String())
}

func (m meetingModel) renderChat() string {
	var b strings.Builder
	b.WriteString(boxTitleStyle.Render("Chat"))
	b.WriteString("\n")
	if len(m.chat) == 0 {
		b.WriteString(dimStyle.Render("No messages yet"))
		b.WriteString("\n")
	} else {
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())

	style := inactiveBoxStyle
	if m.chatFocused {
		style = activeBoxStyle
	}
	return style.Render(b.String())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RunTUI connects to the relay, starts the session loop, and runs the
// meeting UI until the user leaves or the relay connection drops.
func RunTUI(room string, settings UserSettings, iceConfig ICEConfig, log *logrus.Logger) error {
	client, err := sig.Dial(settings.SignalURL, log)
	if err != nil {
		return fmt.Errorf("connect to relay %s: %w", settings.SignalURL, err)
	}

	publisher, err := NewPublisher(PlaceholderProvider{}, log)
	if err != nil {
		client.Close()
		return err
	}

	factory := NewPionConnFactory(iceConfig, log)
	session := NewSession(room, settings.Name, client, factory, publisher, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ended := make(chan error, 1)
	go func() {
		ended <- session.Run(ctx)
	}()

	m := newMeetingModel(session.Room(), settings.Name, session, ended)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		cancel()
		<-ended
		return fmt.Errorf("tui: %w", err)
	}

	cancel()
	<-ended
	return nil
}
