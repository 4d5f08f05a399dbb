// Package tui implements the terminal chat surface. It polls the streaming
// coordinator and reveal engine on a fixed tick instead of wiring callbacks
// into the update loop, which keeps all rendering on the bubbletea goroutine.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/hubchat/pkg/chat"
	"github.com/go-go-golems/hubchat/pkg/hub"
	"github.com/go-go-golems/hubchat/pkg/reveal"
)

const (
	tickInterval = 50 * time.Millisecond
	opTimeout    = 10 * time.Second
)

type tickMsg struct{}

// sendDoneMsg reports the outcome of a message send issued off the update
// loop, so the invocation round trip never blocks rendering.
type sendDoneMsg struct{ err error }

type Config struct {
	Conn        *hub.Conn
	Store       *chat.Store
	Engine      *reveal.Engine
	Coordinator *chat.Coordinator
	Logger      zerolog.Logger
}

type Model struct {
	conn  *hub.Conn
	store *chat.Store
	eng   *reveal.Engine
	coord *chat.Coordinator

	input    textarea.Model
	view     viewport.Model
	spin     spinner.Model
	renderer *glamour.TermRenderer

	width   int
	height  int
	ready   bool
	status  string
	logger  zerolog.Logger
	lastErr error
}

func New(cfg Config) (*Model, error) {
	if cfg.Conn == nil || cfg.Store == nil || cfg.Engine == nil || cfg.Coordinator == nil {
		return nil, errors.New("tui requires conn, store, engine and coordinator")
	}

	input := textarea.New()
	input.Placeholder = "Type a message, or /help"
	input.CharLimit = 4000
	input.SetHeight(3)
	input.ShowLineNumbers = false
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return &Model{
		conn:   cfg.Conn,
		store:  cfg.Store,
		eng:    cfg.Engine,
		coord:  cfg.Coordinator,
		input:  input,
		spin:   spin,
		logger: cfg.Logger.With().Str("component", "tui").Logger(),
	}, nil
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spin.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.ready = true

	case tickMsg:
		m.refreshViewport()
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyCtrlS:
			m.eng.SkipToEnd()
			return m, nil
		case tea.KeyEnter:
			if !msg.Alt {
				return m, m.submit()
			}
		}

	case sendDoneMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			m.logger.Warn().Err(msg.err).Msg("send failed")
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.view, cmd = m.view.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) resize() {
	inputHeight := m.input.Height() + 1
	headerHeight := 1
	vpHeight := m.height - inputHeight - headerHeight - 1
	if vpHeight < 1 {
		vpHeight = 1
	}
	if !m.ready {
		m.view = viewport.New(m.width, vpHeight)
	} else {
		m.view.Width = m.width
		m.view.Height = vpHeight
	}
	m.input.SetWidth(m.width - 2)

	wrap := m.width - 8
	if wrap < 20 {
		wrap = 20
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		m.logger.Warn().Err(err).Msg("markdown renderer unavailable")
		renderer = nil
	}
	m.renderer = renderer
}

func (m *Model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	m.input.Reset()
	m.lastErr = nil
	m.status = ""

	if strings.HasPrefix(text, "/") {
		m.runCommand(text)
		return nil
	}
	coord := m.coord
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return sendDoneMsg{err: coord.Send(ctx, text)}
	}
}

func (m *Model) runCommand(text string) {
	fields := strings.Fields(text)
	cmd := fields[0]
	arg := strings.TrimSpace(strings.TrimPrefix(text, cmd))

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch cmd {
	case "/help":
		m.status = "/new, /switch <n>, /rename <name>, /delete, /mode <mode>, /skip"
	case "/skip":
		m.eng.SkipToEnd()
	case "/new":
		c := m.store.CreateChat(arg)
		if err := m.coord.ActivateSession(ctx, c.ID); err != nil {
			m.lastErr = err
		}
		m.status = "created " + c.Name
	case "/rename":
		if arg == "" {
			m.lastErr = errors.New("usage: /rename <name>")
			return
		}
		if err := m.store.RenameChat(m.store.ActiveID(), arg); err != nil {
			m.lastErr = err
		}
	case "/delete":
		if err := m.store.DeleteChat(m.store.ActiveID()); err != nil {
			m.lastErr = err
			return
		}
		if id := m.store.ActiveID(); id != "" {
			if err := m.coord.ActivateSession(ctx, id); err != nil {
				m.lastErr = err
			}
		}
	case "/switch":
		n, err := strconv.Atoi(arg)
		if err != nil {
			m.lastErr = errors.New("usage: /switch <number>")
			return
		}
		chats := m.store.Chats()
		if n < 1 || n > len(chats) {
			m.lastErr = errors.Errorf("no chat %d", n)
			return
		}
		if err := m.coord.ActivateSession(ctx, chats[n-1].ID); err != nil {
			m.lastErr = err
		}
	case "/mode":
		mode, err := hub.ParseMode(arg)
		if err != nil {
			m.lastErr = err
			return
		}
		if err := m.coord.SwitchMode(mode); err != nil {
			m.lastErr = err
			return
		}
		m.status = "mode: " + mode.Label()
	default:
		m.lastErr = errors.Errorf("unknown command %s", cmd)
	}
}

func (m *Model) refreshViewport() {
	atBottom := m.view.AtBottom()
	m.view.SetContent(m.renderTranscript())
	if atBottom {
		m.view.GotoBottom()
	}
}

func (m *Model) renderTranscript() string {
	var b strings.Builder
	messages, err := m.store.Messages(m.store.ActiveID())
	if err != nil {
		return helpStyle.Render("no active chat")
	}
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			b.WriteString(userStyle.Render("You"))
			b.WriteString("\n")
			b.WriteString(msg.Content)
			b.WriteString("\n\n")
		case chat.RoleAssistant:
			b.WriteString(assistantStyle.Render("Assistant"))
			b.WriteString("\n")
			b.WriteString(m.renderMarkdown(msg.Content))
			for _, tc := range msg.ToolCalls {
				b.WriteString(toolStyle.Render(fmt.Sprintf("tool %s(%s)", tc.Tool, tc.Input)))
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}

	// Live reveal text is shown raw. Markdown rendering waits until the
	// message settles, partial markup renders badly.
	if m.eng.IsRevealing() || (m.coord.IsThinking() && m.eng.DisplayedText() != "") {
		b.WriteString(assistantStyle.Render("Assistant"))
		b.WriteString("\n")
		b.WriteString(m.eng.DisplayedText())
		b.WriteString("\n")
	} else if m.coord.IsThinking() {
		b.WriteString(m.spin.View())
		b.WriteString(" thinking...\n")
	}
	return b.String()
}

func (m *Model) renderMarkdown(content string) string {
	if m.renderer == nil {
		return content + "\n"
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content + "\n"
	}
	return strings.TrimLeft(out, "\n")
}

func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}
	return strings.Join([]string{
		m.headerView(),
		m.view.View(),
		m.input.View(),
		m.footerView(),
	}, "\n")
}

func (m *Model) headerView() string {
	name := "no chat"
	if active, ok := m.store.Active(); ok {
		name = active.Name
	}
	left := titleStyle.Render("hubchat") + " " + name
	right := modeStyle.Render(m.coord.Mode().Label()) + " " + m.connBadge()
	gap := m.width - visibleWidth(left) - visibleWidth(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m *Model) connBadge() string {
	st := m.conn.State()
	switch st {
	case hub.StateConnected:
		return connectedStyle.Render("connected")
	case hub.StateConnecting, hub.StateReconnecting:
		return reconnectingStyle.Render(strings.ToLower(st.String()))
	default:
		return disconnectedStyle.Render("disconnected")
	}
}

func (m *Model) footerView() string {
	if m.lastErr != nil {
		return errorStyle.Render(m.lastErr.Error())
	}
	return helpStyle.Render(m.status)
}
