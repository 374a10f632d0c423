// Package tui is the interactive chat screen.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/openllama/openllama/internal/chat"
	"github.com/openllama/openllama/internal/llm"
)

const inputHeight = 3

// updateMsg carries a controller update into the bubbletea loop.
type updateMsg chat.Update

// updateFeed hands controller updates to the UI. Every update is a full
// snapshot, so only the newest one is kept.
type updateFeed struct {
	ch chan chat.Update
}

func newUpdateFeed() *updateFeed {
	return &updateFeed{ch: make(chan chat.Update, 1)}
}

func (f *updateFeed) push(u chat.Update) {
	for {
		select {
		case f.ch <- u:
			return
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}

func (f *updateFeed) wait() tea.Msg {
	return updateMsg(<-f.ch)
}

// Options configure New. Now is used for date grouping and defaults to
// time.Now.
type Options struct {
	DefaultModel string
	Output       io.Writer
	NoColor      bool
	Now          func() time.Time
}

// Model is the bubbletea model for the chat screen.
type Model struct {
	ctx          context.Context
	ctrl         *chat.Controller
	defaultModel string
	styles       *Styles
	now          func() time.Time

	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	width    int
	height   int

	feed        *updateFeed
	unsubscribe func()

	sessions []chat.Session
	activeID string
	state    chat.State
	stats    chat.Stats
	notice   string
	quitting bool
}

func New(ctx context.Context, ctrl *chat.Controller, opts Options) *Model {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = llm.DefaultModelID
	}

	ta := textarea.New()
	ta.Placeholder = "Send a message... (/help for commands)"
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("ctrl+j", "alt+enter"))
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := &Model{
		ctx:          ctx,
		ctrl:         ctrl,
		defaultModel: opts.DefaultModel,
		styles:       NewStyles(opts.Output, opts.NoColor),
		now:          opts.Now,
		textarea:     ta,
		viewport:     viewport.New(80, 20),
		spinner:      sp,
		width:        80,
		height:       24,
		feed:         newUpdateFeed(),
	}
	m.unsubscribe = ctrl.Subscribe(m.feed.push)
	m.syncFromStore()
	m.layout()
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, m.feed.wait)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case updateMsg:
		m.applyUpdate(chat.Update(msg))
		return m, m.feed.wait

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m.quit()

	case "esc":
		m.ctrl.Stop()
		return m, nil

	case "enter":
		input := strings.TrimSpace(m.textarea.Value())
		if strings.HasPrefix(input, "/") {
			return m.ExecuteCommand(input)
		}
		return m.send(m.textarea.Value())

	case "ctrl+n":
		return m.cmdNew()

	case "alt+up", "alt+down":
		return m.cycleSession(msg.String() == "alt+down")

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

// send hands the composer text to the controller. Empty input and sends
// during a running generation are ignored.
func (m *Model) send(text string) (tea.Model, tea.Cmd) {
	_, err := m.ctrl.Send(m.ctx, text)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrGenerationActive):
		return m, nil
	case err != nil:
		return m.showNotice("Send failed: " + err.Error())
	}
	m.textarea.SetValue("")
	m.notice = ""
	m.syncFromStore()
	return m, nil
}

func (m *Model) cycleSession(forward bool) (tea.Model, tea.Cmd) {
	if len(m.sessions) < 2 {
		return m, nil
	}
	idx := 0
	for i, s := range m.sessions {
		if s.ID == m.activeID {
			idx = i
		}
	}
	if forward {
		idx = (idx + 1) % len(m.sessions)
	} else {
		idx = (idx - 1 + len(m.sessions)) % len(m.sessions)
	}
	if err := m.ctrl.SelectSession(m.sessions[idx].ID); err != nil {
		return m.showNotice(err.Error())
	}
	m.syncFromStore()
	return m, nil
}

func (m *Model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.ctrl.Stop()
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	return m, tea.Quit
}

func (m *Model) applyUpdate(u chat.Update) {
	m.sessions = u.Sessions
	m.activeID = u.ActiveID
	m.state = u.State
	if u.Outcome != chat.StateIdle {
		m.state = u.Outcome
	}
	m.stats = u.Stats
	m.refreshViewport()
}

// syncFromStore pulls state directly, for changes that publish nothing.
func (m *Model) syncFromStore() {
	st := m.ctrl.Store()
	m.sessions = st.Sessions()
	m.activeID = st.ActiveID()
	m.state = m.ctrl.State()
	m.stats = m.ctrl.Stats()
	m.refreshViewport()
}

func (m *Model) active() (chat.Session, bool) {
	for _, s := range m.sessions {
		if s.ID == m.activeID {
			return s, true
		}
	}
	return chat.Session{}, false
}

func (m *Model) layout() {
	m.textarea.SetWidth(max(m.width-2, 10))
	// header, status line, input border
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-inputHeight-4, 3)
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderTranscript() string {
	sess, ok := m.active()
	var b strings.Builder
	if ok {
		body := m.styles.Body.Width(max(m.width-2, 10))
		for _, msg := range sess.Messages {
			switch msg.Role {
			case llm.RoleUser:
				b.WriteString(m.styles.User.Render("You"))
			default:
				b.WriteString(m.styles.Assistant.Render("Assistant"))
			}
			b.WriteString("\n")
			if msg.Content != "" {
				b.WriteString(body.Render(msg.Content))
				b.WriteString("\n")
			}
			for _, att := range msg.Attachments {
				b.WriteString(body.Render(m.styles.Muted.Render(fmt.Sprintf("[%s: %s]", att.Kind, att.Name))))
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}
	if m.notice != "" {
		b.WriteString(m.styles.Notice.Render(m.notice))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderHeader() string {
	sess, _ := m.active()
	pos := 0
	for i, s := range m.sessions {
		if s.ID == m.activeID {
			pos = i + 1
		}
	}
	title := chat.FitTitle(sess.Title, max(m.width-30, 10))
	text := fmt.Sprintf("openllama | %s | %s (%d/%d)", title, sess.ModelID, pos, len(m.sessions))
	return m.styles.Header.Width(m.width).Render(text)
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	var staged []string
	for _, a := range m.ctrl.Staged() {
		staged = append(staged, a.Name)
	}
	status := statusLine{
		Spinner: m.spinner.View(),
		State:   m.state,
		Stats:   m.stats,
		Staged:  staged,
	}.Render(m.styles)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		status,
		m.styles.Input.Render(m.textarea.View()),
	)
}

// Close detaches the model from the controller.
func (m *Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}
