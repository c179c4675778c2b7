// Package chat is the bubbletea front end of the client session: a scrolling conversation,
// an input box, the reply reveal animation and copy-to-clipboard for code in replies.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/dsa-tutor/pkg/client"
	"github.com/go-go-golems/dsa-tutor/pkg/markdown"
)

// DefaultRevealInterval is the delay between two revealed runes.
const DefaultRevealInterval = 10 * time.Millisecond

type keyMap struct {
	Send       key.Binding
	Reset      key.Binding
	CopyCode   key.Binding
	SkipReveal key.Binding
	Quit       key.Binding
}

var keys = keyMap{
	Send:       key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
	Reset:      key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "reset")),
	CopyCode:   key.NewBinding(key.WithKeys("ctrl+y"), key.WithHelp("ctrl+y", "copy code")),
	SkipReveal: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "skip animation")),
	Quit:       key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}

type replyMsg struct {
	text  string
	reply client.Message
	err   error
}

type resetMsg struct {
	err error
}

type revealTickMsg struct {
	id string
}

type redrawMsg struct{}

type Model struct {
	ctx     context.Context
	session *client.Session
	title   string

	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	width, height int
	ready         bool

	revealing      string
	revealInterval time.Duration
	status         string
	rendered       map[string]string

	copyToClipboard func(string) error
}

type Option func(*Model)

func WithTitle(title string) Option {
	return func(m *Model) {
		m.title = title
	}
}

func WithRevealInterval(d time.Duration) Option {
	return func(m *Model) {
		m.revealInterval = d
	}
}

func WithClipboard(f func(string) error) Option {
	return func(m *Model) {
		if f != nil {
			m.copyToClipboard = f
		}
	}
}

func New(ctx context.Context, session *client.Session, opts ...Option) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask about data structures or algorithms..."
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.CharLimit = 0
	// enter sends; alt+enter inserts a newline
	ta.KeyMap.InsertNewline.SetKeys("alt+enter")
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		ctx:             ctx,
		session:         session,
		title:           "DSA Tutor",
		textarea:        ta,
		spinner:         sp,
		revealInterval:  DefaultRevealInterval,
		rendered:        map[string]string{},
		copyToClipboard: clipboard.WriteAll,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Send):
			text := m.textarea.Value()
			if m.session.Loading() || strings.TrimSpace(text) == "" {
				return m, nil
			}
			m.textarea.Reset()
			m.status = ""
			m.refresh()
			return m, tea.Batch(m.sendCmd(text), m.spinner.Tick, m.waitForOptimistic())
		case key.Matches(msg, keys.Reset):
			if m.session.Loading() {
				return m, nil
			}
			m.status = ""
			return m, tea.Batch(m.resetCmd(), m.spinner.Tick)
		case key.Matches(msg, keys.CopyCode):
			m.status = m.copyLatestCode()
			return m, nil
		case key.Matches(msg, keys.SkipReveal):
			if m.revealing != "" {
				m.session.RevealAll(m.revealing)
				m.revealing = ""
				m.refresh()
			}
			return m, nil
		}

	case replyMsg:
		if msg.err != nil {
			// a rolled back message is handed back for resending
			if m.session.RollsBack() && m.textarea.Value() == "" {
				m.textarea.SetValue(msg.text)
			}
			m.refresh()
			return m, nil
		}
		m.revealing = msg.reply.ID
		m.refresh()
		return m, m.revealTick(msg.reply.ID)

	case resetMsg:
		if msg.err == nil {
			m.revealing = ""
			m.rendered = map[string]string{}
		}
		m.refresh()
		return m, nil

	case revealTickMsg:
		if msg.id != m.revealing {
			return m, nil
		}
		done := m.session.RevealNext(msg.id)
		if done {
			m.revealing = ""
		}
		m.refresh()
		if done {
			return m, nil
		}
		return m, m.revealTick(msg.id)

	case redrawMsg:
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.session.Loading() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	var footer strings.Builder
	switch {
	case m.session.Loading():
		footer.WriteString(m.spinner.View() + statusStyle.Render(" thinking..."))
	case m.session.Error() != "":
		footer.WriteString(errorStyle.Render("⚠ " + m.session.Error()))
	case m.status != "":
		footer.WriteString(statusStyle.Render(m.status))
	}
	help := helpStyle.Render(fmt.Sprintf("%s • alt+enter newline • %s • %s • %s • %s",
		keys.Send.Help().Key+" "+keys.Send.Help().Desc,
		keys.Reset.Help().Key+" "+keys.Reset.Help().Desc,
		keys.CopyCode.Help().Key+" "+keys.CopyCode.Help().Desc,
		keys.SkipReveal.Help().Key+" "+keys.SkipReveal.Help().Desc,
		keys.Quit.Help().Key+" "+keys.Quit.Help().Desc,
	))
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(m.title),
		paneStyle.Render(m.viewport.View()),
		footer.String(),
		m.textarea.View(),
		help,
	)
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	inner := width - paneStyle.GetHorizontalFrameSize()
	if inner < 10 {
		inner = 10
	}
	// title, footer, textarea, help
	vpHeight := height - paneStyle.GetVerticalFrameSize() - m.textarea.Height() - 3
	if vpHeight < 3 {
		vpHeight = 3
	}
	if !m.ready {
		m.viewport = viewport.New(inner, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = inner
		m.viewport.Height = vpHeight
	}
	m.textarea.SetWidth(width)

	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(inner-2))
	if err != nil {
		log.Warn().Err(err).Msg("could not create markdown renderer")
		r = nil
	}
	m.renderer = r
	m.rendered = map[string]string{}
	m.refresh()
}

// refresh rebuilds the viewport content from the session and scrolls to the bottom.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	var b strings.Builder
	for _, msg := range m.session.Messages() {
		switch msg.Author {
		case client.AuthorUser:
			b.WriteString(userStyle.Render("You") + "\n")
			b.WriteString(msg.Text + "\n\n")
		case client.AuthorBot:
			b.WriteString(botStyle.Render("Tutor") + "\n")
			b.WriteString(m.renderBot(msg) + "\n")
		}
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

// renderBot renders fully revealed replies as markdown once and caches them. Partially revealed
// text is shown as is.
func (m *Model) renderBot(msg client.Message) string {
	if !msg.Revealed() || m.renderer == nil {
		return msg.Text + "\n"
	}
	if out, ok := m.rendered[msg.ID]; ok {
		return out
	}
	out, err := m.renderer.Render(msg.FullText)
	if err != nil {
		log.Debug().Err(err).Msg("markdown render failed")
		out = msg.FullText + "\n"
	}
	m.rendered[msg.ID] = out
	return out
}

func (m Model) sendCmd(text string) tea.Cmd {
	return func() tea.Msg {
		reply, err := m.session.Send(m.ctx, text)
		return replyMsg{text: text, reply: reply, err: err}
	}
}

func (m Model) resetCmd() tea.Cmd {
	return func() tea.Msg {
		return resetMsg{err: m.session.Reset(m.ctx)}
	}
}

// waitForOptimistic redraws shortly after a send so the user message shows before the reply.
func (m Model) waitForOptimistic() tea.Cmd {
	return tea.Tick(20*time.Millisecond, func(time.Time) tea.Msg {
		return redrawMsg{}
	})
}

func (m Model) revealTick(id string) tea.Cmd {
	return tea.Tick(m.revealInterval, func(time.Time) tea.Msg {
		return revealTickMsg{id: id}
	})
}

func (m Model) copyLatestCode() string {
	last, ok := m.session.LastBotMessage()
	if !ok {
		return "No reply to copy from yet"
	}
	block, ok := markdown.FirstCodeBlock(last.FullText)
	if !ok {
		return "No code block in the last reply"
	}
	if err := m.copyToClipboard(block.Code); err != nil {
		log.Warn().Err(err).Msg("clipboard write failed")
		return "Could not copy to clipboard"
	}
	lang := block.Language
	if lang == "" {
		lang = "plaintext"
	}
	return fmt.Sprintf("Copied %s code block", lang)
}
