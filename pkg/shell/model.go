package shell

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/llmdesk/pkg/events"
)

type ShowWindowMsg struct{}

type HideWindowMsg struct{}

type StatusMsg struct {
	Status string
	At     time.Time
}

const maxHistory = 200

// Model renders the main window and the tray bar. The tray bar is always
// visible; the window only after ShowWindowMsg.
type Model struct {
	title   string
	publish func(events.Kind)
	theme   theme

	visible bool
	status  string
	history []string

	width  int
	height int
	vp     viewport.Model
}

func NewModel(title string, publish func(events.Kind)) Model {
	return Model{
		title:   title,
		publish: publish,
		theme:   defaultTheme(),
		status:  "starting",
		vp:      viewport.New(0, 0),
	}
}

func (m Model) Visible() bool  { return m.visible }
func (m Model) Status() string { return m.status }

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = v.Width, v.Height
		m = m.resize()
		return m, nil
	case tea.KeyMsg:
		switch v.String() {
		case "o":
			return m, m.emit(events.TrayOpen)
		case "q", "ctrl+c":
			return m, m.emit(events.TrayQuit)
		case "esc", "ctrl+w":
			if !m.visible {
				return m, nil
			}
			return m, m.emit(events.WindowCloseRequest)
		}
		if m.visible {
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(v)
			return m, cmd
		}
	case ShowWindowMsg:
		m.visible = true
		return m, nil
	case HideWindowMsg:
		m.visible = false
		return m, nil
	case StatusMsg:
		at := v.At
		if at.IsZero() {
			at = time.Now()
		}
		m.status = v.Status
		m.history = append(m.history, fmt.Sprintf("%s  %s", at.Format("15:04:05"), v.Status))
		if len(m.history) > maxHistory {
			m.history = m.history[len(m.history)-maxHistory:]
		}
		m.vp.SetContent(strings.Join(m.history, "\n"))
		m.vp.GotoBottom()
		return m, nil
	}
	return m, nil
}

// emit hands kind to publish from the update loop, so events leave in key
// press order. publish must not block.
func (m Model) emit(kind events.Kind) tea.Cmd {
	if m.publish != nil {
		m.publish(kind)
	}
	return nil
}

func (m Model) resize() Model {
	w := m.width - 4
	h := m.height - 8
	if w < 20 {
		w = 20
	}
	if h < 3 {
		h = 3
	}
	m.vp.Width, m.vp.Height = w, h
	return m
}

func (m Model) View() string {
	var b strings.Builder
	if m.visible {
		var body strings.Builder
		body.WriteString(m.theme.Title.Render(m.title))
		body.WriteString("\n")
		body.WriteString(m.theme.TitleMuted.Render("Status: "))
		body.WriteString(m.theme.statusStyle(m.status).Render(m.status))
		body.WriteString("\n\n")
		if len(m.history) == 0 {
			body.WriteString(m.theme.TitleMuted.Render("no events yet"))
		} else {
			body.WriteString(m.vp.View())
		}
		b.WriteString(m.theme.Window.Render(body.String()))
		b.WriteString("\n")
	} else {
		b.WriteString(m.theme.TitleMuted.Render(m.title + " is running in the tray ("))
		b.WriteString(m.theme.statusStyle(m.status).Render(m.status))
		b.WriteString(m.theme.TitleMuted.Render(")"))
		b.WriteString("\n")
	}
	b.WriteString(m.trayBar())
	return b.String()
}

func (m Model) trayBar() string {
	items := [][2]string{{"o", "Open"}, {"q", "Quit"}}
	if m.visible {
		items = append(items, [2]string{"esc", "Close window"})
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, m.theme.Key.Render("["+it[0]+"]")+" "+m.theme.KeyLabel.Render(it[1]))
	}
	return m.theme.Separator.Render("tray ") + strings.Join(parts, "  ")
}
