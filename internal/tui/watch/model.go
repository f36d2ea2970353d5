package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/itops/hub/internal/bus"
)

const eventLogLimit = 50

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	hubURL string
	apiKey string

	width  int
	height int

	// State
	connected bool
	lastCheck time.Time
	counters  map[string]int
	kinds     []string // insertion order of counters
	eventLog  []bus.Entry

	// Live indicators
	ticker  Ticker
	spinner Spinner

	// Scrollable event stream.
	stream viewport.Model

	theme Theme

	// Communication
	entries chan bus.Entry

	// Error display
	lastError string
}

// New creates a new watch TUI model.
func New(hubURL, apiKey string) *Model {
	return &Model{
		hubURL:   hubURL,
		apiKey:   apiKey,
		counters: make(map[string]int),
		eventLog: make([]bus.Entry, 0),
		entries:  make(chan bus.Entry, 100),
		ticker:   NewTicker(),
		spinner:  NewSpinner(),
		theme:    NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.hubURL, m.apiKey, m.entries),
		receiveNextEvent(m.entries),
		func() tea.Msg { return fetchHealth(m.hubURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		default:
			// Scrolling keys go to the stream viewport.
			var cmd tea.Cmd
			m.stream, cmd = m.stream.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.stream = viewport.New(msg.Width-6, max(5, msg.Height-12))
		m.stream.SetContent(renderEventLines(m.eventLog, m.theme))

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := bus.Entry(msg)

		// Event log, newest first.
		m.eventLog = append([]bus.Entry{e}, m.eventLog...)
		if len(m.eventLog) > eventLogLimit {
			m.eventLog = m.eventLog[:eventLogLimit]
		}

		if _, seen := m.counters[e.Kind]; !seen {
			m.kinds = append(m.kinds, e.Kind)
		}
		m.counters[e.Kind]++

		m.spinner.OnEvent()
		m.stream.SetContent(renderEventLines(m.eventLog, m.theme))
		m.connected = true
		m.lastError = ""

		return m, receiveNextEvent(m.entries)

	case healthMsg:
		m.connected = true
		m.lastCheck = time.Now()
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.hubURL)
		})

	case sseDisconnectedMsg:
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		// Reconnect after a short delay; the existing receiveNextEvent
		// goroutine is still waiting on the channel and will pick up
		// entries from the new subscription.
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.hubURL, m.apiKey, m.entries)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.hubURL)
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to hub..."
	}

	header := m.renderHeader()
	counters := renderCounters(m.kinds, m.counters, m.theme, m.width)
	eventStream := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("EVENT STREAM"),
			m.stream.View(),
		),
	)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := m.theme.Dim.Render(" [q] Quit • [↑/↓] Scroll")

	parts := []string{header, counters, eventStream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) renderHeader() string {
	status := m.theme.StatusFailed.Render("● disconnected")
	if m.connected {
		status = m.theme.StatusOK.Render("● connected")
	}

	title := m.theme.Title.Render("HUB WATCH")
	line := fmt.Sprintf("%s %s  %s %s  %s",
		title, m.hubURL, status, m.ticker.Current(), m.spinner.Render(m.theme))

	return m.theme.Border.Width(m.width - 4).Render(line)
}
