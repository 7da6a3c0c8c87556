// Package sessions is an interactive browser for stored playback sessions
package sessions

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"

	"github.com/justchokingaround/cuepoint/internal/analytics"
	"github.com/justchokingaround/cuepoint/internal/clipboard"
	"github.com/justchokingaround/cuepoint/internal/history"
	"github.com/justchokingaround/cuepoint/internal/styles"
)

// Store is the part of the report service the browser reads and edits
type Store interface {
	GetSessions(filter history.FilterOptions) ([]history.SessionSummary, error)
	GetEvents(filter history.FilterOptions) ([]analytics.Event, error)
	DeleteSession(id string) error
}

// Copier writes text to the clipboard
type Copier interface {
	Write(text string) tea.Cmd
}

var sortOrders = []history.SortOrder{
	history.SortRecentFirst,
	history.SortOldestFirst,
	history.SortTitleAsc,
	history.SortProgressDesc,
}

// LoadedMsg carries freshly queried sessions
type LoadedMsg struct {
	Sessions []history.SessionSummary
	Err      error
}

// EventsMsg carries the events of one session
type EventsMsg struct {
	SessionID string
	Events    []analytics.Event
	Err       error
}

// DeletedMsg reports a finished delete
type DeletedMsg struct {
	SessionID string
	Err       error
}

// Model represents the session browser
type Model struct {
	store  Store
	copier Copier
	now    func() time.Time

	// Data
	sessions []history.SessionSummary
	events   []analytics.Event
	cursor   int
	sortIdx  int

	// State
	width    int
	height   int
	ready    bool
	detail   bool
	showHelp bool
	status   string

	// Search
	searchInput textinput.Model
	searching   bool
	query       string

	keys KeyMap
	help help.Model
}

// New creates a browser over store. copier may be nil.
func New(store Store, copier Copier) Model {
	ti := textinput.New()
	ti.Placeholder = "Search sessions..."
	ti.Prompt = "/ "
	ti.CharLimit = 200
	ti.PromptStyle = styles.SubtitleStyle
	ti.PlaceholderStyle = styles.MutedStyle

	return Model{
		store:       store,
		copier:      copier,
		now:         time.Now,
		searchInput: ti,
		keys:        DefaultKeyMap(),
		help:        help.New(),
	}
}

// Init loads the first page of sessions
func (m Model) Init() tea.Cmd {
	return m.load()
}

func (m Model) load() tea.Cmd {
	store, order := m.store, sortOrders[m.sortIdx]
	return func() tea.Msg {
		sessions, err := store.GetSessions(history.FilterOptions{SortBy: order})
		return LoadedMsg{Sessions: sessions, Err: err}
	}
}

func (m Model) loadEvents(id string) tea.Cmd {
	store := m.store
	return func() tea.Msg {
		events, err := store.GetEvents(history.FilterOptions{SessionID: id})
		return EventsMsg{SessionID: id, Events: events, Err: err}
	}
}

func (m Model) delete(id string) tea.Cmd {
	store := m.store
	return func() tea.Msg {
		return DeletedMsg{SessionID: id, Err: store.DeleteSession(id)}
	}
}

// Filtered returns the sessions matching the search query, best match first
func (m Model) Filtered() []history.SessionSummary {
	if m.query == "" {
		return m.sessions
	}
	titles := make([]string, len(m.sessions))
	for i, s := range m.sessions {
		titles[i] = s.Title + " " + s.SourceURI
	}
	matches := fuzzy.Find(m.query, titles)
	out := make([]history.SessionSummary, len(matches))
	for i, match := range matches {
		out[i] = m.sessions[match.Index]
	}
	return out
}

// Selected returns the session under the cursor
func (m Model) Selected() (history.SessionSummary, bool) {
	filtered := m.Filtered()
	if m.cursor < 0 || m.cursor >= len(filtered) {
		return history.SessionSummary{}, false
	}
	return filtered[m.cursor], true
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.searchInput.Width = max(msg.Width-10, 10)
		return m, nil

	case LoadedMsg:
		m.ready = true
		if msg.Err != nil {
			m.status = "failed to load sessions: " + msg.Err.Error()
			return m, nil
		}
		m.sessions = msg.Sessions
		m.cursor = min(m.cursor, max(len(m.Filtered())-1, 0))
		return m, nil

	case EventsMsg:
		if msg.Err != nil {
			m.status = "failed to load events: " + msg.Err.Error()
			return m, nil
		}
		m.events = msg.Events
		m.detail = true
		return m, nil

	case DeletedMsg:
		if msg.Err != nil {
			m.status = "failed to delete: " + msg.Err.Error()
			return m, nil
		}
		m.status = "deleted " + msg.SessionID
		return m, m.load()

	case clipboard.CopiedMsg:
		if msg.Err != nil {
			m.status = "copy failed: " + msg.Err.Error()
		} else {
			m.status = "copied " + msg.Text
		}
		return m, nil

	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.searching = false
		m.searchInput.Blur()
		m.searchInput.SetValue("")
		m.query = ""
		m.cursor = 0
		return m, nil
	case tea.KeyEnter:
		m.searching = false
		m.searchInput.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	if q := m.searchInput.Value(); q != m.query {
		m.query = q
		m.cursor = 0
	}
	return m, cmd
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.detail {
		switch {
		case key.Matches(msg, m.keys.Back), key.Matches(msg, m.keys.Select):
			m.detail = false
			m.events = nil
			return m, nil
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.Filtered())-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Search):
		m.searching = true
		return m, m.searchInput.Focus()
	case key.Matches(msg, m.keys.Back):
		m.query = ""
		m.searchInput.SetValue("")
		m.cursor = 0
	case key.Matches(msg, m.keys.Sort):
		m.sortIdx = (m.sortIdx + 1) % len(sortOrders)
		m.cursor = 0
		return m, m.load()
	case key.Matches(msg, m.keys.Refresh):
		return m, m.load()
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
	case key.Matches(msg, m.keys.Select):
		if s, ok := m.Selected(); ok {
			return m, m.loadEvents(s.ID)
		}
	case key.Matches(msg, m.keys.Delete):
		if s, ok := m.Selected(); ok {
			return m, m.delete(s.ID)
		}
	case key.Matches(msg, m.keys.Copy):
		if s, ok := m.Selected(); ok && m.copier != nil {
			return m, m.copier.Write(s.ID)
		}
	}
	return m, nil
}

// View renders the browser
func (m Model) View() string {
	if !m.ready {
		return "Loading sessions..."
	}

	var b strings.Builder
	b.WriteString(styles.TitleStyle.Render("Playback Sessions") + "\n")

	if m.detail {
		b.WriteString(m.viewEvents())
	} else {
		b.WriteString(m.viewSessions())
	}

	if m.status != "" {
		b.WriteString("\n" + styles.MutedStyle.Render(m.status))
	}
	b.WriteString("\n" + m.help.View(m.keys))
	return b.String()
}

func (m Model) viewSessions() string {
	var b strings.Builder
	filtered := m.Filtered()

	meta := fmt.Sprintf("%d sessions • %s", len(filtered), sortOrders[m.sortIdx])
	b.WriteString(styles.SubtitleStyle.Render(meta) + "\n")
	if m.searching || m.query != "" {
		b.WriteString(m.searchInput.View() + "\n")
	}
	b.WriteString("\n")

	if len(filtered) == 0 {
		if m.query != "" {
			return b.String() + styles.MutedStyle.Render("No sessions match your search.") + "\n"
		}
		return b.String() + styles.MutedStyle.Render("No sessions recorded yet.") + "\n"
	}

	start, end := m.visibleRange(len(filtered))
	for i := start; i < end; i++ {
		b.WriteString(m.renderSession(filtered[i], i == m.cursor) + "\n")
	}
	return b.String()
}

func (m Model) visibleRange(total int) (int, int) {
	maxVisible := total
	if m.height > 0 {
		// two lines per session, eight lines of chrome
		maxVisible = max((m.height-8)/2, 1)
	}
	if total <= maxVisible {
		return 0, total
	}
	start := max(m.cursor-maxVisible/2, 0)
	end := min(start+maxVisible, total)
	return max(end-maxVisible, 0), end
}

func (m Model) renderSession(s history.SessionSummary, selected bool) string {
	title := s.Title
	if title == "" {
		title = s.SourceURI
	}
	if m.width > 4 {
		title = runewidth.Truncate(title, m.width-4, "…")
	}

	titleStyle := lipgloss.NewStyle().Foreground(styles.OxocarbonBase04)
	marker := "  "
	if selected {
		titleStyle = titleStyle.Foreground(styles.OxocarbonPurple).Bold(true)
		marker = styles.SubtitleStyle.Render("▸ ")
	}

	parts := []string{humanize.RelTime(s.StartedAt, m.now(), "ago", "from now")}
	if s.Completed() {
		parts = append(parts, "completed")
	} else if s.Duration > 0 {
		parts = append(parts, fmt.Sprintf("%.0f%%", s.Progress()*100))
	}
	parts = append(parts, fmt.Sprintf("%s events", humanize.Comma(s.Events)))
	if s.AdsStarted > 0 {
		parts = append(parts, fmt.Sprintf("ads %d/%d", s.AdsCompleted, s.AdsStarted))
	}
	if s.AdErrors > 0 {
		parts = append(parts, styles.ErrorStyle.Render(fmt.Sprintf("%d ad errors", s.AdErrors)))
	}

	return marker + titleStyle.Render(title) + "\n  " + styles.MutedStyle.Render(strings.Join(parts, " • "))
}

func (m Model) viewEvents() string {
	var b strings.Builder
	if s, ok := m.Selected(); ok {
		b.WriteString(styles.SubtitleStyle.Render(s.ID) + "\n\n")
	}
	if len(m.events) == 0 {
		return b.String() + styles.MutedStyle.Render("No events recorded.") + "\n"
	}

	events := m.events
	if m.height > 0 {
		if limit := max(m.height-8, 1); len(events) > limit {
			events = events[len(events)-limit:]
		}
	}
	for _, ev := range events {
		line := fmt.Sprintf("%s %s %7.1fs", styles.MutedStyle.Render(ev.Timestamp.Local().Format("15:04:05")), styles.Event(ev.Type.String()), ev.Position)
		if ev.Quartile > 0 {
			line += fmt.Sprintf(" q%d", ev.Quartile)
		}
		if ev.AdPosition != "" {
			line += " " + ev.AdPosition
		}
		if ev.ErrorMessage != "" {
			line += " " + styles.ErrorStyle.Render(ev.ErrorMessage)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}
