package sessions

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justchokingaround/cuepoint/internal/analytics"
	"github.com/justchokingaround/cuepoint/internal/clipboard"
	"github.com/justchokingaround/cuepoint/internal/history"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	sessions []history.SessionSummary
	events   map[string][]analytics.Event
	orders   []history.SortOrder
	deleted  []string
	err      error
}

func (f *fakeStore) GetSessions(filter history.FilterOptions) ([]history.SessionSummary, error) {
	f.orders = append(f.orders, filter.SortBy)
	return f.sessions, f.err
}

func (f *fakeStore) GetEvents(filter history.FilterOptions) ([]analytics.Event, error) {
	return f.events[filter.SessionID], f.err
}

func (f *fakeStore) DeleteSession(id string) error {
	f.deleted = append(f.deleted, id)
	return f.err
}

type fakeCopier struct{ copied []string }

func (f *fakeCopier) Write(text string) tea.Cmd {
	f.copied = append(f.copied, text)
	return func() tea.Msg { return clipboard.CopiedMsg{Text: text} }
}

func newStore() *fakeStore {
	ended := now.Add(-time.Hour)
	return &fakeStore{
		sessions: []history.SessionSummary{
			{ID: "s1", Title: "Big Buck Bunny", StartedAt: now.Add(-2 * time.Hour), EndedAt: &ended, Events: 12, AdsStarted: 2, AdsCompleted: 2},
			{ID: "s2", Title: "Sintel", StartedAt: now.Add(-time.Hour), LastPosition: 30, Duration: 120, Events: 4, AdErrors: 1},
		},
		events: map[string][]analytics.Event{
			"s2": {
				{Type: analytics.EventSessionStart, Timestamp: now},
				{Type: analytics.EventAdError, AdPosition: "preroll", ErrorMessage: "decode failed", Timestamp: now},
			},
		},
	}
}

// send applies msg and then every message its command chain produces
func send(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	for msg != nil {
		next, cmd := m.Update(msg)
		m = next.(Model)
		msg = nil
		if cmd != nil {
			msg = cmd()
		}
	}
	return m
}

// press applies msg without running its command, which for the search input
// is only a cursor blink
func press(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newLoadedModel(t *testing.T, store *fakeStore, copier Copier) Model {
	t.Helper()
	m := New(store, copier)
	m.now = func() time.Time { return now }
	m = send(t, m, tea.WindowSizeMsg{Width: 80, Height: 40})
	return send(t, m, m.Init()())
}

func TestModel_LoadAndRender(t *testing.T) {
	assert.Equal(t, "Loading sessions...", New(&fakeStore{}, nil).View())

	m := newLoadedModel(t, newStore(), nil)
	view := m.View()

	assert.Contains(t, view, "2 sessions")
	assert.Contains(t, view, "Big Buck Bunny")
	assert.Contains(t, view, "2 hours ago")
	assert.Contains(t, view, "completed")
	assert.Contains(t, view, "25%")
	assert.Contains(t, view, "1 ad errors")
}

func TestModel_NavigationAndEvents(t *testing.T) {
	m := newLoadedModel(t, newStore(), nil)

	m = send(t, m, keyMsg("j"))
	s, ok := m.Selected()
	require.True(t, ok)
	assert.Equal(t, "s2", s.ID)

	m = send(t, m, keyMsg("down"))
	s, _ = m.Selected()
	assert.Equal(t, "s2", s.ID, "cursor stays on the last session")

	m = send(t, m, keyMsg("enter"))
	assert.True(t, m.detail)
	view := m.View()
	assert.Contains(t, view, "ad_error")
	assert.Contains(t, view, "decode failed")

	m = send(t, m, keyMsg("esc"))
	assert.False(t, m.detail)
}

func TestModel_Search(t *testing.T) {
	m := newLoadedModel(t, newStore(), nil)

	m = press(t, m, keyMsg("/"))
	assert.True(t, m.searching)
	for _, r := range "sin" {
		m = press(t, m, keyMsg(string(r)))
	}
	require.Len(t, m.Filtered(), 1)
	assert.Equal(t, "s2", m.Filtered()[0].ID)

	m = press(t, m, keyMsg("enter"))
	assert.False(t, m.searching)
	assert.Equal(t, "sin", m.query)

	m = press(t, m, keyMsg("/"))
	m = press(t, m, keyMsg("esc"))
	assert.Empty(t, m.query)
	assert.Len(t, m.Filtered(), 2)
}

func TestModel_SortCyclesAndReloads(t *testing.T) {
	store := newStore()
	m := newLoadedModel(t, store, nil)

	m = send(t, m, keyMsg("s"))
	m = send(t, m, keyMsg("s"))
	assert.Equal(t, []history.SortOrder{history.SortRecentFirst, history.SortOldestFirst, history.SortTitleAsc}, store.orders)
	assert.Contains(t, m.View(), "title_asc")
}

func TestModel_DeleteAndCopy(t *testing.T) {
	store := newStore()
	copier := &fakeCopier{}
	m := newLoadedModel(t, store, copier)

	m = send(t, m, keyMsg("y"))
	assert.Equal(t, []string{"s1"}, copier.copied)
	assert.Contains(t, m.View(), "copied s1")

	m = send(t, m, keyMsg("x"))
	assert.Equal(t, []string{"s1"}, store.deleted)
	assert.Contains(t, m.View(), "deleted s1")
}

func TestModel_Errors(t *testing.T) {
	store := newStore()
	store.err = errors.New("database is locked")

	m := newLoadedModel(t, store, nil)
	assert.Contains(t, m.View(), "failed to load sessions: database is locked")
}

func TestModel_Quit(t *testing.T) {
	m := newLoadedModel(t, newStore(), nil)
	_, cmd := m.Update(keyMsg("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
