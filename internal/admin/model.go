// ABOUTME: Admin console: a read-only bubbletea TUI over the session store
// ABOUTME: and ingestion pipeline, refreshed on a ticker
package admin

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stereofield/stereofield/internal/ingest"
	"github.com/stereofield/stereofield/internal/session"
)

const refreshInterval = time.Second

// sessionRow is a point-in-time render of one session, assembled from the
// store snapshot and the pipeline's in-flight set. The console never writes
// to either; it only polls.
type sessionRow struct {
	id        string
	roster    []session.ClientSnapshot
	hasTrack  bool
	trackName string
	ingesting bool
}

type tickMsg time.Time

func tickEvery() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type model struct {
	store    *session.Store
	pipeline *ingest.Pipeline
	rows     []sessionRow
	quitting bool
}

func newModel(store *session.Store, pipeline *ingest.Pipeline) model {
	return model{store: store, pipeline: pipeline}
}

func (m model) Init() tea.Cmd {
	return tickEvery()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		m.rows = m.poll()
		return m, tickEvery()
	}
	return m, nil
}

// poll gathers a fresh render from the store and pipeline. It never mutates
// either; Roster/Snapshot/InFlightSessions are all read-only accessors.
func (m model) poll() []sessionRow {
	inFlight := make(map[string]bool)
	for _, id := range m.pipeline.InFlightSessions() {
		inFlight[id] = true
	}

	ids := m.store.SessionIDs()
	sort.Strings(ids)

	rows := make([]sessionRow, 0, len(ids))
	for _, id := range ids {
		snap, ok := m.store.Snapshot(id)
		if !ok {
			continue
		}
		row := sessionRow{id: id, roster: snap.Roster, ingesting: inFlight[id]}
		if snap.AudioSource != nil {
			row.hasTrack = true
			row.trackName = snap.AudioSource.Title
		}
		rows = append(rows, row)
	}
	return rows
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

func (m model) View() string {
	if m.quitting {
		return "admin console closed\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("stereo field admin"))
	b.WriteString("\n")
	b.WriteString(headerStyle.Render("Sessions: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d", len(m.rows))))
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		b.WriteString(dimStyle.Render("  no active sessions"))
		b.WriteString("\n")
	}

	for _, row := range m.rows {
		b.WriteString(headerStyle.Render(fmt.Sprintf("session %s", row.id)))
		if row.hasTrack {
			b.WriteString(valueStyle.Render(fmt.Sprintf("  %s", row.trackName)))
		}
		if row.ingesting {
			b.WriteString(dimStyle.Render("  [ingesting...]"))
		}
		b.WriteString("\n")
		b.WriteString(renderRoster(row.roster))
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Press 'q' or Ctrl+C to quit"))
	return b.String()
}

func renderRoster(roster []session.ClientSnapshot) string {
	if len(roster) == 0 {
		return dimStyle.Render("    (no clients)") + "\n"
	}
	var b strings.Builder
	for _, c := range roster {
		ready := "not ready"
		if c.Ready {
			ready = "ready"
		}
		b.WriteString(fmt.Sprintf("    %-12s %-8s %4dms  %s\n", c.ID, c.Channel, c.Latency, ready))
	}
	return b.String()
}

// Run blocks serving the admin console in the alternate screen buffer. It
// polls store and pipeline on a ticker; it never mutates session state.
func Run(store *session.Store, pipeline *ingest.Pipeline) error {
	p := tea.NewProgram(newModel(store, pipeline), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
