package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	backendsync "projectsync/backend/sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// StatusSource loads a fresh status snapshot
type StatusSource func(ctx context.Context) (*backendsync.Status, error)

// ResultMsg carries a finished run into the program; send it from a
// coordinator observer with Program.Send
type ResultMsg struct {
	Result *backendsync.SyncResult
	Err    error
}

// SyncStartedMsg marks a run as in flight
type SyncStartedMsg struct{}

type statusMsg struct {
	status *backendsync.Status
	err    error
}

type tickMsg time.Time

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	onlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	offStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

// Model is the watch dashboard
type Model struct {
	Spinner spinner.Model

	source   StatusSource
	trigger  func() bool
	interval time.Duration

	status     *backendsync.Status
	statusErr  error
	lastResult *backendsync.SyncResult
	lastErr    error
	lastRunAt  time.Time
	syncing    bool
	message    string
	width      int
	quitting   bool
}

// NewModel creates the dashboard. trigger starts a background run and
// reports whether one was started; it may be nil.
func NewModel(source StatusSource, trigger func() bool, refresh time.Duration) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	if refresh <= 0 {
		refresh = 2 * time.Second
	}

	return Model{
		Spinner:  s,
		source:   source,
		trigger:  trigger,
		interval: refresh,
		message:  "Watching for changes",
		width:    80,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.Spinner.Tick, m.loadStatus(), m.tick())
}

func (m Model) loadStatus() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		if source == nil {
			return statusMsg{}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		status, err := source(ctx)
		return statusMsg{status: status, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles UI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "s":
			if m.trigger == nil {
				return m, nil
			}
			if m.trigger() {
				m.syncing = true
				m.message = "Sync started"
			} else {
				m.message = "A sync is already running"
			}
			return m, nil
		case "r":
			return m, m.loadStatus()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.loadStatus(), m.tick())

	case statusMsg:
		m.statusErr = msg.err
		if msg.status != nil {
			m.status = msg.status
			m.syncing = msg.status.Syncing || m.syncing
		}
		return m, nil

	case SyncStartedMsg:
		m.syncing = true
		return m, nil

	case ResultMsg:
		m.syncing = false
		m.lastResult = msg.Result
		m.lastErr = msg.Err
		m.lastRunAt = time.Now()
		m.message = describeResult(msg.Result, msg.Err)
		return m, m.loadStatus()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func describeResult(result *backendsync.SyncResult, err error) string {
	switch {
	case errors.Is(err, backendsync.ErrOffline):
		return "Skipped: offline"
	case errors.Is(err, backendsync.ErrSyncInProgress):
		return "Skipped: sync already running"
	case err != nil:
		return "Sync failed: " + err.Error()
	case result == nil:
		return "Sync finished"
	case result.Aborted:
		return "Sync aborted"
	case len(result.Errors) > 0:
		return fmt.Sprintf("Synced %d, %d error(s)", result.Processed(), len(result.Errors))
	case result.Processed() == 0 && result.Pulled == 0:
		return "Up to date"
	default:
		return fmt.Sprintf("Synced %d, pulled %d", result.Processed(), result.Pulled)
	}
}

// View renders the UI
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("projectsync watch"))
	b.WriteString("\n\n")

	var lines []string
	if m.status == nil {
		lines = append(lines, m.Spinner.View()+" Loading status...")
	} else {
		conn := onlineStyle.Render("● online")
		if !m.status.Online {
			conn = offStyle.Render("● offline")
		}
		if m.syncing {
			conn += "  " + m.Spinner.View() + " syncing"
		}
		lines = append(lines, conn)

		st := m.status.Stats
		lines = append(lines, fmt.Sprintf("Projects   %d  (%d pending, %d failed)", st.ProjectCount, st.PendingProjects, st.FailedProjects))
		queue := fmt.Sprintf("Queue      %d", st.PendingSyncOps)
		if st.DeadLetters > 0 {
			queue += warnStyle.Render(fmt.Sprintf("  (%d dead letters)", st.DeadLetters))
		}
		lines = append(lines, queue)
		conflicts := fmt.Sprintf("Conflicts  %d open", len(m.status.OpenConflicts))
		if len(m.status.OpenConflicts) > 0 {
			conflicts = warnStyle.Render(conflicts)
		}
		lines = append(lines, conflicts)
		lines = append(lines, fmt.Sprintf("Runs       %d  (version %d)", m.status.State.SyncRuns, m.status.State.SyncVersion))
		if !m.status.State.LastSuccessfulSync.IsZero() {
			lines = append(lines, "Last ok    "+m.status.State.LastSuccessfulSync.Local().Format("15:04:05"))
		}
	}
	if !m.lastRunAt.IsZero() {
		lines = append(lines, "Last run   "+m.lastRunAt.Local().Format("15:04:05"))
	}
	if m.statusErr != nil {
		lines = append(lines, offStyle.Render("Status error: "+m.statusErr.Error()))
	}

	width := m.width - 4
	if width > 70 {
		width = 70
	}
	if width < 30 {
		width = 30
	}
	b.WriteString(boxStyle.Width(width).Render(strings.Join(lines, "\n")))
	b.WriteString("\n\n")
	b.WriteString(m.message)
	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("s: sync now • r: refresh • q: quit"))
	b.WriteString("\n")
	return b.String()
}

// Run starts the dashboard and returns the program so callers can Send
// ResultMsg values into it
func Run(ctx context.Context, m Model) (*tea.Program, <-chan error) {
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen())
	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()
	return p, done
}
