package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"projectsync/backend"
	"projectsync/backend/sqlite"
	backendsync "projectsync/backend/sync"
	"projectsync/internal/utils"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("36"))
	nameStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Width(14)
	sectionStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// GetTerminalWidth returns the current terminal width, defaulting to 80
func GetTerminalWidth() int {
	return utils.TerminalWidth(80)
}

func borderWidth() int {
	w := GetTerminalWidth() - 2
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

// StatusBadge renders a sync status with its color
func StatusBadge(status backend.SyncStatus) string {
	switch status {
	case backend.SyncStatusSynced:
		return okStyle.Render("✓ synced")
	case backend.SyncStatusPending:
		return warnStyle.Render("↻ pending")
	case backend.SyncStatusFailed:
		return errStyle.Render("✗ failed")
	default:
		return dimStyle.Render(string(status))
	}
}

// ShowProjects displays projects inside a box with their sync state
func ShowProjects(w io.Writer, projects []backend.Project) {
	width := borderWidth()

	headerText := fmt.Sprintf("─ Projects (%d) ", len(projects))
	padding := width - lipgloss.Width(headerText)
	if padding < 0 {
		padding = 0
	}
	fmt.Fprintln(w, headerStyle.Render("┌"+headerText+strings.Repeat("─", padding)+"┐"))

	if len(projects) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  No projects. Create one with 'projectsync project add <name>'"))
	}

	for i, p := range projects {
		fmt.Fprintf(w, "  %s %s %s\n",
			dimStyle.Render(fmt.Sprintf("%2d.", i+1)),
			nameStyle.Render(fmt.Sprintf("%-30s", truncate(p.Name, 30))),
			StatusBadge(p.SyncStatus))

		var details []string
		details = append(details, p.ID)
		if p.Status != "" {
			details = append(details, p.Status)
		}
		if p.Type != "" {
			details = append(details, p.Type)
		}
		if p.Client.Name != "" {
			details = append(details, "client: "+p.Client.Name)
		}
		fmt.Fprintf(w, "      %s\n", dimStyle.Render(strings.Join(details, " · ")))
	}

	fmt.Fprintln(w, headerStyle.Render("└"+strings.Repeat("─", width)+"┘"))
}

// ShowProject displays every field of one project
func ShowProject(w io.Writer, p *backend.Project) {
	row := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label), value)
	}

	fmt.Fprintln(w, nameStyle.Render(p.Name))
	row("ID", p.ID)
	row("Sync", StatusBadge(p.SyncStatus))
	row("Status", p.Status)
	row("Type", p.Type)
	row("Location", p.Location)
	row("Description", p.Description)
	if p.Client != (backend.Client{}) {
		row("Client", strings.TrimSpace(strings.Join([]string{p.Client.Name, p.Client.Company, p.Client.Email}, " ")))
	}
	if p.Timeline.Start != nil || p.Timeline.End != nil {
		row("Timeline", fmt.Sprintf("%s → %s", formatDate(p.Timeline.Start), formatDate(p.Timeline.End)))
	}
	if p.Budget.Amount != 0 {
		row("Budget", fmt.Sprintf("%.2f %s", p.Budget.Amount, p.Budget.Currency))
	}
	row("Team", strings.Join(p.Team, ", "))
	row("Tags", strings.Join(p.Tags, ", "))
	row("Created by", p.CreatedBy)
	row("Updated", FormatTime(p.UpdatedAt))
	row("Last synced", FormatTime(p.LastSyncedAt))
	if len(p.PendingChanges) > 0 {
		ops := make([]string, len(p.PendingChanges))
		for i, c := range p.PendingChanges {
			ops[i] = string(c.Operation)
		}
		row("Pending", strings.Join(ops, " → "))
	}
}

// PrintSyncResult displays the outcome of a run
func PrintSyncResult(w io.Writer, result *backendsync.SyncResult) {
	title := okStyle.Render("=== Sync Complete ===")
	if result.Aborted {
		title = warnStyle.Render("=== Sync Aborted ===")
	} else if !result.Success {
		title = warnStyle.Render("=== Sync Finished With Errors ===")
	}
	fmt.Fprintln(w, title)

	fmt.Fprintf(w, "Created: %d  Updated: %d  Deleted: %d\n", result.Created, result.Updated, result.Deleted)
	if result.Deferred > 0 {
		fmt.Fprintf(w, "Deferred: %d\n", result.Deferred)
	}
	if result.Pulled > 0 {
		fmt.Fprintf(w, "Pulled: %d\n", result.Pulled)
	}
	fmt.Fprintf(w, "Batches: %d  Duration: %s\n", result.Batches, result.Duration.Round(time.Millisecond))

	if len(result.IDMap) > 0 {
		fmt.Fprintln(w, sectionStyle.Render("\nNew ids"))
		temps := make([]string, 0, len(result.IDMap))
		for tmp := range result.IDMap {
			temps = append(temps, tmp)
		}
		sort.Strings(temps)
		for _, tmp := range temps {
			fmt.Fprintf(w, "  %s → %s\n", dimStyle.Render(tmp), result.IDMap[tmp])
		}
	}

	if len(result.Conflicts) > 0 {
		fmt.Fprintln(w, sectionStyle.Render(fmt.Sprintf("\nConflicts: %d (%d resolved)", len(result.Conflicts), result.ResolvedConflicts())))
		for _, c := range result.Conflicts {
			if c.Unresolved {
				fmt.Fprintf(w, "  %s %s %s conflict, waiting for a decision (conflict #%d)\n",
					warnStyle.Render("!"), c.EntityID, c.Type, c.ConflictID)
				continue
			}
			fmt.Fprintf(w, "  %s %s %s conflict, %s won (%s)\n",
				okStyle.Render("✓"), c.EntityID, c.Type, c.Winner, c.Strategy)
		}
	}

	if len(result.Errors) > 0 {
		fmt.Fprintln(w, errStyle.Render(fmt.Sprintf("\n⚠ Errors: %d", len(result.Errors))))
		for _, e := range result.Errors {
			suffix := fmt.Sprintf("retry %d", e.RetryCount)
			if e.DeadLetter {
				suffix = "gave up"
			}
			fmt.Fprintf(w, "  - %s %s: %v %s\n", e.Operation, e.EntityID, e.Err, dimStyle.Render("("+suffix+")"))
		}
	}
}

// PrintStatus displays connectivity, queue depth and sync metadata
func PrintStatus(w io.Writer, status *backendsync.Status) {
	online := okStyle.Render("online")
	if !status.Online {
		online = errStyle.Render("offline")
	}
	if status.Syncing {
		online += warnStyle.Render(" (syncing)")
	}

	fmt.Fprintln(w, headerStyle.Render("=== Sync Status ==="))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Connection"), online)
	fmt.Fprintf(w, "%s %d (%d pending, %d failed)\n", labelStyle.Render("Projects"),
		status.Stats.ProjectCount, status.Stats.PendingProjects, status.Stats.FailedProjects)
	fmt.Fprintf(w, "%s %d queued, %d dead letters\n", labelStyle.Render("Queue"),
		status.Stats.PendingSyncOps, status.Stats.DeadLetters)
	fmt.Fprintf(w, "%s %d open\n", labelStyle.Render("Conflicts"), len(status.OpenConflicts))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Last success"), FormatTime(status.State.LastSuccessfulSync))
	fmt.Fprintf(w, "%s %d runs, version %d, %d conflicts resolved, %d errors\n", labelStyle.Render("History"),
		status.State.SyncRuns, status.State.SyncVersion, status.State.ConflictsResolved, status.State.TotalErrors)

	if last := status.State.LastResult; last != nil {
		outcome := okStyle.Render("success")
		if last.Aborted {
			outcome = warnStyle.Render("aborted")
		} else if !last.Success {
			outcome = errStyle.Render("errors")
		}
		fmt.Fprintf(w, "%s %s, %d processed, %d conflicts, %d errors (%s)\n", labelStyle.Render("Last run"),
			outcome, last.Processed, last.Conflicts, last.Errors, FormatTime(last.StartedAt))
		if last.LastErrMsg != "" {
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Last error"), dimStyle.Render(last.LastErrMsg))
		}
	}
}

// PrintQueue displays queue entries, marking dead letters
func PrintQueue(w io.Writer, entries []sqlite.Entry, maxRetries int) {
	if len(entries) == 0 {
		fmt.Fprintln(w, okStyle.Render("Queue is empty"))
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("=== Sync Queue (%d) ===", len(entries))))
	for _, e := range entries {
		state := warnStyle.Render("queued")
		if e.RetryCount >= maxRetries {
			state = errStyle.Render("dead letter")
		} else if e.RetryCount > 0 {
			state = warnStyle.Render(fmt.Sprintf("retry %d/%d", e.RetryCount, maxRetries))
		}
		fmt.Fprintf(w, "  #%-5d %-7s %-40s %s\n", e.ID, e.Operation, e.EntityID, state)
		if e.LastError != "" {
			fmt.Fprintf(w, "         %s\n", dimStyle.Render(truncate(e.LastError, borderWidth()-10)))
		}
	}
}

// PrintConflicts displays open conflicts with the fields that disagree
func PrintConflicts(w io.Writer, conflicts []sqlite.PendingConflict) {
	if len(conflicts) == 0 {
		fmt.Fprintln(w, okStyle.Render("No open conflicts"))
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("=== Open Conflicts (%d) ===", len(conflicts))))
	for _, c := range conflicts {
		fmt.Fprintf(w, "\n%s %s on %s %s\n", warnStyle.Render(fmt.Sprintf("#%d", c.ID)), c.Type, nameStyle.Render(c.EntityID),
			dimStyle.Render("detected "+FormatTime(c.DetectedAt)))

		keys := c.Payload.Keys()
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-14s local: %v  server: %v\n", k, c.Payload[k], c.Server[k])
		}
	}
	fmt.Fprintln(w, dimStyle.Render("\nResolve with: projectsync sync conflicts resolve <id> --keep server|local"))
}

// FormatTime renders t relative to now for recent times, "never" for zero
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	age := time.Since(t)
	switch {
	case age < 0:
		return t.Local().Format("2006-01-02 15:04")
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return t.Local().Format("2006-01-02 15:04")
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "?"
	}
	return t.Format("2006-01-02")
}

func truncate(s string, n int) string {
	if n <= 1 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
