package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/azdo-connector/internal/model"
	"github.com/nhle/azdo-connector/internal/store"
	"github.com/nhle/azdo-connector/internal/theme"
)

// connectorStatus is everything the status command shows for one
// connector.
type connectorStatus struct {
	Config     model.ConnectorConfig
	Documents  int
	Checkpoint *model.Checkpoint
	Runs       []model.SyncRun
}

func loadConnectorStatus(
	ctx context.Context,
	s store.Store,
	cc model.ConnectorConfig,
	runLimit int,
) (connectorStatus, error) {
	st := connectorStatus{Config: cc}

	n, err := s.CountDocuments(ctx, cc.ID)
	if err != nil {
		return st, err
	}
	st.Documents = n

	cp, err := s.GetCheckpoint(ctx, cc.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return st, err
	default:
		st.Checkpoint = cp
	}

	if runLimit > 0 {
		st.Runs, err = s.GetSyncRuns(ctx, cc.ID, runLimit)
		if err != nil {
			return st, err
		}
	}

	return st, nil
}

func renderStatus(st connectorStatus) string {
	cc := st.Config

	enabled := theme.StatusStyle("ok").Render("enabled")
	if !cc.Enabled {
		enabled = theme.StatusStyle("disabled").Render("disabled")
	}

	checkpoint := theme.HelpStyle.Render("never synced")
	if st.Checkpoint != nil {
		checkpoint = formatTime(st.Checkpoint.PolledThrough)
	}

	rows := []string{
		theme.HeaderStyle.Render(cc.ID),
		row("Project", cc.Organization+"/"+cc.Project),
		row("State", enabled),
		row("Batch size", fmt.Sprint(cc.BatchSize)),
		row("Poll interval", pollInterval(cc).String()),
		row("Documents", fmt.Sprint(st.Documents)),
		row("Polled through", checkpoint),
	}

	if len(st.Runs) > 0 {
		rows = append(rows, "", theme.LabelStyle.Render("Recent runs"))
		for _, run := range st.Runs {
			rows = append(rows, renderRun(run))
		}
	}

	return theme.PanelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// renderRun renders a one-line summary of a sync run.
func renderRun(run model.SyncRun) string {
	var b strings.Builder

	b.WriteString(theme.StatusStyle(string(run.Status)).Render(fmt.Sprintf("%-9s", run.Status)))
	b.WriteString(" ")
	b.WriteString(theme.ModeStyle(string(run.Mode)).Render(fmt.Sprintf("%-4s", run.Mode)))
	fmt.Fprintf(&b, " %s  %d docs in %d batches", run.ConnectorID, run.Documents, run.Batches)

	if run.WindowStart != nil {
		fmt.Fprintf(&b, "  [%s, %s]", formatTime(*run.WindowStart), formatTime(run.WindowEnd))
	}
	if !run.StartedAt.IsZero() {
		fmt.Fprintf(&b, "  %s", theme.HelpStyle.Render(
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String(),
		))
	}
	if run.Error != "" {
		b.WriteString("\n  ")
		b.WriteString(theme.ErrorStyle.Render(run.Error))
	}

	return b.String()
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, theme.LabelStyle.Render(label), value)
}

func renderSuccess(label string) string {
	return theme.StatusStyle("ok").Render("✓ " + label)
}

func renderFailure(label string) string {
	return theme.StatusStyle("error").Render("✗ " + label)
}

func renderHint(msg string) string {
	return theme.HelpStyle.Render(msg)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
