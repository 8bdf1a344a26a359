package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/betbot/stockpilot/internal/domain"
	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Width(18)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#10B981")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	headerCell = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3B82F6"))
)

func row(label string, value any) string {
	return labelStyle.Render(label) + fmt.Sprint(value)
}

// renderSummary 周期汇总
func renderSummary(s domain.CycleSummary) string {
	status := okStyle.Render("COMPLETED")
	if !s.Completed {
		status = errorStyle.Render("ABORTED")
	}
	lines := []string{
		titleStyle.Render("cycle " + s.ID),
		row("status", status),
		row("window", s.Window),
		row("policy", fmt.Sprintf("v%d", s.ThresholdsVersion)),
		row("dry run", s.DryRun),
		row("evaluated", s.Evaluated),
		row("admitted", s.Admitted),
		row("rejected", s.Rejected),
		row("executed", s.Executed),
		row("unexecuted", s.Unexecuted),
		row("skipped (errors)", s.Skipped),
		row("positions", fmt.Sprintf("%d (strong %d / watch %d / dead %d)", s.PositionsChecked, s.Strong, s.Watch, s.DeadMoney)),
		row("alerts", s.Alerts),
	}
	if s.FeedbackRan {
		lines = append(lines, row("feedback", fmt.Sprintf("published v%d, %d forward returns", s.PublishedVersion, s.ForwardReturnsSet)))
	}
	if s.Error != "" {
		lines = append(lines, row("error", errorStyle.Render(s.Error)))
	}
	for _, p := range s.Problems {
		lines = append(lines, warnStyle.Render("! "+p))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// table 带表头的边框表格
func table(header []string, rows [][]string) string {
	cell := lipgloss.NewStyle().Padding(0, 1)
	t := ltable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == ltable.HeaderRow {
				return headerCell.Padding(0, 1)
			}
			return cell
		}).
		Headers(header...).
		Rows(rows...)
	return t.Render()
}

func renderThresholds(versions []domain.PolicyThresholds) string {
	rows := make([][]string, 0, len(versions))
	for _, t := range versions {
		rows = append(rows, []string{
			fmt.Sprintf("v%d", t.Version),
			t.CreatedAt.Format("2006-01-02 15:04"),
			fmt.Sprintf("%.0f/%.2f", t.MinConvergence, t.MinVolumeRatio),
			fmt.Sprintf("%.0f/%.2f", t.Optimal.Convergence, t.Optimal.VolumeRatio),
			fmt.Sprintf("%.0f/%.2f", t.Gold.Convergence, t.Gold.VolumeRatio),
			fmt.Sprint(t.DailyTradeCap),
			t.Comment,
		})
	}
	return table([]string{"VERSION", "CREATED", "FLOOR", "OPTIMAL", "GOLD", "CAP", "COMMENT"}, rows)
}

func renderOutcomes(trades []domain.Trade) string {
	rows := make([][]string, 0, len(trades))
	for _, t := range trades {
		realized := "-"
		if t.RealizedPct != nil {
			realized = fmt.Sprintf("%+.2f%%", *t.RealizedPct)
		}
		rows = append(rows, []string{
			t.CreatedAt.Format("2006-01-02"),
			t.Ticker,
			string(t.Action),
			string(t.Tier),
			t.Shares.String(),
			t.Price.StringFixed(2),
			string(t.Outcome),
			realized,
			forwardCell(t.ForwardReturns),
		})
	}
	return table([]string{"DATE", "TICKER", "ACTION", "TIER", "SHARES", "PRICE", "OUTCOME", "REALIZED", "FORWARD"}, rows)
}

// forwardCell 1d:+1.2 5d:-0.4 ...
func forwardCell(m map[int]float64) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%dd:%+.1f", k, m[k]))
	}
	return strings.Join(parts, " ")
}
