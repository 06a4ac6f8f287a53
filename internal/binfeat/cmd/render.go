package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss/v2"

	"binfeat/internal/batch"
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// renderSummary formats a run summary for the terminal. One line per
// binary, failures last so they are visible without scrolling back.
func renderSummary(s *batch.Summary) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("binfeat run "+s.RunID) + "\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("engine=%s input=%s elapsed=%.1fs", s.Engine, s.InputDir, s.ElapsedSeconds)) + "\n\n")

	var failed []batch.BinaryResult
	for _, r := range s.Results {
		if r.Error != "" {
			failed = append(failed, r)
			continue
		}
		note := ""
		if r.Cached {
			note = dimStyle.Render(" (cached)")
		}
		line := fmt.Sprintf("  %s %-32s %4d funcs  %4d errors  %5dms%s",
			okStyle.Render("ok"), r.Binary, r.Functions, r.FunctionErrors, r.DurationMS, note)
		b.WriteString(line + "\n")
	}
	for _, r := range failed {
		b.WriteString(fmt.Sprintf("  %s %-32s %s\n", failStyle.Render("!!"), r.Binary, r.Error))
	}

	b.WriteString("\n")
	counts := fmt.Sprintf("%d binaries: %s ok, %s failed; %d functions (%d with errors)",
		s.BinariesTotal,
		okStyle.Render(fmt.Sprintf("%d", s.BinariesOK)),
		failStyle.Render(fmt.Sprintf("%d", s.BinariesFailed)),
		s.FunctionsTotal, s.FunctionErrors)
	b.WriteString(counts)
	return b.String()
}
