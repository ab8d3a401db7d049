package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	haltStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("196")).Padding(0, 1)
	headStyle  = lipgloss.NewStyle().Bold(true).Underline(true)

	statusStyles = map[string]lipgloss.Style{
		"DEPLOYED":    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"QA_APPROVED": lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"ESCALATED":   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		"PENDING":     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		"RETRY":       lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}

	healthStyles = map[string]lipgloss.Style{
		"healthy": lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"warning": lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"stuck":   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		"stopped": lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		"idle":    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
)

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("tide"))
	b.WriteString(dimStyle.Render("  " + m.snap.Root))
	if m.loading {
		b.WriteString("  " + m.spin.View())
	}
	b.WriteString("\n")

	if m.snap.Halted {
		b.WriteString(haltStyle.Render("KILL SWITCH ENGAGED") + "\n")
	}
	if m.err != nil {
		b.WriteString(errStyle.Render(fmt.Sprintf("error: %v", m.err)) + "\n")
	}
	b.WriteString("\n")

	b.WriteString(headStyle.Render("Waves") + "\n")
	for _, w := range m.snap.Waves {
		st := w.Status
		if style, ok := statusStyles[statusKey(st)]; ok {
			st = style.Render(st)
		}
		line := fmt.Sprintf("  wave %d  %s", w.ID, st)
		if w.Escalation != "" {
			line += errStyle.Render("  [" + w.Escalation + "]")
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")

	b.WriteString(headStyle.Render("Agents") + "\n")
	for _, a := range m.snap.Agents {
		health := a.Health
		if style, ok := healthStyles[health]; ok {
			health = style.Render(health)
		}
		line := fmt.Sprintf("  %-16s %s", a.Name, health)
		if a.HeartbeatAge > 0 {
			line += dimStyle.Render(fmt.Sprintf("  beat %ds ago", a.HeartbeatAge))
		}
		if a.Task != "" {
			line += dimStyle.Render("  " + a.Task)
		}
		b.WriteString(line + "\n")
	}

	if len(m.snap.Events) > 0 {
		b.WriteString("\n" + headStyle.Render("Recent events") + "\n")
		for _, ev := range m.snap.Events {
			line := fmt.Sprintf("  %s  %-18s", ev.At, ev.Type)
			if ev.Agent != "" {
				line += " " + ev.Agent
			}
			if ev.Wave > 0 {
				line += fmt.Sprintf("  wave %d", ev.Wave)
			}
			b.WriteString(dimStyle.Render(line) + "\n")
		}
	}

	b.WriteString("\n" + dimStyle.Render("r refresh  q quit"))
	return b.String()
}

// statusKey maps RETRY_n onto one style bucket.
func statusKey(status string) string {
	if strings.HasPrefix(status, "RETRY_") {
		return "RETRY"
	}
	return status
}
