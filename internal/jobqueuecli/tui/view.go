package tui

import (
	"fmt"
	"strings"
	"time"
)

// View implements tea.Model.
func (m *Model) View() string {
	if m.Quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.renderJobTable())
	b.WriteString("\n")
	b.WriteString(m.renderConsumers())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m *Model) renderHeader() string {
	conn := "connecting"
	if m.Connected {
		conn = "connected"
	}
	elapsed := time.Since(m.StartTime).Round(time.Second)
	return fmt.Sprintf("%s  %s  %s",
		m.Styles.Title.Render(fmt.Sprintf("jobqueue watch [%s]", m.EnvName)),
		m.Styles.Header.Render(conn),
		m.Styles.Header.Render(elapsed.String()),
	)
}

func (m *Model) renderJobTable() string {
	if len(m.Jobs) == 0 {
		return m.Styles.StatusOther.Render("no jobs")
	}

	var b strings.Builder
	b.WriteString(m.Styles.Header.Render(fmt.Sprintf("%-4s %-26s %-10s %-9s %-8s", "", "NAME", "QUEUE", "STATUS", "PRIORITY")))
	b.WriteString("\n")
	for _, j := range m.Jobs {
		style := m.Styles.StatusOther
		switch j.Status {
		case "queued":
			style = m.Styles.StatusQueued
		case "running":
			style = m.Styles.StatusRunning
		case "done":
			style = m.Styles.StatusDone
		case "failed", "error":
			style = m.Styles.StatusFailed
		}
		line := fmt.Sprintf("%-4s %-26s %-10s %-9s %-8s", IconForStatus(j.Status), truncate(j.Name, 26), j.Queue, j.Status, j.Priority)
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Model) renderConsumers() string {
	if len(m.Consumers) == 0 {
		return ""
	}
	var parts []string
	for _, c := range m.Consumers {
		style := m.Styles.ConsumerDown
		state := "down"
		if c.Running {
			style = m.Styles.ConsumerUp
			state = fmt.Sprintf("up (pid %d)", c.PID)
		}
		parts = append(parts, style.Render(fmt.Sprintf("%s: %s", c.Queue, state)))
	}
	return strings.Join(parts, "   ")
}

func (m *Model) renderFooter() string {
	return m.Styles.Footer.Render("q: quit")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
