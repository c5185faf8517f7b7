// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package telemetrytui is a read-only bubbletea dashboard over a
// running telemetry client: it polls the in-memory payload on a timer
// and renders the current bootstrap, request, and bridge-traffic
// tallies without touching upload or persistence state.
package telemetrytui

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/equalitie/ouinet-telemetry/internal/metrics"
)

// Backend is the read-only view a Model polls. *telemetry.Client
// satisfies this directly.
type Backend interface {
	Snapshot() (payload metrics.Payload, deviceID string, recordID string)
}

type tickMsg time.Time

// Model is the dashboard's bubbletea state.
type Model struct {
	Backend     Backend
	Payload     metrics.Payload
	DeviceID    string
	RecordID    string
	LastUpdated time.Time
	Width       int
	Height      int

	bootstrapProgress progress.Model
}

// New builds a Model polling backend.
func New(backend Backend) Model {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	bar.Width = 20
	return Model{
		Backend:           backend,
		bootstrapProgress: bar,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		payload, device, record := m.Backend.Snapshot()
		return snapshotMsg{payload: payload, device: device, record: record}
	}
}

type snapshotMsg struct {
	payload metrics.Payload
	device  string
	record  string
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.Payload = msg.payload
		m.DeviceID = msg.device
		m.RecordID = msg.record
		m.LastUpdated = time.Now()
	case tickMsg:
		return m, tea.Batch(m.refresh(), m.tick())
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.bootstrapProgress.Width = 20
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Model) View() string {
	identityBlock := StyleCard.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			StyleTitle.Render("Identity"),
			fmt.Sprintf("device: %s", m.DeviceID),
			fmt.Sprintf("record: %s", m.RecordID),
			StyleSubtitle.Render(fmt.Sprintf("interval: %s", m.Payload.Interval)),
		),
	)

	bridgeBlock := StyleCard.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			StyleTitle.Render("Bridge Traffic"),
			fmt.Sprintf("i2c: %d bytes", m.Payload.BridgeI2C),
			fmt.Sprintf("c2i: %d bytes", m.Payload.BridgeC2I),
		),
	)

	bootstrapBlock := StyleCard.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			StyleTitle.Render("Bootstraps"),
			renderBootstrapLine("v4", m.Payload.Bootstraps.V4, m.bootstrapProgress),
			renderBootstrapLine("v6", m.Payload.Bootstraps.V6, m.bootstrapProgress),
		),
	)

	topRow := lipgloss.JoinHorizontal(lipgloss.Top, identityBlock, bridgeBlock, bootstrapBlock)

	requestsBlock := StyleCard.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			append([]string{StyleTitle.Render("Requests")}, renderRequestLines(m.Payload.Requests)...)...,
		),
	)

	footer := StyleSubtitle.Render(fmt.Sprintf("last polled: %s  [q] quit", m.LastUpdated.Format("15:04:05")))

	return StyleApp.Render(lipgloss.JoinVertical(lipgloss.Left, topRow, requestsBlock, footer))
}

func renderBootstrapLine(label string, s metrics.BootstrapSummary, bar progress.Model) string {
	finished := 0
	for _, n := range s.Histogram {
		finished += int(n)
	}
	total := finished + s.Unfinished
	ratio := 0.0
	if total > 0 {
		ratio = float64(finished) / float64(total)
	}
	return fmt.Sprintf("%s: %d active, %d finished (%d-%dms)\n%s",
		label, s.Unfinished, finished, s.MinMs, s.MaxMs, bar.ViewAs(ratio))
}

func renderRequestLines(requests map[string]metrics.RequestStats) []string {
	if len(requests) == 0 {
		return []string{StyleSubtitle.Render("no requests recorded yet")}
	}

	types := make([]string, 0, len(requests))
	for t := range requests {
		types = append(types, t)
	}
	sort.Strings(types)

	lines := make([]string, 0, len(types))
	for _, t := range types {
		stats := requests[t]
		lines = append(lines, fmt.Sprintf("%-12s ok=%d fail=%d bytes=%d", t, stats.SuccessCount, stats.FailureCount, stats.Transferred))
	}
	return lines
}
