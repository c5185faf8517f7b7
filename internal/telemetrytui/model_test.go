// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package telemetrytui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/equalitie/ouinet-telemetry/internal/metrics"
)

type fakeBackend struct {
	payload metrics.Payload
	device  string
	record  string
}

func (f fakeBackend) Snapshot() (metrics.Payload, string, string) {
	return f.payload, f.device, f.record
}

func TestModel_Update_SnapshotPopulatesState(t *testing.T) {
	backend := fakeBackend{
		payload: metrics.Payload{Interval: "2026:02:1:14"},
		device:  "device-1",
		record:  "device-1_3",
	}
	m := New(backend)

	newModel, _ := m.Update(snapshotMsg{payload: backend.payload, device: backend.device, record: backend.record})
	m = newModel.(Model)

	assert.Equal(t, "device-1", m.DeviceID)
	assert.Equal(t, "device-1_3", m.RecordID)
	assert.Equal(t, "2026:02:1:14", m.Payload.Interval)
}

func TestModel_Update_QuitKey(t *testing.T) {
	m := New(fakeBackend{})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.NotNil(t, cmd)
}

func TestModel_Update_WindowSize(t *testing.T) {
	m := New(fakeBackend{})

	newModel, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = newModel.(Model)

	assert.Equal(t, 120, m.Width)
	assert.Equal(t, 40, m.Height)
}

func TestModel_View_RendersIdentityAndRequests(t *testing.T) {
	backend := fakeBackend{
		payload: metrics.Payload{
			Requests: map[string]metrics.RequestStats{
				"cache-hit": {SuccessCount: 4, FailureCount: 1, Transferred: 2048},
			},
		},
		device: "device-xyz",
		record: "device-xyz_1",
	}
	m := New(backend)
	newModel, _ := m.Update(snapshotMsg{payload: backend.payload, device: backend.device, record: backend.record})
	m = newModel.(Model)

	view := m.View()
	assert.Contains(t, view, "device-xyz")
	assert.Contains(t, view, "cache-hit")
}

func TestRenderRequestLines_EmptyShowsPlaceholder(t *testing.T) {
	lines := renderRequestLines(nil)
	assert.Len(t, lines, 1)
}
