package cad

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchApps(t *testing.T) {
	procs := []process{
		{PID: 4, Name: "System"},
		{PID: 900, Name: "explorer.exe"},
		{PID: 1200, Name: "Rhino8.exe"},
	}

	snap := matchApps(procs, DefaultTargetApps, 1200)
	assert.True(t, snap.AppRunning)
	assert.True(t, snap.AppForeground)
	assert.Equal(t, "8", snap.AppVersion)

	snap = matchApps(procs, DefaultTargetApps, 900)
	assert.True(t, snap.AppRunning)
	assert.False(t, snap.AppForeground)

	snap = matchApps([]process{{PID: 1, Name: "rhino"}}, DefaultTargetApps, 0)
	assert.Equal(t, "unknown", snap.AppVersion)

	snap = matchApps(procs[:2], DefaultTargetApps, 900)
	assert.Equal(t, Snapshot{}, snap)
}

func TestCPUWindow(t *testing.T) {
	w := newCPUWindow(2)
	assert.Equal(t, 10.0, w.add(10))
	assert.Equal(t, 20.0, w.add(30))
	assert.Equal(t, 40.0, w.add(50))
}

func TestBusyPercent(t *testing.T) {
	assert.Equal(t, 75.0, busyPercent(100, 1000, 125, 1100))
	assert.Equal(t, 0.0, busyPercent(0, 1000, 0, 1000))
}
