package cad

import (
	"context"
	"path/filepath"
	"strings"
	"unicode"
)

// Snapshot is one reading of the workstation.
type Snapshot struct {
	AppRunning    bool
	AppForeground bool
	AppVersion    string
	IdleMinutes   float64
	CPU5m         float64
	OSVersion     string
}

// Prober reads a Snapshot. Implementations are stateless apart from CPU sampling.
type Prober interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// process is the slice of a process table row the probes inspect.
type process struct {
	PID  uint32
	Name string
}

// matchApps scans procs for target executables and infers the app version
// from the first digit in the matching name, e.g. "rhino8.exe" gives "8".
func matchApps(procs []process, targets []string, foregroundPID uint32) Snapshot {
	want := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		want[strings.ToLower(t)] = struct{}{}
	}

	var snap Snapshot
	for _, p := range procs {
		name := strings.ToLower(filepath.Base(p.Name))
		if _, ok := want[name]; !ok {
			continue
		}
		snap.AppRunning = true
		if foregroundPID != 0 && p.PID == foregroundPID {
			snap.AppForeground = true
		}
		if v := versionFromName(name); v != "" && snap.AppVersion == "" {
			snap.AppVersion = v
		}
	}
	if snap.AppRunning && snap.AppVersion == "" {
		snap.AppVersion = "unknown"
	}
	return snap
}

func versionFromName(name string) string {
	for _, r := range name {
		if unicode.IsDigit(r) {
			return string(r)
		}
	}
	return ""
}

// cpuWindow averages busy percentages over the last n samples. At the default
// 30s interval ten samples span five minutes.
type cpuWindow struct {
	samples []float64
	size    int
}

func newCPUWindow(size int) *cpuWindow {
	return &cpuWindow{size: size}
}

func (w *cpuWindow) add(v float64) float64 {
	w.samples = append(w.samples, v)
	if len(w.samples) > w.size {
		w.samples = w.samples[len(w.samples)-w.size:]
	}
	var sum float64
	for _, s := range w.samples {
		sum += s
	}
	return sum / float64(len(w.samples))
}

// busyPercent converts two cumulative (idle, total) readings into a percentage.
func busyPercent(prevIdle, prevTotal, idle, total uint64) float64 {
	if total <= prevTotal {
		return 0
	}
	dt := float64(total - prevTotal)
	di := float64(idle - prevIdle)
	if idle < prevIdle {
		di = 0
	}
	return (dt - di) / dt * 100
}
