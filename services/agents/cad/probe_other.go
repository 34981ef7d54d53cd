//go:build !windows

package cad

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// procProber reads the Linux /proc tree. There is no foreground or idle
// signal outside a desktop session, so both stay zero.
type procProber struct {
	root    string
	targets []string
	cpu     *cpuWindow

	prevIdle, prevTotal uint64
}

// NewProber returns the probe for this OS.
func NewProber(cfg Config) Prober {
	return &procProber{root: "/proc", targets: cfg.TargetApps, cpu: newCPUWindow(10)}
}

func (p *procProber) Snapshot(ctx context.Context) (Snapshot, error) {
	procs, err := p.processes(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := matchApps(procs, p.targets, 0)
	snap.OSVersion = p.osVersion()

	if idle, total, err := p.cpuTimes(); err == nil {
		if p.prevTotal != 0 {
			snap.CPU5m = p.cpu.add(busyPercent(p.prevIdle, p.prevTotal, idle, total))
		}
		p.prevIdle, p.prevTotal = idle, total
	}
	return snap, nil
}

func (p *procProber) processes(ctx context.Context) ([]process, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil, fmt.Errorf("read process table: %w", err)
	}
	var out []process
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		pid, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil || !e.IsDir() {
			continue
		}
		comm, err := os.ReadFile(filepath.Join(p.root, e.Name(), "comm"))
		if err != nil {
			continue
		}
		out = append(out, process{PID: uint32(pid), Name: strings.TrimSpace(string(comm))})
	}
	return out, nil
}

// cpuTimes returns cumulative idle and total jiffies from the aggregate cpu line.
func (p *procProber) cpuTimes() (idle, total uint64, err error) {
	f, err := os.Open(filepath.Join(p.root, "stat"))
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		for i, v := range fields[1:] {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return 0, 0, err
			}
			total += n
			// idle and iowait
			if i == 3 || i == 4 {
				idle += n
			}
		}
		return idle, total, nil
	}
	if err := sc.Err(); err != nil {
		return 0, 0, err
	}
	return 0, 0, fmt.Errorf("no cpu line in %s/stat", p.root)
}

func (p *procProber) osVersion() string {
	data, err := os.ReadFile(filepath.Join(p.root, "sys/kernel/osrelease"))
	if err != nil {
		return ""
	}
	return "Linux " + strings.TrimSpace(string(data))
}
