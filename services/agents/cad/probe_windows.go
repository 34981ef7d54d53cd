//go:build windows

package cad

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procGetLastInputInfo = user32.NewProc("GetLastInputInfo")
	procGetTickCount     = kernel32.NewProc("GetTickCount")
	procGetSystemTimes   = kernel32.NewProc("GetSystemTimes")
)

type lastInputInfo struct {
	cbSize uint32
	dwTime uint32
}

// winProber reads the process table through Toolhelp32 and the session's
// foreground window and last-input tick through user32.
type winProber struct {
	targets []string
	cpu     *cpuWindow

	prevIdle, prevTotal uint64
}

// NewProber returns the probe for this OS.
func NewProber(cfg Config) Prober {
	return &winProber{targets: cfg.TargetApps, cpu: newCPUWindow(10)}
}

func (p *winProber) Snapshot(ctx context.Context) (Snapshot, error) {
	procs, err := processes(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := matchApps(procs, p.targets, foregroundPID())
	snap.IdleMinutes = idleMinutes()
	snap.OSVersion = osVersion()

	if idle, total, err := systemTimes(); err == nil {
		if p.prevTotal != 0 {
			snap.CPU5m = p.cpu.add(busyPercent(p.prevIdle, p.prevTotal, idle, total))
		}
		p.prevIdle, p.prevTotal = idle, total
	}
	return snap, nil
}

func processes(ctx context.Context) ([]process, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("snapshot process table: %w", err)
	}
	defer windows.CloseHandle(snapshot)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snapshot, &entry); err != nil {
		return nil, fmt.Errorf("first process: %w", err)
	}

	var out []process
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		out = append(out, process{PID: entry.ProcessID, Name: windows.UTF16ToString(entry.ExeFile[:])})
		if err := windows.Process32Next(snapshot, &entry); err != nil {
			if err == windows.ERROR_NO_MORE_FILES {
				return out, nil
			}
			return nil, fmt.Errorf("next process: %w", err)
		}
	}
}

func foregroundPID() uint32 {
	hwnd := windows.GetForegroundWindow()
	if hwnd == 0 {
		return 0
	}
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil {
		return 0
	}
	return pid
}

func idleMinutes() float64 {
	info := lastInputInfo{cbSize: uint32(unsafe.Sizeof(lastInputInfo{}))}
	if ok, _, _ := procGetLastInputInfo.Call(uintptr(unsafe.Pointer(&info))); ok == 0 {
		return 0
	}
	now, _, _ := procGetTickCount.Call()
	// both are 32-bit millisecond ticks; unsigned subtraction handles wraparound
	millis := uint32(now) - info.dwTime
	return float64(millis) / 60000
}

func systemTimes() (idle, total uint64, err error) {
	var idleFT, kernelFT, userFT windows.Filetime
	ok, _, callErr := procGetSystemTimes.Call(
		uintptr(unsafe.Pointer(&idleFT)),
		uintptr(unsafe.Pointer(&kernelFT)),
		uintptr(unsafe.Pointer(&userFT)),
	)
	if ok == 0 {
		return 0, 0, fmt.Errorf("GetSystemTimes: %w", callErr)
	}
	ft := func(f windows.Filetime) uint64 { return uint64(f.HighDateTime)<<32 | uint64(f.LowDateTime) }
	// kernel time includes idle time
	return ft(idleFT), ft(kernelFT) + ft(userFT), nil
}

func osVersion() string {
	v := windows.RtlGetVersion()
	return fmt.Sprintf("Windows %d.%d.%d", v.MajorVersion, v.MinorVersion, v.BuildNumber)
}
