// Package sysinfo collects a device snapshot for the status surface
// and backend heartbeats. The agent runs on anything from a phone under
// Termux to a rack server, so every probe is best-effort.
package sysinfo

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot describes the device at a point in time.
type Snapshot struct {
	Hostname      string    `json:"hostname"`
	OS            string    `json:"os"`
	Platform      string    `json:"platform"`
	KernelArch    string    `json:"kernelArch"`
	UptimeSeconds uint64    `json:"uptimeSeconds"`
	CPUModel      string    `json:"cpuModel"`
	CPUCores      int       `json:"cpuCores"`
	Load1         float64   `json:"load1"`
	MemTotalMB    uint64    `json:"memTotalMb"`
	MemUsedMB     uint64    `json:"memUsedMb"`
	CollectedAt   time.Time `json:"collectedAt"`
}

// Collect gathers the snapshot. Individual probe failures leave their
// fields zeroed; only a total host-info failure is returned as error.
func Collect() (*Snapshot, error) {
	info, err := host.Info()
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Hostname:      info.Hostname,
		OS:            info.OS,
		Platform:      info.Platform,
		KernelArch:    info.KernelArch,
		UptimeSeconds: info.Uptime,
		CollectedAt:   time.Now(),
	}

	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		snap.CPUModel = cpus[0].ModelName
		snap.CPUCores = len(cpus)
	}
	if avg, err := load.Avg(); err == nil {
		snap.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemTotalMB = vm.Total / 1024 / 1024
		snap.MemUsedMB = vm.Used / 1024 / 1024
	}
	return snap, nil
}
