package daqkit

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"
)

// SystemInfo is a point-in-time host telemetry report for the dashboard.
type SystemInfo struct {
	CpuUsePercent float64 `json:"cpu_use"`
	CpuTempC      float64 `json:"cpu_temp"`

	Ram struct {
		Total string `json:"total"`
		Used  string `json:"used"`
		Free  string `json:"free"`
	} `json:"ram"`

	Disk struct {
		Total       string  `json:"total"`
		Used        string  `json:"used"`
		Free        string  `json:"free"`
		UsedPercent float64 `json:"percent"`
	} `json:"disk"`
}

// ReadSystemInfo collects CPU, memory and root-disk usage of the host.
// CPU temperature is best effort: not every platform exposes a sensor.
func ReadSystemInfo() (info SystemInfo, err error) {
	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		return info, errors.Wrap(err, "failed to read cpu usage")
	}
	if len(cpuPercents) > 0 {
		info.CpuUsePercent = cpuPercents[0]
	}

	virtualMem, err := mem.VirtualMemory()
	if err != nil {
		return info, errors.Wrap(err, "failed to read memory usage")
	}
	info.Ram.Total = formatBytes(virtualMem.Total)
	info.Ram.Used = formatBytes(virtualMem.Used)
	info.Ram.Free = formatBytes(virtualMem.Available)

	diskUsage, err := disk.Usage("/")
	if err != nil {
		return info, errors.Wrap(err, "failed to read disk usage")
	}
	info.Disk.Total = formatBytes(diskUsage.Total)
	info.Disk.Used = formatBytes(diskUsage.Used)
	info.Disk.Free = formatBytes(diskUsage.Free)
	info.Disk.UsedPercent = diskUsage.UsedPercent

	temps, tempErr := host.SensorsTemperatures()
	if tempErr == nil {
		for _, sensor := range temps {
			if strings.Contains(strings.ToLower(sensor.SensorKey), "cpu") {
				info.CpuTempC = sensor.Temperature
				break
			}
		}
	}

	return info, nil
}

func formatBytes(b uint64) string {
	const gb = 1024 * 1024 * 1024
	const mb = 1024 * 1024

	if b >= gb {
		return fmt.Sprintf("%.1fGB", float64(b)/gb)
	}
	return fmt.Sprintf("%.0fMB", float64(b)/mb)
}
