package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	HostCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "host_cpu_percent",
		Help:      "CPU usage of the controller host.",
	})
	HostMemoryUsedPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "host_memory_used_percent",
		Help:      "Memory usage of the controller host.",
	})
	HostLoad1 = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "host_load1",
		Help:      "One minute load average of the controller host.",
	})
)

type HostInfo struct {
	Hostname        string
	Platform        string
	PlatformVersion string
	Cores           int
}

// CollectHostInfo returns static information about the controller host
func CollectHostInfo() (HostInfo, error) {
	info, err := host.Info()
	if err != nil {
		return HostInfo{}, fmt.Errorf("failed to get host info: %w", err)
	}
	cores, err := cpu.Counts(true)
	if err != nil {
		return HostInfo{}, fmt.Errorf("failed to get cpu count: %w", err)
	}
	return HostInfo{
		Hostname:        info.Hostname,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		Cores:           cores,
	}, nil
}

// ObserveHost refreshes the controller host gauges
func ObserveHost() error {
	usage, err := cpu.Percent(0, false)
	if err != nil {
		return fmt.Errorf("failed to get cpu usage: %w", err)
	}
	if len(usage) > 0 {
		HostCPUPercent.Set(usage[0])
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return fmt.Errorf("failed to get memory info: %w", err)
	}
	HostMemoryUsedPercent.Set(vm.UsedPercent)

	avg, err := load.Avg()
	if err != nil {
		return fmt.Errorf("failed to get load average: %w", err)
	}
	HostLoad1.Set(avg.Load1)
	return nil
}
