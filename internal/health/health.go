// Package health implements the admin-facing health endpoint: process
// resource stats plus a handful of service-level gauges, collected the way
// the teacher's system.Collector gathers CPU/memory/disk stats.
package health

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// CPUStats mirrors the teacher's CPUStats shape.
type CPUStats struct {
	UsagePercent float64 `json:"usage_percent"`
	Cores        int     `json:"cores"`
}

// MemoryStats mirrors the teacher's MemoryStats shape.
type MemoryStats struct {
	Total        uint64  `json:"total_bytes"`
	Used         uint64  `json:"used_bytes"`
	Free         uint64  `json:"free_bytes"`
	Available    uint64  `json:"available_bytes"`
	UsagePercent float64 `json:"usage_percent"`
}

// DiskStats mirrors the teacher's DiskStats shape.
type DiskStats struct {
	Total        uint64  `json:"total_bytes"`
	Used         uint64  `json:"used_bytes"`
	Free         uint64  `json:"free_bytes"`
	UsagePercent float64 `json:"usage_percent"`
	Path         string  `json:"path"`
}

// ServiceStats are gauges specific to the proxy rather than the host.
type ServiceStats struct {
	SitesLoaded     int           `json:"sites_loaded"`
	RateLimiterKeys int           `json:"rate_limiter_keys"`
	Uptime          time.Duration `json:"uptime_ns"`
	RegistryReady   bool          `json:"registry_ready"`
}

// Report is the full payload served at the admin health route.
type Report struct {
	Status    string       `json:"status"`
	CPU       CPUStats     `json:"cpu"`
	Memory    MemoryStats  `json:"memory"`
	Disk      DiskStats    `json:"disk"`
	Service   ServiceStats `json:"service"`
	Timestamp time.Time    `json:"timestamp"`
}

// ServiceGauges is satisfied by the collaborators Collector reports on.
type ServiceGauges interface {
	SiteCount() int
	RateLimiterKeys() int
	Ready() bool
}

// Collector gathers a Report on demand.
type Collector struct {
	gauges    ServiceGauges
	startedAt time.Time
	diskPath  string
}

// NewCollector builds a Collector that reports uptime relative to startedAt
// and disk usage for diskPath (normally "/").
func NewCollector(gauges ServiceGauges, startedAt time.Time, diskPath string) *Collector {
	return &Collector{gauges: gauges, startedAt: startedAt, diskPath: diskPath}
}

// Collect gathers CPU, memory and disk stats concurrently, the same
// fan-out-then-join shape as the teacher's GetSystemStats, then reads the
// service gauges once the join completes.
func (c *Collector) Collect() Report {
	var cpuStats CPUStats
	var memStats MemoryStats
	var diskStats DiskStats

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		cpuStats = collectCPU()
	}()
	go func() {
		defer wg.Done()
		memStats = collectMemory()
	}()
	go func() {
		defer wg.Done()
		diskStats = collectDisk(c.diskPath)
	}()

	wg.Wait()

	status := "ok"
	if !c.gauges.Ready() {
		status = "starting"
	}

	return Report{
		Status: status,
		CPU:    cpuStats,
		Memory: memStats,
		Disk:   diskStats,
		Service: ServiceStats{
			SitesLoaded:     c.gauges.SiteCount(),
			RateLimiterKeys: c.gauges.RateLimiterKeys(),
			Uptime:          time.Since(c.startedAt),
			RegistryReady:   c.gauges.Ready(),
		},
		Timestamp: time.Now(),
	}
}

func collectCPU() CPUStats {
	cores, err := cpu.Counts(true)
	if err != nil {
		cores = 1
	}
	percentages, err := cpu.Percent(0, false)
	if err != nil || len(percentages) == 0 {
		return CPUStats{Cores: cores}
	}
	return CPUStats{UsagePercent: percentages[0], Cores: cores}
}

func collectMemory() MemoryStats {
	vmStat, err := mem.VirtualMemory()
	if err != nil {
		return MemoryStats{}
	}
	return MemoryStats{
		Total:        vmStat.Total,
		Used:         vmStat.Used,
		Free:         vmStat.Free,
		Available:    vmStat.Available,
		UsagePercent: vmStat.UsedPercent,
	}
}

func collectDisk(path string) DiskStats {
	usage, err := disk.Usage(path)
	if err != nil {
		return DiskStats{Path: path}
	}
	return DiskStats{
		Total:        usage.Total,
		Used:         usage.Used,
		Free:         usage.Free,
		UsagePercent: usage.UsedPercent,
		Path:         path,
	}
}
