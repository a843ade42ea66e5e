package helpers

import (
	"bufio"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"

	"flow-observer/src/logger"
)

const fallbackMemoryLimitMB = 512

// MemoryReport is the process memory view exposed by the health endpoint.
type MemoryReport struct {
	SystemTotalMB int    `json:"system_total_mb"`
	SoftLimitMB   int    `json:"soft_limit_mb"`
	HeapAllocMB   uint64 `json:"heap_alloc_mb"`
	Goroutines    int    `json:"goroutines"`
}

// -----------------------------------------------------------------------------

// GetTotalSystemMemoryMB returns the total physical memory in MB, or 0 when
// /proc/meminfo is unavailable.
func GetTotalSystemMemoryMB() int {
	file, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == "MemTotal:" {
			kb, err := strconv.Atoi(fields[1])
			if err == nil {
				return kb / 1024
			}
		}
	}
	return 0
}

// -----------------------------------------------------------------------------

// GetRecommendedMemoryLimit returns 75% of system memory, never below 512MB
// unless the machine itself is smaller.
func GetRecommendedMemoryLimit(totalMB int) int {
	if totalMB == 0 {
		return fallbackMemoryLimitMB
	}

	limit := int(float64(totalMB) * 0.75)
	if limit < fallbackMemoryLimitMB {
		if totalMB < fallbackMemoryLimitMB {
			return totalMB
		}
		return fallbackMemoryLimitMB
	}
	return limit
}

// -----------------------------------------------------------------------------

// ApplyMemoryLimit installs the recommended soft limit on the Go runtime.
func ApplyMemoryLimit(log *logger.Logger) int {
	total := GetTotalSystemMemoryMB()
	limit := GetRecommendedMemoryLimit(total)
	debug.SetMemoryLimit(int64(limit) << 20)
	if log != nil {
		log.Info("Memory soft limit set to %dMB (system total %dMB)", limit, total)
	}
	return limit
}

// -----------------------------------------------------------------------------

// CurrentMemoryReport samples runtime memory statistics.
func CurrentMemoryReport() MemoryReport {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	limit := debug.SetMemoryLimit(-1)
	return MemoryReport{
		SystemTotalMB: GetTotalSystemMemoryMB(),
		SoftLimitMB:   int(limit >> 20),
		HeapAllocMB:   ms.HeapAlloc >> 20,
		Goroutines:    runtime.NumGoroutine(),
	}
}
