package diag

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

const lowResourceBytes = 2 << 30 // 2 GB for both disk and memory

// recommendedRuntimes are the Go release lines the suite is exercised on.
var recommendedRuntimes = []string{"go1.24", "go1.25"}

// resourceHints inspects disk space at the vector path, available memory,
// and the host runtime. Metrics that cannot be read are skipped silently;
// absence of a warning must never itself cause one.
func resourceHints(vectorPath string) (warnings, hints []string) {
	if usage, err := disk.Usage(vectorPath); err == nil {
		hints = append(hints, fmt.Sprintf("disk_free_gb=%.1f", float64(usage.Free)/(1<<30)))
		if usage.Free < lowResourceBytes {
			warnings = append(warnings, fmt.Sprintf(
				"less than 2 GB free at %s; the vector index may stop growing", vectorPath))
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		hints = append(hints, fmt.Sprintf("ram_free_gb=%.1f", float64(vm.Available)/(1<<30)))
		if vm.Available < lowResourceBytes {
			warnings = append(warnings, "less than 2 GB of memory available; local models may be evicted")
		}
	}

	version := runtime.Version()
	hints = append(hints, "host_runtime="+version)
	if !runtimeRecommended(version) {
		warnings = append(warnings, fmt.Sprintf(
			"host runtime %s is outside the recommended set %v", version, recommendedRuntimes))
	}
	return warnings, hints
}

func runtimeRecommended(version string) bool {
	for _, rec := range recommendedRuntimes {
		if version == rec || strings.HasPrefix(version, rec+".") {
			return true
		}
	}
	return false
}
