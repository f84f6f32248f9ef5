package helpers

import (
	"os"
	"runtime/debug"
)

const minMemoryLimit = 512 << 20

// recommendedMemoryLimit returns percent of total, but never less than 512MB
// unless the machine itself has less. Zero total means unknown.
func recommendedMemoryLimit(total uint64, percent int) int64 {
	if total == 0 {
		return minMemoryLimit
	}
	limit := int64(total * uint64(percent) / 100)
	if limit < minMemoryLimit {
		if total < minMemoryLimit {
			return int64(total)
		}
		return minMemoryLimit
	}
	return limit
}

// ApplyMemoryLimit sets the runtime soft memory limit to percent of the
// machine (or cgroup) memory and returns it in bytes. An explicit GOMEMLIMIT
// wins; then 0 is returned.
func ApplyMemoryLimit(percent int) int64 {
	if os.Getenv("GOMEMLIMIT") != "" || percent <= 0 {
		return 0
	}
	limit := recommendedMemoryLimit(totalMemoryBytes(), percent)
	debug.SetMemoryLimit(limit)
	return limit
}
