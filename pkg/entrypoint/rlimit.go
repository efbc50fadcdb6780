//go:build !windows

package entrypoint

import "syscall"

// ClampMaxConnections returns min(requested, 80% of the process's soft
// RLIMIT_NOFILE): every connection needs at least one file descriptor, so
// admitting more sessions than the descriptor budget allows just produces
// accept-time failures further down instead of a clean refusal here.
func ClampMaxConnections(requested int) int {
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return requested
	}

	supported := int(float64(limit.Cur) * 0.8)
	if supported < requested {
		return supported
	}
	return requested
}
