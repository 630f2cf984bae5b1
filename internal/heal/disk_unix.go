//go:build darwin || linux

package heal

import "syscall"

// diskFreeBytes reports free bytes on the filesystem containing path
// (spec.md section 4.11: "disk/memory thresholds"). Grounded on
// internal/platform's GOOS-gated build-tag convention, generalized from
// a simple OS-name switch to a syscall.Statfs call.
func diskFreeBytes(path string) (int64, bool) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, false
	}
	return int64(stat.Bavail) * int64(stat.Bsize), true
}
