//go:build linux || darwin || freebsd

package file

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CheckDiskSpace returns an error when dir has less free space than required
// bytes plus margin (a fraction of required).
func CheckDiskSpace(dir string, required int64, margin float64) error {
	if required <= 0 {
		return nil
	}
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return fmt.Errorf("statfs %s: %w", dir, err)
	}

	available := uint64(st.Bavail) * uint64(st.Bsize)
	needed := uint64(float64(required) * (1 + margin))
	if available < needed {
		return fmt.Errorf("insufficient disk space in %s: need %d bytes, have %d", dir, needed, available)
	}
	return nil
}
