//go:build !(linux || darwin || freebsd)

package file

// CheckDiskSpace is a no-op where statfs is unavailable.
func CheckDiskSpace(dir string, required int64, margin float64) error {
	return nil
}
