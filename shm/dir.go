package shm

import (
	"os"
	"path/filepath"
)

// DefaultDir returns the directory FileStore uses when none is configured:
// /dev/shm/semian where a tmpfs is mounted at /dev/shm, otherwise a
// "semian" directory under os.TempDir. Both are cleared when the host
// reboots, which is the lifetime the state is meant to have.
func DefaultDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return filepath.Join("/dev/shm", "semian")
	}
	return filepath.Join(os.TempDir(), "semian")
}
