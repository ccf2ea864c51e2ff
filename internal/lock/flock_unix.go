//go:build unix

package lock

import (
	"os"

	"golang.org/x/sys/unix"
)

func flock(fh *os.File) error {
	return unix.Flock(int(fh.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func funlock(fh *os.File) error {
	return unix.Flock(int(fh.Fd()), unix.LOCK_UN)
}
