//go:build !unix

package lock

import "os"

// Without flock the lock file only records the holder; exclusion is not enforced.
func flock(fh *os.File) error { return nil }

func funlock(fh *os.File) error { return nil }
