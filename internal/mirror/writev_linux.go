//go:build linux

package mirror

import (
	"os"

	"golang.org/x/sys/unix"
)

// writevAll writes bufs to f in one scatter-gather syscall, matching the
// original's use of writev(2) in MirrorTransform::flushCache.
func writevAll(f *os.File, bufs [][]byte) error {
	if len(bufs) == 0 {
		return nil
	}

	iovs := make([][]byte, len(bufs))
	copy(iovs, bufs)

	for len(iovs) > 0 {
		n, err := unix.Writev(int(f.Fd()), iovs)
		if err != nil {
			return err
		}
		iovs = advance(iovs, n)
	}
	return nil
}

// advance drops the first n written bytes from the front of iovs, handling
// a short writev that only fully consumed some buffers.
func advance(iovs [][]byte, n int) [][]byte {
	for n > 0 && len(iovs) > 0 {
		if n < len(iovs[0]) {
			iovs[0] = iovs[0][n:]
			return iovs
		}
		n -= len(iovs[0])
		iovs = iovs[1:]
	}
	return iovs
}
