//go:build !linux

package mirror

import "os"

// writevAll falls back to sequential writes on platforms without writev(2),
// as noted as an acceptable portable fallback in spec.md's design notes.
func writevAll(f *os.File, bufs [][]byte) error {
	for _, b := range bufs {
		if _, err := f.Write(b); err != nil {
			return err
		}
	}
	return nil
}
