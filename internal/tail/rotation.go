package tail

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/zzyongx/tail2kafka-sub000/internal/fileid"
	"github.com/zzyongx/tail2kafka-sub000/internal/spec"
)

// RotationCheck reports whether the file at path appears to have been
// rotated out from under an at-EOF reader: the path's current inode differs
// from ident, or the path is gone entirely. Ported from
// original_source/src/filereader.cc's tryReinit (the `ctx_->datafile() !=
// ctx_->file()` case, generalised: this module does not resolve
// FileWithTimeFormat placeholders itself, so the caller passes both the
// reader's identity and the path's current stat).
func RotationCheck(path string, ident fileid.Identity) (rotated bool, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("tail: stat %s: %w", path, err)
	}
	return !fileid.SameFile(ident, fi), nil
}

// Rotate opens a successor Reader on path at the start, to replace r once
// its read loop has exited having detected rotation (r.HasRotated() is
// true; Run already emitted r's END event and closed its file). This is the
// Go shape of tryReinit's close-old/open-new pair; the caller is
// responsible for wiring the successor's Lines()/Events() channels into
// whatever was consuming r's.
func Rotate(r *Reader, path string, store OffsetLookup, flow FlowControl, log *zap.Logger) (*Reader, error) {
	// A rotated-in file always restarts from its beginning: START/END start
	// policies only apply to the very first open of a tail2kafka process.
	successorSpec := r.spec
	successorSpec.File = path
	successorSpec.StartPos = spec.Start

	successor, err := Open(successorSpec, store, flow, log)
	if err != nil {
		return nil, fmt.Errorf("tail: reopen after rotation %s: %w", path, err)
	}
	return successor, nil
}
