// Package tail implements the File Reader component (spec.md section 4.2):
// it opens one tailed file, frames complete lines out of the byte stream,
// tracks rotation, and hands framed lines to a Transform Function. Style and
// atomics are ported from the DataDog log agent's file tailer
// (other_examples/...file-tailer.go.go) and from
// original_source/src/filereader.cc's rotation/offset bookkeeping.
package tail

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zzyongx/tail2kafka-sub000/internal/fileid"
	"github.com/zzyongx/tail2kafka-sub000/internal/metrics"
	"github.com/zzyongx/tail2kafka-sub000/internal/spec"
)

// maxLineLen bounds a single buffered line, matching the original's 8 MiB
// MAX_LINE_LEN; a line longer than this is force-flushed without its
// trailing newline to bound memory.
const maxLineLen = 8 * 1024 * 1024

// Line is one complete framed line read from a tailed file.
type Line struct {
	Bytes []byte
	// Pos is the byte offset in the file immediately after this line.
	Pos int64
}

// Event reports a reader lifecycle transition to the caller (spec.md's
// wire-format START/END markers and the ROTATE pingback are driven from
// these).
type Event struct {
	Kind      EventKind
	Time      time.Time
	File      string
	Size      int64
	SendSize  int64
	Lines     int64
	SendLines int64
	MD5       string
}

// EventKind distinguishes the two reader lifecycle events.
type EventKind int

const (
	EventStart EventKind = iota
	EventEnd
)

// Reader tails one open file, framing lines and tracking rotation.
//
// lastReadOffset, isFinished and didFileRotate are accessed atomically so a
// supervisor goroutine can inspect reader state without synchronising with
// the read loop, mirroring the DataDog tailer's atomics.
type Reader struct {
	spec   spec.FileSpec
	ident  fileid.Identity
	log    *zap.Logger
	f      *os.File
	buf    *bytes.Buffer
	digest hash.Hash
	flow   FlowControl

	lastReadOffset int64 // atomic
	isFinished     int32 // atomic
	didFileRotate  int32 // atomic

	lineCount     int64
	sendLineCount int64
	sendByteCount int64

	lines  chan Line
	events chan Event
	stop   chan struct{}
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// Open opens fs.File (creating it first if fs.AutoCreat is set), seeks to
// the start position resolved from store, and returns a Reader ready to run.
// flow may be nil, in which case the reader never suspends framing.
func Open(fs spec.FileSpec, store OffsetLookup, flow FlowControl, log *zap.Logger) (*Reader, error) {
	if log == nil {
		log = zap.NewNop()
	}

	flag := os.O_RDONLY
	if fs.AutoCreat {
		flag |= os.O_CREATE
	}
	f, err := os.OpenFile(fs.File, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tail: open %s: %w", fs.File, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("tail: stat %s: %w", fs.File, err)
	}
	ident, err := fileid.Of(fs.File)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("tail: identity %s: %w", fs.File, err)
	}

	start, err := resolveStartPosition(fs, ident, fi.Size(), store)
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("tail: seek %s: %w", fs.File, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reader{
		spec:           fs,
		ident:          ident,
		log:            log,
		f:              f,
		buf:            bytes.NewBuffer(nil),
		digest:         md5.New(),
		flow:           flow,
		lastReadOffset: start,
		lines:          make(chan Line, 256),
		events:         make(chan Event, 4),
		stop:           make(chan struct{}, 1),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}

	select {
	case r.events <- Event{Kind: EventStart, Time: time.Now(), File: fs.File}:
	default:
	}

	return r, nil
}

// OffsetLookup is the subset of offsetstore.Store a Reader needs to resolve
// its start position.
type OffsetLookup interface {
	GetOff(inode uint64) (int64, bool)
}

// FlowControl is the subset of producer.FlowControl a Reader needs to honour
// back-pressure (spec.md section 4.2): when Blocked reports true, the read
// loop suspends framing instead of buffering unboundedly ahead of a stalled
// Producer.
type FlowControl interface {
	Blocked() bool
}

func resolveStartPosition(fs spec.FileSpec, ident fileid.Identity, fileSize int64, store OffsetLookup) (int64, error) {
	switch fs.StartPos {
	case spec.Start:
		return 0, nil
	case spec.End:
		return fileSize, nil
	case spec.LogStart:
		if off, ok := store.GetOff(ident.Inode); ok && off <= fileSize {
			return off, nil
		}
		return 0, nil
	case spec.LogEnd:
		if off, ok := store.GetOff(ident.Inode); ok && off <= fileSize {
			return off, nil
		}
		return fileSize, nil
	default:
		return 0, fmt.Errorf("tail: unknown start position %v", fs.StartPos)
	}
}

// Identity returns the reader's (inode, path) identity.
func (r *Reader) Identity() fileid.Identity { return r.ident }

// Lines returns the channel framed lines are delivered on.
func (r *Reader) Lines() <-chan Line { return r.lines }

// Events returns the channel lifecycle events (START/END) are delivered on.
func (r *Reader) Events() <-chan Event { return r.events }

// LastReadOffset atomically returns the last byte offset read from the file.
func (r *Reader) LastReadOffset() int64 {
	return atomic.LoadInt64(&r.lastReadOffset)
}

// IsFinished reports whether the read loop has exited and flushed.
func (r *Reader) IsFinished() bool {
	return atomic.LoadInt32(&r.isFinished) != 0
}

// MarkRotated flags the reader as superseded by a successor after the
// underlying file was rotated away, mirroring the DataDog tailer's
// fileHasRotated/hasFileRotated pair.
func (r *Reader) MarkRotated() {
	atomic.StoreInt32(&r.didFileRotate, 1)
}

// HasRotated reports whether MarkRotated was called.
func (r *Reader) HasRotated() bool {
	return atomic.LoadInt32(&r.didFileRotate) != 0
}

// Stop requests the read loop to exit and waits for it to flush and close.
func (r *Reader) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
	r.cancel()
	<-r.done
}

// Run starts the blocking read loop; call it in its own goroutine. It exits
// either when Stop is called/ctx is cancelled, or when it detects the
// tailed file was rotated out from under it (HasRotated then reports true
// and the caller is expected to open a successor via Rotate).
func (r *Reader) Run(pollInterval time.Duration) {
	defer r.finish()

	for {
		if r.flow != nil && r.flow.Blocked() {
			metrics.TailLimited.WithLabelValues(r.spec.File).Set(1)
			select {
			case <-r.stop:
				return
			case <-r.ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		metrics.TailLimited.WithLabelValues(r.spec.File).Set(0)

		n, err := r.readChunk()
		if err != nil && err != io.EOF {
			r.log.Warn("tail read error", zap.String("file", r.spec.File), zap.Error(err))
			return
		}

		select {
		case <-r.stop:
			return
		default:
		}

		if n == 0 {
			if rotated, err := RotationCheck(r.spec.File, r.ident); err != nil {
				r.log.Warn("tail: rotation check failed", zap.String("file", r.spec.File), zap.Error(err))
			} else if rotated {
				r.emitEnd()
				r.MarkRotated()
				return
			}

			select {
			case <-r.ctx.Done():
				return
			case <-time.After(pollInterval):
			}
		}
	}
}

func (r *Reader) finish() {
	r.f.Close()
	close(r.lines)
	close(r.events)
	atomic.StoreInt32(&r.isFinished, 1)
	close(r.done)
}

// emitEnd sends the reader's END lifecycle event (accumulated counters and
// digest), non-blocking: a caller not currently draining Events() shouldn't
// stall the read loop.
func (r *Reader) emitEnd() {
	end := Event{
		Kind:      EventEnd,
		Time:      time.Now(),
		File:      r.spec.File,
		Size:      r.LastReadOffset(),
		SendSize:  atomic.LoadInt64(&r.sendByteCount),
		Lines:     r.lineCount,
		SendLines: r.sendLineCount,
		MD5:       r.Digest(),
	}
	select {
	case r.events <- end:
	default:
		r.log.Warn("tail: dropped END event, events channel full", zap.String("file", r.spec.File))
	}
}

// readChunk reads whatever is newly available, frames complete lines out of
// it, and emits them on r.lines. It returns the number of bytes read.
func (r *Reader) readChunk() (int, error) {
	chunk := make([]byte, 64*1024)
	n, err := r.f.Read(chunk)
	if n > 0 {
		r.buf.Write(chunk[:n])
		atomic.AddInt64(&r.lastReadOffset, int64(n))
		r.drainLines()
	}
	if err == io.EOF {
		return n, nil
	}
	return n, err
}

// drainLines frames complete lines out of r.buf. lastReadOffset must already
// reflect the bytes just appended to buf, so that LastReadOffset() - buf.Len()
// is the true file offset immediately after the bytes just consumed for each
// line in turn — not just the offset of the chunk boundary, which a single
// chunk containing several lines would otherwise stamp onto all of them.
func (r *Reader) drainLines() {
	for {
		data := r.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			if r.buf.Len() > maxLineLen {
				forced := make([]byte, r.buf.Len())
				copy(forced, data)
				r.buf.Reset()
				r.emit(forced, r.LastReadOffset())
			}
			return
		}

		line := make([]byte, idx)
		copy(line, data[:idx])
		r.buf.Next(idx + 1)
		r.emit(line, r.LastReadOffset()-int64(r.buf.Len()))
	}
}

func (r *Reader) emit(line []byte, pos int64) {
	r.digest.Write(line)
	r.lineCount++
	select {
	case r.lines <- Line{Bytes: line, Pos: pos}:
	case <-r.ctx.Done():
	}
}

// RecordSent increments the "sent to broker" counters, called once a line
// successfully leaves the Sender Queue. bytes is the size of the payload
// actually produced (post-transform), matching original_source/src/
// filereader.cc's dsize_ accumulator (size of the sent record, not the
// count of lines sent).
func (r *Reader) RecordSent(bytes int64) {
	atomic.AddInt64(&r.sendLineCount, 1)
	atomic.AddInt64(&r.sendByteCount, bytes)
}

// Digest returns the running MD5 hex digest of every line framed so far,
// matching the original's per-file md5 accumulator used in the END event.
func (r *Reader) Digest() string {
	return hex.EncodeToString(r.digest.Sum(nil))
}
