// Package mirror implements the Mirror Transform (spec.md section 4.7): the
// receiving side reassembles per-host append-only files from broker NMSG
// records and rotates them on META END markers. Ported from
// original_source/src/transform.cc's MirrorTransform (addToCache/flushCache/
// write), with the writev batching replaced by a portable scatter-gather
// helper (see writev_linux.go and writev_other.go) and the rd_kafka-specific free-on-flush bookkeeping
// dropped in favour of Go's GC.
package mirror

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zzyongx/tail2kafka-sub000/internal/notify"
	"github.com/zzyongx/tail2kafka-sub000/internal/wire"
)

// flushBatch caps how many pending buffers a host accumulates before a
// forced flush, mirroring the original's IOV_MAX cap on pending iovecs.
const flushBatch = 1024

// hostCache tracks one host's in-flight append file and pending writes.
// seen distinguishes "no message observed yet" from "last message was at
// position 0": pos alone can't, since a freshly created cache's zero value
// is indistinguishable from a real position-0 message.
type hostCache struct {
	file *os.File
	pos  uint64
	seen bool
	bufs [][]byte
}

// Transform reassembles per-host files for one (topic, partition).
type Transform struct {
	mu sync.Mutex

	wdir      string
	topic     string
	partition int32
	notify    *notify.Command
	log       *zap.Logger

	hosts map[string]*hostCache
}

// New creates a Transform writing into wdir/topic/<host>. notify may be nil.
func New(wdir, topic string, partition int32, notify *notify.Command, log *zap.Logger) *Transform {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transform{
		wdir:      wdir,
		topic:     topic,
		partition: partition,
		notify:    notify,
		log:       log,
		hosts:     make(map[string]*hostCache),
	}
}

// Write consumes one decoded broker message (NMSG or META). The original's
// IGNORE/LOCAL/GLOBAL return codes collapse to a plain error: a non-nil
// error (out-of-order position, failed open/write/rename) is fatal to the
// caller. Write does not commit a consumer offset, and neither does
// cmd/kafka2file (see DESIGN.md).
func (t *Transform) Write(msg wire.Message) error {
	switch msg.Kind {
	case wire.NMSG:
		return t.handleNMSG(msg)
	case wire.META:
		if msg.Event == wire.EventEnd {
			return t.handleEnd(msg)
		}
		t.log.Info("mirror: META", zap.String("host", msg.Host), zap.String("event", string(msg.Event)))
		return nil
	default:
		t.log.Warn("mirror: unexpected MSG record, no host framing", zap.Int("len", len(msg.Payload)))
		return nil
	}
}

func (t *Transform) handleNMSG(msg wire.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	hc := t.hosts[msg.Host]
	if hc == nil {
		hc = &hostCache{}
		t.hosts[msg.Host] = hc
	}

	switch {
	case hc.seen && hc.pos == msg.Position:
		// A duplicate NMSG at the last-seen position is still a duplicate
		// even if a batch flush already cleared bufs (flushHostLocked
		// resets bufs but leaves pos in place) — dedupe on pos alone.
		t.log.Error("mirror: duplicate message", zap.String("host", msg.Host), zap.Uint64("pos", msg.Position))
		return nil
	case hc.seen && msg.Position < hc.pos:
		return fmt.Errorf("mirror: %s:%d out-of-order message host=%s pos=%d < %d", t.topic, t.partition, msg.Host, msg.Position, hc.pos)
	}

	hc.pos = msg.Position
	hc.seen = true
	hc.bufs = append(hc.bufs, msg.Payload)

	if len(hc.bufs) >= flushBatch {
		return t.flushHostLocked(msg.Host, hc)
	}
	return nil
}

func (t *Transform) handleEnd(msg wire.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	hc := t.hosts[msg.Host]
	if hc != nil {
		if err := t.flushHostLocked(msg.Host, hc); err != nil {
			return err
		}
		if hc.file != nil {
			hc.file.Close()
		}
		delete(t.hosts, msg.Host)
	}

	opath := filepath.Join(t.wdir, t.topic, msg.Host)
	base := filepath.Base(msg.File)
	npath := fmt.Sprintf("%s_%s", opath, base)

	if err := os.Rename(opath, npath); err != nil {
		return fmt.Errorf("mirror: rename %s to %s: %w", opath, npath, err)
	}
	t.log.Info("mirror: rotated", zap.String("from", opath), zap.String("to", npath))

	if t.notify != nil {
		t.notify.Exec(npath, msg.File, -1, int64(msg.Size), msg.MD5)
	}
	return nil
}

func (t *Transform) flushHostLocked(host string, hc *hostCache) error {
	if len(hc.bufs) == 0 {
		return nil
	}
	if hc.file == nil {
		dir := filepath.Join(t.wdir, t.topic)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mirror: mkdir %s: %w", dir, err)
		}
		path := filepath.Join(dir, host)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("mirror: open %s: %w", path, err)
		}
		hc.file = f
	}

	if err := writevAll(hc.file, hc.bufs); err != nil {
		return fmt.Errorf("mirror: write %s/%s: %w", t.topic, host, err)
	}
	hc.bufs = hc.bufs[:0]
	return nil
}

// Close flushes and closes every open host file.
func (t *Transform) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []string
	for host, hc := range t.hosts {
		if err := t.flushHostLocked(host, hc); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if hc.file != nil {
			if err := hc.file.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}
	t.hosts = make(map[string]*hostCache)
	if len(errs) > 0 {
		return fmt.Errorf("mirror: close: %s", strings.Join(errs, "; "))
	}
	return nil
}
