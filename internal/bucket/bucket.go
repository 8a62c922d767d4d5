// Package bucket implements the Bucket Transform (spec.md section 4.8): the
// receiving side buckets parsed records into time-interval files with a
// current/last/finished three-state rotation, re-encoding each record as a
// JSON line. Ported from original_source/src/transform.cc's LuaTransform
// (initCurrentFile/rotateCurrentToLast/rotateLastToFinish/timeout).
package bucket

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/zzyongx/tail2kafka-sub000/internal/notify"
)

// interval file states: "current" accepts new records for the active
// bucket; "last" is the just-closed bucket, held open a little longer in
// case of out-of-order arrivals, matching the original's delay window;
// "finished" is the bucket once renamed to its final name and notified.
type intervalFile struct {
	f           *os.File
	path        string
	intervalCnt int64
}

// Transform buckets records for one (topic, partition) into interval files.
type Transform struct {
	wdir      string
	topic     string
	partition int32
	interval  time.Duration
	delay     time.Duration
	schema    Schema
	notify    *notify.Command
	log       *zap.Logger

	current *intervalFile
	last    *intervalFile
}

// New creates a Transform. It refuses to start if a .current or .last file
// already exists in wdir/topic (original_source's startup safety check:
// an unclean previous shutdown must be resolved by an operator, not
// silently overwritten).
func New(wdir, topic string, partition int32, interval, delay time.Duration, schema Schema, notify *notify.Command, log *zap.Logger) (*Transform, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if interval < time.Minute || interval > time.Hour {
		return nil, fmt.Errorf("bucket: interval %s outside [1m, 1h]", interval)
	}
	if delay > interval {
		return nil, fmt.Errorf("bucket: delay %s > interval %s", delay, interval)
	}

	dir := filepath.Join(wdir, topic)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("bucket: mkdir %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("bucket: readdir %s: %w", dir, err)
	}
	for _, e := range entries {
		if hasSuffix(e.Name(), ".current") || hasSuffix(e.Name(), ".last") {
			return nil, fmt.Errorf("bucket: found stale %s in %s, resolve manually before starting", e.Name(), dir)
		}
	}

	return &Transform{
		wdir: wdir, topic: topic, partition: partition,
		interval: interval, delay: delay, schema: schema,
		notify: notify, log: log,
	}, nil
}

func hasSuffix(name, suffix string) bool {
	return len(name) >= len(suffix) && name[len(name)-len(suffix):] == suffix
}

// Write parses line per the configured Schema and appends it as a JSON line
// to the bucket for now's interval, rotating buckets as needed. The bucket
// is picked from now alone; the record's parsed TimestampField is not
// consulted.
func (t *Transform) Write(line string, now time.Time) error {
	rec, err := t.schema.Parse(line)
	if err != nil {
		return err
	}

	cnt := now.Unix() / int64(t.interval/time.Second)

	// Three-way dispatch (spec.md section 4.8): a record belongs to whichever
	// of current/last bucket now's interval falls in, not just "current".
	// Without this, a late record for the bucket that just rotated into
	// .last would take the "advance" branch below and prematurely finish the
	// real .last bucket while opening a bogus current for a stale interval.
	var target *intervalFile
	switch {
	case t.current != nil && cnt == t.current.intervalCnt:
		target = t.current
	case t.last != nil && cnt == t.last.intervalCnt:
		target = t.last
	case t.current == nil:
		if err := t.openCurrent(cnt); err != nil {
			return err
		}
		target = t.current
	case cnt > t.current.intervalCnt:
		if err := t.rotateCurrentToLast(); err != nil {
			return err
		}
		if err := t.openCurrent(cnt); err != nil {
			return err
		}
		target = t.current
	default:
		t.log.Warn("bucket: dropping record older than current and last bucket",
			zap.Int64("cnt", cnt), zap.Int64("currentCnt", t.current.intervalCnt))
		return nil
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("bucket: marshal record: %w", err)
	}
	if _, err := target.f.Write(append(body, '\n')); err != nil {
		return fmt.Errorf("bucket: write %s: %w", target.path, err)
	}
	return nil
}

func (t *Transform) openCurrent(cnt int64) error {
	suffix := time.Unix(cnt*int64(t.interval/time.Second), 0).UTC().Format("2006-01-02_15-04-05")
	path := filepath.Join(t.wdir, t.topic, fmt.Sprintf("%s.%d_%s.current", t.topic, t.partition, suffix))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("bucket: open %s: %w", path, err)
	}
	t.current = &intervalFile{f: f, path: path, intervalCnt: cnt}
	return nil
}

// rotateCurrentToLast renames the current bucket to ".last" and, if a prior
// last bucket is still pending, finishes it first — mirroring the
// original's strict current->last->finished pipeline (never more than one
// bucket in each state at a time).
func (t *Transform) rotateCurrentToLast() error {
	if t.last != nil {
		if err := t.finishLast(); err != nil {
			return err
		}
	}

	base := trimExt(t.current.path)
	lastPath := base + ".last"
	if err := os.Rename(t.current.path, lastPath); err != nil {
		return fmt.Errorf("bucket: rename %s to %s: %w", t.current.path, lastPath, err)
	}
	t.log.Info("bucket: rotate current to last", zap.String("from", t.current.path), zap.String("to", lastPath))

	t.last = &intervalFile{f: t.current.f, path: lastPath, intervalCnt: t.current.intervalCnt}
	t.current = nil
	return nil
}

// Tick is called periodically (cmd/kafka2file drives it from a 1-second
// ticker) to finish the last bucket once now reaches the end of that
// bucket's interval plus delay.
func (t *Transform) Tick(now time.Time) error {
	if t.last == nil {
		return nil
	}
	deadline := time.Unix((t.last.intervalCnt+1)*int64(t.interval/time.Second), 0).Add(t.delay)
	if now.Before(deadline) {
		return nil
	}
	return t.finishLast()
}

func (t *Transform) finishLast() error {
	finalPath := trimExt(t.last.path)
	if _, err := os.Stat(finalPath); err == nil {
		return fmt.Errorf("bucket: finish file %s already exists", finalPath)
	}
	if err := os.Rename(t.last.path, finalPath); err != nil {
		return fmt.Errorf("bucket: rename %s to %s: %w", t.last.path, finalPath, err)
	}
	t.log.Info("bucket: rotate last to finished", zap.String("from", t.last.path), zap.String("to", finalPath))

	if err := t.last.f.Close(); err != nil {
		t.log.Warn("bucket: close finished file", zap.Error(err))
	}
	if t.notify != nil {
		t.notify.Exec(finalPath, "", t.last.intervalCnt*int64(t.interval/time.Second), -1, "")
	}
	t.last = nil
	return nil
}

// Close finalises any pending current/last buckets, for use at shutdown.
func (t *Transform) Close() error {
	if t.current != nil {
		if err := t.rotateCurrentToLast(); err != nil {
			return err
		}
	}
	if t.last != nil {
		return t.finishLast()
	}
	return nil
}

func trimExt(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)]
}
