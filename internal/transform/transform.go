// Package transform implements the four Transform Function modes (filter,
// grep, transform, aggregate) from spec.md section 4.3, field splitting and
// timestamp normalisation ported from the original tail2kafka, and a narrow
// Evaluator interface standing in for the out-of-scope embedded scripting
// engine.
package transform

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Evaluator is the narrow seam the scripted grep/transform/aggregate
// callbacks are invoked through. The real implementation (an embedded
// scripting engine evaluating operator-supplied scripts) is out of scope for
// this module per spec.md; this interface lets filter/grep/aggregate/
// transform modes be exercised and tested without it.
type Evaluator interface {
	// Grep reports whether fields should be kept, and if so returns the
	// rendered output line.
	Grep(fields []string) (line string, keep bool, err error)

	// Transform rewrites a raw line (pre-split) into an output line.
	Transform(line string) (string, error)

	// Aggregate contributes counts for one line's fields under a partition
	// key, returned as a key/delta map merged into the caller's cache.
	Aggregate(fields []string) (pkey string, counts map[string]int, err error)
}

// Filter renders the fields at idxs (1-based, negative counts from the end)
// space-joined, optionally prefixed with host. Ported from
// original_source/src/tail2kafka.cc's filter().
func Filter(fields []string, idxs []int, withHost bool, host string) (string, error) {
	var b strings.Builder
	if withHost {
		b.WriteString(host)
	}

	for _, raw := range idxs {
		idx := AbsIndex(raw, len(fields))
		if idx < 0 {
			return "", fmt.Errorf("transform: field index %d out of range for %d fields", raw, len(fields))
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(fields[idx])
	}
	return b.String(), nil
}

// NormalizeTimeField replaces fields[idx] in place with its ISO-8601 form,
// where idx is a 1-based (possibly negative) index. It is a no-op if idx is
// out of range or the field does not parse as a timestamp, matching the
// original's silent best-effort conversion.
func NormalizeTimeField(fields []string, idx int) bool {
	abs := AbsIndex(idx, len(fields))
	if abs < 0 {
		return false
	}
	iso, ok := ISO8601(fields[abs])
	if !ok {
		return false
	}
	fields[abs] = iso
	return true
}

// Aggregator accumulates per-partition-key counter deltas across lines that
// share a timestamp bucket, flushing (serializing) the accumulated counts
// when the bucket's timestamp advances or the caller asks for a final
// flush at shutdown. This is the Go-idiomatic form of the original's
// ctx->cache / flushCache pair: spec.md section 9 resolves the flush trigger
// to "flush on timestamp advance, authoritative; flush on shutdown,
// secondary" rather than the original's "1000 sequence numbers behind"
// heuristic (see DESIGN.md).
type Aggregator struct {
	mu       sync.Mutex
	withHost bool
	withTime bool
	host     string
	extraKey string // ctx->pkey: an additional cache bucket every count also lands in

	lastTime string
	cache    map[string]map[string]int
}

// NewAggregator builds an Aggregator. extraKey, if non-empty, is an
// additional partition key every line's counts are also folded into
// (original_source's ctx->pkey), letting a caller maintain a grand-total
// bucket alongside the per-key ones.
func NewAggregator(withHost, withTime bool, host, extraKey string) *Aggregator {
	return &Aggregator{
		withHost: withHost,
		withTime: withTime,
		host:     host,
		extraKey: extraKey,
		cache:    make(map[string]map[string]int),
	}
}

// Add folds counts under pkey into the cache for curtime. If curtime differs
// from the last call's, the previously accumulated cache is flushed first
// and returned; otherwise nil is returned and the caller should keep going.
func (a *Aggregator) Add(curtime, pkey string, counts map[string]int) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var flushed []string
	if a.lastTime != "" && curtime != a.lastTime {
		flushed = a.serializeLocked()
		a.cache = make(map[string]map[string]int)
	}
	a.lastTime = curtime

	a.foldLocked(pkey, counts)
	if a.extraKey != "" && a.extraKey != pkey {
		a.foldLocked(a.extraKey, counts)
	}
	return flushed
}

func (a *Aggregator) foldLocked(pkey string, counts map[string]int) {
	bucket, ok := a.cache[pkey]
	if !ok {
		bucket = make(map[string]int)
		a.cache[pkey] = bucket
	}
	for k, v := range counts {
		bucket[k] += v
	}
}

// Flush serializes and clears whatever remains in the cache, for use at
// shutdown (the secondary flush trigger).
func (a *Aggregator) Flush() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.serializeLocked()
	a.cache = make(map[string]map[string]int)
	return out
}

func (a *Aggregator) serializeLocked() []string {
	if len(a.cache) == 0 {
		return nil
	}
	keys := make([]string, 0, len(a.cache))
	for k := range a.cache {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, pkey := range keys {
		var b strings.Builder
		if a.withHost {
			b.WriteString(a.host)
			b.WriteByte(' ')
		}
		if a.withTime {
			b.WriteString(a.lastTime)
			b.WriteByte(' ')
		}
		b.WriteString(pkey)

		counters := a.cache[pkey]
		names := make([]string, 0, len(counters))
		for k := range counters {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, name := range names {
			b.WriteByte(' ')
			b.WriteString(name)
			b.WriteByte('=')
			b.WriteString(strconv.Itoa(counters[name]))
		}
		lines = append(lines, b.String())
	}
	return lines
}
