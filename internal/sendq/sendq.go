// Package sendq implements the Sender Queue (spec.md section 4.5): an
// in-process channel carrying framed, transformed records from File Readers
// to the Producer, preserving per-file order. A plain buffered Go channel is
// the idiomatic fit here — no third-party queue in the example corpus
// improves on a single-producer/single-consumer in-process handoff.
package sendq

import (
	"context"

	"github.com/zzyongx/tail2kafka-sub000/internal/fileid"
)

// Record is one unit of work handed from a File Reader to the Producer: a
// transformed payload (already run through the spec's Transform Function),
// the originating file's identity and byte position (for the Offset Store
// update once the Producer's broker acknowledgement arrives), and the
// destination topic/partition.
type Record struct {
	Topic     string
	Partition int32

	Payload []byte

	Ident fileid.Identity
	Pos   int64

	// Ack, if non-nil, is invoked once the Producer has confirmed delivery
	// (or given up after retries), letting the caller release a Sender
	// Queue slot and update the Offset Store.
	Ack func(err error)
}

// Queue is a bounded channel of Records handed from readers to the producer.
type Queue struct {
	capacity int
	records  chan Record
}

// New creates a Queue with the given channel capacity.
func New(capacity int) *Queue {
	return &Queue{capacity: capacity, records: make(chan Record, capacity)}
}

// Send enqueues rec, blocking until there is room or ctx is cancelled.
func (q *Queue) Send(ctx context.Context, rec Record) error {
	select {
	case q.records <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Records returns the channel the Producer consumes from.
func (q *Queue) Records() <-chan Record { return q.records }

// Len reports the number of records currently buffered, for metrics.
func (q *Queue) Len() int { return len(q.records) }

// Full reports whether the queue is at capacity. Readers do not consult it;
// their back-pressure check is the Producer's flow-control flag.
func (q *Queue) Full() bool { return len(q.records) >= q.capacity }
