// Command tail2kafka is the sender worker: it tails the files named by a
// configuration directory, runs each through its configured Transform
// Function, and produces the results to a Kafka broker. Ported from
// original_source/src/tail2kafka.cc's main()/runForeGround, with the
// original's fork-per-reload model replaced by supervisor.Supervisor's
// goroutine-restart model (see internal/supervisor).
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zzyongx/tail2kafka-sub000/internal/fileid"
	"github.com/zzyongx/tail2kafka-sub000/internal/metrics"
	"github.com/zzyongx/tail2kafka-sub000/internal/offsetstore"
	"github.com/zzyongx/tail2kafka-sub000/internal/pingback"
	"github.com/zzyongx/tail2kafka-sub000/internal/producer"
	"github.com/zzyongx/tail2kafka-sub000/internal/sendq"
	"github.com/zzyongx/tail2kafka-sub000/internal/spec"
	"github.com/zzyongx/tail2kafka-sub000/internal/supervisor"
	"github.com/zzyongx/tail2kafka-sub000/internal/tail"
	"github.com/zzyongx/tail2kafka-sub000/internal/transform"
	"github.com/zzyongx/tail2kafka-sub000/internal/watch"
)

func main() {
	root := &cobra.Command{
		Use:   "tail2kafka <confdir>",
		Short: "Tail configured log files and produce transformed lines to Kafka.",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	confDir := args[0]
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("tail2kafka: build logger: %w", err)
	}
	defer log.Sync()

	cfg, specs, err := spec.LoadDir(confDir)
	if err != nil {
		return fmt.Errorf("tail2kafka: load config: %w", err)
	}
	if cfg.PidFile == "" {
		return fmt.Errorf("tail2kafka: main.json missing pidfile")
	}

	sup, err := supervisor.New(cfg.PidFile, func() (supervisor.Worker, error) {
		return newWorker(cfg, specs, log)
	}, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	return sup.Run(ctx)
}

// aggEntry pairs one aggregate-mode FileSpec with the Aggregator
// accumulating its counts, so the watch loop's periodic tick can flush
// buckets that have gone stale without a timestamp advance to trigger on.
type aggEntry struct {
	fs  spec.FileSpec
	agg *transform.Aggregator
}

// worker is one generation of the running tail2kafka pipeline, built fresh
// on every supervisor start/reload.
type worker struct {
	cfg   *spec.MainConfig
	specs []spec.FileSpec
	log   *zap.Logger
	host  string

	// evaluators resolves fs.EvaluatorName to the scripted grep/transform/
	// aggregate callback it names. The scripting engine itself is out of
	// scope for this module (see internal/transform's package doc), so this
	// registry is empty in production; it exists so the dispatch in
	// applyTransform is real and testable rather than a silent pass-through.
	evaluators map[string]transform.Evaluator

	aggregators map[string]*aggEntry
}

func newWorker(cfg *spec.MainConfig, specs []spec.FileSpec, log *zap.Logger) (*worker, error) {
	host, err := resolveHost(cfg.HostShell)
	if err != nil {
		return nil, err
	}

	aggregators := make(map[string]*aggEntry)
	for _, fs := range specs {
		if fs.Mode == spec.ModeAggregate {
			aggregators[aggKey(fs)] = &aggEntry{
				fs:  fs,
				agg: transform.NewAggregator(fs.WithHost, fs.WithTime, host, fs.PKey),
			}
		}
	}

	return &worker{
		cfg:         cfg,
		specs:       specs,
		log:         log,
		host:        host,
		evaluators:  make(map[string]transform.Evaluator),
		aggregators: aggregators,
	}, nil
}

func aggKey(fs spec.FileSpec) string {
	return fs.Topic + "\x00" + fs.File
}

// resolveHost runs the configured hostshell command once and returns its
// trimmed stdout, ported from original_source/src/cnfctx.cc's shell(hostshell).
// An empty hostshell falls back to os.Hostname.
func resolveHost(hostshell string) (string, error) {
	if hostshell == "" {
		return os.Hostname()
	}
	out, err := exec.Command("sh", "-c", hostshell).Output()
	if err != nil {
		return "", fmt.Errorf("tail2kafka: hostshell %q: %w", hostshell, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (w *worker) Run(ctx context.Context) error {
	offPath := filepath.Join(w.cfg.LibDir, "tail2kafka.offset")
	store, err := offsetstore.Open(offPath, w.log)
	if err != nil {
		return err
	}
	defer store.Close()

	existing, err := offsetstore.LoadExisting(offPath)
	if err != nil {
		return err
	}

	records := make([]offsetstore.Record, 0, len(w.specs))
	for _, fs := range w.specs {
		ident, err := fileid.Of(fs.File)
		if err != nil {
			continue // file does not exist yet: it gets no offset record in this generation
		}
		off := existing[ident.Inode]
		records = append(records, offsetstore.Record{Inode: ident.Inode, Offset: off})
	}
	if err := store.Reinit(records); err != nil {
		return err
	}

	flow := &producer.FlowControl{}
	pb := pingback.New(w.cfg.PingbackURL, 0, 0, w.log)
	defer pb.Close()

	prod, err := producer.New(producer.Config{
		Brokers:     w.cfg.Brokers,
		GlobalConf:  w.cfg.KafkaGlobal,
		Partitioner: producer.NewMultiPartitioner(w.specs, w.host),
	}, flow, w.log)
	if err != nil {
		return err
	}
	defer prod.Close()

	loop, err := watch.New(500*time.Millisecond, w.log)
	if err != nil {
		return err
	}

	queue := sendq.New(4096)

	c := cron.New()
	c.Start()
	defer c.Stop()
	_, _ = c.AddFunc("@every 1m", func() {
		if err := store.Flush(); err != nil {
			w.log.Warn("tail2kafka: periodic offset flush failed", zap.Error(err))
		}
	})

	pollInterval := time.Duration(w.cfg.PollLimitMS) * time.Millisecond

	// Specs that target the same path share one File Reader (spec.md
	// section 3's "linked successor spec" / section 4.2's fan-out): the
	// first spec on a path is the primary and actually performs the I/O,
	// every other spec on that path rides its framed lines through its own
	// Transform Function/topic/partitioner pipeline.
	groups := make(map[string][]spec.FileSpec)
	var order []string
	for _, fs := range w.specs {
		if _, ok := groups[fs.File]; !ok {
			order = append(order, fs.File)
		}
		groups[fs.File] = append(groups[fs.File], fs)
	}

	for _, path := range order {
		group := groups[path]
		if err := loop.Add(path); err != nil {
			w.log.Warn("tail2kafka: watch add failed", zap.String("file", path), zap.Error(err))
			continue
		}

		r, err := tail.Open(group[0], store, flow, w.log)
		if err != nil {
			w.log.Warn("tail2kafka: open failed", zap.String("file", path), zap.Error(err))
			continue
		}
		go r.Run(pollInterval)
		go w.runFanoutChain(ctx, group, r, store, flow, queue, pb, pollInterval)
	}

	go loop.Run(ctx)
	go w.watchHousekeeping(ctx, loop, queue)
	go w.drainQueue(ctx, queue, prod)

	<-ctx.Done()

	// Shutdown is the secondary aggregate flush trigger: the queue drainer
	// has stopped with ctx, so flushed lines go straight to the still-open
	// Producer.
	for _, e := range w.aggregators {
		for _, line := range e.agg.Flush() {
			rec := sendq.Record{Topic: e.fs.Topic, Partition: -1, Payload: []byte(line)}
			if e.fs.Partitioner == spec.PartitionerFixed {
				rec.Partition = e.fs.Partition
			}
			if err := prod.Send(context.Background(), rec); err != nil {
				w.log.Warn("tail2kafka: shutdown aggregate flush failed", zap.String("file", e.fs.File), zap.Error(err))
			}
		}
	}
	return nil
}

// runFanoutChain drains one shared File Reader and fans its framed lines out
// to every FileSpec targeting the same path (spec.md section 3's "linked
// successor spec if multiple specs target the same path" and section 4.2's
// fan-out: "primary reader performs the I/O...memcpy's the new bytes into
// each successor's buffer"). Only group[0], the primary, ever touches the
// filesystem; every spec in group — including the primary itself — runs its
// own Transform Function/topic/partitioner pipeline off its own copy of each
// line. It follows rotation successors (spec.md section 4.2's "at most one
// END per rotation, exactly one matching START before further records"
// invariant) until a generation exits without having rotated.
func (w *worker) runFanoutChain(ctx context.Context, group []spec.FileSpec, r *tail.Reader, store *offsetstore.Store, flow *producer.FlowControl, queue *sendq.Queue, pb *pingback.Client, pollInterval time.Duration) {
	path := group[0].File
	for {
		outs := make([]chan tail.Line, len(group))
		for i := range outs {
			outs[i] = make(chan tail.Line, 256)
		}

		var wg sync.WaitGroup
		for i, fs := range group {
			wg.Add(1)
			go func(fs spec.FileSpec, lines <-chan tail.Line) {
				defer wg.Done()
				w.pumpFanoutLines(ctx, fs, r, lines, store, queue)
			}(fs, outs[i])
		}

		w.fanLines(ctx, r, outs, path, pb)
		wg.Wait()

		if ctx.Err() != nil {
			// The worker is shutting down: fanLines/pumpFanoutLines have
			// already returned on ctx.Done(), but the Reader's own read
			// loop runs off its own internal context and won't stop on
			// its own — Stop it explicitly so its goroutine and file
			// descriptor don't outlive this generation.
			r.Stop()
			return
		}
		if !r.HasRotated() {
			return
		}

		successor, err := tail.Rotate(r, path, store, flow, w.log)
		if err != nil {
			w.log.Warn("tail2kafka: rotation reopen failed", zap.String("file", path), zap.Error(err))
			return
		}
		r = successor
		go r.Run(pollInterval)
	}
}

// fanLines is the primary reader's only consumer: it reads each framed line
// and lifecycle event once and copies the line into every successor's
// buffer, so no successor spec ever touches the shared Reader directly.
// Closes every output channel once the generation's channels close, which
// unblocks all of that generation's pumpFanoutLines goroutines.
func (w *worker) fanLines(ctx context.Context, r *tail.Reader, outs []chan tail.Line, path string, pb *pingback.Client) {
	defer func() {
		for _, o := range outs {
			close(o)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case line, ok := <-r.Lines():
			if !ok {
				return
			}
			for _, o := range outs {
				cp := make([]byte, len(line.Bytes))
				copy(cp, line.Bytes)
				select {
				case o <- tail.Line{Bytes: cp, Pos: line.Pos}:
				case <-ctx.Done():
					return
				}
			}

		case ev, ok := <-r.Events():
			if !ok {
				return
			}
			if ev.Kind == tail.EventEnd {
				pb.TagRotate("", path)
			}
		}
	}
}

// pumpFanoutLines drains one spec's private copy of the shared reader's
// lines through its configured Transform Function and onto the shared
// Sender Queue. It returns once lines is closed by fanLines.
func (w *worker) pumpFanoutLines(ctx context.Context, fs spec.FileSpec, r *tail.Reader, lines <-chan tail.Line, store *offsetstore.Store, queue *sendq.Queue) {
	for {
		select {
		case <-ctx.Done():
			return

		case line, ok := <-lines:
			if !ok {
				return
			}
			metrics.LinesRead.WithLabelValues(fs.File).Inc()

			payload, keep := w.applyTransform(fs, string(line.Bytes))
			if !keep {
				continue
			}

			ident := r.Identity()
			rec := sendq.Record{
				Topic:     fs.Topic,
				Partition: -1,
				Payload:   []byte(payload),
				Ident:     ident,
				Pos:       line.Pos,
				Ack: func(err error) {
					if err != nil {
						w.log.Warn("tail2kafka: delivery failed", zap.String("file", fs.File), zap.Error(err))
						return
					}
					r.RecordSent(int64(len(payload)))
					store.SetOff(ident.Inode, line.Pos)
					metrics.LinesSent.WithLabelValues(fs.File, fs.Topic).Inc()
				},
			}
			if fs.Partitioner == spec.PartitionerFixed {
				rec.Partition = fs.Partition
			}

			metrics.QueueDepth.WithLabelValues(fs.File).Set(float64(queue.Len()))
			if err := queue.Send(ctx, rec); err != nil {
				return
			}
		}
	}
}

// fieldsFor splits line per fs.NoAutoSplit, matching the original's
// autosplit knob: filter/grep/aggregate normally see space-delimited
// fields, but a spec can opt out and hand the whole line through as a
// single field. Transform mode always receives the raw line.
func fieldsFor(fs spec.FileSpec, line string) []string {
	if fs.NoAutoSplit {
		return []string{line}
	}
	return transform.SplitFields(line)
}

// applyTransform renders one raw line per fs.Mode, spec.md section 4.3's
// four Transform Function behaviours. Grep/Transform/Aggregate dispatch
// against w.evaluators, keyed by fs.EvaluatorName: with no evaluator
// registered (the common case, since the scripting engine itself is out of
// scope here) the line is dropped rather than forwarded raw, since
// forwarding an unprocessed line would violate all three modes' documented
// semantics (grep must be able to drop lines; aggregate must never emit a
// raw line at all).
func (w *worker) applyTransform(fs spec.FileSpec, line string) (string, bool) {
	switch fs.Mode {
	case spec.ModeFilter:
		fields := fieldsFor(fs, line)
		out, err := transform.Filter(fields, fs.Filter, fs.WithHost, w.host)
		if err != nil {
			return "", false
		}
		return out, true

	case spec.ModeGrep:
		ev, ok := w.evaluators[fs.EvaluatorName]
		if !ok {
			w.log.Warn("tail2kafka: no grep evaluator registered, dropping line", zap.String("evaluator", fs.EvaluatorName))
			return "", false
		}
		out, keep, err := ev.Grep(fieldsFor(fs, line))
		if err != nil {
			w.log.Warn("tail2kafka: grep evaluator error, dropping line", zap.Error(err))
			return "", false
		}
		return out, keep

	case spec.ModeTransform:
		ev, ok := w.evaluators[fs.EvaluatorName]
		if !ok {
			w.log.Warn("tail2kafka: no transform evaluator registered, dropping line", zap.String("evaluator", fs.EvaluatorName))
			return "", false
		}
		out, err := ev.Transform(line)
		if err != nil {
			w.log.Warn("tail2kafka: transform evaluator error, dropping line", zap.Error(err))
			return "", false
		}
		return out, true

	case spec.ModeAggregate:
		ev, ok := w.evaluators[fs.EvaluatorName]
		if !ok {
			w.log.Warn("tail2kafka: no aggregate evaluator registered, dropping line", zap.String("evaluator", fs.EvaluatorName))
			return "", false
		}
		fields := fieldsFor(fs, line)
		pkey, counts, err := ev.Aggregate(fields)
		if err != nil {
			w.log.Warn("tail2kafka: aggregate evaluator error, dropping line", zap.Error(err))
			return "", false
		}

		var curtime string
		if fs.TimeIdx != 0 {
			if idx := transform.AbsIndex(fs.TimeIdx, len(fields)); idx >= 0 {
				curtime = fields[idx]
			}
		}

		entry := w.aggregators[aggKey(fs)]
		flushed := entry.agg.Add(curtime, pkey, counts)
		if len(flushed) == 0 {
			return "", false
		}
		return strings.Join(flushed, "\n"), true

	default:
		return line, true
	}
}

// watchHousekeeping drains the Inotify Loop's filesystem-change and periodic
// ticks (spec.md section 4.4): change notifications are logged at debug
// level (rotation itself is detected by the reader's own EOF check), and
// each tick flushes any aggregate cache that hasn't advanced on its own,
// bounding how stale an aggregate bucket can get when its source goes quiet.
func (w *worker) watchHousekeeping(ctx context.Context, loop *watch.Loop, queue *sendq.Queue) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-loop.Events():
			if !ok {
				return
			}
			w.log.Debug("tail2kafka: filesystem change", zap.String("path", ev.Path))

		case err, ok := <-loop.Errors():
			if !ok {
				return
			}
			w.log.Warn("tail2kafka: watch error", zap.Error(err))

		case _, ok := <-loop.Ticks():
			if !ok {
				return
			}
			for _, e := range w.aggregators {
				flushed := e.agg.Flush()
				for _, line := range flushed {
					rec := sendq.Record{Topic: e.fs.Topic, Partition: -1, Payload: []byte(line)}
					if e.fs.Partitioner == spec.PartitionerFixed {
						rec.Partition = e.fs.Partition
					}
					if err := queue.Send(ctx, rec); err != nil {
						return
					}
				}
			}
		}
	}
}

// drainQueue consumes the Sender Queue and hands each record to the
// Producer.
func (w *worker) drainQueue(ctx context.Context, queue *sendq.Queue, prod *producer.Producer) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-queue.Records():
			if !ok {
				return
			}
			if err := prod.Send(ctx, rec); err != nil {
				w.log.Warn("tail2kafka: produce failed", zap.Error(err))
			}
		}
	}
}
