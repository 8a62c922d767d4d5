// Package pingback implements the fire-and-forget HTTP notification spec.md
// section 4.10 describes: a background worker pool sending small status
// events as HTTP GET query strings to an operator-configured URL, never
// blocking the data path.
// Ported from original_source/src/metrics.cc's Metrics::pingback (a
// TaskQueue-backed libcurl GET), adapted to net/http and a buffered channel
// worker pool in place of the original's dedicated TaskQueue class.
package pingback

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 256
	requestTimeout   = 5 * time.Second
)

var (
	sent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tail2kafka_pingback_sent_total",
		Help: "Pingback requests that completed with a 2xx/3xx status.",
	})
	failed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tail2kafka_pingback_failed_total",
		Help: "Pingback requests that errored or returned a non-2xx/3xx status.",
	})
	dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tail2kafka_pingback_dropped_total",
		Help: "Pingback events dropped because the worker queue was full.",
	})
)

func init() {
	prometheus.MustRegister(sent, failed, dropped)
}

type task struct {
	url string
}

// Client posts fire-and-forget pingback events to a base URL, queued onto a
// small bounded worker pool so a slow or unreachable pingback endpoint never
// stalls the tailer's hot path. A nil *Client (from New with an empty
// baseURL) makes every method a no-op, matching the original's
// "metrics_ == 0" guard.
type Client struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger

	tasks   chan task
	workers sync.WaitGroup
}

// New starts a Client with workers background goroutines draining a
// queueSize-deep task channel. baseURL empty returns nil (pingback
// disabled), matching the original's optional pingbackUrl.
func New(baseURL string, workers, queueSize int, log *zap.Logger) *Client {
	if baseURL == "" {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	c := &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
		log:     log,
		tasks:   make(chan task, queueSize),
	}
	c.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go c.worker()
	}
	return c
}

func (c *Client) worker() {
	defer c.workers.Done()
	for t := range c.tasks {
		c.do(t.url)
	}
}

func (c *Client) do(rawURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		c.log.Warn("pingback: build request", zap.String("url", rawURL), zap.Error(err))
		failed.Inc()
		return
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn("pingback: request failed", zap.String("url", rawURL), zap.Error(err))
		failed.Inc()
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.log.Warn("pingback: non-2xx status", zap.String("url", rawURL), zap.Int("status", resp.StatusCode))
		failed.Inc()
		return
	}
	c.log.Debug("pingback: sent", zap.String("url", rawURL), zap.Int("status", resp.StatusCode))
	sent.Inc()
}

// Event submits event with the given query parameters for background
// delivery; it never blocks the caller beyond a full-queue drop.
func (c *Client) Event(event string, params url.Values) {
	if c == nil {
		return
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("event", event)

	u := c.baseURL
	if q := params.Encode(); q != "" {
		u += "?" + q
	}

	select {
	case c.tasks <- task{url: u}:
	default:
		c.log.Warn("pingback: queue full, dropping event", zap.String("event", event))
		dropped.Inc()
	}
}

// Rotate reports a file having been finalised and handed off (receiver-side
// ROTATE event), ported from filereader.cc's
// Metrics::pingback("ROTATE", "file=...&size=...&md5=...").
func (c *Client) Rotate(file string, size int64, md5 string) {
	c.Event("ROTATE", url.Values{
		"file": {file},
		"size": {strconv.FormatInt(size, 10)},
		"md5":  {md5},
	})
}

// TagRotate reports the sender-side log file itself rotating to a new path
// (original_source's "TAG_ROTATE" event from filereader.cc).
func (c *Client) TagRotate(newFile, oldFile string) {
	c.Event("TAG_ROTATE", url.Values{
		"new": {newFile},
		"old": {oldFile},
	})
}

// Close stops accepting new events and waits for queued work to drain.
func (c *Client) Close() {
	if c == nil {
		return
	}
	close(c.tasks)
	c.workers.Wait()
}
