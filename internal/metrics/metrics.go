// Package metrics exposes the ambient Prometheus counters/gauges spec.md
// section 5 names (queue depth, lines read/sent, tail-limit flag, producer
// retries), carried the way the teacher instruments every subsystem with
// Prometheus even though spec.md's Non-goals exclude a rich metrics
// subsystem — these are ambient observability, not a feature.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	LinesRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tail2kafka_lines_read_total",
		Help: "Lines read off tailed files.",
	}, []string{"file"})

	LinesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tail2kafka_lines_sent_total",
		Help: "Lines successfully produced to the broker.",
	}, []string{"file", "topic"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tail2kafka_sendq_depth",
		Help: "Current depth of the sender queue.",
	}, []string{"file"})

	TailLimited = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tail2kafka_tail_limited",
		Help: "1 while a tailed file's reader is suspended by producer back-pressure, 0 otherwise.",
	}, []string{"file"})

	ProducerRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tail2kafka_producer_retries_total",
		Help: "Produce attempts retried after a broker buffer-full error.",
	}, []string{"topic"})

	ProducerDeadLetters = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tail2kafka_producer_dead_letters_total",
		Help: "Records dropped after exhausting the produce retry budget.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(
		LinesRead,
		LinesSent,
		QueueDepth,
		TailLimited,
		ProducerRetries,
		ProducerDeadLetters,
	)
}
