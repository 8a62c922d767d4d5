package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrementPerLabel(t *testing.T) {
	LinesRead.WithLabelValues("/var/log/app.log").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(LinesRead.WithLabelValues("/var/log/app.log")))

	QueueDepth.WithLabelValues("/var/log/app.log").Set(42)
	assert.Equal(t, float64(42), testutil.ToFloat64(QueueDepth.WithLabelValues("/var/log/app.log")))

	ProducerRetries.WithLabelValues("topic1").Add(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(ProducerRetries.WithLabelValues("topic1")))
}
