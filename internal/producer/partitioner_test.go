package producer

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzyongx/tail2kafka-sub000/internal/spec"
)

func TestPartitionerFixed(t *testing.T) {
	fs := spec.FileSpec{Partitioner: spec.PartitionerFixed, Partition: 2}
	ctor := NewPartitioner(fs, "host1")
	part := ctor("topic")

	idx, err := part.Partition(&sarama.ProducerMessage{}, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 2, idx)
}

func TestPartitionerFixedOutOfRangeFallsBack(t *testing.T) {
	fs := spec.FileSpec{Partitioner: spec.PartitionerFixed, Partition: 99}
	ctor := NewPartitioner(fs, "host1")
	part := ctor("topic")

	idx, err := part.Partition(&sarama.ProducerMessage{}, 5)
	require.NoError(t, err)
	assert.True(t, idx >= 0 && idx < 5)
}

func TestPartitionerAutoHostIsStable(t *testing.T) {
	fs := spec.FileSpec{Partitioner: spec.PartitionerAutoHost}
	ctor := NewPartitioner(fs, "host1")
	part := ctor("topic")

	a, err := part.Partition(&sarama.ProducerMessage{}, 8)
	require.NoError(t, err)
	b, err := part.Partition(&sarama.ProducerMessage{}, 8)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMultiPartitionerDispatchesByTopic(t *testing.T) {
	specs := []spec.FileSpec{
		{Topic: "fixed-topic", Partitioner: spec.PartitionerFixed, Partition: 1},
		{Topic: "auto-topic", Partitioner: spec.PartitionerAutoHost},
	}
	ctor := NewMultiPartitioner(specs, "host1")

	idx, err := ctor("fixed-topic").Partition(&sarama.ProducerMessage{}, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 1, idx)

	unknown := ctor("unconfigured-topic")
	idx, err = unknown.Partition(&sarama.ProducerMessage{}, 5)
	require.NoError(t, err)
	assert.True(t, idx >= 0 && idx < 5)
}

func TestPartitionerRequiresConsistency(t *testing.T) {
	fixed := &specPartitioner{kind: spec.PartitionerFixed}
	assert.True(t, fixed.RequiresConsistency())

	def := &specPartitioner{kind: spec.PartitionerDefault}
	assert.False(t, def.RequiresConsistency())
}
