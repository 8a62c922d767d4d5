package producer

import (
	"hash/fnv"

	"github.com/IBM/sarama"

	"github.com/zzyongx/tail2kafka-sub000/internal/spec"
)

// specPartitioner implements sarama.Partitioner for one FileSpec's chosen
// policy, the Go shape of original_source/src/kafkactx.cc's
// partitioner_cb/LuaCtx::getPartition: fixed returns a constant partition,
// auto-host-hash derives one from a hash of the host string, and the
// default defers to the broker (sarama's own random/hash partitioner).
type specPartitioner struct {
	kind      spec.Partitioner
	partition int32
	host      string
	fallback  sarama.Partitioner
}

// NewPartitioner returns a sarama.PartitionerConstructor bound to one
// FileSpec's partitioning policy and host address. PartitionerDefault, and a
// fixed partition outside the topic's range, fall back to
// sarama.NewHashPartitioner.
func NewPartitioner(fs spec.FileSpec, host string) sarama.PartitionerConstructor {
	return func(topic string) sarama.Partitioner {
		return &specPartitioner{
			kind:      fs.Partitioner,
			partition: fs.Partition,
			host:      host,
			fallback:  sarama.NewHashPartitioner(topic),
		}
	}
}

func (p *specPartitioner) Partition(msg *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	switch p.kind {
	case spec.PartitionerFixed:
		if p.partition >= 0 && p.partition < numPartitions {
			return p.partition, nil
		}
		return p.fallback.Partition(msg, numPartitions)
	case spec.PartitionerAutoHost:
		h := fnv.New32a()
		_, _ = h.Write([]byte(p.host))
		return int32(h.Sum32() % uint32(numPartitions)), nil
	default:
		return p.fallback.Partition(msg, numPartitions)
	}
}

func (p *specPartitioner) RequiresConsistency() bool {
	return p.kind == spec.PartitionerFixed || p.kind == spec.PartitionerAutoHost
}

// NewMultiPartitioner returns a sarama.PartitionerConstructor that looks up
// each topic's partitioning policy from specs, for a producer shared across
// every FileSpec in a worker's configuration (one AsyncProducer, one
// PartitionerConstructor, many topics).
func NewMultiPartitioner(specs []spec.FileSpec, host string) sarama.PartitionerConstructor {
	byTopic := make(map[string]spec.FileSpec, len(specs))
	for _, fs := range specs {
		byTopic[fs.Topic] = fs
	}
	return func(topic string) sarama.Partitioner {
		fs, ok := byTopic[topic]
		if !ok {
			return sarama.NewHashPartitioner(topic)
		}
		return &specPartitioner{
			kind:      fs.Partitioner,
			partition: fs.Partition,
			host:      host,
			fallback:  sarama.NewHashPartitioner(topic),
		}
	}
}
