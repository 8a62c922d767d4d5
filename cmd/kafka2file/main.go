// Command kafka2file is the receiver: it consumes one broker partition and
// replays it through a Mirror or Bucket Transform, writing reconstructed
// files to a data directory. Ported from original_source/src/kafka2file.cc,
// using github.com/IBM/sarama's partition consumer in place of the
// original's direct librdkafka simple consumer.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zzyongx/tail2kafka-sub000/internal/bucket"
	"github.com/zzyongx/tail2kafka-sub000/internal/mirror"
	"github.com/zzyongx/tail2kafka-sub000/internal/notify"
	"github.com/zzyongx/tail2kafka-sub000/internal/wire"
)

// sink is the narrow lifecycle interface both receiver-side transforms
// satisfy; their Write methods differ (wire.Message vs. parsed text line) so
// callers dispatch on the concrete type instead of a common Write method.
type sink interface {
	Close() error
}

func main() {
	root := &cobra.Command{
		Use:   "kafka2file <broker> <topic> <partition> (offset-begining|offset-end) <datadir> [<notify-cmd>] [<format>]",
		Short: "Reassemble a Kafka partition into per-host files or time-bucketed JSON.",
		Args:  cobra.RangeArgs(5, 7),
		RunE:  run,
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	broker, topic := args[0], args[1]
	partition, err := strconv.ParseInt(args[2], 10, 32)
	if err != nil {
		return fmt.Errorf("kafka2file: partition %q: %w", args[2], err)
	}
	offsetPolicy := args[3]
	dataDir := args[4]

	notifyCmd := ""
	if len(args) > 5 {
		notifyCmd = args[5]
	}
	format := "raw::raw"
	if len(args) > 6 {
		format = args[6]
	}

	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	notifier := notify.New(notifyCmd, dataDir, topic, int32(partition), log)

	tr, err := buildSink(format, dataDir, topic, int32(partition), notifier, log)
	if err != nil {
		return err
	}
	defer tr.Close()

	consumer, err := sarama.NewConsumer([]string{broker}, nil)
	if err != nil {
		return fmt.Errorf("kafka2file: dial %s: %w", broker, err)
	}
	defer consumer.Close()

	startOffset := sarama.OffsetOldest
	if offsetPolicy == "offset-end" {
		startOffset = sarama.OffsetNewest
	}

	pc, err := consumer.ConsumePartition(topic, int32(partition), startOffset)
	if err != nil {
		return fmt.Errorf("kafka2file: consume %s/%d: %w", topic, partition, err)
	}
	defer pc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	bt, isBucket := tr.(*bucket.Transform)
	mt, _ := tr.(*mirror.Transform)

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-pc.Messages():
			if !ok {
				return nil
			}

			if isBucket {
				if err := bt.Write(string(msg.Value), time.Now()); err != nil {
					log.Warn("kafka2file: bucket write failed", zap.Error(err))
				}
				continue
			}

			decoded, err := wire.Decode(msg.Value)
			if err != nil {
				log.Warn("kafka2file: malformed record, dropping", zap.Error(err))
				continue
			}
			if err := mt.Write(decoded); err != nil {
				return fmt.Errorf("kafka2file: fatal write error, exiting worker: %w", err)
			}

		case err, ok := <-pc.Errors():
			if !ok {
				return nil
			}
			log.Warn("kafka2file: consumer error", zap.Error(err))

		case now := <-ticker.C:
			if isBucket {
				if err := bt.Tick(now); err != nil {
					log.Warn("kafka2file: bucket tick failed", zap.Error(err))
				}
			}
		}
	}
}

// buildSink parses the <informat>:<script>:<outformat>:<interval>:<delay>
// format string (spec.md section 6) and returns the matching transform:
// "raw::raw" selects the Mirror Transform, "nginx:<script>:json:<interval>:
// <delay>" selects the Bucket Transform with an nginx-style request-log
// schema.
func buildSink(format, dataDir, topic string, partition int32, notifier *notify.Command, log *zap.Logger) (sink, error) {
	parts := strings.Split(format, ":")
	informat := parts[0]

	if informat == "raw" || informat == "" {
		return mirror.New(dataDir, topic, partition, notifier, log), nil
	}

	if informat != "nginx" {
		return nil, fmt.Errorf("kafka2file: unknown informat %q", informat)
	}
	if len(parts) < 5 {
		return nil, fmt.Errorf("kafka2file: nginx format needs informat:script:outformat:interval:delay, got %q", format)
	}

	interval, err := strconv.Atoi(parts[3])
	if err != nil {
		return nil, fmt.Errorf("kafka2file: interval %q: %w", parts[3], err)
	}
	delay, err := strconv.Atoi(parts[4])
	if err != nil {
		return nil, fmt.Errorf("kafka2file: delay %q: %w", parts[4], err)
	}

	schema := bucket.Schema{
		Fields:         []string{"remote_addr", "time_local", "request", "status"},
		TimestampField: "time_local",
		RequestField:   "request",
	}

	return bucket.New(dataDir, topic, partition, time.Duration(interval)*time.Second, time.Duration(delay)*time.Second, schema, notifier, log)
}
