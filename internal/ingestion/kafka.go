package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/aevon-lab/aevon-profiler/internal/aggregation"
	v1 "github.com/aevon-lab/aevon-profiler/internal/api/v1"
	"golang.org/x/sync/errgroup"
)

// KafkaSource consumes every partition of one topic and feeds each record's
// messages to a Processor. Offsets are not committed; a restart resumes from
// Offset.
type KafkaSource struct {
	consumer  sarama.Consumer
	topic     string
	offset    int64
	processor Processor
}

// NewKafkaSource creates a source. offset is sarama.OffsetNewest or
// sarama.OffsetOldest.
func NewKafkaSource(consumer sarama.Consumer, topic string, offset int64, p Processor) *KafkaSource {
	if offset == 0 {
		offset = sarama.OffsetNewest
	}
	return &KafkaSource{consumer: consumer, topic: topic, offset: offset, processor: p}
}

// Run blocks until ctx is cancelled or a partition fails to start.
func (k *KafkaSource) Run(ctx context.Context) error {
	partitions, err := k.consumer.Partitions(k.topic)
	if err != nil {
		return fmt.Errorf("list partitions of %q: %w", k.topic, err)
	}

	slog.Info("[Kafka] Starting consumer", "topic", k.topic, "partitions", len(partitions))

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range partitions {
		pc, err := k.consumer.ConsumePartition(k.topic, p, k.offset)
		if err != nil {
			err = fmt.Errorf("consume %s/%d: %w", k.topic, p, err)
			g.Go(func() error { return err })
			break
		}
		g.Go(func() error {
			return k.consume(ctx, p, pc)
		})
	}
	return g.Wait()
}

func (k *KafkaSource) consume(ctx context.Context, partition int32, pc sarama.PartitionConsumer) error {
	defer func() {
		if err := pc.Close(); err != nil {
			slog.Warn("[Kafka] Partition consumer close failed", "partition", partition, "error", err)
		}
	}()

	errs := pc.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-pc.Messages():
			if !ok {
				return nil
			}
			k.handle(ctx, msg)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Error("[Kafka] Consumer error", "partition", partition, "error", err)
		}
	}
}

// handle processes one record. Bad records are logged and skipped.
func (k *KafkaSource) handle(ctx context.Context, rec *sarama.ConsumerMessage) {
	msgs, err := v1.DecodeMessages(rec.Value)
	if err != nil {
		slog.Warn("[Kafka] Skipping undecodable record",
			"partition", rec.Partition,
			"offset", rec.Offset,
			"error", err,
		)
		return
	}
	for _, msg := range msgs {
		err := k.processor.Process(ctx, msg)
		if errors.Is(err, aggregation.ErrStopped) {
			return
		}
		if err != nil {
			slog.Warn("[Kafka] Message evaluation failed",
				"partition", rec.Partition,
				"offset", rec.Offset,
				"error", err,
			)
		}
	}
}
