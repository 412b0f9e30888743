package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"wsnotifier/pkg/logx"
)

const (
	kafkaMinBytes = 1
	kafkaMaxBytes = maxSnapshotBytes
)

// Kafka consumes snapshots from a topic. The message key names the
// platform; the value is the snapshot JSON.
type Kafka struct {
	cfg Config
	sub Submitter
	log logx.Logger
}

func NewKafka(cfg Config, sub Submitter, log logx.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("source: kafka needs brokers and a topic")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "wsnotifier"
	}
	return &Kafka{cfg: cfg, sub: sub, log: log.With(logx.String("source", KindKafka))}, nil
}

func (k *Kafka) Name() string { return "source." + KindKafka }

func (k *Kafka) newReader() *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         k.cfg.Brokers,
		GroupID:         k.cfg.GroupID,
		Topic:           k.cfg.Topic,
		MinBytes:        kafkaMinBytes,
		MaxBytes:        kafkaMaxBytes,
		MaxWait:         500 * time.Millisecond,
		ReadLagInterval: -1,
	})
}

// Run reads with a consumer group. Offsets are committed only after the
// snapshot was handed to the pipeline.
func (k *Kafka) Run(ctx context.Context) error {
	r := k.newReader()
	defer r.Close()
	k.log.Info("kafka consumer started", logx.String("topic", k.cfg.Topic), logx.String("group", k.cfg.GroupID))

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}
		if err := route(ctx, k.sub, k.cfg.Platforms, string(m.Key), m.Value); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.log.Warn("kafka message skipped",
				logx.String("key", string(m.Key)),
				logx.Int64("offset", m.Offset),
				logx.Err(err),
			)
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kafka commit: %w", err)
		}
	}
}
