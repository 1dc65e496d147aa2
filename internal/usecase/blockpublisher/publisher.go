package blockpublisher

import (
	"context"
	"encoding/json"
	"strconv"

	blockv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/block/v1"
	"github.com/anylots/zkvm-clob-exchange/pkg/config"
	"github.com/anylots/zkvm-clob-exchange/pkg/errors"
	"github.com/anylots/zkvm-clob-exchange/pkg/logger"
	"github.com/segmentio/kafka-go"
)

// Publisher pushes sealed blocks onto a Kafka topic for downstream consumers
// (indexers, market data). Block production never depends on a publish
// succeeding.
type Publisher struct {
	kafkaWriter *kafka.Writer
	logger      logger.Interface
}

// NewPublisher creates a Kafka publisher for block events.
func NewPublisher(cfg config.KafkaConfig, log logger.Interface) *Publisher {
	kafkaWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
	})

	return &Publisher{
		kafkaWriter: kafkaWriter,
		logger:      log,
	}
}

// PublishBlock publishes a sealed block keyed by its block number.
func (p *Publisher) PublishBlock(ctx context.Context, block *blockv1.Block) error {
	value, err := json.Marshal(block)
	if err != nil {
		return errors.NewTracer("marshal block event").Wrap(err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(block.Number, 10)),
		Value: value,
	}

	if err := p.kafkaWriter.WriteMessages(ctx, msg); err != nil {
		p.logger.Error(err,
			logger.Field{Key: "blockNumber", Value: block.Number},
			logger.Field{Key: "trades", Value: len(block.Trades)},
		)
		return errors.NewTracer("failed to publish block event").Wrap(err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *Publisher) Close() error {
	return p.kafkaWriter.Close()
}
