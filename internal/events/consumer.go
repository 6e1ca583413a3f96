package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/observability/logging"
)

// DefaultConsumerGroup is used when Config.ConsumerGroup is empty.
const DefaultConsumerGroup = "transcription-tail"

// ErrKafkaDisabled is returned by NewConsumer without brokers.
var ErrKafkaDisabled = errors.New("kafka is not configured")

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads transcript events from the partial and final topics.
type Consumer struct {
	reader messageReader
	log    zerolog.Logger
}

// NewConsumer joins the consumer group for both transcript topics. Only new
// messages are read.
func NewConsumer(cfg *Config) (*Consumer, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, ErrKafkaDisabled
	}
	group := cfg.ConsumerGroup
	if group == "" {
		group = DefaultConsumerGroup
	}

	var topics []string
	for _, t := range []string{cfg.TopicPartial, cfg.TopicFinal} {
		if t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("no topics configured")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     group,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	})

	c := &Consumer{reader: reader, log: logging.WithComponent("consumer")}
	c.log.Info().Strs("brokers", cfg.Brokers).Strs("topics", topics).Str("group", group).Msg("Kafka consumer initialized")
	return c, nil
}

// Run delivers events to handle until ctx is cancelled or handle fails.
// Messages that do not decode are logged and skipped.
func (c *Consumer) Run(ctx context.Context, handle func(models.TranscriptEvent) error) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		var ev models.TranscriptEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.log.Warn().Err(err).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("Skipping undecodable message")
			continue
		}
		if err := handle(ev); err != nil {
			return err
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
