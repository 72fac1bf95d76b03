package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/flir-etl-service/internal/config"
	"github.com/couchcryptid/flir-etl-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces completion messages to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch publishes completions to the sink topic in a single
// WriteMessages call. Messages are keyed by dataset ID so every completion
// for a dataset lands on the same partition.
func (w *Writer) LoadBatch(ctx context.Context, completions []domain.Completion) error {
	if len(completions) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(completions))
	for i := range completions {
		msg, err := serializeToMessage(completions[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write completions: %w", err)
	}
	w.logger.Debug("completions published", "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Completion into a Kafka message.
func serializeToMessage(c domain.Completion) (kafkago.Message, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize completion: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(c.DatasetID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "extractor", Value: []byte(c.Extractor)},
			{Key: "processed_at", Value: []byte(c.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
