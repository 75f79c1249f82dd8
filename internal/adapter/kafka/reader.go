// Package kafka connects the service to its broker: a consumer for the alert
// feed topic and an optional producer for normalized observations.
package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/challenge-score-etl/internal/config"
	"github.com/couchcryptid/challenge-score-etl/internal/domain"
)

// Reader consumes raw alert messages from the feed topic.
// It implements alertfeed.BatchExtractor.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewReader creates a consumer for the configured alert topic. Offsets are
// committed explicitly after each message is durably stored.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaAlertTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // synchronous commits
	})
	return &Reader{reader: r, logger: logger}
}

// ExtractBatch reads up to batchSize messages. It blocks for the first
// message, then drains whatever else is available without waiting, so a
// quiet topic yields small batches quickly.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawAlert, error) {
	first, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	batch := make([]domain.RawAlert, 0, batchSize)
	batch = append(batch, r.mapMessage(first))

	for len(batch) < batchSize {
		drainCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		msg, err := r.reader.FetchMessage(drainCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return batch, nil
		}
		batch = append(batch, r.mapMessage(msg))
	}
	return batch, nil
}

func (r *Reader) mapMessage(msg kafkago.Message) domain.RawAlert {
	raw := mapMessageToRawAlert(msg)
	raw.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return raw
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToRawAlert copies the broker message into the domain type.
func mapMessageToRawAlert(msg kafkago.Message) domain.RawAlert {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.RawAlert{
		Key:       msg.Key,
		Value:     msg.Value,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Headers:   headers,
	}
}
