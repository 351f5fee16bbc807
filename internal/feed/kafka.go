package feed

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rsclarke/beehive/internal/logging"
	"github.com/rsclarke/beehive/internal/messages"
	"github.com/rsclarke/beehive/internal/models"
)

// MessageWriter writes records to a topic. *kafka.Writer satisfies it.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink mirrors classified sessions onto a Kafka topic keyed by session
// id. Merge notifications are not mirrored; the merged bait session that
// follows carries the outcome.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaSink builds an asynchronous writer for the given brokers and topic.
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	log := logger.With(logging.Component("kafka-writer"))
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
		Async:    true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn("kafka delivery failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error(fmt.Sprintf(msg, args...))
		}),
	}
	return NewKafkaSinkWithWriter(writer)
}

// NewKafkaSinkWithWriter wraps an existing writer.
func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (s *KafkaSink) ID() string { return "kafka" }

func (s *KafkaSink) OnSessionClassified(ctx context.Context, sess *models.Session) error {
	data, err := messages.FormatSession(sess)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(sess.ID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "classification", Value: []byte(sess.Classification)},
			{Key: "origin", Value: []byte(sess.Origin)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
