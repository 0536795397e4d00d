package broker

import (
	"context"
	"encoding/json"

	"order-reconciler/internal/models"
	"order-reconciler/internal/push"
	"order-reconciler/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// KafkaDialer reads push envelopes from a Kafka topic instead of a websocket
type KafkaDialer struct {
	Brokers []string
	Topic   string
	GroupID string
}

func (d *KafkaDialer) Dial(context.Context) (push.Stream, error) {
	return newKafkaStream(NewConsumer(d.Brokers, d.Topic, d.GroupID)), nil
}

type kafkaStream struct {
	source  messageSource
	pending *kafka.Message
	logger  *zap.Logger
}

func newKafkaStream(source messageSource) *kafkaStream {
	return &kafkaStream{source: source, logger: util.GetLogger()}
}

// Next skips and commits messages that are not valid envelopes
func (s *kafkaStream) Next(ctx context.Context) (models.PushMessage, error) {
	for {
		msg, err := s.source.FetchMessage(ctx)
		if err != nil {
			return models.PushMessage{}, err
		}

		var env models.PushMessage
		if err := json.Unmarshal(msg.Value, &env); err != nil || env.Event == "" {
			s.logger.Warn("Skipping malformed push message",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			if err := s.source.CommitMessage(ctx, msg); err != nil {
				return models.PushMessage{}, err
			}
			continue
		}

		s.pending = &msg
		return env, nil
	}
}

func (s *kafkaStream) Ack(ctx context.Context) error {
	if s.pending == nil {
		return nil
	}
	msg := *s.pending
	s.pending = nil
	return s.source.CommitMessage(ctx, msg)
}

func (s *kafkaStream) Close() error {
	return s.source.Close()
}
