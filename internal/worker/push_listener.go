package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"order-reconciler/internal/clock"
	"order-reconciler/internal/dedup"
	"order-reconciler/internal/models"
	"order-reconciler/internal/push"
	"order-reconciler/internal/service"
	"order-reconciler/internal/util"

	"go.uber.org/zap"
)

// DefaultReconnectDelay is the fixed wait before redialing the push stream
const DefaultReconnectDelay = 5 * time.Second

// PhoneFeed returns every feed row of one customer
type PhoneFeed interface {
	FetchEventsByPhone(ctx context.Context, phone string) ([]models.FeedRow, error)
}

// PushListener keeps a push stream open and ingests order notifications
type PushListener struct {
	dialer         push.Dialer
	feed           PhoneFeed
	pipeline       Ingester
	sessions       *dedup.BoundedSet
	reconnectDelay time.Duration
	clock          clock.Clock
	logger         *zap.Logger
}

// NewPushListener creates a listener; sessionCap bounds the per-process session memory
func NewPushListener(dialer push.Dialer, feed PhoneFeed, pipeline Ingester, sessionCap int, reconnectDelay time.Duration, c clock.Clock) *PushListener {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	if c == nil {
		c = clock.Real{}
	}
	return &PushListener{
		dialer:         dialer,
		feed:           feed,
		pipeline:       pipeline,
		sessions:       dedup.NewBoundedSet(sessionCap),
		reconnectDelay: reconnectDelay,
		clock:          c,
		logger:         util.GetLogger(),
	}
}

// Start dials and consumes until ctx is cancelled, reconnecting after every failure
func (l *PushListener) Start(ctx context.Context) error {
	l.logger.Info("Starting push listener")

	for {
		stream, err := l.dialer.Dial(ctx)
		if err != nil {
			l.logger.Warn("Push stream connect failed", zap.Error(err))
		} else {
			l.logger.Info("Push stream connected")
			err = l.consume(ctx, stream)
			_ = stream.Close()
			if ctx.Err() == nil {
				l.logger.Warn("Push stream lost", zap.Error(err))
			}
		}

		if ctx.Err() != nil {
			l.logger.Info("Stopping push listener")
			return ctx.Err()
		}

		util.PushReconnectsTotal.Inc()
		if err := l.clock.Sleep(ctx, l.reconnectDelay); err != nil {
			l.logger.Info("Stopping push listener")
			return err
		}
	}
}

func (l *PushListener) consume(ctx context.Context, stream push.Stream) error {
	for {
		msg, err := stream.Next(ctx)
		if err != nil {
			return err
		}

		if err := l.Handle(ctx, msg); err != nil {
			l.logger.Error("Failed to handle push message",
				zap.String("event", msg.Event),
				zap.Error(err))
		}

		if err := stream.Ack(ctx); err != nil {
			return fmt.Errorf("failed to ack push message: %w", err)
		}
	}
}

// Handle dispatches one push message. Only order events reach the pipeline.
func (l *PushListener) Handle(ctx context.Context, msg models.PushMessage) error {
	util.PushMessagesTotal.WithLabelValues(msg.Event).Inc()

	switch msg.Event {
	case models.PushEventNewOrder:
		return l.handleNewOrder(ctx, msg.Data)
	case models.PushEventCustomMessage:
		return l.handleCustomMessage(ctx, msg.Data)
	case models.PushEventNewMessage, models.PushEventGeminiReply,
		models.PushEventSessionUpdate, models.PushEventSessionNotification:
		l.logger.Debug("Ignoring chat event", zap.String("event", msg.Event))
	default:
		l.logger.Debug("Ignoring unknown push event", zap.String("event", msg.Event))
	}
	return nil
}

func (l *PushListener) handleNewOrder(ctx context.Context, data json.RawMessage) error {
	var payload models.PushPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("invalid new_order payload: %w", err)
	}
	record := data
	if len(payload.Novo) > 0 && string(payload.Novo) != "null" {
		record = payload.Novo
	}

	var order models.PushOrder
	if err := json.Unmarshal(record, &order); err != nil {
		return fmt.Errorf("invalid new_order record: %w", err)
	}

	event := models.RawOrderEvent{
		Name:   order.Name,
		Phone:  strings.TrimSpace(order.Phone),
		Date:   models.NormalizeDate(order.Date),
		Time:   models.NormalizeTime(order.Time),
		Lines:  order.Lines(),
		Source: models.SourcePush,
	}
	if event.Date == "" || event.Time == "" {
		ts := l.clock.Now()
		if order.CreatedAt != nil {
			ts = *order.CreatedAt
		}
		event.Date = ts.Format("2006-01-02")
		event.Time = ts.Format("15:04:05")
	}

	l.ingest(ctx, event)
	return nil
}

func (l *PushListener) handleCustomMessage(ctx context.Context, data json.RawMessage) error {
	var payload models.PushPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("invalid custom_message payload: %w", err)
	}
	phone := strings.TrimSpace(payload.SessionID)
	if phone == "" {
		return nil
	}

	rows, err := l.feed.FetchEventsByPhone(ctx, phone)
	if err != nil {
		return fmt.Errorf("failed to fetch orders of %s: %w", phone, err)
	}

	for _, group := range models.GroupRows(rows) {
		group.Source = models.SourcePush
		l.ingest(ctx, group)
	}
	return nil
}

// ingest applies the session cap; aborted events stay eligible for another attempt
func (l *PushListener) ingest(ctx context.Context, event models.RawOrderEvent) {
	key := sessionKey(event).String()
	if l.sessions.Contains(key) {
		util.DedupSkippedTotal.WithLabelValues(models.SourcePush).Inc()
		return
	}

	res, err := l.pipeline.Ingest(ctx, event)
	if err != nil {
		l.logger.Warn("Push order not processed",
			zap.String("phone", event.Phone),
			zap.String("status", string(res.Status)),
			zap.Error(err))
	}
	if res.Status != service.StatusAborted {
		l.sessions.Add(key)
	}
}

func sessionKey(event models.RawOrderEvent) models.DedupKey {
	ts, err := time.Parse("2006-01-02T15:04:05", event.Composite())
	if err != nil {
		return event.Key()
	}
	return models.PushDedupKey(event.Phone, ts)
}
