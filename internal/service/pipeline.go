package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"order-reconciler/internal/dedup"
	"order-reconciler/internal/models"
	"order-reconciler/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidEvent is returned for events missing phone, date or lines
var ErrInvalidEvent = errors.New("invalid order event")

// Status is the final state of one ingested event
type Status string

const (
	StatusCreated Status = "created"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusAborted Status = "aborted"
)

// Result is returned by Ingest for every event
type Result struct {
	Key      models.DedupKey `json:"-"`
	Status   Status          `json:"status"`
	Customer models.Customer `json:"customer"`
	WalkIn   bool            `json:"walk_in"`
	Outcome  Outcome         `json:"outcome"`
}

// Cascader creates the downstream records of one event
type Cascader interface {
	CreateCascade(ctx context.Context, customer models.Customer, lines []models.RawOrderLine, date, hour string) (Outcome, error)
}

// TicketFinder returns the ids of downstream ticket numbers registered for the
// same phone, date and time
type TicketFinder interface {
	FindTicketNumbers(ctx context.Context, phone, date, hour string) ([]int64, error)
}

// OutcomePublisher announces cascade verdicts
type OutcomePublisher interface {
	PublishCascadeOutcome(ctx context.Context, event *models.CascadeOutcomeEvent) error
}

// Pipeline is the single ingestion path shared by every adapter
type Pipeline struct {
	dedup     dedup.Store
	resolver  *CustomerResolver
	tickets   TicketFinder
	cascade   Cascader
	publisher OutcomePublisher
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	// tickets left behind by header aborts; a retry must not mistake them for a finished order
	orphaned map[string]map[int64]struct{}
}

// NewPipeline creates a pipeline; tickets and publisher may be nil
func NewPipeline(store dedup.Store, resolver *CustomerResolver, tickets TicketFinder, cascade Cascader, publisher OutcomePublisher) *Pipeline {
	return &Pipeline{
		dedup:     store,
		resolver:  resolver,
		tickets:   tickets,
		cascade:   cascade,
		publisher: publisher,
		logger:    util.GetLogger(),
		inFlight:  make(map[string]struct{}),
		orphaned:  make(map[string]map[int64]struct{}),
	}
}

// Ingest runs dedup, customer resolution and the cascade for one event.
// A hard abort is returned as *AbortError and the event is not marked seen.
func (p *Pipeline) Ingest(ctx context.Context, event models.RawOrderEvent) (Result, error) {
	ctx, span := util.StartSpan(ctx, "Pipeline.Ingest")
	defer span.End()

	key := event.Key()
	result := Result{Key: key}
	source := event.Source
	if source == "" {
		source = models.SourceManual
	}

	if err := validate(event); err != nil {
		result.Status = StatusSkipped
		return result, err
	}

	seen, err := p.dedup.Seen(ctx, key)
	if err != nil {
		p.logger.Warn("Dedup check failed, processing event", zap.String("key", key.String()), zap.Error(err))
	}
	if seen {
		util.DedupSkippedTotal.WithLabelValues(source).Inc()
		p.logger.Info("Event already processed",
			zap.String("phone", event.Phone),
			zap.String("date", event.Date),
			zap.String("time", event.Time))
		result.Status = StatusSkipped
		return result, nil
	}

	if !p.acquire(key) {
		util.DedupSkippedTotal.WithLabelValues(source).Inc()
		p.logger.Info("Event already in flight", zap.String("key", key.String()))
		result.Status = StatusSkipped
		return result, nil
	}
	defer p.release(key)

	// From here on the event runs to completion even if the adapter is stopping.
	cascadeCtx := context.WithoutCancel(ctx)

	if ticketID, exists := p.ticketExists(cascadeCtx, event); exists {
		util.DedupSkippedTotal.WithLabelValues(source).Inc()
		p.logger.Info("Ticket number already exists downstream",
			zap.String("phone", event.Phone),
			zap.String("date", event.Date),
			zap.String("time", event.Time),
			zap.Int64("ticket_id", ticketID))
		if err := p.dedup.MarkSeen(cascadeCtx, key); err != nil {
			p.logger.Error("Failed to mark event processed", zap.String("key", key.String()), zap.Error(err))
		}
		result.Status = StatusSkipped
		result.Outcome.TicketID = ticketID
		return result, nil
	}

	customer, found := p.resolver.Resolve(cascadeCtx, event.Phone)
	if !found {
		customer = p.resolver.WalkIn(event.Name, event.Phone)
		result.WalkIn = true
	}
	result.Customer = customer

	start := time.Now()
	outcome, err := p.cascade.CreateCascade(cascadeCtx, customer, event.Lines, event.Date, event.Time)
	util.CascadeDuration.Observe(time.Since(start).Seconds())
	result.Outcome = outcome

	if err != nil {
		result.Status = StatusAborted
		util.CascadesTotal.WithLabelValues(string(result.Status)).Inc()
		p.logger.Error("Cascade aborted, event will be retried",
			zap.String("phone", event.Phone),
			zap.String("date", event.Date),
			zap.String("time", event.Time),
			zap.Error(err))
		p.publish(cascadeCtx, source, event, result)

		var abort *AbortError
		if errors.As(err, &abort) {
			if abort.Stage == StageOrder && outcome.TicketID != 0 {
				p.markOrphaned(key, outcome.TicketID)
			}
			return result, abort
		}
		return result, &AbortError{Stage: StageTicket, Err: err}
	}

	switch {
	case outcome.Success && outcome.Created == outcome.Total:
		result.Status = StatusCreated
	case outcome.Success:
		result.Status = StatusPartial
	default:
		result.Status = StatusFailed
	}
	util.CascadesTotal.WithLabelValues(string(result.Status)).Inc()

	if err := p.dedup.MarkSeen(cascadeCtx, key); err != nil {
		p.logger.Error("Failed to mark event processed", zap.String("key", key.String()), zap.Error(err))
	}
	p.mu.Lock()
	delete(p.orphaned, key.String())
	p.mu.Unlock()

	log := p.logger.Info
	if result.Status == StatusFailed {
		log = p.logger.Warn
	}
	log("Cascade finished",
		zap.String("status", string(result.Status)),
		zap.String("phone", event.Phone),
		zap.String("date", event.Date),
		zap.String("time", event.Time),
		zap.Int64("ticket_id", outcome.TicketID),
		zap.Bool("walk_in", result.WalkIn),
		zap.Float64("ratio", outcome.Ratio),
		zap.String("report", outcome.Report))

	p.publish(cascadeCtx, source, event, result)
	return result, nil
}

// ticketExists treats a failed lookup as "not found": a duplicate ticket is
// preferred over a lost order.
func (p *Pipeline) ticketExists(ctx context.Context, event models.RawOrderEvent) (int64, bool) {
	if p.tickets == nil {
		return 0, false
	}
	ids, err := p.tickets.FindTicketNumbers(ctx, event.Phone, event.Date, event.Time)
	if err != nil {
		p.logger.Warn("Ticket number lookup failed, creating cascade",
			zap.String("phone", event.Phone),
			zap.Error(err))
		return 0, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	orphans := p.orphaned[event.Key().String()]
	for _, id := range ids {
		if _, orphan := orphans[id]; !orphan {
			return id, true
		}
	}
	return 0, false
}

func (p *Pipeline) markOrphaned(key models.DedupKey, ticketID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key.String()
	if p.orphaned[k] == nil {
		p.orphaned[k] = make(map[int64]struct{})
	}
	p.orphaned[k][ticketID] = struct{}{}
}

func validate(event models.RawOrderEvent) error {
	switch {
	case strings.TrimSpace(event.Phone) == "":
		return fmt.Errorf("%w: missing phone", ErrInvalidEvent)
	case event.Date == "" || event.Time == "":
		return fmt.Errorf("%w: missing date or time", ErrInvalidEvent)
	case len(event.Lines) == 0:
		return fmt.Errorf("%w: no order lines", ErrInvalidEvent)
	}
	return nil
}

func (p *Pipeline) acquire(key models.DedupKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key.String()
	if _, busy := p.inFlight[k]; busy {
		return false
	}
	p.inFlight[k] = struct{}{}
	return true
}

func (p *Pipeline) release(key models.DedupKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, key.String())
}

func (p *Pipeline) publish(ctx context.Context, source string, event models.RawOrderEvent, result Result) {
	if p.publisher == nil {
		return
	}

	outcome := result.Outcome
	ev := &models.CascadeOutcomeEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType(result.Status),
			Timestamp: time.Now(),
		},
		Source:        source,
		Phone:         event.Phone,
		Date:          event.Date,
		Time:          event.Time,
		CustomerID:    result.Customer.ID,
		WalkIn:        result.WalkIn,
		TicketID:      outcome.TicketID,
		OrderHeaderID: outcome.OrderHeaderID,
		ItemsCreated:  outcome.Created,
		ItemsTotal:    outcome.Total,
		Ratio:         outcome.Ratio,
		Report:        outcome.Report,
	}

	if err := p.publisher.PublishCascadeOutcome(ctx, ev); err != nil {
		p.logger.Error("Failed to publish cascade outcome",
			zap.String("event_type", ev.EventType),
			zap.String("phone", event.Phone),
			zap.Error(err))
	}
}

func eventType(status Status) string {
	switch status {
	case StatusCreated:
		return models.EventTypeCascadeCompleted
	case StatusPartial:
		return models.EventTypeCascadePartial
	case StatusAborted:
		return models.EventTypeCascadeAborted
	default:
		return models.EventTypeCascadeFailed
	}
}
