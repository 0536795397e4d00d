package service

import (
	"context"
	"fmt"
	"time"

	"order-reconciler/internal/models"
	"order-reconciler/internal/ratelimit"
	"order-reconciler/internal/retry"
	"order-reconciler/internal/util"

	"go.uber.org/zap"
)

// Cascade stages that abort the whole cascade when they fail
const (
	StageTicket = "ticket"
	StageOrder  = "order"
)

// Downstream creates the three record levels of a cascade
type Downstream interface {
	CreateTicketNumber(ctx context.Context, payload models.TicketNumberPayload) (int64, error)
	CreateOrderHeader(ctx context.Context, payload models.OrderHeaderPayload) (int64, error)
	CreateOrderItem(ctx context.Context, payload models.OrderItemPayload) (int64, error)
}

// Pricer resolves the unit price of a product
type Pricer interface {
	UnitPrice(ctx context.Context, productID int64) (float64, error)
}

// RateLimiter spaces calls of the same operation class
type RateLimiter interface {
	Wait(ctx context.Context, class string, minInterval time.Duration) error
}

// AbortError means the ticket or the order header could not be created.
// No item was attempted.
type AbortError struct {
	Stage string
	Err   error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("cascade aborted at %s stage: %v", e.Stage, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// CascadeCreator creates ticket, order header and items in that order
type CascadeCreator struct {
	downstream Downstream
	pricer     Pricer
	limiter    RateLimiter
	intervals  ratelimit.Intervals
	policy     retry.Policy
	aggregator *Aggregator
	logger     *zap.Logger
}

// NewCascadeCreator wires a cascade creator. Every downstream call goes through
// the limiter and the retry policy.
func NewCascadeCreator(
	downstream Downstream,
	pricer Pricer,
	limiter RateLimiter,
	intervals ratelimit.Intervals,
	policy retry.Policy,
	aggregator *Aggregator,
) *CascadeCreator {
	if intervals == nil {
		intervals = ratelimit.DefaultIntervals()
	}
	if aggregator == nil {
		aggregator = NewAggregator(DefaultSuccessThreshold)
	}
	return &CascadeCreator{
		downstream: downstream,
		pricer:     pricer,
		limiter:    limiter,
		intervals:  intervals,
		policy:     policy,
		aggregator: aggregator,
		logger:     util.GetLogger(),
	}
}

// CreateCascade never rolls back: a failed header leaves the ticket orphaned and
// failed items leave the rest in place.
func (c *CascadeCreator) CreateCascade(
	ctx context.Context,
	customer models.Customer,
	lines []models.RawOrderLine,
	date, hour string,
) (Outcome, error) {
	ctx, span := util.StartSpan(ctx, "CascadeCreator.CreateCascade")
	defer span.End()

	log := c.logger.With(
		zap.String("phone", customer.Phone),
		zap.String("date", date),
		zap.String("time", hour),
		zap.Int64("customer_id", customer.ID))

	ticketID, err := c.createTicket(ctx, customer, date, hour)
	if err != nil {
		log.Error("Ticket number creation failed, aborting cascade", zap.Error(err))
		util.RecordError(span, err)
		return Outcome{Total: len(lines)}, &AbortError{Stage: StageTicket, Err: err}
	}
	log = log.With(zap.Int64("ticket_id", ticketID))

	headerID, err := c.createHeader(ctx, customer, ticketID, hour)
	if err != nil {
		log.Error("Order header creation failed, ticket left orphaned", zap.Error(err))
		util.RecordError(span, err)
		return Outcome{Total: len(lines), TicketID: ticketID}, &AbortError{Stage: StageOrder, Err: err}
	}
	log = log.With(zap.Int64("order_header_id", headerID))

	results := make([]bool, len(lines))
	itemIDs := make([]int64, len(lines))
	for i, line := range lines {
		id, err := c.createItem(ctx, customer, ticketID, headerID, line, date, hour, i+1)
		if err != nil {
			util.CascadeItemsTotal.WithLabelValues("failed").Inc()
			log.Error("Order item creation failed",
				zap.Int("item", i+1),
				zap.Int64("product_id", line.ProductID),
				zap.Error(err))
			continue
		}
		util.CascadeItemsTotal.WithLabelValues("created").Inc()
		results[i] = true
		itemIDs[i] = id
	}

	outcome := c.aggregator.Aggregate(results)
	outcome.TicketID = ticketID
	outcome.OrderHeaderID = headerID
	outcome.ItemIDs = itemIDs
	return outcome, nil
}

func (c *CascadeCreator) createTicket(ctx context.Context, customer models.Customer, date, hour string) (int64, error) {
	ctx, span := util.StartSpan(ctx, "Cascade.Ticket")
	defer span.End()

	payload := models.TicketNumberPayload{
		CustomerID: customer.ID,
		Name:       customer.Name,
		Surname:    customer.Surname,
		Phone:      customer.Phone,
		Date:       date,
		Time:       hour,
	}
	return c.call(ctx, ratelimit.ClassTicket, "create_ticket", func(ctx context.Context) (int64, error) {
		return c.downstream.CreateTicketNumber(ctx, payload)
	})
}

func (c *CascadeCreator) createHeader(ctx context.Context, customer models.Customer, ticketID int64, hour string) (int64, error) {
	ctx, span := util.StartSpan(ctx, "Cascade.Order")
	defer span.End()

	payload := models.OrderHeaderPayload{
		CustomerID: customer.ID,
		TicketID:   ticketID,
		Time:       hour,
		Active:     true,
	}
	return c.call(ctx, ratelimit.ClassOrder, "create_order", func(ctx context.Context) (int64, error) {
		return c.downstream.CreateOrderHeader(ctx, payload)
	})
}

func (c *CascadeCreator) createItem(
	ctx context.Context,
	customer models.Customer,
	ticketID, headerID int64,
	line models.RawOrderLine,
	date, hour string,
	index int,
) (int64, error) {
	ctx, span := util.StartSpan(ctx, "Cascade.Item")
	defer span.End()

	price, err := c.pricer.UnitPrice(ctx, line.ProductID)
	if err != nil {
		util.FallbacksTotal.WithLabelValues("price").Inc()
		c.logger.Warn("Price lookup failed, creating item with unit price 0",
			zap.String("phone", customer.Phone),
			zap.Int("item", index),
			zap.Int64("product_id", line.ProductID),
			zap.Error(err))
		price = 0
	}

	payload := models.OrderItemPayload{
		CustomerID:    customer.ID,
		TicketID:      ticketID,
		OrderHeaderID: headerID,
		ProductID:     line.ProductID,
		Quantity:      line.Quantity,
		Note:          line.Note,
		UnitPrice:     price,
		Date:          date,
		Time:          hour,
	}
	id, err := c.call(ctx, ratelimit.ClassItem, "create_item", func(ctx context.Context) (int64, error) {
		return c.downstream.CreateOrderItem(ctx, payload)
	})
	util.RecordError(span, err)
	return id, err
}

// call rate-limits and retries one downstream create. Each attempt waits its turn.
func (c *CascadeCreator) call(ctx context.Context, class, operation string, fn func(context.Context) (int64, error)) (int64, error) {
	policy := c.policy
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		util.DownstreamRetriesTotal.WithLabelValues(operation).Inc()
		c.logger.Debug("Retrying downstream call",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}

	return retry.Do(ctx, policy, func(ctx context.Context) (int64, error) {
		if err := c.limiter.Wait(ctx, class, c.intervals[class]); err != nil {
			return 0, err
		}
		return fn(ctx)
	})
}
