package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"order-reconciler/internal/backendapi"
	"order-reconciler/internal/clock"
	"order-reconciler/internal/models"
	"order-reconciler/internal/ratelimit"
	"order-reconciler/internal/retry"
)

var errUnavailable = errors.New("503 service unavailable")

// MockDownstream records every create call in order
type MockDownstream struct {
	mu    sync.Mutex
	calls []string

	Tickets []models.TicketNumberPayload
	Headers []models.OrderHeaderPayload
	Items   []models.OrderItemPayload

	TicketFunc func(ctx context.Context, p models.TicketNumberPayload) (int64, error)
	HeaderFunc func(ctx context.Context, p models.OrderHeaderPayload) (int64, error)
	ItemFunc   func(ctx context.Context, p models.OrderItemPayload) (int64, error)

	nextID int64
}

func (m *MockDownstream) id() int64 {
	m.nextID++
	return 100 + m.nextID
}

func (m *MockDownstream) CreateTicketNumber(ctx context.Context, p models.TicketNumberPayload) (int64, error) {
	m.mu.Lock()
	m.calls = append(m.calls, "ticket")
	m.Tickets = append(m.Tickets, p)
	fn := m.TicketFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id(), nil
}

func (m *MockDownstream) CreateOrderHeader(ctx context.Context, p models.OrderHeaderPayload) (int64, error) {
	m.mu.Lock()
	m.calls = append(m.calls, "order")
	m.Headers = append(m.Headers, p)
	fn := m.HeaderFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id(), nil
}

func (m *MockDownstream) CreateOrderItem(ctx context.Context, p models.OrderItemPayload) (int64, error) {
	m.mu.Lock()
	m.calls = append(m.calls, "item")
	m.Items = append(m.Items, p)
	fn := m.ItemFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id(), nil
}

func (m *MockDownstream) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// MockPricer returns fixed prices
type MockPricer struct {
	Prices    map[int64]float64
	PriceFunc func(ctx context.Context, productID int64) (float64, error)
}

func (m *MockPricer) UnitPrice(ctx context.Context, productID int64) (float64, error) {
	if m.PriceFunc != nil {
		return m.PriceFunc(ctx, productID)
	}
	price, ok := m.Prices[productID]
	if !ok {
		return 0, backendapi.ErrNotFound
	}
	return price, nil
}

// MockCustomerLookup serves customers from a map keyed by phone
type MockCustomerLookup struct {
	Customers  map[string]models.Customer
	LookupFunc func(ctx context.Context, phone string) (*models.Customer, error)
	calls      int
}

func (m *MockCustomerLookup) LookupCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	m.calls++
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, phone)
	}
	c, ok := m.Customers[phone]
	if !ok {
		return nil, backendapi.ErrNotFound
	}
	return &c, nil
}

// MockTicketFinder serves downstream ticket ids keyed by phone
type MockTicketFinder struct {
	IDs      map[string][]int64
	FindFunc func(ctx context.Context, phone, date, hour string) ([]int64, error)
	calls    int
}

func (m *MockTicketFinder) FindTicketNumbers(ctx context.Context, phone, date, hour string) ([]int64, error) {
	m.calls++
	if m.FindFunc != nil {
		return m.FindFunc(ctx, phone, date, hour)
	}
	return m.IDs[phone], nil
}

// MockPublisher collects published outcome events
type MockPublisher struct {
	mu     sync.Mutex
	Events []*models.CascadeOutcomeEvent
}

func (m *MockPublisher) PublishCascadeOutcome(_ context.Context, event *models.CascadeOutcomeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
	return nil
}

func (m *MockPublisher) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.Events))
	for _, e := range m.Events {
		types = append(types, e.EventType)
	}
	return types
}

func noSleepPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func newTestCascade(downstream Downstream, pricer Pricer) (*CascadeCreator, *clock.FakeClock) {
	clk := clock.NewFakeClock(time.Date(2025, 10, 27, 16, 32, 32, 0, time.UTC))
	limiter := ratelimit.NewLimiter(clk)
	return NewCascadeCreator(downstream, pricer, limiter, ratelimit.DefaultIntervals(), noSleepPolicy(), nil), clk
}

func lines(n int) []models.RawOrderLine {
	out := make([]models.RawOrderLine, n)
	for i := range out {
		out[i] = models.RawOrderLine{ProductID: int64(10101 + i), Quantity: 1, Note: "Completo"}
	}
	return out
}
