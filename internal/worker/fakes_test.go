package worker

import (
	"context"
	"errors"
	"io"
	"sync"

	"order-reconciler/internal/models"
	"order-reconciler/internal/push"
	"order-reconciler/internal/service"
)

// MockIngester records events and returns scripted results
type MockIngester struct {
	mu     sync.Mutex
	Events []models.RawOrderEvent

	IngestFunc func(ctx context.Context, event models.RawOrderEvent) (service.Result, error)
}

func (m *MockIngester) Ingest(ctx context.Context, event models.RawOrderEvent) (service.Result, error) {
	m.mu.Lock()
	m.Events = append(m.Events, event)
	fn := m.IngestFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, event)
	}
	return service.Result{Key: event.Key(), Status: service.StatusCreated}, nil
}

func (m *MockIngester) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events)
}

func aborted(event models.RawOrderEvent) (service.Result, error) {
	return service.Result{Key: event.Key(), Status: service.StatusAborted},
		&service.AbortError{Stage: service.StageTicket, Err: errors.New("503")}
}

// MockFeed serves fixed rows
type MockFeed struct {
	Rows      []models.FeedRow
	Err       error
	Watermark string
	Phones    []string
}

func (m *MockFeed) FetchEventsSince(_ context.Context, watermark string) ([]models.FeedRow, error) {
	m.Watermark = watermark
	if m.Err != nil {
		return nil, m.Err
	}
	var out []models.FeedRow
	for _, r := range m.Rows {
		n := r.Normalize()
		if models.Composite(n.Date, n.Time) > watermark {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockFeed) FetchEventsByPhone(_ context.Context, phone string) ([]models.FeedRow, error) {
	m.Phones = append(m.Phones, phone)
	if m.Err != nil {
		return nil, m.Err
	}
	var out []models.FeedRow
	for _, r := range m.Rows {
		if r.Phone == phone {
			out = append(out, r)
		}
	}
	return out, nil
}

// fakeStream replays messages, then fails
type fakeStream struct {
	messages []models.PushMessage
	acks     int
	closed   bool
}

func (s *fakeStream) Next(ctx context.Context) (models.PushMessage, error) {
	if err := ctx.Err(); err != nil {
		return models.PushMessage{}, err
	}
	if len(s.messages) == 0 {
		return models.PushMessage{}, io.ErrUnexpectedEOF
	}
	msg := s.messages[0]
	s.messages = s.messages[1:]
	return msg, nil
}

func (s *fakeStream) Ack(context.Context) error {
	s.acks++
	return nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// fakeDialer hands out streams in order; DialFunc runs first on each dial
type fakeDialer struct {
	streams  []*fakeStream
	dials    int
	DialFunc func(n int) error
}

func (d *fakeDialer) Dial(context.Context) (push.Stream, error) {
	d.dials++
	if d.DialFunc != nil {
		if err := d.DialFunc(d.dials); err != nil {
			return nil, err
		}
	}
	if len(d.streams) == 0 {
		return nil, errors.New("connection refused")
	}
	s := d.streams[0]
	d.streams = d.streams[1:]
	return s, nil
}
