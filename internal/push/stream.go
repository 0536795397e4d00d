package push

import (
	"context"

	"order-reconciler/internal/models"
)

// Stream delivers push messages from one connection
type Stream interface {
	// Next blocks until a message arrives. Any error ends the stream.
	Next(ctx context.Context) (models.PushMessage, error)
	// Ack confirms the message last returned by Next
	Ack(ctx context.Context) error
	Close() error
}

// Dialer opens a new Stream; the listener calls it again after every failure
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}
