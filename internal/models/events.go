package models

import (
	"encoding/json"
	"time"
)

// Push stream event types
const (
	PushEventNewOrder            = "new_order"
	PushEventCustomMessage       = "custom_message"
	PushEventNewMessage          = "new_message"
	PushEventGeminiReply         = "gemini_reply"
	PushEventSessionUpdate       = "session_update"
	PushEventSessionNotification = "session_notification"
)

// Outcome event types
const (
	EventTypeCascadeCompleted = "CASCADE_COMPLETED"
	EventTypeCascadePartial   = "CASCADE_PARTIAL"
	EventTypeCascadeFailed    = "CASCADE_FAILED"
	EventTypeCascadeAborted   = "CASCADE_ABORTED"
)

// PushMessage is the envelope of every message on the push stream
type PushMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// PushPayload is the data object of a push message. Some senders wrap the record in "novo".
type PushPayload struct {
	SessionID string          `json:"session_id"`
	Novo      json.RawMessage `json:"novo"`
}

// PushOrder is the record carried by a new_order event
type PushOrder struct {
	OrderID     int64      `json:"orderId"`
	Name        string     `json:"nome"`
	Phone       string     `json:"fone"`
	Date        string     `json:"data"`
	Time        string     `json:"hora"`
	TotalValue  *FlexFloat `json:"totalValue"`
	ValorTotal  *FlexFloat `json:"valorTotal"`
	Items       []PushItem `json:"items"`
	ItensPedido []PushItem `json:"itensPedido"`
	CreatedAt   *time.Time `json:"createdAt"`
}

// PushItem is one line of a pushed order
type PushItem struct {
	ProductID int64     `json:"id_Prod"`
	Quantity  FlexFloat `json:"qtd"`
	Note      string    `json:"observ"`
}

// Lines returns the order items regardless of which field the sender used
func (o PushOrder) Lines() []RawOrderLine {
	items := o.Items
	if items == nil {
		items = o.ItensPedido
	}
	lines := make([]RawOrderLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, RawOrderLine{
			ProductID: it.ProductID,
			Quantity:  float64(it.Quantity),
			Note:      it.Note,
		})
	}
	return lines
}

// BaseEvent contains common fields for all published events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CascadeOutcomeEvent is published after every cascade attempt
type CascadeOutcomeEvent struct {
	BaseEvent
	Source        string  `json:"source"`
	Phone         string  `json:"phone"`
	Date          string  `json:"date"`
	Time          string  `json:"time"`
	CustomerID    int64   `json:"customer_id"`
	WalkIn        bool    `json:"walk_in"`
	TicketID      int64   `json:"ticket_id,omitempty"`
	OrderHeaderID int64   `json:"order_header_id,omitempty"`
	ItemsCreated  int     `json:"items_created"`
	ItemsTotal    int     `json:"items_total"`
	Ratio         float64 `json:"ratio"`
	Report        string  `json:"report"`
}
