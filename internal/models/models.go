package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WalkInSurname marks ticket numbers created for customers that could not be resolved by phone
const WalkInSurname = "_"

// RawOrderLine is one ordered product inside a raw order event
type RawOrderLine struct {
	ProductID int64   `json:"id_Prod"`
	Quantity  float64 `json:"qtd"`
	Note      string  `json:"observ"`
}

// Event sources
const (
	SourcePoll   = "poll"
	SourcePush   = "push"
	SourceManual = "manual"
)

// RawOrderEvent is an immutable source transaction produced by the order feed
type RawOrderEvent struct {
	Name   string         `json:"nome"`
	Phone  string         `json:"fone"`
	Date   string         `json:"data"`
	Time   string         `json:"hora"`
	Lines  []RawOrderLine `json:"lines"`
	Source string         `json:"-"`
}

// Composite returns the watermark comparison value of the event
func (e RawOrderEvent) Composite() string {
	return Composite(e.Date, e.Time)
}

// Key returns the dedup key of a polled event
func (e RawOrderEvent) Key() DedupKey {
	return DedupKey{Phone: e.Phone, Date: e.Date, Time: e.Time}
}

// Composite joins a normalized date and time the way watermarks are stored
func Composite(date, hour string) string {
	return date + "T" + hour
}

// DedupKey identifies a raw order event that already produced a cascade
type DedupKey struct {
	Phone string
	Date  string
	Time  string
}

func (k DedupKey) String() string {
	return k.Phone + "|" + k.Date + "|" + k.Time
}

// PushDedupKey builds the key of a push event: phone plus minute-truncated timestamp
func PushDedupKey(phone string, ts time.Time) DedupKey {
	ts = ts.Truncate(time.Minute)
	return DedupKey{Phone: phone, Date: ts.Format("2006-01-02"), Time: ts.Format("15:04")}
}

// Customer is an identity known to the downstream order system
type Customer struct {
	ID      int64  `json:"id"`
	Name    string `json:"nome"`
	Surname string `json:"sobrenome"`
	Phone   string `json:"fone"`
}

// TicketNumberPayload is the head of a cascade (NumPedido)
type TicketNumberPayload struct {
	CustomerID int64  `json:"id_cliente"`
	Name       string `json:"nome"`
	Surname    string `json:"sobrenome"`
	Phone      string `json:"fone"`
	Date       string `json:"data"`
	Time       string `json:"hora"`
}

// OrderHeaderPayload is owned by exactly one ticket number (OrderPedido)
type OrderHeaderPayload struct {
	CustomerID int64  `json:"id_cliente"`
	TicketID   int64  `json:"numPedido"`
	Time       string `json:"hora"`
	Active     bool   `json:"ativo"`
}

// OrderItemPayload is one line item of an order header (Pedido)
type OrderItemPayload struct {
	CustomerID    int64   `json:"id_cliente"`
	TicketID      int64   `json:"numPedido"`
	OrderHeaderID int64   `json:"idOrderPedido"`
	ProductID     int64   `json:"id_Prod"`
	Quantity      float64 `json:"qtd"`
	Note          string  `json:"observ"`
	UnitPrice     float64 `json:"V_unit"`
	Date          string  `json:"data"`
	Time          string  `json:"hora"`
}

// TicketRecord is a ticket number as listed by the downstream
type TicketRecord struct {
	ID   int64  `json:"id"`
	Date string `json:"data"`
	Time string `json:"hora"`
}

// CreatedRecord is the downstream response of any create call
type CreatedRecord struct {
	ID int64 `json:"id"`
}

// Product is the subset of a catalog entry the pipeline needs
type Product struct {
	ID    int64     `json:"id_Prod"`
	Price FlexFloat `json:"Valor_Prod"`
}

// FeedRow is one row of the remote order feed; line items of one order share phone, date and time
type FeedRow struct {
	ID        int64     `json:"id_pedidos"`
	Name      string    `json:"nome"`
	Phone     string    `json:"fone"`
	ProductID int64     `json:"id_Prod"`
	Quantity  FlexFloat `json:"qtd"`
	Date      string    `json:"data"`
	Time      string    `json:"hora"`
	Note      string    `json:"observ"`
}

// FlexFloat accepts both JSON numbers and numeric strings
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.Replace(s, ",", ".", 1)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*f = FlexFloat(v)
	return nil
}

func (f FlexFloat) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(f))
}
