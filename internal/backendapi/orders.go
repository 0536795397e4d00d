package backendapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"order-reconciler/internal/models"
	"order-reconciler/internal/retry"
)

// LookupCustomerByPhone returns the customer registered with phone or ErrNotFound
func (c *Client) LookupCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/clientes/fone/"+url.PathEscape(phone), nil, &raw); err != nil {
		return nil, err
	}

	var customer models.Customer
	if err := decodeOne(raw, &customer); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to decode customer: %w", err)
	}
	if customer.ID == 0 {
		return nil, ErrNotFound
	}
	return &customer, nil
}

// CreateTicketNumber creates the NumPedido record and returns its id
func (c *Client) CreateTicketNumber(ctx context.Context, payload models.TicketNumberPayload) (int64, error) {
	return c.create(ctx, "/api/numpedidos", payload)
}

// FindTicketNumbers returns the ids of the ticket numbers of phone registered at
// date and hour. Both sides are normalized before comparing.
func (c *Client) FindTicketNumbers(ctx context.Context, phone, date, hour string) ([]int64, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/numpedidos/fone/"+url.PathEscape(phone), nil, &raw)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	records, err := decodeList[models.TicketRecord](raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ticket numbers: %w", err)
	}

	date, hour = models.NormalizeDate(date), models.NormalizeTime(hour)
	var ids []int64
	for _, rec := range records {
		if rec.ID == 0 {
			continue
		}
		if models.NormalizeDate(rec.Date) == date && models.NormalizeTime(rec.Time) == hour {
			ids = append(ids, rec.ID)
		}
	}
	return ids, nil
}

// CreateOrderHeader creates the OrderPedido record and returns its id
func (c *Client) CreateOrderHeader(ctx context.Context, payload models.OrderHeaderPayload) (int64, error) {
	return c.create(ctx, "/api/orderpedidos", payload)
}

// CreateOrderItem creates one Pedido line and returns its id
func (c *Client) CreateOrderItem(ctx context.Context, payload models.OrderItemPayload) (int64, error) {
	return c.create(ctx, "/api/pedidos", payload)
}

// ProductPrice returns the catalog unit price of a product
func (c *Client) ProductPrice(ctx context.Context, productID int64) (float64, error) {
	var raw json.RawMessage
	path := "/api/produtostodos/" + strconv.FormatInt(productID, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return 0, err
	}

	var product models.Product
	if err := decodeOne(raw, &product); err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to decode product %d: %w", productID, err)
	}
	return float64(product.Price), nil
}

// create posts payload and treats a response without an id as an empty result
func (c *Client) create(ctx context.Context, path string, payload interface{}) (int64, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, path, payload, &raw); err != nil {
		return 0, err
	}

	var rec models.CreatedRecord
	if err := decodeOne(raw, &rec); err != nil && !errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	if rec.ID == 0 {
		return 0, fmt.Errorf("POST %s: %w", path, retry.ErrNoResult)
	}
	return rec.ID, nil
}
