package backendapi

import (
	"context"
	"net/http"
	"net/url"

	"order-reconciler/internal/models"
)

// FeedClient reads raw order rows from the remote order feed
type FeedClient struct {
	*Client
}

func NewFeedClient(c *Client) *FeedClient {
	return &FeedClient{Client: c}
}

// FetchEventsSince returns normalized rows whose date+time composite is newer than watermark
func (f *FeedClient) FetchEventsSince(ctx context.Context, watermark string) ([]models.FeedRow, error) {
	var rows []models.FeedRow
	if err := f.do(ctx, http.MethodGet, "/api/pedidos", nil, &rows); err != nil {
		return nil, err
	}
	return filterSince(rows, watermark), nil
}

// FetchEventsByPhone returns every normalized row of one customer phone
func (f *FeedClient) FetchEventsByPhone(ctx context.Context, phone string) ([]models.FeedRow, error) {
	var rows []models.FeedRow
	if err := f.do(ctx, http.MethodGet, "/api/pedidos/fone/"+url.PathEscape(phone), nil, &rows); err != nil {
		return nil, err
	}
	return filterSince(rows, ""), nil
}

func filterSince(rows []models.FeedRow, watermark string) []models.FeedRow {
	out := make([]models.FeedRow, 0, len(rows))
	for _, row := range rows {
		row = row.Normalize()
		// rows without a parseable date or time can never be placed against the watermark
		if row.Phone == "" || row.Date == "" || row.Time == "" {
			continue
		}
		if models.Composite(row.Date, row.Time) <= watermark {
			continue
		}
		out = append(out, row)
	}
	return out
}
