package backendapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"order-reconciler/internal/models"
	"order-reconciler/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "secret", 2*time.Second)
}

func TestLookupCustomerByPhone_ListResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/clientes/fone/5599999999", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`[{"id": 7, "nome": "Ana", "sobrenome": "Silva", "fone": "5599999999"}]`))
	})

	customer, err := c.LookupCustomerByPhone(context.Background(), "5599999999")
	require.NoError(t, err)
	assert.Equal(t, models.Customer{ID: 7, Name: "Ana", Surname: "Silva", Phone: "5599999999"}, *customer)
}

func TestLookupCustomerByPhone_NotFound(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"404": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "cliente não encontrado", http.StatusNotFound)
		},
		"empty list": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[]`))
		},
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, handler)
			_, err := c.LookupCustomerByPhone(context.Background(), "5500000000")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDo_StatusClassification(t *testing.T) {
	status := http.StatusBadGateway
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})

	_, err := c.CreateTicketNumber(context.Background(), models.TicketNumberPayload{})
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err), "5xx is retryable")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)

	status = http.StatusBadRequest
	_, err = c.CreateTicketNumber(context.Background(), models.TicketNumberPayload{})
	assert.True(t, retry.IsPermanent(err), "4xx is permanent")

	status = http.StatusTooManyRequests
	_, err = c.CreateTicketNumber(context.Background(), models.TicketNumberPayload{})
	assert.False(t, retry.IsPermanent(err), "429 is retryable")
}

func TestCreate_MissingIDIsNoResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := c.CreateOrderHeader(context.Background(), models.OrderHeaderPayload{TicketID: 1})
	assert.ErrorIs(t, err, retry.ErrNoResult)
}

func TestCreateOrderItem_SendsPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/pedidos", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(10101), body["id_Prod"])
		assert.Equal(t, float64(55), body["idOrderPedido"])
		assert.Equal(t, 0.0, body["V_unit"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 900}`))
	})

	id, err := c.CreateOrderItem(context.Background(), models.OrderItemPayload{
		TicketID: 44, OrderHeaderID: 55, ProductID: 10101, Quantity: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(900), id)
}

func TestProductPrice_StringPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/produtostodos/10101", r.URL.Path)
		_, _ = w.Write([]byte(`{"id_Prod": 10101, "Valor_Prod": "32.50"}`))
	})

	price, err := c.ProductPrice(context.Background(), 10101)
	require.NoError(t, err)
	assert.Equal(t, 32.5, price)
}

func TestFetchEventsSince_FiltersAndNormalizes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pedidos", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"id_pedidos": 141, "nome": "Claudemir", "fone": "555496860055", "id_Prod": 10101, "qtd": "1",
			 "data": "2025-10-27T03:00:00.000Z", "hora": "16:32:32", "observ": "Completo"},
			{"id_pedidos": 140, "nome": "Claudemir", "fone": "555496860055", "id_Prod": 10103, "qtd": 2,
			 "data": "2025-10-26T03:00:00.000Z", "hora": "10:00", "observ": ""}
		]`))
	})

	rows, err := NewFeedClient(c).FetchEventsSince(context.Background(), "2025-10-26T10:00:00")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(141), rows[0].ID)
	assert.Equal(t, "2025-10-27", rows[0].Date)
	assert.Equal(t, models.FlexFloat(1), rows[0].Quantity)
}

func TestFetchEventsByPhone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pedidos/fone/555496860055", r.URL.Path)
		_, _ = w.Write([]byte(`[{"fone": "555496860055", "id_Prod": 1, "qtd": 1, "data": "2025-10-27", "hora": "16:32"}]`))
	})

	rows, err := NewFeedClient(c).FetchEventsByPhone(context.Background(), "555496860055")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "16:32:00", rows[0].Time)
}

func TestFindTicketNumbers_MatchesDateAndTime(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/numpedidos/fone/5599999999", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"id": 501, "data": "2025-10-27T03:00:00.000Z", "hora": "16:32:32"},
			{"id": 502, "data": "2025-10-27", "hora": "17:00"},
			{"id": 503, "data": "2025-10-27", "hora": "16:32:32"}
		]`))
	})

	ids, err := c.FindTicketNumbers(context.Background(), "5599999999", "2025-10-27", "16:32:32")
	require.NoError(t, err)
	assert.Equal(t, []int64{501, 503}, ids)

	ids, err = c.FindTicketNumbers(context.Background(), "5599999999", "2025-10-27", "9:00")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFindTicketNumbers_NotFoundAndErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	ids, err := c.FindTicketNumbers(context.Background(), "5599999999", "2025-10-27", "16:32:32")
	require.NoError(t, err)
	assert.Empty(t, ids)

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err = c.FindTicketNumbers(context.Background(), "5599999999", "2025-10-27", "16:32:32")
	assert.Error(t, err)
}

func TestFetchEventsSince_PadsHourAndDropsUnparseableTime(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"fone": "5599999999", "id_Prod": 1, "qtd": 1, "data": "2025-10-27", "hora": "9:05"},
			{"fone": "5599999999", "id_Prod": 2, "qtd": 1, "data": "2025-10-27", "hora": "meio-dia"}
		]`))
	})

	rows, err := NewFeedClient(c).FetchEventsSince(context.Background(), "2025-10-27T08:00:00")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "09:05:00", rows[0].Time)
}
