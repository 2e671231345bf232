package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/ecommerce-orders/internal/order"
	"github.com/jcmexdev/ecommerce-orders/internal/store/sqlite"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.Catalog().SetPrice(ctx, 1, 0, decimal.RequireFromString("10")))
	require.NoError(t, st.Catalog().SetPrice(ctx, 2, 1, decimal.RequireFromString("20")))
	require.NoError(t, st.Catalog().SetPrice(ctx, 2, 2, decimal.RequireFromString("35")))

	repo := order.NewRepository(order.RepositoryConfig{
		Orders:      st.Orders(),
		Items:       st.Items(),
		Adjustments: st.Adjustments(),
		Customers:   st.Customers(),
		Stats:       st.Stats(),
		Journal:     st.Journal(),
	})

	srv := httptest.NewServer(NewRouter(NewHandler(repo, st.Catalog(), st.Journal())))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeOrder(t *testing.T, resp *http.Response) OrderResponse {
	t.Helper()
	defer resp.Body.Close()
	var out OrderResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createOrder(t *testing.T, srv *httptest.Server) OrderResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/orders", CreateOrderRequest{
		Email: "buyer@example.com",
		Items: []AddItemRequest{{ProductID: 1, Quantity: 2, Tax: "1"}},
		Fees:  []FeeRequest{{Label: "handling", Amount: "5"}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeOrder(t, resp)
}

func TestCreateAndGetOrder(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	created := createOrder(t, srv)
	require.Positive(t, created.ID)
	require.Equal(t, "pending", created.Status)
	require.Equal(t, "20", created.Subtotal.String())
	require.Equal(t, "26", created.Total.String())
	require.NotEmpty(t, created.PaymentKey)
	require.True(t, created.Recoverable)

	resp := doJSON(t, http.MethodGet, fmt.Sprintf("%s/orders/%d", srv.URL, created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeOrder(t, resp)
	require.Equal(t, created.ID, got.ID)
	require.Len(t, got.Items, 1)
	require.Len(t, got.Fees, 1)
}

func TestGetMissingOrder(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/orders/999", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAddUnknownProduct(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	created := createOrder(t, srv)

	resp := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/orders/%d/items", srv.URL, created.ID),
		AddItemRequest{ProductID: 99})
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRemoveItemQuantity(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	created := createOrder(t, srv)

	resp := doJSON(t, http.MethodDelete,
		fmt.Sprintf("%s/orders/%d/items", srv.URL, created.ID),
		RemoveItemRequest{ProductID: 1, Quantity: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeOrder(t, resp)
	require.Equal(t, "10", got.Subtotal.String())
	require.Equal(t, "0.5", got.Tax.String())
	require.Equal(t, "15.5", got.Total.String())
}

func TestModifyItem(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	created := createOrder(t, srv)

	qty := int64(3)
	resp := doJSON(t, http.MethodPatch,
		fmt.Sprintf("%s/orders/%d/items/0", srv.URL, created.ID),
		ModifyItemRequest{Quantity: &qty})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeOrder(t, resp)
	require.Equal(t, "30", got.Subtotal.String())
	require.EqualValues(t, 3, got.Items[0].Quantity)
}

func TestFeeLifecycle(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	created := createOrder(t, srv)

	resp := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/orders/%d/fees", srv.URL, created.ID),
		FeeRequest{Label: "gift wrap", Amount: "2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeOrder(t, resp)
	require.Equal(t, "7", got.FeeTotal.String())
	require.Len(t, got.Fees, 2)

	key := got.Fees[1].Key
	resp = doJSON(t, http.MethodDelete,
		fmt.Sprintf("%s/orders/%d/fees/%d", srv.URL, created.ID, key), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = decodeOrder(t, resp)
	require.Equal(t, "5", got.FeeTotal.String())
}

func TestPublishThenRefund(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	created := createOrder(t, srv)

	status := "publish"
	resp := doJSON(t, http.MethodPatch,
		fmt.Sprintf("%s/orders/%d", srv.URL, created.ID),
		UpdateOrderRequest{Status: &status})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeOrder(t, resp)
	require.Equal(t, "publish", got.Status)
	require.False(t, got.Recoverable)

	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/orders/%d/refund", srv.URL, created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = decodeOrder(t, resp)
	require.Equal(t, "refunded", got.Status)

	// Refunding twice is benign.
	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/orders/%d/refund", srv.URL, created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestJournalEndpoint(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	created := createOrder(t, srv)

	resp := doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/orders/%d/journal", srv.URL, created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	var entries []JournalEntryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.NotEmpty(t, entries)
	require.Equal(t, "INSERT", entries[0].Action)
}

func TestDeleteOrder(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	created := createOrder(t, srv)

	resp := doJSON(t, http.MethodDelete, fmt.Sprintf("%s/orders/%d", srv.URL, created.ID), nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/orders/%d", srv.URL, created.ID), nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
