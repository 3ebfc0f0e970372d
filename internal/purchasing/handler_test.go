package purchasing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/atlas-retail/atlas-retail/internal/shared"
)

func newTestRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	NewHandler(svc).Routes(r)
	return r
}

// draftOrder seeds a purchase order that stays in DRAFT so line edits are
// still allowed.
func draftOrder(t *testing.T, svc *Service, store *memStore, lines []LineInput) (PurchaseOrder, []PurchaseOrderLine) {
	t.Helper()
	for _, l := range lines {
		if _, ok := store.products[l.ProductID]; !ok {
			store.products[l.ProductID] = 0
		}
	}
	po, poLines, err := svc.CreatePurchaseOrder(context.Background(), CreatePurchaseOrderInput{
		SupplierID:     1,
		TaxRate:        dec("0.07"),
		ShippingAmount: dec("5"),
		Lines:          lines,
		Actor:          shared.UserActor(1),
	})
	require.NoError(t, err)
	return po, poLines
}

func doRequest(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestUpdateLineRejectsInvalidPayload(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, OverReceiptReject)
	po, lines := draftOrder(t, svc, store, []LineInput{{ProductID: 10, Qty: 4, UnitPrice: dec("2.50")}})
	router := newTestRouter(svc)
	target := fmt.Sprintf("/purchase-orders/%d/lines/%d", po.ID, lines[0].ID)

	for _, body := range []string{
		`{"product_id":10,"qty":0,"unit_price":"2.50"}`,
		`{"product_id":10,"qty":-2,"unit_price":"2.50"}`,
		`{"product_id":10,"qty":6}`,
	} {
		rec := doRequest(router, http.MethodPut, target, body)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %s", body)
	}

	_, got, err := svc.GetPurchaseOrder(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, int64(4), got[0].Qty)
	require.True(t, got[0].UnitPrice.Equal(dec("2.50")))

	rec := doRequest(router, http.MethodPut, target, `{"product_id":10,"qty":6,"unit_price":"3.00"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, got, err = svc.GetPurchaseOrder(context.Background(), po.ID)
	require.NoError(t, err)
	require.Equal(t, int64(6), got[0].Qty)
}

func TestGetPurchaseOrderOmitsUnsetExpectedDate(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, OverReceiptReject)
	po, _ := draftOrder(t, svc, store, []LineInput{{ProductID: 10, Qty: 4, UnitPrice: dec("2.50")}})
	router := newTestRouter(svc)

	rec := doRequest(router, http.MethodGet, fmt.Sprintf("/purchase-orders/%d", po.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.NotContains(t, payload, "expected_date")
	require.Contains(t, payload, "order_date")
}
