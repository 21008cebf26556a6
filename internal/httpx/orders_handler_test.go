package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/ariefcatur/go-pos-orders/internal/memstore"
	"github.com/ariefcatur/go-pos-orders/internal/ordering"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

type testAPI struct {
	t     *testing.T
	srv   *httptest.Server
	store *memstore.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st := memstore.New()
	log := zaptest.NewLogger(t)
	svc := &ordering.Service{
		Tx: st, Orders: st.Orders(), Stock: st.Stock(), Lines: st.Lines(), Catalog: st.Stock(),
		Log: log, Name: "pos-api-test",
	}
	r := NewRouter(log)
	(&OrdersHandler{Svc: svc, Log: log}).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testAPI{t: t, srv: srv, store: st}
}

func (a *testAPI) do(method, path, body string, out any) int {
	a.t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, strings.NewReader(body))
	if err != nil {
		a.t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		a.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			a.t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type createResp struct {
	Order      ordering.View `json:"order"`
	Idempotent bool          `json:"idempotent"`
}

func TestOrderLifecycle(t *testing.T) {
	api := newTestAPI(t)
	item := api.store.PutItem("latte", decimal.RequireFromString("3.20"), 10)

	var created createResp
	if code := api.do("POST", "/orders", `{"external_id":"t1-1","customer_id":5}`, &created); code != http.StatusCreated {
		t.Fatalf("create: %d", code)
	}
	id := created.Order.ID
	base := "/orders/" + itoa(id)

	var v ordering.View
	if code := api.do("POST", base+"/items", `{"item_id":`+itoa(item)+`,"qty":4}`, &v); code != http.StatusOK {
		t.Fatalf("add: %d", code)
	}
	if v.NumberOfItems != 4 || !v.Total.Equal(decimal.RequireFromString("12.8")) {
		t.Fatalf("after add: %+v", v)
	}

	if code := api.do("DELETE", base+"/items/"+itoa(item)+"?qty=1", "", &v); code != http.StatusOK || v.NumberOfItems != 3 {
		t.Fatalf("remove: %d %+v", code, v)
	}

	if code := api.do("POST", base+"/confirm", "", &v); code != http.StatusOK || v.Status != orders.StatusConfirmed {
		t.Fatalf("confirm: %d %+v", code, v)
	}
	if code := api.do("POST", base+"/items", `{"item_id":`+itoa(item)+`,"qty":1}`, nil); code != http.StatusConflict {
		t.Fatalf("add after confirm: %d", code)
	}
	if code := api.do("POST", base+"/cancel", "", nil); code != http.StatusConflict {
		t.Fatalf("cancel after confirm: %d", code)
	}

	var st map[string]any
	if code := api.do("GET", base+"/status", "", &st); code != http.StatusOK || st["status"] != "CONFIRMED" {
		t.Fatalf("status: %d %v", code, st)
	}
	var sold map[string]any
	if code := api.do("GET", "/items/"+itoa(item)+"/sold", "", &sold); code != http.StatusOK || sold["sold"] != float64(3) {
		t.Fatalf("sold: %d %v", code, sold)
	}
	var stats orders.Stats
	if code := api.do("GET", "/orders/stats", "", &stats); code != http.StatusOK || stats.ConfirmedOrders != 1 {
		t.Fatalf("stats: %d %+v", code, stats)
	}

	// same external id returns the same order
	var again createResp
	if code := api.do("POST", "/orders", `{"external_id":"t1-1"}`, &again); code != http.StatusOK || !again.Idempotent || again.Order.ID != id {
		t.Fatalf("repeat create: %d %+v", code, again)
	}
}

func TestInvalidEditReturnsEmptiedOrder(t *testing.T) {
	api := newTestAPI(t)
	item := api.store.PutItem("scone", decimal.NewFromInt(2), 3)

	var created createResp
	api.do("POST", "/orders", `{"items":[{"item_id":`+itoa(item)+`,"qty":2}]}`, &created)
	base := "/orders/" + itoa(created.Order.ID)

	var body struct {
		Error string        `json:"error"`
		Order ordering.View `json:"order"`
	}
	if code := api.do("POST", base+"/items", `{"item_id":`+itoa(item)+`,"qty":5}`, &body); code != http.StatusUnprocessableEntity {
		t.Fatalf("over-add: %d", code)
	}
	if body.Error == "" || body.Order.NumberOfItems != 0 || len(body.Order.Lines) != 0 {
		t.Fatalf("body = %+v", body)
	}
}

func TestRemoveWholeLineAndPayment(t *testing.T) {
	api := newTestAPI(t)
	item := api.store.PutItem("bun", decimal.NewFromInt(1), 5)

	var created createResp
	api.do("POST", "/orders", `{"items":[{"item_id":`+itoa(item)+`,"qty":2}]}`, &created)
	base := "/orders/" + itoa(created.Order.ID)

	var v ordering.View
	if code := api.do("DELETE", base+"/items/"+itoa(item), "", &v); code != http.StatusOK || len(v.Lines) != 0 {
		t.Fatalf("remove line: %d %+v", code, v)
	}
	if code := api.do("PUT", base+"/items", `{"items":[{"item_id":`+itoa(item)+`,"qty":3}]}`, &v); code != http.StatusOK || v.NumberOfItems != 3 {
		t.Fatalf("set items: %d %+v", code, v)
	}
	if code := api.do("POST", base+"/payment", `{"amount":"3.00"}`, &v); code != http.StatusOK || !v.AmountPaid.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("payment: %d %+v", code, v)
	}
	if code := api.do("POST", base+"/payment", `{"amount":"-1"}`, nil); code != http.StatusBadRequest {
		t.Fatalf("negative payment: %d", code)
	}
}

func TestBadRequests(t *testing.T) {
	api := newTestAPI(t)
	cases := []struct {
		method, path, body string
		want               int
	}{
		{"GET", "/healthz", "", http.StatusOK},
		{"POST", "/orders", `{`, http.StatusBadRequest},
		{"GET", "/orders/abc", "", http.StatusBadRequest},
		{"GET", "/orders/99", "", http.StatusNotFound},
		{"POST", "/orders/99/items", `{"item_id":1,"qty":0}`, http.StatusBadRequest},
		{"POST", "/orders/99/confirm", "", http.StatusNotFound},
		{"DELETE", "/orders/99/items/1?qty=x", "", http.StatusBadRequest},
		{"GET", "/orders?status=SHIPPED", "", http.StatusBadRequest},
		{"GET", "/orders?from=yesterday", "", http.StatusBadRequest},
		{"GET", "/items/7", "", http.StatusNotFound},
	}
	for _, c := range cases {
		if got := api.do(c.method, c.path, c.body, nil); got != c.want {
			t.Errorf("%s %s = %d, want %d", c.method, c.path, got, c.want)
		}
	}
}

func TestListOrdersFilters(t *testing.T) {
	api := newTestAPI(t)
	api.do("POST", "/orders", `{"customer_id":1}`, nil)
	api.do("POST", "/orders", `{"customer_id":2}`, nil)

	var recs []orders.Record
	if code := api.do("GET", "/orders?customer_id=2&status=PENDING", "", &recs); code != http.StatusOK {
		t.Fatalf("list: %d", code)
	}
	if len(recs) != 1 || recs[0].CustomerID != 2 {
		t.Fatalf("list = %+v", recs)
	}
	if code := api.do("GET", "/orders?status=CONFIRMED", "", &recs); code != http.StatusOK || len(recs) != 0 {
		t.Fatalf("confirmed list: %d %+v", code, recs)
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
