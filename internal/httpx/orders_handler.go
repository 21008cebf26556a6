package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/ordering"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrdersHandler struct {
	Svc *ordering.Service
	Log *zap.Logger
}

type addItemReq struct {
	ItemID int64 `json:"item_id"`
	Qty    int   `json:"qty"`
}

type setItemsReq struct {
	Items []ordering.ItemQty `json:"items"`
}

type paymentReq struct {
	Amount *decimal.Decimal `json:"amount"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/items", h.listItems)
	r.Get("/items/{id}", h.getItem)
	r.Get("/items/{id}/sold", h.soldQuantity)

	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/stats", h.stats)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Post("/orders/{id}/items", h.addItem)
	r.Put("/orders/{id}/items", h.setItems)
	r.Delete("/orders/{id}/items/{item}", h.removeItem)
	r.Post("/orders/{id}/confirm", h.confirm)
	r.Post("/orders/{id}/cancel", h.cancel)
	r.Post("/orders/{id}/payment", h.payment)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrNegativeQuantity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orders.ErrOrderClosed),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, orders.ErrInvalidQuantity), errors.Is(err, orders.ErrInvalidAmount):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *OrdersHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.Log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, code, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// reply writes v, or the error together with v when an invalid edit wiped
// the order: the client needs the emptied order back.
func (h *OrdersHandler) reply(w http.ResponseWriter, r *http.Request, v ordering.View, err error) {
	if errors.Is(err, orders.ErrNegativeQuantity) && v.ID != 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "order": v})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func requestCtx(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := ordering.WithTrace(r.Context(), middleware.GetReqID(r.Context()))
	return context.WithTimeout(ctx, 5*time.Second)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

func (h *OrdersHandler) listItems(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestCtx(r)
	defer cancel()

	items, err := h.Svc.Items(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *OrdersHandler) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := requestCtx(r)
	defer cancel()

	it, err := h.Svc.Item(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *OrdersHandler) soldQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := requestCtx(r)
	defer cancel()

	n, err := h.Svc.SoldQuantity(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "sold": n})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req ordering.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := requestCtx(r)
	defer cancel()

	v, existed, err := h.Svc.CreateOrder(ctx, req)
	if err != nil {
		h.reply(w, r, v, err)
		return
	}
	code := http.StatusCreated
	if existed {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{"order": v, "idempotent": existed})
}

func parseFilter(r *http.Request) (orders.Filter, error) {
	q := r.URL.Query()
	var f orders.Filter
	if s := q.Get("status"); s != "" {
		st, ok := orders.ParseStatus(s)
		if !ok {
			return f, fmt.Errorf("unknown status %q", s)
		}
		f.Status = st
	}
	for key, dst := range map[string]*int64{"customer_id": &f.CustomerID, "employee_id": &f.EmployeeID} {
		if s := q.Get(key); s != "" {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return f, fmt.Errorf("invalid %s", key)
			}
			*dst = n
		}
	}
	for key, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		if s := q.Get(key); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return f, fmt.Errorf("invalid %s: want RFC3339", key)
			}
			*dst = &t
		}
	}
	return f, nil
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := requestCtx(r)
	defer cancel()

	recs, err := h.Svc.List(ctx, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []orders.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *OrdersHandler) stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestCtx(r)
	defer cancel()

	st, err := h.Svc.Stats(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := requestCtx(r)
	defer cancel()

	v, err := h.Svc.Get(ctx, id)
	h.reply(w, r, v, err)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := requestCtx(r)
	defer cancel()

	st, err := h.Svc.Status(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": id, "status": st})
}

func (h *OrdersHandler) addItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req addItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.ItemID <= 0 || req.Qty <= 0 {
		badRequest(w, "item_id and a positive qty are required")
		return
	}
	ctx, cancel := requestCtx(r)
	defer cancel()

	v, err := h.Svc.AddItem(ctx, id, req.ItemID, req.Qty)
	h.reply(w, r, v, err)
}

func (h *OrdersHandler) setItems(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req setItemsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := requestCtx(r)
	defer cancel()

	v, err := h.Svc.SetItems(ctx, id, req.Items)
	h.reply(w, r, v, err)
}

// removeItem drops qty units, or the whole line when qty is absent.
func (h *OrdersHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	itemID, err := pathID(r, "item")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := requestCtx(r)
	defer cancel()

	s := r.URL.Query().Get("qty")
	if s == "" {
		v, err := h.Svc.SetItems(ctx, id, []ordering.ItemQty{{ItemID: itemID, Qty: 0}})
		h.reply(w, r, v, err)
		return
	}
	qty, err := strconv.Atoi(s)
	if err != nil || qty <= 0 {
		badRequest(w, "qty must be a positive integer")
		return
	}
	v, err := h.Svc.RemoveItem(ctx, id, itemID, qty)
	h.reply(w, r, v, err)
}

func (h *OrdersHandler) confirm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := requestCtx(r)
	defer cancel()

	v, err := h.Svc.Confirm(ctx, id)
	h.reply(w, r, v, err)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := requestCtx(r)
	defer cancel()

	v, err := h.Svc.Cancel(ctx, id)
	h.reply(w, r, v, err)
}

func (h *OrdersHandler) payment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req paymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount == nil {
		badRequest(w, "amount is required")
		return
	}
	ctx, cancel := requestCtx(r)
	defer cancel()

	v, err := h.Svc.RecordPayment(ctx, id, *req.Amount)
	h.reply(w, r, v, err)
}
