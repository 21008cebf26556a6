package orders

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderConfirmed = "OrderConfirmed"
	EventOrderCancelled = "OrderCancelled"
	EventStockLow       = "StockLow"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the constants above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g. "pos-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually the order id
	Payload       json.RawMessage `json:"payload"`
}

const EventVersion = 1

// NewEnvelope wraps payload in a fresh v1 envelope correlated to orderID.
func NewEnvelope(eventType, producer, traceID string, orderID int64, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  EventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: strconv.FormatInt(orderID, 10),
		Payload:       b,
	}, nil
}

// ---- payloads ----

type LineQty struct {
	ItemID int64 `json:"item_id"`
	Qty    int   `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID    int64  `json:"order_id"`
	ExternalID string `json:"external_id,omitempty"`
	CustomerID int64  `json:"customer_id"`
	EmployeeID int64  `json:"employee_id"`
}

type OrderConfirmedPayload struct {
	OrderID       int64           `json:"order_id"`
	Lines         []LineQty       `json:"lines"`
	NumberOfItems int             `json:"number_of_items"`
	Total         decimal.Decimal `json:"total"`
}

type OrderCancelledPayload struct {
	OrderID int64 `json:"order_id"`
	// lines that were durable and went back to stock
	Released []LineQty `json:"released,omitempty"`
}

type StockLowPayload struct {
	ItemID    int64  `json:"item_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Threshold int    `json:"threshold"`
}

func ToLineQty(lines []LineItem) []LineQty {
	out := make([]LineQty, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineQty{ItemID: l.ItemID, Qty: l.Quantity})
	}
	return out
}
