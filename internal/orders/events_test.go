package orders

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewEnvelope(t *testing.T) {
	p := OrderConfirmedPayload{OrderID: 9, Lines: ToLineQty([]LineItem{{ItemID: 1, OrderID: 9, Quantity: 2}}), NumberOfItems: 2, Total: decimal.RequireFromString("3.50")}
	a, err := NewEnvelope(EventOrderConfirmed, "pos-api", "req-1", 9, p)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	b, _ := NewEnvelope(EventOrderConfirmed, "pos-api", "req-1", 9, p)
	if a.EventID == "" || a.EventID == b.EventID {
		t.Fatalf("event ids must be unique, got %q and %q", a.EventID, b.EventID)
	}
	if a.CorrelationID != "9" || a.EventVersion != EventVersion {
		t.Fatalf("correlation=%q version=%d", a.CorrelationID, a.EventVersion)
	}

	var got OrderConfirmedPayload
	if err := json.Unmarshal(a.Payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(got.Lines) != 1 || got.Lines[0].Qty != 2 || !got.Total.Equal(p.Total) {
		t.Fatalf("payload = %+v", got)
	}
}
