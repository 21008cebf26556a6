package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/memstore"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

type fakePublisher struct{ msgs []kafkago.Message }

func (p *fakePublisher) Publish(topic string, key, value []byte, headers ...kafkago.Header) {
	p.msgs = append(p.msgs, kafkago.Message{Topic: topic, Key: key, Value: value, Headers: headers})
}

type fakeDedup struct {
	seen map[string]bool
	err  error
}

func (d *fakeDedup) FirstSeen(_ context.Context, _, id string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *fakeDedup) Forget(_ context.Context, _, id string) error {
	delete(d.seen, id)
	return nil
}

func newService(t *testing.T, st *memstore.Store) (*Service, *fakePublisher, *fakeDedup) {
	pub := &fakePublisher{}
	dd := &fakeDedup{seen: map[string]bool{}}
	return &Service{
		Stock:     st.Stock(),
		Dedup:     dd,
		Events:    pub,
		Threshold: 3,
		Log:       zaptest.NewLogger(t),
		Name:      "inventory-test",
	}, pub, dd
}

func message(t *testing.T, eventType string, payload any) (kafkago.Message, orders.Envelope) {
	t.Helper()
	env, err := orders.NewEnvelope(eventType, "pos-api", "", 1, payload)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return kafkago.Message{Topic: orders.TopicOrderConfirmed, Value: kafkax.MustMarshal(env)}, env
}

func TestConfirmedOrderRaisesStockLow(t *testing.T) {
	st := memstore.New()
	low := st.PutItem("milk", decimal.NewFromInt(1), 2)
	plenty := st.PutItem("sugar", decimal.NewFromInt(1), 50)
	svc, pub, _ := newService(t, st)

	m, _ := message(t, orders.EventOrderConfirmed, orders.OrderConfirmedPayload{
		OrderID: 1, Lines: []orders.LineQty{{ItemID: low, Qty: 8}, {ItemID: plenty, Qty: 1}},
	})
	if err := svc.Handle(context.Background(), m); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("expected one StockLow event, got %d", len(pub.msgs))
	}
	out := pub.msgs[0]
	if out.Topic != orders.TopicStockLow || kafkax.Header(out, "x-event-type") != orders.EventStockLow {
		t.Fatalf("published %s / %s", out.Topic, kafkax.Header(out, "x-event-type"))
	}
	var env orders.Envelope
	if err := json.Unmarshal(out.Value, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	p, err := kafkax.UnwrapPayload[orders.StockLowPayload](env.Payload)
	if err != nil || p.ItemID != low || p.Quantity != 2 || p.Threshold != 3 {
		t.Fatalf("payload = %+v, %v", p, err)
	}

	// redelivery is ignored
	if err := svc.Handle(context.Background(), m); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("duplicate event must not publish again")
	}
}

func TestFailedCheckCanBeRetried(t *testing.T) {
	st := memstore.New()
	svc, _, dd := newService(t, st)

	m, env := message(t, orders.EventOrderCancelled, orders.OrderCancelledPayload{
		OrderID: 1, Released: []orders.LineQty{{ItemID: 77, Qty: 1}},
	})
	if err := svc.Handle(context.Background(), m); !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if dd.seen[env.EventID] {
		t.Fatalf("failed event must not stay marked")
	}
}

func TestIgnoresOtherEvents(t *testing.T) {
	st := memstore.New()
	svc, pub, dd := newService(t, st)
	dd.err = errors.New("redis down")

	m, _ := message(t, orders.EventOrderCreated, orders.OrderCreatedPayload{OrderID: 1})
	if err := svc.Handle(context.Background(), m); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := svc.Handle(context.Background(), kafkago.Message{Value: []byte("{not json")}); err != nil {
		t.Fatalf("poison message must be dropped, got %v", err)
	}
	if len(pub.msgs) != 0 {
		t.Fatalf("nothing should be published")
	}
}
