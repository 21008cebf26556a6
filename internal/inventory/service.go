// Package inventory watches confirmed and cancelled orders and raises a
// StockLow event for every touched item at or below the threshold.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// Deduper is implemented by *redisx.Cache.
type Deduper interface {
	FirstSeen(ctx context.Context, service, eventID string) (bool, error)
	Forget(ctx context.Context, service, eventID string) error
}

type Service struct {
	Stock     orders.StockStore
	Dedup     Deduper
	Events    Publisher
	Threshold int
	Log       *zap.Logger
	Name      string
}

// Topics the watcher subscribes to.
func Topics() []string {
	return []string{orders.TopicOrderConfirmed, orders.TopicOrderCancelled}
}

// Handle is installed as the consumer handler.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message, nothing to retry
		s.Log.Error("drop undecodable event", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	var (
		orderID int64
		items   []int64
	)
	switch env.EventType {
	case orders.EventOrderConfirmed:
		p, err := kafkax.UnwrapPayload[orders.OrderConfirmedPayload](env.Payload)
		if err != nil {
			return err
		}
		orderID, items = p.OrderID, itemIDs(p.Lines)
	case orders.EventOrderCancelled:
		p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
		if err != nil {
			return err
		}
		orderID, items = p.OrderID, itemIDs(p.Released)
	default:
		return nil
	}

	first, err := s.Dedup.FirstSeen(ctx, s.Name, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		s.Log.Debug("skip duplicate event", zap.String("event_id", env.EventID))
		return nil
	}

	if err := s.check(ctx, orderID, env.TraceID, items); err != nil {
		if ferr := s.Dedup.Forget(ctx, s.Name, env.EventID); ferr != nil {
			s.Log.Warn("forget dedup mark", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		return err
	}
	return nil
}

func (s *Service) check(ctx context.Context, orderID int64, trace string, items []int64) error {
	for _, id := range items {
		it, err := s.Stock.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get item %d: %w", id, err)
		}
		if it.Quantity() > s.Threshold {
			continue
		}
		ev, err := orders.NewEnvelope(orders.EventStockLow, s.Name, trace, orderID, orders.StockLowPayload{
			ItemID: id, Name: it.Name(), Quantity: it.Quantity(), Threshold: s.Threshold,
		})
		if err != nil {
			return err
		}
		s.Events.Publish(orders.TopicStockLow, []byte(strconv.FormatInt(id, 10)), kafkax.MustMarshal(ev),
			kafkax.EventHeaders(orders.EventStockLow, orders.EventVersion)...)
		s.Log.Info("stock low", zap.Int64("item_id", id), zap.Int("quantity", it.Quantity()), zap.Int64("order_id", orderID))
	}
	return nil
}

func itemIDs(lines []orders.LineQty) []int64 {
	out := make([]int64, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.ItemID)
	}
	return out
}
