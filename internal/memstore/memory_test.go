package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/shopspring/decimal"
)

func TestStockSaveIsConditional(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := s.PutItem("a", decimal.NewFromInt(1), 5)
	b := s.PutItem("b", decimal.NewFromInt(1), 1)

	ia, _ := s.Stock().Get(ctx, a)
	ib, _ := s.Stock().Get(ctx, b)
	ia.Reserve(3)
	ib.Reserve(1)

	// another session takes the last b first
	other, _ := s.Stock().Get(ctx, b)
	other.Reserve(1)
	if err := s.Stock().SaveAll(ctx, []*orders.Item{other}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	// b no longer fits, so nothing of the batch may be written
	err := s.Stock().SaveAll(ctx, []*orders.Item{ia, ib})
	if !errors.Is(err, orders.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if s.StockOf(a) != 5 || s.StockOf(b) != 0 {
		t.Fatalf("failed batch wrote: a=%d b=%d", s.StockOf(a), s.StockOf(b))
	}
	if ia.PendingDelta() != -3 {
		t.Fatalf("failed batch must not mark items stored")
	}
}

func TestInTxRestoresOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := s.PutItem("a", decimal.NewFromInt(1), 5)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context) error {
		it, err := s.Stock().Get(ctx, id)
		if err != nil {
			return err
		}
		it.Reserve(2)
		if err := s.Stock().SaveAll(ctx, []*orders.Item{it}); err != nil {
			return err
		}
		if err := s.Lines().SaveAll(ctx, []*orders.LineItem{orders.NewLineItem(id, 1, 2)}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if s.StockOf(id) != 5 {
		t.Fatalf("stock = %d, want 5", s.StockOf(id))
	}
	if lines, _ := s.Lines().FindAllByOrder(ctx, 1); len(lines) != 0 {
		t.Fatalf("lines survived rollback: %+v", lines)
	}
}

func TestOrdersCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	o1 := orders.NewOrder(1, 2, s.Stock(), s.Lines())
	rec, existed, err := s.Orders().Create(ctx, o1, "ext")
	if err != nil || existed || rec.ID != o1.ID() || rec.ExternalID != "ext" {
		t.Fatalf("create: %+v existed=%v err=%v", rec, existed, err)
	}

	o2 := orders.NewOrder(1, 2, s.Stock(), s.Lines())
	again, existed, err := s.Orders().Create(ctx, o2, "ext")
	if err != nil || !existed || again.ID != rec.ID {
		t.Fatalf("repeat: %+v existed=%v err=%v", again, existed, err)
	}
	if o2.ID() != orders.Unassigned {
		t.Fatalf("repeat must not assign an id")
	}

	if _, err := s.Orders().Get(ctx, 99); !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("unknown order: %v", err)
	}
}
