package orders

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestBufferLaterStagingSupersedes(t *testing.T) {
	b := NewChangeBuffer()
	b.StageLine(NewLineItem(1, 5, 2), false)
	b.StageLine(NewLineItem(1, 5, 4), false)
	b.StageItem(NewItem(1, "a", decimal.NewFromInt(1), 10))
	b.StageItem(NewItem(1, "a", decimal.NewFromInt(1), 8))

	ups := b.Upserts()
	if len(ups) != 1 || ups[0].Quantity != 4 {
		t.Fatalf("expected one upsert with qty 4, got %+v", ups)
	}
	items := b.Items()
	if len(items) != 1 || items[0].Quantity() != 8 {
		t.Fatalf("expected one staged item with qty 8")
	}
}

func TestBufferDeleteAndDrop(t *testing.T) {
	b := NewChangeBuffer()
	l := NewLineItem(1, 5, 0)
	b.StageDelete(l)

	if got, stored, deleted, ok := b.StagedLine(l.Key()); !ok || !stored || !deleted || got != l {
		t.Fatalf("expected staged delete, got ok=%v stored=%v deleted=%v", ok, stored, deleted)
	}
	if len(b.Upserts()) != 0 || len(b.Deletes()) != 1 {
		t.Fatalf("delete must not show up as an upsert")
	}

	if !b.Drop(l.Key()) {
		t.Fatalf("expected drop to find the record")
	}
	if b.Drop(l.Key()) {
		t.Fatalf("second drop must report nothing to drop")
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer, got %d", b.Len())
	}
}

func TestBufferRevertAndClear(t *testing.T) {
	b := NewChangeBuffer()
	it := NewItem(1, "a", decimal.NewFromInt(1), 10)
	it.Reserve(6)
	b.StageItem(it)
	b.StageLine(NewLineItem(1, 5, 6), false)

	b.Revert()
	if it.Quantity() != 10 {
		t.Fatalf("revert must restore stored quantity, got %d", it.Quantity())
	}
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("clear must empty the buffer")
	}
}

func TestBufferRekey(t *testing.T) {
	b := NewChangeBuffer()
	b.StageLine(NewLineItem(3, Unassigned, 1), false)
	b.rekey(42)

	if _, _, _, ok := b.StagedLine(LineKey{ItemID: 3, OrderID: 42}); !ok {
		t.Fatalf("expected line under the new order id")
	}
	if _, _, _, ok := b.StagedLine(LineKey{ItemID: 3, OrderID: Unassigned}); ok {
		t.Fatalf("old key must be gone")
	}
}
