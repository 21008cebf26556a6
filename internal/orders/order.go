package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Unassigned is the id of an order that has not been persisted yet.
const Unassigned int64 = -1

// Order owns its line items and the edit session buffer. It performs no
// locking; callers serialize access to one order and wrap each mutation in
// a store transaction carried by ctx.
type Order struct {
	id            int64
	createdAt     time.Time
	status        Status
	numberOfItems int
	total         decimal.Decimal
	amountPaid    decimal.Decimal
	note          string
	customerID    int64
	employeeID    int64

	stock StockStore
	lines LineItemStore
	buf   *ChangeBuffer
}

// Entry pairs an item with a quantity for bulk edits.
type Entry struct {
	Item *Item
	Qty  int
}

func NewOrder(customerID, employeeID int64, stock StockStore, lines LineItemStore) *Order {
	return &Order{
		id:         Unassigned,
		createdAt:  time.Now().UTC(),
		status:     StatusPending,
		total:      decimal.Zero,
		amountPaid: decimal.Zero,
		customerID: customerID,
		employeeID: employeeID,
		stock:      stock,
		lines:      lines,
		buf:        NewChangeBuffer(),
	}
}

// Restore rebuilds an order from its persisted header with an empty buffer.
func Restore(rec Record, stock StockStore, lines LineItemStore) *Order {
	return &Order{
		id:            rec.ID,
		createdAt:     rec.CreatedAt,
		status:        rec.Status,
		numberOfItems: rec.NumberOfItems,
		total:         rec.Total,
		amountPaid:    rec.AmountPaid,
		note:          rec.Note,
		customerID:    rec.CustomerID,
		employeeID:    rec.EmployeeID,
		stock:         stock,
		lines:         lines,
		buf:           NewChangeBuffer(),
	}
}

func (o *Order) ID() int64 { return o.id }
func (o *Order) CreatedAt() time.Time { return o.createdAt }
func (o *Order) Status() Status { return o.status }
func (o *Order) NumberOfItems() int { return o.numberOfItems }
func (o *Order) Total() decimal.Decimal { return o.total }
func (o *Order) AmountPaid() decimal.Decimal { return o.amountPaid }
func (o *Order) Note() string { return o.note }
func (o *Order) CustomerID() int64 { return o.customerID }
func (o *Order) EmployeeID() int64 { return o.employeeID }

func (o *Order) IsPending() bool { return o.status == StatusPending }
func (o *Order) IsConfirmed() bool { return o.status == StatusConfirmed }
func (o *Order) IsCancelled() bool { return o.status == StatusCancelled }

func (o *Order) SetNote(note string) { o.note = note }
func (o *Order) SetAmountPaid(amount decimal.Decimal) { o.amountPaid = amount }

// Buffer exposes the staged changes of the current edit session.
func (o *Order) Buffer() *ChangeBuffer { return o.buf }

// AssignID is called by an OrderStore on first persistence.
func (o *Order) AssignID(id int64) error {
	if o.id != Unassigned {
		return fmt.Errorf("%w: order %d", ErrAlreadyAssigned, o.id)
	}
	o.id = id
	o.buf.rekey(id)
	return nil
}

func (o *Order) AddToOrder(ctx context.Context, it *Item, qty int) error {
	return o.EditItem(ctx, it, qty)
}

func (o *Order) RemoveFromOrder(ctx context.Context, it *Item, qty int) error {
	return o.EditItem(ctx, it, -qty)
}

// AddItems adds every entry in turn and stops at the first failure.
func (o *Order) AddItems(ctx context.Context, entries ...Entry) error {
	for _, e := range entries {
		if err := o.AddToOrder(ctx, e.Item, e.Qty); err != nil {
			return err
		}
	}
	return nil
}

// SetItemQuantity moves the line of it to exactly qty.
func (o *Order) SetItemQuantity(ctx context.Context, it *Item, qty int) error {
	if qty < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	cur, err := o.LineQuantity(ctx, it.ID())
	if err != nil {
		return err
	}
	return o.EditItem(ctx, it, qty-cur)
}

// EditItem applies a signed change to the line of it: positive reserves
// stock into the order, negative releases it back.
func (o *Order) EditItem(ctx context.Context, it *Item, delta int) error {
	if !o.IsPending() {
		return fmt.Errorf("%w: order %d is %s", ErrOrderClosed, o.id, o.status)
	}
	if delta == 0 {
		return nil
	}
	// one instance per item for the whole session, so every movement
	// lands in the delta that gets flushed
	if staged, ok := o.buf.StagedItem(it.ID()); ok {
		it = staged
	}

	key := LineKey{ItemID: it.ID(), OrderID: o.id}
	line, stored, err := o.findLine(ctx, key)
	if err != nil {
		return err
	}

	switch {
	case line != nil && canAdjust(it, line, delta):
		o.account(it, delta)
		line.Quantity += delta
		if line.Quantity == 0 {
			if stored {
				o.buf.StageDelete(line)
			} else {
				o.buf.Drop(key)
			}
		} else {
			o.buf.StageLine(line, stored)
		}
		if delta > 0 {
			it.Reserve(delta)
		} else {
			it.Release(-delta)
		}

	case line == nil && delta > 0 && it.Reserve(delta):
		o.account(it, delta)
		o.buf.StageLine(NewLineItem(it.ID(), o.id, delta), stored)

	default:
		if err := o.rollback(ctx); err != nil {
			return fmt.Errorf("rollback order %d: %w", o.id, err)
		}
		return fmt.Errorf("%w: item %d delta %d", ErrNegativeQuantity, it.ID(), delta)
	}

	o.buf.StageItem(it)
	return nil
}

// canAdjust: growing a line needs stock to cover it, shrinking needs the
// line to cover it.
func canAdjust(it *Item, line *LineItem, delta int) bool {
	if delta > 0 {
		return it.Quantity() >= delta
	}
	return line.Quantity >= -delta
}

func (o *Order) account(it *Item, delta int) {
	o.numberOfItems += delta
	o.total = o.total.Add(it.UnitPrice().Mul(decimal.NewFromInt(int64(delta))))
}

// findLine returns the live line for key, staged first. stored is true when
// a durable row exists for key, even if it is staged for deletion.
func (o *Order) findLine(ctx context.Context, key LineKey) (line *LineItem, stored bool, err error) {
	if l, st, deleted, ok := o.buf.StagedLine(key); ok {
		if deleted {
			return nil, true, nil
		}
		return l, st, nil
	}
	if o.id == Unassigned {
		return nil, false, nil
	}
	l, err := o.lines.FindByKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find line %d/%d: %w", key.OrderID, key.ItemID, err)
	}
	return l.clone(), true, nil
}

// LineQuantity is the current quantity of itemID in the order, staged
// changes included.
func (o *Order) LineQuantity(ctx context.Context, itemID int64) (int, error) {
	l, _, err := o.findLine(ctx, LineKey{ItemID: itemID, OrderID: o.id})
	if err != nil || l == nil {
		return 0, err
	}
	return l.Quantity, nil
}

// LookupItem returns the staged instance of itemID if the session touched
// it, otherwise a fresh copy from the stock store.
func (o *Order) LookupItem(ctx context.Context, itemID int64) (*Item, error) {
	if it, ok := o.buf.StagedItem(itemID); ok {
		return it, nil
	}
	return o.stock.Get(ctx, itemID)
}

// rollback discards the session and purges the stored lines of the order,
// returning their stock.
func (o *Order) rollback(ctx context.Context) error {
	o.buf.Revert()
	if o.id != Unassigned {
		if err := o.returnStored(ctx); err != nil {
			return err
		}
	}
	o.buf.Clear()
	if o.id != Unassigned {
		if err := o.lines.DeleteAllByOrder(ctx, o.id); err != nil {
			return err
		}
	}
	o.numberOfItems = 0
	o.total = decimal.Zero
	return nil
}

// returnStored releases the quantity of every stored line back to stock.
// Staged instances are used when present so in-memory items stay in step.
func (o *Order) returnStored(ctx context.Context) error {
	stored, err := o.lines.FindAllByOrder(ctx, o.id)
	if err != nil {
		return err
	}
	items := make([]*Item, 0, len(stored))
	for _, l := range stored {
		it, ok := o.buf.StagedItem(l.ItemID)
		if !ok {
			if it, err = o.stock.Get(ctx, l.ItemID); err != nil {
				return fmt.Errorf("get item %d: %w", l.ItemID, err)
			}
		}
		it.Release(l.Quantity)
		items = append(items, it)
	}
	return o.stock.SaveAll(ctx, items)
}

// Confirm flushes the session to the stores and closes the order. It is
// meant to run inside one store transaction: on error the caller rolls
// back and the order stays Pending with its buffer intact, so Confirm can
// be retried.
func (o *Order) Confirm(ctx context.Context) error {
	if !CanTransition(o.status, StatusConfirmed) {
		return fmt.Errorf("%w: order %d is %s", ErrInvalidTransition, o.id, o.status)
	}
	if o.id == Unassigned {
		return ErrUnassigned
	}

	items := o.buf.Items()
	deltas := make([]int, len(items))
	for i, it := range items {
		deltas[i] = it.PendingDelta()
	}
	if err := o.flush(ctx, items); err != nil {
		// the stock write is rolled back with the transaction
		for i, it := range items {
			it.unmark(deltas[i])
		}
		return err
	}
	o.buf.Clear()
	o.status = StatusConfirmed
	return nil
}

func (o *Order) flush(ctx context.Context, items []*Item) error {
	if err := o.stock.SaveAll(ctx, items); err != nil {
		return fmt.Errorf("flush items: %w", err)
	}
	if err := o.lines.SaveAll(ctx, o.buf.Upserts()); err != nil {
		return fmt.Errorf("flush lines: %w", err)
	}
	for _, l := range o.buf.Deletes() {
		if err := o.lines.Delete(ctx, l); err != nil {
			return fmt.Errorf("delete line %d/%d: %w", l.OrderID, l.ItemID, err)
		}
	}
	return nil
}

// Cancel returns every reservation of the order to stock and closes it.
// Staged reservations were never written, reverting them in memory is
// enough; stored lines are released durably.
func (o *Order) Cancel(ctx context.Context) error {
	if !CanTransition(o.status, StatusCancelled) {
		return fmt.Errorf("%w: order %d is %s", ErrInvalidTransition, o.id, o.status)
	}
	o.buf.Revert()
	if o.id != Unassigned {
		if err := o.returnStored(ctx); err != nil {
			return fmt.Errorf("return stock: %w", err)
		}
	}
	o.buf.Clear()
	if o.id != Unassigned {
		if err := o.lines.DeleteAllByOrder(ctx, o.id); err != nil {
			return fmt.Errorf("delete lines: %w", err)
		}
	}
	o.status = StatusCancelled
	return nil
}

// Lines is the order's current line set: stored rows overlaid with the
// staged session.
func (o *Order) Lines(ctx context.Context) ([]LineItem, error) {
	byItem := make(map[int64]LineItem)
	if o.id != Unassigned {
		stored, err := o.lines.FindAllByOrder(ctx, o.id)
		if err != nil {
			return nil, err
		}
		for _, l := range stored {
			byItem[l.ItemID] = *l
		}
	}
	for _, l := range o.buf.Upserts() {
		byItem[l.ItemID] = *l
	}
	for _, l := range o.buf.Deletes() {
		delete(byItem, l.ItemID)
	}
	out := make([]LineItem, 0, len(byItem))
	for _, l := range byItem {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (o *Order) Record() Record {
	return Record{
		ID:            o.id,
		CreatedAt:     o.createdAt,
		Status:        o.status,
		NumberOfItems: o.numberOfItems,
		Total:         o.total,
		AmountPaid:    o.amountPaid,
		Note:          o.note,
		CustomerID:    o.customerID,
		EmployeeID:    o.employeeID,
	}
}

// Equal compares by id. Unpersisted orders are only equal to themselves.
func (o *Order) Equal(other *Order) bool {
	if other == nil {
		return false
	}
	if o == other {
		return true
	}
	return o.id != Unassigned && o.id == other.id
}
