// Package memstore keeps items, order lines and order headers in memory.
// It implements the same store contracts as the Postgres repositories,
// including the conditional stock update, and backs the tests of every layer.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/shopspring/decimal"
)

type itemRow struct {
	name  string
	price decimal.Decimal
	qty   int
}

type Store struct {
	mu          sync.Mutex
	nextItemID  int64
	nextOrderID int64
	items       map[int64]itemRow
	lines       map[orders.LineKey]int
	orders      map[int64]orders.Record
	byExternal  map[string]int64

	stockSaves int
	lineSaves  int
	failStock  error
	failLines  error
}

func New() *Store {
	return &Store{
		nextItemID:  1,
		nextOrderID: 1,
		items:       make(map[int64]itemRow),
		lines:       make(map[orders.LineKey]int),
		orders:      make(map[int64]orders.Record),
		byExternal:  make(map[string]int64),
	}
}

// transaction-aware locking: inside InTx the lock is already held
type txKey struct{}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

func (s *Store) lock(ctx context.Context) {
	if !inTx(ctx) {
		s.mu.Lock()
	}
}

func (s *Store) unlock(ctx context.Context) {
	if !inTx(ctx) {
		s.mu.Unlock()
	}
}

// InTx serializes fn against every other store call and restores the
// previous state when fn fails.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, lines := maps.Clone(s.items), maps.Clone(s.lines)
	ords, ext := maps.Clone(s.orders), maps.Clone(s.byExternal)
	nextOrder := s.nextOrderID

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.items, s.lines, s.orders, s.byExternal = items, lines, ords, ext
		s.nextOrderID = nextOrder
		return err
	}
	return nil
}

// PutItem seeds the catalog and returns the new item id.
func (s *Store) PutItem(name string, price decimal.Decimal, qty int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextItemID
	s.nextItemID++
	s.items[id] = itemRow{name: name, price: price, qty: qty}
	return id
}

// PutLine writes a durable line directly, bypassing any order session.
func (s *Store) PutLine(l orders.LineItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines[l.Key()] = l.Quantity
}

// StockOf is the durable quantity of an item, -1 if unknown.
func (s *Store) StockOf(itemID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.items[itemID]
	if !ok {
		return -1
	}
	return row.qty
}

// Writes counts SaveAll calls on the stock and line stores.
func (s *Store) Writes() (stock, lines int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stockSaves, s.lineSaves
}

// FailStockSave makes the next stock SaveAll return err.
func (s *Store) FailStockSave(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStock = err
}

// FailLineSave makes the next line SaveAll return err.
func (s *Store) FailLineSave(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLines = err
}

func (s *Store) Stock() *Stock { return &Stock{s: s} }
func (s *Store) Lines() *Lines { return &Lines{s: s} }
func (s *Store) Orders() *Orders { return &Orders{s: s} }

// Stock implements orders.StockStore and orders.Catalog.
type Stock struct{ s *Store }

func (st *Stock) Get(ctx context.Context, itemID int64) (*orders.Item, error) {
	st.s.lock(ctx)
	defer st.s.unlock(ctx)
	row, ok := st.s.items[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: item %d", orders.ErrNotFound, itemID)
	}
	return orders.NewItem(itemID, row.name, row.price, row.qty), nil
}

func (st *Stock) SaveAll(ctx context.Context, items []*orders.Item) error {
	st.s.lock(ctx)
	defer st.s.unlock(ctx)
	st.s.stockSaves++
	if err := st.s.failStock; err != nil {
		st.s.failStock = nil
		return err
	}
	// validate first so a failed batch changes nothing
	for _, it := range items {
		row, ok := st.s.items[it.ID()]
		if !ok || row.qty+it.PendingDelta() < 0 {
			return fmt.Errorf("%w: item %d", orders.ErrInsufficientStock, it.ID())
		}
	}
	for _, it := range items {
		row := st.s.items[it.ID()]
		row.qty += it.PendingDelta()
		st.s.items[it.ID()] = row
		it.MarkStored()
	}
	return nil
}

func (st *Stock) List(ctx context.Context) ([]*orders.Item, error) {
	st.s.lock(ctx)
	defer st.s.unlock(ctx)
	out := make([]*orders.Item, 0, len(st.s.items))
	for id, row := range st.s.items {
		out = append(out, orders.NewItem(id, row.name, row.price, row.qty))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (st *Stock) SoldQuantity(ctx context.Context, itemID int64) (int, error) {
	st.s.lock(ctx)
	defer st.s.unlock(ctx)
	n := 0
	for k, qty := range st.s.lines {
		if k.ItemID == itemID && st.s.orders[k.OrderID].Status == orders.StatusConfirmed {
			n += qty
		}
	}
	return n, nil
}

// Lines implements orders.LineItemStore.
type Lines struct{ s *Store }

func (ls *Lines) FindByKey(ctx context.Context, key orders.LineKey) (*orders.LineItem, error) {
	ls.s.lock(ctx)
	defer ls.s.unlock(ctx)
	qty, ok := ls.s.lines[key]
	if !ok {
		return nil, fmt.Errorf("%w: line %d/%d", orders.ErrNotFound, key.OrderID, key.ItemID)
	}
	return orders.NewLineItem(key.ItemID, key.OrderID, qty), nil
}

func (ls *Lines) FindAllByOrder(ctx context.Context, orderID int64) ([]*orders.LineItem, error) {
	ls.s.lock(ctx)
	defer ls.s.unlock(ctx)
	var out []*orders.LineItem
	for k, qty := range ls.s.lines {
		if k.OrderID == orderID {
			out = append(out, orders.NewLineItem(k.ItemID, k.OrderID, qty))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (ls *Lines) SaveAll(ctx context.Context, lines []*orders.LineItem) error {
	ls.s.lock(ctx)
	defer ls.s.unlock(ctx)
	ls.s.lineSaves++
	if err := ls.s.failLines; err != nil {
		ls.s.failLines = nil
		return err
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return fmt.Errorf("line %d/%d: non-positive quantity %d", l.OrderID, l.ItemID, l.Quantity)
		}
	}
	for _, l := range lines {
		ls.s.lines[l.Key()] = l.Quantity
	}
	return nil
}

func (ls *Lines) Delete(ctx context.Context, l *orders.LineItem) error {
	ls.s.lock(ctx)
	defer ls.s.unlock(ctx)
	delete(ls.s.lines, l.Key())
	return nil
}

func (ls *Lines) DeleteAllByOrder(ctx context.Context, orderID int64) error {
	ls.s.lock(ctx)
	defer ls.s.unlock(ctx)
	for k := range ls.s.lines {
		if k.OrderID == orderID {
			delete(ls.s.lines, k)
		}
	}
	return nil
}

// Orders implements orders.OrderStore.
type Orders struct{ s *Store }

func (r *Orders) Create(ctx context.Context, o *orders.Order, externalID string) (orders.Record, bool, error) {
	r.s.lock(ctx)
	defer r.s.unlock(ctx)
	if externalID != "" {
		if id, ok := r.s.byExternal[externalID]; ok {
			return r.s.orders[id], true, nil
		}
	}
	id := r.s.nextOrderID
	if err := o.AssignID(id); err != nil {
		return orders.Record{}, false, err
	}
	r.s.nextOrderID++
	rec := o.Record()
	rec.ExternalID = externalID
	r.s.orders[id] = rec
	if externalID != "" {
		r.s.byExternal[externalID] = id
	}
	return rec, false, nil
}

func (r *Orders) Get(ctx context.Context, id int64) (orders.Record, error) {
	r.s.lock(ctx)
	defer r.s.unlock(ctx)
	rec, ok := r.s.orders[id]
	if !ok {
		return orders.Record{}, fmt.Errorf("%w: order %d", orders.ErrNotFound, id)
	}
	return rec, nil
}

func (r *Orders) Save(ctx context.Context, o *orders.Order) error {
	r.s.lock(ctx)
	defer r.s.unlock(ctx)
	prev, ok := r.s.orders[o.ID()]
	if !ok {
		return fmt.Errorf("%w: order %d", orders.ErrNotFound, o.ID())
	}
	rec := o.Record()
	rec.ExternalID = prev.ExternalID
	r.s.orders[o.ID()] = rec
	return nil
}

func (r *Orders) SetAmountPaid(ctx context.Context, id int64, amount decimal.Decimal) error {
	r.s.lock(ctx)
	defer r.s.unlock(ctx)
	rec, ok := r.s.orders[id]
	if !ok {
		return fmt.Errorf("%w: order %d", orders.ErrNotFound, id)
	}
	rec.AmountPaid = amount
	r.s.orders[id] = rec
	return nil
}

func (r *Orders) List(ctx context.Context, f orders.Filter) ([]orders.Record, error) {
	r.s.lock(ctx)
	defer r.s.unlock(ctx)
	var out []orders.Record
	for _, rec := range r.s.orders {
		if f.Matches(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *Orders) Stats(ctx context.Context) (orders.Stats, error) {
	r.s.lock(ctx)
	defer r.s.unlock(ctx)
	st := orders.Stats{TotalSales: decimal.Zero, TotalPaid: decimal.Zero}
	for _, rec := range r.s.orders {
		if rec.Status != orders.StatusConfirmed {
			continue
		}
		st.ConfirmedOrders++
		st.TotalSales = st.TotalSales.Add(rec.Total)
		st.TotalPaid = st.TotalPaid.Add(rec.AmountPaid)
		st.SoldQuantity += rec.NumberOfItems
	}
	return st, nil
}
