// Package ordering runs order edit sessions against the stores: one
// in-memory Order per open order, every call wrapped in one transaction,
// events and status cache updated after commit.
package ordering

import (
	"context"
	"errors"
	"fmt"
	"sync"

	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// StatusCache is implemented by *redisx.Cache.
type StatusCache interface {
	SetStatus(ctx context.Context, orderID int64, status string) error
	Status(ctx context.Context, orderID int64) (redisx.StatusEntry, bool, error)
	RememberOrder(ctx context.Context, externalID string, orderID int64) error
	KnownOrder(ctx context.Context, externalID string) (int64, bool, error)
}

type Service struct {
	Tx      TxRunner
	Orders  orders.OrderStore
	Stock   orders.StockStore
	Lines   orders.LineItemStore
	Catalog orders.Catalog
	Events  Publisher   // optional
	Cache   StatusCache // optional
	Log     *zap.Logger
	Name    string

	mu       sync.Mutex
	sessions map[int64]*session
}

type session struct {
	mu    sync.Mutex
	order *orders.Order
	stale bool
}

// ItemQty is one requested line.
type ItemQty struct {
	ItemID int64 `json:"item_id"`
	Qty    int   `json:"qty"`
}

type CreateInput struct {
	ExternalID string    `json:"external_id"`
	CustomerID int64     `json:"customer_id"`
	EmployeeID int64     `json:"employee_id"`
	Note       string    `json:"note"`
	Items      []ItemQty `json:"items"`
}

// View is an order header with its current lines.
type View struct {
	orders.Record
	Lines []orders.LineItem `json:"lines"`
}

type traceKey struct{}

// WithTrace attaches a trace id that ends up in published events.
func WithTrace(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}

// session returns the live session of id, loading it from the store on
// first use. Sessions of closed orders are not kept.
func (s *Service) session(ctx context.Context, id int64) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ss, ok := s.sessions[id]; ok {
		return ss, nil
	}
	rec, err := s.Orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ss := &session{order: orders.Restore(rec, s.Stock, s.Lines)}
	if rec.Status == orders.StatusPending {
		s.track(ss)
	}
	return ss, nil
}

// track must be called with s.mu held.
func (s *Service) track(ss *session) {
	if s.sessions == nil {
		s.sessions = make(map[int64]*session)
	}
	s.sessions[ss.order.ID()] = ss
}

func (s *Service) evict(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ss, ok := s.sessions[id]; ok {
		ss.stale = true
		delete(s.sessions, id)
	}
}

// locked runs fn with the session of id locked, retrying once when the
// session was evicted while waiting for the lock.
func (s *Service) locked(ctx context.Context, id int64, fn func(ss *session) error) error {
	for range 2 {
		ss, err := s.session(ctx, id)
		if err != nil {
			return err
		}
		ss.mu.Lock()
		if ss.stale {
			ss.mu.Unlock()
			continue
		}
		err = fn(ss)
		ss.mu.Unlock()
		return err
	}
	return fmt.Errorf("order %d: session busy", id)
}

// domainErr reports errors that leave the session consistent.
func domainErr(err error) bool {
	for _, target := range []error{
		orders.ErrOrderClosed, orders.ErrInvalidTransition, orders.ErrInvalidQuantity,
		orders.ErrInvalidAmount, orders.ErrNotFound, orders.ErrInsufficientStock, orders.ErrUnassigned,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// edit applies fn to the order in one transaction. An invalid edit has
// already wiped the session and purged stored lines; that purge and the
// zeroed header are committed and the error still returned.
func (s *Service) edit(ctx context.Context, id int64, fn func(ctx context.Context, o *orders.Order) error) (View, error) {
	var (
		v     View
		opErr error
	)
	err := s.locked(ctx, id, func(ss *session) error {
		o := ss.order
		err := s.Tx.InTx(ctx, func(ctx context.Context) error {
			opErr = fn(ctx, o)
			if errors.Is(opErr, orders.ErrNegativeQuantity) {
				return s.Orders.Save(ctx, o)
			}
			return opErr
		})
		if err != nil {
			if !domainErr(err) {
				s.evict(id)
				s.Log.Error("order edit rolled back", zap.Int64("order_id", id), zap.Error(err))
			}
			return err
		}
		if opErr != nil {
			s.Log.Info("invalid edit discarded the session", zap.Int64("order_id", id), zap.Error(opErr))
		}
		v, err = s.view(ctx, o)
		return err
	})
	if err != nil {
		return View{}, err
	}
	return v, opErr
}

func (s *Service) view(ctx context.Context, o *orders.Order) (View, error) {
	lines, err := o.Lines(ctx)
	if err != nil {
		return View{}, err
	}
	return View{Record: o.Record(), Lines: lines}, nil
}

// CreateOrder persists a new Pending order and stages its initial items. A
// repeated external id returns the existing order with existed=true. When
// an initial item does not fit, the order exists but is empty and the
// error is ErrNegativeQuantity.
func (s *Service) CreateOrder(ctx context.Context, in CreateInput) (v View, existed bool, err error) {
	for _, it := range in.Items {
		if it.Qty < 0 {
			return View{}, false, fmt.Errorf("%w: item %d qty %d", orders.ErrInvalidQuantity, it.ItemID, it.Qty)
		}
	}
	if in.ExternalID != "" && s.Cache != nil {
		id, ok, err := s.Cache.KnownOrder(ctx, in.ExternalID)
		if err != nil {
			s.Log.Warn("idempotency lookup", zap.String("external_id", in.ExternalID), zap.Error(err))
		} else if ok {
			if v, err := s.Get(ctx, id); err == nil {
				return v, true, nil
			}
		}
	}

	o := orders.NewOrder(in.CustomerID, in.EmployeeID, s.Stock, s.Lines)
	o.SetNote(in.Note)
	var rec orders.Record
	err = s.Tx.InTx(ctx, func(ctx context.Context) error {
		rec, existed, err = s.Orders.Create(ctx, o, in.ExternalID)
		return err
	})
	if err != nil {
		return View{}, false, fmt.Errorf("create order: %w", err)
	}
	if in.ExternalID != "" {
		s.cacheCall("remember order", func() error { return s.Cache.RememberOrder(ctx, in.ExternalID, rec.ID) })
	}
	if existed {
		v, err := s.Get(ctx, rec.ID)
		return v, true, err
	}

	s.mu.Lock()
	s.track(&session{order: o})
	s.mu.Unlock()

	s.publish(ctx, orders.TopicOrderCreated, orders.EventOrderCreated, rec.ID, orders.OrderCreatedPayload{
		OrderID: rec.ID, ExternalID: in.ExternalID, CustomerID: in.CustomerID, EmployeeID: in.EmployeeID,
	})
	s.cacheStatus(ctx, rec.ID, orders.StatusPending)
	s.Log.Info("order created", zap.Int64("order_id", rec.ID), zap.String("external_id", in.ExternalID))

	if len(in.Items) == 0 {
		return View{Record: rec, Lines: []orders.LineItem{}}, false, nil
	}
	v, err = s.SetItems(ctx, rec.ID, in.Items)
	if err != nil && v.ID == 0 {
		v = View{Record: rec, Lines: []orders.LineItem{}}
	}
	return v, false, err
}

func (s *Service) AddItem(ctx context.Context, orderID, itemID int64, qty int) (View, error) {
	if qty < 0 {
		return View{}, fmt.Errorf("%w: %d", orders.ErrInvalidQuantity, qty)
	}
	return s.edit(ctx, orderID, func(ctx context.Context, o *orders.Order) error {
		it, err := o.LookupItem(ctx, itemID)
		if err != nil {
			return err
		}
		return o.AddToOrder(ctx, it, qty)
	})
}

func (s *Service) RemoveItem(ctx context.Context, orderID, itemID int64, qty int) (View, error) {
	if qty < 0 {
		return View{}, fmt.Errorf("%w: %d", orders.ErrInvalidQuantity, qty)
	}
	return s.edit(ctx, orderID, func(ctx context.Context, o *orders.Order) error {
		it, err := o.LookupItem(ctx, itemID)
		if err != nil {
			return err
		}
		return o.RemoveFromOrder(ctx, it, qty)
	})
}

// SetItems moves each listed line to its target quantity, in order. Lines
// not listed are left alone.
func (s *Service) SetItems(ctx context.Context, orderID int64, items []ItemQty) (View, error) {
	for _, it := range items {
		if it.Qty < 0 {
			return View{}, fmt.Errorf("%w: item %d qty %d", orders.ErrInvalidQuantity, it.ItemID, it.Qty)
		}
	}
	return s.edit(ctx, orderID, func(ctx context.Context, o *orders.Order) error {
		for _, e := range items {
			it, err := o.LookupItem(ctx, e.ItemID)
			if err != nil {
				return err
			}
			if err := o.SetItemQuantity(ctx, it, e.Qty); err != nil {
				return err
			}
		}
		return nil
	})
}

// Confirm flushes the session and closes the order. On
// ErrInsufficientStock the order stays Pending with its session intact.
func (s *Service) Confirm(ctx context.Context, orderID int64) (View, error) {
	var v View
	err := s.locked(ctx, orderID, func(ss *session) error {
		o := ss.order
		err := s.Tx.InTx(ctx, func(ctx context.Context) error {
			if err := o.Confirm(ctx); err != nil {
				return err
			}
			if err := s.Orders.Save(ctx, o); err != nil {
				return err
			}
			var err error
			v, err = s.view(ctx, o)
			return err
		})
		if err != nil {
			if !domainErr(err) {
				s.evict(orderID)
			}
			return err
		}
		s.evict(orderID)
		return nil
	})
	if err != nil {
		return View{}, err
	}

	s.publish(ctx, orders.TopicOrderConfirmed, orders.EventOrderConfirmed, orderID, orders.OrderConfirmedPayload{
		OrderID: orderID, Lines: orders.ToLineQty(v.Lines), NumberOfItems: v.NumberOfItems, Total: v.Total,
	})
	s.cacheStatus(ctx, orderID, orders.StatusConfirmed)
	s.Log.Info("order confirmed",
		zap.Int64("order_id", orderID),
		zap.Int("number_of_items", v.NumberOfItems),
		zap.String("total", v.Total.String()))
	return v, nil
}

// Cancel returns every reservation of a Pending order and closes it.
func (s *Service) Cancel(ctx context.Context, orderID int64) (View, error) {
	var (
		v        View
		released []*orders.LineItem
	)
	err := s.locked(ctx, orderID, func(ss *session) error {
		o := ss.order
		err := s.Tx.InTx(ctx, func(ctx context.Context) error {
			var err error
			if o.IsPending() {
				if released, err = s.Lines.FindAllByOrder(ctx, orderID); err != nil {
					return err
				}
			}
			if err := o.Cancel(ctx); err != nil {
				return err
			}
			if err := s.Orders.Save(ctx, o); err != nil {
				return err
			}
			v = View{Record: o.Record(), Lines: []orders.LineItem{}}
			return nil
		})
		if err != nil && domainErr(err) {
			return err
		}
		s.evict(orderID)
		return err
	})
	if err != nil {
		return View{}, err
	}

	rel := make([]orders.LineQty, 0, len(released))
	for _, l := range released {
		rel = append(rel, orders.LineQty{ItemID: l.ItemID, Qty: l.Quantity})
	}
	s.publish(ctx, orders.TopicOrderCancelled, orders.EventOrderCancelled, orderID, orders.OrderCancelledPayload{
		OrderID: orderID, Released: rel,
	})
	s.cacheStatus(ctx, orderID, orders.StatusCancelled)
	s.Log.Info("order cancelled", zap.Int64("order_id", orderID), zap.Int("released_lines", len(rel)))
	return v, nil
}

// RecordPayment sets the amount paid. Cancelled orders refuse payments.
func (s *Service) RecordPayment(ctx context.Context, orderID int64, amount decimal.Decimal) (View, error) {
	if amount.IsNegative() {
		return View{}, fmt.Errorf("%w: %s", orders.ErrInvalidAmount, amount)
	}
	var v View
	err := s.locked(ctx, orderID, func(ss *session) error {
		o := ss.order
		if o.IsCancelled() {
			return fmt.Errorf("%w: order %d is %s", orders.ErrOrderClosed, orderID, o.Status())
		}
		if err := s.Orders.SetAmountPaid(ctx, orderID, amount); err != nil {
			return err
		}
		o.SetAmountPaid(amount)
		var err error
		v, err = s.view(ctx, o)
		return err
	})
	return v, err
}

// Get returns the live session view of an open order, or the stored one.
func (s *Service) Get(ctx context.Context, orderID int64) (View, error) {
	var v View
	err := s.locked(ctx, orderID, func(ss *session) error {
		var err error
		v, err = s.view(ctx, ss.order)
		return err
	})
	return v, err
}

// Status answers from the cache when it can.
func (s *Service) Status(ctx context.Context, orderID int64) (orders.Status, error) {
	if s.Cache != nil {
		e, ok, err := s.Cache.Status(ctx, orderID)
		if err != nil {
			s.Log.Warn("status cache read", zap.Int64("order_id", orderID), zap.Error(err))
		} else if ok {
			if st, valid := orders.ParseStatus(e.Status); valid {
				return st, nil
			}
		}
	}
	rec, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	s.cacheStatus(ctx, orderID, rec.Status)
	return rec.Status, nil
}

// List returns stored headers, newest first. Open sessions replace their
// stored header so pending totals are current.
func (s *Service) List(ctx context.Context, f orders.Filter) ([]orders.Record, error) {
	recs, err := s.Orders.List(ctx, f)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	live := make(map[int64]*session, len(s.sessions))
	for id, ss := range s.sessions {
		live[id] = ss
	}
	s.mu.Unlock()

	for i, r := range recs {
		if ss, ok := live[r.ID]; ok {
			ss.mu.Lock()
			if !ss.stale {
				ext := r.ExternalID
				recs[i] = ss.order.Record()
				recs[i].ExternalID = ext
			}
			ss.mu.Unlock()
		}
	}
	return recs, nil
}

func (s *Service) Stats(ctx context.Context) (orders.Stats, error) {
	return s.Orders.Stats(ctx)
}

func (s *Service) Items(ctx context.Context) ([]orders.ItemView, error) {
	items, err := s.Catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]orders.ItemView, 0, len(items))
	for _, it := range items {
		out = append(out, it.View())
	}
	return out, nil
}

func (s *Service) Item(ctx context.Context, itemID int64) (orders.ItemView, error) {
	it, err := s.Stock.Get(ctx, itemID)
	if err != nil {
		return orders.ItemView{}, err
	}
	return it.View(), nil
}

// SoldQuantity is the quantity of itemID across confirmed orders.
func (s *Service) SoldQuantity(ctx context.Context, itemID int64) (int, error) {
	if _, err := s.Stock.Get(ctx, itemID); err != nil {
		return 0, err
	}
	return s.Catalog.SoldQuantity(ctx, itemID)
}

func (s *Service) publish(ctx context.Context, topic, eventType string, orderID int64, payload any) {
	if s.Events == nil {
		return
	}
	ev, err := orders.NewEnvelope(eventType, s.Name, traceID(ctx), orderID, payload)
	if err != nil {
		s.Log.Error("build event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	s.Events.Publish(topic, orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkax.EventHeaders(eventType, orders.EventVersion)...)
}

func (s *Service) cacheStatus(ctx context.Context, orderID int64, st orders.Status) {
	s.cacheCall("cache status", func() error { return s.Cache.SetStatus(ctx, orderID, string(st)) })
}

// cacheCall runs a best-effort cache write.
func (s *Service) cacheCall(what string, fn func() error) {
	if s.Cache == nil {
		return
	}
	if err := fn(); err != nil {
		s.Log.Warn(what, zap.Error(err))
	}
}
