package orders

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StockStore reads and writes item quantities. SaveAll writes each item's
// PendingDelta as one conditional update (quantity + delta >= 0) and marks
// the item stored; an item whose delta no longer fits yields
// ErrInsufficientStock.
type StockStore interface {
	Get(ctx context.Context, itemID int64) (*Item, error)
	SaveAll(ctx context.Context, items []*Item) error
}

// LineItemStore persists order lines. FindByKey returns ErrNotFound when the
// line does not exist.
type LineItemStore interface {
	FindByKey(ctx context.Context, key LineKey) (*LineItem, error)
	FindAllByOrder(ctx context.Context, orderID int64) ([]*LineItem, error)
	SaveAll(ctx context.Context, lines []*LineItem) error
	Delete(ctx context.Context, line *LineItem) error
	DeleteAllByOrder(ctx context.Context, orderID int64) error
}

// Record is the persisted header of an order.
type Record struct {
	ID            int64           `json:"id"`
	ExternalID    string          `json:"external_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Status        Status          `json:"status"`
	NumberOfItems int             `json:"number_of_items"`
	Total         decimal.Decimal `json:"total"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	Note          string          `json:"note,omitempty"`
	CustomerID    int64           `json:"customer_id"`
	EmployeeID    int64           `json:"employee_id"`
}

type Filter struct {
	Status     Status
	CustomerID int64
	EmployeeID int64
	From, To   *time.Time
}

type Stats struct {
	ConfirmedOrders int             `json:"confirmed_orders"`
	TotalSales      decimal.Decimal `json:"total_sales"`
	TotalPaid       decimal.Decimal `json:"total_paid"`
	SoldQuantity    int             `json:"sold_quantity"`
}

// OrderStore persists order headers. Create assigns the id through
// Order.AssignID; when externalID is already known it returns the existing
// record with existed=true and leaves o untouched.
type OrderStore interface {
	Create(ctx context.Context, o *Order, externalID string) (rec Record, existed bool, err error)
	Get(ctx context.Context, id int64) (Record, error)
	Save(ctx context.Context, o *Order) error
	SetAmountPaid(ctx context.Context, id int64, amount decimal.Decimal) error
	List(ctx context.Context, f Filter) ([]Record, error)
	Stats(ctx context.Context) (Stats, error)
}

// Catalog is the read side of the item table.
type Catalog interface {
	List(ctx context.Context) ([]*Item, error)
	SoldQuantity(ctx context.Context, itemID int64) (int, error)
}

// Matches reports whether r passes f.
func (f Filter) Matches(r Record) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.CustomerID != 0 && r.CustomerID != f.CustomerID {
		return false
	}
	if f.EmployeeID != 0 && r.EmployeeID != f.EmployeeID {
		return false
	}
	if f.From != nil && r.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && r.CreatedAt.After(*f.To) {
		return false
	}
	return true
}
