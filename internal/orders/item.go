package orders

import "github.com/shopspring/decimal"

// Item is a stock-keeping unit. The on-hand quantity only moves through
// Reserve and Release.
type Item struct {
	id        int64
	name      string
	unitPrice decimal.Decimal
	quantity  int

	// quantity as last read from or written to the stock store
	stored int
}

// NewItem builds an item whose quantity is taken to be the stored one.
func NewItem(id int64, name string, unitPrice decimal.Decimal, quantity int) *Item {
	if quantity < 0 {
		quantity = 0
	}
	return &Item{id: id, name: name, unitPrice: unitPrice, quantity: quantity, stored: quantity}
}

func (i *Item) ID() int64 { return i.id }
func (i *Item) Name() string { return i.name }
func (i *Item) UnitPrice() decimal.Decimal { return i.unitPrice }
func (i *Item) Quantity() int { return i.quantity }

// Reserve takes qty out of stock. It fails without mutation when the
// on-hand quantity does not cover qty.
func (i *Item) Reserve(qty int) bool {
	if qty < 0 || i.quantity < qty {
		return false
	}
	i.quantity -= qty
	return true
}

// Release puts qty back into stock. Callers must not over-release.
func (i *Item) Release(qty int) {
	i.quantity += qty
}

// PendingDelta is the change not yet written to the stock store.
func (i *Item) PendingDelta() int { return i.quantity - i.stored }

// MarkStored records that the current quantity is durable.
func (i *Item) MarkStored() { i.stored = i.quantity }

// unmark restores a pending delta after a flush that did not commit.
func (i *Item) unmark(delta int) { i.stored = i.quantity - delta }

// Revert drops every unsaved reservation and release.
func (i *Item) Revert() { i.quantity = i.stored }

func (i *Item) Equal(other *Item) bool {
	return other != nil && i.id == other.id
}

type ItemView struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

func (i *Item) View() ItemView {
	return ItemView{ID: i.id, Name: i.name, UnitPrice: i.unitPrice, Quantity: i.quantity}
}
