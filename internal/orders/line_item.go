package orders

// LineKey identifies the single line an item may have within an order.
type LineKey struct {
	ItemID  int64
	OrderID int64
}

// LineItem is the quantity of one item committed to one order. Once stored
// the quantity is always positive.
type LineItem struct {
	ItemID   int64 `json:"item_id"`
	OrderID  int64 `json:"order_id"`
	Quantity int   `json:"quantity"`
}

func NewLineItem(itemID, orderID int64, qty int) *LineItem {
	return &LineItem{ItemID: itemID, OrderID: orderID, Quantity: qty}
}

func (l *LineItem) Key() LineKey { return LineKey{ItemID: l.ItemID, OrderID: l.OrderID} }

// Equal compares by key; two snapshots of the same row are equal whatever
// their quantities.
func (l *LineItem) Equal(other *LineItem) bool {
	return other != nil && l.Key() == other.Key()
}

func (l *LineItem) clone() *LineItem {
	c := *l
	return &c
}
