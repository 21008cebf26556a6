package orders

import "errors"

var (
	// ErrOrderClosed: line items of a non-pending order cannot be edited.
	ErrOrderClosed = errors.New("order is closed for edits")
	// ErrInvalidTransition: confirm/cancel called from a state that does not allow it.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrNegativeQuantity: the edit would drive a line or stock below zero.
	// The order's staged work is discarded when this is returned.
	ErrNegativeQuantity = errors.New("quantity would drop below zero")

	// ErrNotFound: no item, line or order under the given key.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock: the stored quantity no longer covers a flushed delta.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrAlreadyAssigned: the order already has an id.
	ErrAlreadyAssigned = errors.New("order id already assigned")
	// ErrUnassigned: the order has not been persisted yet.
	ErrUnassigned = errors.New("order has not been persisted")

	// ErrInvalidQuantity: a requested quantity is negative.
	ErrInvalidQuantity = errors.New("quantity must not be negative")
	// ErrInvalidAmount: a payment amount is negative.
	ErrInvalidAmount = errors.New("amount must not be negative")
)
