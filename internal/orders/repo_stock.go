package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-pos-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// StockRepo is the Postgres StockStore and Catalog.
type StockRepo struct{ DB *pgxpool.Pool }

const itemColumns = `id, name, unit_price::text, quantity`

func (r *StockRepo) Get(ctx context.Context, itemID int64) (*Item, error) {
	row := postgres.Conn(ctx, r.DB).QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1`, itemID)
	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: item %d", ErrNotFound, itemID)
	}
	return it, err
}

// SaveAll sends every pending delta in one batch. Each update only applies
// while the row can cover it, so concurrent reservations never push stock
// below zero.
func (r *StockRepo) SaveAll(ctx context.Context, items []*Item) error {
	b := &pgx.Batch{}
	var queued []*Item
	for _, it := range items {
		d := it.PendingDelta()
		if d == 0 {
			continue
		}
		b.Queue(`UPDATE items SET quantity = quantity + $2, updated_at = now()
		         WHERE id=$1 AND quantity + $2 >= 0`, it.ID(), d)
		queued = append(queued, it)
	}
	if len(queued) == 0 {
		return nil
	}

	br := postgres.Conn(ctx, r.DB).SendBatch(ctx, b)
	for _, it := range queued {
		ct, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return fmt.Errorf("update item %d: %w", it.ID(), err)
		}
		if ct.RowsAffected() != 1 {
			_ = br.Close()
			return fmt.Errorf("%w: item %d", ErrInsufficientStock, it.ID())
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	for _, it := range queued {
		it.MarkStored()
	}
	return nil
}

func (r *StockRepo) List(ctx context.Context) ([]*Item, error) {
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// SoldQuantity sums the item's lines over confirmed orders.
func (r *StockRepo) SoldQuantity(ctx context.Context, itemID int64) (int, error) {
	var n int
	err := postgres.Conn(ctx, r.DB).QueryRow(ctx, `
		SELECT COALESCE(SUM(oi.quantity), 0)
		FROM order_items oi JOIN orders o ON o.id = oi.order_id
		WHERE oi.item_id=$1 AND o.status=$2`, itemID, StatusConfirmed).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*Item, error) {
	var (
		id    int64
		name  string
		price string
		qty   int
	)
	if err := row.Scan(&id, &name, &price, &qty); err != nil {
		return nil, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("item %d price %q: %w", id, price, err)
	}
	return NewItem(id, name, p, qty), nil
}
