package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-pos-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LineRepo is the Postgres LineItemStore over order_items.
type LineRepo struct{ DB *pgxpool.Pool }

func (r *LineRepo) FindByKey(ctx context.Context, key LineKey) (*LineItem, error) {
	l := &LineItem{}
	err := postgres.Conn(ctx, r.DB).QueryRow(ctx, `
		SELECT item_id, order_id, quantity FROM order_items
		WHERE order_id=$1 AND item_id=$2`, key.OrderID, key.ItemID).Scan(&l.ItemID, &l.OrderID, &l.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: line %d/%d", ErrNotFound, key.OrderID, key.ItemID)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (r *LineRepo) FindAllByOrder(ctx context.Context, orderID int64) ([]*LineItem, error) {
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, `
		SELECT item_id, order_id, quantity FROM order_items
		WHERE order_id=$1 ORDER BY item_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LineItem
	for rows.Next() {
		l := &LineItem{}
		if err := rows.Scan(&l.ItemID, &l.OrderID, &l.Quantity); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SaveAll upserts every line in one batch.
func (r *LineRepo) SaveAll(ctx context.Context, lines []*LineItem) error {
	if len(lines) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return fmt.Errorf("line %d/%d: non-positive quantity %d", l.OrderID, l.ItemID, l.Quantity)
		}
		b.Queue(`
			INSERT INTO order_items(order_id, item_id, quantity) VALUES ($1,$2,$3)
			ON CONFLICT (order_id, item_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
			l.OrderID, l.ItemID, l.Quantity)
	}
	return postgres.Conn(ctx, r.DB).SendBatch(ctx, b).Close()
}

func (r *LineRepo) Delete(ctx context.Context, l *LineItem) error {
	_, err := postgres.Conn(ctx, r.DB).Exec(ctx,
		`DELETE FROM order_items WHERE order_id=$1 AND item_id=$2`, l.OrderID, l.ItemID)
	return err
}

func (r *LineRepo) DeleteAllByOrder(ctx context.Context, orderID int64) error {
	_, err := postgres.Conn(ctx, r.DB).Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, orderID)
	return err
}
