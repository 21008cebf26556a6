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

// OrderRepo is the Postgres OrderStore over the orders table.
type OrderRepo struct{ DB *pgxpool.Pool }

const orderColumns = `id, COALESCE(external_id, ''), created_at, status, number_of_items,
	total::text, amount_paid::text, note, customer_id, employee_id`

// Create is idempotent via external_id: a known external_id returns the
// existing order (existed=true).
func (r *OrderRepo) Create(ctx context.Context, o *Order, externalID string) (Record, bool, error) {
	q := postgres.Conn(ctx, r.DB)
	if externalID != "" {
		rec, err := scanRecord(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_id=$1`, externalID))
		if err == nil {
			return rec, true, nil
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return Record{}, false, err
		}
	}

	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO orders(external_id, created_at, status, number_of_items, total, amount_paid, note, customer_id, employee_id)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id`,
		externalID, o.CreatedAt(), o.Status(), o.NumberOfItems(),
		o.Total().String(), o.AmountPaid().String(), o.Note(), o.CustomerID(), o.EmployeeID(),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// lost the race on external_id
		rec, err := scanRecord(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_id=$1`, externalID))
		return rec, err == nil, err
	}
	if err != nil {
		return Record{}, false, err
	}
	if err := o.AssignID(id); err != nil {
		return Record{}, false, err
	}
	rec := o.Record()
	rec.ExternalID = externalID
	return rec, false, nil
}

func (r *OrderRepo) Get(ctx context.Context, id int64) (Record, error) {
	rec, err := scanRecord(postgres.Conn(ctx, r.DB).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	return rec, err
}

func (r *OrderRepo) Save(ctx context.Context, o *Order) error {
	ct, err := postgres.Conn(ctx, r.DB).Exec(ctx, `
		UPDATE orders SET status=$2, number_of_items=$3, total=$4::numeric, amount_paid=$5::numeric,
		                  note=$6, updated_at=now()
		WHERE id=$1`,
		o.ID(), o.Status(), o.NumberOfItems(), o.Total().String(), o.AmountPaid().String(), o.Note())
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: order %d", ErrNotFound, o.ID())
	}
	return nil
}

func (r *OrderRepo) SetAmountPaid(ctx context.Context, id int64, amount decimal.Decimal) error {
	ct, err := postgres.Conn(ctx, r.DB).Exec(ctx,
		`UPDATE orders SET amount_paid=$2::numeric, updated_at=now() WHERE id=$1`, id, amount.String())
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	return nil
}

func (r *OrderRepo) List(ctx context.Context, f Filter) ([]Record, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE true`
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND "+cond, len(args))
	}
	if f.Status != "" {
		add("status=$%d", f.Status)
	}
	if f.CustomerID != 0 {
		add("customer_id=$%d", f.CustomerID)
	}
	if f.EmployeeID != 0 {
		add("employee_id=$%d", f.EmployeeID)
	}
	if f.From != nil {
		add("created_at>=$%d", *f.From)
	}
	if f.To != nil {
		add("created_at<=$%d", *f.To)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *OrderRepo) Stats(ctx context.Context) (Stats, error) {
	var (
		s           Stats
		sales, paid string
	)
	err := postgres.Conn(ctx, r.DB).QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total), 0)::text, COALESCE(SUM(amount_paid), 0)::text,
		       COALESCE(SUM(number_of_items), 0)
		FROM orders WHERE status=$1`, StatusConfirmed).Scan(&s.ConfirmedOrders, &sales, &paid, &s.SoldQuantity)
	if err != nil {
		return Stats{}, err
	}
	if s.TotalSales, err = decimal.NewFromString(sales); err != nil {
		return Stats{}, err
	}
	if s.TotalPaid, err = decimal.NewFromString(paid); err != nil {
		return Stats{}, err
	}
	return s, nil
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec         Record
		total, paid string
	)
	err := row.Scan(&rec.ID, &rec.ExternalID, &rec.CreatedAt, &rec.Status, &rec.NumberOfItems,
		&total, &paid, &rec.Note, &rec.CustomerID, &rec.EmployeeID)
	if err != nil {
		return Record{}, err
	}
	if rec.Total, err = decimal.NewFromString(total); err != nil {
		return Record{}, err
	}
	if rec.AmountPaid, err = decimal.NewFromString(paid); err != nil {
		return Record{}, err
	}
	return rec, nil
}
