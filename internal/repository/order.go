package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/washgo/delivery/internal/domain/order"
)

const (
	orderColumns = `id, user_id, pickup_date, pickup_time, location, status, weight,
		item_count, blankets, pillows, total_price, first_time_discount,
		COALESCE(checkout_session_id, ''), created_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1
		ORDER BY pickup_date DESC, id DESC
		LIMIT $2`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1::text[] IS NULL OR status = ANY($1))
			AND ($2::date IS NULL OR pickup_date >= $2)
			AND ($3::date IS NULL OR pickup_date <= $3)
			AND ($4::numeric IS NULL OR total_price >= $4)
			AND ($5::numeric IS NULL OR total_price <= $5)
		ORDER BY pickup_date DESC, id DESC
		LIMIT $6`

	updateOrderStatusSQL = `UPDATE orders SET status = $3 WHERE id = $1 AND status = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	countFirstTimeCustomersSQL = `SELECT COUNT(*) FROM users
		WHERE is_first_time_customer AND NOT is_admin`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Get returns an order by id.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	return getOrder(ctx, r.pool, id)
}

func getOrder(ctx context.Context, q querier, id int64) (*order.Order, error) {
	rows, err := q.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	return &o, nil
}

// ListByUser returns the user's orders, newest pickup date first. A limit of
// zero returns all of them.
func (r *OrderRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID, limitParam(limit))
	if err != nil {
		return nil, errors.Wrap(err, "list orders by user")
	}
	return pgx.CollectRows(rows, scanOrder)
}

// List returns orders matching the filter, newest pickup date first.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	var statuses []string
	for _, s := range f.Statuses {
		statuses = append(statuses, string(s))
	}
	rows, err := r.pool.Query(ctx, listOrdersSQL,
		statuses,
		dateParam(f.From),
		dateParam(f.To),
		f.MinTotal,
		f.MaxTotal,
		limitParam(f.Limit),
	)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return pgx.CollectRows(rows, scanOrder)
}

// UpdateStatus sets the status if the order still has status from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, from, to order.Status) error {
	tag, err := r.pool.Exec(ctx, updateOrderStatusSQL, id, string(from), string(to))
	if err != nil {
		return errors.Wrapf(err, "update order %d status", id)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return errors.Wrapf(err, "check order %d", id)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrStatusConflict
}

// CountFirstTimeCustomers counts customers who have not completed an order.
func (r *OrderRepository) CountFirstTimeCustomers(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countFirstTimeCustomersSQL).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count first-time customers")
	}
	return n, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		pickup pgtype.Time
		status string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.PickupDate, &pickup, &o.Location, &status, &o.Weight,
		&o.ItemCount, &o.Blankets, &o.Pillows, &o.Total, &o.FirstTimeDiscount,
		&o.SessionID, &o.CreatedAt,
	)
	o.PickupTime = timeOfDayValue(pickup)
	o.Status = order.Status(status)
	return o, err
}

func limitParam(limit int) *int64 {
	if limit <= 0 {
		return nil
	}
	l := int64(limit)
	return &l
}

func dateParam(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
