package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/washgo/delivery/internal/domain/order"
	"github.com/washgo/delivery/internal/domain/payment"
)

const (
	pendingColumns = `session_id, user_id, pickup_date, pickup_time, location, weight,
		item_count, blankets, pillows, total_price, first_time_discount, created_at,
		COALESCE(order_id, 0), finalized_at`

	savePendingSQL = `INSERT INTO pending_orders (session_id, user_id, pickup_date, pickup_time,
			location, weight, item_count, blankets, pillows, total_price, first_time_discount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	getPendingSQL = `SELECT ` + pendingColumns + ` FROM pending_orders WHERE session_id = $1`

	lockPendingSQL = getPendingSQL + ` FOR UPDATE`

	// Compare-and-set: only one paid order ever flips the flag.
	clearFirstTimeSQL = `UPDATE users SET is_first_time_customer = FALSE
		WHERE id = $1 AND is_first_time_customer`

	insertPaidOrderSQL = `INSERT INTO orders (user_id, pickup_date, pickup_time, location, status,
			weight, item_count, blankets, pillows, total_price, first_time_discount, checkout_session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + orderColumns

	markFinalizedSQL = `UPDATE pending_orders SET order_id = $2, finalized_at = NOW(), failure = NULL
		WHERE session_id = $1`

	recordFailureSQL = `UPDATE pending_orders SET failure = $2 WHERE session_id = $1`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository stores pending orders and finalizes them into orders.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// SavePending stores a pending order under its checkout session id.
func (r *PaymentRepository) SavePending(ctx context.Context, p *payment.Pending) error {
	_, err := r.pool.Exec(ctx, savePendingSQL,
		p.SessionID, p.UserID, p.PickupDate, timeOfDayParam(p.PickupTime), p.Location, p.Weight,
		p.ItemCount, p.Blankets, p.Pillows, p.Total, p.FirstTimeDiscount, p.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "save pending order %s", p.SessionID)
	}
	return nil
}

// GetPending returns the pending order for a session.
func (r *PaymentRepository) GetPending(ctx context.Context, sessionID string) (*payment.Pending, error) {
	return getPending(ctx, r.pool, getPendingSQL, sessionID)
}

func getPending(ctx context.Context, q querier, sql, sessionID string) (*payment.Pending, error) {
	rows, err := q.Query(ctx, sql, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "query pending order")
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPending)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrPendingNotFound
		}
		return nil, errors.Wrap(err, "scan pending order")
	}
	return &p, nil
}

// Finalize turns the pending order into a Paid order in one transaction.
//
// The pending row is locked so concurrent confirmations of the same session
// serialize; the second one sees the order id and returns it. The first-time
// flag is cleared with a compare-and-set so that of two discounted sessions
// paid concurrently by one customer only the first is accepted.
func (r *PaymentRepository) Finalize(ctx context.Context, sessionID string) (_ *payment.Result, rerr error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer func() {
		if rerr != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	p, err := getPending(ctx, tx, lockPendingSQL, sessionID)
	if err != nil {
		return nil, err
	}

	if p.Finalized() {
		o, err := getOrder(ctx, tx, p.OrderID)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, errors.Wrap(err, "commit")
		}
		return &payment.Result{Order: *o, Created: false}, nil
	}

	tag, err := tx.Exec(ctx, clearFirstTimeSQL, p.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "clear first-time flag")
	}
	if p.FirstTimeDiscount && tag.RowsAffected() == 0 {
		if _, err := tx.Exec(ctx, recordFailureSQL, sessionID, payment.ErrDiscountAlreadyUsed.Error()); err != nil {
			return nil, errors.Wrap(err, "record failure")
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, errors.Wrap(err, "commit")
		}
		return nil, payment.ErrDiscountAlreadyUsed
	}

	rows, err := tx.Query(ctx, insertPaidOrderSQL,
		p.UserID, p.PickupDate, timeOfDayParam(p.PickupTime), p.Location, string(order.StatusPaid),
		p.Weight, p.ItemCount, p.Blankets, p.Pillows, p.Total, p.FirstTimeDiscount, p.SessionID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}

	if _, err := tx.Exec(ctx, markFinalizedSQL, sessionID, o.ID); err != nil {
		return nil, errors.Wrap(err, "mark finalized")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return &payment.Result{Order: o, Created: true}, nil
}

func scanPending(row pgx.CollectableRow) (payment.Pending, error) {
	var (
		p         payment.Pending
		pickup    pgtype.Time
		finalized *time.Time
	)
	err := row.Scan(
		&p.SessionID, &p.UserID, &p.PickupDate, &pickup, &p.Location, &p.Weight,
		&p.ItemCount, &p.Blankets, &p.Pillows, &p.Total, &p.FirstTimeDiscount, &p.CreatedAt,
		&p.OrderID, &finalized,
	)
	p.PickupTime = timeOfDayValue(pickup)
	if finalized != nil {
		p.FinalizedAt = *finalized
	}
	return p, err
}
