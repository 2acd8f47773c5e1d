package store

import (
	"context"
	"errors"
	"time"
)

// Order statuses.
const (
	OrderStatusCreated    = "created"
	OrderStatusPaid       = "paid"
	OrderStatusReconciled = "reconciled"
	OrderStatusFlagged    = "flagged"
)

// PaymentOrder is a gateway order opened for one registration fee.
type PaymentOrder struct {
	ID          string
	Receipt     string
	AmountMinor int64
	Currency    string
	Status      string
	PaymentID   *string
	Signature   *string
	Note        *string
	CreatedAt   time.Time
	PaidAt      *time.Time
	UpdatedAt   time.Time
}

const orderColumns = `id, receipt, amount_minor, currency, status, payment_id, signature, note, created_at, paid_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (PaymentOrder, error) {
	var o PaymentOrder
	err := row.Scan(&o.ID, &o.Receipt, &o.AmountMinor, &o.Currency, &o.Status, &o.PaymentID, &o.Signature, &o.Note, &o.CreatedAt, &o.PaidAt, &o.UpdatedAt)
	return o, mapErr(err)
}

// CreateOrderParams describes a freshly opened gateway order.
type CreateOrderParams struct {
	ID          string
	Receipt     string
	AmountMinor int64
	Currency    string
}

// CreateOrder persists a gateway order in the created state.
func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (PaymentOrder, error) {
	row := q.db.QueryRow(ctx, `
INSERT INTO payment_orders (id, receipt, amount_minor, currency, status)
VALUES ($1, $2, $3, $4, 'created')
RETURNING `+orderColumns, arg.ID, arg.Receipt, arg.AmountMinor, arg.Currency)
	return scanOrder(row)
}

// GetOrder loads an order by its gateway id.
func (q *Queries) GetOrder(ctx context.Context, id string) (PaymentOrder, error) {
	row := q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM payment_orders WHERE id = $1`, id)
	return scanOrder(row)
}

// MarkOrderPaidParams binds a verified payment to an order.
type MarkOrderPaidParams struct {
	ID        string
	PaymentID string
	Signature string
}

// MarkOrderPaid moves a created order to paid. ErrConflict means the order was not in the created state.
func (q *Queries) MarkOrderPaid(ctx context.Context, arg MarkOrderPaidParams) (PaymentOrder, error) {
	row := q.db.QueryRow(ctx, `
UPDATE payment_orders
SET status = 'paid', payment_id = $2, signature = $3, paid_at = now(), updated_at = now()
WHERE id = $1 AND status = 'created'
RETURNING `+orderColumns, arg.ID, arg.PaymentID, arg.Signature)
	o, err := scanOrder(row)
	if errors.Is(err, ErrNotFound) {
		return PaymentOrder{}, ErrConflict
	}
	return o, err
}

// SetOrderReconciliation records the reconciliation verdict for a paid order.
func (q *Queries) SetOrderReconciliation(ctx context.Context, id, status string, note *string) error {
	tag, err := q.db.Exec(ctx, `
UPDATE payment_orders SET status = $2, note = $3, updated_at = now()
WHERE id = $1 AND status IN ('paid', 'reconciled', 'flagged')`, id, status, note)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
