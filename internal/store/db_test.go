package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestMapErr(t *testing.T) {
	require.NoError(t, mapErr(nil))
	require.ErrorIs(t, mapErr(pgx.ErrNoRows), ErrNotFound)
	require.ErrorIs(t, mapErr(fmt.Errorf("wrapped: %w", pgx.ErrNoRows)), ErrNotFound)

	dup := &pgconn.PgError{Code: "23505", ConstraintName: "students_payment_id_key"}
	err := mapErr(dup)
	require.ErrorIs(t, err, ErrConflict)
	require.Contains(t, err.Error(), "students_payment_id_key")

	other := &pgconn.PgError{Code: "23503"}
	require.Same(t, error(other), mapErr(other))

	plain := errors.New("boom")
	require.Equal(t, plain, mapErr(plain))
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = r.values[i].(int64)
		case *string:
			*p = r.values[i].(string)
		case **string:
			if v, ok := r.values[i].(string); ok {
				*p = &v
			}
		case *time.Time:
			*p = r.values[i].(time.Time)
		case **time.Time:
			if v, ok := r.values[i].(time.Time); ok {
				*p = &v
			}
		default:
			return fmt.Errorf("unexpected dest %T", d)
		}
	}
	return nil
}

func TestScanOrder(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	o, err := scanOrder(fakeRow{values: []any{"order_1", "rcpt_1", int64(19900), "INR", OrderStatusPaid, "pay_1", "sig", nil, now, now, now}})
	require.NoError(t, err)
	require.Equal(t, "order_1", o.ID)
	require.Equal(t, int64(19900), o.AmountMinor)
	require.NotNil(t, o.PaymentID)
	require.Equal(t, "pay_1", *o.PaymentID)
	require.Nil(t, o.Note)
	require.NotNil(t, o.PaidAt)

	_, err = scanOrder(fakeRow{err: pgx.ErrNoRows})
	require.ErrorIs(t, err, ErrNotFound)
}
