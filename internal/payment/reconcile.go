package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/academy-api/internal/obs"
	"github.com/noah-isme/academy-api/internal/store"
)

// TypeReconcile is the asynq task type that cross-checks a paid order with the gateway.
const TypeReconcile = "payment:reconcile"

// ReconcilePayload is the body of a reconcile task.
type ReconcilePayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
}

// NewReconcileTask builds a reconcile task for a paid order.
func NewReconcileTask(orderID, paymentID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ReconcilePayload{OrderID: orderID, PaymentID: paymentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeReconcile, payload), nil
}

// Locker serialises work on one key across workers. lock.Locker implements it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Reconciler compares paid orders against the gateway's payment record.
type Reconciler struct {
	Orders  OrderStore
	Gateway Gateway
	Charge  ExpectedCharge
	Locker  Locker
	LockTTL time.Duration
	Logger  zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (r *Reconciler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		obs.IncCounter(obs.PaymentReconcileTotal, "bad_payload")
		return fmt.Errorf("decode reconcile payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.OrderID == "" || p.PaymentID == "" {
		obs.IncCounter(obs.PaymentReconcileTotal, "bad_payload")
		return fmt.Errorf("reconcile payload incomplete: %w", asynq.SkipRetry)
	}
	run := func(ctx context.Context) error { return r.reconcile(ctx, p) }
	if r.Locker == nil {
		return run(ctx)
	}
	return r.Locker.WithLock(ctx, "lock:reconcile:"+p.OrderID, r.LockTTL, run)
}

// Flag notes start with the kind of problem found.
const (
	flagPayment = "payment: "
	flagAmount  = "amount: "
)

// flaggedError maps a flagged order's note back to the confirmation error it stands for.
func flaggedError(order store.PaymentOrder) error {
	if order.Note != nil && strings.HasPrefix(*order.Note, flagAmount) {
		return fmt.Errorf("%w: %s", ErrAmountMismatch, strings.TrimPrefix(*order.Note, flagAmount))
	}
	reason := "flagged by reconciliation"
	if order.Note != nil {
		reason = strings.TrimPrefix(*order.Note, flagPayment)
	}
	return fmt.Errorf("%w: %s", ErrPaymentMismatch, reason)
}

func (r *Reconciler) reconcile(ctx context.Context, p ReconcilePayload) error {
	order, err := r.Orders.GetOrder(ctx, p.OrderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			obs.IncCounter(obs.PaymentReconcileTotal, "order_not_found")
			return fmt.Errorf("order %s: %w", p.OrderID, asynq.SkipRetry)
		}
		return err
	}
	if order.Status == store.OrderStatusCreated {
		obs.IncCounter(obs.PaymentReconcileTotal, "not_paid")
		return fmt.Errorf("order %s is not paid: %w", p.OrderID, asynq.SkipRetry)
	}
	if order.Status == store.OrderStatusReconciled || order.Status == store.OrderStatusFlagged {
		obs.IncCounter(obs.PaymentReconcileTotal, "skipped")
		return nil
	}

	payment, err := r.Gateway.FetchPayment(ctx, p.PaymentID)
	if err != nil {
		obs.IncCounter(obs.PaymentReconcileTotal, "gateway_error")
		return fmt.Errorf("fetch payment %s: %w", p.PaymentID, err)
	}

	var problem string
	switch {
	case payment.OrderID != p.OrderID:
		problem = flagPayment + fmt.Sprintf("belongs to order %q", payment.OrderID)
	case !payment.Settled():
		problem = flagPayment + fmt.Sprintf("status %q", payment.Status)
	case !VerifyAmount(payment.AmountMinor, payment.Currency, r.Charge):
		problem = flagAmount + fmt.Sprintf("charged %d %s, expected %d %s", payment.AmountMinor, payment.Currency, r.Charge.AmountMinorUnits, r.Charge.CurrencyCode)
	}

	if problem != "" {
		if err := r.Orders.SetOrderReconciliation(ctx, p.OrderID, store.OrderStatusFlagged, &problem); err != nil {
			return err
		}
		obs.IncCounter(obs.PaymentReconcileTotal, "flagged")
		r.Logger.Warn().Str("order_id", p.OrderID).Str("payment_id", p.PaymentID).Str("reason", problem).Msg("payment_flagged")
		return nil
	}
	if err := r.Orders.SetOrderReconciliation(ctx, p.OrderID, store.OrderStatusReconciled, nil); err != nil {
		return err
	}
	obs.IncCounter(obs.PaymentReconcileTotal, "reconciled")
	r.Logger.Info().Str("order_id", p.OrderID).Str("payment_id", p.PaymentID).Msg("payment_reconciled")
	return nil
}
