package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/academy-api/internal/obs"
	"github.com/noah-isme/academy-api/internal/store"
)

var (
	// ErrOrderNotFound is returned when a confirmation names an order this server never opened.
	ErrOrderNotFound = errors.New("payment order not found")
	// ErrReplay is returned when a payment or order has already been consumed by a different confirmation.
	ErrReplay = errors.New("payment confirmation already used")
	// ErrPaymentMismatch is returned when the gateway's payment record does not belong to the order or is not settled.
	ErrPaymentMismatch = errors.New("gateway payment does not match order")
	// ErrGatewayUnavailable wraps transport and upstream failures talking to the gateway.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// OrderStore persists gateway orders. *store.Queries implements it.
type OrderStore interface {
	CreateOrder(ctx context.Context, arg store.CreateOrderParams) (store.PaymentOrder, error)
	GetOrder(ctx context.Context, id string) (store.PaymentOrder, error)
	MarkOrderPaid(ctx context.Context, arg store.MarkOrderPaidParams) (store.PaymentOrder, error)
	SetOrderReconciliation(ctx context.Context, id, status string, note *string) error
}

// TaskEnqueuer schedules background tasks. *asynq.Client implements it.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Config wires a Service.
type Config struct {
	Verifier       *Verifier
	Charge         ExpectedCharge
	KeyID          string
	AcademyName    string
	Gateway        Gateway
	Orders         OrderStore
	Replay         ReplayGuard
	Tasks          TaskEnqueuer
	FetchPayments  bool
	ReconcileDelay time.Duration
	Logger         zerolog.Logger
	Meter          metric.Meter
}

// Service runs the checkout flow: opening orders at the server price and confirming payments.
type Service struct {
	verifier       *Verifier
	charge         ExpectedCharge
	keyID          string
	academyName    string
	gateway        Gateway
	orders         OrderStore
	replay         ReplayGuard
	tasks          TaskEnqueuer
	fetchPayments  bool
	reconcileDelay time.Duration
	logger         zerolog.Logger
	outcomes       metric.Int64Counter
	now            func() time.Time
}

// NewService validates cfg and builds a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("%w: verifier is required", ErrConfiguration)
	}
	if cfg.Orders == nil {
		return nil, fmt.Errorf("%w: order store is required", ErrConfiguration)
	}
	if cfg.Charge.AmountMinorUnits <= 0 || len(cfg.Charge.CurrencyCode) != 3 {
		return nil, fmt.Errorf("%w: invalid expected charge %d %q", ErrConfiguration, cfg.Charge.AmountMinorUnits, cfg.Charge.CurrencyCode)
	}
	if cfg.FetchPayments && cfg.Gateway == nil {
		return nil, fmt.Errorf("%w: payment fetch enabled without a gateway", ErrConfiguration)
	}
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter("academy/payment")
	}
	outcomes, err := meter.Int64Counter("payment.confirmation.outcomes",
		metric.WithDescription("Payment confirmation outcomes by result."))
	if err != nil {
		return nil, fmt.Errorf("payment: create counter: %w", err)
	}
	return &Service{
		verifier:       cfg.Verifier,
		charge:         cfg.Charge,
		keyID:          cfg.KeyID,
		academyName:    cfg.AcademyName,
		gateway:        cfg.Gateway,
		orders:         cfg.Orders,
		replay:         cfg.Replay,
		tasks:          cfg.Tasks,
		fetchPayments:  cfg.FetchPayments,
		reconcileDelay: cfg.ReconcileDelay,
		logger:         cfg.Logger,
		outcomes:       outcomes,
		now:            time.Now,
	}, nil
}

// Charge returns the server-fixed registration charge.
func (s *Service) Charge() ExpectedCharge { return s.charge }

// KeyID returns the public gateway key used by the browser checkout.
func (s *Service) KeyID() string { return s.keyID }

// Checkout is what the browser needs to open the gateway widget.
type Checkout struct {
	OrderID     string `json:"id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	KeyID       string `json:"key"`
	Name        string `json:"name,omitempty"`
}

// CreateOrder opens a gateway order for the registration fee. The amount is never taken from the client.
func (s *Service) CreateOrder(ctx context.Context) (Checkout, error) {
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreateOrder")
	defer span.End()

	result := "error"
	defer func() {
		span.SetAttributes(attribute.String("payment.order.result", result))
		obs.IncCounter(obs.PaymentOrderTotal, result)
	}()

	if s.gateway == nil {
		return Checkout{}, fmt.Errorf("%w: no gateway configured", ErrConfiguration)
	}
	receipt := "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	order, err := s.gateway.CreateOrder(ctx, OrderRequest{
		Receipt: receipt,
		Charge:  s.charge,
		Notes:   map[string]string{"purpose": "registration"},
	})
	if err != nil {
		result = "gateway_error"
		return Checkout{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if strings.TrimSpace(order.ID) == "" {
		result = "gateway_error"
		return Checkout{}, fmt.Errorf("%w: empty order id", ErrGatewayUnavailable)
	}
	if err := CheckAmount(order.AmountMinor, order.Currency, s.charge); err != nil {
		result = "amount_mismatch"
		return Checkout{}, err
	}
	if _, err := s.orders.CreateOrder(ctx, store.CreateOrderParams{
		ID:          order.ID,
		Receipt:     receipt,
		AmountMinor: s.charge.AmountMinorUnits,
		Currency:    s.charge.CurrencyCode,
	}); err != nil {
		return Checkout{}, fmt.Errorf("persist order: %w", err)
	}
	result = "created"
	span.SetAttributes(attribute.String("payment.order.id", order.ID))
	return Checkout{
		OrderID:     order.ID,
		AmountMinor: s.charge.AmountMinorUnits,
		Currency:    s.charge.CurrencyCode,
		KeyID:       s.keyID,
		Name:        s.academyName,
	}, nil
}

// Receipt describes a confirmed payment.
type Receipt struct {
	OrderID     string    `json:"order_id"`
	PaymentID   string    `json:"payment_id"`
	AmountMinor int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	PaidAt      time.Time `json:"paid_at"`
	Duplicate   bool      `json:"duplicate,omitempty"`
}

// Confirm verifies a checkout confirmation and marks its order paid. Repeating a
// successful confirmation returns the same receipt with Duplicate set.
func (s *Service) Confirm(ctx context.Context, c Confirmation) (receipt Receipt, err error) {
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Confirm")
	defer span.End()
	defer func() {
		result := confirmationResult(receipt, err)
		span.SetAttributes(attribute.String("payment.confirmation.result", result))
		obs.IncCounter(obs.PaymentConfirmationTotal, result)
		s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
		evt := s.logger.Info()
		if err != nil {
			evt = s.logger.Warn().Err(err)
		}
		evt.Str("order_id", c.OrderID).Str("payment_id", c.PaymentID).Str("result", result).Msg("payment_confirmation")
	}()

	if err := s.verifier.Check(c); err != nil {
		return Receipt{}, err
	}

	order, err := s.orders.GetOrder(ctx, c.OrderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Receipt{}, ErrOrderNotFound
		}
		return Receipt{}, fmt.Errorf("load order: %w", err)
	}
	if err := CheckAmount(order.AmountMinor, order.Currency, s.charge); err != nil {
		return Receipt{}, err
	}
	if order.Status != store.OrderStatusCreated {
		return s.alreadyPaid(order, c)
	}

	if s.replay != nil {
		claimed, err := s.replay.Claim(ctx, c.PaymentID, c.OrderID)
		if err != nil {
			return Receipt{}, fmt.Errorf("replay guard: %w", err)
		}
		if !claimed {
			return Receipt{}, ErrReplay
		}
	}
	release := func() {
		if s.replay != nil {
			if rerr := s.replay.Release(context.WithoutCancel(ctx), c.PaymentID); rerr != nil {
				s.logger.Error().Err(rerr).Str("payment_id", c.PaymentID).Msg("replay guard release failed")
			}
		}
	}

	if s.fetchPayments {
		if err := s.checkGatewayPayment(ctx, c); err != nil {
			release()
			return Receipt{}, err
		}
	}

	paid, err := s.orders.MarkOrderPaid(ctx, store.MarkOrderPaidParams{ID: c.OrderID, PaymentID: c.PaymentID, Signature: c.Signature})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			current, gerr := s.orders.GetOrder(ctx, c.OrderID)
			if gerr != nil {
				release()
				return Receipt{}, fmt.Errorf("reload order after conflict: %w", gerr)
			}
			receipt, err := s.alreadyPaid(current, c)
			if err != nil {
				release()
			}
			return receipt, err
		}
		release()
		return Receipt{}, fmt.Errorf("mark order paid: %w", err)
	}

	s.enqueueReconcile(ctx, paid.ID, c.PaymentID)
	return receiptFor(paid, false), nil
}

// alreadyPaid answers a confirmation for an order that has left the created state.
// Flagged orders stay rejected whichever payment id is presented.
func (s *Service) alreadyPaid(order store.PaymentOrder, c Confirmation) (Receipt, error) {
	if order.Status == store.OrderStatusFlagged {
		return Receipt{}, flaggedError(order)
	}
	if order.PaymentID != nil && *order.PaymentID == c.PaymentID {
		return receiptFor(order, true), nil
	}
	return Receipt{}, ErrReplay
}

func (s *Service) checkGatewayPayment(ctx context.Context, c Confirmation) error {
	p, err := s.gateway.FetchPayment(ctx, c.PaymentID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if p.OrderID != c.OrderID || !p.Settled() {
		return fmt.Errorf("%w: order %q status %q", ErrPaymentMismatch, p.OrderID, p.Status)
	}
	return CheckAmount(p.AmountMinor, p.Currency, s.charge)
}

func (s *Service) enqueueReconcile(ctx context.Context, orderID, paymentID string) {
	if s.tasks == nil {
		return
	}
	task, err := NewReconcileTask(orderID, paymentID)
	if err != nil {
		s.logger.Error().Err(err).Str("order_id", orderID).Msg("build reconcile task")
		return
	}
	opts := []asynq.Option{asynq.TaskID("reconcile:" + orderID), asynq.MaxRetry(10)}
	if s.reconcileDelay > 0 {
		opts = append(opts, asynq.ProcessIn(s.reconcileDelay))
	}
	if _, err := s.tasks.EnqueueContext(ctx, task, opts...); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		s.logger.Error().Err(err).Str("order_id", orderID).Msg("enqueue reconcile task")
	}
}

func receiptFor(order store.PaymentOrder, duplicate bool) Receipt {
	r := Receipt{
		OrderID:     order.ID,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		Status:      order.Status,
		Duplicate:   duplicate,
	}
	if order.PaymentID != nil {
		r.PaymentID = *order.PaymentID
	}
	if order.PaidAt != nil {
		r.PaidAt = *order.PaidAt
	}
	return r
}

func confirmationResult(r Receipt, err error) string {
	switch {
	case err == nil && r.Duplicate:
		return "duplicate"
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrReplay):
		return "replay"
	case errors.Is(err, ErrPaymentMismatch):
		return "payment_mismatch"
	case errors.Is(err, ErrGatewayUnavailable):
		return "gateway_error"
	default:
		return "error"
	}
}
