package payment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-api/internal/store"
)

const testSecret = "rzp_secret"

var testCharge = ExpectedCharge{AmountMinorUnits: 19900, CurrencyCode: "INR"}

type serviceFixture struct {
	svc     *Service
	orders  *fakeOrders
	gateway *fakeGateway
	tasks   *fakeTasks
	mr      *miniredis.Miniredis
}

func newServiceFixture(t *testing.T, mutate func(*Config)) serviceFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	verifier, err := NewVerifier([]byte(testSecret))
	require.NoError(t, err)
	f := serviceFixture{
		orders:  newFakeOrders(),
		gateway: &fakeGateway{nextID: "order_test1", payments: map[string]GatewayPayment{}},
		tasks:   &fakeTasks{},
		mr:      mr,
	}
	cfg := Config{
		Verifier:    verifier,
		Charge:      testCharge,
		KeyID:       "rzp_test_key",
		AcademyName: "Kabaddi Academy",
		Gateway:     f.gateway,
		Orders:      f.orders,
		Replay:      RedisReplayGuard{Client: client, TTL: time.Hour},
		Tasks:       f.tasks,
		Logger:      zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.svc, err = NewService(cfg)
	require.NoError(t, err)
	return f
}

func (f serviceFixture) openOrder(t *testing.T) string {
	t.Helper()
	checkout, err := f.svc.CreateOrder(context.Background())
	require.NoError(t, err)
	return checkout.OrderID
}

func signed(orderID, paymentID string) Confirmation {
	return Confirmation{OrderID: orderID, PaymentID: paymentID, Signature: Sign(orderID, paymentID, []byte(testSecret))}
}

func TestNewServiceValidatesConfig(t *testing.T) {
	verifier, err := NewVerifier([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewService(Config{Orders: newFakeOrders(), Charge: testCharge})
	require.ErrorIs(t, err, ErrConfiguration)
	_, err = NewService(Config{Verifier: verifier, Charge: testCharge})
	require.ErrorIs(t, err, ErrConfiguration)
	_, err = NewService(Config{Verifier: verifier, Orders: newFakeOrders(), Charge: ExpectedCharge{AmountMinorUnits: 0, CurrencyCode: "INR"}})
	require.ErrorIs(t, err, ErrConfiguration)
	_, err = NewService(Config{Verifier: verifier, Orders: newFakeOrders(), Charge: testCharge, FetchPayments: true})
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestCreateOrderUsesServerCharge(t *testing.T) {
	f := newServiceFixture(t, nil)
	checkout, err := f.svc.CreateOrder(context.Background())
	require.NoError(t, err)
	require.Equal(t, "order_test1", checkout.OrderID)
	require.Equal(t, int64(19900), checkout.AmountMinor)
	require.Equal(t, "INR", checkout.Currency)
	require.Equal(t, "rzp_test_key", checkout.KeyID)

	require.Len(t, f.gateway.created, 1)
	require.Equal(t, testCharge, f.gateway.created[0].Charge)
	require.Regexp(t, `^rcpt_[0-9a-f]{32}$`, f.gateway.created[0].Receipt)

	stored, err := f.orders.GetOrder(context.Background(), "order_test1")
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusCreated, stored.Status)
	require.Equal(t, int64(19900), stored.AmountMinor)
}

func TestCreateOrderRejectsGatewayAmountDrift(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.gateway.order = &GatewayOrder{ID: "order_x", AmountMinor: 100, Currency: "INR"}
	_, err := f.svc.CreateOrder(context.Background())
	require.ErrorIs(t, err, ErrAmountMismatch)
	_, err = f.orders.GetOrder(context.Background(), "order_x")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateOrderGatewayFailure(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.gateway.err = errors.New("dial tcp: refused")
	_, err := f.svc.CreateOrder(context.Background())
	require.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestConfirmAcceptsValidSignature(t *testing.T) {
	f := newServiceFixture(t, nil)
	orderID := f.openOrder(t)

	receipt, err := f.svc.Confirm(context.Background(), signed(orderID, "pay_1"))
	require.NoError(t, err)
	require.Equal(t, orderID, receipt.OrderID)
	require.Equal(t, "pay_1", receipt.PaymentID)
	require.Equal(t, store.OrderStatusPaid, receipt.Status)
	require.False(t, receipt.Duplicate)

	require.Len(t, f.tasks.tasks, 1)
	require.Equal(t, TypeReconcile, f.tasks.tasks[0].Type())
	var payload ReconcilePayload
	require.NoError(t, json.Unmarshal(f.tasks.tasks[0].Payload(), &payload))
	require.Equal(t, ReconcilePayload{OrderID: orderID, PaymentID: "pay_1"}, payload)
}

func TestConfirmIsIdempotentForSamePayment(t *testing.T) {
	f := newServiceFixture(t, nil)
	orderID := f.openOrder(t)
	_, err := f.svc.Confirm(context.Background(), signed(orderID, "pay_1"))
	require.NoError(t, err)

	again, err := f.svc.Confirm(context.Background(), signed(orderID, "pay_1"))
	require.NoError(t, err)
	require.True(t, again.Duplicate)
	require.Len(t, f.tasks.tasks, 1)
}

func TestConfirmRejectsSecondPaymentForPaidOrder(t *testing.T) {
	f := newServiceFixture(t, nil)
	orderID := f.openOrder(t)
	_, err := f.svc.Confirm(context.Background(), signed(orderID, "pay_1"))
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), signed(orderID, "pay_2"))
	require.ErrorIs(t, err, ErrReplay)
}

func TestConfirmRejectsPaymentReuseAcrossOrders(t *testing.T) {
	f := newServiceFixture(t, nil)
	first := f.openOrder(t)
	f.gateway.nextID = "order_test2"
	second := f.openOrder(t)

	_, err := f.svc.Confirm(context.Background(), signed(first, "pay_1"))
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), signed(second, "pay_1"))
	require.ErrorIs(t, err, ErrReplay)

	order, err := f.orders.GetOrder(context.Background(), second)
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusCreated, order.Status)
}

func TestConfirmRejections(t *testing.T) {
	f := newServiceFixture(t, nil)
	orderID := f.openOrder(t)

	_, err := f.svc.Confirm(context.Background(), Confirmation{OrderID: orderID, PaymentID: "pay_1"})
	require.ErrorIs(t, err, ErrMissingField)

	bad := signed(orderID, "pay_1")
	bad.Signature = Sign(orderID, "pay_1", []byte("other"))
	_, err = f.svc.Confirm(context.Background(), bad)
	require.ErrorIs(t, err, ErrSignatureMismatch)

	_, err = f.svc.Confirm(context.Background(), signed("order_unknown", "pay_1"))
	require.ErrorIs(t, err, ErrOrderNotFound)

	order, err := f.orders.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusCreated, order.Status)
	require.Empty(t, f.tasks.tasks)
}

func TestConfirmRejectsOrderOpenedAtDifferentPrice(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.orders.put(store.PaymentOrder{ID: "order_old", AmountMinor: 100, Currency: "INR", Status: store.OrderStatusCreated})
	_, err := f.svc.Confirm(context.Background(), signed("order_old", "pay_1"))
	require.ErrorIs(t, err, ErrAmountMismatch)
}

func TestConfirmWithGatewayFetch(t *testing.T) {
	f := newServiceFixture(t, func(c *Config) { c.FetchPayments = true })
	orderID := f.openOrder(t)

	f.gateway.payments["pay_short"] = GatewayPayment{ID: "pay_short", OrderID: orderID, AmountMinor: 100, Currency: "INR", Status: "captured"}
	_, err := f.svc.Confirm(context.Background(), signed(orderID, "pay_short"))
	require.ErrorIs(t, err, ErrAmountMismatch)

	f.gateway.payments["pay_usd"] = GatewayPayment{ID: "pay_usd", OrderID: orderID, AmountMinor: 19900, Currency: "USD", Status: "captured"}
	_, err = f.svc.Confirm(context.Background(), signed(orderID, "pay_usd"))
	require.ErrorIs(t, err, ErrAmountMismatch)

	f.gateway.payments["pay_failed"] = GatewayPayment{ID: "pay_failed", OrderID: orderID, AmountMinor: 19900, Currency: "INR", Status: "failed"}
	_, err = f.svc.Confirm(context.Background(), signed(orderID, "pay_failed"))
	require.ErrorIs(t, err, ErrPaymentMismatch)

	f.gateway.payments["pay_ok"] = GatewayPayment{ID: "pay_ok", OrderID: orderID, AmountMinor: 19900, Currency: "INR", Status: "captured"}
	receipt, err := f.svc.Confirm(context.Background(), signed(orderID, "pay_ok"))
	require.NoError(t, err)
	require.Equal(t, "pay_ok", receipt.PaymentID)

	// rejected attempts released their claim
	require.False(t, f.mr.Exists("pay:pay_short"))
	require.True(t, f.mr.Exists("pay:pay_ok"))
}

func TestConfirmGatewayDown(t *testing.T) {
	f := newServiceFixture(t, func(c *Config) { c.FetchPayments = true })
	orderID := f.openOrder(t)
	f.gateway.err = errors.New("timeout")
	_, err := f.svc.Confirm(context.Background(), signed(orderID, "pay_1"))
	require.ErrorIs(t, err, ErrGatewayUnavailable)
	require.False(t, f.mr.Exists("pay:pay_1"))
}

func TestConfirmationResultLabels(t *testing.T) {
	require.Equal(t, "accepted", confirmationResult(Receipt{}, nil))
	require.Equal(t, "duplicate", confirmationResult(Receipt{Duplicate: true}, nil))
	require.Equal(t, "signature_mismatch", confirmationResult(Receipt{}, ErrSignatureMismatch))
	require.Equal(t, "error", confirmationResult(Receipt{}, errors.New("x")))
}

func TestConfirmRejectsOrderFlaggedByReconciliation(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)
	orderID := f.openOrder(t)
	_, err := f.svc.Confirm(ctx, signed(orderID, "pay_1"))
	require.NoError(t, err)

	f.gateway.payments["pay_1"] = GatewayPayment{ID: "pay_1", OrderID: orderID, AmountMinor: 100, Currency: "INR", Status: "captured"}
	require.NoError(t, newReconciler(f.orders, f.gateway, nil).ProcessTask(ctx, f.tasks.tasks[0]))
	order, err := f.orders.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusFlagged, order.Status)

	_, err = f.svc.Confirm(ctx, signed(orderID, "pay_1"))
	require.ErrorIs(t, err, ErrAmountMismatch)
	_, err = f.svc.Confirm(ctx, signed(orderID, "pay_2"))
	require.ErrorIs(t, err, ErrAmountMismatch)
}

func TestConfirmRejectsOrderFlaggedForUnsettledPayment(t *testing.T) {
	f := newServiceFixture(t, nil)
	note := flagPayment + `status "failed"`
	o := paidOrder("order_failed", "pay_1")
	o.Status = store.OrderStatusFlagged
	o.Note = &note
	f.orders.put(o)

	_, err := f.svc.Confirm(context.Background(), signed("order_failed", "pay_1"))
	require.ErrorIs(t, err, ErrPaymentMismatch)
}

func TestConfirmComparesSignatureExactly(t *testing.T) {
	f := newServiceFixture(t, nil)
	orderID := f.openOrder(t)

	for _, pad := range []string{"  \n", " ", "\t"} {
		c := signed(orderID, "pay_1")
		c.Signature += pad
		_, err := f.svc.Confirm(context.Background(), c)
		require.ErrorIs(t, err, ErrSignatureMismatch)
	}

	padded := signed(orderID, "pay_1")
	padded.OrderID = " " + orderID
	_, err := f.svc.Confirm(context.Background(), padded)
	require.Error(t, err)

	order, err := f.orders.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusCreated, order.Status)
}

// racingOrders loses the paid-marking race and then fails to reload the order.
type racingOrders struct {
	*fakeOrders
	loads int
}

func (r *racingOrders) GetOrder(ctx context.Context, id string) (store.PaymentOrder, error) {
	r.loads++
	if r.loads > 1 {
		return store.PaymentOrder{}, errors.New("connection reset")
	}
	return r.fakeOrders.GetOrder(ctx, id)
}

func (r *racingOrders) MarkOrderPaid(context.Context, store.MarkOrderPaidParams) (store.PaymentOrder, error) {
	return store.PaymentOrder{}, store.ErrConflict
}

func TestConfirmReleasesClaimWhenReloadFails(t *testing.T) {
	orders := &racingOrders{fakeOrders: newFakeOrders()}
	f := newServiceFixture(t, func(c *Config) { c.Orders = orders })
	orderID := f.openOrder(t)

	_, err := f.svc.Confirm(context.Background(), signed(orderID, "pay_1"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrReplay)
	require.False(t, f.mr.Exists("pay:pay_1"))
}
