package payment

import (
	"context"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/academy-api/internal/store"
)

type fakeOrders struct {
	mu     sync.Mutex
	orders map[string]store.PaymentOrder
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: make(map[string]store.PaymentOrder)}
}

func (f *fakeOrders) CreateOrder(_ context.Context, arg store.CreateOrderParams) (store.PaymentOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orders[arg.ID]; ok {
		return store.PaymentOrder{}, store.ErrConflict
	}
	now := time.Now()
	o := store.PaymentOrder{ID: arg.ID, Receipt: arg.Receipt, AmountMinor: arg.AmountMinor, Currency: arg.Currency, Status: store.OrderStatusCreated, CreatedAt: now, UpdatedAt: now}
	f.orders[arg.ID] = o
	return o, nil
}

func (f *fakeOrders) GetOrder(_ context.Context, id string) (store.PaymentOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return store.PaymentOrder{}, store.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrders) MarkOrderPaid(_ context.Context, arg store.MarkOrderPaidParams) (store.PaymentOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[arg.ID]
	if !ok || o.Status != store.OrderStatusCreated {
		return store.PaymentOrder{}, store.ErrConflict
	}
	now := time.Now()
	pid, sig := arg.PaymentID, arg.Signature
	o.Status = store.OrderStatusPaid
	o.PaymentID = &pid
	o.Signature = &sig
	o.PaidAt = &now
	f.orders[arg.ID] = o
	return o, nil
}

func (f *fakeOrders) SetOrderReconciliation(_ context.Context, id, status string, note *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || o.Status == store.OrderStatusCreated {
		return store.ErrNotFound
	}
	o.Status = status
	o.Note = note
	f.orders[id] = o
	return nil
}

func (f *fakeOrders) put(o store.PaymentOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = o
}

type fakeGateway struct {
	mu       sync.Mutex
	nextID   string
	order    *GatewayOrder
	payments map[string]GatewayPayment
	err      error
	created  []OrderRequest
}

func (g *fakeGateway) CreateOrder(_ context.Context, req OrderRequest) (GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, req)
	if g.err != nil {
		return GatewayOrder{}, g.err
	}
	if g.order != nil {
		return *g.order, nil
	}
	return GatewayOrder{ID: g.nextID, AmountMinor: req.Charge.AmountMinorUnits, Currency: req.Charge.CurrencyCode, Receipt: req.Receipt, Status: "created"}, nil
}

func (g *fakeGateway) FetchPayment(_ context.Context, id string) (GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return GatewayPayment{}, g.err
	}
	p, ok := g.payments[id]
	if !ok {
		return GatewayPayment{}, ErrGatewayStatus
	}
	return p, nil
}

type fakeTasks struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (f *fakeTasks) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}
