package payment

import "context"

// OrderRequest asks the gateway to open an order for a fixed charge.
type OrderRequest struct {
	Receipt string
	Charge  ExpectedCharge
	Notes   map[string]string
}

// GatewayOrder is the order as acknowledged by the gateway.
type GatewayOrder struct {
	ID          string
	AmountMinor int64
	Currency    string
	Receipt     string
	Status      string
}

// GatewayPayment is the gateway's own record of a payment.
type GatewayPayment struct {
	ID          string
	OrderID     string
	AmountMinor int64
	Currency    string
	Status      string
	Method      string
}

// Settled reports whether the gateway considers the money collected or reserved.
func (p GatewayPayment) Settled() bool {
	return p.Status == "captured" || p.Status == "authorized"
}

// Gateway abstracts the operations required from the upstream payment gateway.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error)
	FetchPayment(ctx context.Context, paymentID string) (GatewayPayment, error)
}
