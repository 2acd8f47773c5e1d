package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/academy-api/internal/obs"
	"github.com/noah-isme/academy-api/internal/resilience"
)

// ErrGatewayStatus is returned when the gateway answers with a non-2xx status.
var ErrGatewayStatus = errors.New("payment gateway returned an error")

const defaultRazorpayBaseURL = "https://api.razorpay.com"

// Doer executes outbound requests. resilience.HTTPClient implements it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Razorpay implements Gateway against the Razorpay REST API using basic auth.
type Razorpay struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	HTTP      Doer
}

// NewHTTPDoer builds the resilient, traced client used for gateway calls.
func NewHTTPDoer(base resilience.HTTPClient) resilience.HTTPClient {
	if base.Client == nil {
		base.Client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if base.Target == "" {
		base.Target = "razorpay"
	}
	return base
}

type razorpayOrderBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type razorpayPayment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method"`
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder opens a gateway order for the requested charge.
func (r Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error) {
	body, err := json.Marshal(razorpayOrderBody{
		Amount:   req.Charge.AmountMinorUnits,
		Currency: req.Charge.CurrencyCode,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	})
	if err != nil {
		return GatewayOrder{}, err
	}
	var out razorpayOrder
	if err := r.call(ctx, "create_order", http.MethodPost, "/v1/orders", body, &out); err != nil {
		return GatewayOrder{}, err
	}
	return GatewayOrder{ID: out.ID, AmountMinor: out.Amount, Currency: out.Currency, Receipt: out.Receipt, Status: out.Status}, nil
}

// FetchPayment reads the gateway's record for paymentID.
func (r Razorpay) FetchPayment(ctx context.Context, paymentID string) (GatewayPayment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return GatewayPayment{}, ErrMissingField
	}
	var out razorpayPayment
	if err := r.call(ctx, "fetch_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return GatewayPayment{}, err
	}
	return GatewayPayment{
		ID:          out.ID,
		OrderID:     out.OrderID,
		AmountMinor: out.Amount,
		Currency:    strings.ToUpper(out.Currency),
		Status:      strings.ToLower(out.Status),
		Method:      out.Method,
	}, nil
}

func (r Razorpay) call(ctx context.Context, op, method, path string, body []byte, out any) (err error) {
	if r.HTTP == nil || r.KeyID == "" || r.KeySecret == "" {
		return fmt.Errorf("%w: razorpay credentials not set", ErrConfiguration)
	}
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		if obs.GatewayLatency != nil {
			obs.GatewayLatency.WithLabelValues(op, result).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	base := strings.TrimRight(strings.TrimSpace(r.BaseURL), "/")
	if base == "" {
		base = defaultRazorpayBaseURL
	}
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(r.KeyID, r.KeySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.HTTP.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("razorpay %s: %w", op, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("razorpay %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr razorpayError
		_ = json.Unmarshal(payload, &apiErr)
		return fmt.Errorf("%w: %s %d %s %s", ErrGatewayStatus, op, resp.StatusCode, apiErr.Error.Code, apiErr.Error.Description)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("razorpay %s: decode: %w", op, err)
	}
	return nil
}
