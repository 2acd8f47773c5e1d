package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Error.Code
}

func TestHandlerKey(t *testing.T) {
	f := newServiceFixture(t, nil)
	h := &Handler{Svc: f.svc}
	rr := httptest.NewRecorder()
	h.Key(rr, httptest.NewRequest(http.MethodGet, "/api/v1/payments/key", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"key":"rzp_test_key"}`, rr.Body.String())
}

func TestHandlerCreateOrderIgnoresClientAmount(t *testing.T) {
	f := newServiceFixture(t, nil)
	h := &Handler{Svc: f.svc}
	rr := httptest.NewRecorder()
	h.CreateOrder(rr, httptest.NewRequest(http.MethodPost, "/api/v1/payments/orders", strings.NewReader(`{"amount":1}`)))
	require.Equal(t, http.StatusCreated, rr.Code)

	var checkout Checkout
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &checkout))
	require.Equal(t, int64(19900), checkout.AmountMinor)
	require.Equal(t, "INR", checkout.Currency)
}

func TestHandlerVerify(t *testing.T) {
	f := newServiceFixture(t, nil)
	orderID := f.openOrder(t)
	h := &Handler{Svc: f.svc}

	post := func(body any) *httptest.ResponseRecorder {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rr := httptest.NewRecorder()
		h.Verify(rr, httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify", strings.NewReader(string(data))))
		return rr
	}

	rr := post(map[string]string{"razorpay_order_id": orderID, "razorpay_payment_id": "pay_1"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "MISSING_FIELD", decodeError(t, rr))

	rr = post(map[string]string{"razorpay_order_id": orderID, "razorpay_payment_id": "pay_1", "razorpay_signature": strings.Repeat("0", 64)})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "SIGNATURE_MISMATCH", decodeError(t, rr))

	c := signed(orderID, "pay_1")
	rr = post(ConfirmationRequest{OrderID: c.OrderID, PaymentID: c.PaymentID, Signature: c.Signature})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"status":"success"`)

	other := signed(orderID, "pay_2")
	rr = post(ConfirmationRequest{OrderID: other.OrderID, PaymentID: other.PaymentID, Signature: other.Signature})
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	h.Verify(rr, httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify", strings.NewReader("{")))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := map[error]int{
		ErrMissingField:       http.StatusBadRequest,
		ErrAmountMismatch:     http.StatusBadRequest,
		ErrOrderNotFound:      http.StatusNotFound,
		ErrGatewayUnavailable: http.StatusBadGateway,
		ErrConfiguration:      http.StatusServiceUnavailable,
		context.Canceled:      http.StatusInternalServerError,
	}
	for err, want := range cases {
		status, _, _ := ErrorStatus(err)
		require.Equal(t, want, status, err.Error())
	}
}
