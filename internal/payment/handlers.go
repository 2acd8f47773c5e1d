package payment

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/noah-isme/academy-api/internal/common"
)

// Handler exposes the browser checkout endpoints.
type Handler struct {
	Svc *Service
}

// ConfirmationRequest is the JSON posted by the checkout success callback.
type ConfirmationRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// Confirmation converts the request into the verifier's input.
func (r ConfirmationRequest) Confirmation() Confirmation {
	return Confirmation{OrderID: r.OrderID, PaymentID: r.PaymentID, Signature: r.Signature}
}

// Key returns the public gateway key id.
func (h *Handler) Key(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"key": h.Svc.KeyID()})
}

// CreateOrder opens an order for the registration fee. Any body the client sends is ignored.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	checkout, err := h.Svc.CreateOrder(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, checkout)
}

// Verify checks the gateway signature and marks the order paid.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	var req ConfirmationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	receipt, err := h.Svc.Confirm(r.Context(), req.Confirmation())
	if err != nil {
		WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"status": "success", "payment": receipt})
}

// WriteError renders payment errors with stable codes.
func WriteError(w http.ResponseWriter, err error) {
	status, code, msg := ErrorStatus(err)
	common.JSONError(w, status, code, msg, nil)
}

// ErrorStatus maps payment errors to an HTTP status, code and client-safe message.
func ErrorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, ErrMissingField):
		return http.StatusBadRequest, "MISSING_FIELD", "order id, payment id and signature are required"
	case errors.Is(err, ErrSignatureMismatch):
		return http.StatusBadRequest, "SIGNATURE_MISMATCH", "payment signature verification failed"
	case errors.Is(err, ErrAmountMismatch):
		return http.StatusBadRequest, "AMOUNT_MISMATCH", "payment amount does not match the registration fee"
	case errors.Is(err, ErrPaymentMismatch):
		return http.StatusBadRequest, "PAYMENT_MISMATCH", "payment does not match the order"
	case errors.Is(err, ErrOrderNotFound):
		return http.StatusNotFound, "ORDER_NOT_FOUND", "order not found"
	case errors.Is(err, ErrReplay):
		return http.StatusConflict, "REPLAY", "payment already used"
	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusBadGateway, "GATEWAY_UNAVAILABLE", "payment gateway unavailable"
	case errors.Is(err, ErrConfiguration):
		return http.StatusServiceUnavailable, "PAYMENT_NOT_CONFIGURED", "payments are not configured"
	default:
		return http.StatusInternalServerError, "INTERNAL", "internal error"
	}
}
