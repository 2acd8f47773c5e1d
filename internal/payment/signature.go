package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrMissingField is returned when a confirmation lacks the order id, payment id or signature.
	ErrMissingField = errors.New("payment confirmation is missing a required field")
	// ErrSignatureMismatch is returned when the supplied signature does not match the recomputed one.
	ErrSignatureMismatch = errors.New("payment signature mismatch")
	// ErrAmountMismatch is returned when the observed charge differs from the expected charge.
	ErrAmountMismatch = errors.New("payment amount mismatch")
	// ErrConfiguration is returned when the verifier cannot be built, e.g. the shared secret is empty.
	ErrConfiguration = errors.New("payment verifier misconfigured")
)

// Confirmation is the triple the gateway checkout hands back to the browser after a payment.
type Confirmation struct {
	OrderID   string
	PaymentID string
	Signature string
}

// ExpectedCharge is the server-fixed price of a registration in minor units.
type ExpectedCharge struct {
	AmountMinorUnits int64
	CurrencyCode     string
}

// Sign returns the lowercase hex HMAC-SHA256 of "orderID|paymentID" under secret.
func Sign(orderID, paymentID string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(orderID))
	mac.Write([]byte("|"))
	mac.Write([]byte(paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier checks checkout confirmations against the gateway key secret.
// It is immutable after construction and safe for concurrent use.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier. An empty secret yields ErrConfiguration.
func NewVerifier(secret []byte) (*Verifier, error) {
	if len(strings.TrimSpace(string(secret))) == 0 {
		return nil, ErrConfiguration
	}
	owned := make([]byte, len(secret))
	copy(owned, secret)
	return &Verifier{secret: owned}, nil
}

// Sign computes the signature for the pair under the verifier's secret.
func (v *Verifier) Sign(orderID, paymentID string) string {
	return Sign(orderID, paymentID, v.secret)
}

// Verify reports whether the confirmation carries a valid signature.
func (v *Verifier) Verify(c Confirmation) bool {
	return v.Check(c) == nil
}

// Check is Verify with the rejection reason: ErrMissingField or ErrSignatureMismatch.
func (v *Verifier) Check(c Confirmation) error {
	if v == nil || len(v.secret) == 0 {
		return ErrConfiguration
	}
	if strings.TrimSpace(c.OrderID) == "" || strings.TrimSpace(c.PaymentID) == "" || strings.TrimSpace(c.Signature) == "" {
		return ErrMissingField
	}
	expected := v.Sign(c.OrderID, c.PaymentID)
	// Signatures are compared as canonical lowercase hex; anything else, malformed hex
	// included, simply fails to match.
	if !hmac.Equal([]byte(expected), []byte(c.Signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

// VerifyAmount reports whether the observed amount and currency exactly match expected.
func VerifyAmount(observedAmountMinorUnits int64, observedCurrency string, expected ExpectedCharge) bool {
	return CheckAmount(observedAmountMinorUnits, observedCurrency, expected) == nil
}

// CheckAmount is VerifyAmount returning ErrAmountMismatch on failure.
func CheckAmount(observedAmountMinorUnits int64, observedCurrency string, expected ExpectedCharge) error {
	if observedAmountMinorUnits != expected.AmountMinorUnits || observedCurrency != expected.CurrencyCode {
		return ErrAmountMismatch
	}
	return nil
}
