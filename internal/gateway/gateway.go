// Package gateway integrates with the external payment provider.  It
// verifies inbound webhook notifications, maps the provider's status
// vocabulary onto the engine's transaction outcomes, and exposes a
// client for creating checkout sessions and polling order status.
package gateway

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidSignature is returned when a webhook's signature does not
	// match the payload and server key.  No state change may follow.
	ErrInvalidSignature = errors.New("gateway: invalid webhook signature")
	// ErrUnavailable wraps failures talking to the provider.
	ErrUnavailable = errors.New("gateway: provider request failed")
)

// Notification is the canonical webhook payload pushed by the provider.
// OrderID carries the transaction's external uuid; GrossAmount arrives
// as a decimal string and is part of the signed material, so it is kept
// verbatim.
type Notification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	TransactionID     string `json:"transaction_id"`
}

// Outcome is the engine-facing interpretation of a provider status.
type Outcome int

const (
	// OutcomeNone means the notification requires no state change
	// (payment still pending or under fraud review).
	OutcomeNone Outcome = iota
	// OutcomePaid confirms the payment settled.
	OutcomePaid
	// OutcomeExpired means the payment window lapsed on the provider side.
	OutcomeExpired
	// OutcomeCancelled means the payment was cancelled, denied or refunded.
	OutcomeCancelled
	// OutcomeUnknown flags a status string outside the known vocabulary;
	// the caller must log it and take no action.
	OutcomeUnknown
)

// MapStatus translates the provider's transaction and fraud status pair
// into an Outcome.  The mapping is closed: anything outside the known
// vocabulary yields OutcomeUnknown rather than a guess.
func MapStatus(transactionStatus, fraudStatus string) Outcome {
	switch transactionStatus {
	case "settlement":
		return OutcomePaid
	case "capture":
		switch fraudStatus {
		case "", "accept":
			return OutcomePaid
		case "challenge":
			return OutcomeNone
		default:
			return OutcomeUnknown
		}
	case "expire":
		return OutcomeExpired
	case "cancel", "deny", "refund", "partial_refund":
		return OutcomeCancelled
	case "pending":
		return OutcomeNone
	default:
		logrus.WithField("transaction_status", transactionStatus).
			Warn("gateway: unrecognized status, taking no action")
		return OutcomeUnknown
	}
}

// Signature computes the provider's webhook signature: the hex SHA-512
// digest of order id, status code, gross amount and the server key
// concatenated in that order.
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// VerifyNotification checks the notification's signature against the
// server key.  It returns ErrInvalidSignature on mismatch.
func VerifyNotification(n Notification, serverKey string) error {
	want := Signature(n.OrderID, n.StatusCode, n.GrossAmount, serverKey)
	if subtle.ConstantTimeCompare([]byte(want), []byte(n.SignatureKey)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}
