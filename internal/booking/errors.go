// Package booking implements the reservation engine and the
// transaction state machine: it turns booking requests into durable
// reservations with stock held, drives transactions through their
// lifecycle, and reconciles them with the payment gateway and the
// delayed-job scheduler.
package booking

import "errors"

// Sentinel errors returned by the engine.  Handlers compare with
// errors.Is and translate them to HTTP status codes.
var (
	// ErrValidation indicates malformed input, rejected before any
	// storage access.
	ErrValidation = errors.New("validation failed")
	// ErrRoomNotFound indicates the referenced room does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrTransactionNotFound indicates the referenced transaction does
	// not exist.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrPreconditionFailed indicates the transaction is not in the state
	// the attempted transition expects, or the acting identity is not
	// permitted to perform it.  The transaction is left unchanged.
	ErrPreconditionFailed = errors.New("precondition failed")
)
