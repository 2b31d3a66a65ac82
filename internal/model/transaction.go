package model

import "time"

// TransactionStatus enumerates the states of the booking transaction
// lifecycle.  WAITING_FOR_PAYMENT is the only initial state; PAID,
// CANCELLED and EXPIRED are terminal.
type TransactionStatus string

const (
	StatusWaitingForPayment      TransactionStatus = "WAITING_FOR_PAYMENT"
	StatusWaitingForConfirmation TransactionStatus = "WAITING_FOR_CONFIRMATION"
	StatusPaid                   TransactionStatus = "PAID"
	StatusCancelled              TransactionStatus = "CANCELLED"
	StatusExpired                TransactionStatus = "EXPIRED"
)

// Terminal reports whether no further status transitions are allowed
// from s.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusPaid, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// HoldsStock reports whether a transaction in this status holds room
// stock against itself.  While a transaction holds stock, the units it
// reserved are unavailable to other bookings.
func (s TransactionStatus) HoldsStock() bool {
	switch s {
	case StatusWaitingForPayment, StatusWaitingForConfirmation, StatusPaid:
		return true
	}
	return false
}

// PaymentMethod selects how a transaction is settled.
type PaymentMethod string

const (
	// PaymentManualTransfer requires the guest to upload a transfer proof
	// which the host then accepts or rejects.
	PaymentManualTransfer PaymentMethod = "MANUAL_TRANSFER"
	// PaymentGateway settles through the external payment gateway; status
	// is driven by webhooks and status polls.
	PaymentGateway PaymentMethod = "PAYMENT_GATEWAY"
)

// Transaction is the central booking entity.  It is created by the
// reservation engine in WAITING_FOR_PAYMENT with stock already held,
// and is never physically deleted: terminal rows remain for history.
//
// Fields:
//  ID            – internal primary key; never exposed to the gateway.
//  UUID          – opaque external reference, used as the gateway order id.
//  RoomID        – room whose stock this transaction holds.
//  UserID        – guest who created the booking.
//  Qty           – number of units reserved.
//  StartDate     – first night of the stay (inclusive).
//  EndDate       – checkout day (exclusive).
//  Total         – total price in minor units for qty units over the stay.
//  PaymentMethod – MANUAL_TRANSFER or PAYMENT_GATEWAY.
//  Status        – current lifecycle state.
//  ExpiresAt     – payment deadline while WAITING_FOR_PAYMENT, else nil.
//  PaymentProof  – opaque reference to the uploaded transfer proof, if any.
//  GatewayToken  – checkout token issued by the gateway, if any.
//  GatewayRef    – gateway-side transaction id, if any.
//  PaidAt        – set when the transaction reached PAID.
//  ReleasedAt    – set when the held stock was credited back, either on
//                  a terminal failure or after the stay ended.
type Transaction struct {
	ID            int64             // transactions.id
	UUID          string            // transactions.uuid
	RoomID        int64             // transactions.room_id
	UserID        int64             // transactions.user_id
	Qty           int               // transactions.qty
	StartDate     time.Time         // transactions.start_date
	EndDate       time.Time         // transactions.end_date
	Total         int64             // transactions.total
	PaymentMethod PaymentMethod     // transactions.payment_method
	Status        TransactionStatus // transactions.status
	ExpiresAt     *time.Time        // transactions.expires_at (nullable)
	PaymentProof  *string           // transactions.payment_proof (nullable)
	GatewayToken  *string           // transactions.gateway_token (nullable)
	GatewayRef    *string           // transactions.gateway_ref (nullable)
	PaidAt        *time.Time        // transactions.paid_at (nullable)
	ReleasedAt    *time.Time        // transactions.released_at (nullable)
	CreatedAt     time.Time         // transactions.created_at
	UpdatedAt     time.Time         // transactions.updated_at
}

// Nights returns the number of whole nights in the half-open stay
// range [StartDate, EndDate).
func (t *Transaction) Nights() int {
	return int(t.EndDate.Sub(t.StartDate).Hours() / 24)
}
