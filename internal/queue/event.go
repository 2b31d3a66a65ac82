// Package queue defines message payloads exchanged over the message
// broker, along with the publisher and background consumer.
package queue

// NotificationsQueue is the broker queue carrying guest notifications.
const NotificationsQueue = "booking.notifications"

// Notification kinds.  Rendering of the actual message content is
// owned by a downstream service; the engine only emits the facts.
const (
	KindPaymentConfirmed = "payment.confirmed"
	KindBookingCancelled = "booking.cancelled"
	KindBookingExpired   = "booking.expired"
	KindStayReminder     = "stay.reminder"
)

// NotificationEvent is emitted whenever a transaction reaches a state
// the guest should hear about.  It carries enough information for a
// notification service to act without querying the primary database.
type NotificationEvent struct {
	Kind       string `json:"kind"`
	UUID       string `json:"uuid"`
	UserID     int64  `json:"user_id"`
	RoomID     int64  `json:"room_id"`
	Qty        int    `json:"qty"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Total      int64  `json:"total"`
	OccurredAt string `json:"occurred_at"`
}
