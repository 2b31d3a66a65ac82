package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/adiwibowo/stayreserve/internal/gateway"
	"github.com/adiwibowo/stayreserve/internal/inventory"
	"github.com/adiwibowo/stayreserve/internal/model"
	"github.com/adiwibowo/stayreserve/internal/pricing"
	"github.com/adiwibowo/stayreserve/internal/queue"
	"github.com/adiwibowo/stayreserve/internal/scheduler"
)

// Engine coordinates the reservation lifecycle.  All collaborators are
// injected so tests can substitute fakes: the Store owns atomicity, the
// gateway Client owns provider I/O, and deferred work is requested
// through the transactional outbox rather than called directly.
type Engine struct {
	store         Store
	gw            gateway.Client
	paymentWindow time.Duration
	reminderLead  time.Duration
	now           func() time.Time
}

// NewEngine builds an Engine.  paymentWindow is how long a guest has to
// pay after booking; reminderLead is how far before the stay start the
// reminder fires.
func NewEngine(store Store, gw gateway.Client, paymentWindow, reminderLead time.Duration) *Engine {
	return &Engine{
		store:         store,
		gw:            gw,
		paymentWindow: paymentWindow,
		reminderLead:  reminderLead,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateReservationInput carries a validated booking request from the
// HTTP layer.  GuestID is the trusted actor identity supplied by
// middleware.
type CreateReservationInput struct {
	RoomID        int64
	GuestID       int64
	Qty           int
	StartDate     time.Time
	EndDate       time.Time
	PaymentMethod model.PaymentMethod
}

// CreateReservation validates the request, atomically reserves stock,
// prices the stay and creates the transaction in WAITING_FOR_PAYMENT
// with an EXPIRE job queued for the payment deadline.  For gateway
// payments a checkout session is opened after commit; if that fails the
// reservation is compensated (cancelled and stock credited back) so no
// orphaned hold survives.
func (e *Engine) CreateReservation(ctx context.Context, in CreateReservationInput) (*model.Transaction, error) {
	if in.RoomID <= 0 || in.GuestID <= 0 {
		return nil, fmt.Errorf("%w: room and guest ids are required", ErrValidation)
	}
	if in.Qty < 1 {
		return nil, fmt.Errorf("%w: qty must be at least 1", ErrValidation)
	}
	if in.PaymentMethod != model.PaymentManualTransfer && in.PaymentMethod != model.PaymentGateway {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrValidation, in.PaymentMethod)
	}
	start := day(in.StartDate)
	end := day(in.EndDate)
	if !end.After(start) {
		return nil, fmt.Errorf("%w: stay must cover at least one night", ErrValidation)
	}

	var txn *model.Transaction
	err := e.store.InTx(ctx, func(tx Tx) error {
		room, err := inventory.CheckAndReserve(ctx, tx, in.RoomID, in.Qty, start, end)
		if err != nil {
			return err
		}
		rates, err := tx.ActiveSeasonalRates(ctx, in.RoomID, start, end)
		if err != nil {
			return err
		}
		total, err := pricing.Total(room.BasePrice, in.Qty, start, end, rates)
		if err != nil {
			return err
		}
		expires := e.now().Add(e.paymentWindow)
		txn = &model.Transaction{
			UUID:          uuid.NewString(),
			RoomID:        in.RoomID,
			UserID:        in.GuestID,
			Qty:           in.Qty,
			StartDate:     start,
			EndDate:       end,
			Total:         total,
			PaymentMethod: in.PaymentMethod,
			Status:        model.StatusWaitingForPayment,
			ExpiresAt:     &expires,
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		return e.enqueueJob(ctx, tx, scheduler.JobExpire, txn.UUID, expires)
	})
	if err != nil {
		return nil, err
	}

	if in.PaymentMethod == model.PaymentGateway {
		checkout, err := e.gw.CreateCheckout(ctx, txn.UUID, txn.Total)
		if err != nil {
			if cerr := e.compensateCheckoutFailure(ctx, txn.UUID); cerr != nil {
				logrus.WithError(cerr).WithField("uuid", txn.UUID).
					Error("booking: failed to compensate checkout failure")
			}
			return nil, fmt.Errorf("open checkout for %s: %w", txn.UUID, err)
		}
		err = e.store.InTx(ctx, func(tx Tx) error {
			t, err := tx.TransactionForUpdate(ctx, txn.UUID)
			if err != nil {
				return err
			}
			t.GatewayToken = &checkout.Token
			return tx.UpdateTransaction(ctx, t)
		})
		if err != nil {
			// Without the stored token the guest has no way to pay, so the
			// hold would sit dead until EXPIRE; compensate instead.
			if cerr := e.compensateCheckoutFailure(ctx, txn.UUID); cerr != nil {
				logrus.WithError(cerr).WithField("uuid", txn.UUID).
					Error("booking: failed to compensate checkout failure")
			}
			return nil, fmt.Errorf("persist checkout token for %s: %w", txn.UUID, err)
		}
		txn.GatewayToken = &checkout.Token
	}
	return txn, nil
}

// compensateCheckoutFailure rolls back a committed reservation whose
// gateway checkout could not be opened or stored: the transaction is
// cancelled and its stock credited back.
func (e *Engine) compensateCheckoutFailure(ctx context.Context, uid string) error {
	return e.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.TransactionForUpdate(ctx, uid)
		if err != nil {
			return err
		}
		if t.Status != model.StatusWaitingForPayment {
			return nil
		}
		if err := e.releaseHold(ctx, tx, t); err != nil {
			return err
		}
		if err := transition(t, model.StatusCancelled); err != nil {
			return err
		}
		t.ExpiresAt = nil
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return err
		}
		return e.cancelJob(ctx, tx, scheduler.JobExpire, t.UUID)
	})
}

// SubmitPaymentProof attaches a transfer-proof reference to a
// manual-transfer transaction and moves it to WAITING_FOR_CONFIRMATION.
// Only the booking guest may submit, only while the payment window is
// still open.
func (e *Engine) SubmitPaymentProof(ctx context.Context, uid string, guestID int64, proofRef string) (*model.Transaction, error) {
	if proofRef == "" {
		return nil, fmt.Errorf("%w: payment proof reference is required", ErrValidation)
	}
	var out *model.Transaction
	err := e.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.TransactionForUpdate(ctx, uid)
		if err != nil {
			return err
		}
		if t.UserID != guestID {
			return fmt.Errorf("%w: actor is not the booking guest", ErrPreconditionFailed)
		}
		if t.PaymentMethod != model.PaymentManualTransfer {
			return fmt.Errorf("%w: transaction is not a manual transfer", ErrPreconditionFailed)
		}
		if t.Status != model.StatusWaitingForPayment {
			return fmt.Errorf("%w: transaction is not awaiting payment", ErrPreconditionFailed)
		}
		if t.ExpiresAt != nil && !e.now().Before(*t.ExpiresAt) {
			return fmt.Errorf("%w: payment window has closed", ErrPreconditionFailed)
		}
		if err := transition(t, model.StatusWaitingForConfirmation); err != nil {
			return err
		}
		t.PaymentProof = &proofRef
		t.ExpiresAt = nil
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return err
		}
		// The payment window no longer applies; withdraw its EXPIRE job.
		if err := e.cancelJob(ctx, tx, scheduler.JobExpire, t.UUID); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmPayment lets the owning host accept or reject an uploaded
// payment proof.  Accepting moves the transaction to PAID and schedules
// the reminder and post-stay release; rejecting returns it to
// WAITING_FOR_PAYMENT with a fresh payment window and a re-queued
// EXPIRE job.
func (e *Engine) ConfirmPayment(ctx context.Context, uid string, hostID int64, accept bool) (*model.Transaction, error) {
	var out *model.Transaction
	err := e.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.TransactionForUpdate(ctx, uid)
		if err != nil {
			return err
		}
		room, err := tx.Room(ctx, t.RoomID)
		if err != nil {
			return err
		}
		if room.HostID != hostID {
			return fmt.Errorf("%w: actor is not the owning host", ErrPreconditionFailed)
		}
		if t.Status != model.StatusWaitingForConfirmation {
			return fmt.Errorf("%w: transaction is not awaiting confirmation", ErrPreconditionFailed)
		}
		if accept {
			if err := transition(t, model.StatusPaid); err != nil {
				return err
			}
			now := e.now()
			t.PaidAt = &now
			if err := tx.UpdateTransaction(ctx, t); err != nil {
				return err
			}
			if err := e.markPaidSideEffects(ctx, tx, t); err != nil {
				return err
			}
		} else {
			if err := transition(t, model.StatusWaitingForPayment); err != nil {
				return err
			}
			expires := e.now().Add(e.paymentWindow)
			t.ExpiresAt = &expires
			t.PaymentProof = nil
			if err := tx.UpdateTransaction(ctx, t); err != nil {
				return err
			}
			if err := e.enqueueJob(ctx, tx, scheduler.JobExpire, t.UUID, expires); err != nil {
				return err
			}
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelByGuest cancels an unpaid booking at the guest's request.
// Allowed only before any payment proof is uploaded; the held stock is
// credited back immediately.
func (e *Engine) CancelByGuest(ctx context.Context, uid string, guestID int64) (*model.Transaction, error) {
	var out *model.Transaction
	err := e.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.TransactionForUpdate(ctx, uid)
		if err != nil {
			return err
		}
		if t.UserID != guestID {
			return fmt.Errorf("%w: actor is not the booking guest", ErrPreconditionFailed)
		}
		if t.Status != model.StatusWaitingForPayment || t.PaymentProof != nil {
			return fmt.Errorf("%w: transaction cannot be cancelled", ErrPreconditionFailed)
		}
		if err := e.releaseHold(ctx, tx, t); err != nil {
			return err
		}
		if err := transition(t, model.StatusCancelled); err != nil {
			return err
		}
		t.ExpiresAt = nil
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return err
		}
		if err := e.cancelJob(ctx, tx, scheduler.JobExpire, t.UUID); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelByHost cancels an unpaid booking at the host's request,
// credits the stock back and notifies the guest.
func (e *Engine) CancelByHost(ctx context.Context, uid string, hostID int64) (*model.Transaction, error) {
	var out *model.Transaction
	err := e.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.TransactionForUpdate(ctx, uid)
		if err != nil {
			return err
		}
		room, err := tx.Room(ctx, t.RoomID)
		if err != nil {
			return err
		}
		if room.HostID != hostID {
			return fmt.Errorf("%w: actor is not the owning host", ErrPreconditionFailed)
		}
		if t.Status != model.StatusWaitingForPayment {
			return fmt.Errorf("%w: transaction is not awaiting payment", ErrPreconditionFailed)
		}
		if err := e.releaseHold(ctx, tx, t); err != nil {
			return err
		}
		if err := transition(t, model.StatusCancelled); err != nil {
			return err
		}
		t.ExpiresAt = nil
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return err
		}
		if err := e.cancelJob(ctx, tx, scheduler.JobExpire, t.UUID); err != nil {
			return err
		}
		if err := e.enqueueNotification(ctx, tx, queue.KindBookingCancelled, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ProcessWebhook verifies a gateway notification's signature, maps its
// status vocabulary and applies the outcome idempotently.  Duplicate
// deliveries of the same settlement are safe: the transaction reaches
// PAID once and side effects are queued once.
func (e *Engine) ProcessWebhook(ctx context.Context, n gateway.Notification) error {
	if err := e.gw.VerifyNotification(n); err != nil {
		return err
	}
	outcome := gateway.MapStatus(n.TransactionStatus, n.FraudStatus)
	return e.applyGatewayOutcome(ctx, n.OrderID, outcome, n.TransactionID)
}

// RefreshStatus reconciles a gateway transaction against the provider's
// synchronous status API, for cases where a webhook was missed.  Only
// the booking guest may trigger a refresh.
func (e *Engine) RefreshStatus(ctx context.Context, uid string, guestID int64) (*model.Transaction, error) {
	t, err := e.store.TransactionByUUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if t.UserID != guestID {
		return nil, fmt.Errorf("%w: actor is not the booking guest", ErrPreconditionFailed)
	}
	if t.PaymentMethod != model.PaymentGateway {
		return nil, fmt.Errorf("%w: transaction is not gateway-paid", ErrPreconditionFailed)
	}
	st, err := e.gw.Status(ctx, uid)
	if err != nil {
		return nil, err
	}
	outcome := gateway.MapStatus(st.TransactionStatus, st.FraudStatus)
	if err := e.applyGatewayOutcome(ctx, uid, outcome, st.TransactionID); err != nil {
		return nil, err
	}
	return e.store.TransactionByUUID(ctx, uid)
}

// applyGatewayOutcome moves a transaction according to the gateway's
// view of the order.  Repeated application of the same outcome is a
// no-op; outcomes that contradict a terminal state are logged and
// skipped rather than guessed at.
func (e *Engine) applyGatewayOutcome(ctx context.Context, uid string, outcome gateway.Outcome, gatewayRef string) error {
	if outcome == gateway.OutcomeNone || outcome == gateway.OutcomeUnknown {
		return nil
	}
	return e.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.TransactionForUpdate(ctx, uid)
		if err != nil {
			return err
		}
		switch outcome {
		case gateway.OutcomePaid:
			if t.Status == model.StatusPaid {
				return nil
			}
			if t.Status.Terminal() {
				logrus.WithFields(logrus.Fields{"uuid": uid, "status": t.Status}).
					Warn("booking: settlement received for terminal transaction")
				return nil
			}
			if err := transition(t, model.StatusPaid); err != nil {
				return err
			}
			now := e.now()
			t.PaidAt = &now
			t.ExpiresAt = nil
			if gatewayRef != "" {
				t.GatewayRef = &gatewayRef
			}
			if err := tx.UpdateTransaction(ctx, t); err != nil {
				return err
			}
			return e.markPaidSideEffects(ctx, tx, t)

		case gateway.OutcomeExpired:
			return e.voidFromGateway(ctx, tx, t, model.StatusExpired, queue.KindBookingExpired)

		case gateway.OutcomeCancelled:
			return e.voidFromGateway(ctx, tx, t, model.StatusCancelled, queue.KindBookingCancelled)
		}
		return nil
	})
}

// voidFromGateway applies a gateway-driven terminal failure: the
// transaction moves to the given terminal status and its stock is
// credited back.  Duplicate deliveries and deliveries against other
// terminal states are no-ops.
func (e *Engine) voidFromGateway(ctx context.Context, tx Tx, t *model.Transaction, to model.TransactionStatus, kind string) error {
	if t.Status == to {
		return nil
	}
	if t.Status != model.StatusWaitingForPayment {
		logrus.WithFields(logrus.Fields{"uuid": t.UUID, "status": t.Status, "to": to}).
			Warn("booking: gateway void ignored, transaction not awaiting payment")
		return nil
	}
	if err := e.releaseHold(ctx, tx, t); err != nil {
		return err
	}
	if err := transition(t, to); err != nil {
		return err
	}
	t.ExpiresAt = nil
	if err := tx.UpdateTransaction(ctx, t); err != nil {
		return err
	}
	if err := e.cancelJob(ctx, tx, scheduler.JobExpire, t.UUID); err != nil {
		return err
	}
	return e.enqueueNotification(ctx, tx, kind, t)
}

// ExpireTransaction is the EXPIRE job handler.  It re-reads the
// transaction under lock and only expires it when it is still unpaid
// and its deadline has truly passed, so a job queued for an old payment
// window cannot retroactively void a rescheduled transaction.
func (e *Engine) ExpireTransaction(ctx context.Context, uid string) error {
	return e.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.TransactionForUpdate(ctx, uid)
		if err != nil {
			return err
		}
		if t.Status != model.StatusWaitingForPayment {
			return nil
		}
		if t.ExpiresAt == nil || e.now().Before(*t.ExpiresAt) {
			return nil
		}
		if err := e.releaseHold(ctx, tx, t); err != nil {
			return err
		}
		if err := transition(t, model.StatusExpired); err != nil {
			return err
		}
		t.ExpiresAt = nil
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return err
		}
		return e.enqueueNotification(ctx, tx, queue.KindBookingExpired, t)
	})
}

// SendReminder is the REMIND job handler.  It emits a pre-stay
// notification for transactions that are still PAID when the job fires.
func (e *Engine) SendReminder(ctx context.Context, uid string) error {
	return e.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.TransactionForUpdate(ctx, uid)
		if err != nil {
			return err
		}
		if t.Status != model.StatusPaid {
			return nil
		}
		return e.enqueueNotification(ctx, tx, queue.KindStayReminder, t)
	})
}

// ReleaseStay is the RELEASE job handler.  After the stay ends the held
// units return to the room's stock while the transaction stays PAID for
// history.  The release marker makes a duplicate firing a no-op.
func (e *Engine) ReleaseStay(ctx context.Context, uid string) error {
	return e.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.TransactionForUpdate(ctx, uid)
		if err != nil {
			return err
		}
		if t.Status != model.StatusPaid || t.ReleasedAt != nil {
			return nil
		}
		if err := e.releaseHold(ctx, tx, t); err != nil {
			return err
		}
		return tx.UpdateTransaction(ctx, t)
	})
}

// GetReservation returns a transaction visible to the given actor: the
// booking guest or the owning host.
func (e *Engine) GetReservation(ctx context.Context, uid string, actorID int64) (*model.Transaction, error) {
	var out *model.Transaction
	err := e.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.TransactionForUpdate(ctx, uid)
		if err != nil {
			return err
		}
		if t.UserID != actorID {
			room, err := tx.Room(ctx, t.RoomID)
			if err != nil {
				return err
			}
			if room.HostID != actorID {
				return fmt.Errorf("%w: transaction belongs to another guest", ErrPreconditionFailed)
			}
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns a page of transactions for the filter's guest or host.
func (e *Engine) List(ctx context.Context, f ListFilter) ([]model.Transaction, int, error) {
	if f.GuestID <= 0 && f.HostID <= 0 {
		return nil, 0, fmt.Errorf("%w: a guest or host filter is required", ErrValidation)
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Take < 1 || f.Take > 50 {
		f.Take = 10
	}
	return e.store.ListTransactions(ctx, f)
}

// releaseHold credits the transaction's stock back to the room exactly
// once, stamping the release marker.  Callers invoke it while the
// status still holds stock, before any terminal transition.
func (e *Engine) releaseHold(ctx context.Context, tx Tx, t *model.Transaction) error {
	if t.ReleasedAt != nil || !t.Status.HoldsStock() {
		return nil
	}
	if err := inventory.Release(ctx, tx, t.RoomID, t.Qty); err != nil {
		return err
	}
	now := e.now()
	t.ReleasedAt = &now
	return nil
}

// markPaidSideEffects queues the side effects of reaching PAID: the
// confirmation notification, the pre-stay reminder and the post-stay
// stock release.
func (e *Engine) markPaidSideEffects(ctx context.Context, tx Tx, t *model.Transaction) error {
	if err := e.cancelJob(ctx, tx, scheduler.JobExpire, t.UUID); err != nil {
		return err
	}
	if err := e.enqueueNotification(ctx, tx, queue.KindPaymentConfirmed, t); err != nil {
		return err
	}
	if err := e.enqueueJob(ctx, tx, scheduler.JobRemind, t.UUID, t.StartDate.Add(-e.reminderLead)); err != nil {
		return err
	}
	return e.enqueueJob(ctx, tx, scheduler.JobRelease, t.UUID, t.EndDate)
}

func (e *Engine) enqueueNotification(ctx context.Context, tx Tx, kind string, t *model.Transaction) error {
	body, err := json.Marshal(queue.NotificationEvent{
		Kind:       kind,
		UUID:       t.UUID,
		UserID:     t.UserID,
		RoomID:     t.RoomID,
		Qty:        t.Qty,
		StartDate:  t.StartDate.Format("2006-01-02"),
		EndDate:    t.EndDate.Format("2006-01-02"),
		Total:      t.Total,
		OccurredAt: e.now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return tx.InsertOutbox(ctx, queue.NotificationsQueue, body)
}

func (e *Engine) enqueueJob(ctx context.Context, tx Tx, typ scheduler.JobType, uid string, fireAt time.Time) error {
	body, err := json.Marshal(scheduler.Job{Type: typ, UUID: uid, FireAt: fireAt})
	if err != nil {
		return err
	}
	return tx.InsertOutbox(ctx, scheduler.OutboxTopic, body)
}

// cancelJob withdraws a pending job once the state it guards against
// can no longer occur.  The job handlers re-check state before acting,
// so cancellation is an optimization, not a correctness requirement.
func (e *Engine) cancelJob(ctx context.Context, tx Tx, typ scheduler.JobType, uid string) error {
	body, err := json.Marshal(scheduler.Job{Type: typ, UUID: uid, Cancel: true})
	if err != nil {
		return err
	}
	return tx.InsertOutbox(ctx, scheduler.OutboxTopic, body)
}

// day truncates a timestamp to midnight UTC; bookings and rates operate
// on whole days.
func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
