package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adiwibowo/stayreserve/internal/gateway"
	"github.com/adiwibowo/stayreserve/internal/inventory"
	"github.com/adiwibowo/stayreserve/internal/model"
	"github.com/adiwibowo/stayreserve/internal/queue"
	"github.com/adiwibowo/stayreserve/internal/scheduler"
)

const testServerKey = "server-key-test"

// fakeGateway stands in for the payment provider.  Signature checks run
// the real verification so webhook tests exercise the production path.
type fakeGateway struct {
	mu          sync.Mutex
	checkoutErr error
	checkouts   []string
	statusReply *gateway.OrderStatus
	statusErr   error
}

func (f *fakeGateway) CreateCheckout(ctx context.Context, orderID string, grossAmount int64) (*gateway.Checkout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	f.checkouts = append(f.checkouts, orderID)
	return &gateway.Checkout{Token: "tok-" + orderID, RedirectURL: "https://pay.test/" + orderID}, nil
}

func (f *fakeGateway) Status(ctx context.Context, orderID string) (*gateway.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.statusReply, nil
}

func (f *fakeGateway) VerifyNotification(n gateway.Notification) error {
	return gateway.VerifyNotification(n, testServerKey)
}

func newTestEngine(store Store, gw gateway.Client) *Engine {
	return NewEngine(store, gw, time.Hour, 24*time.Hour)
}

func seedRoom(s *memStore, id, hostID int64, basePrice int64, stock int) {
	s.addRoom(model.Room{
		ID:        id,
		HostID:    hostID,
		Name:      "test room",
		BasePrice: basePrice,
		Stock:     stock,
		Capacity:  2,
	})
}

func dayAt(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func countTopic(s *memStore, topic string) int {
	n := 0
	for _, t := range s.outboxTopics() {
		if t == topic {
			n++
		}
	}
	return n
}

// scheduledJobs decodes every scheduler outbox row for inspection.
func scheduledJobs(t *testing.T, s *memStore) []scheduler.Job {
	t.Helper()
	var jobs []scheduler.Job
	for _, raw := range s.outboxPayloads(scheduler.OutboxTopic) {
		var j scheduler.Job
		require.NoError(t, json.Unmarshal(raw, &j))
		jobs = append(jobs, j)
	}
	return jobs
}

// notifications decodes every broker outbox row for inspection.
func notifications(t *testing.T, s *memStore) []queue.NotificationEvent {
	t.Helper()
	var events []queue.NotificationEvent
	for _, raw := range s.outboxPayloads(queue.NotificationsQueue) {
		var ev queue.NotificationEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		events = append(events, ev)
	}
	return events
}

func TestCreateReservationManualTransfer(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 7, 100, 50000, 2)
	eng := newTestEngine(store, &fakeGateway{})

	txn, err := eng.CreateReservation(context.Background(), CreateReservationInput{
		RoomID:        7,
		GuestID:       1,
		Qty:           2,
		StartDate:     dayAt(2026, time.September, 10),
		EndDate:       dayAt(2026, time.September, 12),
		PaymentMethod: model.PaymentManualTransfer,
	})
	require.NoError(t, err)
	require.NotEmpty(t, txn.UUID)

	assert.Equal(t, model.StatusWaitingForPayment, txn.Status)
	assert.Equal(t, int64(200000), txn.Total) // 50000 x 2 units x 2 nights
	require.NotNil(t, txn.ExpiresAt)
	assert.Equal(t, 0, store.roomStock(7))

	jobs := scheduledJobs(t, store)
	require.Len(t, jobs, 1)
	assert.Equal(t, scheduler.JobExpire, jobs[0].Type)
	assert.Equal(t, txn.UUID, jobs[0].UUID)
	assert.Equal(t, *txn.ExpiresAt, jobs[0].FireAt)

	// Stock is exhausted, so another guest is refused.
	_, err = eng.CreateReservation(context.Background(), CreateReservationInput{
		RoomID:        7,
		GuestID:       2,
		Qty:           1,
		StartDate:     dayAt(2026, time.September, 10),
		EndDate:       dayAt(2026, time.September, 11),
		PaymentMethod: model.PaymentManualTransfer,
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, 0, store.roomStock(7))
}

func TestCreateReservationAppliesSeasonalRate(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 100, 3)
	store.addRate(1, model.SeasonalRate{
		RoomID:          1,
		StartDate:       dayAt(2026, time.December, 25),
		EndDate:         dayAt(2026, time.December, 26),
		AdjustmentType:  model.AdjustmentPercentage,
		AdjustmentValue: 20,
		Active:          true,
	})
	eng := newTestEngine(store, &fakeGateway{})

	txn, err := eng.CreateReservation(context.Background(), CreateReservationInput{
		RoomID:        1,
		GuestID:       1,
		Qty:           1,
		StartDate:     dayAt(2026, time.December, 24),
		EndDate:       dayAt(2026, time.December, 27),
		PaymentMethod: model.PaymentManualTransfer,
	})
	require.NoError(t, err)
	// Nights at 100, 120 and 100.
	assert.Equal(t, int64(320), txn.Total)
}

func TestCreateReservationValidation(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 5)
	eng := newTestEngine(store, &fakeGateway{})

	cases := []struct {
		name string
		in   CreateReservationInput
	}{
		{"zero qty", CreateReservationInput{RoomID: 1, GuestID: 1, Qty: 0, StartDate: dayAt(2026, 9, 1), EndDate: dayAt(2026, 9, 2), PaymentMethod: model.PaymentManualTransfer}},
		{"inverted range", CreateReservationInput{RoomID: 1, GuestID: 1, Qty: 1, StartDate: dayAt(2026, 9, 5), EndDate: dayAt(2026, 9, 3), PaymentMethod: model.PaymentManualTransfer}},
		{"zero nights", CreateReservationInput{RoomID: 1, GuestID: 1, Qty: 1, StartDate: dayAt(2026, 9, 1), EndDate: dayAt(2026, 9, 1), PaymentMethod: model.PaymentManualTransfer}},
		{"unknown method", CreateReservationInput{RoomID: 1, GuestID: 1, Qty: 1, StartDate: dayAt(2026, 9, 1), EndDate: dayAt(2026, 9, 2), PaymentMethod: "CASH"}},
		{"missing guest", CreateReservationInput{RoomID: 1, Qty: 1, StartDate: dayAt(2026, 9, 1), EndDate: dayAt(2026, 9, 2), PaymentMethod: model.PaymentManualTransfer}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.CreateReservation(context.Background(), tc.in)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Equal(t, 5, store.roomStock(1))
}

func TestCreateReservationBlackout(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 5)
	store.addBlackout(1, dayAt(2026, time.September, 11))
	eng := newTestEngine(store, &fakeGateway{})

	_, err := eng.CreateReservation(context.Background(), CreateReservationInput{
		RoomID:        1,
		GuestID:       1,
		Qty:           1,
		StartDate:     dayAt(2026, time.September, 10),
		EndDate:       dayAt(2026, time.September, 12),
		PaymentMethod: model.PaymentManualTransfer,
	})
	require.ErrorIs(t, err, inventory.ErrDateRangeBlocked)
	assert.Equal(t, 5, store.roomStock(1))

	// Checkout on the blackout day itself is fine: the range is
	// half-open, so the stay occupies the nights before it.
	_, err = eng.CreateReservation(context.Background(), CreateReservationInput{
		RoomID:        1,
		GuestID:       1,
		Qty:           1,
		StartDate:     dayAt(2026, time.September, 9),
		EndDate:       dayAt(2026, time.September, 11),
		PaymentMethod: model.PaymentManualTransfer,
	})
	require.NoError(t, err)
}

func TestCreateReservationConcurrent(t *testing.T) {
	const stock = 5
	const attempts = 8

	store := newMemStore()
	seedRoom(store, 1, 100, 50000, stock)
	eng := newTestEngine(store, &fakeGateway{})

	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(guest int64) {
			defer wg.Done()
			_, err := eng.CreateReservation(context.Background(), CreateReservationInput{
				RoomID:        1,
				GuestID:       guest,
				Qty:           1,
				StartDate:     dayAt(2026, time.September, 10),
				EndDate:       dayAt(2026, time.September, 11),
				PaymentMethod: model.PaymentManualTransfer,
			})
			errs <- err
		}(int64(i + 1))
	}
	wg.Wait()
	close(errs)

	ok, refused := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, inventory.ErrInsufficientStock):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, stock, ok)
	assert.Equal(t, attempts-stock, refused)
	assert.Equal(t, 0, store.roomStock(1))
}

func TestCreateReservationGateway(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	gw := &fakeGateway{}
	eng := newTestEngine(store, gw)

	txn, err := eng.CreateReservation(context.Background(), CreateReservationInput{
		RoomID:        1,
		GuestID:       1,
		Qty:           1,
		StartDate:     dayAt(2026, time.September, 10),
		EndDate:       dayAt(2026, time.September, 12),
		PaymentMethod: model.PaymentGateway,
	})
	require.NoError(t, err)
	require.NotNil(t, txn.GatewayToken)
	assert.Equal(t, "tok-"+txn.UUID, *txn.GatewayToken)
	assert.Equal(t, []string{txn.UUID}, gw.checkouts)

	stored := store.transaction(txn.UUID)
	require.NotNil(t, stored.GatewayToken)
	assert.Equal(t, *txn.GatewayToken, *stored.GatewayToken)
}

func TestCreateReservationGatewayCheckoutFailure(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	gw := &fakeGateway{checkoutErr: gateway.ErrUnavailable}
	eng := newTestEngine(store, gw)

	_, err := eng.CreateReservation(context.Background(), CreateReservationInput{
		RoomID:        1,
		GuestID:       1,
		Qty:           2,
		StartDate:     dayAt(2026, time.September, 10),
		EndDate:       dayAt(2026, time.September, 12),
		PaymentMethod: model.PaymentGateway,
	})
	require.ErrorIs(t, err, gateway.ErrUnavailable)

	// The reservation was compensated: no stock stays held.
	assert.Equal(t, 3, store.roomStock(1))
	_, total, err := store.ListTransactions(context.Background(), ListFilter{GuestID: 1, Status: model.StatusCancelled, Page: 1, Take: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

// flakyStore fails the nth unit of work and delegates the rest.
type flakyStore struct {
	*memStore
	failOn int
	calls  int
}

func (s *flakyStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.calls++
	if s.calls == s.failOn {
		return errors.New("connection reset")
	}
	return s.memStore.InTx(ctx, fn)
}

func TestCreateReservationGatewayTokenPersistFailure(t *testing.T) {
	mem := newMemStore()
	seedRoom(mem, 1, 100, 50000, 3)
	gw := &fakeGateway{}
	// The reservation commits, the checkout opens, then saving the token
	// fails.
	store := &flakyStore{memStore: mem, failOn: 2}
	eng := newTestEngine(store, gw)

	_, err := eng.CreateReservation(context.Background(), CreateReservationInput{
		RoomID:        1,
		GuestID:       1,
		Qty:           1,
		StartDate:     dayAt(2026, time.September, 10),
		EndDate:       dayAt(2026, time.September, 12),
		PaymentMethod: model.PaymentGateway,
	})
	require.Error(t, err)

	// A booking whose token was never stored cannot be paid; it is
	// compensated rather than left holding stock until EXPIRE.
	assert.Equal(t, 3, mem.roomStock(1))
	_, total, lerr := mem.ListTransactions(context.Background(), ListFilter{GuestID: 1, Status: model.StatusCancelled, Page: 1, Take: 10})
	require.NoError(t, lerr)
	assert.Equal(t, 1, total)
}

// manualBooking drives a reservation to WAITING_FOR_PAYMENT and
// returns it.
func manualBooking(t *testing.T, eng *Engine, guestID int64, roomID int64) *model.Transaction {
	t.Helper()
	txn, err := eng.CreateReservation(context.Background(), CreateReservationInput{
		RoomID:        roomID,
		GuestID:       guestID,
		Qty:           1,
		StartDate:     dayAt(2026, time.October, 1),
		EndDate:       dayAt(2026, time.October, 3),
		PaymentMethod: model.PaymentManualTransfer,
	})
	require.NoError(t, err)
	return txn
}

func TestSubmitPaymentProof(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := manualBooking(t, eng, 1, 1)

	t.Run("wrong guest", func(t *testing.T) {
		_, err := eng.SubmitPaymentProof(context.Background(), txn.UUID, 99, "proof/abc.jpg")
		require.ErrorIs(t, err, ErrPreconditionFailed)
	})

	t.Run("empty proof", func(t *testing.T) {
		_, err := eng.SubmitPaymentProof(context.Background(), txn.UUID, 1, "")
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("accepted", func(t *testing.T) {
		got, err := eng.SubmitPaymentProof(context.Background(), txn.UUID, 1, "proof/abc.jpg")
		require.NoError(t, err)
		assert.Equal(t, model.StatusWaitingForConfirmation, got.Status)
		assert.Nil(t, got.ExpiresAt)
		require.NotNil(t, got.PaymentProof)
		assert.Equal(t, "proof/abc.jpg", *got.PaymentProof)

		// The payment deadline is gone, so its EXPIRE job is withdrawn.
		jobs := scheduledJobs(t, store)
		last := jobs[len(jobs)-1]
		assert.True(t, last.Cancel)
		assert.Equal(t, scheduler.JobExpire, last.Type)
		assert.Equal(t, txn.UUID, last.UUID)
	})

	t.Run("second submission refused", func(t *testing.T) {
		_, err := eng.SubmitPaymentProof(context.Background(), txn.UUID, 1, "proof/again.jpg")
		require.ErrorIs(t, err, ErrPreconditionFailed)
	})
}

func TestSubmitPaymentProofAfterWindow(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := manualBooking(t, eng, 1, 1)

	eng.now = func() time.Time { return txn.ExpiresAt.Add(time.Minute) }
	_, err := eng.SubmitPaymentProof(context.Background(), txn.UUID, 1, "proof/late.jpg")
	require.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestConfirmPaymentAccept(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := manualBooking(t, eng, 1, 1)
	_, err := eng.SubmitPaymentProof(context.Background(), txn.UUID, 1, "proof/abc.jpg")
	require.NoError(t, err)

	t.Run("wrong host", func(t *testing.T) {
		_, err := eng.ConfirmPayment(context.Background(), txn.UUID, 999, true)
		require.ErrorIs(t, err, ErrPreconditionFailed)
	})

	got, err := eng.ConfirmPayment(context.Background(), txn.UUID, 100, true)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)

	// Confirmation queues the guest notification plus the reminder and
	// post-stay release jobs.
	events := notifications(t, store)
	require.Len(t, events, 1)
	assert.Equal(t, queue.KindPaymentConfirmed, events[0].Kind)

	jobs := scheduledJobs(t, store)
	var remind, release *scheduler.Job
	for i := range jobs {
		switch jobs[i].Type {
		case scheduler.JobRemind:
			remind = &jobs[i]
		case scheduler.JobRelease:
			release = &jobs[i]
		}
	}
	require.NotNil(t, remind)
	require.NotNil(t, release)
	assert.Equal(t, txn.StartDate.Add(-24*time.Hour), remind.FireAt)
	assert.Equal(t, txn.EndDate, release.FireAt)

	t.Run("double accept refused", func(t *testing.T) {
		_, err := eng.ConfirmPayment(context.Background(), txn.UUID, 100, true)
		require.ErrorIs(t, err, ErrPreconditionFailed)
	})
}

func TestConfirmPaymentReject(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := manualBooking(t, eng, 1, 1)
	_, err := eng.SubmitPaymentProof(context.Background(), txn.UUID, 1, "proof/blurry.jpg")
	require.NoError(t, err)

	got, err := eng.ConfirmPayment(context.Background(), txn.UUID, 100, false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaitingForPayment, got.Status)
	assert.Nil(t, got.PaymentProof)
	require.NotNil(t, got.ExpiresAt)

	// A fresh deadline means a fresh EXPIRE job; the proof upload had
	// withdrawn the original one.
	expires, cancels := 0, 0
	for _, j := range scheduledJobs(t, store) {
		if j.Type != scheduler.JobExpire {
			continue
		}
		if j.Cancel {
			cancels++
		} else {
			expires++
		}
	}
	assert.Equal(t, 2, expires)
	assert.Equal(t, 1, cancels)

	// The original EXPIRE job firing against the new window is a no-op.
	require.NoError(t, eng.ExpireTransaction(context.Background(), txn.UUID))
	assert.Equal(t, model.StatusWaitingForPayment, store.transaction(txn.UUID).Status)

	// The guest can go again with a better proof.
	_, err = eng.SubmitPaymentProof(context.Background(), txn.UUID, 1, "proof/sharp.jpg")
	require.NoError(t, err)
}

func TestCancelByGuest(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := manualBooking(t, eng, 1, 1)
	require.Equal(t, 2, store.roomStock(1))

	t.Run("wrong guest", func(t *testing.T) {
		_, err := eng.CancelByGuest(context.Background(), txn.UUID, 42)
		require.ErrorIs(t, err, ErrPreconditionFailed)
	})

	got, err := eng.CancelByGuest(context.Background(), txn.UUID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	require.NotNil(t, got.ReleasedAt)
	assert.Equal(t, 3, store.roomStock(1))

	t.Run("already cancelled", func(t *testing.T) {
		_, err := eng.CancelByGuest(context.Background(), txn.UUID, 1)
		require.ErrorIs(t, err, ErrPreconditionFailed)
		assert.Equal(t, 3, store.roomStock(1))
	})
}

func TestCancelByGuestAfterProofRefused(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := manualBooking(t, eng, 1, 1)
	_, err := eng.SubmitPaymentProof(context.Background(), txn.UUID, 1, "proof/abc.jpg")
	require.NoError(t, err)

	_, err = eng.CancelByGuest(context.Background(), txn.UUID, 1)
	require.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestCancelByHost(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := manualBooking(t, eng, 1, 1)

	got, err := eng.CancelByHost(context.Background(), txn.UUID, 100)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Equal(t, 3, store.roomStock(1))

	events := notifications(t, store)
	require.Len(t, events, 1)
	assert.Equal(t, queue.KindBookingCancelled, events[0].Kind)
	assert.Equal(t, txn.UUID, events[0].UUID)
}

func TestExpireTransaction(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := manualBooking(t, eng, 1, 1)

	t.Run("before deadline is a no-op", func(t *testing.T) {
		require.NoError(t, eng.ExpireTransaction(context.Background(), txn.UUID))
		assert.Equal(t, model.StatusWaitingForPayment, store.transaction(txn.UUID).Status)
		assert.Equal(t, 2, store.roomStock(1))
	})

	eng.now = func() time.Time { return txn.ExpiresAt.Add(time.Second) }

	t.Run("after deadline expires and releases", func(t *testing.T) {
		require.NoError(t, eng.ExpireTransaction(context.Background(), txn.UUID))
		got := store.transaction(txn.UUID)
		assert.Equal(t, model.StatusExpired, got.Status)
		require.NotNil(t, got.ReleasedAt)
		assert.Equal(t, 3, store.roomStock(1))
		assert.Equal(t, 1, countTopic(store, queue.NotificationsQueue))
	})

	t.Run("second firing is a no-op", func(t *testing.T) {
		require.NoError(t, eng.ExpireTransaction(context.Background(), txn.UUID))
		assert.Equal(t, 3, store.roomStock(1))
		assert.Equal(t, 1, countTopic(store, queue.NotificationsQueue))
	})
}

func TestExpireTransactionAfterPaid(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := manualBooking(t, eng, 1, 1)
	_, err := eng.SubmitPaymentProof(context.Background(), txn.UUID, 1, "proof/abc.jpg")
	require.NoError(t, err)
	_, err = eng.ConfirmPayment(context.Background(), txn.UUID, 100, true)
	require.NoError(t, err)

	eng.now = func() time.Time { return txn.ExpiresAt.Add(time.Hour) }
	require.NoError(t, eng.ExpireTransaction(context.Background(), txn.UUID))
	assert.Equal(t, model.StatusPaid, store.transaction(txn.UUID).Status)
	assert.Equal(t, 2, store.roomStock(1))
}

// gatewayBooking drives a gateway reservation to WAITING_FOR_PAYMENT.
func gatewayBooking(t *testing.T, eng *Engine, guestID int64) *model.Transaction {
	t.Helper()
	txn, err := eng.CreateReservation(context.Background(), CreateReservationInput{
		RoomID:        1,
		GuestID:       guestID,
		Qty:           1,
		StartDate:     dayAt(2026, time.October, 1),
		EndDate:       dayAt(2026, time.October, 3),
		PaymentMethod: model.PaymentGateway,
	})
	require.NoError(t, err)
	return txn
}

// signedNotification builds a notification carrying a valid signature.
func signedNotification(orderID, transactionStatus string, total int64) gateway.Notification {
	gross := fmt.Sprintf("%d.00", total)
	return gateway.Notification{
		OrderID:           orderID,
		StatusCode:        "200",
		GrossAmount:       gross,
		SignatureKey:      gateway.Signature(orderID, "200", gross, testServerKey),
		TransactionStatus: transactionStatus,
		TransactionID:     "gw-" + orderID,
	}
}

func TestProcessWebhookSettlement(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := gatewayBooking(t, eng, 1)

	n := signedNotification(txn.UUID, "settlement", txn.Total)
	require.NoError(t, eng.ProcessWebhook(context.Background(), n))

	got := store.transaction(txn.UUID)
	assert.Equal(t, model.StatusPaid, got.Status)
	assert.Nil(t, got.ExpiresAt)
	require.NotNil(t, got.PaidAt)
	require.NotNil(t, got.GatewayRef)
	assert.Equal(t, "gw-"+txn.UUID, *got.GatewayRef)

	before := len(store.outboxTopics())

	// Providers redeliver; a duplicate settlement changes nothing and
	// queues nothing.
	require.NoError(t, eng.ProcessWebhook(context.Background(), n))
	assert.Equal(t, before, len(store.outboxTopics()))
}

func TestProcessWebhookBadSignature(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := gatewayBooking(t, eng, 1)

	n := signedNotification(txn.UUID, "settlement", txn.Total)
	n.SignatureKey = "forged"
	err := eng.ProcessWebhook(context.Background(), n)
	require.ErrorIs(t, err, gateway.ErrInvalidSignature)
	assert.Equal(t, model.StatusWaitingForPayment, store.transaction(txn.UUID).Status)
}

func TestProcessWebhookExpire(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := gatewayBooking(t, eng, 1)
	require.Equal(t, 2, store.roomStock(1))

	n := signedNotification(txn.UUID, "expire", txn.Total)
	require.NoError(t, eng.ProcessWebhook(context.Background(), n))

	got := store.transaction(txn.UUID)
	assert.Equal(t, model.StatusExpired, got.Status)
	assert.Equal(t, 3, store.roomStock(1))

	events := notifications(t, store)
	require.Len(t, events, 1)
	assert.Equal(t, queue.KindBookingExpired, events[0].Kind)
}

func TestProcessWebhookPendingIsNoop(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := gatewayBooking(t, eng, 1)

	n := signedNotification(txn.UUID, "pending", txn.Total)
	require.NoError(t, eng.ProcessWebhook(context.Background(), n))
	assert.Equal(t, model.StatusWaitingForPayment, store.transaction(txn.UUID).Status)
}

func TestProcessWebhookAgainstTerminal(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := gatewayBooking(t, eng, 1)
	_, err := eng.CancelByGuest(context.Background(), txn.UUID, 1)
	require.NoError(t, err)

	n := signedNotification(txn.UUID, "settlement", txn.Total)
	require.NoError(t, eng.ProcessWebhook(context.Background(), n))
	got := store.transaction(txn.UUID)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Nil(t, got.PaidAt)
	assert.Equal(t, 3, store.roomStock(1))
}

func TestRefreshStatus(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	gw := &fakeGateway{}
	eng := newTestEngine(store, gw)
	txn := gatewayBooking(t, eng, 1)

	t.Run("wrong guest", func(t *testing.T) {
		_, err := eng.RefreshStatus(context.Background(), txn.UUID, 9)
		require.ErrorIs(t, err, ErrPreconditionFailed)
	})

	gw.statusReply = &gateway.OrderStatus{TransactionStatus: "settlement", TransactionID: "gw-1"}
	got, err := eng.RefreshStatus(context.Background(), txn.UUID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaid, got.Status)
	require.NotNil(t, got.GatewayRef)
	assert.Equal(t, "gw-1", *got.GatewayRef)
}

func TestRefreshStatusManualRefused(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := manualBooking(t, eng, 1, 1)

	_, err := eng.RefreshStatus(context.Background(), txn.UUID, 1)
	require.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestReleaseStay(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := manualBooking(t, eng, 1, 1)
	_, err := eng.SubmitPaymentProof(context.Background(), txn.UUID, 1, "proof/abc.jpg")
	require.NoError(t, err)
	_, err = eng.ConfirmPayment(context.Background(), txn.UUID, 100, true)
	require.NoError(t, err)
	require.Equal(t, 2, store.roomStock(1))

	require.NoError(t, eng.ReleaseStay(context.Background(), txn.UUID))
	got := store.transaction(txn.UUID)
	assert.Equal(t, model.StatusPaid, got.Status)
	require.NotNil(t, got.ReleasedAt)
	assert.Equal(t, 3, store.roomStock(1))

	// A redelivered job finds the release marker and does nothing.
	require.NoError(t, eng.ReleaseStay(context.Background(), txn.UUID))
	assert.Equal(t, 3, store.roomStock(1))
}

func TestSendReminder(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := manualBooking(t, eng, 1, 1)

	t.Run("unpaid is a no-op", func(t *testing.T) {
		require.NoError(t, eng.SendReminder(context.Background(), txn.UUID))
		assert.Equal(t, 0, countTopic(store, queue.NotificationsQueue))
	})

	_, err := eng.SubmitPaymentProof(context.Background(), txn.UUID, 1, "proof/abc.jpg")
	require.NoError(t, err)
	_, err = eng.ConfirmPayment(context.Background(), txn.UUID, 100, true)
	require.NoError(t, err)

	require.NoError(t, eng.SendReminder(context.Background(), txn.UUID))
	events := notifications(t, store)
	require.Len(t, events, 2)
	assert.Equal(t, queue.KindStayReminder, events[1].Kind)
}

func TestGetReservation(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 3)
	eng := newTestEngine(store, &fakeGateway{})
	txn := manualBooking(t, eng, 1, 1)

	got, err := eng.GetReservation(context.Background(), txn.UUID, 1)
	require.NoError(t, err)
	assert.Equal(t, txn.UUID, got.UUID)

	// The owning host sees it too.
	_, err = eng.GetReservation(context.Background(), txn.UUID, 100)
	require.NoError(t, err)

	_, err = eng.GetReservation(context.Background(), txn.UUID, 55)
	require.ErrorIs(t, err, ErrPreconditionFailed)

	_, err = eng.GetReservation(context.Background(), "no-such-uuid", 1)
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestList(t *testing.T) {
	store := newMemStore()
	seedRoom(store, 1, 100, 50000, 10)
	seedRoom(store, 2, 200, 70000, 10)
	eng := newTestEngine(store, &fakeGateway{})

	for i := 0; i < 3; i++ {
		manualBooking(t, eng, 1, 1)
	}
	manualBooking(t, eng, 1, 2)
	manualBooking(t, eng, 2, 1)

	t.Run("guest sees own bookings", func(t *testing.T) {
		items, total, err := eng.List(context.Background(), ListFilter{GuestID: 1, Page: 1, Take: 10})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Len(t, items, 4)
	})

	t.Run("host sees bookings against own rooms", func(t *testing.T) {
		items, total, err := eng.List(context.Background(), ListFilter{HostID: 100, Page: 1, Take: 10})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Len(t, items, 4)
	})

	t.Run("paging", func(t *testing.T) {
		items, total, err := eng.List(context.Background(), ListFilter{GuestID: 1, Page: 2, Take: 3})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Len(t, items, 1)
	})

	t.Run("filter required", func(t *testing.T) {
		_, _, err := eng.List(context.Background(), ListFilter{Page: 1, Take: 10})
		require.ErrorIs(t, err, ErrValidation)
	})
}
