package handler // handler defines HTTP handlers for the booking API

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/adiwibowo/stayreserve/internal/booking"
	"github.com/adiwibowo/stayreserve/internal/gateway"
	"github.com/adiwibowo/stayreserve/internal/inventory"
	"github.com/adiwibowo/stayreserve/internal/model"
)

const dateLayout = "2006-01-02"

// ReservationHandler exposes the reservation lifecycle over HTTP.  All
// methods assume JWT authentication and role validation already ran;
// the authenticated user id is the only identity the engine trusts.
type ReservationHandler struct {
	Engine *booking.Engine
}

// NewReservationHandler constructs a ReservationHandler.
func NewReservationHandler(engine *booking.Engine) *ReservationHandler {
	if engine == nil {
		panic("nil engine passed to NewReservationHandler")
	}
	return &ReservationHandler{Engine: engine}
}

// getActorID extracts the authenticated user id stored by the JWT
// middleware.
func getActorID(c echo.Context) (int64, error) {
	switch v := c.Get("user_id").(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// writeEngineError maps engine sentinel errors onto HTTP responses.
func writeEngineError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, booking.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, booking.ErrRoomNotFound),
		errors.Is(err, booking.ErrTransactionNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, booking.ErrPreconditionFailed):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, inventory.ErrDateRangeBlocked):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, gateway.ErrUnavailable):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment provider unavailable"})
	default:
		logrus.WithError(err).Error("handler: unexpected engine error")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

// transactionResponse is the wire shape of a transaction.  The internal
// numeric id never leaves the service.
type transactionResponse struct {
	UUID          string  `json:"uuid"`
	RoomID        int64   `json:"room_id"`
	Qty           int     `json:"qty"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
	Nights        int     `json:"nights"`
	Total         int64   `json:"total"`
	PaymentMethod string  `json:"payment_method"`
	Status        string  `json:"status"`
	ExpiresAt     *string `json:"expires_at,omitempty"`
	PaymentProof  *string `json:"payment_proof,omitempty"`
	GatewayToken  *string `json:"gateway_token,omitempty"`
	PaidAt        *string `json:"paid_at,omitempty"`
}

func toResponse(t *model.Transaction) transactionResponse {
	resp := transactionResponse{
		UUID:          t.UUID,
		RoomID:        t.RoomID,
		Qty:           t.Qty,
		StartDate:     t.StartDate.Format(dateLayout),
		EndDate:       t.EndDate.Format(dateLayout),
		Nights:        t.Nights(),
		Total:         t.Total,
		PaymentMethod: string(t.PaymentMethod),
		Status:        string(t.Status),
		PaymentProof:  t.PaymentProof,
		GatewayToken:  t.GatewayToken,
	}
	if t.ExpiresAt != nil {
		s := t.ExpiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &s
	}
	if t.PaidAt != nil {
		s := t.PaidAt.UTC().Format(time.RFC3339)
		resp.PaidAt = &s
	}
	return resp
}

// Create handles POST /v1/reservations.  The guest books qty units of
// a room over [start_date, end_date) and receives the transaction in
// WAITING_FOR_PAYMENT, with a checkout token when paying through the
// gateway.
func (h *ReservationHandler) Create(c echo.Context) error {
	guestID, err := getActorID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		RoomID        int64  `json:"room_id"`
		Qty           int    `json:"qty"`
		StartDate     string `json:"start_date"`
		EndDate       string `json:"end_date"`
		PaymentMethod string `json:"payment_method"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	start, err := time.Parse(dateLayout, body.StartDate)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid start_date, want YYYY-MM-DD"})
	}
	end, err := time.Parse(dateLayout, body.EndDate)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid end_date, want YYYY-MM-DD"})
	}

	txn, err := h.Engine.CreateReservation(c.Request().Context(), booking.CreateReservationInput{
		RoomID:        body.RoomID,
		GuestID:       guestID,
		Qty:           body.Qty,
		StartDate:     start,
		EndDate:       end,
		PaymentMethod: model.PaymentMethod(body.PaymentMethod),
	})
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusCreated, toResponse(txn))
}

// List handles GET /v1/reservations.  Guests see their own bookings,
// hosts the bookings against rooms they own.  Optional query params:
// status, page, take.
func (h *ReservationHandler) List(c echo.Context) error {
	actorID, err := getActorID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	f := booking.ListFilter{
		Status: model.TransactionStatus(c.QueryParam("status")),
	}
	if role, _ := c.Get("role").(string); role == "HOST" {
		f.HostID = actorID
	} else {
		f.GuestID = actorID
	}
	f.Page, _ = strconv.Atoi(c.QueryParam("page"))
	f.Take, _ = strconv.Atoi(c.QueryParam("take"))

	items, total, err := h.Engine.List(c.Request().Context(), f)
	if err != nil {
		return writeEngineError(c, err)
	}
	resp := make([]transactionResponse, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": resp, "total": total})
}

// Get handles GET /v1/reservations/:uuid for the booking guest or the
// owning host.
func (h *ReservationHandler) Get(c echo.Context) error {
	actorID, err := getActorID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	txn, err := h.Engine.GetReservation(c.Request().Context(), c.Param("uuid"), actorID)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(txn))
}

// SubmitProof handles POST /v1/reservations/:uuid/payment-proof.  The
// guest attaches a transfer-proof reference to a manual-transfer
// booking.
func (h *ReservationHandler) SubmitProof(c echo.Context) error {
	guestID, err := getActorID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		Proof string `json:"proof"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	txn, err := h.Engine.SubmitPaymentProof(c.Request().Context(), c.Param("uuid"), guestID, body.Proof)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(txn))
}

// Confirm handles POST /v1/reservations/:uuid/confirm.  The owning
// host accepts or rejects the uploaded payment proof.
func (h *ReservationHandler) Confirm(c echo.Context) error {
	hostID, err := getActorID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		Accept bool `json:"accept"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	txn, err := h.Engine.ConfirmPayment(c.Request().Context(), c.Param("uuid"), hostID, body.Accept)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(txn))
}

// Cancel handles POST /v1/reservations/:uuid/cancel for the booking
// guest.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	guestID, err := getActorID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	txn, err := h.Engine.CancelByGuest(c.Request().Context(), c.Param("uuid"), guestID)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(txn))
}

// HostCancel handles POST /v1/reservations/:uuid/host-cancel for the
// owning host.
func (h *ReservationHandler) HostCancel(c echo.Context) error {
	hostID, err := getActorID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	txn, err := h.Engine.CancelByHost(c.Request().Context(), c.Param("uuid"), hostID)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(txn))
}

// Refresh handles POST /v1/reservations/:uuid/refresh.  The guest asks
// the service to reconcile a gateway booking against the provider's
// status API, covering the missed-webhook case.
func (h *ReservationHandler) Refresh(c echo.Context) error {
	guestID, err := getActorID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	txn, err := h.Engine.RefreshStatus(c.Request().Context(), c.Param("uuid"), guestID)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(txn))
}
