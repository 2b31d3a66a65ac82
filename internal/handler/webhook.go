package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/adiwibowo/stayreserve/internal/booking"
	"github.com/adiwibowo/stayreserve/internal/gateway"
)

// WebhookHandler receives payment provider notifications.  The route
// is unauthenticated; authenticity comes from the signature inside the
// payload, which the engine verifies before any state change.
type WebhookHandler struct {
	Engine *booking.Engine
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(engine *booking.Engine) *WebhookHandler {
	if engine == nil {
		panic("nil engine passed to NewWebhookHandler")
	}
	return &WebhookHandler{Engine: engine}
}

// Receive handles POST /v1/payments/webhook.  The provider retries on
// non-2xx responses, so transient failures return 500 to trigger a
// redelivery while bad signatures and unknown orders do not.
func (h *WebhookHandler) Receive(c echo.Context) error {
	var n gateway.Notification
	if err := c.Bind(&n); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	}

	err := h.Engine.ProcessWebhook(c.Request().Context(), n)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	case errors.Is(err, gateway.ErrInvalidSignature):
		logrus.WithField("order_id", n.OrderID).Warn("webhook: invalid signature")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid signature"})
	case errors.Is(err, booking.ErrTransactionNotFound):
		logrus.WithField("order_id", n.OrderID).Warn("webhook: unknown order")
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown order"})
	default:
		logrus.WithError(err).WithField("order_id", n.OrderID).Error("webhook: processing failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
