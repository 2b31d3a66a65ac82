// Package router registers the HTTP routes of the booking API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/adiwibowo/stayreserve/internal/handler"
	"github.com/adiwibowo/stayreserve/internal/middleware"
)

// Register wires all routes on the provided Echo instance.  The
// webhook endpoint is deliberately outside the authenticated group: the
// provider cannot carry a user token, and the payload signature is the
// authenticity check instead.
func Register(e *echo.Echo, r *handler.ReservationHandler, w *handler.WebhookHandler, jwtSecret string) {
	e.GET("/healthz", handler.Health)
	e.POST("/v1/payments/webhook", w.Receive)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole("GUEST", "HOST"))

	auth.GET("/reservations", r.List)
	auth.GET("/reservations/:uuid", r.Get)

	guest := auth.Group("", middleware.RequireRole("GUEST"))
	guest.POST("/reservations", r.Create)
	guest.POST("/reservations/:uuid/payment-proof", r.SubmitProof)
	guest.POST("/reservations/:uuid/cancel", r.Cancel)
	guest.POST("/reservations/:uuid/refresh", r.Refresh)

	host := auth.Group("", middleware.RequireRole("HOST"))
	host.POST("/reservations/:uuid/confirm", r.Confirm)
	host.POST("/reservations/:uuid/host-cancel", r.HostCancel)
}
