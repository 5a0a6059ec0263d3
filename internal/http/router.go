// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"grocer/internal/http/handlers"
	"grocer/internal/http/middleware"
	"grocer/internal/modules/assignment"
	"grocer/internal/modules/dispatch"
	"grocer/internal/modules/order"
)

type RouterDeps struct {
	Order      *order.Service
	Assignment *assignment.Service
	Presence   handlers.PresenceDirectory
	Dispatch   *dispatch.Service
	JWTSecret  string
	Logger     *slog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(middleware.Logging(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(deps.JWTSecret))

	orderHandler := handlers.NewOrderHandler(deps.Order)
	api.POST("/orders", orderHandler.Create)
	api.GET("/orders", orderHandler.List)
	api.GET("/orders/:id", orderHandler.Get)
	api.PATCH("/orders/:id/status", orderHandler.UpdateStatus)

	adminHandler := handlers.NewAdminHandler(deps.Assignment, deps.Presence)
	api.PATCH("/orders/:id/rider", adminHandler.AssignRider)
	api.PUT("/riders/:id/blocked", adminHandler.BlockRider)

	dispatchHandler := handlers.NewDispatchHandler(deps.Order, deps.Dispatch)
	api.GET("/dispatch/backlog", dispatchHandler.Backlog)

	riderHandler := handlers.NewRiderHandler(deps.Assignment, deps.Presence)
	api.POST("/riders/active-order", riderHandler.MakeActive)
	api.PUT("/riders/presence", riderHandler.SetPresence)

	return r
}
