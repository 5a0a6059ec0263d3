// README: Admin backlog feed ranked by delivery urgency.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"grocer/internal/auth"
	"grocer/internal/http/middleware"
	"grocer/internal/modules/dispatch"
	"grocer/internal/modules/order"
)

type DispatchHandler struct {
	order    *order.Service
	dispatch *dispatch.Service
}

func NewDispatchHandler(orderSvc *order.Service, dispatchSvc *dispatch.Service) *DispatchHandler {
	return &DispatchHandler{order: orderSvc, dispatch: dispatchSvc}
}

type rankedDTO struct {
	Order         orderDTO `json:"order"`
	TravelSeconds int64    `json:"travel_seconds"`
	SlackSeconds  int64    `json:"slack_seconds"`
}

func (h *DispatchHandler) Backlog(c *gin.Context) {
	actor, ok := middleware.CallerActor(c)
	if !ok || actor.Role != auth.RoleAdmin {
		writeError(c, http.StatusForbidden, "admin role required")
		return
	}
	orders, _, _, err := h.order.ListIfChanged(c.Request.Context(), order.Filter{}, "")
	if err != nil {
		writeOrderError(c, err)
		return
	}
	ranked := h.dispatch.RankBacklog(c.Request.Context(), orders, time.Now())
	out := make([]rankedDTO, 0, len(ranked))
	for i := range ranked {
		out = append(out, rankedDTO{
			Order:         toOrderDTO(&ranked[i].Order),
			TravelSeconds: int64(ranked[i].Travel.Seconds()),
			SlackSeconds:  int64(ranked[i].Slack.Seconds()),
		})
	}
	writeJSON(c, http.StatusOK, gin.H{"backlog": out})
}
