// README: Rider handlers: active-order swap and presence.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"grocer/internal/auth"
	"grocer/internal/http/middleware"
	"grocer/internal/modules/assignment"
	"grocer/internal/types"
)

// PresenceDirectory is the mutable slice of the presence store the handlers
// need. assignment.PresenceStore satisfies it.
type PresenceDirectory interface {
	SetActive(ctx context.Context, riderID types.ID, active bool) error
	Block(ctx context.Context, riderID types.ID) error
	Unblock(ctx context.Context, riderID types.ID) error
}

type RiderHandler struct {
	assignment *assignment.Service
	presence   PresenceDirectory
}

func NewRiderHandler(svc *assignment.Service, presence PresenceDirectory) *RiderHandler {
	return &RiderHandler{assignment: svc, presence: presence}
}

type makeActiveReq struct {
	OrderID string `json:"order_id"`
}

// MakeActive swaps the rider's active delivery slot to the given order.
func (h *RiderHandler) MakeActive(c *gin.Context) {
	actor, ok := middleware.CallerActor(c)
	if !ok || actor.Role != auth.RoleRider {
		writeError(c, http.StatusForbidden, "rider role required")
		return
	}
	var req makeActiveReq
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID == "" {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}

	res, err := h.assignment.MakeActive(c.Request.Context(), actor.ID, types.ID(req.OrderID))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	resp := gin.H{"active": toOrderDTO(res.Active), "no_op": res.NoOp}
	if res.Demoted != nil {
		resp["demoted"] = toOrderDTO(res.Demoted)
	}
	writeJSON(c, http.StatusOK, resp)
}

type presenceReq struct {
	Active bool `json:"active"`
}

func (h *RiderHandler) SetPresence(c *gin.Context) {
	actor, ok := middleware.CallerActor(c)
	if !ok || actor.Role != auth.RoleRider {
		writeError(c, http.StatusForbidden, "rider role required")
		return
	}
	var req presenceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.presence.SetActive(c.Request.Context(), actor.ID, req.Active); err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"active": req.Active})
}
