// README: Admin handlers: rider assignment and rider blocking.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"grocer/internal/auth"
	"grocer/internal/http/middleware"
	"grocer/internal/modules/assignment"
	"grocer/internal/modules/order"
	"grocer/internal/types"
)

type AdminHandler struct {
	assignment *assignment.Service
	presence   PresenceDirectory
}

func NewAdminHandler(svc *assignment.Service, presence PresenceDirectory) *AdminHandler {
	return &AdminHandler{assignment: svc, presence: presence}
}

type assignRiderReq struct {
	RiderID       string `json:"rider_id"`
	ExpectedToken string `json:"expected_token"`
}

// AssignRider dispatches an order to a rider. Assignment and confirmation are
// independent; this never changes the order's status.
func (h *AdminHandler) AssignRider(c *gin.Context) {
	actor, ok := middleware.CallerActor(c)
	if !ok || actor.Role != auth.RoleAdmin {
		writeError(c, http.StatusForbidden, "admin role required")
		return
	}
	var req assignRiderReq
	if err := c.ShouldBindJSON(&req); err != nil || req.RiderID == "" {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	o, err := h.assignment.Assign(c.Request.Context(), order.AssignRiderCommand{
		OrderID:       types.ID(c.Param("id")),
		RiderID:       types.ID(req.RiderID),
		Actor:         actor,
		ExpectedToken: req.ExpectedToken,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	c.Header("ETag", o.FreshnessToken)
	writeJSON(c, http.StatusOK, toOrderDTO(o))
}

type blockRiderReq struct {
	Blocked bool `json:"blocked"`
}

func (h *AdminHandler) BlockRider(c *gin.Context) {
	actor, ok := middleware.CallerActor(c)
	if !ok || actor.Role != auth.RoleAdmin {
		writeError(c, http.StatusForbidden, "admin role required")
		return
	}
	var req blockRiderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	riderID := types.ID(c.Param("id"))
	var err error
	if req.Blocked {
		err = h.presence.Block(c.Request.Context(), riderID)
	} else {
		err = h.presence.Unblock(c.Request.Context(), riderID)
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"blocked": req.Blocked})
}
