// README: Order handlers: checkout, conditional reads, and the status gateway endpoint.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"grocer/internal/auth"
	"grocer/internal/http/middleware"
	"grocer/internal/modules/order"
	"grocer/internal/types"
)

type OrderHandler struct {
	order *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{order: svc}
}

type createOrderReq struct {
	Customer struct {
		Name    string `json:"name"`
		Phone   string `json:"phone"`
		Address string `json:"address"`
	} `json:"customer"`
	Items []struct {
		ProductID string `json:"product_id"`
		Name      string `json:"name"`
		Quantity  int    `json:"quantity"`
		UnitPrice int64  `json:"unit_price"`
		Currency  string `json:"currency"`
	} `json:"items"`
	SlotFrom      time.Time `json:"slot_from"`
	SlotTo        time.Time `json:"slot_to"`
	PaymentMethod string    `json:"payment_method"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	actor, ok := middleware.CallerActor(c)
	if !ok || actor.Role != auth.RoleCustomer {
		writeError(c, http.StatusForbidden, "customer role required")
		return
	}
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	items := make([]order.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, order.Item{
			ProductID: types.ID(it.ProductID),
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: types.Money{Amount: it.UnitPrice, Currency: it.Currency},
		})
	}
	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		CustomerID: actor.ID,
		Customer: order.Customer{
			Name:    req.Customer.Name,
			Phone:   req.Customer.Phone,
			Address: req.Customer.Address,
		},
		Items:         items,
		DeliverySlot:  order.DeliverySlot{From: req.SlotFrom, To: req.SlotTo},
		PaymentMethod: order.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	c.Header("ETag", o.FreshnessToken)
	writeJSON(c, http.StatusCreated, toOrderDTO(o))
}

// Get serves a conditional single fetch: If-None-Match carries the caller's
// freshness token and a match yields 304 with no body.
func (h *OrderHandler) Get(c *gin.Context) {
	actor, ok := middleware.CallerActor(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	id := types.ID(c.Param("id"))
	token := c.GetHeader("If-None-Match")

	// Ownership is settled before the conditional answer: a foreign caller
	// never learns whether a token is still current.
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	if !canSee(actor, o) {
		writeError(c, http.StatusForbidden, "not your order")
		return
	}
	if token != "" && token == o.FreshnessToken {
		c.Status(http.StatusNotModified)
		return
	}
	c.Header("ETag", o.FreshnessToken)
	writeJSON(c, http.StatusOK, toOrderDTO(o))
}

type listResponse struct {
	Orders         []orderDTO `json:"orders"`
	FreshnessToken string     `json:"freshness_token"`
}

// List serves a conditional, filtered list fetch. Riders are always scoped to
// their own assignments regardless of the requested filter.
func (h *OrderHandler) List(c *gin.Context) {
	actor, ok := middleware.CallerActor(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var f order.Filter
	if v := c.Query("status"); v != "" {
		st := order.Status(v)
		f.Status = &st
	}
	f.Search = c.Query("search")

	switch actor.Role {
	case auth.RoleAdmin:
		if v := c.Query("rider_id"); v != "" {
			id := types.ID(v)
			f.RiderID = &id
		}
	case auth.RoleRider:
		id := actor.ID
		f.RiderID = &id
	case auth.RoleCustomer:
		id := actor.ID
		f.CustomerID = &id
	default:
		writeError(c, http.StatusForbidden, "unknown role")
		return
	}

	token := c.GetHeader("If-None-Match")
	orders, newToken, modified, err := h.order.ListIfChanged(c.Request.Context(), f, token)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	if !modified {
		c.Status(http.StatusNotModified)
		return
	}
	resp := listResponse{Orders: make([]orderDTO, 0, len(orders)), FreshnessToken: newToken}
	for i := range orders {
		resp.Orders = append(resp.Orders, toOrderDTO(&orders[i]))
	}
	c.Header("ETag", newToken)
	writeJSON(c, http.StatusOK, resp)
}

type updateStatusReq struct {
	Status                 string  `json:"status"`
	PaymentCollectedMethod *string `json:"payment_collected_method"`
	CancelReason           *string `json:"cancel_reason"`
	ExpectedToken          string  `json:"expected_token"`
}

// UpdateStatus is the single choke point for status mutations. Rider advances
// are retried once after a silent re-fetch on conflict; everything else
// surfaces the conflict to the caller.
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	actor, ok := middleware.CallerActor(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}

	cmd := order.TransitionCommand{
		OrderID:       types.ID(c.Param("id")),
		Next:          order.Status(req.Status),
		Actor:         actor,
		ExpectedToken: req.ExpectedToken,
		CancelReason:  req.CancelReason,
	}
	if req.PaymentCollectedMethod != nil {
		p := order.PaymentMethod(*req.PaymentCollectedMethod)
		cmd.PaymentCollected = &p
	}

	var (
		o   *order.Order
		err error
	)
	if actor.Role == auth.RoleRider {
		o, err = h.order.RequestTransitionRetry(c.Request.Context(), cmd)
	} else {
		o, err = h.order.RequestTransition(c.Request.Context(), cmd)
	}
	if err != nil {
		writeOrderError(c, err)
		return
	}
	c.Header("ETag", o.FreshnessToken)
	writeJSON(c, http.StatusOK, toOrderDTO(o))
}

func canSee(actor auth.Actor, o *order.Order) bool {
	switch actor.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleCustomer:
		return o.CustomerID == actor.ID
	case auth.RoleRider:
		return o.AssignedRiderID != nil && *o.AssignedRiderID == actor.ID
	}
	return false
}
