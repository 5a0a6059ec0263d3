// README: Shared handler utilities (JSON helpers, error mapping, DTOs).
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"grocer/internal/modules/order"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, order.ErrPreconditionFailed):
		writeError(c, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, order.ErrConflict), errors.Is(err, order.ErrInvalidTransition):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

type moneyDTO struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type itemDTO struct {
	ProductID string   `json:"product_id"`
	Name      string   `json:"name"`
	Quantity  int      `json:"quantity"`
	UnitPrice moneyDTO `json:"unit_price"`
	LineTotal moneyDTO `json:"line_total"`
}

type customerDTO struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type slotDTO struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type orderDTO struct {
	ID                     string      `json:"id"`
	CustomerID             string      `json:"customer_id"`
	Customer               customerDTO `json:"customer"`
	Items                  []itemDTO   `json:"items"`
	Status                 string      `json:"status"`
	AssignedRiderID        *string     `json:"assigned_rider_id,omitempty"`
	DeliverySlot           slotDTO     `json:"delivery_slot"`
	PaymentMethod          string      `json:"payment_method"`
	PaymentCollectedMethod *string     `json:"payment_collected_method,omitempty"`
	TotalAmount            moneyDTO    `json:"total_amount"`
	CancelReason           *string     `json:"cancel_reason,omitempty"`
	CreatedAt              time.Time   `json:"created_at"`
	UpdatedAt              time.Time   `json:"updated_at"`
	FreshnessToken         string      `json:"freshness_token"`
}

func toOrderDTO(o *order.Order) orderDTO {
	dto := orderDTO{
		ID:         string(o.ID),
		CustomerID: string(o.CustomerID),
		Customer: customerDTO{
			Name:    o.Customer.Name,
			Phone:   o.Customer.Phone,
			Address: o.Customer.Address,
		},
		Status:         string(o.Status),
		DeliverySlot:   slotDTO{From: o.DeliverySlot.From, To: o.DeliverySlot.To},
		PaymentMethod:  string(o.PaymentMethod),
		TotalAmount:    moneyDTO{Amount: o.TotalAmount.Amount, Currency: o.TotalAmount.Currency},
		CancelReason:   o.CancelReason,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		FreshnessToken: o.FreshnessToken,
	}
	if o.AssignedRiderID != nil {
		s := string(*o.AssignedRiderID)
		dto.AssignedRiderID = &s
	}
	if o.PaymentCollectedMethod != nil {
		s := string(*o.PaymentCollectedMethod)
		dto.PaymentCollectedMethod = &s
	}
	for _, it := range o.Items {
		lt := it.LineTotal()
		dto.Items = append(dto.Items, itemDTO{
			ProductID: string(it.ProductID),
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: moneyDTO{Amount: it.UnitPrice.Amount, Currency: it.UnitPrice.Currency},
			LineTotal: moneyDTO{Amount: lt.Amount, Currency: lt.Currency},
		})
	}
	return dto
}
