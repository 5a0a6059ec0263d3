// README: Order aggregate, status definitions, and the transition table.
package order

import (
	"fmt"
	"hash/fnv"
	"time"

	"grocer/internal/types"
)

type Status string

const (
	StatusNone           Status = "none"
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusOutForDelivery Status = "outForDelivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// AllStatuses lists every order status, in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusConfirmed, StatusOutForDelivery, StatusDelivered, StatusCancelled}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
)

type Customer struct {
	Name    string
	Phone   string
	Address string
}

type Item struct {
	ProductID types.ID
	Name      string
	Quantity  int
	UnitPrice types.Money
}

func (i Item) LineTotal() types.Money {
	return types.Money{Amount: int64(i.Quantity) * i.UnitPrice.Amount, Currency: i.UnitPrice.Currency}
}

// DeliverySlot is the requested delivery window. Advisory only: dispatch uses
// it for urgency ranking, the state machine never reads it.
type DeliverySlot struct {
	From time.Time
	To   time.Time
}

type Order struct {
	ID              types.ID
	CustomerID      types.ID
	Customer        Customer
	Items           []Item
	Status          Status
	StatusVersion   int
	AssignedRiderID *types.ID
	DeliverySlot    DeliverySlot
	PaymentMethod   PaymentMethod
	// PaymentCollectedMethod is set exactly once, at the delivered transition.
	PaymentCollectedMethod *PaymentMethod
	TotalAmount            types.Money
	CancelReason           *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
	FreshnessToken         string
}

// Total sums the line totals. The stored TotalAmount is frozen when the order
// leaves pending; this recomputes from items.
func Total(items []Item) types.Money {
	var total types.Money
	for _, it := range items {
		lt := it.LineTotal()
		total.Amount += lt.Amount
		if total.Currency == "" {
			total.Currency = lt.Currency
		}
	}
	return total
}

type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	ActorRole  string
	ActorID    *types.ID
	SagaStep   string
	CreatedAt  time.Time
}

// AllowedTransitions represents the order status flow as code. The demote
// edge (outForDelivery -> confirmed) is deliberately absent: it exists only
// inside the active-order swap and is granted to the coordinator in Validate.
var AllowedTransitions = map[Status][]Status{
	StatusPending:        {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusOutForDelivery, StatusCancelled},
	StatusOutForDelivery: {StatusDelivered},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// NewFreshnessToken derives the conditional-read token for an order revision.
// Opaque to clients; only equality matters.
func NewFreshnessToken(id types.ID, version int, updatedAt time.Time) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d:%d", id, version, updatedAt.UnixNano())
	return fmt.Sprintf("%016x", h.Sum64())
}
