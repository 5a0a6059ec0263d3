// README: Order store contract; the data layer is the sole transition arbiter.
package order

import (
	"context"
	"time"

	"grocer/internal/types"
)

// Filter narrows List results. Zero values mean "any".
type Filter struct {
	RiderID    *types.ID
	CustomerID *types.ID
	Status     *Status
	// Search matches a substring of the customer name or phone.
	Search string
}

// StatusUpdate carries the fields a committed transition writes alongside the
// new status. The store applies it only when the expected freshness token
// still matches (optimistic concurrency; losers see no rows updated).
type StatusUpdate struct {
	From             Status
	To               Status
	ExpectToken      string
	NewToken         string
	UpdatedAt        time.Time
	PaymentCollected *PaymentMethod
	CancelReason     *string
}

// Store is the durable order record. Implementations must make UpdateStatus
// and SetRider atomic per order: exactly one writer with a valid token wins.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	List(ctx context.Context, f Filter) ([]Order, error)

	// UpdateStatus conditionally commits a transition. Returns false without
	// error when the token no longer matches (the caller maps this to ErrConflict).
	UpdateStatus(ctx context.Context, id types.ID, u StatusUpdate) (bool, error)

	// SetRider conditionally assigns a rider while the order is pending or
	// confirmed. Assignment is independent of confirmation.
	SetRider(ctx context.Context, id types.ID, riderID types.ID, expectToken, newToken string, updatedAt time.Time) (bool, error)

	// ActiveForRider returns the rider's outForDelivery order, or nil.
	ActiveForRider(ctx context.Context, riderID types.ID) (*Order, error)

	AppendEvent(ctx context.Context, e *Event) error
}
