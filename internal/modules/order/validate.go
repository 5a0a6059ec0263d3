// README: Transition validator; encodes who may move an order where.
package order

import (
	"errors"

	"grocer/internal/auth"
)

var (
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrForbidden          = errors.New("actor may not perform this transition")
	ErrPreconditionFailed = errors.New("transition precondition failed")
	ErrConflict           = errors.New("order was modified concurrently")
	ErrNotFound           = errors.New("order not found")
	ErrBadRequest         = errors.New("bad request")
)

// Validate checks the transition graph and the actor's permission to move the
// order to next. Preconditions that need store state (single active order per
// rider, collected payment on delivery) are checked by the gateway, not here.
func Validate(o *Order, actor auth.Actor, next Status) error {
	demote := o.Status == StatusOutForDelivery && next == StatusConfirmed
	if !CanTransition(o.Status, next) {
		// The demote edge exists only for the swap coordinator.
		if !(demote && actor.Role == auth.RoleCoordinator) {
			return ErrInvalidTransition
		}
	}

	switch actor.Role {
	case auth.RoleAdmin:
		// Admin acts on dispatch (confirm, cancel), never on delivery mechanics.
		if next != StatusConfirmed && next != StatusCancelled {
			return ErrForbidden
		}
		return nil

	case auth.RoleRider:
		if o.AssignedRiderID == nil || *o.AssignedRiderID != actor.ID {
			return ErrForbidden
		}
		if next != StatusOutForDelivery && next != StatusDelivered {
			return ErrForbidden
		}
		return nil

	case auth.RoleCustomer:
		if o.CustomerID != actor.ID {
			return ErrForbidden
		}
		// Once confirmed, cancellation goes through support; reject, don't allow.
		if next != StatusCancelled || o.Status != StatusPending {
			return ErrForbidden
		}
		return nil

	case auth.RoleCoordinator:
		// The coordinator moves orders on behalf of the rider whose slot it
		// manages; it only ever promotes or demotes that rider's orders.
		if o.AssignedRiderID == nil || *o.AssignedRiderID != actor.ID {
			return ErrForbidden
		}
		if next != StatusOutForDelivery && !demote {
			return ErrForbidden
		}
		return nil
	}
	return ErrForbidden
}
