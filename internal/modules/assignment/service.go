// README: Assignment coordinator; owns the single-active-order invariant and the swap saga.
package assignment

import (
	"context"
	"fmt"
	"log/slog"

	"grocer/internal/auth"
	"grocer/internal/modules/order"
	"grocer/internal/types"
)

// ErrSwapConflict reports a swap that failed after partial progress and could
// not be rolled back. The caller must refresh and re-check state; the system
// favors a visible inconsistency over a silent double-active slot.
var ErrSwapConflict = fmt.Errorf("%w: active-order swap left partial state, refresh and re-check", order.ErrConflict)

// Gateway is the slice of the mutation gateway the coordinator needs.
type Gateway interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	ActiveForRider(ctx context.Context, riderID types.ID) (*order.Order, error)
	RequestTransition(ctx context.Context, cmd order.TransitionCommand) (*order.Order, error)
	AssignRider(ctx context.Context, cmd order.AssignRiderCommand) (*order.Order, error)
}

type Service struct {
	gateway      Gateway
	presence     Presence
	logger       *slog.Logger
	refreshRider func(types.ID)
}

func NewService(gateway Gateway, presence Presence, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gateway: gateway, presence: presence, logger: logger}
}

// SetRiderRefreshHook attaches a full-view refresh for a rider, fired after
// every swap outcome. Optional.
func (s *Service) SetRiderRefreshHook(f func(types.ID)) { s.refreshRider = f }

// SwapResult reports the outcome of MakeActive.
type SwapResult struct {
	Active  *order.Order
	Demoted *order.Order
	NoOp    bool
}

// swapStep enumerates the saga's states. The swap is two independent writes;
// modeling the steps explicitly keeps the compensation path auditable.
type swapStep int

const (
	stepDemote swapStep = iota
	stepPromote
	stepCompensate
)

// MakeActive makes targetOrderID the rider's single outForDelivery order,
// demoting the current active order first when one exists. A conflict on any
// step aborts the saga; it is never silently retried here.
func (s *Service) MakeActive(ctx context.Context, riderID, targetOrderID types.ID) (res *SwapResult, err error) {
	defer func() {
		if s.refreshRider != nil {
			s.refreshRider(riderID)
		}
	}()

	coord := auth.Actor{ID: riderID, Role: auth.RoleCoordinator}

	target, err := s.gateway.Get(ctx, targetOrderID)
	if err != nil {
		return nil, err
	}
	if target.AssignedRiderID == nil || *target.AssignedRiderID != riderID {
		return nil, order.ErrForbidden
	}

	current, err := s.gateway.ActiveForRider(ctx, riderID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.ID == targetOrderID {
		return &SwapResult{Active: current, NoOp: true}, nil
	}

	step := stepPromote
	if current != nil {
		step = stepDemote
	}

	var demoted *order.Order
	var promoteErr error
	for {
		switch step {
		case stepDemote:
			demoted, err = s.gateway.RequestTransition(ctx, order.TransitionCommand{
				OrderID:       current.ID,
				Next:          order.StatusConfirmed,
				Actor:         coord,
				ExpectedToken: current.FreshnessToken,
				SagaStep:      "swap.demote",
			})
			if err != nil {
				return nil, err
			}
			step = stepPromote

		case stepPromote:
			// Re-read the target: its token may have moved since lookup.
			fresh, gerr := s.gateway.Get(ctx, targetOrderID)
			if gerr != nil {
				promoteErr = gerr
			} else {
				var active *order.Order
				active, promoteErr = s.gateway.RequestTransition(ctx, order.TransitionCommand{
					OrderID:       targetOrderID,
					Next:          order.StatusOutForDelivery,
					Actor:         coord,
					ExpectedToken: fresh.FreshnessToken,
					SagaStep:      "swap.promote",
				})
				if promoteErr == nil {
					return &SwapResult{Active: active, Demoted: demoted}, nil
				}
			}
			if demoted == nil {
				return nil, promoteErr
			}
			step = stepCompensate

		case stepCompensate:
			// Best-effort rollback: re-promote the order we demoted.
			cur, gerr := s.gateway.Get(ctx, current.ID)
			if gerr != nil {
				s.logger.Error("swap compensation failed", "rider_id", riderID, "order_id", current.ID, "error", gerr)
				return nil, ErrSwapConflict
			}
			if _, cerr := s.gateway.RequestTransition(ctx, order.TransitionCommand{
				OrderID:       current.ID,
				Next:          order.StatusOutForDelivery,
				Actor:         coord,
				ExpectedToken: cur.FreshnessToken,
				SagaStep:      "swap.compensate",
			}); cerr != nil {
				s.logger.Error("swap compensation failed", "rider_id", riderID, "order_id", current.ID, "error", cerr)
				return nil, ErrSwapConflict
			}
			// State restored; the promote failure still surfaces.
			return nil, promoteErr
		}
	}
}

// Assign routes an admin rider assignment through the presence checks:
// inactive or blocked riders are rejected before the store is touched.
func (s *Service) Assign(ctx context.Context, cmd order.AssignRiderCommand) (*order.Order, error) {
	active, err := s.presence.IsActive(ctx, cmd.RiderID)
	if err != nil {
		return nil, err
	}
	blocked, err := s.presence.IsBlocked(ctx, cmd.RiderID)
	if err != nil {
		return nil, err
	}
	if !active || blocked {
		return nil, order.ErrPreconditionFailed
	}
	return s.gateway.AssignRider(ctx, cmd)
}
