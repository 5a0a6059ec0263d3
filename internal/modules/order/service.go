// README: Status mutation gateway; every transition request funnels through here.
package order

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"grocer/internal/auth"
	"grocer/internal/config"
	"grocer/internal/types"
)

// TransitionEvent is the message published after a committed transition.
type TransitionEvent struct {
	OrderID   types.ID  `json:"order_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ActorRole string    `json:"actor_role"`
	ActorID   string    `json:"actor_id,omitempty"`
	SagaStep  string    `json:"saga_step,omitempty"`
	At        time.Time `json:"at"`
}

type EventPublisher interface {
	PublishTransition(ctx context.Context, ev TransitionEvent) error
}

type Service struct {
	store     Store
	publisher EventPublisher
	refresh   func(types.ID)
	logger    *slog.Logger
	maxQty    int
}

func NewService(store Store, cfg config.OrderConfig, logger *slog.Logger) *Service {
	maxQty := cfg.MaxQtyPerLine
	if maxQty <= 0 {
		maxQty = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, maxQty: maxQty}
}

// SetPublisher attaches the transition-event publisher. Optional.
func (s *Service) SetPublisher(p EventPublisher) { s.publisher = p }

// SetRefreshHook attaches the reconciler's targeted-refresh callback. Optional.
func (s *Service) SetRefreshHook(f func(types.ID)) { s.refresh = f }

type CreateCommand struct {
	CustomerID    types.ID
	Customer      Customer
	Items         []Item
	DeliverySlot  DeliverySlot
	PaymentMethod PaymentMethod
}

type TransitionCommand struct {
	OrderID          types.ID
	Next             Status
	Actor            auth.Actor
	ExpectedToken    string
	PaymentCollected *PaymentMethod
	CancelReason     *string
	// SagaStep tags audit events emitted by the assignment swap. Internal;
	// the HTTP layer never sets it.
	SagaStep string
}

type AssignRiderCommand struct {
	OrderID       types.ID
	RiderID       types.ID
	Actor         auth.Actor
	ExpectedToken string
}

// Create places a new pending order from a checkout submission.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if cmd.CustomerID == "" || cmd.Customer.Name == "" || cmd.Customer.Address == "" {
		return nil, ErrBadRequest
	}
	if len(cmd.Items) == 0 {
		return nil, ErrBadRequest
	}
	for _, it := range cmd.Items {
		if it.Quantity < 1 || it.Quantity > s.maxQty || it.UnitPrice.Amount < 0 {
			return nil, ErrBadRequest
		}
	}
	if cmd.PaymentMethod != PaymentCash && cmd.PaymentMethod != PaymentCard {
		return nil, ErrBadRequest
	}

	now := time.Now().UTC()
	id := types.ID(uuid.NewString())
	o := &Order{
		ID:             id,
		CustomerID:     cmd.CustomerID,
		Customer:       cmd.Customer,
		Items:          cmd.Items,
		Status:         StatusPending,
		StatusVersion:  0,
		DeliverySlot:   cmd.DeliverySlot,
		PaymentMethod:  cmd.PaymentMethod,
		TotalAmount:    Total(cmd.Items),
		CreatedAt:      now,
		UpdatedAt:      now,
		FreshnessToken: NewFreshnessToken(id, 0, now),
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    id,
		FromStatus: StatusNone,
		ToStatus:   StatusPending,
		ActorRole:  string(auth.RoleCustomer),
		ActorID:    &cmd.CustomerID,
		CreatedAt:  now,
	})
	s.publish(ctx, TransitionEvent{
		OrderID: id, From: StatusNone, To: StatusPending,
		ActorRole: string(auth.RoleCustomer), ActorID: string(cmd.CustomerID), At: now,
	})
	return o, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}

// GetIfChanged performs a conditional read. When the caller's token still
// matches it returns (nil, false, nil), the NotModified case.
func (s *Service) GetIfChanged(ctx context.Context, id types.ID, token string) (*Order, bool, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if token != "" && o.FreshnessToken == token {
		return nil, false, nil
	}
	return o, true, nil
}

// ListIfChanged performs a conditional list fetch. The collection token is
// derived from the member tokens, so any member change invalidates it.
func (s *Service) ListIfChanged(ctx context.Context, f Filter, token string) ([]Order, string, bool, error) {
	orders, err := s.store.List(ctx, f)
	if err != nil {
		return nil, "", false, err
	}
	current := CollectionToken(orders)
	if token != "" && token == current {
		return nil, current, false, nil
	}
	return orders, current, true, nil
}

// ActiveForRider exposes the rider's current outForDelivery order, or nil.
func (s *Service) ActiveForRider(ctx context.Context, riderID types.ID) (*Order, error) {
	return s.store.ActiveForRider(ctx, riderID)
}

// RequestTransition validates and conditionally commits a status transition.
// The store's token check is the only ordering guarantee: the first writer
// with a valid token wins, the loser gets ErrConflict.
func (s *Service) RequestTransition(ctx context.Context, cmd TransitionCommand) (*Order, error) {
	if cmd.ExpectedToken == "" {
		return nil, ErrBadRequest
	}
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}

	// Re-issuing an already-applied transition with the current token is a
	// no-op success, not a duplicate side effect.
	if o.Status == cmd.Next && o.FreshnessToken == cmd.ExpectedToken {
		if !involved(o, cmd.Actor) {
			return nil, ErrForbidden
		}
		return o, nil
	}

	if err := Validate(o, cmd.Actor, cmd.Next); err != nil {
		return nil, err
	}
	if cmd.Next == StatusDelivered && cmd.PaymentCollected == nil {
		return nil, ErrPreconditionFailed
	}
	if cmd.Next == StatusOutForDelivery {
		active, err := s.store.ActiveForRider(ctx, *o.AssignedRiderID)
		if err != nil {
			return nil, err
		}
		if active != nil && active.ID != o.ID {
			return nil, ErrPreconditionFailed
		}
	}

	now := time.Now().UTC()
	newToken := NewFreshnessToken(o.ID, o.StatusVersion+1, now)
	ok, err := s.store.UpdateStatus(ctx, o.ID, StatusUpdate{
		From:             o.Status,
		To:               cmd.Next,
		ExpectToken:      cmd.ExpectedToken,
		NewToken:         newToken,
		UpdatedAt:        now,
		PaymentCollected: cmd.PaymentCollected,
		CancelReason:     cmd.CancelReason,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	actorID := cmd.Actor.ID
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   cmd.Next,
		ActorRole:  string(cmd.Actor.Role),
		ActorID:    &actorID,
		SagaStep:   cmd.SagaStep,
		CreatedAt:  now,
	})
	s.publish(ctx, TransitionEvent{
		OrderID: o.ID, From: o.Status, To: cmd.Next,
		ActorRole: string(cmd.Actor.Role), ActorID: string(cmd.Actor.ID),
		SagaStep: cmd.SagaStep, At: now,
	})
	if s.refresh != nil {
		s.refresh(o.ID)
	}
	return s.store.Get(ctx, o.ID)
}

// RequestTransitionRetry retries a single-step transition once after a silent
// re-fetch. Safe only for idempotent re-issues (re-clicking "advance"); the
// swap saga never uses it.
func (s *Service) RequestTransitionRetry(ctx context.Context, cmd TransitionCommand) (*Order, error) {
	o, err := s.RequestTransition(ctx, cmd)
	if !errors.Is(err, ErrConflict) {
		return o, err
	}
	fresh, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if fresh.Status == cmd.Next {
		return fresh, nil
	}
	cmd.ExpectedToken = fresh.FreshnessToken
	return s.RequestTransition(ctx, cmd)
}

// AssignRider sets or reassigns the order's rider. Admin only; assignment is
// independent of confirmation and never changes the status.
func (s *Service) AssignRider(ctx context.Context, cmd AssignRiderCommand) (*Order, error) {
	if cmd.Actor.Role != auth.RoleAdmin {
		return nil, ErrForbidden
	}
	if cmd.ExpectedToken == "" {
		return nil, ErrBadRequest
	}
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending && o.Status != StatusConfirmed {
		return nil, ErrPreconditionFailed
	}

	now := time.Now().UTC()
	newToken := NewFreshnessToken(o.ID, o.StatusVersion+1, now)
	ok, err := s.store.SetRider(ctx, o.ID, cmd.RiderID, cmd.ExpectedToken, newToken, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	actorID := cmd.Actor.ID
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   o.Status,
		ActorRole:  string(cmd.Actor.Role),
		ActorID:    &actorID,
		SagaStep:   "assign",
		CreatedAt:  now,
	})
	if s.refresh != nil {
		s.refresh(o.ID)
	}
	return s.store.Get(ctx, o.ID)
}

func involved(o *Order, actor auth.Actor) bool {
	switch actor.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleCustomer:
		return o.CustomerID == actor.ID
	case auth.RoleRider, auth.RoleCoordinator:
		return o.AssignedRiderID != nil && *o.AssignedRiderID == actor.ID
	}
	return false
}

func (s *Service) publish(ctx context.Context, ev TransitionEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTransition(ctx, ev); err != nil {
		s.logger.Warn("publish transition event", "order_id", ev.OrderID, "error", err)
	}
}

// CollectionToken derives a freshness token for a list of orders.
func CollectionToken(orders []Order) string {
	ids := make([]int, len(orders))
	for i := range ids {
		ids[i] = i
	}
	sort.Slice(ids, func(a, b int) bool { return orders[ids[a]].ID < orders[ids[b]].ID })
	h := fnv.New64a()
	for _, i := range ids {
		fmt.Fprintf(h, "%s:%s;", orders[i].ID, orders[i].FreshnessToken)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
