// README: In-memory order store; mirrors the PG store's conditional-write semantics.
package order

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"grocer/internal/types"
)

// MemStore keeps orders in a mutex-guarded map. It backs DSN-less local runs
// and the service/saga tests; the token checks behave exactly like the SQL
// conditional updates.
type MemStore struct {
	mu     sync.Mutex
	orders map[types.ID]*Order
	events []Event
	nextEv int64
}

func NewMemStore() *MemStore {
	return &MemStore{orders: make(map[types.ID]*Order)}
}

func (s *MemStore) Create(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneOrder(o)
	s.orders[o.ID] = cp
	return nil
}

func (s *MemStore) Get(_ context.Context, id types.ID) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemStore) List(_ context.Context, f Filter) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.orders {
		if f.RiderID != nil && (o.AssignedRiderID == nil || *o.AssignedRiderID != *f.RiderID) {
			continue
		}
		if f.CustomerID != nil && o.CustomerID != *f.CustomerID {
			continue
		}
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		if f.Search != "" {
			q := strings.ToLower(f.Search)
			if !strings.Contains(strings.ToLower(o.Customer.Name), q) &&
				!strings.Contains(strings.ToLower(o.Customer.Phone), q) {
				continue
			}
		}
		out = append(out, *cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) UpdateStatus(_ context.Context, id types.ID, u StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, nil
	}
	if o.Status != u.From || o.FreshnessToken != u.ExpectToken {
		return false, nil
	}
	// Same guard the partial unique index gives the SQL store: a rider never
	// commits a second outForDelivery order, even when two writers raced past
	// the gateway's pre-check.
	if u.To == StatusOutForDelivery && o.AssignedRiderID != nil {
		for _, other := range s.orders {
			if other.ID != o.ID && other.Status == StatusOutForDelivery &&
				other.AssignedRiderID != nil && *other.AssignedRiderID == *o.AssignedRiderID {
				return false, ErrPreconditionFailed
			}
		}
	}
	o.Status = u.To
	o.StatusVersion++
	if u.PaymentCollected != nil {
		p := *u.PaymentCollected
		o.PaymentCollectedMethod = &p
	}
	if u.CancelReason != nil {
		r := *u.CancelReason
		o.CancelReason = &r
	}
	o.UpdatedAt = u.UpdatedAt
	o.FreshnessToken = u.NewToken
	return true, nil
}

func (s *MemStore) SetRider(_ context.Context, id types.ID, riderID types.ID, expectToken, newToken string, updatedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, nil
	}
	if o.FreshnessToken != expectToken {
		return false, nil
	}
	if o.Status != StatusPending && o.Status != StatusConfirmed {
		return false, nil
	}
	r := riderID
	o.AssignedRiderID = &r
	o.StatusVersion++
	o.UpdatedAt = updatedAt
	o.FreshnessToken = newToken
	return true, nil
}

func (s *MemStore) ActiveForRider(_ context.Context, riderID types.ID) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.Status == StatusOutForDelivery && o.AssignedRiderID != nil && *o.AssignedRiderID == riderID {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (s *MemStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEv++
	cp := *e
	cp.ID = s.nextEv
	s.events = append(s.events, cp)
	return nil
}

// Events returns a copy of the audit trail for an order, oldest first.
func (s *MemStore) Events(orderID types.ID) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out
}

func cloneOrder(o *Order) *Order {
	cp := *o
	if o.AssignedRiderID != nil {
		r := *o.AssignedRiderID
		cp.AssignedRiderID = &r
	}
	if o.PaymentCollectedMethod != nil {
		p := *o.PaymentCollectedMethod
		cp.PaymentCollectedMethod = &p
	}
	if o.CancelReason != nil {
		r := *o.CancelReason
		cp.CancelReason = &r
	}
	cp.Items = append([]Item(nil), o.Items...)
	return &cp
}
