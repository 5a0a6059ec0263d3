// README: Concurrency tests for the token-guarded status writes.
package order

import (
	"context"
	"errors"
	"sync"
	"testing"

	"grocer/internal/config"
	"grocer/internal/types"
)

// TestConcurrentAdvanceVsCancel races a rider advancing an order against an
// admin cancelling it with the same snapshot token. Exactly one side wins;
// the loser sees ErrConflict (write lost) or ErrInvalidTransition (validated
// against the committed state).
func TestConcurrentAdvanceVsCancel(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	o := confirmAndAssign(t, svc, placeOrder(t, svc))
	token := o.FreshnessToken

	var wg sync.WaitGroup
	errs := make([]error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = svc.RequestTransition(ctx, TransitionCommand{
			OrderID: o.ID, Next: StatusOutForDelivery, Actor: rider, ExpectedToken: token,
		})
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = svc.RequestTransition(ctx, TransitionCommand{
			OrderID: o.ID, Next: StatusCancelled, Actor: admin, ExpectedToken: token,
		})
	}()
	wg.Wait()

	var wins int
	for i, err := range errs {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("racer %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("got %d winners, want exactly 1", wins)
	}

	final, err := svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if final.Status != StatusOutForDelivery && final.Status != StatusCancelled {
		t.Fatalf("final status = %s", final.Status)
	}
	if final.StatusVersion != o.StatusVersion+1 {
		t.Fatalf("version = %d, want %d", final.StatusVersion, o.StatusVersion+1)
	}
}

// TestConcurrentSameTransition fires N identical confirm requests sharing one
// stale snapshot. One commits, the rest fail closed; the version moves by one.
func TestConcurrentSameTransition(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	o := placeOrder(t, svc)
	token := o.FreshnessToken

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RequestTransition(ctx, TransitionCommand{
				OrderID: o.ID, Next: StatusConfirmed, Actor: admin, ExpectedToken: token,
			})
		}(i)
	}
	wg.Wait()

	var wins int
	for i, err := range errs {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("racer %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("got %d winners, want exactly 1", wins)
	}

	final, err := svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if final.Status != StatusConfirmed || final.StatusVersion != 1 {
		t.Fatalf("final = %s v%d, want confirmed v1", final.Status, final.StatusVersion)
	}

	// Exactly two audit rows: the create and the single committed confirm.
	if got := len(store.Events(o.ID)); got != 2 {
		t.Fatalf("audit events = %d, want 2", got)
	}
}

// blindActiveStore reports no active order regardless of store state,
// simulating two promoters that both pass the gateway's pre-check before
// either one writes.
type blindActiveStore struct {
	Store
}

func (s blindActiveStore) ActiveForRider(context.Context, types.ID) (*Order, error) {
	return nil, nil
}

// TestConcurrentPromotionsSingleActive: promoting two different orders of the
// same rider must not yield two active orders even when the pre-check is
// stale for both writers. The store's critical section is the backstop.
func TestConcurrentPromotionsSingleActive(t *testing.T) {
	store := NewMemStore()
	svc := NewService(blindActiveStore{store}, config.OrderConfig{MaxQtyPerLine: 20}, nil)
	ctx := context.Background()

	first := confirmAndAssign(t, svc, placeOrder(t, svc))
	second := confirmAndAssign(t, svc, placeOrder(t, svc))

	if _, err := svc.RequestTransition(ctx, TransitionCommand{
		OrderID: first.ID, Next: StatusOutForDelivery, Actor: rider, ExpectedToken: first.FreshnessToken,
	}); err != nil {
		t.Fatalf("first promotion: %v", err)
	}

	_, err := svc.RequestTransition(ctx, TransitionCommand{
		OrderID: second.ID, Next: StatusOutForDelivery, Actor: rider, ExpectedToken: second.FreshnessToken,
	})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("second promotion = %v, want ErrPreconditionFailed", err)
	}

	active, err := store.ActiveForRider(ctx, rider.ID)
	if err != nil {
		t.Fatalf("active for rider: %v", err)
	}
	if active == nil || active.ID != first.ID {
		t.Fatal("expected exactly the first order active")
	}
	if got, _ := store.Get(ctx, second.ID); got.Status != StatusConfirmed {
		t.Fatalf("second order status = %s, want confirmed", got.Status)
	}
}
