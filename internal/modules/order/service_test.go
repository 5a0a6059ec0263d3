// README: Gateway tests against the in-memory store.
package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"grocer/internal/auth"
	"grocer/internal/config"
	"grocer/internal/types"
)

var (
	admin    = auth.Actor{ID: "a1", Role: auth.RoleAdmin}
	rider    = auth.Actor{ID: "r1", Role: auth.RoleRider}
	shopper  = auth.Actor{ID: "c1", Role: auth.RoleCustomer}
	cashPaid = PaymentCash
)

func newTestService(t *testing.T) (*Service, *MemStore) {
	t.Helper()
	store := NewMemStore()
	svc := NewService(store, config.OrderConfig{MaxQtyPerLine: 20}, nil)
	return svc, store
}

func testItems() []Item {
	return []Item{
		{ProductID: "p1", Name: "Milk 1L", Quantity: 2, UnitPrice: types.Money{Amount: 189, Currency: "EUR"}},
		{ProductID: "p2", Name: "Bread", Quantity: 1, UnitPrice: types.Money{Amount: 120, Currency: "EUR"}},
	}
}

func placeOrder(t *testing.T, svc *Service) *Order {
	t.Helper()
	o, err := svc.Create(context.Background(), CreateCommand{
		CustomerID:    shopper.ID,
		Customer:      Customer{Name: "Ada", Phone: "+3580001", Address: "Mannerheimintie 1"},
		Items:         testItems(),
		DeliverySlot:  DeliverySlot{From: time.Now().Add(time.Hour), To: time.Now().Add(2 * time.Hour)},
		PaymentMethod: PaymentCash,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

// confirmAndAssign walks a fresh order to confirmed with a rider attached.
func confirmAndAssign(t *testing.T, svc *Service, o *Order) *Order {
	t.Helper()
	ctx := context.Background()
	o, err := svc.RequestTransition(ctx, TransitionCommand{
		OrderID: o.ID, Next: StatusConfirmed, Actor: admin, ExpectedToken: o.FreshnessToken,
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	o, err = svc.AssignRider(ctx, AssignRiderCommand{
		OrderID: o.ID, RiderID: rider.ID, Actor: admin, ExpectedToken: o.FreshnessToken,
	})
	if err != nil {
		t.Fatalf("assign rider: %v", err)
	}
	return o
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	base := CreateCommand{
		CustomerID:    shopper.ID,
		Customer:      Customer{Name: "Ada", Address: "Mannerheimintie 1"},
		Items:         testItems(),
		PaymentMethod: PaymentCard,
	}

	cases := []struct {
		name   string
		mutate func(*CreateCommand)
	}{
		{"missing customer id", func(c *CreateCommand) { c.CustomerID = "" }},
		{"missing address", func(c *CreateCommand) { c.Customer.Address = "" }},
		{"no items", func(c *CreateCommand) { c.Items = nil }},
		{"zero quantity", func(c *CreateCommand) { c.Items[0].Quantity = 0 }},
		{"quantity over cap", func(c *CreateCommand) { c.Items[0].Quantity = 21 }},
		{"negative price", func(c *CreateCommand) { c.Items[0].UnitPrice.Amount = -1 }},
		{"unknown payment method", func(c *CreateCommand) { c.PaymentMethod = "iou" }},
	}
	for _, tc := range cases {
		cmd := base
		cmd.Items = testItems()
		tc.mutate(&cmd)
		if _, err := svc.Create(ctx, cmd); !errors.Is(err, ErrBadRequest) {
			t.Errorf("%s: got %v, want ErrBadRequest", tc.name, err)
		}
	}

	o := placeOrder(t, svc)
	if o.Status != StatusPending {
		t.Errorf("new order status = %s, want pending", o.Status)
	}
	if o.StatusVersion != 0 {
		t.Errorf("new order version = %d, want 0", o.StatusVersion)
	}
	if o.FreshnessToken == "" {
		t.Error("new order has no freshness token")
	}
	if want := int64(2*189 + 120); o.TotalAmount.Amount != want {
		t.Errorf("total = %d, want %d", o.TotalAmount.Amount, want)
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	o := placeOrder(t, svc)
	o = confirmAndAssign(t, svc, o)

	o, err := svc.RequestTransition(ctx, TransitionCommand{
		OrderID: o.ID, Next: StatusOutForDelivery, Actor: rider, ExpectedToken: o.FreshnessToken,
	})
	if err != nil {
		t.Fatalf("out for delivery: %v", err)
	}
	o, err = svc.RequestTransition(ctx, TransitionCommand{
		OrderID: o.ID, Next: StatusDelivered, Actor: rider,
		ExpectedToken: o.FreshnessToken, PaymentCollected: &cashPaid,
	})
	if err != nil {
		t.Fatalf("delivered: %v", err)
	}
	if o.Status != StatusDelivered {
		t.Fatalf("final status = %s, want delivered", o.Status)
	}
	if o.PaymentCollectedMethod == nil || *o.PaymentCollectedMethod != PaymentCash {
		t.Fatal("payment collection method not recorded")
	}

	// create, confirm, assign, out, delivered
	events := store.Events(o.ID)
	if len(events) != 5 {
		t.Fatalf("got %d audit events, want 5", len(events))
	}
	if events[2].SagaStep != "assign" {
		t.Errorf("assignment event saga step = %q, want assign", events[2].SagaStep)
	}
	if events[4].FromStatus != StatusOutForDelivery || events[4].ToStatus != StatusDelivered {
		t.Errorf("last event = %s -> %s", events[4].FromStatus, events[4].ToStatus)
	}
}

func TestDeliveredRequiresPaymentCollection(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	o := confirmAndAssign(t, svc, placeOrder(t, svc))
	o, err := svc.RequestTransition(ctx, TransitionCommand{
		OrderID: o.ID, Next: StatusOutForDelivery, Actor: rider, ExpectedToken: o.FreshnessToken,
	})
	if err != nil {
		t.Fatalf("out for delivery: %v", err)
	}

	_, err = svc.RequestTransition(ctx, TransitionCommand{
		OrderID: o.ID, Next: StatusDelivered, Actor: rider, ExpectedToken: o.FreshnessToken,
	})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("delivered without payment = %v, want ErrPreconditionFailed", err)
	}
}

func TestStaleTokenRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	o := placeOrder(t, svc)
	stale := o.FreshnessToken

	if _, err := svc.RequestTransition(ctx, TransitionCommand{
		OrderID: o.ID, Next: StatusConfirmed, Actor: admin, ExpectedToken: stale,
	}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// Same token again, but the order has moved on: cancelling against the
	// pending snapshot must lose.
	_, err := svc.RequestTransition(ctx, TransitionCommand{
		OrderID: o.ID, Next: StatusCancelled, Actor: admin, ExpectedToken: stale,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("stale cancel = %v, want ErrConflict", err)
	}

	if _, err := svc.RequestTransition(ctx, TransitionCommand{
		OrderID: o.ID, Next: StatusCancelled, Actor: admin, ExpectedToken: "",
	}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("missing token = %v, want ErrBadRequest", err)
	}
}

func TestIdempotentReissue(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	o := placeOrder(t, svc)
	o, err := svc.RequestTransition(ctx, TransitionCommand{
		OrderID: o.ID, Next: StatusConfirmed, Actor: admin, ExpectedToken: o.FreshnessToken,
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	before := len(store.Events(o.ID))

	// Re-sending the applied transition with the current token succeeds
	// without a second audit event.
	again, err := svc.RequestTransition(ctx, TransitionCommand{
		OrderID: o.ID, Next: StatusConfirmed, Actor: admin, ExpectedToken: o.FreshnessToken,
	})
	if err != nil {
		t.Fatalf("re-issue: %v", err)
	}
	if again.StatusVersion != o.StatusVersion {
		t.Errorf("re-issue bumped version to %d", again.StatusVersion)
	}
	if got := len(store.Events(o.ID)); got != before {
		t.Errorf("re-issue appended events: %d -> %d", before, got)
	}

	// A stranger replaying the same request learns nothing.
	outsider := auth.Actor{ID: "c9", Role: auth.RoleCustomer}
	if _, err := svc.RequestTransition(ctx, TransitionCommand{
		OrderID: o.ID, Next: StatusConfirmed, Actor: outsider, ExpectedToken: o.FreshnessToken,
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider re-issue = %v, want ErrForbidden", err)
	}
}

func TestRetryAfterTokenBump(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	o := confirmAndAssign(t, svc, placeOrder(t, svc))
	seen := o.FreshnessToken

	// The admin re-assigns to the same rider, bumping the token while the
	// rider still holds the old snapshot.
	o, err := svc.AssignRider(ctx, AssignRiderCommand{
		OrderID: o.ID, RiderID: rider.ID, Actor: admin, ExpectedToken: o.FreshnessToken,
	})
	if err != nil {
		t.Fatalf("re-assign: %v", err)
	}

	// Plain request loses; the retrying variant re-reads and goes through.
	if _, err := svc.RequestTransition(ctx, TransitionCommand{
		OrderID: o.ID, Next: StatusOutForDelivery, Actor: rider, ExpectedToken: seen,
	}); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale advance = %v, want ErrConflict", err)
	}
	got, err := svc.RequestTransitionRetry(ctx, TransitionCommand{
		OrderID: o.ID, Next: StatusOutForDelivery, Actor: rider, ExpectedToken: seen,
	})
	if err != nil {
		t.Fatalf("retried advance: %v", err)
	}
	if got.Status != StatusOutForDelivery {
		t.Fatalf("status after retry = %s", got.Status)
	}
}

func TestSingleActiveOrderPrecondition(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := confirmAndAssign(t, svc, placeOrder(t, svc))
	second := confirmAndAssign(t, svc, placeOrder(t, svc))

	first, err := svc.RequestTransition(ctx, TransitionCommand{
		OrderID: first.ID, Next: StatusOutForDelivery, Actor: rider, ExpectedToken: first.FreshnessToken,
	})
	if err != nil {
		t.Fatalf("first out: %v", err)
	}

	_, err = svc.RequestTransition(ctx, TransitionCommand{
		OrderID: second.ID, Next: StatusOutForDelivery, Actor: rider, ExpectedToken: second.FreshnessToken,
	})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("second active order = %v, want ErrPreconditionFailed", err)
	}

	active, err := svc.ActiveForRider(ctx, rider.ID)
	if err != nil {
		t.Fatalf("active for rider: %v", err)
	}
	if active == nil || active.ID != first.ID {
		t.Fatal("active order lookup did not return the first order")
	}
}

func TestAssignRiderRules(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	o := placeOrder(t, svc)

	if _, err := svc.AssignRider(ctx, AssignRiderCommand{
		OrderID: o.ID, RiderID: rider.ID, Actor: rider, ExpectedToken: o.FreshnessToken,
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("rider self-assign = %v, want ErrForbidden", err)
	}
	if _, err := svc.AssignRider(ctx, AssignRiderCommand{
		OrderID: o.ID, RiderID: rider.ID, Actor: admin,
	}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("missing token = %v, want ErrBadRequest", err)
	}
	if _, err := svc.AssignRider(ctx, AssignRiderCommand{
		OrderID: o.ID, RiderID: rider.ID, Actor: admin, ExpectedToken: "bogus",
	}); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale token = %v, want ErrConflict", err)
	}

	o, err := svc.AssignRider(ctx, AssignRiderCommand{
		OrderID: o.ID, RiderID: rider.ID, Actor: admin, ExpectedToken: o.FreshnessToken,
	})
	if err != nil {
		t.Fatalf("assign pending order: %v", err)
	}
	if o.AssignedRiderID == nil || *o.AssignedRiderID != rider.ID {
		t.Fatal("rider not recorded")
	}

	o, err = svc.RequestTransition(ctx, TransitionCommand{
		OrderID: o.ID, Next: StatusConfirmed, Actor: admin, ExpectedToken: o.FreshnessToken,
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	o, err = svc.RequestTransition(ctx, TransitionCommand{
		OrderID: o.ID, Next: StatusOutForDelivery, Actor: rider, ExpectedToken: o.FreshnessToken,
	})
	if err != nil {
		t.Fatalf("out: %v", err)
	}

	// Re-assignment stops once the rider is on the road.
	if _, err := svc.AssignRider(ctx, AssignRiderCommand{
		OrderID: o.ID, RiderID: "r2", Actor: admin, ExpectedToken: o.FreshnessToken,
	}); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("reassign in-flight order = %v, want ErrPreconditionFailed", err)
	}
}

func TestCustomerCancelRecordsReason(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	o := placeOrder(t, svc)
	reason := "ordered twice"
	o, err := svc.RequestTransition(ctx, TransitionCommand{
		OrderID: o.ID, Next: StatusCancelled, Actor: shopper,
		ExpectedToken: o.FreshnessToken, CancelReason: &reason,
	})
	if err != nil {
		t.Fatalf("customer cancel: %v", err)
	}
	if o.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", o.Status)
	}
	if o.CancelReason == nil || *o.CancelReason != reason {
		t.Fatal("cancel reason not stored")
	}
}

func TestConditionalReads(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	o := placeOrder(t, svc)

	if _, changed, err := svc.GetIfChanged(ctx, o.ID, o.FreshnessToken); err != nil || changed {
		t.Fatalf("matching token: changed=%v err=%v, want not modified", changed, err)
	}
	got, changed, err := svc.GetIfChanged(ctx, o.ID, "old")
	if err != nil || !changed || got == nil {
		t.Fatalf("stale token: changed=%v err=%v", changed, err)
	}
	if _, _, err := svc.GetIfChanged(ctx, "missing", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown order = %v, want ErrNotFound", err)
	}

	orders, token, changed, err := svc.ListIfChanged(ctx, Filter{}, "")
	if err != nil || !changed || len(orders) != 1 || token == "" {
		t.Fatalf("first list: n=%d token=%q changed=%v err=%v", len(orders), token, changed, err)
	}
	if _, _, changed, _ := svc.ListIfChanged(ctx, Filter{}, token); changed {
		t.Fatal("unchanged list reported as changed")
	}

	// Any member change invalidates the collection token.
	if _, err := svc.RequestTransition(ctx, TransitionCommand{
		OrderID: o.ID, Next: StatusConfirmed, Actor: admin, ExpectedToken: o.FreshnessToken,
	}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, _, changed, _ := svc.ListIfChanged(ctx, Filter{}, token); !changed {
		t.Fatal("list change not detected")
	}
}

// Search matches the customer name and phone the same way the SQL store's
// ILIKE does: substring, case folded.
func TestListSearchCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	now := time.Now().UTC()
	seed := []*Order{
		{ID: "o1", CustomerID: "c1", Customer: Customer{Name: "Ada Lovelace", Phone: "+358 40 1234567"}, Status: StatusPending, CreatedAt: now},
		{ID: "o2", CustomerID: "c2", Customer: Customer{Name: "Grace Hopper", Phone: "+358 50 7654321"}, Status: StatusPending, CreatedAt: now.Add(time.Second)},
	}
	for _, o := range seed {
		if err := store.Create(ctx, o); err != nil {
			t.Fatalf("seed %s: %v", o.ID, err)
		}
	}

	cases := []struct {
		name   string
		search string
		want   []types.ID
	}{
		{"lowercase against name", "ada", []types.ID{"o1"}},
		{"uppercase against name", "GRACE", []types.ID{"o2"}},
		{"phone fragment", "40 123", []types.ID{"o1"}},
		{"shared prefix", "+358", []types.ID{"o2", "o1"}},
		{"no match", "turing", nil},
	}
	for _, tc := range cases {
		got, err := store.List(ctx, Filter{Search: tc.search})
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		var ids []types.ID
		for _, o := range got {
			ids = append(ids, o.ID)
		}
		if len(ids) != len(tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, ids, tc.want)
		}
		for i := range ids {
			if ids[i] != tc.want[i] {
				t.Fatalf("%s: got %v, want %v", tc.name, ids, tc.want)
			}
		}
	}
}
