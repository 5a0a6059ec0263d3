// README: Client-side order view reconciler; conditional polling with visibility gating.
package view

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"grocer/internal/modules/order"
	"grocer/internal/types"
)

// Fetcher is the conditional-read boundary the reconciler polls against.
// order.Service satisfies it for in-process wiring; a remote client would
// carry the tokens as ETag headers.
type Fetcher interface {
	// GetIfChanged returns (nil, false, nil) when the token still matches.
	GetIfChanged(ctx context.Context, id types.ID, token string) (*order.Order, bool, error)
	// ListIfChanged returns the current collection token either way.
	ListIfChanged(ctx context.Context, f order.Filter, token string) ([]order.Order, string, bool, error)
}

// Reconciler keeps a local snapshot of the orders matching a filter in sync
// with the server without excessive transfers and without clobbering an
// update the user just triggered.
type Reconciler struct {
	fetcher  Fetcher
	filter   order.Filter
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	orders    map[types.ID]order.Order
	listToken string
	pending   map[types.ID]int
	visible   bool

	wake chan struct{}
}

func NewReconciler(fetcher Fetcher, filter order.Filter, interval time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		fetcher:  fetcher,
		filter:   filter,
		interval: interval,
		logger:   logger,
		orders:   make(map[types.ID]order.Order),
		pending:  make(map[types.ID]int),
		visible:  true,
		wake:     make(chan struct{}, 1),
	}
}

// Run polls until ctx is cancelled. Ticks are skipped while the view is not
// visible; SetVisible(true) forces an immediate refresh.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.Visible() {
				continue
			}
			r.refreshAll(ctx)
		case <-r.wake:
			r.refreshAll(ctx)
		}
	}
}

// SetVisible gates polling. Regaining visibility triggers an immediate
// refresh rather than waiting for the next tick.
func (r *Reconciler) SetVisible(v bool) {
	r.mu.Lock()
	was := r.visible
	r.visible = v
	r.mu.Unlock()
	if v && !was {
		r.signal()
	}
}

func (r *Reconciler) Visible() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visible
}

// BeginOptimistic applies a local status guess for an in-flight mutation and
// shields the record from wholesale replacement until Settle.
func (r *Reconciler) BeginOptimistic(id types.ID, next order.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[id]++
	if o, ok := r.orders[id]; ok {
		o.Status = next
		r.orders[id] = o
	}
}

// Settle ends an in-flight mutation and refreshes just that order so the view
// reflects the authoritative post-write state, not the client's guess.
func (r *Reconciler) Settle(ctx context.Context, id types.ID) error {
	r.mu.Lock()
	if r.pending[id] > 0 {
		r.pending[id]--
		if r.pending[id] == 0 {
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()
	return r.refreshOrder(ctx, id, true)
}

// RefreshOrder performs a targeted conditional refresh of a single order.
func (r *Reconciler) RefreshOrder(ctx context.Context, id types.ID) error {
	return r.refreshOrder(ctx, id, false)
}

// MarkStale drops the stored token for an order and schedules a refresh.
// Wired as the gateway's refresh hook.
func (r *Reconciler) MarkStale(id types.ID) {
	r.mu.Lock()
	if o, ok := r.orders[id]; ok {
		o.FreshnessToken = ""
		r.orders[id] = o
	}
	r.listToken = ""
	r.mu.Unlock()
	r.signal()
}

// Snapshot returns the local copy of one order.
func (r *Reconciler) Snapshot(id types.ID) (order.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	return o, ok
}

// Orders returns a copy of the current local collection.
func (r *Reconciler) Orders() []order.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]order.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o)
	}
	return out
}

func (r *Reconciler) refreshOrder(ctx context.Context, id types.ID, force bool) error {
	r.mu.Lock()
	token := ""
	if o, ok := r.orders[id]; ok && !force {
		token = o.FreshnessToken
	}
	r.mu.Unlock()

	o, modified, err := r.fetcher.GetIfChanged(ctx, id, token)
	if err != nil {
		return err
	}
	if !modified {
		// NotModified leaves local state untouched and counts as success.
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !force && r.pending[id] > 0 {
		// An optimistic update is in flight; Settle will fetch the truth.
		return nil
	}
	// Wholesale record replacement, no field-level merge.
	r.orders[id] = *o
	return nil
}

func (r *Reconciler) refreshAll(ctx context.Context) {
	r.mu.Lock()
	token := r.listToken
	r.mu.Unlock()

	orders, newToken, modified, err := r.fetcher.ListIfChanged(ctx, r.filter, token)
	if err != nil {
		r.logger.Warn("reconcile list", "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.listToken = newToken
	if !modified {
		return
	}

	seen := make(map[types.ID]bool, len(orders))
	for _, o := range orders {
		seen[o.ID] = true
		if r.pending[o.ID] > 0 {
			continue
		}
		r.orders[o.ID] = o
	}
	for id := range r.orders {
		if !seen[id] && r.pending[id] == 0 {
			delete(r.orders, id)
		}
	}
}

func (r *Reconciler) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}
