// README: Backlog urgency ranking from delivery slots and travel estimates.
package dispatch

import (
	"context"
	"sort"
	"time"

	"grocer/internal/config"
	"grocer/internal/modules/order"
)

// Estimator provides a driving-time estimate between two addresses.
// internal/maps.RouteService satisfies it.
type Estimator interface {
	TravelEstimate(ctx context.Context, origin, destination string) (time.Duration, string, error)
}

// Ranked is an order annotated with its urgency slack: time remaining in the
// delivery window minus the estimated travel time. Smaller slack is more
// urgent; negative slack is already late.
type Ranked struct {
	Order  order.Order
	Travel time.Duration
	Slack  time.Duration
}

type Service struct {
	estimator Estimator
	cfg       config.DispatchConfig
}

func NewService(estimator Estimator, cfg config.DispatchConfig) *Service {
	return &Service{estimator: estimator, cfg: cfg}
}

// RankBacklog orders the backlog (pending and confirmed orders) by urgency.
// Advisory only: the state machine never consults this. Estimator failures
// degrade to slot-only ranking for that order.
func (s *Service) RankBacklog(ctx context.Context, orders []order.Order, now time.Time) []Ranked {
	out := make([]Ranked, 0, len(orders))
	for _, o := range orders {
		if o.Status != order.StatusPending && o.Status != order.StatusConfirmed {
			continue
		}
		var travel time.Duration
		if s.estimator != nil {
			if d, _, err := s.estimator.TravelEstimate(ctx, s.cfg.StoreAddress, o.Customer.Address); err == nil {
				travel = d
			}
		}
		out = append(out, Ranked{
			Order:  o,
			Travel: travel,
			Slack:  o.DeliverySlot.To.Sub(now) - travel,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slack < out[j].Slack })
	return out
}
