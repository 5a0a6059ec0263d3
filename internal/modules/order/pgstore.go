// README: Order store backed by PostgreSQL; conditional writes keyed on the freshness token.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"grocer/internal/types"
)

// DB is the subset of pgxpool.Pool the store needs. pgxmock satisfies it too.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGStore struct {
	db DB
}

func NewPGStore(db DB) *PGStore {
	return &PGStore{db: db}
}

const orderColumns = `
	id, customer_id, customer, items, status, status_version, rider_id,
	slot_from, slot_to, payment_method, payment_collected_method,
	total_amount, currency, cancel_reason, created_at, updated_at, freshness_token`

func (s *PGStore) Create(ctx context.Context, o *Order) error {
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return err
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO orders (
			id, customer_id, customer, items, status, status_version, rider_id,
			slot_from, slot_to, payment_method, payment_collected_method,
			total_amount, currency, cancel_reason, created_at, updated_at, freshness_token
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17
		)`,
		string(o.ID),
		string(o.CustomerID),
		customer,
		items,
		string(o.Status),
		o.StatusVersion,
		toStringPtr(o.AssignedRiderID),
		o.DeliverySlot.From,
		o.DeliverySlot.To,
		string(o.PaymentMethod),
		paymentPtr(o.PaymentCollectedMethod),
		o.TotalAmount.Amount,
		o.TotalAmount.Currency,
		o.CancelReason,
		o.CreatedAt,
		o.UpdatedAt,
		o.FreshnessToken,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1`, string(id),
	)
	return scanOrder(row)
}

func (s *PGStore) List(ctx context.Context, f Filter) ([]Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1::text IS NULL OR rider_id = $1)
		  AND ($2::text IS NULL OR customer_id = $2)
		  AND ($3::text IS NULL OR status = $3)
		  AND ($4::text = '' OR customer->>'Name' ILIKE '%' || $4 || '%' OR customer->>'Phone' ILIKE '%' || $4 || '%')
		ORDER BY created_at DESC`
	rows, err := s.db.Query(ctx, query,
		toStringPtr(f.RiderID),
		toStringPtr(f.CustomerID),
		statusPtr(f.Status),
		f.Search,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, u StatusUpdate) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    status_version = status_version + 1,
		    payment_collected_method = COALESCE($2, payment_collected_method),
		    cancel_reason = COALESCE($3, cancel_reason),
		    updated_at = $4,
		    freshness_token = $5
		WHERE id = $6 AND status = $7 AND freshness_token = $8`,
		string(u.To),
		paymentPtr(u.PaymentCollected),
		u.CancelReason,
		u.UpdatedAt,
		u.NewToken,
		string(id),
		string(u.From),
		u.ExpectToken,
	)
	if err != nil {
		// idx_orders_rider_active: the rider already has an active order.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, ErrPreconditionFailed
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) SetRider(ctx context.Context, id types.ID, riderID types.ID, expectToken, newToken string, updatedAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET rider_id = $1,
		    status_version = status_version + 1,
		    updated_at = $2,
		    freshness_token = $3
		WHERE id = $4 AND freshness_token = $5 AND status IN ('pending', 'confirmed')`,
		string(riderID),
		updatedAt,
		newToken,
		string(id),
		expectToken,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) ActiveForRider(ctx context.Context, riderID types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE rider_id = $1 AND status = 'outForDelivery'
		LIMIT 1`, string(riderID),
	)
	o, err := scanOrder(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return o, err
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO order_status_events (
			order_id, from_status, to_status, actor_role, actor_id, saga_step, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorRole,
		toStringPtr(e.ActorID),
		e.SagaStep,
		e.CreatedAt,
	)
	return err
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var customer, items []byte
	var riderID, collected, cancelReason *string

	err := row.Scan(
		&o.ID, &o.CustomerID, &customer, &items, &o.Status, &o.StatusVersion, &riderID,
		&o.DeliverySlot.From, &o.DeliverySlot.To, &o.PaymentMethod, &collected,
		&o.TotalAmount.Amount, &o.TotalAmount.Currency, &cancelReason,
		&o.CreatedAt, &o.UpdatedAt, &o.FreshnessToken,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, err
	}
	if riderID != nil {
		r := types.ID(*riderID)
		o.AssignedRiderID = &r
	}
	if collected != nil {
		p := PaymentMethod(*collected)
		o.PaymentCollectedMethod = &p
	}
	o.CancelReason = cancelReason
	return &o, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func statusPtr(v *Status) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func paymentPtr(v *PaymentMethod) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
