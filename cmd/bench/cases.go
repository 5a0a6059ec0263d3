// README: Smoke test cases: env checks, order lifecycle, conflict and swap behavior over HTTP.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"grocer/internal/auth"
	"grocer/internal/types"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

// token mints a short-lived bearer token for a test actor.
func (r *Runner) token(id string, role auth.Role) string {
	tok, err := auth.SignToken(auth.Actor{ID: types.ID(id), Role: role}, r.cfg.JWTSecret, 10*time.Minute)
	if err != nil {
		return ""
	}
	return "Bearer " + tok
}

type httpResp struct {
	status int
	header http.Header
	body   []byte
}

func (r *Runner) do(ctx context.Context, method, path, bearer string, body any, etag string) (httpResp, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return httpResp{}, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, &buf)
	if err != nil {
		return httpResp{}, err
	}
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return httpResp{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpResp{}, err
	}
	return httpResp{status: resp.StatusCode, header: resp.Header, body: raw}, nil
}

type benchOrder struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	FreshnessToken string `json:"freshness_token"`
}

func checkoutBody() map[string]any {
	return map[string]any{
		"customer": map[string]string{
			"name":    "Bench Customer",
			"phone":   "+3580009",
			"address": "Aleksanterinkatu 52",
		},
		"items": []map[string]any{
			{"product_id": "p-milk", "name": "Milk 1L", "quantity": 1, "unit_price": 189, "currency": "EUR"},
		},
		"slot_from":      time.Now().Add(time.Hour).UTC(),
		"slot_to":        time.Now().Add(2 * time.Hour).UTC(),
		"payment_method": "cash",
	}
}

// checkout places an order and decodes the response.
func (r *Runner) checkout(ctx context.Context, customerID string) (benchOrder, error) {
	resp, err := r.do(ctx, http.MethodPost, "/api/orders", r.token(customerID, auth.RoleCustomer), checkoutBody(), "")
	if err != nil {
		return benchOrder{}, err
	}
	if resp.status != http.StatusCreated {
		return benchOrder{}, fmt.Errorf("checkout: status %d: %s", resp.status, resp.body)
	}
	var o benchOrder
	if err := json.Unmarshal(resp.body, &o); err != nil {
		return benchOrder{}, err
	}
	return o, nil
}

func (r *Runner) patchStatus(ctx context.Context, id, bearer string, body map[string]any) (benchOrder, int, error) {
	resp, err := r.do(ctx, http.MethodPatch, "/api/orders/"+id+"/status", bearer, body, "")
	if err != nil {
		return benchOrder{}, 0, err
	}
	var o benchOrder
	if resp.status == http.StatusOK {
		if err := json.Unmarshal(resp.body, &o); err != nil {
			return benchOrder{}, resp.status, err
		}
	}
	return o, resp.status, nil
}

// prepareAssigned walks a fresh order to confirmed with riderID attached.
// The rider is marked present first so the assignment gate lets it through.
func (r *Runner) prepareAssigned(ctx context.Context, customerID, riderID string) (benchOrder, error) {
	if resp, err := r.do(ctx, http.MethodPut, "/api/riders/presence", r.token(riderID, auth.RoleRider),
		map[string]any{"active": true}, ""); err != nil {
		return benchOrder{}, err
	} else if resp.status != http.StatusOK {
		return benchOrder{}, fmt.Errorf("presence: status %d", resp.status)
	}

	o, err := r.checkout(ctx, customerID)
	if err != nil {
		return benchOrder{}, err
	}
	admin := r.token("bench-admin", auth.RoleAdmin)
	o, status, err := r.patchStatus(ctx, o.ID, admin, map[string]any{
		"status": "confirmed", "expected_token": o.FreshnessToken,
	})
	if err != nil || status != http.StatusOK {
		return benchOrder{}, fmt.Errorf("confirm: status %d err %v", status, err)
	}
	resp, err := r.do(ctx, http.MethodPatch, "/api/orders/"+o.ID+"/rider", admin,
		map[string]any{"rider_id": riderID, "expected_token": o.FreshnessToken}, "")
	if err != nil {
		return benchOrder{}, err
	}
	if resp.status != http.StatusOK {
		return benchOrder{}, fmt.Errorf("assign: status %d: %s", resp.status, resp.body)
	}
	if err := json.Unmarshal(resp.body, &o); err != nil {
		return benchOrder{}, err
	}
	return o, nil
}

func uniq(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "dsn not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Migration: apply (optional)",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration not set"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "dsn not configured"}
				}
				raw, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, stmt := range strings.Split(string(raw), ";") {
					stmt = strings.TrimSpace(stmt)
					if stmt == "" || strings.HasPrefix(stmt, "--") {
						continue
					}
					if _, err := r.db.Exec(ctx, stmt); err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "HTTP: health",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				resp, err := r.do(ctx, http.MethodGet, "/health", "", nil, "")
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if resp.status != http.StatusOK {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status %d", resp.status)}
				}
				return Result{Status: "PASS", Latency: time.Since(start)}
			},
		},
		{
			Name: "Order: checkout + conditional GET",
			Run: func(ctx context.Context, r *Runner) Result {
				customer := uniq("bench-c")
				o, err := r.checkout(ctx, customer)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				bearer := r.token(customer, auth.RoleCustomer)
				resp, err := r.do(ctx, http.MethodGet, "/api/orders/"+o.ID, bearer, nil, o.FreshnessToken)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if resp.status != http.StatusNotModified {
					return Result{Status: "FAIL", Note: fmt.Sprintf("want 304, got %d", resp.status)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Order: full lifecycle to delivered",
			Run: func(ctx context.Context, r *Runner) Result {
				rider := uniq("bench-r")
				o, err := r.prepareAssigned(ctx, uniq("bench-c"), rider)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				bearer := r.token(rider, auth.RoleRider)
				o, status, err := r.patchStatus(ctx, o.ID, bearer, map[string]any{
					"status": "outForDelivery", "expected_token": o.FreshnessToken,
				})
				if err != nil || status != http.StatusOK {
					return Result{Status: "FAIL", Note: fmt.Sprintf("out: status %d err %v", status, err)}
				}
				o, status, err = r.patchStatus(ctx, o.ID, bearer, map[string]any{
					"status": "delivered", "expected_token": o.FreshnessToken, "payment_collected_method": "cash",
				})
				if err != nil || status != http.StatusOK || o.Status != "delivered" {
					return Result{Status: "FAIL", Note: fmt.Sprintf("delivered: status %d err %v", status, err)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Order: stale-token writers, one winner",
			Run: func(ctx context.Context, r *Runner) Result {
				o, err := r.checkout(ctx, uniq("bench-c"))
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				admin := r.token("bench-admin", auth.RoleAdmin)

				const writers = 8
				var wins, conflicts int64
				var wg sync.WaitGroup
				wg.Add(writers)
				for i := 0; i < writers; i++ {
					go func() {
						defer wg.Done()
						_, status, err := r.patchStatus(ctx, o.ID, admin, map[string]any{
							"status": "confirmed", "expected_token": o.FreshnessToken,
						})
						if err != nil {
							return
						}
						switch status {
						case http.StatusOK:
							atomic.AddInt64(&wins, 1)
						case http.StatusConflict:
							atomic.AddInt64(&conflicts, 1)
						}
					}()
				}
				wg.Wait()

				// Every writer carries the same pending-state token, so the
				// losers cannot hit the idempotent re-issue path: exactly one
				// commit, the rest get 409.
				if wins != 1 || conflicts != writers-1 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("wins=%d conflicts=%d", wins, conflicts)}
				}
				return Result{Status: "PASS", Note: fmt.Sprintf("wins=%d conflicts=%d", wins, conflicts)}
			},
		},
		{
			Name: "Rider: active-order swap",
			Run: func(ctx context.Context, r *Runner) Result {
				rider := uniq("bench-r")
				first, err := r.prepareAssigned(ctx, uniq("bench-c"), rider)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				second, err := r.prepareAssigned(ctx, uniq("bench-c"), rider)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}

				bearer := r.token(rider, auth.RoleRider)
				for _, id := range []string{first.ID, second.ID} {
					resp, err := r.do(ctx, http.MethodPost, "/api/riders/active-order", bearer,
						map[string]any{"order_id": id}, "")
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if resp.status != http.StatusOK {
						return Result{Status: "FAIL", Note: fmt.Sprintf("swap to %s: status %d: %s", id, resp.status, resp.body)}
					}
				}

				// After the second swap the first order is back to confirmed.
				resp, err := r.do(ctx, http.MethodGet, "/api/orders/"+first.ID, bearer, nil, "")
				if err != nil || resp.status != http.StatusOK {
					return Result{Status: "FAIL", Note: fmt.Sprintf("reload: %v status %d", err, resp.status)}
				}
				var got benchOrder
				if err := json.Unmarshal(resp.body, &got); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if got.Status != "confirmed" {
					return Result{Status: "FAIL", Note: fmt.Sprintf("demoted order status %s", got.Status)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Perf: checkout throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				deadline := time.Now().Add(r.cfg.Duration)
				var total, failed int64
				var wg sync.WaitGroup
				wg.Add(r.cfg.Concurrency)
				for i := 0; i < r.cfg.Concurrency; i++ {
					go func(i int) {
						defer wg.Done()
						customer := uniq(fmt.Sprintf("bench-perf-%d", i))
						for time.Now().Before(deadline) && ctx.Err() == nil {
							if _, err := r.checkout(ctx, customer); err != nil {
								atomic.AddInt64(&failed, 1)
							}
							atomic.AddInt64(&total, 1)
						}
					}(i)
				}
				wg.Wait()
				if total == 0 {
					return Result{Status: "FAIL", Note: "no requests completed"}
				}
				rps := float64(total-failed) / r.cfg.Duration.Seconds()
				note := fmt.Sprintf("%.0f req/s, failed=%d/%d", rps, failed, total)
				if failed > total/10 {
					return Result{Status: "FAIL", Note: note}
				}
				return Result{Status: "PASS", Note: note}
			},
		},
	}
}
