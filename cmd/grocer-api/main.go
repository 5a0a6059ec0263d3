// README: Entry point; loads config, wires stores and services, starts the HTTP server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grocer/internal/config"
	"grocer/internal/events"
	httptransport "grocer/internal/http"
	"grocer/internal/infra"
	"grocer/internal/logger"
	"grocer/internal/maps"
	"grocer/internal/modules/assignment"
	"grocer/internal/modules/dispatch"
	"grocer/internal/modules/order"
	"grocer/internal/modules/view"
	"grocer/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store order.Store
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			log.Error("connect db", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = order.NewPGStore(pool)
	} else {
		log.Warn("no database configured, using in-memory order store")
		store = order.NewMemStore()
	}

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	presence := assignment.NewPresenceStore(redisClient)

	orderSvc := order.NewService(store, cfg.Order, log)
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer publisher.Close()
		orderSvc.SetPublisher(publisher)
	}

	assignmentSvc := assignment.NewService(orderSvc, presence, log)

	// Without an API key the ranker degrades to slot-only urgency.
	var estimator dispatch.Estimator
	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			log.Error("maps init", "error", err)
			os.Exit(1)
		}
		estimator = routes
	}
	dispatchSvc := dispatch.NewService(estimator, cfg.Dispatch)

	adminView := view.NewReconciler(orderSvc, order.Filter{},
		time.Duration(cfg.View.PollSeconds)*time.Second, log)
	orderSvc.SetRefreshHook(func(id types.ID) {
		_ = adminView.RefreshOrder(ctx, id)
	})
	go adminView.Run(ctx)

	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Order:      orderSvc,
		Assignment: assignmentSvc,
		Presence:   presence,
		Dispatch:   dispatchSvc,
		JWTSecret:  cfg.Auth.JWTSecret,
		Logger:     log,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("listening", "addr", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server", "error", err)
		os.Exit(1)
	}
}
