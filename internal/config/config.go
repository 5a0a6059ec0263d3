// README: Config loader with env defaults for HTTP, DB, Redis, Kafka, auth, and dispatch settings.
package config

import (
	"os"
	"strconv"
	"strings"
)

type ViewConfig struct {
	PollSeconds int
}

type OrderConfig struct {
	MaxQtyPerLine int
}

type DispatchConfig struct {
	StoreAddress string
}

type Config struct {
	HTTP struct {
		Addr string
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr string
	}
	Auth struct {
		JWTSecret string
	}
	Kafka struct {
		Brokers []string
		Topic   string
	}
	Maps struct {
		APIKey string
	}
	Order    OrderConfig
	View     ViewConfig
	Dispatch DispatchConfig
}

func Load() (Config, error) {
	var cfg Config
	cfg.HTTP.Addr = envOrDefault("GROCER_HTTP_ADDR", ":8080")
	// An empty DSN selects the in-memory order store (local runs without Postgres).
	cfg.DB.DSN = envOrDefault("GROCER_DB_DSN", "")
	cfg.Redis.Addr = envOrDefault("GROCER_REDIS_ADDR", "localhost:6379")
	cfg.Auth.JWTSecret = envOrDefault("GROCER_JWT_SECRET", "dev-secret")
	if v := os.Getenv("GROCER_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	cfg.Kafka.Topic = envOrDefault("GROCER_KAFKA_TOPIC", "grocer.order.status")
	cfg.Maps.APIKey = envOrDefault("GROCER_MAPS_API_KEY", "")
	cfg.Order.MaxQtyPerLine = envOrDefaultInt("GROCER_MAX_QTY_PER_LINE", 20)
	cfg.View.PollSeconds = envOrDefaultInt("GROCER_VIEW_POLL_SECONDS", 5)
	cfg.Dispatch.StoreAddress = envOrDefault("GROCER_STORE_ADDRESS", "")
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
