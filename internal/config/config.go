package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Port         string
	Env          string
	LogLevel     string
	QueueBackend string
	DatabaseURL  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SimulationInterval    time.Duration
	SimulationProbability float64
	SeedDemoData          bool

	RateLimitPerMinute     int
	RateLimitBurst         int
	UserRateLimitPerMinute int
	UserRateLimitBurst     int

	OTLPEndpoint     string
	OTLPInsecure     bool
	TraceSampleRatio float64
}

// Load reads configuration from the environment, after applying an optional
// .env file from the working directory.
func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("QUEUE_BACKEND")))
	if backend == "" {
		backend = BackendMemory
	}

	return Config{
		Port:                   port,
		Env:                    readString("ENV", "development"),
		LogLevel:               readString("LOG_LEVEL", "info"),
		QueueBackend:           backend,
		DatabaseURL:            os.Getenv("DB_DSN"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                readInt("REDIS_DB", 0),
		SimulationInterval:     readDurationSeconds("SIMULATION_INTERVAL_SECONDS", 3),
		SimulationProbability:  readFloat("SIMULATION_ADVANCE_PROBABILITY", 0.3),
		SeedDemoData:           readBool("SEED_DEMO_DATA", true),
		RateLimitPerMinute:     readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:         readInt("RATE_LIMIT_BURST", 30),
		UserRateLimitPerMinute: readInt("USER_RATE_LIMIT_PER_MIN", 60),
		UserRateLimitBurst:     readInt("USER_RATE_LIMIT_BURST", 10),
		OTLPEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:           readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSampleRatio:       readFloat("OTEL_TRACES_SAMPLER_RATIO", 1),
	}
}

func (c Config) Validate() error {
	switch c.QueueBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DB_DSN is required for the postgres backend")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend)
	}
	if c.SimulationProbability < 0 || c.SimulationProbability > 1 {
		return fmt.Errorf("SIMULATION_ADVANCE_PROBABILITY must be within [0,1], got %v", c.SimulationProbability)
	}
	return nil
}

func readString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
