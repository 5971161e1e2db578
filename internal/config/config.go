package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Pool    PoolConfig
	Backend BackendConfig
	Store   StoreConfig
	Cache   CacheConfig
	Queue   QueueConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	APIKey       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type PoolConfig struct {
	Name            string
	WarmTarget      int
	RefreshInterval time.Duration
	// Mode selects the assignment discipline: "sticky" keeps an identity
	// bound to its instance until it stops; "lease" returns instances to
	// the warm set once AcquireTimeout elapses.
	Mode           string
	AcquireTimeout time.Duration
}

type BackendConfig struct {
	// Mode is "docker" or "podman".
	Mode             string
	Image            string
	Network          string
	PodmanSocketPath string
	StopTimeout      time.Duration
	// CapacityErrorMatch is the backend error text that indicates the
	// hidden concurrency ceiling was hit, as documented by the backend.
	// Matching happens only inside the adapters.
	CapacityErrorMatch string
}

type StoreConfig struct {
	// Driver is "valkey" or "bolt".
	Driver     string
	ValkeyAddr string
	Password   string
	DB         int
	BoltPath   string
}

type CacheConfig struct {
	Enabled    bool
	ValkeyAddr string
	Password   string
	DB         int
	TTL        time.Duration
}

type QueueConfig struct {
	Enabled     bool
	NATSURL     string
	StreamName  string
	WorkerCount int
}

type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			APIKey:       getEnv("SERVER_API_KEY", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Pool: PoolConfig{
			Name:            getEnv("POOL_NAME", "default"),
			WarmTarget:      getEnvInt("POOL_WARM_TARGET", 5),
			RefreshInterval: getEnvDuration("POOL_REFRESH_INTERVAL", 30*time.Second),
			Mode:            getEnv("POOL_MODE", "sticky"),
			AcquireTimeout:  getEnvDuration("POOL_ACQUIRE_TIMEOUT", 0),
		},
		Backend: BackendConfig{
			Mode:               getEnv("BACKEND_MODE", "docker"),
			Image:              getEnv("BACKEND_IMAGE", "nginx:alpine"),
			Network:            getEnv("BACKEND_NETWORK", ""),
			PodmanSocketPath:   getEnv("BACKEND_PODMAN_SOCKET", "unix:///run/podman/podman.sock"),
			StopTimeout:        getEnvDuration("BACKEND_STOP_TIMEOUT", 10*time.Second),
			CapacityErrorMatch: getEnv("BACKEND_CAPACITY_ERROR_MATCH", "maximum number of containers"),
		},
		Store: StoreConfig{
			Driver:     getEnv("STORE_DRIVER", "valkey"),
			ValkeyAddr: getEnv("VALKEY_ADDR", "localhost:6379"),
			Password:   getEnv("VALKEY_PASSWORD", ""),
			DB:         getEnvInt("VALKEY_DB", 0),
			BoltPath:   getEnv("STORE_BOLT_PATH", "/var/lib/poolwarden/state.db"),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", false),
			ValkeyAddr: getEnv("CACHE_VALKEY_ADDR", "localhost:6379"),
			Password:   getEnv("CACHE_VALKEY_PASSWORD", ""),
			DB:         getEnvInt("CACHE_VALKEY_DB", 1),
			TTL:        getEnvDuration("CACHE_TTL", 10*time.Minute),
		},
		Queue: QueueConfig{
			Enabled:     getEnvBool("QUEUE_ENABLED", false),
			NATSURL:     getEnv("NATS_URL", "nats://localhost:4222"),
			StreamName:  getEnv("NATS_STREAM_NAME", "POOL"),
			WorkerCount: getEnvInt("NATS_WORKER_COUNT", 2),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
