package config

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cache backends accepted by CACHE_BACKEND.
const (
	CacheNone     = "none"
	CacheMemory   = "memory"
	CachePostgres = "postgres"
)

// Config holds all configuration for the sweepworld server
type Config struct {
	Server    ServerConfig
	World     WorldConfig
	Cache     CacheConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	Environment    string
	AllowedOrigins []string
}

// WorldConfig selects the world being served
type WorldConfig struct {
	Seed             uint32
	NoiseAlgorithm   string
	GeneratorWorkers int
	MaxBatchChunks   int
}

// CacheConfig selects where generated chunks are kept
type CacheConfig struct {
	Backend   string
	MaxChunks int
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// AuthConfig holds token verification configuration
type AuthConfig struct {
	Required      bool
	JWTSecret     string
	JWTExpiration time.Duration
}

// RateLimitConfig holds per-IP request limits
type RateLimitConfig struct {
	Requests int64
	Window   time.Duration
}

// LoggingConfig holds logging and profiling configuration
type LoggingConfig struct {
	ProfilingEnabled        bool
	ProfilingReportInterval time.Duration
}

// Load reads configuration from environment variables and .env file
// The .env file is loaded from the current working directory
func Load() (*Config, error) {
	// godotenv.Load() looks for .env in the current working directory
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found (this is OK if using environment variables): %v", err)
	}

	config := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:    getEnv("ENVIRONMENT", "development"),
			AllowedOrigins: getListEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		},
		World: WorldConfig{
			Seed:             getUint32Env("WORLD_SEED", 1),
			NoiseAlgorithm:   getEnv("NOISE_ALGORITHM", "perlin"),
			GeneratorWorkers: getIntEnv("GENERATOR_WORKERS", runtime.NumCPU()),
			MaxBatchChunks:   getIntEnv("MAX_BATCH_CHUNKS", 256),
		},
		Cache: CacheConfig{
			Backend:   getEnv("CACHE_BACKEND", CacheMemory),
			MaxChunks: getIntEnv("CACHE_MAX_CHUNKS", 4096),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getIntEnv("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "sweepworld_dev"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxConnections:  getIntEnv("DB_MAX_CONNECTIONS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Auth: AuthConfig{
			Required:      getBoolEnv("AUTH_REQUIRED", false),
			JWTSecret:     getEnv("JWT_SECRET", ""),
			JWTExpiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Requests: int64(getIntEnv("RATE_LIMIT_REQUESTS", 600)),
			Window:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		},
		Logging: LoggingConfig{
			ProfilingEnabled:        getBoolEnv("PROFILING_ENABLED", false),
			ProfilingReportInterval: getDurationEnv("PROFILING_REPORT_INTERVAL", 0),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks that the configuration is consistent
func (c *Config) Validate() error {
	switch c.World.NoiseAlgorithm {
	case "perlin", "opensimplex":
	default:
		return fmt.Errorf("NOISE_ALGORITHM must be perlin or opensimplex, got %q", c.World.NoiseAlgorithm)
	}
	if c.World.GeneratorWorkers <= 0 {
		return fmt.Errorf("GENERATOR_WORKERS must be positive")
	}
	if c.World.MaxBatchChunks <= 0 {
		return fmt.Errorf("MAX_BATCH_CHUNKS must be positive")
	}

	switch c.Cache.Backend {
	case CacheNone, CacheMemory:
	case CachePostgres:
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required for the postgres cache")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be none, memory or postgres, got %q", c.Cache.Backend)
	}

	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when AUTH_REQUIRED is set")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

// DatabaseURL returns a PostgreSQL connection string
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
	)
}

// Addr returns the listen address
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// IsDevelopment returns true if running in development mode
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Helper functions for environment variable access

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return intValue
}

func getUint32Env(key string, defaultValue uint32) uint32 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseUint(value, 0, 32)
	if err != nil {
		log.Printf("Warning: invalid uint32 value for %s: %s, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return uint32(parsed)
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: invalid boolean value for %s: %s, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: invalid duration value for %s: %s, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return duration
}

// getListEnv splits a comma-separated variable, dropping empty items.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
