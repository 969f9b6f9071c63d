// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// GatewayMode selects the market gateway implementation.
const (
	GatewaySim  = "sim"
	GatewayIBKR = "ibkr"
)

// Config holds application configuration
type Config struct {
	// Swarm
	Symbols       []string // Universe the swarm trades
	CapitalBudget float64  // Total capital the queen allocates against
	SwarmSize     int      // Population hint; role counts derive from it

	// Agent cadences
	ScoutInterval  time.Duration
	WorkerInterval time.Duration
	DroneInterval  time.Duration
	QueenInterval  time.Duration

	// Gateway
	GatewayMode    string // sim | ibkr
	GatewayBaseURL string
	GatewayTimeout time.Duration

	// Journal (empty path disables it)
	JournalPath string

	LogLevel string
	Port     int
	DevMode  bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Symbols:        getEnvAsList("SWARM_SYMBOLS", []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "NVDA", "META", "SPY"}),
		CapitalBudget:  getEnvAsFloat("SWARM_CAPITAL_BUDGET", 100000),
		SwarmSize:      getEnvAsInt("SWARM_SIZE", 10),
		ScoutInterval:  getEnvAsDuration("SCOUT_INTERVAL", 500*time.Millisecond),
		WorkerInterval: getEnvAsDuration("WORKER_INTERVAL", time.Second),
		DroneInterval:  getEnvAsDuration("DRONE_INTERVAL", 5*time.Second),
		QueenInterval:  getEnvAsDuration("QUEEN_INTERVAL", 10*time.Second),
		GatewayMode:    getEnv("GATEWAY_MODE", GatewaySim),
		GatewayBaseURL: getEnv("GATEWAY_BASE_URL", "https://localhost:5000/v1/api"),
		GatewayTimeout: getEnvAsDuration("GATEWAY_TIMEOUT", 10*time.Second),
		JournalPath:    getEnv("JOURNAL_PATH", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Port:           getEnvAsInt("PORT", 8001),
		DevMode:        getEnvAsBool("DEV_MODE", false),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.CapitalBudget <= 0 {
		return fmt.Errorf("capital budget must be positive, got %v", c.CapitalBudget)
	}
	if c.SwarmSize < 1 {
		return fmt.Errorf("swarm size must be at least 1, got %d", c.SwarmSize)
	}
	if c.GatewayMode != GatewaySim && c.GatewayMode != GatewayIBKR {
		return fmt.Errorf("unknown gateway mode %q", c.GatewayMode)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
