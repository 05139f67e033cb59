// Package config provides configuration management for the execution core.
// It loads settings from environment variables and .env files, with
// aggregated validation and mutex-guarded hot-reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// BrokerKind selects which broker.Broker implementation cmd/engine wires up.
type BrokerKind string

const (
	BrokerPaper  BrokerKind = "paper"
	BrokerAlpaca BrokerKind = "alpaca"
)

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warn": true, "error": true, "fatal": true,
	"panic": true, "disabled": true,
}

var validBrokers = map[BrokerKind]bool{
	BrokerPaper:  true,
	BrokerAlpaca: true,
}

var validStrategies = map[string]bool{
	"momentum":       true,
	"breakout":       true,
	"mean_reversion": true,
}

// ValidationError aggregates every configuration problem found, so an
// operator can fix all of them in one pass instead of one-at-a-time.
type ValidationError struct {
	Errors []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("%d configuration error(s):\n  - %s",
		len(ve.Errors), strings.Join(ve.Errors, "\n  - "))
}

// ReloadChange describes one configuration field that differed on reload.
type ReloadChange struct {
	Field    string      `json:"field"`
	OldValue interface{} `json:"old_value"`
	NewValue interface{} `json:"new_value"`
	Applied  bool        `json:"applied"`
}

// ReloadResult summarizes the outcome of a hot-reload.
type ReloadResult struct {
	Changes         []ReloadChange `json:"changes"`
	RequiresRestart bool           `json:"requires_restart"`
	RestartReasons  []string       `json:"restart_reasons,omitempty"`
}

// Config holds all configuration for the execution core.
type Config struct {
	mu sync.RWMutex // protects hot-reloadable fields during concurrent access

	// Admin HTTP surface
	ServerPort     int
	ServerHost     string
	APIKey         string
	AllowedOrigins []string

	// Broker selection
	BrokerKind      BrokerKind
	AlpacaBaseURL   string
	AlpacaKeyID     string
	AlpacaSecretKey string
	AnalyzeMode     bool // paper broker dry-run; orders validated and logged, never filled

	// Persistence
	StatePath  string
	LedgerPath string

	// Strategy roster
	StrategyConfigPath string
	EnabledStrategies  []string

	// Engine cycle tuning
	CheckInterval    time.Duration
	MaxOpenPositions int
	MaxQueueSize     int
	CooldownDuration time.Duration
	SignalCacheTTL   time.Duration

	LogLevel        string
	ShutdownTimeout time.Duration

	EnvFile string
}

// Load reads configuration from environment variables and an optional .env
// file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := fromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		ServerPort:     getEnvInt("PORT", 8090),
		ServerHost:     getEnv("HOST", "0.0.0.0"),
		APIKey:         os.Getenv("API_KEY"),
		AllowedOrigins: parseList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		BrokerKind:      BrokerKind(getEnv("BROKER_KIND", string(BrokerPaper))),
		AlpacaBaseURL:   getEnv("ALPACA_BASE_URL", "https://paper-api.alpaca.markets"),
		AlpacaKeyID:     os.Getenv("ALPACA_KEY_ID"),
		AlpacaSecretKey: os.Getenv("ALPACA_SECRET_KEY"),
		AnalyzeMode:     getEnv("ANALYZE_MODE", "false") == "true",

		StatePath:  getEnv("STATE_PATH", "./data/state.json"),
		LedgerPath: getEnv("LEDGER_PATH", "./data/ledger.db"),

		StrategyConfigPath: getEnv("STRATEGY_CONFIG_PATH", ""),
		EnabledStrategies:  parseList(getEnv("ENABLED_STRATEGIES", "momentum,breakout,mean_reversion")),

		CheckInterval:    getEnvDuration("CHECK_INTERVAL", 60*time.Second),
		MaxOpenPositions: getEnvInt("MAX_OPEN_POSITIONS", 10),
		MaxQueueSize:     getEnvInt("MAX_QUEUE_SIZE", 100),
		CooldownDuration: getEnvDuration("COOLDOWN_DURATION", 30*time.Minute),
		SignalCacheTTL:   getEnvDuration("SIGNAL_CACHE_TTL", 5*time.Minute),

		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		EnvFile: ".env",
	}
}

// Validate performs fail-fast aggregated validation of every field.
func (c *Config) Validate() error {
	var errs []string

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Sprintf("invalid PORT %d: must be between 1 and 65535", c.ServerPort))
	}
	if c.StatePath == "" {
		errs = append(errs, "STATE_PATH is empty: set STATE_PATH in .env (e.g., STATE_PATH=./data/state.json)")
	}
	if c.LedgerPath == "" {
		errs = append(errs, "LEDGER_PATH is empty: set LEDGER_PATH in .env (e.g., LEDGER_PATH=./data/ledger.db)")
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("invalid LOG_LEVEL %q: must be one of trace, debug, info, warn, error, fatal, panic, disabled", c.LogLevel))
	}
	if !validBrokers[c.BrokerKind] {
		errs = append(errs, fmt.Sprintf("invalid BROKER_KIND %q: must be one of paper, alpaca", c.BrokerKind))
	} else if c.BrokerKind == BrokerAlpaca {
		if c.AlpacaKeyID == "" {
			errs = append(errs, "alpaca broker requires ALPACA_KEY_ID: set it in .env")
		}
		if c.AlpacaSecretKey == "" {
			errs = append(errs, "alpaca broker requires ALPACA_SECRET_KEY: set it in .env")
		}
	}
	errs = append(errs, c.validateStrategies()...)
	if c.CheckInterval <= 0 {
		errs = append(errs, "CHECK_INTERVAL must be positive")
	}
	if c.MaxOpenPositions <= 0 {
		errs = append(errs, "MAX_OPEN_POSITIONS must be positive")
	}
	if c.MaxQueueSize <= 0 {
		errs = append(errs, "MAX_QUEUE_SIZE must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func (c *Config) validateStrategies() []string {
	var errs []string
	for _, name := range c.EnabledStrategies {
		if !validStrategies[name] {
			errs = append(errs, fmt.Sprintf("unknown strategy %q in ENABLED_STRATEGIES: available strategies are momentum, breakout, mean_reversion", name))
		}
	}
	return errs
}

// IsAnalyzeMode reports whether submitted orders should be dry-run only.
func (c *Config) IsAnalyzeMode() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AnalyzeMode
}

// SetAnalyzeMode flips the config's analyze-mode flag at runtime. The admin
// surface's set_analyze_mode operation goes through Engine.SetAnalyzeMode,
// not this method.
func (c *Config) SetAnalyzeMode(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AnalyzeMode = on
}

// Reload re-reads environment/.env and applies hot-reloadable fields to the
// live config. Structural fields (server port, broker selection,
// persistence paths, enabled strategies) are detected but not applied; the
// caller receives a restart-required advisory instead.
func (c *Config) Reload() (*ReloadResult, error) {
	envFile := c.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Overload(envFile)

	fresh := fromEnv()
	fresh.EnvFile = envFile
	if err := fresh.Validate(); err != nil {
		return nil, fmt.Errorf("reloaded config validation failed: %w", err)
	}

	result := &ReloadResult{Changes: make([]ReloadChange, 0)}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.detectRestartChange(result, "ServerPort", c.ServerPort, fresh.ServerPort)
	c.detectRestartChange(result, "BrokerKind", string(c.BrokerKind), string(fresh.BrokerKind))
	c.detectRestartChange(result, "StatePath", c.StatePath, fresh.StatePath)
	c.detectRestartChange(result, "LedgerPath", c.LedgerPath, fresh.LedgerPath)
	if !stringSlicesEqual(c.EnabledStrategies, fresh.EnabledStrategies) {
		result.Changes = append(result.Changes, ReloadChange{Field: "EnabledStrategies", OldValue: c.EnabledStrategies, NewValue: fresh.EnabledStrategies, Applied: false})
		result.RequiresRestart = true
		result.RestartReasons = append(result.RestartReasons, "EnabledStrategies changed")
	}

	if c.LogLevel != fresh.LogLevel {
		result.Changes = append(result.Changes, ReloadChange{Field: "LogLevel", OldValue: c.LogLevel, NewValue: fresh.LogLevel, Applied: true})
		c.LogLevel = fresh.LogLevel
		if lvl, err := zerolog.ParseLevel(fresh.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}
	if c.ShutdownTimeout != fresh.ShutdownTimeout {
		result.Changes = append(result.Changes, ReloadChange{Field: "ShutdownTimeout", OldValue: c.ShutdownTimeout.String(), NewValue: fresh.ShutdownTimeout.String(), Applied: true})
		c.ShutdownTimeout = fresh.ShutdownTimeout
	}
	if c.CheckInterval != fresh.CheckInterval {
		result.Changes = append(result.Changes, ReloadChange{Field: "CheckInterval", OldValue: c.CheckInterval.String(), NewValue: fresh.CheckInterval.String(), Applied: true})
		c.CheckInterval = fresh.CheckInterval
	}
	if c.MaxOpenPositions != fresh.MaxOpenPositions {
		result.Changes = append(result.Changes, ReloadChange{Field: "MaxOpenPositions", OldValue: c.MaxOpenPositions, NewValue: fresh.MaxOpenPositions, Applied: true})
		c.MaxOpenPositions = fresh.MaxOpenPositions
	}
	if c.MaxQueueSize != fresh.MaxQueueSize {
		result.Changes = append(result.Changes, ReloadChange{Field: "MaxQueueSize", OldValue: c.MaxQueueSize, NewValue: fresh.MaxQueueSize, Applied: true})
		c.MaxQueueSize = fresh.MaxQueueSize
	}
	if !stringSlicesEqual(c.AllowedOrigins, fresh.AllowedOrigins) {
		result.Changes = append(result.Changes, ReloadChange{Field: "AllowedOrigins", OldValue: c.AllowedOrigins, NewValue: fresh.AllowedOrigins, Applied: true})
		c.AllowedOrigins = fresh.AllowedOrigins
	}

	log.Info().
		Int("total_changes", len(result.Changes)).
		Bool("requires_restart", result.RequiresRestart).
		Msg("configuration reloaded")

	return result, nil
}

func (c *Config) detectRestartChange(result *ReloadResult, field string, oldVal, newVal interface{}) {
	if fmt.Sprintf("%v", oldVal) != fmt.Sprintf("%v", newVal) {
		result.Changes = append(result.Changes, ReloadChange{Field: field, OldValue: oldVal, NewValue: newVal, Applied: false})
		result.RequiresRestart = true
		result.RestartReasons = append(result.RestartReasons, field+" changed")
	}
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
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

func parseList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
