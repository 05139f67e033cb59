// Package strategy defines the execution core's pluggable entry/exit
// evaluation contract and its registry: a factory-based Registry (register a
// constructor, not an instance) so the engine can build a fresh strategy
// from persisted/reloaded config while still caching a default instance.
package strategy

import (
	"fmt"

	"github.com/mwhartley/execution-core/models"
)

// Strategy evaluates entries and exits for one ticker/signal at a time. All
// concrete strategies (momentum, breakout, mean-reversion) satisfy this.
type Strategy interface {
	Name() string
	EvaluateEntry(signal models.PendingSignal, ctx models.MarketContext, signals models.TechnicalSignals) models.EntryDecision
	EvaluateExit(position models.TrackedPosition, signals models.TechnicalSignals, ctx models.MarketContext) models.ExitDecision
}

// PositionSizer is satisfied by strategies that size positions via the
// shared default formula instead of a bespoke one.
type PositionSizer interface {
	CalculatePositionSize(price float64, ctx models.MarketContext, maxAmount float64) int
}

// DefaultMaxPositionPct caps a single position at this share of account
// equity when the operator's config doesn't say otherwise. Without it an
// autonomous strategy would size every entry to zero and never trade.
const DefaultMaxPositionPct = 0.1

// Config is the common tunable surface every concrete strategy embeds,
// loaded from YAML and passed to a Factory.
type Config struct {
	MaxPositionPct float64        `yaml:"max_position_pct"`
	Params         map[string]any `yaml:"params"`
}

// withDefaults fills zero-valued common fields; every Factory runs its
// config through this before embedding it.
func (c Config) withDefaults() Config {
	if c.MaxPositionPct <= 0 {
		c.MaxPositionPct = DefaultMaxPositionPct
	}
	return c
}

// GetFloat returns a float64 param with a default.
func (c Config) GetFloat(key string, def float64) float64 {
	v, ok := c.Params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

// GetInt returns an int param with a default.
func (c Config) GetInt(key string, def int) int {
	v, ok := c.Params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

// Base provides the shared position-sizing formula: min(max_position_pct *
// account_equity, max_amount) / price, floored.
type Base struct {
	Config Config
}

// CalculatePositionSize returns the floored share count affordable within
// both the strategy's position-sizing cap and the caller's maxAmount.
func (b Base) CalculatePositionSize(price float64, ctx models.MarketContext, maxAmount float64) int {
	if price <= 0 {
		return 0
	}
	cap := b.Config.MaxPositionPct * ctx.AccountEquity
	if maxAmount > 0 && maxAmount < cap {
		cap = maxAmount
	}
	if cap <= 0 {
		return 0
	}
	return int(cap / price)
}

// Factory constructs a Strategy instance from config.
type Factory func(config Config) (Strategy, error)

// ErrUnknownStrategy is returned by Get for an unregistered name.
type ErrUnknownStrategy struct{ Name string }

func (e ErrUnknownStrategy) Error() string { return fmt.Sprintf("unknown strategy: %s", e.Name) }

// Registry holds strategy factories and caches a default instance per name.
type Registry struct {
	factories map[string]Factory
	defaults  map[string]Strategy
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory), defaults: make(map[string]Strategy)}
}

// Register adds a factory under name, replacing any prior registration.
func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
	delete(r.defaults, name)
}

// Get builds a Strategy from config, or returns the cached default instance
// when config is nil. Fails with ErrUnknownStrategy for an unregistered name.
func (r *Registry) Get(name string, config *Config) (Strategy, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, ErrUnknownStrategy{Name: name}
	}
	if config == nil {
		if s, cached := r.defaults[name]; cached {
			return s, nil
		}
		s, err := factory(Config{})
		if err != nil {
			return nil, err
		}
		r.defaults[name] = s
		return s, nil
	}
	return factory(*config)
}

// List returns every registered strategy name.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
