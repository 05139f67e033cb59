// Command engine is the execution core's standalone process: it wires every
// collaborator package together and drives the engine's cycle loop plus its
// optional admin HTTP surface (load config -> build collaborators -> build
// engine -> start HTTP -> wait for signal -> graceful shutdown).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mwhartley/execution-core/adminapi"
	"github.com/mwhartley/execution-core/broker"
	"github.com/mwhartley/execution-core/config"
	"github.com/mwhartley/execution-core/cooldown"
	"github.com/mwhartley/execution-core/engine"
	"github.com/mwhartley/execution-core/events"
	"github.com/mwhartley/execution-core/execution"
	"github.com/mwhartley/execution-core/ledger"
	"github.com/mwhartley/execution-core/marketdata"
	"github.com/mwhartley/execution-core/positions"
	"github.com/mwhartley/execution-core/realtime"
	"github.com/mwhartley/execution-core/signalcache"
	"github.com/mwhartley/execution-core/signalqueue"
	"github.com/mwhartley/execution-core/state"
	"github.com/mwhartley/execution-core/strategy"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("execution core exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if lvl, lvlErr := zerolog.ParseLevel(cfg.LogLevel); lvlErr == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	liveBroker, err := buildBroker(cfg)
	if err != nil {
		return fmt.Errorf("build broker: %w", err)
	}

	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	store := state.New(cfg.StatePath)

	broadcaster := realtime.NewBroadcaster()
	broadcastStop := make(chan struct{})
	go broadcaster.Run(broadcastStop)
	defer close(broadcastStop)

	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build strategy registry: %w", err)
	}

	evtSink := buildSink(broadcaster)

	provider := marketdata.NewFinanceGoProvider(30)

	deps := engine.Deps{
		Queue:     signalqueue.New(cfg.MaxQueueSize, signalqueue.DefaultTTL),
		Tracker:   positions.New(evtSink),
		Cooldowns: cooldown.New(cfg.CooldownDuration),
		Cache:     signalcache.New(cfg.SignalCacheTTL),
		Orders:    execution.NewOrderManager(liveBroker, execution.NewRiskManager(execution.DefaultRiskConfig()), evtSink),
		Broker:    liveBroker,
		Registry:  registry,
		Signals:   provider,
		VIX:       provider,
		Account:   nil,
		Store:     store,
		Sink:      evtSink,
		Ledger:    led,
	}
	if clock, ok := liveBroker.(broker.MarketClock); ok {
		deps.Clock = clock
	}

	ecfg := engine.Config{
		MaxPositions:     cfg.MaxOpenPositions,
		MaxSignals:       cfg.MaxQueueSize,
		CheckInterval:    cfg.CheckInterval,
		DefaultCooldown:  cfg.CooldownDuration,
		AnalyzeMode:      cfg.AnalyzeMode,
	}.WithDefaults()

	eng := engine.New(deps, ecfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler: adminapi.NewRouter(adminapi.NewHandler(eng), cfg.APIKey),
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("admin http surface listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("admin http surface stopped unexpectedly")
		}
	}()

	waitForShutdown(cfg.ShutdownTimeout, eng, srv, led)
	return nil
}

// waitForShutdown blocks until SIGINT/SIGTERM, then drains the engine and
// the admin HTTP server within timeout.
func waitForShutdown(timeout time.Duration, eng *engine.Engine, srv *http.Server, led *ledger.Ledger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, draining")
	eng.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("admin http surface shutdown error")
	}
	if led != nil {
		if err := led.Close(); err != nil {
			log.Error().Err(err).Msg("ledger close error")
		}
	}
}

// buildBroker selects and constructs the configured broker implementation,
// wrapping a live Alpaca broker with a circuit breaker since only a network
// broker can fail the way gobreaker guards against.
func buildBroker(cfg *config.Config) (broker.Broker, error) {
	switch cfg.BrokerKind {
	case config.BrokerAlpaca:
		live := broker.NewAlpacaBroker(broker.AlpacaConfig{
			BaseURL:   cfg.AlpacaBaseURL,
			KeyID:     cfg.AlpacaKeyID,
			SecretKey: cfg.AlpacaSecretKey,
		})
		if err := live.Connect(); err != nil {
			return nil, fmt.Errorf("connect alpaca broker: %w", err)
		}
		return broker.NewCircuitBreakerBroker(live), nil
	default:
		pb := broker.NewPaperBroker(100_000, cfg.IsAnalyzeMode())
		return pb, nil
	}
}

// buildRegistry builds the default strategy registry, then re-registers any
// strategy named in cfg.StrategyConfigPath's YAML roster with a factory
// that closes over its loaded Config, so Engine's Get(name, nil) calls pick
// up the operator-supplied parameters instead of each strategy's defaults.
func buildRegistry(cfg *config.Config) (*strategy.Registry, error) {
	registry := strategy.NewDefaultRegistry()
	if cfg.StrategyConfigPath == "" {
		return registry, nil
	}

	roster, err := strategy.LoadConfigFile(cfg.StrategyConfigPath)
	if err != nil {
		return nil, err
	}

	factories := map[string]strategy.Factory{
		"momentum":       strategy.NewMomentum,
		"breakout":       strategy.NewBreakout,
		"mean_reversion": strategy.NewMeanReversion,
	}
	for name, sc := range roster {
		base, ok := factories[name]
		if !ok {
			log.Warn().Str("strategy", name).Msg("strategy config roster names an unregistered strategy, ignoring")
			continue
		}
		loaded := sc
		registry.Register(name, func(_ strategy.Config) (strategy.Strategy, error) {
			return base(loaded)
		})
	}
	return registry, nil
}

// buildSink composes the default logging sink with the optional websocket
// broadcast: every event is always logged regardless of what else observes
// it. The audit ledger is not wired here: it
// records orders/fills/decisions directly from the engine's own call sites
// via engine.Deps.Ledger, not from this generic event stream.
func buildSink(broadcaster *realtime.Broadcaster) events.Sink {
	registry := events.NewRegistry()
	registry.OnAny(func(e events.Event) { events.LoggingSink{}.Emit(e) })
	registry.OnAny(realtime.Handler(broadcaster))
	return registry
}
