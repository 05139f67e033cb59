package broker

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/mwhartley/execution-core/models"
)

// CircuitBreakerSettings configures the gobreaker.CircuitBreaker wrapping a
// live broker. Shape grounded on eddiefleurent-scranton_strangler's
// broker.CircuitBreakerSettings (only its interface_test.go survived the
// retrieval pack; the wrapper type itself is rebuilt here from that usage).
type CircuitBreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// DefaultCircuitBreakerSettings trips once at least half of a small sample
// of requests (three or more) fail.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  1,
	Interval:     time.Minute,
	Timeout:      30 * time.Second,
	MinRequests:  3,
	FailureRatio: 0.5,
}

// CircuitBreakerBroker wraps a live Broker with a gobreaker.CircuitBreaker so
// a string of broker failures trips open and fails fast instead of retrying
// into a degraded upstream.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerBroker wraps broker with DefaultCircuitBreakerSettings.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, DefaultCircuitBreakerSettings)
}

// NewCircuitBreakerBrokerWithSettings wraps broker with explicit settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	st := gobreaker.Settings{
		Name:        "broker-" + broker.Name(),
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= settings.FailureRatio
		},
	}
	return &CircuitBreakerBroker{broker: broker, breaker: gobreaker.NewCircuitBreaker(st)}
}

func (cb *CircuitBreakerBroker) Name() string { return cb.broker.Name() }

func (cb *CircuitBreakerBroker) Connect() error {
	_, err := cb.breaker.Execute(func() (any, error) { return nil, cb.broker.Connect() })
	return err
}

func (cb *CircuitBreakerBroker) Disconnect() error { return cb.broker.Disconnect() }

func (cb *CircuitBreakerBroker) IsConnected() bool { return cb.broker.IsConnected() }

func (cb *CircuitBreakerBroker) SubmitBracketOrder(params BracketParams) (BracketResult, error) {
	res, err := cb.breaker.Execute(func() (any, error) { return cb.broker.SubmitBracketOrder(params) })
	if err != nil {
		return BracketResult{}, err
	}
	return res.(BracketResult), nil
}

func (cb *CircuitBreakerBroker) ClosePosition(ticker string) (BracketResult, error) {
	res, err := cb.breaker.Execute(func() (any, error) { return cb.broker.ClosePosition(ticker) })
	if err != nil {
		return BracketResult{}, err
	}
	return res.(BracketResult), nil
}

func (cb *CircuitBreakerBroker) CancelOrder(orderID string) error {
	_, err := cb.breaker.Execute(func() (any, error) { return nil, cb.broker.CancelOrder(orderID) })
	return err
}

func (cb *CircuitBreakerBroker) PollOrders() ([]OrderEvent, error) {
	res, err := cb.breaker.Execute(func() (any, error) { return cb.broker.PollOrders() })
	if err != nil {
		return nil, err
	}
	return res.([]OrderEvent), nil
}

func (cb *CircuitBreakerBroker) ListPositions() ([]models.BrokerPosition, error) {
	res, err := cb.breaker.Execute(func() (any, error) { return cb.broker.ListPositions() })
	if err != nil {
		return nil, err
	}
	return res.([]models.BrokerPosition), nil
}

func (cb *CircuitBreakerBroker) GetAccount() (Account, error) {
	res, err := cb.breaker.Execute(func() (any, error) { return cb.broker.GetAccount() })
	if err != nil {
		return Account{}, err
	}
	return res.(Account), nil
}

// State exposes the underlying breaker's state for observability/tests.
func (cb *CircuitBreakerBroker) State() gobreaker.State { return cb.breaker.State() }

// Status passes through to the wrapped broker's market clock when it
// implements one, through the same breaker as every other call; an
// unwrapped broker (or a tripped breaker) reports closed rather than risk
// trading against a stale session guess.
func (cb *CircuitBreakerBroker) Status(now time.Time) models.MarketStatus {
	clock, ok := cb.broker.(MarketClock)
	if !ok {
		return models.MarketClosed
	}
	res, err := cb.breaker.Execute(func() (any, error) { return clock.Status(now), nil })
	if err != nil {
		return models.MarketClosed
	}
	return res.(models.MarketStatus)
}
