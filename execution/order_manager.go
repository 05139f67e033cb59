package execution

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mwhartley/execution-core/broker"
	"github.com/mwhartley/execution-core/events"
)

// ErrInvalidOrderParams is returned when bracket order inputs violate the
// entry/stop/target ordering a bracket requires.
var ErrInvalidOrderParams = errors.New("invalid order params")

// DefaultMaxAttempts bounds the number of broker attempts per submission or
// close.
const DefaultMaxAttempts = 3

// validateBracketParams enforces: for buy, stop_loss < entry_price < target;
// for short, target < entry_price < stop_loss.
func validateBracketParams(params broker.BracketParams) error {
	if params.Ticker == "" || params.Quantity <= 0 || params.EntryPrice <= 0 || params.StopLoss <= 0 || params.Target <= 0 {
		return fmt.Errorf("%w: all of ticker/quantity/entry/stop/target must be set and positive", ErrInvalidOrderParams)
	}
	switch params.Side {
	case broker.SideBuy:
		if !(params.StopLoss < params.EntryPrice && params.EntryPrice < params.Target) {
			return fmt.Errorf("%w: buy requires stop_loss < entry_price < target", ErrInvalidOrderParams)
		}
	case broker.SideShort:
		if !(params.Target < params.EntryPrice && params.EntryPrice < params.StopLoss) {
			return fmt.Errorf("%w: short requires target < entry_price < stop_loss", ErrInvalidOrderParams)
		}
	default:
		return fmt.Errorf("%w: unsupported bracket side %q", ErrInvalidOrderParams, params.Side)
	}
	return nil
}

// OrderManager submits bracket orders with validation and bounded retry,
// closes/cancels orders, and relays fill/rejection events.
type OrderManager struct {
	broker      broker.Broker
	risk        *RiskManager
	sink        events.Sink
	maxAttempts int
	backoff     time.Duration
}

// NewOrderManager builds an OrderManager. sink may be nil to discard events.
func NewOrderManager(b broker.Broker, risk *RiskManager, sink events.Sink) *OrderManager {
	return &OrderManager{broker: b, risk: risk, sink: sink, maxAttempts: DefaultMaxAttempts, backoff: 500 * time.Millisecond}
}

func (om *OrderManager) emit(now time.Time, kind events.Kind, fields map[string]any) {
	if om.sink == nil {
		return
	}
	om.sink.Emit(events.New(now, kind, fields))
}

// SubmitBracketOrder validates params, checks risk limits, then submits to
// the broker, retrying with exponential backoff up to maxAttempts. Every
// broker error is retried; transient and persistent failures are not told
// apart. When all attempts fail it emits order_rejected.
func (om *OrderManager) SubmitBracketOrder(params broker.BracketParams, now time.Time) (broker.BracketResult, error) {
	if err := validateBracketParams(params); err != nil {
		return broker.BracketResult{}, err
	}

	if om.risk != nil {
		account, err := om.broker.GetAccount()
		if err == nil {
			if err := om.risk.CheckOrder(params, account); err != nil {
				om.emit(now, events.OrderRejected, map[string]any{"ticker": params.Ticker, "reason": err.Error()})
				return broker.BracketResult{}, err
			}
		}
	}

	var lastErr error
	wait := om.backoff
	for attempt := 1; attempt <= om.maxAttempts; attempt++ {
		result, err := om.broker.SubmitBracketOrder(params)
		if err == nil {
			if result.DryRun {
				om.emit(now, events.DryRun, map[string]any{"ticker": params.Ticker, "order_id": result.OrderID})
			}
			return result, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("ticker", params.Ticker).Int("attempt", attempt).Msg("bracket order submission failed")
		if attempt < om.maxAttempts {
			time.Sleep(wait)
			wait *= 2
		}
	}

	om.emit(now, events.OrderRejected, map[string]any{"ticker": params.Ticker, "reason": lastErr.Error()})
	return broker.BracketResult{}, fmt.Errorf("bracket order submission failed after %d attempts: %w", om.maxAttempts, lastErr)
}

// ClosePosition asks the broker to close ticker's position, retrying
// failures with the same bounded backoff as SubmitBracketOrder. It does not
// cancel open bracket orders for ticker itself.
func (om *OrderManager) ClosePosition(ticker string) (broker.BracketResult, error) {
	return om.closePosition(ticker, false)
}

// ClosePositionImmediate closes ticker without waiting between retries, for
// an immediate-urgency dynamic exit that can't afford to sit through a
// backoff window.
func (om *OrderManager) ClosePositionImmediate(ticker string) (broker.BracketResult, error) {
	return om.closePosition(ticker, true)
}

func (om *OrderManager) closePosition(ticker string, immediate bool) (broker.BracketResult, error) {
	var lastErr error
	wait := om.backoff
	for attempt := 1; attempt <= om.maxAttempts; attempt++ {
		result, err := om.broker.ClosePosition(ticker)
		if err == nil {
			return result, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("ticker", ticker).Int("attempt", attempt).Msg("close position failed")
		if attempt < om.maxAttempts && !immediate {
			time.Sleep(wait)
			wait *= 2
		}
	}
	om.emit(time.Now(), events.OrderRejected, map[string]any{"ticker": ticker, "reason": lastErr.Error()})
	return broker.BracketResult{}, fmt.Errorf("close position failed after %d attempts: %w", om.maxAttempts, lastErr)
}

// CancelOrder cancels a single outstanding order.
func (om *OrderManager) CancelOrder(orderID string) error {
	return om.broker.CancelOrder(orderID)
}

// PollOrders returns fill, rejection and cancellation events observed since
// the last poll.
func (om *OrderManager) PollOrders() ([]broker.OrderEvent, error) {
	return om.broker.PollOrders()
}
