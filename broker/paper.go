package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mwhartley/execution-core/models"
)

// PaperBroker simulates broker fills for analyze-mode runs and local
// testing. Entry orders fill instantly at the requested price; no real
// money or network I/O is involved.
type PaperBroker struct {
	mu           sync.Mutex
	connected    bool
	analyzeMode  bool
	account      Account
	positions    map[string]models.BrokerPosition
	latestPrices map[string]float64
	events       []OrderEvent
	marketStatus models.MarketStatus
}

// NewPaperBroker creates a paper broker seeded with initialCash. When
// analyzeMode is true, SubmitBracketOrder and ClosePosition return a
// synthetic dry-run result without mutating simulated position/balance
// state.
func NewPaperBroker(initialCash float64, analyzeMode bool) *PaperBroker {
	return &PaperBroker{
		analyzeMode:  analyzeMode,
		account:      Account{Equity: initialCash, BuyingPower: initialCash, Cash: initialCash},
		positions:    make(map[string]models.BrokerPosition),
		latestPrices: make(map[string]float64),
		marketStatus: models.MarketOpen,
	}
}

// SetMarketStatus overrides the simulated market-clock state returned by
// Status, so tests can exercise the engine's pre-filter against pre-market,
// after-hours, or closed conditions without a real market clock.
func (b *PaperBroker) SetMarketStatus(status models.MarketStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marketStatus = status
}

// Status implements MarketClock, defaulting to "open" for paper/analyze-mode
// runs so they never stall on a real market calendar.
func (b *PaperBroker) Status(now time.Time) models.MarketStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.marketStatus
}

func (b *PaperBroker) Name() string { return "paper" }

func (b *PaperBroker) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *PaperBroker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *PaperBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// SetPrice records the latest traded price for ticker, used to fill market
// orders and to mark simulated positions.
func (b *PaperBroker) SetPrice(ticker string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latestPrices[ticker] = price
}

func (b *PaperBroker) SubmitBracketOrder(params BracketParams) (BracketResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	orderID := "paper-" + uuid.NewString()

	if b.analyzeMode {
		return BracketResult{OrderID: orderID, DryRun: true, Ticker: params.Ticker, Side: params.Side, Quantity: params.Quantity, Price: params.EntryPrice}, nil
	}

	cost := params.EntryPrice * float64(params.Quantity)
	switch params.Side {
	case SideBuy, SideCover:
		if cost > b.account.BuyingPower {
			b.events = append(b.events, OrderEvent{Kind: OrderRejected, OrderID: orderID, Ticker: params.Ticker, Reason: "insufficient buying power", Timestamp: time.Now()})
			return BracketResult{}, fmt.Errorf("insufficient buying power: need %.2f have %.2f", cost, b.account.BuyingPower)
		}
		b.account.Cash -= cost
		b.account.BuyingPower -= cost
	default: // short
		b.account.Cash += cost
		b.account.BuyingPower += cost
	}

	side := models.SideLong
	if params.Side == SideShort {
		side = models.SideShort
	}
	b.positions[params.Ticker] = models.BrokerPosition{
		Ticker:        params.Ticker,
		Side:          side,
		Quantity:      params.Quantity,
		AvgEntryPrice: params.EntryPrice,
		CurrentPrice:  params.EntryPrice,
	}
	b.events = append(b.events, OrderEvent{Kind: OrderFilled, OrderID: orderID, Ticker: params.Ticker, Price: params.EntryPrice, Quantity: params.Quantity, Timestamp: time.Now()})

	log.Debug().Str("order_id", orderID).Str("ticker", params.Ticker).Msg("paper bracket order filled")
	return BracketResult{OrderID: orderID, Ticker: params.Ticker, Side: params.Side, Quantity: params.Quantity, Price: params.EntryPrice}, nil
}

func (b *PaperBroker) ClosePosition(ticker string) (BracketResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	orderID := "paper-close-" + uuid.NewString()
	if b.analyzeMode {
		return BracketResult{OrderID: orderID, DryRun: true, Ticker: ticker}, nil
	}

	pos, ok := b.positions[ticker]
	if !ok {
		return BracketResult{}, fmt.Errorf("no open position for %s", ticker)
	}
	price, ok := b.latestPrices[ticker]
	if !ok {
		price = pos.CurrentPrice
	}

	proceeds := price * float64(pos.Quantity)
	if pos.Side == models.SideShort {
		b.account.Cash -= proceeds
		b.account.BuyingPower -= proceeds
	} else {
		b.account.Cash += proceeds
		b.account.BuyingPower += proceeds
	}
	delete(b.positions, ticker)
	b.events = append(b.events, OrderEvent{Kind: OrderFilled, OrderID: orderID, Ticker: ticker, Price: price, Quantity: pos.Quantity, Timestamp: time.Now()})

	return BracketResult{OrderID: orderID, Ticker: ticker, Quantity: pos.Quantity, Price: price}, nil
}

func (b *PaperBroker) CancelOrder(orderID string) error {
	return fmt.Errorf("order not cancelable: %s fills instantly in paper mode", orderID)
}

func (b *PaperBroker) PollOrders() ([]OrderEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out, nil
}

func (b *PaperBroker) ListPositions() ([]models.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.BrokerPosition, 0, len(b.positions))
	for _, p := range b.positions {
		if price, ok := b.latestPrices[p.Ticker]; ok {
			p.CurrentPrice = price
		}
		out = append(out, p)
	}
	return out, nil
}

func (b *PaperBroker) GetAccount() (Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.account, nil
}
