package broker

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mwhartley/execution-core/models"
)

// AlpacaBroker is a live Broker backed by the Alpaca trading REST API. The
// resty client shape (base URL, bounded retry on 5xx, auth headers) follows
// polymarket-mm's exchange.Client.
type AlpacaBroker struct {
	http      *resty.Client
	connected bool
}

// AlpacaConfig holds the credentials and endpoint for a live Alpaca account.
type AlpacaConfig struct {
	BaseURL    string
	KeyID      string
	SecretKey  string
	HTTPClient *http.Client
}

// NewAlpacaBroker builds an AlpacaBroker with bounded retry on 5xx responses.
func NewAlpacaBroker(cfg AlpacaConfig) *AlpacaBroker {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("APCA-API-KEY-ID", cfg.KeyID).
		SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey)
	if cfg.HTTPClient != nil {
		client = client.SetTransport(cfg.HTTPClient.Transport)
	}
	return &AlpacaBroker{http: client}
}

func (a *AlpacaBroker) Name() string { return "alpaca" }

func (a *AlpacaBroker) Connect() error {
	resp, err := a.http.R().Get("/v2/account")
	if err != nil {
		return fmt.Errorf("alpaca connect: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("alpaca connect: status %d: %s", resp.StatusCode(), resp.String())
	}
	a.connected = true
	return nil
}

func (a *AlpacaBroker) Disconnect() error {
	a.connected = false
	return nil
}

func (a *AlpacaBroker) IsConnected() bool { return a.connected }

type alpacaOrderRequest struct {
	Symbol      string  `json:"symbol"`
	Qty         int     `json:"qty"`
	Side        string  `json:"side"`
	Type        string  `json:"type"`
	TimeInForce string  `json:"time_in_force"`
	OrderClass  string  `json:"order_class"`
	TakeProfit  *legPct `json:"take_profit,omitempty"`
	StopLoss    *legPct `json:"stop_loss,omitempty"`
}

type legPct struct {
	LimitPrice float64 `json:"limit_price"`
}

type alpacaOrderResponse struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Status string `json:"status"`
}

// SubmitBracketOrder submits a single linked entry + stop-loss + take-profit
// order, Alpaca's "bracket" order class.
func (a *AlpacaBroker) SubmitBracketOrder(params BracketParams) (BracketResult, error) {
	side := "buy"
	if params.Side == SideSell || params.Side == SideShort {
		side = "sell"
	}

	req := alpacaOrderRequest{
		Symbol:      params.Ticker,
		Qty:         params.Quantity,
		Side:        side,
		Type:        "limit",
		TimeInForce: "day",
		OrderClass:  "bracket",
		TakeProfit:  &legPct{LimitPrice: params.Target},
		StopLoss:    &legPct{LimitPrice: params.StopLoss},
	}

	var out alpacaOrderResponse
	resp, err := a.http.R().SetBody(req).SetResult(&out).Post("/v2/orders")
	if err != nil {
		return BracketResult{}, fmt.Errorf("submit bracket order: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return BracketResult{}, fmt.Errorf("submit bracket order: status %d: %s", resp.StatusCode(), resp.String())
	}

	return BracketResult{OrderID: out.ID, Ticker: params.Ticker, Side: params.Side, Quantity: params.Quantity, Price: params.EntryPrice}, nil
}

// ClosePosition submits a market order to flatten the named ticker.
func (a *AlpacaBroker) ClosePosition(ticker string) (BracketResult, error) {
	resp, err := a.http.R().Delete("/v2/positions/" + ticker)
	if err != nil {
		return BracketResult{}, fmt.Errorf("close position: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return BracketResult{}, fmt.Errorf("close position: status %d: %s", resp.StatusCode(), resp.String())
	}
	return BracketResult{Ticker: ticker}, nil
}

func (a *AlpacaBroker) CancelOrder(orderID string) error {
	resp, err := a.http.R().Delete("/v2/orders/" + orderID)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// PollOrders lists orders closed since the last check and translates their
// terminal status into OrderEvents.
func (a *AlpacaBroker) PollOrders() ([]OrderEvent, error) {
	var orders []struct {
		ID            string  `json:"id"`
		Symbol        string  `json:"symbol"`
		Status        string  `json:"status"`
		FilledQty     int     `json:"filled_qty,string"`
		FilledAvgPrice float64 `json:"filled_avg_price,string"`
	}
	resp, err := a.http.R().SetQueryParam("status", "closed").SetQueryParam("limit", "50").SetResult(&orders).Get("/v2/orders")
	if err != nil {
		return nil, fmt.Errorf("poll orders: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("poll orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	events := make([]OrderEvent, 0, len(orders))
	for _, o := range orders {
		switch o.Status {
		case "filled":
			events = append(events, OrderEvent{Kind: OrderFilled, OrderID: o.ID, Ticker: o.Symbol, Price: o.FilledAvgPrice, Quantity: o.FilledQty, Timestamp: time.Now()})
		case "rejected":
			events = append(events, OrderEvent{Kind: OrderRejected, OrderID: o.ID, Ticker: o.Symbol, Reason: o.Status, Timestamp: time.Now()})
		case "canceled", "expired":
			events = append(events, OrderEvent{Kind: OrderCanceled, OrderID: o.ID, Ticker: o.Symbol, Reason: o.Status, Timestamp: time.Now()})
		}
	}
	return events, nil
}

// ListPositions returns the account's current broker-side positions.
func (a *AlpacaBroker) ListPositions() ([]models.BrokerPosition, error) {
	var raw []struct {
		Symbol       string `json:"symbol"`
		Side         string `json:"side"`
		Qty          int    `json:"qty,string"`
		AvgEntryPrice float64 `json:"avg_entry_price,string"`
		CurrentPrice float64 `json:"current_price,string"`
	}
	resp, err := a.http.R().SetResult(&raw).Get("/v2/positions")
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("list positions: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]models.BrokerPosition, 0, len(raw))
	for _, p := range raw {
		side := models.SideLong
		if p.Side == "short" {
			side = models.SideShort
		}
		out = append(out, models.BrokerPosition{
			Ticker:        p.Symbol,
			Side:          side,
			Quantity:      p.Qty,
			AvgEntryPrice: p.AvgEntryPrice,
			CurrentPrice:  p.CurrentPrice,
		})
	}
	return out, nil
}

// Status reports the Alpaca market clock's current session state, mapped
// onto models.MarketStatus.
func (a *AlpacaBroker) Status(now time.Time) models.MarketStatus {
	var raw struct {
		IsOpen bool `json:"is_open"`
	}
	resp, err := a.http.R().SetResult(&raw).Get("/v2/clock")
	if err != nil || resp.StatusCode() >= 300 {
		return models.MarketClosed
	}
	if raw.IsOpen {
		return models.MarketOpen
	}
	hour := now.UTC().Hour()
	if hour >= 8 && hour < 13 {
		return models.MarketPreMarket
	}
	return models.MarketAfterHours
}

// GetAccount returns the account's current equity and buying power.
func (a *AlpacaBroker) GetAccount() (Account, error) {
	var raw struct {
		Equity      float64 `json:"equity,string"`
		BuyingPower float64 `json:"buying_power,string"`
		Cash        float64 `json:"cash,string"`
	}
	resp, err := a.http.R().SetResult(&raw).Get("/v2/account")
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return Account{}, fmt.Errorf("get account: status %d: %s", resp.StatusCode(), resp.String())
	}
	return Account{Equity: raw.Equity, BuyingPower: raw.BuyingPower, Cash: raw.Cash}, nil
}
