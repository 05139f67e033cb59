package marketdata

import (
	"fmt"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"

	"github.com/mwhartley/execution-core/indicators"
	"github.com/mwhartley/execution-core/models"
)

// vixSymbol is Yahoo Finance's ticker for the CBOE Volatility Index.
const vixSymbol = "^VIX"

// FinanceGoProvider implements TechnicalSignalsProvider and VIXProvider
// against Yahoo Finance via piquette/finance-go.
type FinanceGoProvider struct {
	historyBars int
}

// NewFinanceGoProvider builds a FinanceGoProvider whose GetSignals requests
// HistoryWindow of daily candles and keeps at most the last historyBars.
func NewFinanceGoProvider(historyBars int) *FinanceGoProvider {
	if historyBars <= 0 {
		historyBars = 30
	}
	return &FinanceGoProvider{historyBars: historyBars}
}

// GetSignals fetches the latest quote and a daily history window for
// ticker, and derives ATR from the fetched candles. Momentum/Score/Signals
// are left at zero: those are produced by the scanner/analyst pipeline
// this core does not own, and are carried on the PendingSignal's
// AgentRecommendation or supplied by a richer provider upstream of this one.
func (p *FinanceGoProvider) GetSignals(ticker string) (models.TechnicalSignals, error) {
	q, err := quote.Get(ticker)
	if err != nil {
		return models.TechnicalSignals{}, fmt.Errorf("fetch quote for %s: %w", ticker, err)
	}
	if q == nil {
		return models.TechnicalSignals{}, fmt.Errorf("no quote returned for %s", ticker)
	}

	history, err := p.history(ticker)
	if err != nil {
		return models.TechnicalSignals{}, fmt.Errorf("fetch history for %s: %w", ticker, err)
	}

	signals := models.TechnicalSignals{
		Symbol:  ticker,
		Price:   q.RegularMarketPrice,
		History: history,
	}
	if len(history) > 0 {
		signals.ATR = indicators.ATR(history, 14)
	}
	return signals, nil
}

// GetVIX fetches the current CBOE VIX quote.
func (p *FinanceGoProvider) GetVIX() (float64, error) {
	q, err := quote.Get(vixSymbol)
	if err != nil {
		return 0, fmt.Errorf("fetch VIX quote: %w", err)
	}
	if q == nil {
		return 0, fmt.Errorf("no VIX quote returned")
	}
	return q.RegularMarketPrice, nil
}

func (p *FinanceGoProvider) history(ticker string) ([]models.Candle, error) {
	end := time.Now()
	start := end.Add(-HistoryWindow)

	params := &chart.Params{
		Symbol:   ticker,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	}
	iter := chart.Get(params)

	var candles []models.Candle
	for iter.Next() {
		bar := iter.Bar()
		o, _ := bar.Open.Float64()
		h, _ := bar.High.Float64()
		l, _ := bar.Low.Float64()
		c, _ := bar.Close.Float64()
		candles = append(candles, models.Candle{
			Time:   time.Unix(int64(bar.Timestamp), 0),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: float64(bar.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(candles) > p.historyBars {
		candles = candles[len(candles)-p.historyBars:]
	}
	return candles, nil
}
