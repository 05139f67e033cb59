package strategy

import (
	"time"

	"github.com/mwhartley/execution-core/indicators"
	"github.com/mwhartley/execution-core/models"
)

// MeanReversionConfig tunes the RSI/Bollinger thresholds and hold limit.
type MeanReversionConfig struct {
	RSIPeriod        int
	OversoldRSI      float64
	OverboughtRSI    float64
	BollingerPeriod  int
	BollingerStdDevs float64
	MaxHoldDuration  time.Duration
}

// DefaultMeanReversionConfig holds Mean-Reversion's default RSI/Bollinger
// thresholds and maximum hold duration.
var DefaultMeanReversionConfig = MeanReversionConfig{
	RSIPeriod:        14,
	OversoldRSI:      30,
	OverboughtRSI:    70,
	BollingerPeriod:  20,
	BollingerStdDevs: 2,
	MaxHoldDuration:  5 * 24 * time.Hour,
}

// MeanReversion is an autonomous strategy: it enters long on RSI oversold
// plus a close below the lower Bollinger band, short on the mirror setup,
// and exits on reversion to the mean, a stop, or a maximum hold duration.
type MeanReversion struct {
	Base
	cfg MeanReversionConfig
}

// NewMeanReversion builds a MeanReversion strategy.
func NewMeanReversion(config Config) (Strategy, error) {
	config = config.withDefaults()
	cfg := DefaultMeanReversionConfig
	cfg.RSIPeriod = config.GetInt("rsi_period", cfg.RSIPeriod)
	cfg.OversoldRSI = config.GetFloat("oversold_rsi", cfg.OversoldRSI)
	cfg.OverboughtRSI = config.GetFloat("overbought_rsi", cfg.OverboughtRSI)
	cfg.BollingerPeriod = config.GetInt("bollinger_period", cfg.BollingerPeriod)
	cfg.BollingerStdDevs = config.GetFloat("bollinger_std_devs", cfg.BollingerStdDevs)
	return &MeanReversion{Base: Base{Config: config}, cfg: cfg}, nil
}

func (m *MeanReversion) Name() string { return "mean_reversion" }

func closes(history []models.Candle) []float64 {
	out := make([]float64, len(history))
	for i, c := range history {
		out[i] = c.Close
	}
	return out
}

func (m *MeanReversion) bands(history []models.Candle) (rsi, upper, middle, lower float64, ok bool) {
	prices := closes(history)
	rsiSeries := indicators.RSI(prices, m.cfg.RSIPeriod)
	upperSeries, middleSeries, lowerSeries := indicators.BollingerBands(prices, m.cfg.BollingerPeriod, m.cfg.BollingerStdDevs)
	if rsiSeries == nil || upperSeries == nil {
		return 0, 0, 0, 0, false
	}
	last := len(prices) - 1
	return rsiSeries[last], upperSeries[last], middleSeries[last], lowerSeries[last], true
}

// EvaluateEntry enters long on oversold RSI below the lower band, short on
// overbought RSI above the upper band.
func (m *MeanReversion) EvaluateEntry(signal models.PendingSignal, ctx models.MarketContext, signals models.TechnicalSignals) models.EntryDecision {
	rsi, upper, middle, lower, ok := m.bands(signals.History)
	if !ok {
		return models.EntryDecision{Reason: "insufficient history for RSI/Bollinger"}
	}
	price := signals.Price

	if rsi <= m.cfg.OversoldRSI && price < lower {
		size := m.CalculatePositionSize(price, ctx, 0)
		return models.EntryDecision{ShouldEnter: true, Reason: "oversold below lower band", SuggestedSize: size, EntryPrice: price, StopLoss: lower - (middle - lower), Target: middle}
	}
	if rsi >= m.cfg.OverboughtRSI && price > upper {
		size := m.CalculatePositionSize(price, ctx, 0)
		return models.EntryDecision{ShouldEnter: true, Reason: "overbought above upper band", SuggestedSize: size, EntryPrice: price, StopLoss: upper + (upper - middle), Target: middle}
	}
	return models.EntryDecision{Reason: "no mean-reversion setup present"}
}

// EvaluateExit exits on reversion to the middle band, a breached stop, or
// the configured maximum hold duration.
func (m *MeanReversion) EvaluateExit(position models.TrackedPosition, signals models.TechnicalSignals, ctx models.MarketContext) models.ExitDecision {
	if time.Since(position.OpenedAt) >= m.cfg.MaxHoldDuration {
		return models.ExitDecision{ShouldExit: true, Reason: "max hold duration reached", Urgency: models.UrgencyNormal}
	}

	_, _, middle, _, ok := m.bands(signals.History)
	if !ok {
		return models.Hold("insufficient history to judge reversion")
	}

	switch position.Side {
	case models.SideLong:
		if signals.Price >= middle {
			return models.ExitDecision{ShouldExit: true, Reason: "reverted to mean", Urgency: models.UrgencyNormal}
		}
		if position.StopLoss != nil && signals.Price <= *position.StopLoss {
			return models.ExitDecision{ShouldExit: true, Reason: "stop breached", Urgency: models.UrgencyUrgent}
		}
	case models.SideShort:
		if signals.Price <= middle {
			return models.ExitDecision{ShouldExit: true, Reason: "reverted to mean", Urgency: models.UrgencyNormal}
		}
		if position.StopLoss != nil && signals.Price >= *position.StopLoss {
			return models.ExitDecision{ShouldExit: true, Reason: "stop breached", Urgency: models.UrgencyUrgent}
		}
	}
	return models.Hold("reversion not yet complete")
}
