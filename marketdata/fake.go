package marketdata

import "github.com/mwhartley/execution-core/models"

// FakeProvider is an in-memory TechnicalSignalsProvider/VIXProvider/
// AccountProvider for tests, standing in for the live scanner/broker
// collaborators.
type FakeProvider struct {
	Signals     map[string]models.TechnicalSignals
	VIX         float64
	VIXErr      error
	Equity      float64
	BuyingPower float64
	AccountErr  error
}

// NewFakeProvider builds an empty FakeProvider with a neutral VIX.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{Signals: make(map[string]models.TechnicalSignals), VIX: models.NeutralVIX}
}

func (f *FakeProvider) GetSignals(ticker string) (models.TechnicalSignals, error) {
	return f.Signals[ticker], nil
}

func (f *FakeProvider) GetVIX() (float64, error) {
	if f.VIXErr != nil {
		return 0, f.VIXErr
	}
	return f.VIX, nil
}

func (f *FakeProvider) GetAccountSnapshot() (float64, float64, error) {
	if f.AccountErr != nil {
		return 0, 0, f.AccountErr
	}
	return f.Equity, f.BuyingPower, nil
}
