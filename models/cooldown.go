package models

import "time"

// Cooldown is a per-ticker timed prohibition on new entries.
type Cooldown struct {
	Ticker string    `json:"ticker"`
	Until  time.Time `json:"until"`
	Reason string    `json:"reason"`
	Source string    `json:"source"`
}

// Active reports whether the cooldown has not yet expired as of now.
func (c Cooldown) Active(now time.Time) bool {
	return now.Before(c.Until)
}
