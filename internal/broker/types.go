// Package broker defines the broker capability contract shared by the live and
// simulated backends, plus the per-session Handle that enforces login state.
package broker

import (
	"strings"
	"time"
)

// Mode selects which adapter backs a session.
type Mode string

const (
	ModeSimulated Mode = "simulated"
	ModeLive      Mode = "live"
)

// ParseMode accepts "simulated"/"mock" and "live"/"real".
func ParseMode(raw string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "simulated", "sim", "mock":
		return ModeSimulated, true
	case "live", "real":
		return ModeLive, true
	}
	return "", false
}

// ModeFromMock maps the REST use_mock flag onto a Mode.
func ModeFromMock(useMock bool) Mode {
	if useMock {
		return ModeSimulated
	}
	return ModeLive
}

// Credentials are passed through to the backend and never logged.
type Credentials struct {
	UserID   string
	Password string
	CertPath string
	PersonID string
	CertPass string
}

// PersonalID is the SDK login identity; person_id falls back to user_id.
func (c Credentials) PersonalID() string {
	if id := strings.TrimSpace(c.PersonID); id != "" {
		return id
	}
	return strings.TrimSpace(c.UserID)
}

// Record is a flat key/value row. Tabular adapter results are ordered []Record.
type Record map[string]any

// Quote is a point-in-time price snapshot.
type Quote struct {
	Code      string
	Price     float64
	Volume    int64
	Timestamp time.Time
}

// HistoryQuery selects historical bars. Interval follows the REST API
// ("D", "1", "5", "15", "30", "60").
type HistoryQuery struct {
	Code      string
	Interval  string
	StartDate string
	EndDate   string
}

// Position is one holding.
type Position struct {
	Code          string
	Name          string
	Quantity      int
	AverageCost   float64
	CurrentPrice  float64
	MarketValue   float64
	ProfitLoss    float64
	ProfitLossPct float64
}

// Balance summarizes account cash.
type Balance struct {
	Balance          float64
	BuyingPower      float64
	AvailableBalance float64
	Raw              Record
}
