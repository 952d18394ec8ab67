// Package order models order requests, their validation, and the results and
// events the backend produces for them.
package order

import (
	"strings"
	"time"
)

// Side 买卖方向。
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// PriceType 价格类型。
type PriceType string

const (
	PriceLimit       PriceType = "LMT"
	PriceMarket      PriceType = "MKT"
	PriceMarketRange PriceType = "MKP"
)

// TimeInForce 委托有效期。
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "ROD"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// Condition 委托条件（现股/融资/融券）。
type Condition string

const (
	ConditionCash   Condition = "Cash"
	ConditionMargin Condition = "MarginTrading"
	ConditionShort  Condition = "ShortSelling"
)

// Status 委托状态。
type Status string

const (
	StatusPending         Status = "pending"
	StatusSubmitted       Status = "submitted"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
	StatusRejected        Status = "rejected"
)

// Open reports whether an order in this status can still be cancelled or modified.
func (s Status) Open() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// Outcome is the backend's verdict on a submitted request.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Request is an instruction to trade. Price is nil for market orders.
type Request struct {
	Code        string
	Side        Side
	Quantity    int
	Price       *float64
	PriceType   PriceType
	TimeInForce TimeInForce
	Condition   Condition
}

// WithDefaults fills the optional enum fields the way the REST API defaults them.
func (r Request) WithDefaults() Request {
	if strings.TrimSpace(string(r.PriceType)) == "" {
		r.PriceType = PriceLimit
	}
	if strings.TrimSpace(string(r.TimeInForce)) == "" {
		r.TimeInForce = TimeInForceDay
	}
	if strings.TrimSpace(string(r.Condition)) == "" {
		r.Condition = ConditionCash
	}
	return r
}

// PriceValue returns the limit price, or 0 when absent.
func (r Request) PriceValue() float64 {
	if r.Price == nil {
		return 0
	}
	return *r.Price
}

// Result is created once per submitted Request and never mutated.
type Result struct {
	OrderID     string
	Outcome     Outcome
	Reason      string
	Message     string
	SubmittedAt time.Time
	Raw         map[string]any
}

// Accepted reports whether the backend took the order.
func (r Result) Accepted() bool { return r.Outcome == OutcomeAccepted }

// Modification changes price and/or quantity of a working order.
type Modification struct {
	OrderID  string
	Price    *float64
	Quantity *int
}

// Ack is the backend acknowledgement for cancel/modify.
type Ack struct {
	OrderID string
	Success bool
	Message string
	Raw     map[string]any
}

// Record is the queryable view of one order.
type Record struct {
	OrderID      string
	Code         string
	Side         Side
	Price        float64
	Quantity     int
	FilledQty    int
	Status       Status
	PriceType    PriceType
	TimeInForce  TimeInForce
	Condition    Condition
	CreatedAt    time.Time
	UpdatedAt    time.Time
	RejectReason string
}

// Filter narrows an order listing. Zero values match everything.
type Filter struct {
	Status Status
	Code   string
}

// Match reports whether rec passes the filter.
func (f Filter) Match(rec Record) bool {
	if f.Status != "" && !strings.EqualFold(string(f.Status), string(rec.Status)) {
		return false
	}
	if code := strings.TrimSpace(f.Code); code != "" && code != rec.Code {
		return false
	}
	return true
}

// EventType 委托事件类型。
type EventType string

const (
	EventAccepted  EventType = "accepted"
	EventRejected  EventType = "rejected"
	EventCancelled EventType = "cancelled"
	EventModified  EventType = "modified"
	EventFilled    EventType = "filled"
)

// Event represents a state change of an order after submission.
type Event struct {
	Type      EventType
	OrderID   string
	Code      string
	Status    Status
	FilledQty int
	Price     float64
	Message   string
	At        time.Time
}
