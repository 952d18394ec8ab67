package order

import (
	"math"
	"strings"

	"brokergw/internal/apperr"
)

const (
	minCodeLen = 4
	maxCodeLen = 6
)

// Validate checks an order request. Rules run in a fixed order and the first
// failure wins; the result depends only on req.
func Validate(req Request) error {
	req = req.WithDefaults()
	if !ValidCode(req.Code) {
		return apperr.Errorf(apperr.KindInvalidInstrumentCode, "stock code must be %d-%d digits, got %q", minCodeLen, maxCodeLen, req.Code)
	}
	if req.Quantity <= 0 {
		return apperr.Errorf(apperr.KindInvalidQuantity, "quantity must be a positive number of lots, got %d", req.Quantity)
	}
	pt, ok := ParsePriceType(string(req.PriceType))
	if !ok {
		return apperr.Errorf(apperr.KindInvalidOrderField, "unknown price_type %q", req.PriceType)
	}
	switch pt {
	case PriceLimit:
		if req.Price == nil || !validPrice(*req.Price) {
			return apperr.Errorf(apperr.KindMissingPrice, "limit order requires a price >= 0")
		}
	case PriceMarket, PriceMarketRange:
		if req.Price != nil {
			return apperr.Errorf(apperr.KindInvalidPrice, "%s order must not carry a price", pt)
		}
	}
	if _, ok := ParseSide(string(req.Side)); !ok {
		return apperr.Errorf(apperr.KindInvalidOrderField, "unknown action %q", req.Side)
	}
	if _, ok := ParseTimeInForce(string(req.TimeInForce)); !ok {
		return apperr.Errorf(apperr.KindInvalidOrderField, "unknown order_type %q", req.TimeInForce)
	}
	if _, ok := ParseCondition(string(req.Condition)); !ok {
		return apperr.Errorf(apperr.KindInvalidOrderField, "unknown order_condition %q", req.Condition)
	}
	return nil
}

// Normalize validates req and rewrites its enums to canonical values.
func Normalize(req Request) (Request, error) {
	req = req.WithDefaults()
	if err := Validate(req); err != nil {
		return Request{}, err
	}
	out := req
	out.Side, _ = ParseSide(string(req.Side))
	out.PriceType, _ = ParsePriceType(string(req.PriceType))
	out.TimeInForce, _ = ParseTimeInForce(string(req.TimeInForce))
	out.Condition, _ = ParseCondition(string(req.Condition))
	if req.Price != nil {
		p := *req.Price
		out.Price = &p
	}
	return out, nil
}

// ValidateModification checks a modify request.
func ValidateModification(m Modification) error {
	if strings.TrimSpace(m.OrderID) == "" {
		return apperr.Errorf(apperr.KindInvalidRequest, "order_id is required")
	}
	if m.Price == nil && m.Quantity == nil {
		return apperr.Errorf(apperr.KindInvalidRequest, "price or quantity is required")
	}
	if m.Quantity != nil && *m.Quantity <= 0 {
		return apperr.Errorf(apperr.KindInvalidQuantity, "quantity must be positive, got %d", *m.Quantity)
	}
	if m.Price != nil && !validPrice(*m.Price) {
		return apperr.Errorf(apperr.KindInvalidPrice, "price must be a finite number >= 0")
	}
	return nil
}

func validPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p >= 0
}

// ValidCode reports whether code is a 4-6 digit instrument code.
func ValidCode(code string) bool {
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func ParseSide(raw string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "b":
		return SideBuy, true
	case "sell", "s":
		return SideSell, true
	}
	return "", false
}

// ParsePriceType accepts API values (LMT/MKT/MKP) and SDK names (Limit/Market/MarketRange).
func ParsePriceType(raw string) (PriceType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "lmt", "limit":
		return PriceLimit, true
	case "mkt", "market":
		return PriceMarket, true
	case "mkp", "marketrange", "market_range":
		return PriceMarketRange, true
	}
	return "", false
}

func ParseTimeInForce(raw string) (TimeInForce, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "rod", "day":
		return TimeInForceDay, true
	case "ioc":
		return TimeInForceIOC, true
	case "fok":
		return TimeInForceFOK, true
	}
	return "", false
}

func ParseCondition(raw string) (Condition, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cash":
		return ConditionCash, true
	case "margintrading", "margin":
		return ConditionMargin, true
	case "shortselling", "short":
		return ConditionShort, true
	}
	return "", false
}

// ParseStatus accepts the lower-case API values and the SDK's CamelCase ones.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), "_", "")) {
	case "pending":
		return StatusPending, true
	case "submitted":
		return StatusSubmitted, true
	case "partiallyfilled":
		return StatusPartiallyFilled, true
	case "filled":
		return StatusFilled, true
	case "cancelled", "canceled":
		return StatusCancelled, true
	case "rejected", "failed":
		return StatusRejected, true
	}
	return "", false
}
