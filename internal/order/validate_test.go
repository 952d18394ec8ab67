package order

import (
	"math"
	"testing"

	"brokergw/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(v float64) *float64 { return &v }

func limitBuy() Request {
	return Request{
		Code:        "2330",
		Side:        SideBuy,
		Quantity:    1,
		Price:       price(600),
		PriceType:   PriceLimit,
		TimeInForce: TimeInForceDay,
		Condition:   ConditionCash,
	}
}

func TestValidate_Accepts(t *testing.T) {
	assert.NoError(t, Validate(limitBuy()))

	zero := limitBuy()
	zero.Price = price(0)
	assert.NoError(t, Validate(zero), "zero price is a valid limit")

	mkt := limitBuy()
	mkt.PriceType = PriceMarket
	mkt.Price = nil
	assert.NoError(t, Validate(mkt))

	six := limitBuy()
	six.Code = "006208"
	assert.NoError(t, Validate(six))
}

func TestValidate_NonDigitCodeAlwaysWins(t *testing.T) {
	codes := []string{"23a0", "ABCD", "2330 ", " 2330", "23.30", "２３３０", "-2330"}
	for _, code := range codes {
		bad := Request{Code: code, Quantity: -5, PriceType: "??", Side: "hold"}
		err := Validate(bad)
		require.Error(t, err, code)
		assert.Equal(t, apperr.KindInvalidInstrumentCode, apperr.KindOf(err), code)

		good := limitBuy()
		good.Code = code
		assert.Equal(t, apperr.KindInvalidInstrumentCode, apperr.KindOf(Validate(good)), code)
	}
}

func TestValidate_CodeLength(t *testing.T) {
	for _, code := range []string{"", "233", "1234567"} {
		req := limitBuy()
		req.Code = code
		assert.ErrorIs(t, Validate(req), apperr.ErrInvalidInstrumentCode, code)
	}
}

func TestValidate_RuleOrder(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Request)
		want apperr.Kind
	}{
		{"zero quantity", func(r *Request) { r.Quantity = 0 }, apperr.KindInvalidQuantity},
		{"negative quantity before missing price", func(r *Request) { r.Quantity = -1; r.Price = nil }, apperr.KindInvalidQuantity},
		{"limit without price", func(r *Request) { r.Price = nil }, apperr.KindMissingPrice},
		{"limit with negative price", func(r *Request) { r.Price = price(-1) }, apperr.KindMissingPrice},
		{"market with price", func(r *Request) { r.PriceType = PriceMarket }, apperr.KindInvalidPrice},
		{"market range with price", func(r *Request) { r.PriceType = PriceMarketRange }, apperr.KindInvalidPrice},
		{"unknown side", func(r *Request) { r.Side = "Hold" }, apperr.KindInvalidOrderField},
		{"unknown tif", func(r *Request) { r.TimeInForce = "GTC" }, apperr.KindInvalidOrderField},
		{"unknown condition", func(r *Request) { r.Condition = "Loan" }, apperr.KindInvalidOrderField},
		{"unknown price type", func(r *Request) { r.PriceType = "STOP" }, apperr.KindInvalidOrderField},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := limitBuy()
			tc.mut(&req)
			assert.Equal(t, tc.want, apperr.KindOf(Validate(req)))
		})
	}
}

func TestValidate_LimitWithoutPriceIsMissingPrice(t *testing.T) {
	for _, code := range []string{"2330", "2317", "0050", "006208"} {
		for _, qty := range []int{1, 5, 999} {
			req := Request{Code: code, Side: SideSell, Quantity: qty, PriceType: PriceLimit}
			assert.ErrorIs(t, Validate(req), apperr.ErrMissingPrice)
		}
	}
}

func TestValidate_NonFiniteLimitPrice(t *testing.T) {
	for _, p := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -0.5} {
		req := limitBuy()
		req.Price = price(p)
		assert.ErrorIs(t, Validate(req), apperr.ErrMissingPrice, "price %v", p)
	}
	req := limitBuy()
	req.Price = price(0)
	assert.NoError(t, Validate(req))
}

func TestNormalize_CanonicalizesAliases(t *testing.T) {
	req := Request{
		Code:        "2317",
		Side:        "sell",
		Quantity:    2,
		PriceType:   "MarketRange",
		TimeInForce: "ioc",
		Condition:   "Short",
	}
	out, err := Normalize(req)
	require.NoError(t, err)
	assert.Equal(t, SideSell, out.Side)
	assert.Equal(t, PriceMarketRange, out.PriceType)
	assert.Equal(t, TimeInForceIOC, out.TimeInForce)
	assert.Equal(t, ConditionShort, out.Condition)

	defaulted, err := Normalize(Request{Code: "2330", Side: SideBuy, Quantity: 1, Price: price(10)})
	require.NoError(t, err)
	assert.Equal(t, PriceLimit, defaulted.PriceType)
	assert.Equal(t, TimeInForceDay, defaulted.TimeInForce)
	assert.Equal(t, ConditionCash, defaulted.Condition)
}

func TestValidateModification(t *testing.T) {
	qty := 3
	bad := 0
	assert.ErrorIs(t, ValidateModification(Modification{}), apperr.ErrInvalidRequest)
	assert.ErrorIs(t, ValidateModification(Modification{OrderID: "A1"}), apperr.ErrInvalidRequest)
	assert.ErrorIs(t, ValidateModification(Modification{OrderID: "A1", Quantity: &bad}), apperr.ErrInvalidQuantity)
	assert.ErrorIs(t, ValidateModification(Modification{OrderID: "A1", Price: price(-2)}), apperr.ErrInvalidPrice)
	assert.ErrorIs(t, ValidateModification(Modification{OrderID: "A1", Price: price(math.NaN())}), apperr.ErrInvalidPrice)
	assert.ErrorIs(t, ValidateModification(Modification{OrderID: "A1", Price: price(math.Inf(1))}), apperr.ErrInvalidPrice)
	assert.NoError(t, ValidateModification(Modification{OrderID: "A1", Quantity: &qty}))
	assert.NoError(t, ValidateModification(Modification{OrderID: "A1", Price: price(601)}))
}

func TestFilterMatch(t *testing.T) {
	rec := Record{OrderID: "1", Code: "2330", Status: StatusFilled}
	assert.True(t, Filter{}.Match(rec))
	assert.True(t, Filter{Status: "FILLED"}.Match(rec))
	assert.False(t, Filter{Status: StatusCancelled}.Match(rec))
	assert.False(t, Filter{Code: "2317"}.Match(rec))
}
