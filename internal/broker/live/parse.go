package live

import (
	"time"

	"brokergw/internal/broker"
	"brokergw/internal/order"

	"github.com/tidwall/gjson"
)

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006/01/02 15:04:05"}

func parseRecord(node gjson.Result) broker.Record {
	if !node.IsObject() {
		return broker.Record{}
	}
	m, _ := node.Value().(map[string]any)
	return broker.Record(m)
}

func parseRecords(node gjson.Result) []broker.Record {
	items := node.Array()
	out := make([]broker.Record, 0, len(items))
	for _, item := range items {
		if item.IsObject() {
			out = append(out, parseRecord(item))
		}
	}
	return out
}

func parseQuote(node gjson.Result, code string) broker.Quote {
	return broker.Quote{
		Code:      firstNonEmpty(node.Get("stock_no").String(), node.Get("symbol").String(), node.Get("stock_code").String(), code),
		Price:     firstNumber(node, "price", "close", "last_price", "closePrice"),
		Volume:    firstInt(node, "volume", "total.tradeVolume"),
		Timestamp: parseTime(node.Get("timestamp"), time.Now()),
	}
}

func parseOrder(node gjson.Result) order.Record {
	side, _ := order.ParseSide(firstNonEmpty(node.Get("action").String(), node.Get("buy_sell").String(), node.Get("side").String()))
	status, _ := order.ParseStatus(node.Get("status").String())
	pt, _ := order.ParsePriceType(node.Get("price_type").String())
	tif, _ := order.ParseTimeInForce(node.Get("order_type").String())
	cond, _ := order.ParseCondition(node.Get("order_condition").String())
	created := parseTime(node.Get("created_at"), time.Time{})
	return order.Record{
		OrderID:      firstNonEmpty(node.Get("order_id").String(), node.Get("order_no").String()),
		Code:         firstNonEmpty(node.Get("stock_no").String(), node.Get("stock_code").String()),
		Side:         side,
		Price:        firstNumber(node, "price", "after_price"),
		Quantity:     int(firstInt(node, "quantity", "after_qty")),
		FilledQty:    int(firstInt(node, "filled_qty", "filled_quantity")),
		Status:       status,
		PriceType:    pt,
		TimeInForce:  tif,
		Condition:    cond,
		CreatedAt:    created,
		UpdatedAt:    parseTime(node.Get("updated_at"), created),
		RejectReason: node.Get("reject_reason").String(),
	}
}

func parsePosition(node gjson.Result) broker.Position {
	return broker.Position{
		Code:          firstNonEmpty(node.Get("stock_no").String(), node.Get("stock_code").String()),
		Name:          firstNonEmpty(node.Get("stock_name").String(), node.Get("name").String()),
		Quantity:      int(firstInt(node, "quantity", "today_qty")),
		AverageCost:   firstNumber(node, "average_cost", "cost_price"),
		CurrentPrice:  firstNumber(node, "current_price", "price"),
		MarketValue:   firstNumber(node, "market_value"),
		ProfitLoss:    firstNumber(node, "profit_loss", "unrealized_profit"),
		ProfitLossPct: firstNumber(node, "profit_loss_pct"),
	}
}

func parseTime(node gjson.Result, fallback time.Time) time.Time {
	switch node.Type {
	case gjson.Number:
		v := node.Int()
		if v > 1e12 {
			return time.UnixMilli(v)
		}
		return time.Unix(v, 0)
	case gjson.String:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, node.String()); err == nil {
				return ts
			}
		}
	}
	return fallback
}

func firstNumber(node gjson.Result, paths ...string) float64 {
	for _, p := range paths {
		if v := node.Get(p); v.Exists() && v.Type != gjson.Null {
			return v.Float()
		}
	}
	return 0
}

func firstInt(node gjson.Result, paths ...string) int64 {
	for _, p := range paths {
		if v := node.Get(p); v.Exists() && v.Type != gjson.Null {
			return v.Int()
		}
	}
	return 0
}
