package apihttp

import (
	"time"

	"brokergw/internal/apperr"
	"brokergw/internal/broker"
	"brokergw/internal/gateway"
	"brokergw/internal/order"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	UserID    string `json:"user_id"`
	Password  string `json:"password"`
	CertPath  string `json:"cert_path"`
	PersonID  string `json:"person_id"`
	CertPass  string `json:"cert_pass"`
	UseMock   *bool  `json:"use_mock"`
	SessionID string `json:"session_id"`
}

type logoutRequest struct {
	UseMock   *bool  `json:"use_mock"`
	SessionID string `json:"session_id"`
}

type codesRequest struct {
	StockCodes []string `json:"stock_codes"`
}

type codeRequest struct {
	StockCode string `json:"stock_code"`
}

type historicalRequest struct {
	StockCode string `json:"stock_code"`
	Interval  string `json:"interval"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type placeOrderRequest struct {
	StockCode      string   `json:"stock_code"`
	Action         string   `json:"action"`
	Price          *float64 `json:"price"`
	Quantity       int      `json:"quantity"`
	PriceType      string   `json:"price_type"`
	OrderType      string   `json:"order_type"`
	OrderCondition string   `json:"order_condition"`
}

func (r placeOrderRequest) toOrder() order.Request {
	return order.Request{
		Code:        r.StockCode,
		Side:        order.Side(r.Action),
		Quantity:    r.Quantity,
		Price:       r.Price,
		PriceType:   order.PriceType(r.PriceType),
		TimeInForce: order.TimeInForce(r.OrderType),
		Condition:   order.Condition(r.OrderCondition),
	}
}

type orderIDRequest struct {
	OrderID string `json:"order_id"`
}

type modifyOrderRequest struct {
	OrderID  string   `json:"order_id"`
	Price    *float64 `json:"price"`
	Quantity *int     `json:"quantity"`
}

type queryOrdersRequest struct {
	Status    string `json:"status"`
	StockCode string `json:"stock_code"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func quoteJSON(q broker.Quote) gin.H {
	return gin.H{
		"stock_code": q.Code,
		"price":      q.Price,
		"volume":     q.Volume,
		"timestamp":  q.Timestamp.Format(time.RFC3339),
	}
}

func quotesJSON(list []broker.Quote) []gin.H {
	out := make([]gin.H, 0, len(list))
	for _, q := range list {
		out = append(out, quoteJSON(q))
	}
	return out
}

func positionJSON(p broker.Position) gin.H {
	return gin.H{
		"stock_code":      p.Code,
		"stock_name":      p.Name,
		"quantity":        p.Quantity,
		"average_cost":    p.AverageCost,
		"current_price":   p.CurrentPrice,
		"market_value":    p.MarketValue,
		"profit_loss":     p.ProfitLoss,
		"profit_loss_pct": p.ProfitLossPct,
	}
}

func positionsJSON(list []broker.Position) []gin.H {
	out := make([]gin.H, 0, len(list))
	for _, p := range list {
		out = append(out, positionJSON(p))
	}
	return out
}

func orderJSON(rec order.Record) gin.H {
	out := gin.H{
		"order_id":        rec.OrderID,
		"stock_code":      rec.Code,
		"action":          rec.Side,
		"price":           rec.Price,
		"quantity":        rec.Quantity,
		"filled_quantity": rec.FilledQty,
		"status":          rec.Status,
		"price_type":      rec.PriceType,
		"order_type":      rec.TimeInForce,
		"order_condition": rec.Condition,
	}
	if !rec.CreatedAt.IsZero() {
		out["created_at"] = rec.CreatedAt.Format(time.RFC3339)
	}
	if rec.RejectReason != "" {
		out["reject_reason"] = rec.RejectReason
	}
	return out
}

func ordersJSON(list []order.Record) []gin.H {
	out := make([]gin.H, 0, len(list))
	for _, rec := range list {
		out = append(out, orderJSON(rec))
	}
	return out
}

func recordsOrEmpty(list []broker.Record) []broker.Record {
	if list == nil {
		return []broker.Record{}
	}
	return list
}

func ackJSON(ack order.Ack) gin.H {
	out := gin.H{"order_id": ack.OrderID, "success": ack.Success, "message": ack.Message}
	for k, v := range ack.Raw {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

func resultJSON(res order.Result) gin.H {
	out := gin.H{
		"success":  res.Accepted(),
		"order_id": res.OrderID,
		"message":  res.Message,
	}
	if res.Reason != "" {
		out["reason"] = res.Reason
	}
	for k, v := range res.Raw {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

func codeResultsJSON(list []gateway.CodeResult) []gin.H {
	out := make([]gin.H, 0, len(list))
	for _, r := range list {
		item := gin.H{"stock_code": r.Code, "success": r.Success}
		if r.Error != nil {
			item["error"] = apperr.DetailOf(r.Error)
			item["category"] = string(apperr.KindOf(r.Error))
		}
		out = append(out, item)
	}
	return out
}

func statusJSON(st gateway.Status) gin.H {
	out := gin.H{
		"success":      true,
		"is_logged_in": st.Authenticated,
		"user_id":      nil,
		"session_id":   st.SessionID,
		"mode":         st.Mode,
	}
	if st.Authenticated {
		out["user_id"] = st.Principal
	}
	return out
}

func sessionJSON(st gateway.Status) gin.H {
	out := statusJSON(st)
	delete(out, "success")
	if !st.CreatedAt.IsZero() {
		out["created_at"] = st.CreatedAt.Format(time.RFC3339)
	}
	return out
}
