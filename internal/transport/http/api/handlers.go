package apihttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"brokergw/internal/apperr"
	"brokergw/internal/broker"
	"brokergw/internal/gateway"
	"brokergw/internal/order"

	"github.com/gin-gonic/gin"
)

type handlers struct {
	svc            *gateway.Service
	defaultSession string
	defaultMode    broker.Mode
}

func (h *handlers) register(group *gin.RouterGroup) {
	auth := group.Group("/auth")
	auth.POST("/login", h.handleLogin)
	auth.POST("/logout", h.handleLogout)
	auth.GET("/status", h.handleStatus)
	auth.GET("/sessions", h.handleSessions)

	market := group.Group("/market")
	market.POST("/subscribe", h.handleSubscribe)
	market.POST("/unsubscribe", h.handleUnsubscribe)
	market.POST("/quote", h.handleQuote)
	market.POST("/historical", h.handleHistorical)
	market.POST("/intraday", h.handleIntraday)
	market.GET("/stream", h.handleStream)

	ord := group.Group("/order")
	ord.POST("/place", h.handlePlaceOrder)
	ord.POST("/cancel", h.handleCancelOrder)
	ord.POST("/modify", h.handleModifyOrder)
	ord.POST("/query", h.handleQueryOrders)
	ord.GET("/detail/:order_id", h.handleOrderDetail)
	ord.GET("/today", h.handleTodayOrders)
	ord.GET("/journal", h.handleJournal)

	account := group.Group("/account")
	account.GET("/info", h.handleAccountInfo)
	account.GET("/balance", h.handleBalance)
	account.GET("/buying-power", h.handleBuyingPower)
	account.GET("/positions", h.handlePositions)
	account.POST("/position", h.handlePosition)
	account.GET("/settlements", h.handleSettlements)
	account.GET("/profit-loss", h.handleProfitLoss)
	account.GET("/margin", h.handleMargin)
	account.GET("/summary", h.handleSummary)
}

// target reads session_id and mode. Query values win over body values; mode
// wins over use_mock.
func (h *handlers) target(c *gin.Context, bodySession string, bodyMock *bool) (gateway.Target, error) {
	t := gateway.Target{SessionID: h.defaultSession, Mode: h.defaultMode}
	if s := strings.TrimSpace(bodySession); s != "" {
		t.SessionID = s
	}
	if s := strings.TrimSpace(c.Query("session_id")); s != "" {
		t.SessionID = s
	}
	if bodyMock != nil {
		t.Mode = broker.ModeFromMock(*bodyMock)
	}
	if raw := strings.TrimSpace(c.Query("use_mock")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return t, apperr.Errorf(apperr.KindInvalidRequest, "use_mock must be a boolean, got %q", raw)
		}
		t.Mode = broker.ModeFromMock(v)
	}
	if raw := strings.TrimSpace(c.Query("mode")); raw != "" {
		mode, ok := broker.ParseMode(raw)
		if !ok {
			return t, apperr.Errorf(apperr.KindInvalidRequest, "mode must be simulated or live, got %q", raw)
		}
		t.Mode = mode
	}
	return t, nil
}

func (h *handlers) queryTarget(c *gin.Context) (gateway.Target, bool) {
	t, err := h.target(c, "", nil)
	if err != nil {
		writeError(c, err)
		return t, false
	}
	return t, true
}

// bind decodes the JSON body into dst. An empty body is allowed when optional.
func bind(c *gin.Context, dst any, optional bool) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		badRequest(c, err)
		return false
	}
	return true
}

func (h *handlers) handleLogin(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req, false) {
		return
	}
	t, err := h.target(c, req.SessionID, req.UseMock)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.svc.Login(c.Request.Context(), t, broker.Credentials{
		UserID:   req.UserID,
		Password: req.Password,
		CertPath: req.CertPath,
		PersonID: req.PersonID,
		CertPass: req.CertPass,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    fmt.Sprintf("login successful - %s mode", res.Mode),
		"user_id":    res.Principal,
		"session_id": res.SessionID,
		"mode":       res.Mode,
	})
}

func (h *handlers) handleLogout(c *gin.Context) {
	var req logoutRequest
	if !bind(c, &req, true) {
		return
	}
	t, err := h.target(c, req.SessionID, req.UseMock)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.svc.Logout(c.Request.Context(), t)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "logged_out": res.LoggedOut, "message": res.Message, "session_id": t.SessionID})
}

func (h *handlers) handleStatus(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, statusJSON(h.svc.Status(t)))
}

func (h *handlers) handleSessions(c *gin.Context) {
	list := h.svc.Sessions()
	out := make([]gin.H, 0, len(list))
	for _, st := range list {
		out = append(out, sessionJSON(st))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(out), "sessions": out})
}

func (h *handlers) handleSubscribe(c *gin.Context) {
	h.changeSubscription(c, "subscription processed", h.svc.Subscribe)
}

func (h *handlers) handleUnsubscribe(c *gin.Context) {
	h.changeSubscription(c, "unsubscription processed", h.svc.Unsubscribe)
}

func (h *handlers) changeSubscription(c *gin.Context, message string, fn func(ctx context.Context, t gateway.Target, codes []string) ([]gateway.CodeResult, error)) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	var req codesRequest
	if !bind(c, &req, false) {
		return
	}
	results, err := fn(c.Request.Context(), t, req.StockCodes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message, "results": codeResultsJSON(results)})
}

func (h *handlers) handleQuote(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	var req codesRequest
	if !bind(c, &req, false) {
		return
	}
	quotes, err := h.svc.Quotes(c.Request.Context(), t, req.StockCodes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(quotes), "quotes": quotesJSON(quotes)})
}

func (h *handlers) handleHistorical(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	var req historicalRequest
	if !bind(c, &req, false) {
		return
	}
	if strings.TrimSpace(req.Interval) == "" {
		req.Interval = "D"
	}
	rows, err := h.svc.History(c.Request.Context(), t, broker.HistoryQuery{
		Code:      req.StockCode,
		Interval:  req.Interval,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"stock_code": strings.TrimSpace(req.StockCode),
		"interval":   req.Interval,
		"count":      len(rows),
		"data":       recordsOrEmpty(rows),
	})
}

func (h *handlers) handleIntraday(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	var req codeRequest
	if !bind(c, &req, false) {
		return
	}
	data, err := h.svc.Intraday(c.Request.Context(), t, req.StockCode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stock_code": strings.TrimSpace(req.StockCode), "data": data})
}

func (h *handlers) handlePlaceOrder(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	var req placeOrderRequest
	if !bind(c, &req, false) {
		return
	}
	res, err := h.svc.PlaceOrder(c.Request.Context(), t, req.toOrder())
	if err != nil {
		writeError(c, err)
		return
	}
	if !res.Accepted() {
		reason := res.Reason
		if reason == "" {
			reason = "order rejected"
		}
		writeError(c, apperr.Errorf(apperr.KindOrderRejected, "%s", reason))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "order placed",
		"order_id":   res.OrderID,
		"stock_code": strings.TrimSpace(req.StockCode),
		"action":     req.Action,
		"price":      req.Price,
		"quantity":   req.Quantity,
		"data":       resultJSON(res),
	})
}

func (h *handlers) handleCancelOrder(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	var req orderIDRequest
	if !bind(c, &req, false) {
		return
	}
	ack, err := h.svc.CancelOrder(c.Request.Context(), t, req.OrderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "order cancelled", "order_id": ack.OrderID, "data": ackJSON(ack)})
}

func (h *handlers) handleModifyOrder(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	var req modifyOrderRequest
	if !bind(c, &req, false) {
		return
	}
	ack, err := h.svc.ModifyOrder(c.Request.Context(), t, order.Modification{OrderID: req.OrderID, Price: req.Price, Quantity: req.Quantity})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "order modified", "order_id": ack.OrderID, "data": ackJSON(ack)})
}

func (h *handlers) handleQueryOrders(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	var req queryOrdersRequest
	if !bind(c, &req, true) {
		return
	}
	f := order.Filter{Code: strings.TrimSpace(req.StockCode)}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		st, ok := order.ParseStatus(raw)
		if !ok {
			writeError(c, apperr.Errorf(apperr.KindInvalidRequest, "unknown status %q", raw))
			return
		}
		f.Status = st
	}
	h.writeOrders(c, t, f)
}

func (h *handlers) handleTodayOrders(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	h.writeOrders(c, t, order.Filter{})
}

func (h *handlers) writeOrders(c *gin.Context, t gateway.Target, f order.Filter) {
	list, err := h.svc.Orders(c.Request.Context(), t, f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(list), "orders": ordersJSON(list)})
}

func (h *handlers) handleOrderDetail(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	rec, err := h.svc.Order(c.Request.Context(), t, c.Param("order_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": orderJSON(rec)})
}

func (h *handlers) handleJournal(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.svc.Journal(c.Request.Context(), t, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(entries), "entries": entries})
}

func (h *handlers) handleAccountInfo(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	info, err := h.svc.AccountInfo(c.Request.Context(), t)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": info})
}

func (h *handlers) handleBalance(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	bal, err := h.svc.Balance(c.Request.Context(), t)
	if err != nil {
		writeError(c, err)
		return
	}
	data := gin.H{"balance": bal.Balance, "buying_power": bal.BuyingPower, "available_balance": bal.AvailableBalance}
	for k, v := range bal.Raw {
		if _, ok := data[k]; !ok {
			data[k] = v
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "balance": bal.Balance, "buying_power": bal.BuyingPower, "data": data})
}

func (h *handlers) handleBuyingPower(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	bp, err := h.svc.BuyingPower(c.Request.Context(), t)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "buying_power": bp, "formatted": formatTWD(bp)})
}

func (h *handlers) handlePositions(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	list, err := h.svc.Positions(c.Request.Context(), t)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "total_count": len(list), "positions": positionsJSON(list)})
}

func (h *handlers) handlePosition(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	var req codeRequest
	if !bind(c, &req, false) {
		return
	}
	p, err := h.svc.Position(c.Request.Context(), t, req.StockCode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stock_code": p.Code, "position": positionJSON(p)})
}

func (h *handlers) handleSettlements(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	rows, err := h.svc.Settlements(c.Request.Context(), t)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "settlements": recordsOrEmpty(rows)})
}

func (h *handlers) handleProfitLoss(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	pl, err := h.svc.ProfitLoss(c.Request.Context(), t)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "profit_loss": pl})
}

func (h *handlers) handleMargin(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	info, err := h.svc.MarginInfo(c.Request.Context(), t)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "margin_info": info})
}

// handleSummary 汇总余额、持仓与损益。
func (h *handlers) handleSummary(c *gin.Context) {
	t, ok := h.queryTarget(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	bal, err := h.svc.Balance(ctx, t)
	if err != nil {
		writeError(c, err)
		return
	}
	positions, err := h.svc.Positions(ctx, t)
	if err != nil {
		writeError(c, err)
		return
	}
	pl, err := h.svc.ProfitLoss(ctx, t)
	if err != nil {
		writeError(c, err)
		return
	}
	var total float64
	for _, p := range positions {
		total += p.MarketValue
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "summary": gin.H{
		"balance":            bal.Balance,
		"position_count":     len(positions),
		"total_market_value": total,
		"profit_loss":        pl,
		"user_id":            h.svc.Status(t).Principal,
	}})
}

// formatTWD renders NT$ 800,000.
func formatTWD(v float64) string {
	if v == 0 {
		return "N/A"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	digits := strconv.FormatFloat(v, 'f', 0, 64)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "NT$ -" + b.String()
	}
	return "NT$ " + b.String()
}
