package live

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"brokergw/internal/apperr"
	"brokergw/internal/broker"
	"brokergw/internal/logger"
	"brokergw/internal/order"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// SDK enum names expected by the bridge.
var (
	sdkPriceType = map[order.PriceType]string{
		order.PriceLimit:       "Limit",
		order.PriceMarket:      "Market",
		order.PriceMarketRange: "MarketRange",
	}
	sdkCondition = map[order.Condition]string{
		order.ConditionCash:   "Cash",
		order.ConditionMargin: "Margin",
		order.ConditionShort:  "Short",
	}
)

// Adapter implements broker.Adapter for one session against the bridge.
type Adapter struct {
	client     *Client
	streamPath string
	dialer     *websocket.Dialer

	mu      sync.Mutex
	session string
	stream  *stream
}

var _ broker.Adapter = (*Adapter)(nil)

// NewAdapter binds a new session to client.
func NewAdapter(client *Client, streamPath string) *Adapter {
	if strings.TrimSpace(streamPath) == "" {
		streamPath = "/realtime/stream"
	}
	return &Adapter{
		client:     client,
		streamPath: streamPath,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
	}
}

func (a *Adapter) Mode() broker.Mode { return broker.ModeLive }

func (a *Adapter) sessionToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *Adapter) get(ctx context.Context, op, path string, query url.Values) (gjson.Result, error) {
	return a.client.do(ctx, call{op: op, method: http.MethodGet, path: path, query: query, session: a.sessionToken()})
}

func (a *Adapter) post(ctx context.Context, op, path string, payload any, isOrder bool) (gjson.Result, error) {
	c := call{op: op, method: http.MethodPost, path: path, payload: payload, session: a.sessionToken(), order: isOrder}
	if isOrder {
		c.kind = apperr.KindOrderRejected
	}
	return a.client.do(ctx, c)
}

func (a *Adapter) Login(ctx context.Context, creds broker.Credentials) (string, error) {
	payload := map[string]any{
		"personal_id": creds.PersonalID(),
		"password":    creds.Password,
		"cert_path":   creds.CertPath,
	}
	if strings.TrimSpace(creds.CertPass) != "" {
		payload["cert_pass"] = creds.CertPass
	}
	data, err := a.client.do(ctx, call{
		op:      "login",
		method:  http.MethodPost,
		path:    "/login",
		payload: payload,
		kind:    apperr.KindLoginFailed,
		redact:  []string{creds.Password, creds.CertPass},
	})
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	a.session = data.Get("session_token").String()
	a.mu.Unlock()
	principal := firstNonEmpty(data.Get("user_id").String(), data.Get("accounts.0.account").String(), creds.UserID)
	logger.Infof("[live] login ok principal=%s", principal)
	return principal, nil
}

func (a *Adapter) Logout(ctx context.Context) error {
	if _, err := a.post(ctx, "logout", "/logout", map[string]any{}, false); err != nil {
		return err
	}
	a.mu.Lock()
	st := a.stream
	a.stream = nil
	a.session = ""
	a.mu.Unlock()
	if st != nil {
		st.close()
	}
	return nil
}

// InitRealtime asks the bridge to start its feed and attaches the websocket
// reader. The reader lives until Logout, not until ctx ends.
func (a *Adapter) InitRealtime(ctx context.Context, sink broker.EventSink) error {
	if _, err := a.post(ctx, "init_realtime", "/realtime/init", map[string]any{}, false); err != nil {
		return err
	}
	u, err := a.client.streamURL(a.streamPath)
	if err != nil {
		return apperr.Wrap(apperr.KindBackendUnavailable, "init_realtime", err)
	}
	conn, resp, err := a.dialer.DialContext(ctx, u.String(), a.client.streamHeader(a.sessionToken()))
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return &apperr.Error{Kind: apperr.KindBackendUnavailable, Op: "init_realtime", Detail: "realtime stream unavailable", Err: err}
	}
	st := newStream(conn, sink)
	a.mu.Lock()
	old := a.stream
	a.stream = st
	a.mu.Unlock()
	if old != nil {
		old.close()
	}
	go st.run()
	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, code string) error {
	_, err := a.post(ctx, "subscribe_quote", "/quote/subscribe", map[string]any{"stock_no": code}, false)
	return err
}

func (a *Adapter) Unsubscribe(ctx context.Context, code string) error {
	_, err := a.post(ctx, "unsubscribe_quote", "/quote/unsubscribe", map[string]any{"stock_no": code}, false)
	return err
}

func (a *Adapter) Quote(ctx context.Context, code string) (broker.Quote, error) {
	data, err := a.get(ctx, "get_quote", "/quote/"+url.PathEscape(code), nil)
	if err != nil {
		return broker.Quote{}, err
	}
	return parseQuote(data, code), nil
}

func (a *Adapter) History(ctx context.Context, q broker.HistoryQuery) ([]broker.Record, error) {
	query := url.Values{}
	query.Set("stock_no", q.Code)
	query.Set("timeframe", q.Interval)
	if q.StartDate != "" {
		query.Set("from", q.StartDate)
	}
	if q.EndDate != "" {
		query.Set("to", q.EndDate)
	}
	data, err := a.get(ctx, "get_historical_data", "/market/historical", query)
	if err != nil {
		return nil, err
	}
	return parseRecords(data), nil
}

func (a *Adapter) Intraday(ctx context.Context, code string) (broker.Record, error) {
	data, err := a.get(ctx, "get_intraday_data", "/market/intraday/"+url.PathEscape(code), nil)
	if err != nil {
		return nil, err
	}
	return parseRecord(data), nil
}

// PlaceOrder translates req to SDK names. Limit orders without a price fail
// before any network call.
func (a *Adapter) PlaceOrder(ctx context.Context, req order.Request) (order.Result, error) {
	req = req.WithDefaults()
	if pt, _ := order.ParsePriceType(string(req.PriceType)); pt == order.PriceLimit && req.Price == nil {
		return order.Result{}, apperr.Errorf(apperr.KindMissingPrice, "limit order requires a price")
	}
	norm, err := order.Normalize(req)
	if err != nil {
		return order.Result{}, err
	}
	payload := map[string]any{
		"stock_no":        norm.Code,
		"action":          string(norm.Side),
		"quantity":        norm.Quantity,
		"price_type":      sdkPriceType[norm.PriceType],
		"order_type":      string(norm.TimeInForce),
		"order_condition": sdkCondition[norm.Condition],
	}
	if norm.Price != nil {
		payload["price"] = *norm.Price
	}
	data, err := a.post(ctx, "place_order", "/order/place", payload, true)
	if err != nil {
		return order.Result{}, err
	}
	res := order.Result{
		OrderID:     firstNonEmpty(data.Get("order_id").String(), data.Get("order_no").String()),
		Outcome:     order.OutcomeAccepted,
		Message:     data.Get("message").String(),
		SubmittedAt: parseTime(data.Get("submitted_at"), time.Now()),
		Raw:         parseRecord(data),
	}
	if st, ok := order.ParseStatus(data.Get("status").String()); ok && st == order.StatusRejected {
		res.Outcome = order.OutcomeRejected
		res.Reason = firstNonEmpty(data.Get("reason").String(), res.Message, "rejected by broker")
	}
	logger.Infof("[live] place order id=%s outcome=%s %s %s x%d", res.OrderID, res.Outcome, norm.Side, norm.Code, norm.Quantity)
	return res, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) (order.Ack, error) {
	data, err := a.post(ctx, "cancel_order", "/order/cancel", map[string]any{"order_id": orderID}, true)
	if err != nil {
		return order.Ack{}, err
	}
	return order.Ack{OrderID: orderID, Success: true, Message: data.Get("message").String(), Raw: parseRecord(data)}, nil
}

func (a *Adapter) ModifyOrder(ctx context.Context, m order.Modification) (order.Ack, error) {
	payload := map[string]any{"order_id": m.OrderID}
	if m.Price != nil {
		payload["price"] = *m.Price
	}
	if m.Quantity != nil {
		payload["quantity"] = *m.Quantity
	}
	data, err := a.post(ctx, "modify_order", "/order/modify", payload, true)
	if err != nil {
		return order.Ack{}, err
	}
	return order.Ack{OrderID: m.OrderID, Success: true, Message: data.Get("message").String(), Raw: parseRecord(data)}, nil
}

func (a *Adapter) Orders(ctx context.Context, f order.Filter) ([]order.Record, error) {
	query := url.Values{}
	if f.Status != "" {
		query.Set("status", string(f.Status))
	}
	if f.Code != "" {
		query.Set("stock_no", f.Code)
	}
	data, err := a.get(ctx, "get_orders", "/order/list", query)
	if err != nil {
		return nil, err
	}
	var out []order.Record
	for _, item := range data.Array() {
		rec := parseOrder(item)
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (a *Adapter) Order(ctx context.Context, orderID string) (order.Record, error) {
	data, err := a.get(ctx, "get_order", "/order/"+url.PathEscape(orderID), nil)
	if err != nil {
		return order.Record{}, err
	}
	if !data.Exists() || data.Type == gjson.Null {
		return order.Record{}, apperr.Errorf(apperr.KindNotFound, "order %s not found", orderID)
	}
	return parseOrder(data), nil
}

func (a *Adapter) AccountInfo(ctx context.Context) (broker.Record, error) {
	data, err := a.get(ctx, "get_account_info", "/account", nil)
	if err != nil {
		return nil, err
	}
	return parseRecord(data), nil
}

func (a *Adapter) Balance(ctx context.Context) (broker.Balance, error) {
	data, err := a.get(ctx, "get_balance", "/account/balance", nil)
	if err != nil {
		return broker.Balance{}, err
	}
	return broker.Balance{
		Balance:          firstNumber(data, "balance", "cash_balance"),
		BuyingPower:      firstNumber(data, "buying_power"),
		AvailableBalance: firstNumber(data, "available_balance", "available"),
		Raw:              parseRecord(data),
	}, nil
}

func (a *Adapter) BuyingPower(ctx context.Context) (float64, error) {
	data, err := a.get(ctx, "get_buying_power", "/account/buying-power", nil)
	if err != nil {
		return 0, err
	}
	if data.Type == gjson.Number {
		return data.Float(), nil
	}
	return firstNumber(data, "buying_power"), nil
}

func (a *Adapter) Positions(ctx context.Context) ([]broker.Position, error) {
	data, err := a.get(ctx, "get_positions", "/account/positions", nil)
	if err != nil {
		return nil, err
	}
	items := data.Array()
	out := make([]broker.Position, 0, len(items))
	for _, item := range items {
		out = append(out, parsePosition(item))
	}
	return out, nil
}

func (a *Adapter) Position(ctx context.Context, code string) (broker.Position, error) {
	data, err := a.get(ctx, "get_position", "/account/positions/"+url.PathEscape(code), nil)
	if err != nil {
		return broker.Position{}, err
	}
	if !data.Exists() || data.Type == gjson.Null {
		return broker.Position{}, apperr.Errorf(apperr.KindNotFound, "no position for %s", code)
	}
	return parsePosition(data), nil
}

func (a *Adapter) Settlements(ctx context.Context) ([]broker.Record, error) {
	data, err := a.get(ctx, "get_settlements", "/account/settlements", nil)
	if err != nil {
		return nil, err
	}
	return parseRecords(data), nil
}

func (a *Adapter) ProfitLoss(ctx context.Context) (broker.Record, error) {
	data, err := a.get(ctx, "get_profit_loss", "/account/profit-loss", nil)
	if err != nil {
		return nil, err
	}
	return parseRecord(data), nil
}

func (a *Adapter) MarginInfo(ctx context.Context) (broker.Record, error) {
	data, err := a.get(ctx, "get_margin_info", "/account/margin", nil)
	if err != nil {
		return nil, err
	}
	return parseRecord(data), nil
}
