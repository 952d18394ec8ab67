// Package simulated serves canned brokerage data without any external
// connection. Orders placed here live in an in-memory book per adapter.
package simulated

import (
	"context"
	"strings"
	"sync"
	"time"

	"brokergw/internal/apperr"
	"brokergw/internal/broker"
	"brokergw/internal/logger"
	"brokergw/internal/order"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultQuoteInterval = time.Second

var hundred = decimal.NewFromInt(100)

// Option customizes an Adapter.
type Option func(*Adapter)

// WithQuoteInterval sets the ticker period of the realtime feed.
func WithQuoteInterval(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// Adapter implements broker.Adapter on top of Fixtures.
type Adapter struct {
	fx       Fixtures
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	userID string
	book   []*order.Record
	index  map[string]*order.Record
	subs   map[string]struct{}
	stop   chan struct{}
}

var _ broker.Adapter = (*Adapter)(nil)

// New builds an adapter whose order book is seeded from fx.Orders.
func New(fx Fixtures, opts ...Option) *Adapter {
	a := &Adapter{
		fx:       fx,
		interval: defaultQuoteInterval,
		now:      time.Now,
		subs:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.seed()
	return a
}

func (a *Adapter) seed() {
	a.book = nil
	a.index = make(map[string]*order.Record)
	ts := a.now()
	for _, o := range a.fx.Orders {
		side, _ := order.ParseSide(o.Side)
		status, ok := order.ParseStatus(o.Status)
		if !ok {
			status = order.StatusFilled
		}
		rec := &order.Record{
			OrderID:     o.OrderID,
			Code:        o.Code,
			Side:        side,
			Price:       o.Price,
			Quantity:    o.Quantity,
			FilledQty:   o.FilledQty,
			Status:      status,
			PriceType:   order.PriceLimit,
			TimeInForce: order.TimeInForceDay,
			Condition:   order.ConditionCash,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		}
		a.book = append(a.book, rec)
		a.index[rec.OrderID] = rec
	}
}

func (a *Adapter) Mode() broker.Mode { return broker.ModeSimulated }

func (a *Adapter) Login(_ context.Context, creds broker.Credentials) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.userID = strings.TrimSpace(creds.UserID)
	logger.Infof("[simulated] login user=%s", a.userID)
	return a.userID, nil
}

func (a *Adapter) Logout(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	a.subs = make(map[string]struct{})
	logger.Infof("[simulated] logout user=%s", a.userID)
	a.userID = ""
	return nil
}

// InitRealtime starts the quote ticker. It outlives ctx and stops on Logout.
func (a *Adapter) InitRealtime(_ context.Context, sink broker.EventSink) error {
	if sink == nil {
		return apperr.Errorf(apperr.KindInvalidRequest, "event sink is nil")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		return nil
	}
	stop := make(chan struct{})
	a.stop = stop
	go a.tick(stop, sink)
	return nil
}

func (a *Adapter) tick(stop <-chan struct{}, sink broker.EventSink) {
	t := time.NewTicker(a.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			for _, code := range a.subscribedCodes() {
				sink.PublishQuote(a.quote(code))
			}
		}
	}
}

func (a *Adapter) stopLocked() {
	if a.stop != nil {
		close(a.stop)
		a.stop = nil
	}
}

func (a *Adapter) subscribedCodes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.subs))
	for code := range a.subs {
		out = append(out, code)
	}
	return out
}

func (a *Adapter) Subscribe(_ context.Context, code string) error {
	a.mu.Lock()
	a.subs[code] = struct{}{}
	a.mu.Unlock()
	logger.Debugf("[simulated] subscribe code=%s", code)
	return nil
}

func (a *Adapter) Unsubscribe(_ context.Context, code string) error {
	a.mu.Lock()
	delete(a.subs, code)
	a.mu.Unlock()
	logger.Debugf("[simulated] unsubscribe code=%s", code)
	return nil
}

func (a *Adapter) quote(code string) broker.Quote {
	return broker.Quote{Code: code, Price: a.fx.Quote.Price, Volume: a.fx.Quote.Volume, Timestamp: a.now()}
}

func (a *Adapter) Quote(_ context.Context, code string) (broker.Quote, error) {
	return a.quote(code), nil
}

func (a *Adapter) History(_ context.Context, _ broker.HistoryQuery) ([]broker.Record, error) {
	return records(a.fx.History), nil
}

func (a *Adapter) Intraday(_ context.Context, code string) (broker.Record, error) {
	rec := record(a.fx.Intraday)
	rec["stock_code"] = code
	return rec, nil
}

// PlaceOrder accepts every valid request and books it as submitted.
func (a *Adapter) PlaceOrder(_ context.Context, req order.Request) (order.Result, error) {
	norm, err := order.Normalize(req)
	if err != nil {
		return order.Result{}, err
	}
	ts := a.now()
	rec := &order.Record{
		OrderID:     "MOCK-" + uuid.NewString(),
		Code:        norm.Code,
		Side:        norm.Side,
		Price:       norm.PriceValue(),
		Quantity:    norm.Quantity,
		Status:      order.StatusSubmitted,
		PriceType:   norm.PriceType,
		TimeInForce: norm.TimeInForce,
		Condition:   norm.Condition,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	a.mu.Lock()
	a.book = append(a.book, rec)
	a.index[rec.OrderID] = rec
	a.mu.Unlock()
	logger.Infof("[simulated] place order id=%s %s %s x%d @%v", rec.OrderID, rec.Side, rec.Code, rec.Quantity, rec.Price)
	return order.Result{
		OrderID:     rec.OrderID,
		Outcome:     order.OutcomeAccepted,
		Message:     "Mock order placed successfully",
		SubmittedAt: ts,
	}, nil
}

func (a *Adapter) CancelOrder(_ context.Context, orderID string) (order.Ack, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, err := a.openLocked(orderID, "cancel")
	if err != nil {
		return order.Ack{}, err
	}
	rec.Status = order.StatusCancelled
	rec.UpdatedAt = a.now()
	return order.Ack{OrderID: orderID, Success: true, Message: "Mock order cancelled"}, nil
}

func (a *Adapter) ModifyOrder(_ context.Context, m order.Modification) (order.Ack, error) {
	if err := order.ValidateModification(m); err != nil {
		return order.Ack{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, err := a.openLocked(m.OrderID, "modify")
	if err != nil {
		return order.Ack{}, err
	}
	if m.Quantity != nil && *m.Quantity < rec.FilledQty {
		return order.Ack{}, apperr.Errorf(apperr.KindOrderRejected, "quantity %d below filled %d", *m.Quantity, rec.FilledQty)
	}
	if m.Price != nil {
		rec.Price = *m.Price
	}
	if m.Quantity != nil {
		rec.Quantity = *m.Quantity
	}
	rec.UpdatedAt = a.now()
	return order.Ack{OrderID: m.OrderID, Success: true, Message: "Mock order modified"}, nil
}

func (a *Adapter) openLocked(orderID, action string) (*order.Record, error) {
	rec, ok := a.index[orderID]
	if !ok {
		return nil, apperr.Errorf(apperr.KindNotFound, "order %s not found", orderID)
	}
	if !rec.Status.Open() {
		return nil, apperr.Errorf(apperr.KindOrderRejected, "order %s is %s, cannot %s", orderID, rec.Status, action)
	}
	return rec, nil
}

func (a *Adapter) Orders(_ context.Context, f order.Filter) ([]order.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]order.Record, 0, len(a.book))
	for _, rec := range a.book {
		if f.Match(*rec) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (a *Adapter) Order(_ context.Context, orderID string) (order.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.index[orderID]
	if !ok {
		return order.Record{}, apperr.Errorf(apperr.KindNotFound, "order %s not found", orderID)
	}
	return *rec, nil
}

func (a *Adapter) AccountInfo(context.Context) (broker.Record, error) {
	rec := record(a.fx.Account)
	a.mu.Lock()
	rec["account_id"] = a.userID
	a.mu.Unlock()
	return rec, nil
}

func (a *Adapter) Balance(context.Context) (broker.Balance, error) {
	b := a.fx.Balance
	return broker.Balance{
		Balance:          b.Balance,
		BuyingPower:      b.BuyingPower,
		AvailableBalance: b.AvailableBalance,
		Raw: broker.Record{
			"balance":           b.Balance,
			"buying_power":      b.BuyingPower,
			"available_balance": b.AvailableBalance,
		},
	}, nil
}

func (a *Adapter) BuyingPower(context.Context) (float64, error) {
	return a.fx.Balance.BuyingPower, nil
}

// Positions values every holding at its fixture price.
func (a *Adapter) Positions(context.Context) ([]broker.Position, error) {
	out := make([]broker.Position, 0, len(a.fx.Positions))
	for _, p := range a.fx.Positions {
		out = append(out, valuate(p))
	}
	return out, nil
}

// Position filters the Positions result so both views agree.
func (a *Adapter) Position(ctx context.Context, code string) (broker.Position, error) {
	all, err := a.Positions(ctx)
	if err != nil {
		return broker.Position{}, err
	}
	for _, p := range all {
		if p.Code == code {
			return p, nil
		}
	}
	return broker.Position{}, apperr.Errorf(apperr.KindNotFound, "no position for %s", code)
}

func (a *Adapter) Settlements(context.Context) ([]broker.Record, error) {
	return records(a.fx.Settlements), nil
}

func (a *Adapter) ProfitLoss(context.Context) (broker.Record, error) {
	return record(a.fx.ProfitLoss), nil
}

func (a *Adapter) MarginInfo(context.Context) (broker.Record, error) {
	return record(a.fx.Margin), nil
}

func valuate(p PositionFixture) broker.Position {
	qty := decimal.NewFromInt(int64(p.Quantity))
	cost := decimal.NewFromFloat(p.AverageCost)
	price := decimal.NewFromFloat(p.CurrentPrice)
	pl := price.Sub(cost).Mul(qty)
	pct := decimal.Zero
	if !cost.IsZero() {
		pct = price.Sub(cost).Div(cost).Mul(hundred).Round(2)
	}
	return broker.Position{
		Code:          p.Code,
		Name:          p.Name,
		Quantity:      p.Quantity,
		AverageCost:   p.AverageCost,
		CurrentPrice:  p.CurrentPrice,
		MarketValue:   price.Mul(qty).InexactFloat64(),
		ProfitLoss:    pl.InexactFloat64(),
		ProfitLossPct: pct.InexactFloat64(),
	}
}

func record(src map[string]any) broker.Record {
	out := make(broker.Record, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	return out
}

func records(src []map[string]any) []broker.Record {
	out := make([]broker.Record, 0, len(src))
	for _, row := range src {
		out = append(out, record(row))
	}
	return out
}

// Constructor builds a fresh adapter, with its own order book, per call.
func Constructor(fx Fixtures, opts ...Option) func() (broker.Adapter, error) {
	return func() (broker.Adapter, error) {
		return New(fx, opts...), nil
	}
}
