package broker

import (
	"context"

	"brokergw/internal/apperr"
	"brokergw/internal/order"
)

// Broker is the capability set every session handle exposes. Every method
// except Login, Logout and IsAuthenticated fails with apperr.ErrNotAuthenticated
// until a login succeeds.
type Broker interface {
	Mode() Mode
	Login(ctx context.Context, creds Credentials) error
	Logout(ctx context.Context) (bool, error)
	IsAuthenticated() bool
	Principal() string

	InitRealtime(ctx context.Context) error
	SubscribeQuote(ctx context.Context, code string, l QuoteListener) error
	UnsubscribeQuote(ctx context.Context, code string) error
	RemoveQuoteListener(code string, l QuoteListener)
	GetQuote(ctx context.Context, code string) (Quote, error)
	GetHistoricalData(ctx context.Context, q HistoryQuery) ([]Record, error)
	GetIntradayData(ctx context.Context, code string) (Record, error)

	PlaceOrder(ctx context.Context, req order.Request) (order.Result, error)
	CancelOrder(ctx context.Context, orderID string) (order.Ack, error)
	ModifyOrder(ctx context.Context, m order.Modification) (order.Ack, error)
	GetOrders(ctx context.Context, f order.Filter) ([]order.Record, error)
	GetOrder(ctx context.Context, orderID string) (order.Record, error)
	SetOrderCallback(l OrderListener) error
	RemoveOrderCallback(l OrderListener)

	GetAccountInfo(ctx context.Context) (Record, error)
	GetBalance(ctx context.Context) (Balance, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetPosition(ctx context.Context, code string) (Position, error)
	GetSettlements(ctx context.Context) ([]Record, error)
	GetProfitLoss(ctx context.Context) (Record, error)
	GetMarginInfo(ctx context.Context) (Record, error)
	GetBuyingPower(ctx context.Context) (float64, error)
}

// Adapter is the backend driver behind a Handle. Adapters do not track login
// state; the Handle only calls data operations after a successful Login and
// never concurrently with Login/Logout.
type Adapter interface {
	Mode() Mode
	Login(ctx context.Context, creds Credentials) (principal string, err error)
	Logout(ctx context.Context) error

	InitRealtime(ctx context.Context, sink EventSink) error
	Subscribe(ctx context.Context, code string) error
	Unsubscribe(ctx context.Context, code string) error
	Quote(ctx context.Context, code string) (Quote, error)
	History(ctx context.Context, q HistoryQuery) ([]Record, error)
	Intraday(ctx context.Context, code string) (Record, error)

	PlaceOrder(ctx context.Context, req order.Request) (order.Result, error)
	CancelOrder(ctx context.Context, orderID string) (order.Ack, error)
	ModifyOrder(ctx context.Context, m order.Modification) (order.Ack, error)
	Orders(ctx context.Context, f order.Filter) ([]order.Record, error)
	Order(ctx context.Context, orderID string) (order.Record, error)

	AccountInfo(ctx context.Context) (Record, error)
	Balance(ctx context.Context) (Balance, error)
	Positions(ctx context.Context) ([]Position, error)
	Position(ctx context.Context, code string) (Position, error)
	Settlements(ctx context.Context) ([]Record, error)
	ProfitLoss(ctx context.Context) (Record, error)
	MarginInfo(ctx context.Context) (Record, error)
	BuyingPower(ctx context.Context) (float64, error)
}

// EventSink receives pushed events from an adapter's realtime feed.
type EventSink interface {
	PublishQuote(q Quote)
	PublishOrderEvent(evt order.Event)
}

// QuoteListener must not block; it is invoked on the publishing goroutine.
type QuoteListener interface {
	OnQuote(q Quote)
}

// OrderListener must not block; it is invoked on the publishing goroutine.
type OrderListener interface {
	OnOrderEvent(evt order.Event)
}

// QuoteListenerFunc adapts a function to QuoteListener. Function values are not
// comparable, so listeners that need removal should be pointer types.
type QuoteListenerFunc func(Quote)

func (f QuoteListenerFunc) OnQuote(q Quote) { f(q) }

// OrderListenerFunc adapts a function to OrderListener.
type OrderListenerFunc func(order.Event)

func (f OrderListenerFunc) OnOrderEvent(evt order.Event) { f(evt) }

// Factory builds adapters for a mode. It returns apperr.ErrBackendUnavailable
// when the requested capability provider cannot be constructed.
type Factory interface {
	NewAdapter(mode Mode) (Adapter, error)
}

// Backends routes each mode to an adapter constructor. A mode without a
// constructor is reported as unavailable.
type Backends map[Mode]func() (Adapter, error)

func (b Backends) NewAdapter(mode Mode) (Adapter, error) {
	ctor, ok := b[mode]
	if !ok || ctor == nil {
		return nil, apperr.Errorf(apperr.KindBackendUnavailable, "%s broker is not available", mode)
	}
	ad, err := ctor()
	if err != nil {
		return nil, apperr.Classify("new_adapter", err)
	}
	return ad, nil
}
