package broker

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"

	"brokergw/internal/apperr"
	"brokergw/internal/logger"
	"brokergw/internal/order"
)

// Handle implements Broker on top of an Adapter and owns the
// Unauthenticated/Authenticated state machine for one session.
//
// Login, Logout and subscription changes hold mu exclusively. Every other
// operation holds mu shared for the whole adapter call, so a logout waits for
// in-flight calls and later calls observe the new state.
type Handle struct {
	adapter Adapter
	timeout time.Duration

	mu            sync.RWMutex
	authenticated bool
	principal     string
	realtime      bool
	subscribed    map[string]struct{}
	// ended is closed when the current login ends.
	ended chan struct{}

	// lmu guards listener sets for publishers running on adapter goroutines.
	// Mutations also hold mu.
	lmu            sync.Mutex
	quoteListeners map[string][]QuoteListener
	orderListeners []OrderListener
}

// HandleOption customizes a Handle.
type HandleOption func(*Handle)

// WithCallTimeout bounds every adapter call. Zero disables the bound.
func WithCallTimeout(d time.Duration) HandleOption {
	return func(h *Handle) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHandle binds adapter to a fresh, unauthenticated handle.
func NewHandle(adapter Adapter, opts ...HandleOption) *Handle {
	h := &Handle{
		adapter:        adapter,
		subscribed:     make(map[string]struct{}),
		quoteListeners: make(map[string][]QuoteListener),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ Broker = (*Handle)(nil)
var _ EventSink = (*Handle)(nil)

// Mode returns the backing adapter's mode.
func (h *Handle) Mode() Mode { return h.adapter.Mode() }

// IsAuthenticated reports the current login state.
func (h *Handle) IsAuthenticated() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.authenticated
}

// Principal returns the logged-in user id, or "" when unauthenticated.
func (h *Handle) Principal() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.principal
}

// closedCh is returned by Done on an unauthenticated handle.
var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done returns a channel closed when the current login ends through logout,
// re-login or eviction. It is already closed when the handle is logged out.
func (h *Handle) Done() <-chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.authenticated || h.ended == nil {
		return closedCh
	}
	return h.ended
}

// Login authenticates the handle. An already authenticated handle is logged
// out first so no backend connection is orphaned.
func (h *Handle) Login(ctx context.Context, creds Credentials) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.authenticated {
		logger.Infof("[broker] relogin mode=%s principal=%s: logging out first", h.adapter.Mode(), h.principal)
		if err := h.logoutLocked(ctx); err != nil {
			logger.Warnf("[broker] implicit logout failed mode=%s err=%v", h.adapter.Mode(), err)
		}
		h.resetLocked()
	}
	cctx, cancel := h.callContext(ctx)
	defer cancel()
	principal, err := h.adapter.Login(cctx, creds)
	if err != nil {
		return apperr.Classify("login", err)
	}
	if strings.TrimSpace(principal) == "" {
		principal = strings.TrimSpace(creds.UserID)
	}
	h.authenticated = true
	h.principal = principal
	h.ended = make(chan struct{})
	logger.Infof("[broker] login ok mode=%s principal=%s", h.adapter.Mode(), principal)
	return nil
}

// Logout ends the session. It returns false without error when the handle
// was not logged in. A failed backend logout leaves the handle authenticated.
func (h *Handle) Logout(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.authenticated {
		return false, nil
	}
	if err := h.logoutLocked(ctx); err != nil {
		return false, apperr.Classify("logout", err)
	}
	logger.Infof("[broker] logout ok mode=%s principal=%s", h.adapter.Mode(), h.principal)
	h.resetLocked()
	return true, nil
}

func (h *Handle) logoutLocked(ctx context.Context) error {
	cctx, cancel := h.callContext(ctx)
	defer cancel()
	return h.adapter.Logout(cctx)
}

func (h *Handle) resetLocked() {
	h.authenticated = false
	h.principal = ""
	h.realtime = false
	h.subscribed = make(map[string]struct{})
	if h.ended != nil {
		close(h.ended)
		h.ended = nil
	}
	h.lmu.Lock()
	h.quoteListeners = make(map[string][]QuoteListener)
	h.orderListeners = nil
	h.lmu.Unlock()
}

// InitRealtime starts the adapter's push feed once per login.
func (h *Handle) InitRealtime(ctx context.Context) error {
	return h.exclusive(ctx, "init_realtime", h.initRealtimeLocked)
}

func (h *Handle) initRealtimeLocked(ctx context.Context) error {
	if h.realtime {
		return nil
	}
	if err := h.adapter.InitRealtime(ctx, h); err != nil {
		return err
	}
	h.realtime = true
	logger.Infof("[broker] realtime initialized mode=%s", h.adapter.Mode())
	return nil
}

// SubscribeQuote subscribes code at the backend (once) and registers l when
// it is non-nil. The realtime feed is initialized on first use.
func (h *Handle) SubscribeQuote(ctx context.Context, code string, l QuoteListener) error {
	code = strings.TrimSpace(code)
	return h.exclusive(ctx, "subscribe_quote", func(ctx context.Context) error {
		if !order.ValidCode(code) {
			return apperr.Errorf(apperr.KindInvalidInstrumentCode, "invalid stock code %q", code)
		}
		if err := h.initRealtimeLocked(ctx); err != nil {
			return err
		}
		if _, ok := h.subscribed[code]; !ok {
			if err := h.adapter.Subscribe(ctx, code); err != nil {
				return err
			}
			h.subscribed[code] = struct{}{}
		}
		if l != nil {
			h.lmu.Lock()
			if !containsListener(h.quoteListeners[code], l) {
				h.quoteListeners[code] = append(h.quoteListeners[code], l)
			}
			h.lmu.Unlock()
		}
		return nil
	})
}

// UnsubscribeQuote drops the backend subscription and every listener for code.
func (h *Handle) UnsubscribeQuote(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	return h.exclusive(ctx, "unsubscribe_quote", func(ctx context.Context) error {
		if err := checkCode(code); err != nil {
			return err
		}
		if err := h.adapter.Unsubscribe(ctx, code); err != nil {
			return err
		}
		delete(h.subscribed, code)
		h.lmu.Lock()
		delete(h.quoteListeners, code)
		h.lmu.Unlock()
		return nil
	})
}

// RemoveQuoteListener detaches l from code but keeps the backend subscription.
func (h *Handle) RemoveQuoteListener(code string, l QuoteListener) {
	if l == nil {
		return
	}
	code = strings.TrimSpace(code)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lmu.Lock()
	defer h.lmu.Unlock()
	list := h.quoteListeners[code]
	for i, existing := range list {
		if sameListener(existing, l) {
			h.quoteListeners[code] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(h.quoteListeners[code]) == 0 {
		delete(h.quoteListeners, code)
	}
}

// SetOrderCallback appends l to the ordered order-event listener list.
func (h *Handle) SetOrderCallback(l OrderListener) error {
	if l == nil {
		return apperr.Errorf(apperr.KindInvalidRequest, "order callback is nil")
	}
	return h.exclusive(context.Background(), "set_order_callback", func(context.Context) error {
		h.lmu.Lock()
		defer h.lmu.Unlock()
		if !containsListener(h.orderListeners, l) {
			h.orderListeners = append(h.orderListeners, l)
		}
		return nil
	})
}

// RemoveOrderCallback detaches l.
func (h *Handle) RemoveOrderCallback(l OrderListener) {
	if l == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lmu.Lock()
	defer h.lmu.Unlock()
	for i, existing := range h.orderListeners {
		if sameListener(existing, l) {
			h.orderListeners = append(h.orderListeners[:i:i], h.orderListeners[i+1:]...)
			return
		}
	}
}

// PublishQuote fans q out to the listeners of q.Code.
func (h *Handle) PublishQuote(q Quote) {
	h.lmu.Lock()
	listeners := append([]QuoteListener(nil), h.quoteListeners[q.Code]...)
	h.lmu.Unlock()
	for _, l := range listeners {
		l.OnQuote(q)
	}
}

// PublishOrderEvent fans evt out to order listeners in registration order.
func (h *Handle) PublishOrderEvent(evt order.Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	h.lmu.Lock()
	listeners := append([]OrderListener(nil), h.orderListeners...)
	h.lmu.Unlock()
	for _, l := range listeners {
		l.OnOrderEvent(evt)
	}
}

func (h *Handle) GetQuote(ctx context.Context, code string) (Quote, error) {
	code = strings.TrimSpace(code)
	return call(h, ctx, "get_quote", func(ctx context.Context) (Quote, error) {
		if err := checkCode(code); err != nil {
			return Quote{}, err
		}
		return h.adapter.Quote(ctx, code)
	})
}

func (h *Handle) GetHistoricalData(ctx context.Context, q HistoryQuery) ([]Record, error) {
	if strings.TrimSpace(q.Interval) == "" {
		q.Interval = "D"
	}
	q.Code = strings.TrimSpace(q.Code)
	return call(h, ctx, "get_historical_data", func(ctx context.Context) ([]Record, error) {
		if err := checkCode(q.Code); err != nil {
			return nil, err
		}
		return h.adapter.History(ctx, q)
	})
}

func (h *Handle) GetIntradayData(ctx context.Context, code string) (Record, error) {
	code = strings.TrimSpace(code)
	return call(h, ctx, "get_intraday_data", func(ctx context.Context) (Record, error) {
		if err := checkCode(code); err != nil {
			return nil, err
		}
		return h.adapter.Intraday(ctx, code)
	})
}

// PlaceOrder validates req and submits it. Validation failures never reach
// the adapter. The outcome is published to order listeners.
func (h *Handle) PlaceOrder(ctx context.Context, req order.Request) (order.Result, error) {
	res, err := call(h, ctx, "place_order", func(ctx context.Context) (order.Result, error) {
		norm, err := order.Normalize(req)
		if err != nil {
			return order.Result{}, err
		}
		req = norm
		return h.adapter.PlaceOrder(ctx, norm)
	})
	if err != nil {
		return order.Result{}, err
	}
	evt := order.Event{
		Type:    order.EventAccepted,
		OrderID: res.OrderID,
		Code:    req.Code,
		Status:  order.StatusSubmitted,
		Price:   req.PriceValue(),
		Message: res.Message,
		At:      res.SubmittedAt,
	}
	if !res.Accepted() {
		evt.Type = order.EventRejected
		evt.Status = order.StatusRejected
		evt.Message = res.Reason
	}
	h.PublishOrderEvent(evt)
	return res, nil
}

func (h *Handle) CancelOrder(ctx context.Context, orderID string) (order.Ack, error) {
	orderID = strings.TrimSpace(orderID)
	ack, err := call(h, ctx, "cancel_order", func(ctx context.Context) (order.Ack, error) {
		if orderID == "" {
			return order.Ack{}, apperr.Errorf(apperr.KindInvalidRequest, "order_id is required")
		}
		return h.adapter.CancelOrder(ctx, orderID)
	})
	if err == nil && ack.Success {
		h.PublishOrderEvent(order.Event{Type: order.EventCancelled, OrderID: orderID, Status: order.StatusCancelled, Message: ack.Message})
	}
	return ack, err
}

func (h *Handle) ModifyOrder(ctx context.Context, m order.Modification) (order.Ack, error) {
	m.OrderID = strings.TrimSpace(m.OrderID)
	ack, err := call(h, ctx, "modify_order", func(ctx context.Context) (order.Ack, error) {
		if err := order.ValidateModification(m); err != nil {
			return order.Ack{}, err
		}
		return h.adapter.ModifyOrder(ctx, m)
	})
	if err == nil && ack.Success {
		evt := order.Event{Type: order.EventModified, OrderID: m.OrderID, Message: ack.Message}
		if m.Price != nil {
			evt.Price = *m.Price
		}
		h.PublishOrderEvent(evt)
	}
	return ack, err
}

func (h *Handle) GetOrders(ctx context.Context, f order.Filter) ([]order.Record, error) {
	return call(h, ctx, "get_orders", func(ctx context.Context) ([]order.Record, error) {
		return h.adapter.Orders(ctx, f)
	})
}

func (h *Handle) GetOrder(ctx context.Context, orderID string) (order.Record, error) {
	return call(h, ctx, "get_order", func(ctx context.Context) (order.Record, error) {
		return h.adapter.Order(ctx, strings.TrimSpace(orderID))
	})
}

func (h *Handle) GetAccountInfo(ctx context.Context) (Record, error) {
	return call(h, ctx, "get_account_info", h.adapter.AccountInfo)
}

func (h *Handle) GetBalance(ctx context.Context) (Balance, error) {
	return call(h, ctx, "get_balance", h.adapter.Balance)
}

func (h *Handle) GetPositions(ctx context.Context) ([]Position, error) {
	return call(h, ctx, "get_positions", h.adapter.Positions)
}

func (h *Handle) GetPosition(ctx context.Context, code string) (Position, error) {
	code = strings.TrimSpace(code)
	return call(h, ctx, "get_position", func(ctx context.Context) (Position, error) {
		if err := checkCode(code); err != nil {
			return Position{}, err
		}
		return h.adapter.Position(ctx, code)
	})
}

func (h *Handle) GetSettlements(ctx context.Context) ([]Record, error) {
	return call(h, ctx, "get_settlements", h.adapter.Settlements)
}

func (h *Handle) GetProfitLoss(ctx context.Context) (Record, error) {
	return call(h, ctx, "get_profit_loss", h.adapter.ProfitLoss)
}

func (h *Handle) GetMarginInfo(ctx context.Context) (Record, error) {
	return call(h, ctx, "get_margin_info", h.adapter.MarginInfo)
}

func (h *Handle) GetBuyingPower(ctx context.Context) (float64, error) {
	return call(h, ctx, "get_buying_power", h.adapter.BuyingPower)
}

// call runs fn under the shared lock after asserting authentication.
func call[T any](h *Handle, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var zero T
	if !h.authenticated {
		return zero, notAuthenticated(op)
	}
	cctx, cancel := h.callContext(ctx)
	defer cancel()
	out, err := fn(cctx)
	if err != nil {
		return zero, apperr.Classify(op, err)
	}
	return out, nil
}

// exclusive runs fn under the write lock after asserting authentication.
func (h *Handle) exclusive(ctx context.Context, op string, fn func(context.Context) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.authenticated {
		return notAuthenticated(op)
	}
	cctx, cancel := h.callContext(ctx)
	defer cancel()
	return apperr.Classify(op, fn(cctx))
}

func (h *Handle) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if h.timeout > 0 {
		return context.WithTimeout(ctx, h.timeout)
	}
	return context.WithCancel(ctx)
}

func checkCode(code string) error {
	if !order.ValidCode(code) {
		return apperr.Errorf(apperr.KindInvalidInstrumentCode, "stock code must be 4-6 digits, got %q", code)
	}
	return nil
}

func notAuthenticated(op string) error {
	return &apperr.Error{Kind: apperr.KindNotAuthenticated, Op: op, Detail: "not logged in, please login first"}
}

func containsListener[L any](list []L, l L) bool {
	for _, existing := range list {
		if sameListener(existing, l) {
			return true
		}
	}
	return false
}

// sameListener compares listener identity without panicking on func values.
func sameListener(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}
