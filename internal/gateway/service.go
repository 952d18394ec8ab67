// Package gateway is the operations layer between transports and broker
// sessions: resolve the session, assert login, delegate, classify.
package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"brokergw/internal/apperr"
	"brokergw/internal/broker"
	"brokergw/internal/journal"
	"brokergw/internal/logger"
	"brokergw/internal/metrics"
	"brokergw/internal/order"
	"brokergw/internal/session"

	"golang.org/x/sync/errgroup"
)

const defaultQuoteConcurrency = 8

// Target addresses one session handle.
type Target struct {
	SessionID string
	Mode      broker.Mode
}

// Journal is the audit sink used for placements and order events.
type Journal interface {
	RecordPlacement(ctx context.Context, sessionID string, mode broker.Mode, req order.Request, res order.Result) error
	Listener(sessionID string, mode broker.Mode) broker.OrderListener
	List(ctx context.Context, q journal.Query) ([]journal.Entry, error)
}

// Options tunes a Service.
type Options struct {
	QuoteConcurrency int
}

type Service struct {
	registry   *session.Registry
	journal    Journal
	metrics    *metrics.Metrics
	quoteLimit int
}

// NewService wires the layer. journal and m may be nil.
func NewService(registry *session.Registry, j Journal, m *metrics.Metrics, opts Options) *Service {
	limit := opts.QuoteConcurrency
	if limit <= 0 {
		limit = defaultQuoteConcurrency
	}
	return &Service{registry: registry, journal: j, metrics: m, quoteLimit: limit}
}

// LoginResult 登录结果。
type LoginResult struct {
	SessionID string
	Mode      broker.Mode
	Principal string
}

// LogoutResult 登出结果；未登录时 LoggedOut=false。
type LogoutResult struct {
	LoggedOut bool
	Message   string
}

// Status describes one session without side effects.
type Status struct {
	SessionID     string
	Mode          broker.Mode
	Authenticated bool
	Principal     string
	CreatedAt     time.Time
}

// CodeResult is the per-code outcome of a batch subscription change.
type CodeResult struct {
	Code    string
	Success bool
	Error   error
}

// Login resolves the session, creating it on demand, and logs in.
func (s *Service) Login(ctx context.Context, t Target, creds broker.Credentials) (LoginResult, error) {
	start := time.Now()
	res, err := s.login(ctx, t, creds)
	err = apperr.Classify("login", err)
	s.metrics.ObserveOp("login", string(t.Mode), start, err)
	return res, err
}

func (s *Service) login(ctx context.Context, t Target, creds broker.Credentials) (LoginResult, error) {
	if strings.TrimSpace(creds.UserID) == "" || creds.Password == "" || strings.TrimSpace(creds.CertPath) == "" {
		return LoginResult{}, apperr.Errorf(apperr.KindInvalidRequest, "user_id, password and cert_path are required")
	}
	var res LoginResult
	err := s.registry.Do(ctx, t.SessionID, t.Mode, func(h *broker.Handle) error {
		if err := h.Login(ctx, creds); err != nil {
			logger.Warnf("[gateway] login failed session=%s mode=%s err=%v", t.SessionID, t.Mode, err)
			return err
		}
		if s.journal != nil {
			if err := h.SetOrderCallback(s.journal.Listener(t.SessionID, t.Mode)); err != nil {
				logger.Warnf("[gateway] attach journal session=%s failed: %v", t.SessionID, err)
			}
		}
		res = LoginResult{SessionID: t.SessionID, Mode: t.Mode, Principal: h.Principal()}
		return nil
	})
	return res, err
}

// Logout ends the session and evicts it so the handle does not outlive it.
func (s *Service) Logout(ctx context.Context, t Target) (LogoutResult, error) {
	start := time.Now()
	res, err := s.logout(ctx, t)
	err = apperr.Classify("logout", err)
	s.metrics.ObserveOp("logout", string(t.Mode), start, err)
	return res, err
}

func (s *Service) logout(ctx context.Context, t Target) (LogoutResult, error) {
	done, err := s.registry.Evict(ctx, t.SessionID, t.Mode)
	if err != nil {
		return LogoutResult{}, err
	}
	if !done {
		return LogoutResult{LoggedOut: false, Message: "not logged in"}, nil
	}
	return LogoutResult{LoggedOut: true, Message: "logged out"}, nil
}

// Status never creates a handle; an unknown session reads as logged out.
func (s *Service) Status(t Target) Status {
	st := Status{SessionID: t.SessionID, Mode: t.Mode}
	if e, ok := s.registry.Lookup(t.SessionID, t.Mode); ok {
		st.Authenticated = e.Handle.IsAuthenticated()
		st.Principal = e.Handle.Principal()
		st.CreatedAt = e.CreatedAt
	}
	return st
}

// Sessions lists every registered session.
func (s *Service) Sessions() []Status {
	entries := s.registry.Sessions()
	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, Status{
			SessionID:     e.ID,
			Mode:          e.Mode,
			Authenticated: e.Handle.IsAuthenticated(),
			Principal:     e.Handle.Principal(),
			CreatedAt:     e.CreatedAt,
		})
	}
	return out
}

// authed returns the logged-in handle for t. Sessions that were never
// created are reported as not authenticated without registering anything.
func (s *Service) authed(t Target) (*broker.Handle, error) {
	e, ok := s.registry.Lookup(t.SessionID, t.Mode)
	if !ok || !e.Handle.IsAuthenticated() {
		return nil, apperr.Errorf(apperr.KindNotAuthenticated, "not logged in, please login first")
	}
	return e.Handle, nil
}

// run is the common resolve/assert/delegate/classify path.
func run[T any](s *Service, t Target, op string, fn func(*broker.Handle) (T, error)) (T, error) {
	start := time.Now()
	var out T
	h, err := s.authed(t)
	if err == nil {
		out, err = fn(h)
	}
	err = apperr.Classify(op, err)
	s.metrics.ObserveOp(op, string(t.Mode), start, err)
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (s *Service) Subscribe(ctx context.Context, t Target, codes []string) ([]CodeResult, error) {
	return run(s, t, "subscribe_quote", func(h *broker.Handle) ([]CodeResult, error) {
		return eachCode(codes, func(code string) error { return h.SubscribeQuote(ctx, code, nil) })
	})
}

func (s *Service) Unsubscribe(ctx context.Context, t Target, codes []string) ([]CodeResult, error) {
	return run(s, t, "unsubscribe_quote", func(h *broker.Handle) ([]CodeResult, error) {
		return eachCode(codes, func(code string) error { return h.UnsubscribeQuote(ctx, code) })
	})
}

func eachCode(codes []string, fn func(string) error) ([]CodeResult, error) {
	if len(codes) == 0 {
		return nil, apperr.Errorf(apperr.KindInvalidRequest, "stock_codes cannot be empty")
	}
	out := make([]CodeResult, 0, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		err := fn(code)
		out = append(out, CodeResult{Code: code, Success: err == nil, Error: err})
	}
	return out, nil
}

func (s *Service) Quote(ctx context.Context, t Target, code string) (broker.Quote, error) {
	return run(s, t, "get_quote", func(h *broker.Handle) (broker.Quote, error) {
		return h.GetQuote(ctx, code)
	})
}

// Quotes fetches codes concurrently and keeps the input order.
func (s *Service) Quotes(ctx context.Context, t Target, codes []string) ([]broker.Quote, error) {
	return run(s, t, "get_quotes", func(h *broker.Handle) ([]broker.Quote, error) {
		if len(codes) == 0 {
			return nil, apperr.Errorf(apperr.KindInvalidRequest, "stock_codes cannot be empty")
		}
		out := make([]broker.Quote, len(codes))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.quoteLimit)
		for i, code := range codes {
			g.Go(func() error {
				q, err := h.GetQuote(gctx, code)
				if err != nil {
					return err
				}
				out[i] = q
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	})
}

func (s *Service) History(ctx context.Context, t Target, q broker.HistoryQuery) ([]broker.Record, error) {
	return run(s, t, "get_historical_data", func(h *broker.Handle) ([]broker.Record, error) {
		return h.GetHistoricalData(ctx, q)
	})
}

func (s *Service) Intraday(ctx context.Context, t Target, code string) (broker.Record, error) {
	return run(s, t, "get_intraday_data", func(h *broker.Handle) (broker.Record, error) {
		return h.GetIntradayData(ctx, code)
	})
}

// PlaceOrder submits req and journals the placement when enabled. A journal
// write failure is logged and does not fail the order.
func (s *Service) PlaceOrder(ctx context.Context, t Target, req order.Request) (order.Result, error) {
	return run(s, t, "place_order", func(h *broker.Handle) (order.Result, error) {
		res, err := h.PlaceOrder(ctx, req)
		if err != nil {
			return order.Result{}, err
		}
		if s.journal != nil {
			norm, _ := order.Normalize(req)
			if jerr := s.journal.RecordPlacement(ctx, t.SessionID, t.Mode, norm, res); jerr != nil {
				logger.Warnf("[gateway] journal placement order=%s failed: %v", res.OrderID, jerr)
			}
		}
		return res, nil
	})
}

func (s *Service) CancelOrder(ctx context.Context, t Target, orderID string) (order.Ack, error) {
	return run(s, t, "cancel_order", func(h *broker.Handle) (order.Ack, error) {
		return h.CancelOrder(ctx, orderID)
	})
}

func (s *Service) ModifyOrder(ctx context.Context, t Target, m order.Modification) (order.Ack, error) {
	return run(s, t, "modify_order", func(h *broker.Handle) (order.Ack, error) {
		return h.ModifyOrder(ctx, m)
	})
}

func (s *Service) Orders(ctx context.Context, t Target, f order.Filter) ([]order.Record, error) {
	return run(s, t, "get_orders", func(h *broker.Handle) ([]order.Record, error) {
		return h.GetOrders(ctx, f)
	})
}

func (s *Service) Order(ctx context.Context, t Target, orderID string) (order.Record, error) {
	return run(s, t, "get_order", func(h *broker.Handle) (order.Record, error) {
		return h.GetOrder(ctx, orderID)
	})
}

func (s *Service) AccountInfo(ctx context.Context, t Target) (broker.Record, error) {
	return run(s, t, "get_account_info", func(h *broker.Handle) (broker.Record, error) {
		return h.GetAccountInfo(ctx)
	})
}

func (s *Service) Balance(ctx context.Context, t Target) (broker.Balance, error) {
	return run(s, t, "get_balance", func(h *broker.Handle) (broker.Balance, error) {
		return h.GetBalance(ctx)
	})
}

func (s *Service) BuyingPower(ctx context.Context, t Target) (float64, error) {
	return run(s, t, "get_buying_power", func(h *broker.Handle) (float64, error) {
		return h.GetBuyingPower(ctx)
	})
}

func (s *Service) Positions(ctx context.Context, t Target) ([]broker.Position, error) {
	return run(s, t, "get_positions", func(h *broker.Handle) ([]broker.Position, error) {
		return h.GetPositions(ctx)
	})
}

func (s *Service) Position(ctx context.Context, t Target, code string) (broker.Position, error) {
	return run(s, t, "get_position", func(h *broker.Handle) (broker.Position, error) {
		return h.GetPosition(ctx, code)
	})
}

func (s *Service) Settlements(ctx context.Context, t Target) ([]broker.Record, error) {
	return run(s, t, "get_settlements", func(h *broker.Handle) ([]broker.Record, error) {
		return h.GetSettlements(ctx)
	})
}

func (s *Service) ProfitLoss(ctx context.Context, t Target) (broker.Record, error) {
	return run(s, t, "get_profit_loss", func(h *broker.Handle) (broker.Record, error) {
		return h.GetProfitLoss(ctx)
	})
}

func (s *Service) MarginInfo(ctx context.Context, t Target) (broker.Record, error) {
	return run(s, t, "get_margin_info", func(h *broker.Handle) (broker.Record, error) {
		return h.GetMarginInfo(ctx)
	})
}

// StreamListener receives both quotes and order events.
type StreamListener interface {
	broker.QuoteListener
	broker.OrderListener
}

// Subscription is a listener attached by Stream.
type Subscription struct {
	done   <-chan struct{}
	detach func()
	once   sync.Once
}

// Done is closed when the login the listener was attached to ends. The
// handle drops its listeners at that point, so nothing more arrives.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

// Detach removes the listener. It is safe to call more than once.
func (sub *Subscription) Detach() { sub.once.Do(sub.detach) }

// Stream attaches l to the quotes of codes and to order events.
func (s *Service) Stream(ctx context.Context, t Target, codes []string, l StreamListener) (*Subscription, error) {
	return run(s, t, "stream", func(h *broker.Handle) (*Subscription, error) {
		if l == nil {
			return nil, apperr.Errorf(apperr.KindInvalidRequest, "stream listener is nil")
		}
		// taken before attaching: a relogin in between closes it
		done := h.Done()
		var attached []string
		detach := func() {
			for _, code := range attached {
				h.RemoveQuoteListener(code, l)
			}
			h.RemoveOrderCallback(l)
		}
		if err := h.SetOrderCallback(l); err != nil {
			return nil, err
		}
		for _, code := range codes {
			code = strings.TrimSpace(code)
			if err := h.SubscribeQuote(ctx, code, l); err != nil {
				detach()
				return nil, err
			}
			attached = append(attached, code)
		}
		return &Subscription{done: done, detach: detach}, nil
	})
}

// Journal lists audit entries for the session.
func (s *Service) Journal(ctx context.Context, t Target, limit int) ([]journal.Entry, error) {
	return run(s, t, "get_journal", func(*broker.Handle) ([]journal.Entry, error) {
		if s.journal == nil {
			return nil, apperr.Errorf(apperr.KindNotFound, "order journal is disabled")
		}
		return s.journal.List(ctx, journal.Query{SessionID: t.SessionID, Limit: limit})
	})
}
