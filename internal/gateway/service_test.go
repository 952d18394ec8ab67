package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"brokergw/internal/apperr"
	"brokergw/internal/broker"
	"brokergw/internal/config"
	"brokergw/internal/journal"
	"brokergw/internal/metrics"
	"brokergw/internal/order"
	"brokergw/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJournal struct {
	mu         sync.Mutex
	placements []order.Result
	events     []order.Event
	failWrite  bool
}

func (f *fakeJournal) RecordPlacement(_ context.Context, _ string, _ broker.Mode, _ order.Request, res order.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite {
		return errors.New("disk full")
	}
	f.placements = append(f.placements, res)
	return nil
}

func (f *fakeJournal) Listener(string, broker.Mode) broker.OrderListener {
	return broker.OrderListenerFunc(func(evt order.Event) {
		f.mu.Lock()
		f.events = append(f.events, evt)
		f.mu.Unlock()
	})
}

func (f *fakeJournal) List(context.Context, journal.Query) ([]journal.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]journal.Entry, 0, len(f.placements))
	for _, p := range f.placements {
		out = append(out, journal.Entry{OrderID: p.OrderID, Kind: journal.KindPlacement})
	}
	return out, nil
}

type recorder struct {
	mu     sync.Mutex
	quotes []broker.Quote
	events []order.Event
}

func (r *recorder) OnQuote(q broker.Quote) {
	r.mu.Lock()
	r.quotes = append(r.quotes, q)
	r.mu.Unlock()
}

func (r *recorder) OnOrderEvent(evt order.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.quotes), len(r.events)
}

var (
	sim   = Target{SessionID: "s1", Mode: broker.ModeSimulated}
	creds = broker.Credentials{UserID: "demo", Password: "pw", CertPath: "/tmp/cert.pfx"}
)

func newService(t *testing.T, j Journal) (*Service, *session.Registry) {
	t.Helper()
	cfg := config.Default()
	cfg.Simulated.QuoteIntervalMS = 10
	backends, err := NewBackendsFromConfig(cfg)
	require.NoError(t, err)
	reg := session.NewRegistry(backends)
	return NewService(reg, j, metrics.New(), Options{QuoteConcurrency: 2}), reg
}

func login(t *testing.T, s *Service, target Target) {
	t.Helper()
	res, err := s.Login(context.Background(), target, creds)
	require.NoError(t, err)
	require.Equal(t, "demo", res.Principal)
}

func TestService_UnknownSessionIsNotAuthenticated(t *testing.T) {
	s, reg := newService(t, nil)
	ctx := context.Background()

	_, err := s.Balance(ctx, sim)
	assert.ErrorIs(t, err, apperr.ErrNotAuthenticated)
	_, err = s.PlaceOrder(ctx, sim, order.Request{Code: "2330", Side: order.SideBuy, Quantity: 1})
	assert.ErrorIs(t, err, apperr.ErrNotAuthenticated)
	assert.False(t, s.Status(sim).Authenticated)
	assert.Zero(t, reg.Len(), "data operations must not create sessions")
}

func TestService_LoginRequiresCredentials(t *testing.T) {
	s, reg := newService(t, nil)
	_, err := s.Login(context.Background(), sim, broker.Credentials{UserID: "demo"})
	assert.Equal(t, apperr.KindInvalidRequest, apperr.KindOf(err))
	assert.Zero(t, reg.Len())
}

func TestService_LiveUnavailable(t *testing.T) {
	s, reg := newService(t, nil)
	_, err := s.Login(context.Background(), Target{SessionID: "s1", Mode: broker.ModeLive}, creds)
	assert.ErrorIs(t, err, apperr.ErrBackendUnavailable)
	assert.Zero(t, reg.Len())
}

func TestService_LoginOrderLogout(t *testing.T) {
	j := &fakeJournal{}
	s, reg := newService(t, j)
	ctx := context.Background()
	login(t, s, sim)

	st := s.Status(sim)
	assert.True(t, st.Authenticated)
	assert.Equal(t, "demo", st.Principal)

	price := 600.0
	res, err := s.PlaceOrder(ctx, sim, order.Request{Code: "2330", Side: order.SideBuy, Quantity: 1, Price: &price})
	require.NoError(t, err)
	assert.True(t, res.Accepted())
	assert.Contains(t, res.OrderID, "MOCK-")

	rec, err := s.Order(ctx, sim, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusSubmitted, rec.Status)

	j.mu.Lock()
	require.Len(t, j.placements, 1)
	require.Len(t, j.events, 1)
	assert.Equal(t, order.EventAccepted, j.events[0].Type)
	j.mu.Unlock()

	entries, err := s.Journal(ctx, sim, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	out, err := s.Logout(ctx, sim)
	require.NoError(t, err)
	assert.True(t, out.LoggedOut)
	assert.Zero(t, reg.Len())

	out, err = s.Logout(ctx, sim)
	require.NoError(t, err)
	assert.False(t, out.LoggedOut)
	assert.Equal(t, "not logged in", out.Message)

	_, err = s.Balance(ctx, sim)
	assert.ErrorIs(t, err, apperr.ErrNotAuthenticated)
}

func TestService_ValidationBeforeBackend(t *testing.T) {
	s, _ := newService(t, nil)
	ctx := context.Background()
	login(t, s, sim)

	_, err := s.PlaceOrder(ctx, sim, order.Request{Code: "23A0", Side: order.SideBuy, Quantity: 1, PriceType: order.PriceMarket})
	assert.ErrorIs(t, err, apperr.ErrInvalidInstrumentCode)
	_, err = s.PlaceOrder(ctx, sim, order.Request{Code: "2330", Side: order.SideBuy, Quantity: 1})
	assert.ErrorIs(t, err, apperr.ErrMissingPrice)

	orders, err := s.Orders(ctx, sim, order.Filter{})
	require.NoError(t, err)
	assert.Len(t, orders, 1, "only the seeded order")
}

func TestService_JournalFailureDoesNotFailOrder(t *testing.T) {
	s, _ := newService(t, &fakeJournal{failWrite: true})
	login(t, s, sim)
	res, err := s.PlaceOrder(context.Background(), sim, order.Request{Code: "2330", Side: order.SideSell, Quantity: 1, PriceType: order.PriceMarket})
	require.NoError(t, err)
	assert.True(t, res.Accepted())
}

func TestService_JournalDisabled(t *testing.T) {
	s, _ := newService(t, nil)
	login(t, s, sim)
	_, err := s.Journal(context.Background(), sim, 0)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_QuotesKeepOrder(t *testing.T) {
	s, _ := newService(t, nil)
	ctx := context.Background()
	login(t, s, sim)

	codes := []string{"2330", "2317", "0050", "2454"}
	quotes, err := s.Quotes(ctx, sim, codes)
	require.NoError(t, err)
	require.Len(t, quotes, len(codes))
	for i, q := range quotes {
		assert.Equal(t, codes[i], q.Code)
	}

	_, err = s.Quotes(ctx, sim, []string{"2330", "bad"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInstrumentCode)
	_, err = s.Quotes(ctx, sim, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestService_SubscribePerCode(t *testing.T) {
	s, _ := newService(t, nil)
	ctx := context.Background()
	login(t, s, sim)

	results, err := s.Subscribe(ctx, sim, []string{"2330", "x1"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.ErrorIs(t, results[1].Error, apperr.ErrInvalidInstrumentCode)

	results, err = s.Unsubscribe(ctx, sim, []string{"2330"})
	require.NoError(t, err)
	assert.True(t, results[0].Success)
}

func TestService_StreamAndDetach(t *testing.T) {
	s, _ := newService(t, nil)
	ctx := context.Background()
	login(t, s, sim)

	rec := &recorder{}
	sub, err := s.Stream(ctx, sim, []string{"2330"}, rec)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		q, _ := rec.counts()
		return q > 0
	}, time.Second, 10*time.Millisecond)

	_, err = s.CancelOrder(ctx, sim, "MOCK_001")
	assert.ErrorIs(t, err, apperr.ErrOrderRejected, "seeded order is already filled")

	price := 10.0
	_, err = s.PlaceOrder(ctx, sim, order.Request{Code: "2330", Side: order.SideBuy, Quantity: 1, Price: &price})
	require.NoError(t, err)
	_, events := rec.counts()
	assert.Equal(t, 1, events)

	sub.Detach()
	sub.Detach()
	_, err = s.PlaceOrder(ctx, sim, order.Request{Code: "2330", Side: order.SideBuy, Quantity: 1, Price: &price})
	require.NoError(t, err)
	_, events = rec.counts()
	assert.Equal(t, 1, events)

	_, err = s.Stream(ctx, sim, []string{"nope"}, rec)
	assert.ErrorIs(t, err, apperr.ErrInvalidInstrumentCode)

	select {
	case <-sub.Done():
		t.Fatal("subscription ended while logged in")
	default:
	}
	_, err = s.Logout(ctx, sim)
	require.NoError(t, err)
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("logout must end the subscription")
	}
}

func TestService_AccountOps(t *testing.T) {
	s, _ := newService(t, nil)
	ctx := context.Background()
	login(t, s, sim)

	bp, err := s.BuyingPower(ctx, sim)
	require.NoError(t, err)
	assert.Equal(t, 800000.0, bp)

	positions, err := s.Positions(ctx, sim)
	require.NoError(t, err)
	for _, p := range positions {
		one, err := s.Position(ctx, sim, p.Code)
		require.NoError(t, err)
		assert.Equal(t, p, one)
	}
	_, err = s.Position(ctx, sim, "9999")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = s.AccountInfo(ctx, sim)
	assert.NoError(t, err)
	_, err = s.Settlements(ctx, sim)
	assert.NoError(t, err)
	_, err = s.ProfitLoss(ctx, sim)
	assert.NoError(t, err)
	_, err = s.MarginInfo(ctx, sim)
	assert.NoError(t, err)
}

func TestService_SessionsListing(t *testing.T) {
	s, _ := newService(t, nil)
	login(t, s, Target{SessionID: "b", Mode: broker.ModeSimulated})
	login(t, s, Target{SessionID: "a", Mode: broker.ModeSimulated})
	list := s.Sessions()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].SessionID)
	assert.True(t, list[1].Authenticated)
}
