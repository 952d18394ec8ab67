package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"brokergw/internal/broker"
	"brokergw/internal/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "orders.db")
	j, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	price := 600.0

	req := order.Request{Code: "2330", Side: order.SideBuy, Quantity: 2, Price: &price,
		PriceType: order.PriceLimit, TimeInForce: order.TimeInForceDay, Condition: order.ConditionCash}
	res := order.Result{OrderID: "MOCK-1", Outcome: order.OutcomeAccepted, SubmittedAt: time.Now(), Raw: map[string]any{"seq": 7}}
	require.NoError(t, j.RecordPlacement(ctx, "s1", broker.ModeSimulated, req, res))
	require.NoError(t, j.RecordPlacement(ctx, "s2", broker.ModeSimulated, req, order.Result{OrderID: "MOCK-2", Outcome: order.OutcomeAccepted}))

	l := j.Listener("s1", broker.ModeSimulated)
	l.OnOrderEvent(order.Event{Type: order.EventCancelled, OrderID: "MOCK-1", Status: order.StatusCancelled, Message: "bye"})
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	all, err := j.List(ctx, Query{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, KindEvent, all[0].Kind)
	assert.Equal(t, "cancelled", all[0].Event)
	assert.Equal(t, KindPlacement, all[1].Kind)
	assert.Equal(t, "2330", all[1].Code)
	assert.Equal(t, 600.0, all[1].Price)
	assert.Equal(t, "LMT", all[1].PriceType)
	assert.JSONEq(t, `{"seq":7}`, string(all[1].Detail))

	placements, err := j.List(ctx, Query{Kind: KindPlacement})
	require.NoError(t, err)
	assert.Len(t, placements, 2)

	one, err := j.List(ctx, Query{OrderID: "MOCK-2", Limit: 5})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "s2", one[0].SessionID)
}

func TestJournal_ListenerAfterCloseDoesNotPanic(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	l := j.Listener("s1", broker.ModeLive)
	require.NoError(t, j.Close())
	assert.NotPanics(t, func() { l.OnOrderEvent(order.Event{OrderID: "x"}) })
	assert.NoError(t, j.Close())
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(" ")
	assert.Error(t, err)
}
