package app

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"brokergw/internal/broker"
	brcfg "brokergw/internal/config"
	"brokergw/internal/gateway"
	"brokergw/internal/logger"
	"brokergw/internal/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *brcfg.Config {
	t.Helper()
	cfg := brcfg.Default()
	cfg.App.HTTPAddr = "127.0.0.1:0"
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "orders.db")
	return cfg
}

func TestNewApp_NilConfig(t *testing.T) {
	_, err := NewApp(nil)
	assert.Error(t, err)
	var a *App
	assert.Error(t, a.Run(context.Background()))
}

func TestBuild_BackendError(t *testing.T) {
	b := NewAppBuilder(testConfig(t), WithBackends(func(*brcfg.Config) (broker.Backends, error) {
		return nil, errors.New("fixtures broken")
	}))
	_, err := b.Build(context.Background())
	assert.ErrorContains(t, err, "fixtures broken")
}

func TestRun_ShutdownLogsOutSessions(t *testing.T) {
	a, err := NewApp(testConfig(t))
	require.NoError(t, err)
	var out bytes.Buffer
	a.Summary.out = &out

	target := gateway.Target{SessionID: "s1", Mode: broker.ModeSimulated}
	ctx := context.Background()
	_, err = a.Service().Login(ctx, target, broker.Credentials{UserID: "demo", Password: "pw", CertPath: "c"})
	require.NoError(t, err)
	price := 600.0
	_, err = a.Service().PlaceOrder(ctx, target, order.Request{Code: "2330", Side: order.SideBuy, Quantity: 1, Price: &price})
	require.NoError(t, err)
	entries, err := a.Service().Journal(ctx, target, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.Run(runCtx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.False(t, a.Service().Status(target).Authenticated)
	assert.Contains(t, out.String(), "STARTUP SUMMARY")
}

func TestApplyReload_LogLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Enabled = false
	a, err := NewApp(cfg)
	require.NoError(t, err)
	defer logger.SetLevel("info")

	next := brcfg.Default()
	next.App.LogLevel = "debug"
	a.applyReload(next)
	assert.Equal(t, "debug", logger.Level())
	assert.Equal(t, "debug", a.cfg.App.LogLevel)
}

func TestStartupSummary_Live(t *testing.T) {
	cfg := testConfig(t)
	cfg.Live.Enabled = true
	s := newStartupSummary(cfg)
	assert.True(t, s.LiveAvailable)
	var out bytes.Buffer
	s.out = &out
	s.Print()
	assert.Contains(t, out.String(), cfg.Live.APIURL)
}
