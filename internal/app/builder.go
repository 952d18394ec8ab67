package app

import (
	"context"
	"fmt"

	"brokergw/internal/broker"
	brcfg "brokergw/internal/config"
	"brokergw/internal/gateway"
	"brokergw/internal/journal"
	"brokergw/internal/logger"
	"brokergw/internal/metrics"
	"brokergw/internal/session"
	apihttp "brokergw/internal/transport/http/api"
)

type AppBuilder struct {
	cfg *brcfg.Config

	backendsFn func(*brcfg.Config) (broker.Backends, error)
	journalFn  func(brcfg.JournalConfig) (*journal.Journal, error)
	httpFn     func(apihttp.ServerConfig) (*apihttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithBackends overrides the adapter constructors (tests).
func WithBackends(fn func(*brcfg.Config) (broker.Backends, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.backendsFn = fn
		}
	}
}

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		backendsFn: gateway.NewBackendsFromConfig,
		journalFn:  openJournal,
		httpFn:     apihttp.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func openJournal(cfg brcfg.JournalConfig) (*journal.Journal, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return journal.Open(cfg.Path)
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	backends, err := b.backendsFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("build backends: %w", err)
	}
	registry := session.NewRegistry(backends, broker.WithCallTimeout(cfg.Gateway.CallTimeout()))

	jr, err := b.journalFn(cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	var sink gateway.Journal
	if jr != nil {
		sink = jr
		logger.Infof("✓ 委托日志已启用 path=%s", cfg.Journal.Path)
	}

	m := metrics.New()
	m.TrackSessions(registry.Len)
	svc := gateway.NewService(registry, sink, m, gateway.Options{QuoteConcurrency: cfg.Gateway.QuoteFetchConcurrency})

	defaultMode, _ := broker.ParseMode(cfg.Gateway.DefaultMode)
	server, err := b.httpFn(apihttp.ServerConfig{
		Addr:             cfg.App.HTTPAddr,
		Service:          svc,
		Metrics:          m,
		CORS:             cfg.HTTP,
		DefaultSessionID: cfg.Gateway.DefaultSessionID,
		DefaultMode:      defaultMode,
	})
	if err != nil {
		if jr != nil {
			_ = jr.Close()
		}
		return nil, err
	}

	return &App{
		cfg:      cfg,
		registry: registry,
		journal:  jr,
		server:   server,
		service:  svc,
		Summary:  newStartupSummary(cfg),
	}, nil
}
