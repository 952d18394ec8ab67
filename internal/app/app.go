package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	brcfg "brokergw/internal/config"
	"brokergw/internal/gateway"
	"brokergw/internal/journal"
	"brokergw/internal/logger"
	"brokergw/internal/session"
	apihttp "brokergw/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// App 负责应用级编排：配置→会话注册表→网关服务→HTTP。
type App struct {
	cfg      *brcfg.Config
	cfgPath  string
	registry *session.Registry
	journal  *journal.Journal
	server   *apihttp.Server
	service  *gateway.Service
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *brcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// WatchConfig makes Run hot-reload app.log_level from path.
func (a *App) WatchConfig(path string) {
	if a != nil {
		a.cfgPath = path
	}
}

// Run 启动 HTTP 服务；ctx 取消后登出全部会话并关闭委托日志。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.server == nil {
		return fmt.Errorf("http server not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	if a.cfgPath != "" {
		if err := brcfg.Watch(ctx, a.cfgPath, a.applyReload); err != nil {
			logger.Warnf("[app] config watch disabled: %v", err)
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(gctx); err != nil {
			return fmt.Errorf("api http server error: %w", err)
		}
		return nil
	})
	err := group.Wait()
	return errors.Join(err, a.shutdown())
}

func (a *App) applyReload(cfg *brcfg.Config) {
	if cfg.App.LogLevel != a.cfg.App.LogLevel {
		logger.Infof("[app] log level %s -> %s", a.cfg.App.LogLevel, cfg.App.LogLevel)
		logger.SetLevel(cfg.App.LogLevel)
		a.cfg.App.LogLevel = cfg.App.LogLevel
	}
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if a.registry != nil {
		if err := a.registry.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	logger.Infof("[app] shutdown complete")
	return errors.Join(errs...)
}

// Service exposes the gateway service (for tests/harnesses).
func (a *App) Service() *gateway.Service {
	if a == nil {
		return nil
	}
	return a.service
}
