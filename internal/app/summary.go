package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"brokergw/internal/broker/live"
	brcfg "brokergw/internal/config"
)

type StartupSummary struct {
	Env           string
	HTTPAddr      string
	DefaultMode   string
	CallTimeout   string
	LiveEnabled   bool
	LiveAvailable bool
	LiveURL       string
	FixturesPath  string
	Journal       string
	CORSOrigins   []string

	out io.Writer
}

func newStartupSummary(cfg *brcfg.Config) *StartupSummary {
	s := &StartupSummary{
		Env:          cfg.App.Env,
		HTTPAddr:     cfg.App.HTTPAddr,
		DefaultMode:  cfg.Gateway.DefaultMode,
		CallTimeout:  cfg.Gateway.CallTimeout().String(),
		LiveEnabled:  cfg.Live.Enabled,
		FixturesPath: cfg.Simulated.FixturesPath,
		Journal:      "-",
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		out:          os.Stdout,
	}
	if cfg.Live.Enabled {
		s.LiveAvailable = live.NewFactory(cfg.Live).Available()
		s.LiveURL = cfg.Live.APIURL
	}
	if s.FixturesPath == "" {
		s.FixturesPath = "(内置)"
	}
	if cfg.Journal.Enabled {
		s.Journal = cfg.Journal.Path
	}
	return s
}

func (s *StartupSummary) Print() {
	w := s.out
	if w == nil {
		w = os.Stdout
	}
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[服务 (SERVICE)]")
	fmt.Fprintf(w, "  环境: %s\n", s.Env)
	fmt.Fprintf(w, "  监听: %s\n", s.HTTPAddr)
	fmt.Fprintf(w, "  默认模式: %s\n", s.DefaultMode)
	fmt.Fprintf(w, "  调用超时: %s\n", s.CallTimeout)
	fmt.Fprintf(w, "  CORS: %s\n", formatList(s.CORSOrigins))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[券商后端 (BACKENDS)]")
	fmt.Fprintf(w, "  模拟: 可用 (fixtures=%s)\n", s.FixturesPath)
	switch {
	case !s.LiveEnabled:
		fmt.Fprintln(w, "  实盘: 未启用")
	case s.LiveAvailable:
		fmt.Fprintf(w, "  实盘: 可用 (%s)\n", s.LiveURL)
	default:
		fmt.Fprintln(w, "  实盘: 配置无效，调用将返回 BackendUnavailable")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[委托日志 (ORDER JOURNAL)]")
	fmt.Fprintf(w, "  路径: %s\n", s.Journal)
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
