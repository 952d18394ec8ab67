package config

import (
	"strings"
	"time"
)

// Config 是 brokergw 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Live      LiveConfig      `toml:"live"`
	Simulated SimulatedConfig `toml:"simulated"`
	Journal   JournalConfig   `toml:"journal"`
	HTTP      HTTPConfig      `toml:"http"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
}

// GatewayConfig 控制会话默认值与调用超时。
type GatewayConfig struct {
	DefaultSessionID      string `toml:"default_session_id"`
	DefaultMode           string `toml:"default_mode"` // simulated | live
	CallTimeoutSeconds    int    `toml:"call_timeout_seconds"`
	QuoteFetchConcurrency int    `toml:"quote_fetch_concurrency"`
}

// CallTimeout returns the per-call adapter deadline.
func (g GatewayConfig) CallTimeout() time.Duration {
	return time.Duration(g.CallTimeoutSeconds) * time.Second
}

// LiveConfig 描述实盘券商桥接服务的访问方式。
type LiveConfig struct {
	Enabled               bool   `toml:"enabled"`
	APIURL                string `toml:"api_url"`
	APIToken              string `toml:"api_token"`
	TimeoutSeconds        int    `toml:"timeout_seconds"`
	InsecureSkipVerify    bool   `toml:"insecure_skip_verify"`
	BreakerThreshold      int    `toml:"breaker_threshold"`
	BreakerTimeoutSeconds int    `toml:"breaker_timeout_seconds"`
	StreamPath            string `toml:"stream_path"`
}

// SimulatedConfig 模拟券商的数据来源与推送频率。
type SimulatedConfig struct {
	FixturesPath    string `toml:"fixtures_path"`
	QuoteIntervalMS int    `toml:"quote_interval_ms"`
}

func (s SimulatedConfig) QuoteInterval() time.Duration {
	return time.Duration(s.QuoteIntervalMS) * time.Millisecond
}

// JournalConfig 委托审计日志（sqlite）。
type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type HTTPConfig struct {
	CORSOrigins []string `toml:"cors_origins"`
}

// AllowsOrigin reports whether origin may call the API. "*" allows all.
func (h HTTPConfig) AllowsOrigin(origin string) bool {
	origin = strings.TrimSpace(origin)
	for _, o := range h.CORSOrigins {
		o = strings.TrimSpace(o)
		if o == "*" || (origin != "" && strings.EqualFold(o, origin)) {
			return true
		}
	}
	return false
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值逻辑。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
