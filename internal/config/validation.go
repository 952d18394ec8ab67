package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Gateway.validate(); err != nil {
		return err
	}
	if err := c.Live.validate(); err != nil {
		return err
	}
	if err := c.Journal.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", a.LogLevel)
	}
	switch strings.ToLower(strings.TrimSpace(a.LogFormat)) {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text or json, got %q", a.LogFormat)
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (g *GatewayConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(g.DefaultMode)) {
	case "simulated", "sim", "mock", "live", "real":
	default:
		return fmt.Errorf("gateway.default_mode must be simulated or live, got %q", g.DefaultMode)
	}
	if strings.TrimSpace(g.DefaultSessionID) == "" {
		return fmt.Errorf("gateway.default_session_id cannot be empty")
	}
	if g.CallTimeoutSeconds <= 0 {
		return fmt.Errorf("gateway.call_timeout_seconds must be > 0")
	}
	if g.QuoteFetchConcurrency <= 0 {
		return fmt.Errorf("gateway.quote_fetch_concurrency must be > 0")
	}
	return nil
}

// validate only checks the bridge address when live trading is enabled.
func (l *LiveConfig) validate() error {
	if !l.Enabled {
		return nil
	}
	raw := strings.TrimSpace(l.APIURL)
	if raw == "" {
		return fmt.Errorf("live.api_url cannot be empty when live.enabled")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("live.api_url is not a valid URL: %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("live.api_url must use http or https, got %q", u.Scheme)
	}
	if l.TimeoutSeconds <= 0 {
		return fmt.Errorf("live.timeout_seconds must be > 0")
	}
	if !strings.HasPrefix(strings.TrimSpace(l.StreamPath), "/") {
		return fmt.Errorf("live.stream_path must start with /")
	}
	return nil
}

func (j *JournalConfig) validate() error {
	if j.Enabled && strings.TrimSpace(j.Path) == "" {
		return fmt.Errorf("journal.path cannot be empty when journal.enabled")
	}
	return nil
}
