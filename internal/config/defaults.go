package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultAppLogFormat       = "text"
	defaultAppHTTPAddr        = ":8000"
	defaultSessionID          = "default"
	defaultGatewayMode        = "simulated"
	defaultCallTimeout        = 30
	defaultQuoteConcurrency   = 8
	defaultLiveAPI            = "http://127.0.0.1:9100/api"
	defaultLiveTimeout        = 15
	defaultBreakerThreshold   = 5
	defaultBreakerTimeout     = 30
	defaultLiveStreamPath     = "/realtime/stream"
	defaultSimQuoteIntervalMS = 1000
	defaultJournalPath        = "data/orders.db"
)

var defaultCORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(nil)
	return cfg
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Gateway.applyDefaults(keys)
	c.Live.applyDefaults(keys)
	c.Simulated.applyDefaults(keys)
	c.Journal.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (g *GatewayConfig) applyDefaults(keys keySet) {
	if g == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("gateway.default_session_id", &g.DefaultSessionID, defaultSessionID),
		stringFieldDefault("gateway.default_mode", &g.DefaultMode, defaultGatewayMode),
		fieldDefault{
			key:   "gateway.call_timeout_seconds",
			need:  func() bool { return g.CallTimeoutSeconds <= 0 },
			apply: func() { g.CallTimeoutSeconds = defaultCallTimeout },
		},
		fieldDefault{
			key:   "gateway.quote_fetch_concurrency",
			need:  func() bool { return g.QuoteFetchConcurrency <= 0 },
			apply: func() { g.QuoteFetchConcurrency = defaultQuoteConcurrency },
		},
	)
}

func (l *LiveConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("live.enabled", &l.Enabled, false),
		stringFieldDefault("live.api_url", &l.APIURL, defaultLiveAPI),
		stringFieldDefault("live.stream_path", &l.StreamPath, defaultLiveStreamPath),
		fieldDefault{
			key:   "live.timeout_seconds",
			need:  func() bool { return l.TimeoutSeconds <= 0 },
			apply: func() { l.TimeoutSeconds = defaultLiveTimeout },
		},
		fieldDefault{
			key:   "live.breaker_threshold",
			need:  func() bool { return l.BreakerThreshold <= 0 },
			apply: func() { l.BreakerThreshold = defaultBreakerThreshold },
		},
		fieldDefault{
			key:   "live.breaker_timeout_seconds",
			need:  func() bool { return l.BreakerTimeoutSeconds <= 0 },
			apply: func() { l.BreakerTimeoutSeconds = defaultBreakerTimeout },
		},
	)
}

func (s *SimulatedConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "simulated.quote_interval_ms",
			need:  func() bool { return s.QuoteIntervalMS <= 0 },
			apply: func() { s.QuoteIntervalMS = defaultSimQuoteIntervalMS },
		},
	)
}

func (j *JournalConfig) applyDefaults(keys keySet) {
	if j == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("journal.path", &j.Path, defaultJournalPath),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "http.cors_origins",
			need:  func() bool { return len(h.CORSOrigins) == 0 },
			apply: func() { h.CORSOrigins = append([]string(nil), defaultCORSOrigins...) },
		},
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
