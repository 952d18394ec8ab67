package live

import (
	"brokergw/internal/apperr"
	"brokergw/internal/broker"
	"brokergw/internal/config"
	"brokergw/internal/logger"
)

// Factory builds live adapters that share one bridge client. Availability is
// decided once from configuration; there is no startup check.
type Factory struct {
	client     *Client
	streamPath string
	reason     string
}

// NewFactory never fails. A disabled or misconfigured live section yields a
// factory whose New reports BackendUnavailable.
func NewFactory(cfg config.LiveConfig) *Factory {
	f := &Factory{streamPath: cfg.StreamPath}
	if !cfg.Enabled {
		f.reason = "live broker is disabled by configuration"
		return f
	}
	client, err := NewClient(cfg)
	if err != nil {
		f.reason = err.Error()
		logger.Warnf("[live] bridge client unavailable: %v", err)
		return f
	}
	f.client = client
	logger.Infof("[live] bridge configured url=%s", client.baseURL.Redacted())
	return f
}

// Available reports whether New can succeed.
func (f *Factory) Available() bool { return f != nil && f.client != nil }

// New returns an adapter for a fresh session.
func (f *Factory) New() (broker.Adapter, error) {
	if !f.Available() {
		reason := "live broker is not configured"
		if f != nil && f.reason != "" {
			reason = f.reason
		}
		return nil, apperr.Errorf(apperr.KindBackendUnavailable, "%s", reason)
	}
	return NewAdapter(f.client, f.streamPath), nil
}
