package gateway

import (
	"fmt"

	"brokergw/internal/broker"
	"brokergw/internal/broker/live"
	"brokergw/internal/broker/simulated"
	"brokergw/internal/config"
)

// NewBackendsFromConfig builds the adapter constructors for both modes. The
// simulated backend is always present; live reports BackendUnavailable on
// use when it is disabled or misconfigured.
func NewBackendsFromConfig(cfg *config.Config) (broker.Backends, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	fx, err := simulated.LoadFixtures(cfg.Simulated.FixturesPath)
	if err != nil {
		return nil, err
	}
	lf := live.NewFactory(cfg.Live)
	return broker.Backends{
		broker.ModeSimulated: simulated.Constructor(fx, simulated.WithQuoteInterval(cfg.Simulated.QuoteInterval())),
		broker.ModeLive:      lf.New,
	}, nil
}
