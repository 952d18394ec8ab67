package simulated

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

// Fixtures is the canned data set served by the simulated adapter.
type Fixtures struct {
	Quote       QuoteFixture      `yaml:"quote"`
	History     []map[string]any  `yaml:"history"`
	Intraday    map[string]any    `yaml:"intraday"`
	Positions   []PositionFixture `yaml:"positions"`
	Account     map[string]any    `yaml:"account"`
	Balance     BalanceFixture    `yaml:"balance"`
	Settlements []map[string]any  `yaml:"settlements"`
	ProfitLoss  map[string]any    `yaml:"profit_loss"`
	Margin      map[string]any    `yaml:"margin"`
	Orders      []OrderFixture    `yaml:"orders"`
}

type QuoteFixture struct {
	Price  float64 `yaml:"price"`
	Volume int64   `yaml:"volume"`
}

type PositionFixture struct {
	Code         string  `yaml:"code"`
	Name         string  `yaml:"name"`
	Quantity     int     `yaml:"quantity"`
	AverageCost  float64 `yaml:"average_cost"`
	CurrentPrice float64 `yaml:"current_price"`
}

type BalanceFixture struct {
	Balance          float64 `yaml:"balance"`
	BuyingPower      float64 `yaml:"buying_power"`
	AvailableBalance float64 `yaml:"available_balance"`
}

type OrderFixture struct {
	OrderID   string  `yaml:"order_id"`
	Code      string  `yaml:"code"`
	Side      string  `yaml:"side"`
	Price     float64 `yaml:"price"`
	Quantity  int     `yaml:"quantity"`
	FilledQty int     `yaml:"filled_qty"`
	Status    string  `yaml:"status"`
}

// DefaultFixtures returns the embedded data set.
func DefaultFixtures() (Fixtures, error) {
	return parseFixtures(defaultFixtures)
}

// LoadFixtures reads a fixture file. An empty path yields the embedded set.
func LoadFixtures(path string) (Fixtures, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultFixtures()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("read fixtures %s: %w", path, err)
	}
	fx, err := parseFixtures(raw)
	if err != nil {
		return Fixtures{}, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	return fx, nil
}

func parseFixtures(raw []byte) (Fixtures, error) {
	var fx Fixtures
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		return Fixtures{}, err
	}
	for i, p := range fx.Positions {
		if strings.TrimSpace(p.Code) == "" {
			return Fixtures{}, fmt.Errorf("positions[%d]: code is required", i)
		}
	}
	return fx, nil
}
