package devbackend

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

// Fixtures is the data served by the stub backend.
type Fixtures struct {
	TimeZone string  `yaml:"time_zone"`
	Stocks   []Stock `yaml:"stocks"`
	Crypto   []Coin  `yaml:"crypto"`
}

// Stock is one symbol with its daily bars, newest first.
type Stock struct {
	Symbol string `yaml:"symbol"`
	Bars   []Bar  `yaml:"bars"`
}

type Bar struct {
	Date   string          `yaml:"date"`
	Open   decimal.Decimal `yaml:"open"`
	High   decimal.Decimal `yaml:"high"`
	Low    decimal.Decimal `yaml:"low"`
	Close  decimal.Decimal `yaml:"close"`
	Volume int64           `yaml:"volume"`
}

// Coin is one CoinGecko market row.
type Coin struct {
	ID           string          `yaml:"id"`
	Symbol       string          `yaml:"symbol"`
	Name         string          `yaml:"name"`
	Rank         int             `yaml:"rank"`
	Price        decimal.Decimal `yaml:"price"`
	MarketCap    decimal.Decimal `yaml:"market_cap"`
	Volume       decimal.Decimal `yaml:"volume"`
	High24h      decimal.Decimal `yaml:"high_24h"`
	Low24h       decimal.Decimal `yaml:"low_24h"`
	Change24h    decimal.Decimal `yaml:"change_24h"`
	ChangePct24h decimal.Decimal `yaml:"change_pct_24h"`
}

// DefaultFixtures returns the embedded fixtures.
func DefaultFixtures() (*Fixtures, error) {
	return ParseFixtures(defaultFixtures)
}

// LoadFixtures reads fixtures from a YAML file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures decodes and checks YAML fixtures.
func ParseFixtures(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}

	seen := make(map[string]bool)
	for i, s := range f.Stocks {
		if s.Symbol == "" {
			return nil, fmt.Errorf("stocks[%d]: symbol is required", i)
		}
		key := strings.ToUpper(s.Symbol)
		if seen[key] {
			return nil, fmt.Errorf("stocks[%d]: duplicate symbol %q", i, s.Symbol)
		}
		seen[key] = true
	}
	for i, c := range f.Crypto {
		if c.ID == "" || c.Symbol == "" {
			return nil, fmt.Errorf("crypto[%d]: id and symbol are required", i)
		}
	}
	if f.TimeZone == "" {
		f.TimeZone = "US/Eastern"
	}
	return &f, nil
}

func (f *Fixtures) stock(symbol string) (Stock, bool) {
	for _, s := range f.Stocks {
		if strings.EqualFold(s.Symbol, symbol) {
			return s, true
		}
	}
	return Stock{}, false
}

func (f *Fixtures) coin(id string) (Coin, bool) {
	for _, c := range f.Crypto {
		if strings.EqualFold(c.ID, id) {
			return c, true
		}
	}
	return Coin{}, false
}
