package stockapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Symbol is a tradable stock symbol. The backend may send either objects
// or bare strings; both decode into Symbol.
type Symbol struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Exchange string `json:"exchange,omitempty"`
	Type     string `json:"type,omitempty"`
}

// UnmarshalJSON accepts "AAPL" as well as {"symbol":"AAPL",...}.
func (s *Symbol) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*s = Symbol{Symbol: raw}
		return nil
	}

	type plain Symbol
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Symbol == "" {
		return fmt.Errorf("symbol entry without symbol field")
	}
	*s = Symbol(p)
	return nil
}

// CryptoSymbol is a coin listed by the backend. ID is the CoinGecko id used
// to fetch market data.
type CryptoSymbol struct {
	Symbol string `json:"symbol"`
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
}

// DailyBar is one trading day of a StockSeries.
type DailyBar struct {
	Date   string          `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Change returns close minus open.
func (b DailyBar) Change() decimal.Decimal {
	return b.Close.Sub(b.Open)
}

// StockSeries is the daily price history of one symbol, newest bar first.
type StockSeries struct {
	Symbol        string     `json:"symbol"`
	LastRefreshed string     `json:"last_refreshed"`
	TimeZone      string     `json:"time_zone"`
	Bars          []DailyBar `json:"bars"`
}

// Latest returns the newest bar.
func (s *StockSeries) Latest() (DailyBar, bool) {
	if len(s.Bars) == 0 {
		return DailyBar{}, false
	}
	return s.Bars[0], true
}

// alphaVantageDaily mirrors the TIME_SERIES_DAILY payload.
type alphaVantageDaily struct {
	MetaData struct {
		Symbol        string `json:"2. Symbol"`
		LastRefreshed string `json:"3. Last Refreshed"`
		TimeZone      string `json:"5. Time Zone"`
	} `json:"Meta Data"`
	TimeSeries map[string]struct {
		Open   decimal.Decimal `json:"1. open"`
		High   decimal.Decimal `json:"2. high"`
		Low    decimal.Decimal `json:"3. low"`
		Close  decimal.Decimal `json:"4. close"`
		Volume decimal.Decimal `json:"5. volume"`
	} `json:"Time Series (Daily)"`
	ErrorMessage string `json:"Error Message"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
}

// UnmarshalJSON decodes the Alpha Vantage daily series shape.
func (s *StockSeries) UnmarshalJSON(data []byte) error {
	var raw alphaVantageDaily
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch {
	case raw.ErrorMessage != "":
		return fmt.Errorf("upstream error: %s", raw.ErrorMessage)
	case raw.TimeSeries == nil && raw.Note != "":
		return fmt.Errorf("upstream rate limited: %s", raw.Note)
	case raw.TimeSeries == nil && raw.Information != "":
		return fmt.Errorf("upstream rate limited: %s", raw.Information)
	case raw.TimeSeries == nil:
		return fmt.Errorf("missing daily time series")
	}

	bars := make([]DailyBar, 0, len(raw.TimeSeries))
	for date, day := range raw.TimeSeries {
		bars = append(bars, DailyBar{
			Date:   date,
			Open:   day.Open,
			High:   day.High,
			Low:    day.Low,
			Close:  day.Close,
			Volume: day.Volume.IntPart(),
		})
	}
	// ISO dates sort lexically.
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date > bars[j].Date })

	*s = StockSeries{
		Symbol:        raw.MetaData.Symbol,
		LastRefreshed: raw.MetaData.LastRefreshed,
		TimeZone:      raw.MetaData.TimeZone,
		Bars:          bars,
	}
	return nil
}

// CoinMarket is the current market snapshot of one coin.
type CoinMarket struct {
	ID                       string          `json:"id"`
	Symbol                   string          `json:"symbol"`
	Name                     string          `json:"name"`
	Image                    string          `json:"image,omitempty"`
	CurrentPrice             decimal.Decimal `json:"current_price"`
	MarketCap                decimal.Decimal `json:"market_cap"`
	MarketCapRank            int             `json:"market_cap_rank"`
	TotalVolume              decimal.Decimal `json:"total_volume"`
	High24h                  decimal.Decimal `json:"high_24h"`
	Low24h                   decimal.Decimal `json:"low_24h"`
	PriceChange24h           decimal.Decimal `json:"price_change_24h"`
	PriceChangePercentage24h decimal.Decimal `json:"price_change_percentage_24h"`
	LastUpdated              time.Time       `json:"last_updated"`
}

// Rising reports whether the price went up over the last 24 hours.
func (m CoinMarket) Rising() bool {
	return m.PriceChange24h.IsPositive()
}
