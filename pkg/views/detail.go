package views

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/stocktracker/stockweb/pkg/stockapi"
	"github.com/stocktracker/stockweb/pkg/telemetry"
)

// StockDetailView shows the daily series of one stock.
type StockDetailView struct {
	deps *Deps
}

// NewStockDetailView creates the stock detail view.
func NewStockDetailView(d *Deps) *StockDetailView {
	return &StockDetailView{deps: d}
}

// Load fetches the daily series of symbol.
func (v *StockDetailView) Load(ctx context.Context, symbol string) *State[*stockapi.StockSeries] {
	symbol = normalizeStock(symbol)
	state := &State[*stockapi.StockSeries]{}
	run(ctx, v.deps, action[*stockapi.StockSeries]{
		view:      "stock_detail",
		name:      "load",
		component: "StockDetail",
		errorText: fmt.Sprintf("Failed to fetch data for %s.", symbol),
		attrs:     []attribute.KeyValue{telemetry.AttrSymbol.String(symbol)},
		fetch: func(ctx context.Context) (*stockapi.StockSeries, stockapi.Meta, error) {
			return v.deps.API.StockSeries(ctx, symbol)
		},
	}, state)
	return state
}

// CryptoDetailView shows the market snapshot of one coin.
type CryptoDetailView struct {
	deps *Deps
}

// NewCryptoDetailView creates the crypto detail view.
func NewCryptoDetailView(d *Deps) *CryptoDetailView {
	return &CryptoDetailView{deps: d}
}

// Load fetches the market snapshot of the coin with the given id.
func (v *CryptoDetailView) Load(ctx context.Context, id string) *State[*stockapi.CoinMarket] {
	id = normalizeCoin(id)
	state := &State[*stockapi.CoinMarket]{}
	run(ctx, v.deps, action[*stockapi.CoinMarket]{
		view:      "crypto_detail",
		name:      "load",
		component: "CryptoDetail",
		errorText: fmt.Sprintf("Failed to fetch market data for %s.", id),
		attrs:     []attribute.KeyValue{telemetry.AttrSymbol.String(id)},
		fetch: func(ctx context.Context) (*stockapi.CoinMarket, stockapi.Meta, error) {
			return v.deps.API.CoinMarket(ctx, id)
		},
	}, state)
	return state
}
