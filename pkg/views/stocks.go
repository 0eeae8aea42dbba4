package views

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stocktracker/stockweb/pkg/eventlog"
	"github.com/stocktracker/stockweb/pkg/stockapi"
	"github.com/stocktracker/stockweb/pkg/stores"
	"github.com/stocktracker/stockweb/pkg/telemetry"
)

// StockRow is one row of the stocks table.
type StockRow struct {
	Symbol      string
	Name        string
	InWatchList bool
}

// WatchResult is the outcome of an add-to-watch-list action.
type WatchResult struct {
	Symbol string
	Kind   stores.WatchKind
	Added  bool
}

// StocksView lists stock symbols with their watch list state.
type StocksView struct {
	deps *Deps
}

// NewStocksView creates the stocks view.
func NewStocksView(d *Deps) *StocksView {
	return &StocksView{deps: d}
}

// Load fetches the symbols and marks the ones on the session's watch list.
// On error no rows are returned.
func (v *StocksView) Load(ctx context.Context, session string) *State[[]StockRow] {
	state := &State[[]StockRow]{}
	run(ctx, v.deps, action[[]StockRow]{
		view:      "stocks",
		name:      "load",
		component: "Stocks",
		errorText: ErrTextSymbols,
		fetch: func(ctx context.Context) ([]StockRow, stockapi.Meta, error) {
			symbols, meta, err := v.deps.API.StockSymbols(ctx)
			if err != nil {
				return nil, meta, err
			}
			telemetry.AddEvent(trace.SpanFromContext(ctx), EventSymbolsReceived,
				telemetry.AttrSymbolCount.Int(len(symbols)))

			watched := v.deps.watched(ctx, session, stores.WatchKindStock)
			rows := make([]StockRow, 0, len(symbols))
			for _, s := range symbols {
				rows = append(rows, StockRow{
					Symbol:      s.Symbol,
					Name:        s.Name,
					InWatchList: watched[s.Symbol],
				})
			}
			return rows, meta, nil
		},
	}, state)
	return state
}

// AddToWatchList adds a stock symbol to the session's watch list. Adding a
// symbol twice keeps one entry and reports Added=false.
func (v *StocksView) AddToWatchList(ctx context.Context, session, symbol string) *State[WatchResult] {
	return v.deps.addToWatchList(ctx, "stocks", "Stocks", session, normalizeStock(symbol), stores.WatchKindStock)
}

func normalizeStock(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// watched returns the set of symbols of kind on the session's watch list.
// Store errors are logged and yield an empty set.
func (d *Deps) watched(ctx context.Context, session string, kind stores.WatchKind) map[string]bool {
	set := map[string]bool{}
	if d.Store == nil || session == "" {
		return set
	}
	entries, err := d.Store.ListWatchEntries(ctx, session, &kind)
	if err != nil {
		telemetry.FromContext(ctx).Ctx(ctx).WithError(err).Warn("Failed to load watch list")
		return set
	}
	for _, e := range entries {
		set[e.Symbol] = true
	}
	return set
}

func (d *Deps) addToWatchList(ctx context.Context, view, component, session, symbol string, kind stores.WatchKind) *State[WatchResult] {
	state := &State[WatchResult]{}
	run(ctx, d, action[WatchResult]{
		view:      view,
		name:      "add_to_watchlist",
		component: component,
		errorText: fmt.Sprintf("Failed to add %s to watch list.", symbol),
		attrs: []attribute.KeyValue{
			telemetry.AttrSymbol.String(symbol),
			telemetry.AttrWatchKind.String(string(kind)),
		},
		fetch: func(ctx context.Context) (WatchResult, stockapi.Meta, error) {
			if d.Store == nil {
				return WatchResult{}, stockapi.Meta{}, errNoStore
			}
			if symbol == "" {
				return WatchResult{}, stockapi.Meta{}, fmt.Errorf("symbol is required")
			}
			added, err := d.Store.AddWatchEntry(ctx, &stores.WatchEntry{
				SessionID: session,
				Symbol:    symbol,
				Kind:      kind,
			})
			if err != nil {
				return WatchResult{}, stockapi.Meta{}, err
			}
			d.Metrics.RecordWatchlistAdd(string(kind), !added)
			_ = d.Events.PublishWatchlistAdded(view, symbol, string(kind), added)
			return WatchResult{Symbol: symbol, Kind: kind, Added: added}, stockapi.Meta{}, nil
		},
		logEntry: func(res WatchResult, err error) *eventlog.Entry {
			metadata := map[string]interface{}{
				"symbol": symbol,
				"kind":   string(kind),
			}
			if err != nil {
				metadata["error"] = err.Error()
				return &eventlog.Entry{Event: "watchlist_add_error", Type: eventlog.TypeError, Metadata: metadata}
			}
			metadata["already_present"] = !res.Added
			return &eventlog.Entry{Event: "watchlist_add", Type: eventlog.TypeInfo, Metadata: metadata}
		},
	}, state)
	return state
}
