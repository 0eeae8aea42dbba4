package views

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/stocktracker/stockweb/pkg/eventlog"
	"github.com/stocktracker/stockweb/pkg/stockapi"
	"github.com/stocktracker/stockweb/pkg/stores"
	"github.com/stocktracker/stockweb/pkg/telemetry"
)

// ErrTextWatchList is shown when the watch list cannot be read.
const ErrTextWatchList = "Failed to load watch list."

var errNoStore = errors.New("watch list store is not configured")

// WatchList is a session's watch list split by kind.
type WatchList struct {
	Stocks []*stores.WatchEntry
	Crypto []*stores.WatchEntry
}

// Empty reports whether the list has no entries.
func (w WatchList) Empty() bool {
	return len(w.Stocks) == 0 && len(w.Crypto) == 0
}

// WatchListView shows the session's watch list.
type WatchListView struct {
	deps *Deps
}

// NewWatchListView creates the watch list view.
func NewWatchListView(d *Deps) *WatchListView {
	return &WatchListView{deps: d}
}

// Load reads the session's watch list from the store.
func (v *WatchListView) Load(ctx context.Context, session string) *State[WatchList] {
	state := &State[WatchList]{}
	run(ctx, v.deps, action[WatchList]{
		view:      "watchlist",
		name:      "load",
		component: "WatchList",
		errorText: ErrTextWatchList,
		fetch: func(ctx context.Context) (WatchList, stockapi.Meta, error) {
			if v.deps.Store == nil {
				return WatchList{}, stockapi.Meta{}, errNoStore
			}
			entries, err := v.deps.Store.ListWatchEntries(ctx, session, nil)
			if err != nil {
				return WatchList{}, stockapi.Meta{}, err
			}
			var list WatchList
			for _, e := range entries {
				switch e.Kind {
				case stores.WatchKindStock:
					list.Stocks = append(list.Stocks, e)
				case stores.WatchKindCrypto:
					list.Crypto = append(list.Crypto, e)
				}
			}
			return list, stockapi.Meta{}, nil
		},
	}, state)
	return state
}

// Remove deletes one entry from the session's watch list. Removing an entry
// that is not present is not an error.
func (v *WatchListView) Remove(ctx context.Context, session, symbol string, kind stores.WatchKind) *State[bool] {
	if kind == stores.WatchKindCrypto {
		symbol = normalizeCoin(symbol)
	} else {
		symbol = normalizeStock(symbol)
	}

	state := &State[bool]{}
	run(ctx, v.deps, action[bool]{
		view:      "watchlist",
		name:      "remove",
		component: "WatchList",
		errorText: fmt.Sprintf("Failed to remove %s from watch list.", symbol),
		attrs: []attribute.KeyValue{
			telemetry.AttrSymbol.String(symbol),
			telemetry.AttrWatchKind.String(string(kind)),
		},
		fetch: func(ctx context.Context) (bool, stockapi.Meta, error) {
			if v.deps.Store == nil {
				return false, stockapi.Meta{}, errNoStore
			}
			err := v.deps.Store.RemoveWatchEntry(ctx, session, symbol, kind)
			if errors.Is(err, stores.ErrNotFound) {
				return false, stockapi.Meta{}, nil
			}
			if err != nil {
				return false, stockapi.Meta{}, err
			}
			return true, stockapi.Meta{}, nil
		},
		logEntry: func(removed bool, err error) *eventlog.Entry {
			metadata := map[string]interface{}{"symbol": symbol, "kind": string(kind)}
			if err != nil {
				metadata["error"] = err.Error()
				return &eventlog.Entry{Event: "watchlist_remove_error", Type: eventlog.TypeError, Metadata: metadata}
			}
			metadata["removed"] = removed
			return &eventlog.Entry{Event: "watchlist_remove", Type: eventlog.TypeInfo, Metadata: metadata}
		},
	}, state)
	return state
}
