package views

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/stocktracker/stockweb/pkg/stockapi"
	"github.com/stocktracker/stockweb/pkg/stores"
	"github.com/stocktracker/stockweb/pkg/telemetry"
)

// ErrTextCryptoSymbols is shown when the coin list cannot be fetched.
const ErrTextCryptoSymbols = "Failed to fetch crypto symbols from backend."

// CryptoRow is one row of the crypto table. Watch list entries are keyed by
// ID because the market endpoint takes the CoinGecko id.
type CryptoRow struct {
	Symbol      string
	ID          string
	Name        string
	InWatchList bool
}

// CryptoView lists coins with their watch list state.
type CryptoView struct {
	deps *Deps
}

// NewCryptoView creates the crypto view.
func NewCryptoView(d *Deps) *CryptoView {
	return &CryptoView{deps: d}
}

// Load fetches the coins and marks the ones on the session's watch list.
func (v *CryptoView) Load(ctx context.Context, session string) *State[[]CryptoRow] {
	state := &State[[]CryptoRow]{}
	run(ctx, v.deps, action[[]CryptoRow]{
		view:      "crypto",
		name:      "load",
		component: "Crypto",
		errorText: ErrTextCryptoSymbols,
		fetch: func(ctx context.Context) ([]CryptoRow, stockapi.Meta, error) {
			coins, meta, err := v.deps.API.CryptoSymbols(ctx)
			if err != nil {
				return nil, meta, err
			}
			telemetry.AddEvent(trace.SpanFromContext(ctx), EventSymbolsReceived,
				telemetry.AttrSymbolCount.Int(len(coins)))

			watched := v.deps.watched(ctx, session, stores.WatchKindCrypto)
			rows := make([]CryptoRow, 0, len(coins))
			for _, c := range coins {
				id := c.ID
				if id == "" {
					id = normalizeCoin(c.Symbol)
				}
				rows = append(rows, CryptoRow{
					Symbol:      strings.ToUpper(c.Symbol),
					ID:          id,
					Name:        c.Name,
					InWatchList: watched[id],
				})
			}
			return rows, meta, nil
		},
	}, state)
	return state
}

// AddToWatchList adds a coin id to the session's watch list.
func (v *CryptoView) AddToWatchList(ctx context.Context, session, id string) *State[WatchResult] {
	return v.deps.addToWatchList(ctx, "crypto", "Crypto", session, normalizeCoin(id), stores.WatchKindCrypto)
}

func normalizeCoin(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
