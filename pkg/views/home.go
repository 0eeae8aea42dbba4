package views

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/stocktracker/stockweb/pkg/stockapi"
)

// ErrTextSymbols is shown when the symbol list cannot be fetched.
const ErrTextSymbols = "Failed to fetch symbols from backend."

// HomeView is the landing page with the "Check Backend" action.
type HomeView struct {
	deps *Deps
}

// NewHomeView creates the home view.
func NewHomeView(d *Deps) *HomeView {
	return &HomeView{deps: d}
}

// CheckBackend fetches the stock symbols and returns them pretty printed.
func (v *HomeView) CheckBackend(ctx context.Context) *State[string] {
	state := &State[string]{}
	run(ctx, v.deps, action[string]{
		view:      "home",
		name:      "check_backend",
		component: "Home",
		errorText: ErrTextSymbols,
		fetch: func(ctx context.Context) (string, stockapi.Meta, error) {
			var raw json.RawMessage
			meta, err := v.deps.API.GetJSON(ctx, stockapi.EndpointStockSymbols, "/stocks/symbols", &raw)
			if err != nil {
				return "", meta, err
			}
			var out bytes.Buffer
			if err := json.Indent(&out, raw, "", "  "); err != nil {
				return "", meta, stockapi.NewDecodeError(stockapi.EndpointStockSymbols, meta.StatusCode, err)
			}
			return out.String(), meta, nil
		},
	}, state)
	return state
}
