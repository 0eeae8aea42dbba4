package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stocktracker/stockweb/pkg/views"
)

func newSymbolsCommand() *cobra.Command {
	var (
		jsonOut bool
		crypto  bool
	)

	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "Fetch the symbol list the way the stocks page does",
		Long: `Run the stocks (or crypto) page action without a browser and print the rows.

The action is traced and logged exactly like the page, and spans are
flushed before the command exits.`,
		Example: `  stockweb symbols
  stockweb symbols --crypto --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.closeLogged()

			set := views.NewSet(a.deps)
			out := cmd.OutOrStdout()

			var (
				rows    any
				failure string
			)
			if crypto {
				state := set.Crypto.Load(ctx, "")
				rows, failure = state.Data, state.Error
			} else {
				state := set.Stocks.Load(ctx, "")
				rows, failure = state.Data, state.Error
			}

			if !a.tel.Flush(ctx) {
				a.tel.Logger.Warn("Failed to export spans")
			}
			if failure != "" {
				return errors.New(failure)
			}

			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			switch r := rows.(type) {
			case []views.StockRow:
				fmt.Fprintln(w, "SYMBOL\tNAME")
				for _, row := range r {
					fmt.Fprintf(w, "%s\t%s\n", row.Symbol, row.Name)
				}
			case []views.CryptoRow:
				fmt.Fprintln(w, "SYMBOL\tID\tNAME")
				for _, row := range r {
					fmt.Fprintf(w, "%s\t%s\t%s\n", row.Symbol, row.ID, row.Name)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	cmd.Flags().BoolVar(&crypto, "crypto", false, "list coins instead of stocks")

	return cmd
}
