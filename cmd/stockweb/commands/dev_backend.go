package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/stocktracker/stockweb/pkg/devbackend"
	"github.com/stocktracker/stockweb/pkg/eventlog"
	"github.com/stocktracker/stockweb/pkg/telemetry"
)

func newDevBackendCommand() *cobra.Command {
	var (
		addr     string
		fixtures string
		failing  bool
	)

	cmd := &cobra.Command{
		Use:   "dev-backend",
		Short: "Run a stub stock backend serving fixtures",
		Long: `Serve /stocks, /crypto and /log-event from YAML fixtures so the frontend
can run without Alpha Vantage or CoinGecko keys. Requests continue the
caller's trace and are exported like any other span.`,
		Example: `  stockweb dev-backend --addr :8080
  stockweb dev-backend --fixtures ./fixtures.yaml
  stockweb dev-backend --fail`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("service-name") {
				cfg.ServiceName = "stock-backend"
			}

			f, err := devbackend.DefaultFixtures()
			if fixtures != "" {
				f, err = devbackend.LoadFixtures(fixtures)
			}
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			tel, err := telemetry.New(ctx, cfg.Telemetry())
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
				defer cancel()
				_ = tel.Shutdown(sctx)
			}()

			logger := tel.Logger.NewComponentLogger("devbackend")
			backend := devbackend.New(f, logger,
				devbackend.WithTracer(tel.Tracer(devbackend.TracerName), telemetry.Propagator()),
				devbackend.WithEventHook(func(ev eventlog.LogEvent) {
					tel.Metrics.RecordEventLogSend(ev.Type, "received")
				}),
			)
			backend.SetFailing(failing)

			srv := &http.Server{
				Addr:              addr,
				Handler:           backend.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Zerolog().Info().
					Str("addr", addr).
					Int("stocks", len(f.Stocks)).
					Int("coins", len(f.Crypto)).
					Bool("failing", failing).
					Msg("Dev backend listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(sctx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&fixtures, "fixtures", "", "YAML fixtures file (default: embedded)")
	cmd.Flags().BoolVar(&failing, "fail", false, "answer every data endpoint with HTTP 500")

	return cmd
}
