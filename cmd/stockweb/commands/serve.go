package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stocktracker/stockweb/pkg/config"
	"github.com/stocktracker/stockweb/pkg/telemetry"
	"github.com/stocktracker/stockweb/pkg/web"
)

func newServeCommand() *cobra.Command {
	var (
		addr        string
		templateDir string
		debug       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		Long: `Run the Stock Tracker web server and the Prometheus metrics server.

Both stop on SIGINT or SIGTERM. In-flight requests are drained, buffered
spans are flushed and the watch list store is closed.`,
		Example: `  # Serve against a local backend and collector
  stockweb serve --api-url http://localhost:8080

  # Development: stub backend, spans on stdout, live template edits
  stockweb dev-backend &
  stockweb serve --exporter stdout --debug --template-dir pkg/web/templates`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, func(o *config.Overrides) {
				if cmd.Flags().Changed("addr") {
					o.HTTPAddr = &addr
				}
				if cmd.Flags().Changed("template-dir") {
					o.TemplateDir = &templateDir
				}
				if cmd.Flags().Changed("debug") {
					o.Debug = &debug
				}
			})
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address of the web server")
	cmd.Flags().StringVar(&templateDir, "template-dir", "", "serve templates from this directory and reload them on change")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable the debug endpoints")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.closeLogged()

	logger := a.tel.Logger
	srv, err := web.NewServer(web.Config{
		Addr:            cfg.HTTPAddr,
		Debug:           cfg.Debug,
		TemplateDir:     cfg.TemplateDir,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Deps:            a.deps,
		Flusher:         a.tel,
		Tracer:          a.tel.Tracer(web.TracerName),
		Propagator:      telemetry.Propagator(),
		Logger:          logger.NewComponentLogger("web"),
		Metrics:         a.tel.Metrics,
	})
	if err != nil {
		return err
	}

	logger.Zerolog().Info().
		Str("addr", cfg.HTTPAddr).
		Str("api_url", cfg.APIURL).
		Str("service", cfg.ServiceName).
		Bool("debug", cfg.Debug).
		Msg("Starting stockweb")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start(gctx)
	})

	if metricsSrv := a.tel.Metrics.NewServer(); metricsSrv != nil {
		g.Go(func() error {
			logger.Zerolog().Info().Str("addr", metricsSrv.Addr).Msg("Metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("stockweb stopped")
	return err
}
