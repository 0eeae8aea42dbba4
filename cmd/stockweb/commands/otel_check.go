package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/stocktracker/stockweb/pkg/config"
	"github.com/stocktracker/stockweb/pkg/telemetry"
)

// probeEndpoints are the usual places a local collector listens on.
var probeEndpoints = []string{
	"http://localhost:4318/v1/traces",
	"http://localhost:4317/v1/traces",
	"http://127.0.0.1:4318/v1/traces",
	"http://otel-collector:4318/v1/traces",
}

const probeTimeout = 3 * time.Second

type probeResult struct {
	url    string
	status int
	err    error
}

func newOtelCheckCommand() *cobra.Command {
	var (
		stdout  bool
		noProbe bool
	)

	cmd := &cobra.Command{
		Use:   "otel-check",
		Short: "Send a test span and probe for a reachable collector",
		Long: `Emit one test span with two events, flush it through the configured
exporter and report whether the export succeeded. Common collector
endpoints are then probed so a misconfigured --collector-url is easy
to spot.`,
		Example: `  stockweb otel-check
  stockweb otel-check --collector-url http://otel-collector:4318/v1/traces
  stockweb otel-check --stdout --no-probe`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, func(o *config.Overrides) {
				if stdout {
					exp := telemetry.ExporterStdout
					o.Exporter = &exp
				}
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.closeLogged()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "exporter:  %s\n", cfg.OTel.Exporter)
			fmt.Fprintf(out, "collector: %s\n", cfg.OTel.CollectorURL)

			op := a.tel.StartOperation(ctx, "otel.collector_test",
				attribute.String("test.type", "collector_test"),
				telemetry.AttrComponent.String("cli"))
			op.Span.AddEvent("test_started")
			op.Span.AddEvent("test_completed")
			op.End(nil)

			traceID := op.Span.SpanContext().TraceID().String()
			ok := a.tel.Flush(ctx)
			if ok {
				fmt.Fprintf(out, "flush:     ok (trace_id=%s, exported=%d)\n", traceID, a.tel.Provider.ExportedSpans())
			} else {
				fmt.Fprintf(out, "flush:     FAILED (trace_id=%s): %v\n", traceID, a.tel.Provider.LastExportError())
			}

			if !noProbe {
				fmt.Fprintln(out, "probes:")
				for _, r := range probeCollectors(ctx, probeEndpoints) {
					if r.err != nil {
						fmt.Fprintf(out, "  %-40s unreachable (%v)\n", r.url, r.err)
						continue
					}
					fmt.Fprintf(out, "  %-40s reachable (HTTP %d)\n", r.url, r.status)
				}
			}

			if !ok {
				return fmt.Errorf("trace export failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&stdout, "stdout", false, "export the test span to stdout instead of OTLP")
	cmd.Flags().BoolVar(&noProbe, "no-probe", false, "skip probing common collector endpoints")

	return cmd
}

// probeCollectors sends OPTIONS to every url concurrently. Any HTTP
// response counts as reachable.
func probeCollectors(ctx context.Context, urls []string) []probeResult {
	results := make([]probeResult, len(urls))
	client := &http.Client{Timeout: probeTimeout}

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			r := probeResult{url: u}
			req, err := http.NewRequestWithContext(gctx, http.MethodOptions, u, nil)
			if err == nil {
				var resp *http.Response
				resp, err = client.Do(req)
				if err == nil {
					r.status = resp.StatusCode
					resp.Body.Close()
				}
			}
			r.err = err

			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return results
}
