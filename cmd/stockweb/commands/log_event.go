package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stocktracker/stockweb/pkg/eventlog"
	"github.com/stocktracker/stockweb/pkg/telemetry"
)

func newLogEventCommand() *cobra.Command {
	var (
		event   string
		typ     string
		meta    []string
		noTrace bool
	)

	cmd := &cobra.Command{
		Use:   "log-event",
		Short: "Send one event to the backend's /log-event endpoint",
		Long: `Send one structured log event to {api-url}/log-event.

By default the event is sent inside a fresh span so the backend can
correlate it; --no-trace sends it without trace context.`,
		Example: `  stockweb log-event --event watchlist_add --meta symbol=AAPL --meta already_present=false
  stockweb log-event --event load_error --type Error --meta status_code=500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if event == "" {
				return fmt.Errorf("--event is required")
			}
			metadata, err := parseMeta(meta)
			if err != nil {
				return err
			}

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

			client := a.eventLog
			if client == nil {
				client, err = eventlog.NewClient(cfg.APIURL, eventlog.WithMetrics(a.tel.Metrics))
				if err != nil {
					return err
				}
			}

			entry := eventlog.Entry{Event: event, Type: typ, Metadata: metadata}
			if noTrace {
				err = client.Log(ctx, entry)
			} else {
				op := a.tel.StartOperation(ctx, "cli.log_event",
					telemetry.AttrComponent.String("cli"))
				entry.Span = op.Span
				err = client.Log(op.Ctx, entry)
				op.End(err)
				if !a.tel.Flush(ctx) {
					a.tel.Logger.Warn("Failed to export spans")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "trace_id=%s span_id=%s\n",
					op.Span.SpanContext().TraceID(), op.Span.SpanContext().SpanID())
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "sent %s event %q to %s\n", entryType(typ), event, client.Endpoint())
			return nil
		},
	}

	cmd.Flags().StringVar(&event, "event", "", "event name")
	cmd.Flags().StringVar(&typ, "type", eventlog.TypeInfo, "event type (Info or Error)")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata as key=value, repeatable")
	cmd.Flags().BoolVar(&noTrace, "no-trace", false, "send without trace context")

	return cmd
}

func entryType(typ string) string {
	if typ == "" {
		return eventlog.TypeInfo
	}
	return typ
}

// parseMeta turns key=value pairs into metadata. Integers, floats and
// booleans keep their JSON type.
func parseMeta(pairs []string) (map[string]interface{}, error) {
	metadata := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --meta %q, expected key=value", pair)
		}
		metadata[key] = metaValue(value)
	}
	return metadata, nil
}

func metaValue(v string) interface{} {
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}
