package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stocktracker/stockweb/pkg/config"
	"github.com/stocktracker/stockweb/pkg/eventlog"
	"github.com/stocktracker/stockweb/pkg/stockapi"
	"github.com/stocktracker/stockweb/pkg/stores"
	"github.com/stocktracker/stockweb/pkg/telemetry"
	"github.com/stocktracker/stockweb/pkg/views"
)

const closeTimeout = 10 * time.Second

// app holds the components shared by the commands.
type app struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	api      *stockapi.Client
	eventLog *eventlog.Client
	deps     *views.Deps
}

// newApp wires telemetry, the backend clients and, when withStore is set,
// the watch list store.
func newApp(ctx context.Context, cfg *config.Config, withStore bool, opts ...telemetry.Option) (*app, error) {
	tel, err := telemetry.New(ctx, cfg.Telemetry(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{cfg: cfg, tel: tel}
	logger := tel.Logger

	a.api, err = stockapi.NewClient(cfg.APIURL,
		stockapi.WithMetrics(tel.Metrics),
		stockapi.WithLogger(logger.NewComponentLogger("stockapi")),
	)
	if err != nil {
		_ = a.close()
		return nil, err
	}

	a.deps = &views.Deps{
		API:              a.api,
		Tracer:           tel.Tracer(views.TracerName),
		Metrics:          tel.Metrics,
		Events:           tel.Events,
		Logger:           logger.NewComponentLogger("views"),
		FlushAfterAction: cfg.FlushAfterAction,
		Flusher:          tel,
	}

	if cfg.EventLog {
		a.eventLog, err = eventlog.NewClient(cfg.APIURL,
			eventlog.WithMetrics(tel.Metrics),
			eventlog.WithLogger(logger.NewComponentLogger("eventlog")),
		)
		if err != nil {
			_ = a.close()
			return nil, err
		}
		a.deps.EventLog = a.eventLog
	}

	if withStore {
		store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.DBPath})
		if err != nil {
			_ = a.close()
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			_ = a.close()
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		a.store = store
		if err := store.Migrate(ctx); err != nil {
			_ = a.close()
			return nil, err
		}
		a.deps.Store = store
		tel.Events.Subscribe(stores.EventSink(store, logger.NewComponentLogger("events")),
			telemetry.FilterByLevel(telemetry.EventLevelWarning))
	}

	logger.Zerolog().Debug().
		Str("api_url", cfg.APIURL).
		Str("exporter", cfg.OTel.Exporter).
		Str("collector_url", cfg.OTel.CollectorURL).
		Bool("event_log", cfg.EventLog).
		Msg("Application wired")

	return a, nil
}

// close flushes and shuts down telemetry, then closes the store.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	if a.tel != nil {
		errs = append(errs, a.tel.Shutdown(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// closeLogged is close for deferred use; a failure is logged.
func (a *app) closeLogged() {
	if err := a.close(); err != nil {
		a.tel.Logger.WithError(err).Error("Shutdown incomplete")
	}
}
