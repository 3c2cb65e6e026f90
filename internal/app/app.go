package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/codewandler/chargebridge/adapters/httpapi"
	"github.com/codewandler/chargebridge/adapters/nats"
	"github.com/codewandler/chargebridge/adapters/ocppj"
	"github.com/codewandler/chargebridge/adapters/ocpps12"
	"github.com/codewandler/chargebridge/adapters/ocpps15"
	"github.com/codewandler/chargebridge/adapters/postgres"
	promadapter "github.com/codewandler/chargebridge/adapters/prometheus"
	"github.com/codewandler/chargebridge/adapters/soap"
	"github.com/codewandler/chargebridge/core/es"
	"github.com/codewandler/chargebridge/core/protocol"
	cs "github.com/codewandler/chargebridge/domain/chargingstation"
	"github.com/codewandler/chargebridge/internal/config"
	"github.com/codewandler/chargebridge/ports/kv"
)

type App struct {
	cfg *config.Config
	log *slog.Logger

	registry *prometheus.Registry
	store    es.EventStore
	bus      *es.Bus
	router   *es.Router[*cs.Station]
	service  *cs.Service
	view     *cs.StationView
	ocppj    *ocppj.Handler
	handler  http.Handler

	// closers run in reverse order on Close.
	closers []func()
}

// New assembles the service from cfg. Nothing listens until Run.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (app *App, err error) {
	if cfg == nil {
		return nil, errors.New("app: config is nil")
	}
	if log == nil {
		log = slog.Default()
	}

	app = &App{
		cfg:      cfg,
		log:      log.With(slog.String("instance", cfg.AddOn.InstanceID)),
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	// === metrics ===
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := promadapter.NewAllMetrics(app.registry)

	// === event store ===
	var (
		natsConnect nats.Connector
		pending     kv.Store
		relay       ocppj.Relay
	)
	switch cfg.Store.Type {
	case config.StoreMemory:
		app.store = es.NewInMemoryStore()
	case config.StoreNATS:
		natsConnect = nats.ReuseConnection(nats.ConnectURL(cfg.NATS.URL))
		store, err := nats.NewEventStore(nats.EventStoreConfig{
			Connect:       natsConnect,
			Log:           app.log,
			SubjectPrefix: cfg.NATS.SubjectPrefix + ".es",
			StreamName:    cfg.NATS.Stream,
		})
		if err != nil {
			return nil, fmt.Errorf("nats event store: %w", err)
		}
		app.onClose(func() { _ = store.Close() })
		app.store = store

		pendingStore, err := nats.NewKvStore(nats.KvConfig{
			Connect: natsConnect,
			Bucket:  cfg.NATS.PendingBucket,
			TTL:     pendingBucketTTL(cfg.WSJSON.Timeout),
		})
		if err != nil {
			return nil, fmt.Errorf("nats pending store: %w", err)
		}
		app.onClose(pendingStore.Close)
		pending = pendingStore

		if !cfg.NATS.NoRelay {
			tr, err := nats.NewTransport(nats.TransportConfig{
				Connect:       natsConnect,
				Log:           app.log,
				SubjectPrefix: cfg.NATS.SubjectPrefix,
			})
			if err != nil {
				return nil, fmt.Errorf("nats transport: %w", err)
			}
			app.onClose(func() { _ = tr.Close() })
			relay = tr
		}
	case config.StorePostgres:
		pool, err := postgres.Connect(ctx, postgres.PoolConfig{
			URL:      cfg.Postgres.URL,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		app.onClose(pool.Close)
		store, err := postgres.NewEventStore(ctx, postgres.EventStoreConfig{
			Pool:    pool,
			Table:   cfg.Postgres.Table,
			Migrate: !cfg.Postgres.SkipMigrate,
			Log:     app.log,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres event store: %w", err)
		}
		app.store = store
	default:
		return nil, fmt.Errorf("app: unknown store type %q", cfg.Store.Type)
	}

	// === domain ===
	app.bus = es.NewBus(es.WithLog(app.log), es.WithMetrics(m.ES))
	app.onClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.bus.Close(ctx); err != nil {
			app.log.Warn("bus did not drain", slog.Any("error", err))
		}
	})

	app.router, err = cs.NewRouter(cs.RouterConfig{
		Store:      app.store,
		Bus:        app.bus,
		MaxRetries: cfg.Router.MaxRetries,
		Log:        app.log,
		Metrics:    m.ES,
	})
	if err != nil {
		return nil, err
	}
	app.onClose(app.router.Close)

	app.service = cs.NewService(app.router)
	app.view = cs.NewStationView()
	app.onClose(app.view.Subscribe(app.bus))
	if r, ok := app.store.(es.StreamReader); ok {
		follower := app.view.Follow(r,
			es.WithLog(app.log),
			es.WithMetrics(m.ES),
			es.WithPollInterval(cfg.View.PollInterval),
		)
		if err := follower.Start(ctx); err != nil {
			return nil, fmt.Errorf("replay station view: %w", err)
		}
		app.onClose(follower.Stop)
	}

	// === protocol bindings ===
	router := httprouter.New()
	bindOpts := []protocol.BindOption{protocol.WithLog(app.log), protocol.WithMetrics(m.Protocol)}

	if !cfg.SOAP.Disabled {
		if cfg.SOAP.Endpoint == "" {
			app.log.Warn("soap endpoint template is empty, OCPP/S requests will fail")
		}
		soapCfg := soap.Config{
			Endpoints: soap.TemplateEndpoints(cfg.SOAP.Endpoint),
			From:      cfg.SOAP.From,
			Timeout:   cfg.SOAP.Timeout,
			Log:       app.log,
		}
		h12, err := ocpps12.New(ocpps12.Config{SOAP: soapCfg, Service: app.service, InstanceID: cfg.AddOn.InstanceID, Log: app.log})
		if err != nil {
			return nil, err
		}
		app.onClose(protocol.Bind(app.bus, h12, bindOpts...))

		h15, err := ocpps15.New(ocpps15.Config{SOAP: soapCfg, Service: app.service, InstanceID: cfg.AddOn.InstanceID, Log: app.log})
		if err != nil {
			return nil, err
		}
		app.onClose(protocol.Bind(app.bus, h15, bindOpts...))
	}

	if !cfg.WSJSON.Disabled {
		app.ocppj, err = ocppj.New(ocppj.Config{
			Service:           app.service,
			InstanceID:        cfg.AddOn.InstanceID,
			Pending:           pending,
			Timeout:           cfg.WSJSON.Timeout,
			HeartbeatInterval: cfg.WSJSON.HeartbeatInterval,
			WriteTimeout:      cfg.WSJSON.WriteTimeout,
			Relay:             relay,
			Metrics:           m.Protocol,
			Log:               app.log,
		})
		if err != nil {
			return nil, err
		}
		app.onClose(app.ocppj.Close)
		app.onClose(protocol.Bind(app.bus, app.ocppj, bindOpts...))
		app.ocppj.Register(router)
	}

	// === http ===
	api, err := httpapi.New(httpapi.Config{
		Service:  app.service,
		Stations: app.view,
		Metrics:  promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{Registry: app.registry}),
		Log:      app.log,
	})
	if err != nil {
		return nil, err
	}
	api.Register(router)
	app.handler = router

	app.log.Info("app created",
		slog.String("store", cfg.Store.Type),
		slog.Bool("soap", !cfg.SOAP.Disabled),
		slog.Bool("wsjson", !cfg.WSJSON.Disabled),
		slog.Bool("relay", relay != nil),
	)
	return app, nil
}

// pendingBucketTTL bounds how long an orphaned pending request may live in
// the shared bucket.
func pendingBucketTTL(timeout time.Duration) time.Duration {
	return max(4*timeout, time.Minute)
}

func (a *App) onClose(f func()) { a.closers = append(a.closers, f) }

func (a *App) Bus() *es.Bus                   { return a.bus }
func (a *App) Handler() http.Handler          { return a.handler }
func (a *App) Service() *cs.Service           { return a.service }
func (a *App) Stations() *cs.StationView      { return a.view }
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Run serves HTTP on the configured address until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is done, then shuts the server down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http listening", slog.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		// websockets are hijacked and not tracked by Shutdown
		if a.ocppj != nil {
			a.ocppj.Close()
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases everything New acquired, newest first. The HTTP server
// must have stopped.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
