package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"region-latency/internal/config"
	"region-latency/internal/core"
	"region-latency/internal/db"
	"region-latency/internal/ledger"
	"region-latency/internal/logger"
	"region-latency/internal/metrics"
	"region-latency/internal/probe"
	"region-latency/internal/storage"
)

// app holds everything one command invocation needs. Built once, closed once.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	store    core.Store
	registry *core.Registry
	saver    *core.SaveBatcher
	service  *core.ProbeService
	promReg  *prometheus.Registry

	closers []func()
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, log: log, promReg: prometheus.NewRegistry()}

	store, err := a.openStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store

	recorder, err := metrics.NewPrometheusRecorder(a.promReg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	a.registry = core.NewRegistry(store,
		core.WithClock(clock.New()),
		core.WithLogger(log.Named("registry")),
		core.WithRecorder(recorder),
	)
	a.saver = core.NewSaveBatcher(a.registry, cfg.SaveBatchMax, cfg.SaveMaxWait)
	a.closers = append(a.closers, a.saver.Close)

	a.service = core.NewProbeService(a.registry, store,
		core.WithRegion(cfg.Region),
		core.WithStoreKey(cfg.StoreKey),
		core.WithSaveBatcher(a.saver),
		core.WithServiceLogger(log.Named("probe")),
	)
	return a, nil
}

func (a *app) openStore(ctx context.Context) (core.Store, error) {
	switch a.cfg.Store {
	case "memory":
		return db.NewMemoryStore(), nil
	case "leveldb":
		s, err := db.NewLevelStore(a.cfg.LevelDBPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		return s, nil
	case "postgres":
		pg := a.cfg.Postgres
		s, err := db.NewPostgresStore(pg.Host, pg.User, pg.Password, pg.DBName, pg.Port)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		return s, nil
	case "minio":
		m := a.cfg.Minio
		return storage.NewMinioStore(ctx, m.Endpoint, m.AccessKey, m.SecretKey, m.Bucket, m.Secure)
	default:
		return nil, fmt.Errorf("unknown store %q", a.cfg.Store)
	}
}

// registerProbes wires the probes the configuration enables.
func (a *app) registerProbes() error {
	if a.cfg.BaseURL != "" {
		for _, p := range apiRouteProbes(a.cfg.BaseURL) {
			if err := a.service.Register(p.name, p.invoker); err != nil {
				return err
			}
		}
	}

	if a.cfg.Simulate {
		if err := a.service.Register("Server Action - Simple", probe.NewSimulatedInvoker(nil, 100*time.Millisecond, 0)); err != nil {
			return err
		}
		if err := a.service.Register("Server Action - With Data", probe.NewSimulatedInvoker(nil, 50*time.Millisecond, 200*time.Millisecond)); err != nil {
			return err
		}
	}

	if a.cfg.GRPCTarget != "" {
		conn, err := probe.Dial(a.cfg.GRPCTarget)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		if err := a.service.Register("gRPC Health - Check", probe.NewHealthInvoker(conn, "")); err != nil {
			return err
		}
	}

	if a.cfg.Fabric.CryptoPath != "" {
		f := a.cfg.Fabric
		inv, err := ledger.NewFabricInvoker(ledger.Config{
			MSPID:        f.MSPID,
			CryptoPath:   f.CryptoPath,
			PeerEndpoint: f.PeerEndpoint,
			GatewayPeer:  f.GatewayPeer,
			Channel:      f.Channel,
			Chaincode:    f.Chaincode,
			Function:     f.Function,
			Args:         f.Args,
			Mode:         ledger.Mode(f.Mode),
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, inv.Close)
		if err := a.service.Register("Ledger - "+f.Function, inv); err != nil {
			return err
		}
	}

	if len(a.service.Probes()) == 0 {
		return fmt.Errorf("no probes configured: set --base-url, --grpc-target, --fabric-crypto-path or --simulate")
	}
	return nil
}

type namedInvoker struct {
	name    string
	invoker core.Invoker
}

// apiRouteProbes mirrors the dashboard's API route and database API buttons.
func apiRouteProbes(baseURL string) []namedInvoker {
	post := func(v any) []byte {
		b, _ := json.Marshal(v)
		return b
	}
	return []namedInvoker{
		{"API Route - GET", probe.NewHTTPInvoker(http.MethodGet, baseURL+"/api/test?delay=100")},
		{"API Route - POST", probe.NewHTTPInvoker(http.MethodPost, baseURL+"/api/test",
			probe.WithJSONBody(post(map[string]any{"delay": 150, "data": map[string]string{"test": "performance"}})))},
		{"Database API - Queries", probe.NewHTTPInvoker(http.MethodGet, baseURL+"/api/database?complexity=2&queries=5")},
		{"Database API - Batch", probe.NewHTTPInvoker(http.MethodPost, baseURL+"/api/database",
			probe.WithJSONBody(post(map[string]any{"records": 5, "complexity": 1})))},
		{core.NamePageLoad, probe.NewHTTPInvoker(http.MethodGet, baseURL+"/")},
	}
}

// serveMetrics exposes the prometheus registry until ctx is done.
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.log.Info("serving metrics", zap.String("addr", a.cfg.MetricsAddr))
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.log != nil {
		_ = a.log.Sync()
	}
}
