package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"healthtrack/syncd/internal/cache"
	"healthtrack/syncd/internal/config"
	"healthtrack/syncd/internal/connectivity"
	"healthtrack/syncd/internal/offline"
	"healthtrack/syncd/internal/queue"
	"healthtrack/syncd/internal/remote"
	"healthtrack/syncd/internal/resources"
	"healthtrack/syncd/internal/storage"
	"healthtrack/syncd/internal/syncer"
	"healthtrack/syncd/internal/telemetry"
)

// app holds the wired daemon components shared by every command.
type app struct {
	cfg      config.Config
	store    *storage.SQLiteStore
	remote   remote.Store
	monitor  *connectivity.Monitor
	queue    *queue.Queue
	cache    *cache.Cache
	engine   *syncer.Engine
	docs     *offline.Documents
	registry *prometheus.Registry

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	shutdownTracing, err := telemetry.Setup(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	store, err := storage.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		a.Close(ctx)
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	if cfg.Remote.MongoURI != "" {
		mongoStore, err := remote.ConnectMongo(ctx, cfg.Remote.MongoURI, cfg.Remote.Database)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.remote = mongoStore
		a.closers = append(a.closers, mongoStore.Close)
	} else {
		glog.Warningf("[app]no mongo_uri configured, using the in-memory remote store\n")
		a.remote = remote.NewMemoryStore()
	}

	a.monitor = connectivity.NewMonitor(connectivity.NewHTTPProber(cfg.Connectivity.ProbeURL), connectivity.Config{
		Interval: cfg.Connectivity.Interval,
		Timeout:  cfg.Connectivity.Timeout,
	})
	a.queue = queue.New(store)
	a.cache = cache.New(store)
	registry := resources.Registry(a.remote)
	glog.V(1).Infof("[app]resources=%s\n", strings.Join(registry.Names(), ","))
	a.engine = syncer.New(a.queue, a.remote, a.monitor, registry, syncer.Config{
		MaxRetries:      cfg.Sync.MaxRetries,
		Interval:        cfg.Sync.Interval,
		KickDelay:       cfg.Sync.KickDelay,
		DisableAutoSync: cfg.Sync.DisableAutoSync,
	}, syncer.WithMetrics(syncer.NewMetrics(a.registry)))
	a.docs = offline.NewDocuments(offline.New(a.monitor, a.engine, a.cache), a.engine, a.remote)
	return a, nil
}

// Close stops the engine and monitor, then releases storage, the remote
// connection and the tracer in reverse order of acquisition.
func (a *app) Close(ctx context.Context) {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.monitor != nil {
		a.monitor.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			glog.Warningf("[app]shutdown: %v\n", err)
		}
	}
	a.closers = nil
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
