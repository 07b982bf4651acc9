package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/vatdata/config"
	"github.com/c360/vatdata/errors"
	"github.com/c360/vatdata/metric"
	"github.com/c360/vatdata/natsclient"
	"github.com/c360/vatdata/storage"
	"github.com/c360/vatdata/storage/memstore"
	"github.com/c360/vatdata/storage/natskv"
	"github.com/c360/vatdata/storage/sqlstore"
	"github.com/c360/vatdata/vom"
)

const shutdownTimeout = 5 * time.Second

// unit is one incarnation of a configured unit and everything it holds open.
type unit struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Server
	manager  *vom.Manager

	closers []func(ctx context.Context) error
}

func openUnit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*unit, error) {
	u := &unit{cfg: cfg, logger: logger}
	if err := u.open(ctx); err != nil {
		_ = u.Close()
		return nil, err
	}
	return u, nil
}

func (u *unit) open(ctx context.Context) error {
	cfg, logger := u.cfg, u.logger

	if cfg.Metrics.Enabled {
		u.registry = metric.NewMetricsRegistry()
		u.metrics = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, u.registry)
		if err := u.metrics.Start(); err != nil {
			return err
		}
		u.closers = append(u.closers, u.metrics.Stop)
		logger.Info("Serving metrics", "address", u.metrics.Address())
	}

	backend, err := u.openBackend(ctx)
	if err != nil {
		return err
	}
	u.closers = append(u.closers, func(context.Context) error { return backend.Close() })

	storageOpts := []storage.Option{
		storage.WithLogger(logger),
		storage.WithMaxValueSize(cfg.Storage.MaxValueSize),
		storage.WithMetrics(u.registry, cfg.Unit.Name),
	}
	adapter, err := storage.NewAdapter(backend, storageOpts...)
	if err != nil {
		return err
	}

	vomOpts := []vom.Option{
		vom.WithUnitName(cfg.Unit.Name),
		vom.WithCacheSize(cfg.Unit.CacheSize),
		vom.WithLogger(logger),
	}
	if u.registry != nil {
		vomOpts = append(vomOpts, vom.WithMetrics(u.registry))
	}
	u.manager, err = vom.NewManager(adapter, vomOpts...)
	return err
}

func (u *unit) openBackend(ctx context.Context) (storage.Backend, error) {
	switch u.cfg.Storage.Backend {
	case config.BackendSQLite:
		return sqlstore.Open(ctx, u.cfg.Storage.Path, u.logger)
	case config.BackendNATS:
		client, err := u.connectNATS(ctx)
		if err != nil {
			return nil, err
		}
		u.closers = append(u.closers, client.Close)
		return natskv.Open(ctx, client, u.cfg.Storage.Bucket, u.logger)
	default:
		u.logger.Warn("Using the memory backend; nothing survives this process")
		return memstore.New(), nil
	}
}

func (u *unit) connectNATS(ctx context.Context) (*natsclient.Client, error) {
	nc := u.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(u.logger),
		natsclient.WithName(appName + "-" + u.cfg.Unit.Name),
		natsclient.WithMaxReconnects(nc.MaxReconnects),
		natsclient.WithReconnectWait(nc.ReconnectWait),
		natsclient.WithTimeout(nc.Timeout),
		natsclient.WithMetrics(u.registry),
	}
	if nc.Username != "" {
		opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
	}
	if nc.Token != "" {
		opts = append(opts, natsclient.WithToken(nc.Token))
	}

	client, err := natsclient.NewClient(nc.URL, opts...)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Close releases resources in reverse order of acquisition.
func (u *unit) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var first error
	for i := len(u.closers) - 1; i >= 0; i-- {
		if err := u.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	u.closers = nil
	return errors.Wrap(first, "unit", "Close", "release resources")
}
