package commands

import (
	"context"
	"errors"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/semian/admin"
	"github.com/jonwraymond/semian/config"
	"github.com/jonwraymond/semian/observe"
	"github.com/jonwraymond/semian/resilience"
)

func newServeCommand(g *globals) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API",
		Long: `Serve exposes resource state, reset and destroy over HTTP, together with
health probes and Prometheus metrics.

Resources named in the selected environment are opened at startup so they
are reported before any process uses them. With --config the file is
watched and new identifiers are opened as they appear.`,
		Example: `  semianctl serve --config /etc/semian.yaml
  semianctl serve --listen :9464`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), g, listen, nil)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default admin.listen)")
	return cmd
}

// runServe runs the admin server until ctx is done. ready, when non-nil,
// receives the bound address.
func runServe(ctx context.Context, g *globals, listen string, ready func(net.Addr)) error {
	cfg, err := g.loadConfig(ctx)
	if err != nil {
		return err
	}
	if listen == "" {
		listen = cfg.Admin.Listen
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	obsCfg := cfg.ObserveConfig(g.version)
	if obsCfg.Metrics.Enabled && obsCfg.Metrics.Exporter == "prometheus" {
		obsCfg.Metrics.Registerer = promRegistry
	}
	obs, err := observe.NewObserver(ctx, obsCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := obs.Shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()
	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return err
	}

	store, err := cfg.Store.Open()
	if err != nil {
		return err
	}
	s := &session{
		cfg:   cfg,
		store: store,
		registry: resilience.NewRegistry(resilience.RegistryConfig{
			Store:         store,
			OnStateChange: mw.OnStateChange,
		}),
	}
	defer s.Close()

	gauges, err := observe.RegisterGauges(obs.Meter(), s.registry)
	if err != nil {
		return err
	}
	defer gauges.Unregister()

	logger := obs.Logger()
	initial, err := cfg.Resolver()
	if err != nil {
		return err
	}
	resolver := config.NewReloadingResolver(initial)
	openConfigured(ctx, logger, s.registry, cfg, resolver)

	authn, err := admin.AuthenticatorFromConfig(cfg.Admin)
	if err != nil {
		return err
	}
	server, err := admin.New(admin.Config{
		Registry:      s.registry,
		Authenticator: authn,
		Gatherer:      promRegistry,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	if g.configPath != "" {
		watcher, err := config.NewWatcher(config.WatcherConfig{
			Path:   g.configPath,
			Target: resolver,
			Logger: logger,
			OnReload: func(next *config.Config) {
				openConfigured(ctx, logger, s.registry, next, resolver)
			},
		})
		if err != nil {
			return err
		}
		group.Go(func() error { return watcher.Run(ctx) })
	}
	group.Go(func() error { return server.Serve(ctx, listen, ready) })

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openConfigured opens every identifier cfg names that resolver protects.
// The default key is a template, not a resource.
func openConfigured(ctx context.Context, logger observe.Logger, registry *resilience.Registry, cfg *config.Config, resolver resilience.Resolver) {
	resources, err := cfg.Resources()
	if err != nil {
		logger.Error(ctx, "configured resources", observe.Field{Key: "error", Value: err})
		return
	}
	for id := range resources {
		if id == cfg.DefaultKey {
			continue
		}
		opts := resolver.Resolve(id)
		if opts == nil {
			continue
		}
		if _, err := registry.FetchOrCreate(id, *opts); err != nil {
			logger.WithResource(id).Error(ctx, "open resource", observe.Field{Key: "error", Value: err})
		}
	}
}
