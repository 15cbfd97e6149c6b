package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/szaher/minime/internal/archive"
	"github.com/szaher/minime/internal/auth"
	"github.com/szaher/minime/internal/awsutil"
	"github.com/szaher/minime/internal/config"
	"github.com/szaher/minime/internal/events"
	"github.com/szaher/minime/internal/gateway"
	"github.com/szaher/minime/internal/geo"
	"github.com/szaher/minime/internal/session"
	"github.com/szaher/minime/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat gateway",
		Long:  "Serve the WebSocket and HTTP chat gateway, the idle-session sweeper and the config watcher until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, addr string) error {
	d, err := newDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()
	cfg, logger := d.cfg, d.logger
	if addr == "" {
		addr = cfg.Server.Addr
	}

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracer shutdown", "error", err)
		}
	}()

	a, opener, err := d.agent(ctx)
	if err != nil {
		return err
	}

	bus, err := newEventBus(ctx, d)
	if err != nil {
		return err
	}
	defer bus.Wait()

	sessions := session.NewManager(session.NewMemoryStore(), d.store,
		session.WithPublisher(bus),
		session.WithLogger(logger),
		session.WithIdleTimeout(cfg.Session.IdleTimeout),
		session.WithActiveGauge(d.metrics.SetActiveSessions),
	)

	srv := gateway.NewServer(a, sessions, opener, d.store,
		gateway.WithAPIKey(cfg.Server.APIKey),
		gateway.WithLogger(logger),
		gateway.WithRateLimiter(auth.NewRateLimiter(rateLimits(cfg))),
		gateway.WithMetrics(d.metrics.Handler(), d.metrics.RateLimited),
		gateway.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		gateway.WithVersion(version),
	)

	sweeper, err := session.NewSweeper(sessions, cfg.Session.SweepSchedule, logger)
	if err != nil {
		return err
	}
	if err := sweeper.AddJob("@every 10m", "rate-limit eviction", func() { srv.EvictIdleClients(time.Hour) }); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down gateway")
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	if path := watchedConfigPath(); path != "" {
		g.Go(func() error {
			return config.Watch(gctx, path, logger, func(next *config.Config) {
				d.redact.AddSecret(next.Secrets()...)
				srv.SetRateLimits(rateLimits(next))
				a.SetPersona(personaPrompt(next))
			})
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func rateLimits(cfg *config.Config) auth.RateLimitConfig {
	return auth.RateLimitConfig{PerMinute: cfg.RateLimit.PerMinute, Burst: cfg.RateLimit.Burst}
}

// watchedConfigPath returns the config file to watch, or "" when there is
// no file on disk.
func watchedConfigPath() string {
	path := configPath
	if path == "" {
		path = config.DefaultPath
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// newEventBus wires the lifecycle handlers: geolocation on start, report
// and archive on end, and EventBridge forwarding when enabled.
func newEventBus(ctx context.Context, d *deps) (*events.Bus, error) {
	cfg, logger := d.cfg, d.logger
	opts := []events.BusOption{
		events.WithBusLogger(logger),
		events.WithBusRecorder(d.metrics),
	}

	needAWS := cfg.Events.EventBridge || cfg.Archive.Bucket != ""
	if needAWS {
		awsCfg, err := awsutil.Load(ctx, cfg.Providers.AWSRegion)
		if err != nil {
			return nil, err
		}
		if cfg.Events.EventBridge {
			opts = append(opts, events.WithPublisher(events.NewEventBridgePublisher(eventbridge.NewFromConfig(awsCfg), cfg.Events.BusName)))
		}
		bus := events.NewBus(opts...)
		if cfg.Archive.Bucket != "" {
			archiver := archive.NewS3Archiver(s3.NewFromConfig(awsCfg), d.store, cfg.Archive.Bucket, cfg.Archive.Prefix, logger)
			bus.Subscribe(events.ConversationEnded, "archive", archiver.Handle)
		}
		return subscribeHandlers(ctx, d, bus)
	}
	return subscribeHandlers(ctx, d, events.NewBus(opts...))
}

func subscribeHandlers(ctx context.Context, d *deps, bus *events.Bus) (*events.Bus, error) {
	if d.cfg.Geo.Enabled {
		enricher := geo.NewEnricher(geo.NewIPAPI(d.cfg.Geo.BaseURL), d.store, d.logger)
		bus.Subscribe(events.ConversationStarted, "geo", enricher.Handle)
	}

	reporter, err := d.reporter(ctx)
	if err != nil {
		return nil, err
	}
	if reporter != nil {
		bus.Subscribe(events.ConversationEnded, "report", reporter.Handle)
	} else {
		d.logger.Warn("email report not configured, conversation reports disabled")
	}
	return bus, nil
}
