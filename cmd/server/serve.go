package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/huddle/internal/config"
	"github.com/Tyrowin/huddle/internal/identity"
	"github.com/Tyrowin/huddle/internal/server"
	"github.com/Tyrowin/huddle/internal/telemetry"
	"github.com/Tyrowin/huddle/internal/voice"
)

func serveCmd(a *app) *cobra.Command {
	var (
		addr   string
		driver string
		path   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the realtime gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if addr != "" {
				cfg.Addr = addr
			}
			if driver != "" {
				cfg.Store.Driver = driver
			}
			if path != "" {
				cfg.Store.Path = path
			}
			cfg = config.Sanitize(cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, a.log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HUDDLE_ADDR)")
	cmd.Flags().StringVar(&driver, "store", "", "store driver: memory, badger or sqlite")
	cmd.Flags().StringVar(&path, "store-path", "", "store file or directory")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	if cfg.Telemetry.Endpoint != "" {
		log.Info("exporting traces", "endpoint", cfg.Telemetry.Endpoint)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Error("flush traces", "error", err)
		}
	}()

	st, err := openStore(cfg.Store, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("close message store", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	authz := identity.TrustAll{}
	gateway := server.NewGateway(st,
		server.WithConfig(cfg),
		server.WithLogger(log),
		server.WithAuthenticator(newAuthenticator(cfg.Auth)),
		server.WithAuthorizer(authz),
		server.WithRegistry(reg),
	)

	issuer := voice.NewIssuer(cfg.Voice.URL, cfg.Voice.APIKey, cfg.Voice.APISecret, cfg.Voice.TokenTTL)
	if !issuer.Configured() {
		log.Warn("voice tokens disabled; LIVEKIT_API_KEY or LIVEKIT_API_SECRET is empty")
	}
	routes := server.SetupRoutes(gateway, voice.Handler(issuer, authz, log.With("component", "voice")))
	httpServer := server.CreateServer(cfg.Addr, routes)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.StartServer(httpServer, log)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown requested")

		var errs []error
		if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
			errs = append(errs, err)
		}
		if err := gateway.Shutdown(cfg.ShutdownTimeout); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
