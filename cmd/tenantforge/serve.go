package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	tfhttp "github.com/Strob0t/TenantForge/internal/adapter/http"
	"github.com/Strob0t/TenantForge/internal/adapter/otel"
	"github.com/Strob0t/TenantForge/internal/adapter/postgres"
	"github.com/Strob0t/TenantForge/internal/metrics"
	"github.com/Strob0t/TenantForge/internal/middleware"
	"github.com/Strob0t/TenantForge/internal/secrets"
)

func (c *cli) serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and the compensation reconciler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations before serving")
	return cmd
}

func (c *cli) serve(parent context.Context, migrate bool) error {
	cfg := c.cfg
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"identity_driver", cfg.Identity.Driver,
		"cache_l2", cfg.Cache.L2Driver,
	)

	shutdownOTel, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()

	if migrate {
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("migrations applied")
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := metrics.Register(nil); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if err := metrics.RegisterPool(nil, a.pool); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	vault, err := secrets.NewVault(secrets.ConfigLoader(c.configPath))
	if err != nil {
		return err
	}

	handlers := &tfhttp.Handlers{
		Provisioning: a.provisioning,
		Rotation:     a.rotation,
		Tenants:      a.tenants,
		Ping:         a.store.Ping,
	}
	router := tfhttp.NewRouter(handlers, tfhttp.RouterOptions{
		CORSOrigin:  cfg.Server.CORSOrigin,
		ServiceName: cfg.OTel.ServiceName,
		Verifier:    middleware.NewRotatingTokenVerifier(vault.Getter(secrets.KeyJWTSecret), cfg.Auth.Issuer),
		AuthEnabled: cfg.Auth.Enabled,
		RateLimiter: middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst, cfg.Rate.MaxIdleTime),
		Timeout:     30 * time.Second,
	})
	if !cfg.Auth.Enabled {
		slog.Warn("authentication disabled, every request acts as the local operator")
	}

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.reconciler.Start(gctx)
		return nil
	})
	g.Go(func() error {
		reloadSecrets(gctx, vault)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// reloadSecrets re-reads the signing secret on every SIGHUP until ctx ends.
func reloadSecrets(ctx context.Context, vault *secrets.Vault) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := vault.Reload(); err != nil {
				slog.Error("secret reload failed, keeping current values", "error", err)
				continue
			}
			slog.Info("secrets reloaded",
				"version", vault.Version(), "jwt_secret", vault.Redacted(secrets.KeyJWTSecret))
		}
	}
}
