package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	_ "github.com/Strob0t/TenantForge/internal/adapter/discord"
	"github.com/Strob0t/TenantForge/internal/adapter/email"
	"github.com/Strob0t/TenantForge/internal/adapter/identityhttp"
	"github.com/Strob0t/TenantForge/internal/adapter/localidp"
	cfnats "github.com/Strob0t/TenantForge/internal/adapter/nats"
	"github.com/Strob0t/TenantForge/internal/adapter/natskv"
	"github.com/Strob0t/TenantForge/internal/adapter/otel"
	"github.com/Strob0t/TenantForge/internal/adapter/postgres"
	"github.com/Strob0t/TenantForge/internal/adapter/redis"
	"github.com/Strob0t/TenantForge/internal/adapter/ristretto"
	_ "github.com/Strob0t/TenantForge/internal/adapter/slack"
	"github.com/Strob0t/TenantForge/internal/adapter/tiered"
	"github.com/Strob0t/TenantForge/internal/config"
	"github.com/Strob0t/TenantForge/internal/port/cache"
	"github.com/Strob0t/TenantForge/internal/port/identityprovider"
	"github.com/Strob0t/TenantForge/internal/port/messagequeue"
	"github.com/Strob0t/TenantForge/internal/port/notifier"
	"github.com/Strob0t/TenantForge/internal/service"
)

// app is the wired service graph shared by serve and the one-shot commands.
type app struct {
	cfg   *config.Config
	pool  *pgxpool.Pool
	store *postgres.Store
	queue *cfnats.Queue
	idp   identityprovider.Provider

	ledger       *service.Ledger
	audit        *service.AuditRecorder
	alerts       *service.AlertService
	guard        *service.Guard
	provisioner  *service.Provisioner
	registrar    *service.Registrar
	coordinator  *service.Coordinator
	provisioning *service.ProvisioningService
	rotation     *service.RotationService
	tenants      *service.TenantService
	reconciler   *service.Reconciler

	closers []func()
}

// newApp connects the infrastructure and builds every service.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	a.store = postgres.NewStore(pool)

	if cfg.NATS.URL != "" {
		q, err := cfnats.ConnectStream(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		switch {
		case err == nil:
			a.queue = q
			a.closers = append(a.closers, func() { _ = q.Close() })
		case cfg.Cache.L2Driver == "nats":
			return fmt.Errorf("nats: %w", err)
		default:
			slog.WarnContext(ctx, "nats unavailable, audit fan-out disabled", "error", err)
		}
	}

	rosterCache, err := a.rosterCache(ctx)
	if err != nil {
		return fmt.Errorf("roster cache: %w", err)
	}

	m, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	a.idp = a.identityProvider(m)

	// --- Services ---

	var queue messagequeue.Queue
	if a.queue != nil {
		queue = a.queue
	}
	a.ledger = service.NewLedger(a.store, cfg.Provisioning.StaleAfter)
	notifiers, err := notifier.FromURLs(map[string]string{
		"slack":   cfg.Alerts.SlackWebhookURL,
		"discord": cfg.Alerts.DiscordWebhookURL,
	})
	if err != nil {
		return err
	}
	a.alerts = service.NewAlertService(notifiers, cfg.Alerts.Events)
	a.closers = append(a.closers, a.alerts.Wait)
	a.audit = service.NewAuditRecorder(a.store, queue).WithAlerts(a.alerts)
	a.guard = service.NewGuard(service.NewCachedRoster(a.store, rosterCache, cfg.Guard.RosterTTL))
	a.provisioner = service.NewProvisioner(a.store, a.idp, cfg.Identity.Timeout)
	a.registrar = service.NewRegistrar(a.store, cfg.Provisioning.ReservedSlugs, cfg.Provisioning.TxTimeout)
	a.coordinator = service.NewCoordinator(a.store, a.store, a.provisioner, a.guard, a.ledger, a.audit, m)
	a.provisioning = service.NewProvisioningService(a.ledger, a.guard, a.provisioner, a.registrar, a.coordinator, a.store, a.audit, m)
	a.rotation = service.NewRotationService(a.store, a.store, a.guard, a.provisioner, a.registrar, a.coordinator, a.audit)
	a.tenants = service.NewTenantService(a.store, a.ledger, a.audit)
	a.reconciler = service.NewReconciler(a.ledger, a.coordinator, a.audit, cfg.Reconcile.Interval, cfg.Reconcile.BatchSize)
	return nil
}

// identityProvider selects the identity service adapter.
func (a *app) identityProvider(m *otel.Metrics) identityprovider.Provider {
	if a.cfg.Identity.Driver == "http" {
		return identityhttp.New(a.cfg.Identity, a.cfg.Breaker).WithMetrics(m)
	}

	// A nil *Notifier must not become a non-nil Mailer.
	var mailer localidp.Mailer
	if n := email.NewNotifier(a.cfg.SMTP); n != nil {
		mailer = n
	}
	return localidp.New(a.pool, mailer, a.cfg.Identity.BcryptCost, a.cfg.Provisioning.SetupLinkURL)
}

// rosterCache builds the L1 (ristretto) cache and, when configured, puts an
// L2 (NATS KV or Redis) behind it.
func (a *app) rosterCache(ctx context.Context) (cache.Cache, error) {
	l1, err := ristretto.New(a.cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, l1.Close)

	var l2 cache.Cache
	switch a.cfg.Cache.L2Driver {
	case "nats":
		kv, err := natskv.Open(ctx, a.queue.JetStream(), a.cfg.Cache.L2Bucket, a.cfg.Guard.RosterTTL)
		if err != nil {
			return nil, err
		}
		l2 = kv
	case "redis":
		rc := redis.New(a.cfg.Cache.RedisAddr, "tenantforge:")
		if err := rc.Ping(ctx); err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rc.Close() })
		l2 = rc
	default:
		return l1, nil
	}
	return tiered.New(l1, l2, a.cfg.Guard.RosterTTL), nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
