package daemon

import (
	"context"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/api"
	"github.com/aifocusdev/focos-ia-sub000/internal/bus"
	"github.com/aifocusdev/focos-ia-sub000/internal/config"
	"github.com/aifocusdev/focos-ia-sub000/internal/contact"
	"github.com/aifocusdev/focos-ia-sub000/internal/conversation"
	"github.com/aifocusdev/focos-ia-sub000/internal/instance"
	"github.com/aifocusdev/focos-ia-sub000/internal/integration"
	"github.com/aifocusdev/focos-ia-sub000/internal/lock"
	"github.com/aifocusdev/focos-ia-sub000/internal/logging"
	"github.com/aifocusdev/focos-ia-sub000/internal/media"
	"github.com/aifocusdev/focos-ia-sub000/internal/message"
	"github.com/aifocusdev/focos-ia-sub000/internal/metrics"
	"github.com/aifocusdev/focos-ia-sub000/internal/outbox"
	"github.com/aifocusdev/focos-ia-sub000/internal/realtime"
	"github.com/aifocusdev/focos-ia-sub000/internal/status"
	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"github.com/aifocusdev/focos-ia-sub000/internal/wa"
	"github.com/aifocusdev/focos-ia-sub000/internal/webhook"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
)

const (
	cachePruneInterval = time.Minute
	stopTimeout        = 10 * time.Second
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	Instance string
	Config   *config.Config
	// Logger replaces the file logger when set, for tests.
	Logger     *zap.Logger
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLayout,
			provideLogger,
			provideBus,
			provideMetrics,
			provideHealth,
			provideStateMachine,
			provideLock,
			provideStore,
			provideWAClient,
			provideIntegrations,
			provideContacts,
			provideConversations,
			provideAssignments,
			provideScheduler,
			provideStorage,
			provideMediaPipeline,
			provideLastMessages,
			provideSender,
			provideMessages,
			provideStatusSync,
			provideOrchestrator,
			provideGateway,
			provideRouter,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLayout(p Params) (instance.Layout, error) {
	l := instance.NewLayout(p.Instance, p.Config.DataDir)
	if p.SocketPath == "" {
		if err := l.Validate(); err != nil {
			return l, err
		}
	}
	return l, l.EnsureDirs()
}

func provideLogger(p Params, l instance.Layout) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(l.LogPath(), p.Instance, p.Config.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideHealth() *health.Server {
	return health.NewServer()
}

func provideStateMachine(b *bus.Bus, hs *health.Server) *status.Machine {
	return status.NewMachine(b, hs)
}

// provideLock is a dependency of the store so the database is never opened
// by a second daemon.
func provideLock(l instance.Layout, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring instance lock", zap.String("dir", l.Root))
	lk, err := lock.Acquire(l.Root, "focosd")
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return lk, nil
}

func provideStore(l instance.Layout, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := l.DBPath()
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideWAClient(p Params, logger *zap.Logger) *wa.Client {
	c := p.Config.WhatsApp
	return wa.NewClient(c.GraphBaseURL, c.APIVersion, time.Duration(c.TimeoutSeconds)*time.Second, logger)
}

func provideIntegrations(p Params, db *store.DB, logger *zap.Logger) *integration.Registry {
	ttl := config.Duration(p.Config.Integrations.CacheTTL, integration.DefaultTTL)
	return integration.NewRegistry(db, ttl, logger)
}

func provideContacts(db *store.DB, logger *zap.Logger) *contact.Resolver {
	return contact.NewResolver(db, logger)
}

func provideConversations(db *store.DB, logger *zap.Logger) *conversation.Resolver {
	return conversation.NewResolver(db, logger)
}

func provideAssignments(p Params, db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *conversation.Machine {
	a := p.Config.Assignment
	return conversation.NewMachine(db, b, conversation.Options{
		StaleAfter:    config.Duration(a.StaleAfter, conversation.DefaultStaleAfter),
		FallbackBotID: a.FallbackBotID,
	}, m, logger)
}

func provideScheduler(p Params, machine *conversation.Machine, logger *zap.Logger) *conversation.Scheduler {
	return conversation.NewScheduler(machine, p.Config.Assignment.SweepSchedule, logger)
}

func provideStorage(p Params, l instance.Layout) (*media.LocalProvider, error) {
	return media.NewLocalProvider(l.MediaDir(), p.Config.Server.PublicURL)
}

func provideMediaPipeline(p Params, client *wa.Client, in *integration.Registry, sp *media.LocalProvider, db *store.DB, m *metrics.Metrics, logger *zap.Logger) *media.Pipeline {
	return media.NewPipeline(client, in, sp, db, media.Options{
		MaxBytes: p.Config.Media.MaxBytes,
		Timeout:  time.Duration(p.Config.Media.TimeoutSeconds) * time.Second,
	}, m, logger)
}

func provideLastMessages(db *store.DB) *message.LastMessageCache {
	return message.NewLastMessageCache(db, message.DefaultCacheTTL)
}

func provideSender(p Params, db *store.DB, client *wa.Client, in *integration.Registry, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *outbox.Sender {
	o := p.Config.Outbox
	return outbox.NewSender(db, client, in, b, outbox.Options{
		PollInterval: config.Duration(o.PollInterval, outbox.DefaultPollInterval),
		RPS:          o.RPS,
		Burst:        o.Burst,
	}, m, logger)
}

func provideMessages(db *store.DB, machine *conversation.Machine, pipeline *media.Pipeline, cache *message.LastMessageCache, sender *outbox.Sender, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *message.Service {
	return message.NewService(db, machine, pipeline, cache, sender, b, m, logger)
}

func provideStatusSync(db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *message.StatusSync {
	return message.NewStatusSync(db, b, m, logger)
}

func provideOrchestrator(p Params, in *integration.Registry, contacts *contact.Resolver, convs *conversation.Resolver, msgs *message.Service, st *message.StatusSync, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *webhook.Orchestrator {
	return webhook.NewOrchestrator(in, contacts, convs, msgs, st, b, webhook.Options{
		VerifyToken: p.Config.Webhook.VerifyToken,
		AppSecret:   p.Config.Webhook.AppSecret,
	}, m, logger)
}

func provideGateway(p Params, b *bus.Bus, machine *conversation.Machine, m *metrics.Metrics, logger *zap.Logger) *realtime.Gateway {
	r := p.Config.Realtime
	return realtime.NewGateway(b, machine, realtime.Options{
		RateLimit:     r.RateLimit,
		RateWindow:    config.Duration(r.RateWindow, realtime.DefaultRateWindow),
		PruneInterval: config.Duration(r.PruneInterval, realtime.DefaultPruneInterval),
	}, m, logger)
}

func provideRouter(
	p Params,
	logger *zap.Logger,
	db *store.DB,
	sm *status.Machine,
	orch *webhook.Orchestrator,
	cache *message.LastMessageCache,
	in *integration.Registry,
	machine *conversation.Machine,
	msgs *message.Service,
	sp *media.LocalProvider,
	gw *realtime.Gateway,
	m *metrics.Metrics,
) *echo.Echo {
	return api.NewRouter(api.RouterOptions{
		JWTSecret: p.Config.Auth.JWTSecret,
		MediaRoot: sp.Root(),
		Metrics:   m.Handler(),
		Realtime:  gw.Handle,
	}, logger,
		api.NewPingHandler(sm),
		api.NewWebhookHandler(orch, logger),
		api.NewConversationHandler(db, cache, machine, msgs, logger),
		api.NewSearchHandler(db),
		api.NewAdminHandler(machine, in, db, logger),
	)
}

type lifecycleParams struct {
	fx.In

	Server    *Server
	Lock      *lock.Lock
	DB        *store.DB
	Sender    *outbox.Sender
	Scheduler *conversation.Scheduler
	Gateway   *realtime.Gateway
	Cache     *message.LastMessageCache
	Status    *status.Machine
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, p lifecycleParams) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Requeue interrupted sends and start draining the outbox.
			p.Sender.Start(runCtx)

			go func() {
				p.Gateway.Run(runCtx)
				done <- struct{}{}
			}()
			go func() {
				pruneCache(runCtx, p.Cache, p.Logger)
				done <- struct{}{}
			}()

			if err := p.Scheduler.Start(); err != nil {
				_ = p.Status.Transition(status.Error)
				return err
			}

			if err := p.Server.Start(); err != nil {
				_ = p.Status.Transition(status.Error)
				return err
			}

			if err := p.Status.Transition(status.Ready); err != nil {
				return err
			}
			p.Logger.Info("daemon ready", zap.String("http", p.Server.HTTPAddr()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = p.Status.Transition(status.Draining)
			p.Server.Stop(ctx)
			p.Scheduler.Stop(stopTimeout)
			cancel()
			for range 2 {
				<-done
			}
			p.Sender.Stop()
			if err := p.DB.Close(); err != nil {
				p.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				p.Logger.Warn("error releasing lock", zap.Error(err))
			}
			p.Logger.Info("daemon stopped")
			return nil
		},
	})
}

// pruneCache evicts expired last-message entries until ctx ends.
func pruneCache(ctx context.Context, cache *message.LastMessageCache, logger *zap.Logger) {
	ticker := time.NewTicker(cachePruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := cache.Prune(); n > 0 {
				logger.Debug("last-message cache pruned", zap.Int("entries", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
