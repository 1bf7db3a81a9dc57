package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/chatlink/internal/api"
	"github.com/matheus3301/chatlink/internal/bus"
	"github.com/matheus3301/chatlink/internal/chat"
	"github.com/matheus3301/chatlink/internal/chatlist"
	"github.com/matheus3301/chatlink/internal/config"
	"github.com/matheus3301/chatlink/internal/lock"
	"github.com/matheus3301/chatlink/internal/logging"
	"github.com/matheus3301/chatlink/internal/metrics"
	"github.com/matheus3301/chatlink/internal/outbox"
	"github.com/matheus3301/chatlink/internal/realtime"
	"github.com/matheus3301/chatlink/internal/session"
	"github.com/matheus3301/chatlink/internal/status"
	"github.com/matheus3301/chatlink/internal/store"
	intsync "github.com/matheus3301/chatlink/internal/sync"
	"github.com/matheus3301/chatlink/internal/thread"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const loginTimeout = 30 * time.Second

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	ConfigPath  string // optional override; empty = ~/.chatlink/config.toml
	UserID      int64  // signs this user in at start when positive
	Debug       bool
}

func (p Params) configPath() string {
	if p.ConfigPath != "" {
		return p.ConfigPath
	}
	return session.ConfigPath()
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideManager,
			provideChatList,
			provideThreads,
			provideSyncEngine,
			provideSender,
			provideSession,
			provideUserRecorder,
			provideRealtimeService,
			provideHealth,
			provideMetricsServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.Debug)
}

func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(p.configPath())
	if err != nil {
		return nil, err
	}
	logger.Info("config loaded",
		zap.String("path", p.configPath()),
		zap.String("host", cfg.Server.Host),
		zap.String("reconnect", cfg.Reconnect.Policy))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CachePath(p.SessionName)
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

func provideManager(cfg *config.Config, b *bus.Bus, m *status.Machine, logger *zap.Logger) *realtime.Manager {
	return realtime.NewManager(realtime.Options{
		Endpoint:  cfg.Endpoint,
		Reconnect: cfg.Reconnect,
	}, b, m, logger)
}

func provideChatList(mgr *realtime.Manager, b *bus.Bus, logger *zap.Logger) *chatlist.Synchronizer {
	return chatlist.New(mgr, b, logger)
}

func provideThreads(mgr *realtime.Manager, b *bus.Bus, logger *zap.Logger) *thread.Registry {
	return thread.NewRegistry(mgr, b, logger)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, mgr *realtime.Manager, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, mgr.UserID, logger)
}

func provideSender(db *store.DB, mgr *realtime.Manager, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, mgr, b, logger)
}

func provideSession(mgr *realtime.Manager, list *chatlist.Synchronizer, threads *thread.Registry, sender *outbox.Sender, engine *intsync.Engine, b *bus.Bus, logger *zap.Logger) *chat.Session {
	return chat.NewSession(chat.Deps{
		Manager:  mgr,
		ChatList: list,
		Threads:  threads,
		Outbox:   sender,
		Binder:   engine.Reconciler(),
		Bus:      b,
		Logger:   logger,
	})
}

func provideRealtimeService(p Params, s *chat.Session, db *store.DB, b *bus.Bus, users *userRecorder, logger *zap.Logger) *api.RealtimeService {
	svc := api.NewRealtimeService(p.SessionName, s, db, b, logger)
	svc.OnUserChange = users.Record
	return svc
}

func provideMetricsServer(cfg *config.Config, mgr *realtime.Manager, logger *zap.Logger) *metrics.Server {
	if cfg.MetricsAddr == "" {
		return nil
	}
	return metrics.NewServer(cfg.MetricsAddr, func() (string, bool) {
		return string(mgr.State()), mgr.IsConnected()
	}, logger)
}

type components struct {
	fx.In

	Params   Params
	Server   *Server
	Health   *HealthReporter
	Metrics  *metrics.Server
	Lock     *lock.Lock
	DB       *store.DB
	Manager  *realtime.Manager
	ChatList *chatlist.Synchronizer
	Threads  *thread.Registry
	Engine   *intsync.Engine
	Sender   *outbox.Sender
	Service  *api.RealtimeService
	Users    *userRecorder
	Logger   *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, c components) {
	logger := c.Logger
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			c.Engine.Start(context.Background())
			c.ChatList.Start(context.Background())
			c.Sender.Start(context.Background())
			c.Health.Start(context.Background())

			if c.Metrics != nil {
				if err := c.Metrics.Start(); err != nil {
					return err
				}
			}

			go func() {
				if err := c.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			userID := c.Users.Resolve(c.Params.UserID)
			if userID == 0 {
				logger.Info("no user configured, waiting for login")
				return nil
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
				defer cancel()
				req, err := api.LoginRequest(userID)
				if err == nil {
					_, err = c.Service.Login(ctx, req)
				}
				if err != nil {
					logger.Error("auto-login failed", zap.Int64("user_id", userID), zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.Server.Stop(ctx)
			c.Health.Stop()
			c.Manager.Close()
			c.Threads.Shutdown()
			c.Sender.Stop()
			c.ChatList.Stop()
			c.Engine.Stop()
			if c.Metrics != nil {
				if err := c.Metrics.Stop(ctx); err != nil {
					logger.Warn("error stopping metrics server", zap.Error(err))
				}
			}
			if err := c.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := c.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
