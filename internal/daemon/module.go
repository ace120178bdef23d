// Package daemon composes the per-profile bridge daemon with fx.
package daemon

import (
	"context"
	"os"
	"sync"

	"github.com/matheus3301/chatbridge/internal/account"
	"github.com/matheus3301/chatbridge/internal/adapter"
	"github.com/matheus3301/chatbridge/internal/attachment"
	"github.com/matheus3301/chatbridge/internal/bus"
	"github.com/matheus3301/chatbridge/internal/config"
	"github.com/matheus3301/chatbridge/internal/connect"
	"github.com/matheus3301/chatbridge/internal/ingest"
	"github.com/matheus3301/chatbridge/internal/lock"
	"github.com/matheus3301/chatbridge/internal/logging"
	"github.com/matheus3301/chatbridge/internal/notify"
	"github.com/matheus3301/chatbridge/internal/outbox"
	"github.com/matheus3301/chatbridge/internal/profile"
	"github.com/matheus3301/chatbridge/internal/protocol"
	"github.com/matheus3301/chatbridge/internal/qr"
	"github.com/matheus3301/chatbridge/internal/rpc"
	"github.com/matheus3301/chatbridge/internal/store"
	"github.com/matheus3301/chatbridge/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string         // optional override for testing; empty = use default
	Config     *config.Config // nil = load the global config file
}

// ConnID is the connection id of the profile's account.
type ConnID int

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideLock,
			provideBus,
			provideStore,
			provideAccounts,
			provideAdapter,
			providePresenter,
			provideConnector,
			provideAccount,
			provideEngine,
			provideSender,
			provideService,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		var err error
		cfg, err = config.LoadOrDefault(profile.ConfigPath())
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, cfg.Log.Level)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

// provideStore depends on the lock so a second daemon never opens the cache.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.CacheDBPath(p.Profile)
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

func provideAccounts(b *bus.Bus) *account.Manager {
	return account.NewManager(b)
}

func provideAdapter(accounts *account.Manager, db *store.DB, cfg *config.Config, logger *zap.Logger) *adapter.Adapter {
	return adapter.New(accounts, attachment.NewGateway(logger), db, adapter.Options{
		MentionsQuoted: cfg.Protocol.MentionsQuoted,
	}, logger)
}

func providePresenter(p Params, cfg *config.Config, logger *zap.Logger) *qr.Presenter {
	return qr.New(qr.Options{
		Dir:      profile.TmpDir(p.Profile),
		Terminal: cfg.Protocol.UseQRTerminal,
	}, logger)
}

func provideConnector(p Params, cfg *config.Config, accounts *account.Manager, a *adapter.Adapter, presenter *qr.Presenter, db *store.DB, logger *zap.Logger) *connect.Connector {
	open := func(ctx context.Context, _ string) (protocol.Backend, error) {
		return wa.Open(ctx, profile.DeviceDBPath(p.Profile), cfg.Protocol.DeviceName, logger)
	}
	return connect.New(accounts, a, open, presenter, db, connect.Options{
		ConnectTimeout:   cfg.Protocol.ConnectTimeout.Duration,
		TransferTimeout:  cfg.Protocol.TransferTimeout.Duration,
		ProvisionTimeout: cfg.Protocol.ProvisionTimeout.Duration,
		DeviceName:       cfg.Protocol.DeviceName,
		AttachmentDir:    cfg.Attachments.Dir,
		RecentCapacity:   cfg.Chats.RecentCapacity,
	}, logger)
}

// provideAccount registers the profile account and loads its device.
func provideAccount(p Params, _ *lock.Lock, conn *connect.Connector) (ConnID, error) {
	id, err := conn.Init(context.Background(), profile.Dir(p.Profile))
	return ConnID(id), err
}

func provideEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(db, b, logger)
}

func provideSender(db *store.DB, a *adapter.Adapter, b *bus.Bus, id ConnID, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, a, b, int(id), logger)
}

func provideService(p Params, id ConnID, accounts *account.Manager, conn *connect.Connector, a *adapter.Adapter, db *store.DB, b *bus.Bus, logger *zap.Logger) *rpc.Service {
	return rpc.NewService(rpc.Params{
		Profile:   p.Profile,
		ConnID:    int(id),
		Accounts:  accounts,
		Connector: conn,
		Adapter:   a,
		DB:        db,
		Bus:       b,
		Logger:    logger,
	})
}

func provideServer(p Params, _ *lock.Lock, svc *rpc.Service, logger *zap.Logger) (*rpc.Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.Profile)
	}
	return rpc.NewServer(socketPath, svc, logger)
}

type lifecycleParams struct {
	fx.In

	Server    *rpc.Server
	Lock      *lock.Lock
	DB        *store.DB
	Bus       *bus.Bus
	Accounts  *account.Manager
	Connector *connect.Connector
	Engine    *ingest.Engine
	Sender    *outbox.Sender
	ConnID    ConnID
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, lp lifecycleParams) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	id := int(lp.ConnID)
	logger := lp.Logger

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Ingestion first so no notification is missed.
			lp.Engine.Start(ctx)

			go func() {
				if err := lp.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			lp.Sender.Start(ctx)

			reinit, unsub := lp.Bus.Subscribe(notify.KindReinit, 4)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer unsub()
				watchReinit(ctx, reinit, lp.Connector, id, logger)
			}()

			dev, _, err := lp.Accounts.Session(id)
			if err != nil {
				return err
			}
			if dev == nil || !dev.Valid() {
				logger.Info("no linked device, waiting for login")
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := lp.Connector.Login(ctx, id, connect.LoginOptions{}); err != nil {
					logger.Error("auto-connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			lp.Sender.Stop()
			lp.Server.Stop(stopCtx)
			wg.Wait()
			lp.Connector.Shutdown()
			lp.Engine.Stop()
			if err := lp.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lp.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}

// watchReinit re-links the device whenever the server drops the session.
func watchReinit(ctx context.Context, events <-chan bus.Event, conn *connect.Connector, id int, logger *zap.Logger) {
	for {
		select {
		case evt := <-events:
			if evt.Account != id {
				continue
			}
			logger.Warn("session invalidated, re-provisioning", zap.Int("conn", id))
			if err := conn.Reprovision(ctx, id, connect.LoginOptions{}); err != nil {
				logger.Error("re-provisioning failed", zap.Int("conn", id), zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
