// Package app wires the chatsync runtime: config, logging, the server session, the sync engine,
// the read model mirror and the admin HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	v1 "chatsync/shared/contracts/sync/v1"

	"chatsync/cmd/internal/engine"
	"chatsync/cmd/internal/media"
	"chatsync/cmd/internal/metrics"
	"chatsync/cmd/internal/model"
	"chatsync/cmd/internal/notify"
	"chatsync/cmd/internal/peers"
	"chatsync/cmd/internal/state"
	"chatsync/cmd/internal/store"
	"chatsync/cmd/internal/transport"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// App owns every long-lived component of the service.
type App struct {
	cfg Config
	log *slog.Logger

	reg    *prometheus.Registry
	client *transport.Client
	dir    *peers.Directory
	eng    *engine.Manager
	mirror *store.Mirror
	rm     store.ReadModel
	state  state.Store

	pool *pgxpool.Pool
	rdb  *redis.Client

	// reconnected is signalled after every handshake so the reconcile loop catches up.
	reconnected chan struct{}
}

// New constructs a fully wired App. Nothing is started until Run.
func New(ctx context.Context, cfg Config, log *slog.Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.ServerURL == "" {
		return nil, errors.New("app: CHATSYNC_SERVER_URL is required")
	}
	a := &App{
		cfg:         cfg,
		log:         log,
		reg:         prometheus.NewRegistry(),
		reconnected: make(chan struct{}, 1),
	}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met, err := metrics.New(a.reg)
	if err != nil {
		return nil, err
	}

	if cfg.StateDir != "" {
		ps, err := state.OpenPebble(cfg.StateDir, log)
		if err != nil {
			return nil, fmt.Errorf("app: open state: %w", err)
		}
		a.state = ps
	} else {
		log.Info("state.inmemory")
		a.state = state.NewMemoryStore()
	}

	if a.rm, err = a.openReadModel(ctx); err != nil {
		return nil, err
	}
	a.mirror = store.NewMirror(log, a.rm, cfg.MirrorQueue, met)

	a.dir = peers.NewDirectory(model.PeerID(cfg.SelfID))
	a.client = transport.New(log, transport.Options{
		URL:         cfg.ServerURL,
		Subprotocol: cfg.Subprotocol,
		ClientID:    cfg.ClientID,
		RetryRate:   cfg.RPCRate,
		RetryBurst:  cfg.RPCBurst,
		MaxAttempts: cfg.RPCMaxAttempts,
		OnConnect:   a.onConnect,
	}, met)

	a.eng, err = engine.New(engine.Config{
		Log:         log,
		RPC:         a.client,
		Peers:       a.dir,
		Media:       media.NewRegistry(),
		Mirror:      a.mirror,
		State:       a.state,
		Metrics:     met,
		HistoryPage: cfg.HistoryPage,
	})
	if err != nil {
		return nil, err
	}
	a.eng.Subscribe(a.logEvent)
	return a, nil
}

func (a *App) openReadModel(ctx context.Context) (store.ReadModel, error) {
	switch a.cfg.ReadModel {
	case ReadModelPostgres:
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return nil, fmt.Errorf("app: postgres: %w", err)
		}
		a.pool = pool
		rm, err := store.NewPostgresReadModel(pool, store.WithSchema(a.cfg.DBSchema))
		if err != nil {
			return nil, err
		}
		if err := rm.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("app: postgres schema: %w", err)
		}
		a.log.Info("readmodel.enabled", "backend", ReadModelPostgres, "schema", a.cfg.DBSchema)
		return rm, nil
	case ReadModelRedis:
		rdb, err := NewRedisClient(ctx, a.cfg)
		if err != nil {
			return nil, fmt.Errorf("app: redis: %w", err)
		}
		a.rdb = rdb
		rm, err := store.NewRedisReadModel(rdb, a.cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		a.log.Info("readmodel.enabled", "backend", ReadModelRedis, "addr", a.cfg.RedisAddr)
		return rm, nil
	default:
		a.log.Info("readmodel.enabled", "backend", ReadModelMemory)
		return store.NewMemoryReadModel(), nil
	}
}

func (a *App) onConnect(_ context.Context, ack v1.HelloAckPayload) {
	if ack.SelfID != 0 {
		a.dir.SetSelf(model.PeerID(ack.SelfID))
	}
	a.log.Info("app.session.ready", "session_id", ack.SessionID, "self_id", ack.SelfID)
	select {
	case a.reconnected <- struct{}{}:
	default:
	}
}

func (a *App) logEvent(e notify.Event) {
	a.log.Debug("engine.event", "name", e.Name())
}

func (a *App) readinessChecks() []ReadinessCheck {
	checks := []ReadinessCheck{{Name: "readmodel", Check: a.rm.Ping}}
	if a.cfg.ReadinessRequireTransport {
		checks = append(checks, ReadinessCheck{Name: "transport", Check: func(context.Context) error {
			return a.client.Ready()
		}})
	}
	return checks
}

// Run starts every component and blocks until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr: a.cfg.HTTPAddr,
		Handler: newRouter(a.log, a.eng, routerOptions{
			Gatherer:    a.reg,
			Checks:      a.readinessChecks(),
			CallTimeout: a.cfg.RPCTimeout,
		}),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	// the mirror outlives the other components so the final writes reach the read model
	mirrorCtx, stopMirror := context.WithCancel(context.WithoutCancel(ctx))
	defer stopMirror()
	mirrorDone := make(chan struct{})
	go func() {
		defer close(mirrorDone)
		_ = a.mirror.Run(mirrorCtx)
	}()

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "server_url", a.cfg.ServerURL, "read_model", a.cfg.ReadModel)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.client.Run(gctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, transport.ErrClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error { return pumpUpdates(gctx, a.client.Updates(), a.eng) })
	g.Go(func() error {
		return reconcileLoop(gctx, a.log, a.cfg.ReconcileCron, a.eng, a.reconnected, time.Now)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
		}
		a.client.Close()
		return nil
	})

	runErr := g.Wait()
	if runErr != nil {
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.eng.Close(shutdownCtx); err != nil {
		a.log.Error("engine.close.fail", "err", err)
	}
	if err := a.mirror.Wait(shutdownCtx); err != nil {
		a.log.Warn("readmodel.drain.fail", "err", err)
	}
	stopMirror()
	<-mirrorDone
	a.closeResources()

	a.log.Info("server.stopped")
	return runErr
}

func (a *App) closeResources() {
	if a.rm != nil {
		if err := a.rm.Close(); err != nil {
			a.log.Error("readmodel.close.fail", "err", err)
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.state != nil {
		if err := a.state.Close(); err != nil {
			a.log.Error("state.close.fail", "err", err)
		}
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
