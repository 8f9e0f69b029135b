package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-exploretrack/internal/config"
	"backend-exploretrack/internal/db"
	"backend-exploretrack/internal/server"
	"backend-exploretrack/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig   func() config.Config
	openStore    func(config.Config) (tracking.Store, io.Closer, error)
	connectRedis func(config.Config) *redis.Client
	notify       func(chan<- os.Signal, ...os.Signal)
	run          func(context.Context, config.Config, tracking.Store, *redis.Client, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:   config.Load,
		openStore:    openStore,
		connectRedis: db.ConnectRedis,
		notify:       signal.Notify,
		run:          Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	if err := config.Validate(cfg); err != nil {
		log.Printf("invalid configuration: %v", err)
		return
	}

	store, closer, err := deps.openStore(cfg)
	if err != nil {
		log.Printf("%s store unavailable: %v", cfg.StoreDriver, err)
		return
	}
	defer func() {
		if err := closer.Close(); err != nil {
			log.Printf("store close error: %v", err)
		}
	}()

	rdb := deps.connectRedis(cfg)

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, store, rdb, signals, nil); err != nil {
		log.Printf("server exited with error: %v", err)
	}
}

type poolCloser struct {
	pool *pgxpool.Pool
}

func (p poolCloser) Close() error {
	p.pool.Close()
	return nil
}

func openStore(cfg config.Config) (tracking.Store, io.Closer, error) {
	if cfg.StoreDriver == "sqlite" {
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return tracking.NewSQLiteRepository(conn), conn, nil
	}

	pool, err := db.ConnectPostgres(cfg)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.EnsurePostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return tracking.NewRepository(pool), poolCloser{pool: pool}, nil
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals. On the way
// out every tracking manager flushes before the listener closes.
func Run(ctx context.Context, cfg config.Config, store tracking.Store, rdb *redis.Client, signals <-chan os.Signal, listen ListenFunc) error {
	srv := server.NewServer(cfg, store, rdb)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv.Tracking.Shutdown(shutdownCtx)
	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	if err := srv.Stream.Close(); err != nil {
		log.Printf("stream close error: %v", err)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}
