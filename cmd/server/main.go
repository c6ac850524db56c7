package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-middle-layer/accounts"
	"github.com/jrsteele09/go-middle-layer/dispatch"
	"github.com/jrsteele09/go-middle-layer/internal/config"
	"github.com/jrsteele09/go-middle-layer/pools"
	"github.com/jrsteele09/go-middle-layer/procedure"
	"github.com/jrsteele09/go-middle-layer/reaper"
	"github.com/jrsteele09/go-middle-layer/security"
	"github.com/jrsteele09/go-middle-layer/server"
	"github.com/jrsteele09/go-middle-layer/sessions"
	"github.com/jrsteele09/go-middle-layer/sessions/redisstore"
	"github.com/jrsteele09/go-middle-layer/verifier"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	for {
		if err := run(); err != nil {
			log.Error().Err(err).Msg("error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.Load()
	setupLogging(c)
	displayAppname(c.GetAppName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := accounts.LoadFile(c.GetAccountsFile())
	if err != nil {
		return fmt.Errorf("loading accounts: %w", err)
	}
	registry := accounts.NewRegistry(loaded...)
	log.Info().Int("accounts", registry.Len()).Str("file", c.GetAccountsFile()).Msg("accounts loaded")

	poolManager, err := pools.NewManager(registry)
	if err != nil {
		return err
	}
	defer poolManager.Close()

	invoker, err := procedure.NewInvoker(registry, poolManager, procedure.WithQueryTimeout(c.GetDefaultQueryTimeout()))
	if err != nil {
		return err
	}
	verifiers := verifier.NewDefaultRegistry(invoker)

	store, closeStore, err := newSessionStore(ctx, c, registry, verifiers)
	if err != nil {
		return err
	}
	defer closeStore()

	mode, err := security.ParseMode(c.GetSecurityMode())
	if err != nil {
		return err
	}
	policy := security.Policy{
		Mode:           mode,
		AllowedActions: c.GetAllowedActions(),
		LocalURIs:      c.GetLocalURIs(),
	}
	manager, err := security.NewManager(registry, verifiers, store, policy)
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.NewDispatcher(manager, invoker,
		dispatch.WithPool(c.GetMaxWorkers(), c.GetQueueSize(), c.GetWorkerIdleTimeout()))
	if err != nil {
		return err
	}

	handler, err := server.New(c, dispatcher, server.WithHealthCheck(poolManager))
	if err != nil {
		return err
	}
	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler}

	sessionReaper, err := reaper.New(manager, c.GetReaperInterval())
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listenAndServe(httpServer)
	})
	g.Go(func() error {
		return sessionReaper.Run(gctx)
	})
	g.Go(func() error {
		return accounts.Watch(gctx, c.GetAccountsFile(), registry, poolManager.Reconcile)
	})
	if every := c.GetDBPingInterval(); every > 0 {
		g.Go(func() error {
			pingDatabases(gctx, poolManager, every)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(httpServer, dispatcher)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func newSessionStore(ctx context.Context, c config.Config, registry *accounts.Registry, verifiers *verifier.Registry) (sessions.Store, func(), error) {
	switch c.GetSessionStore() {
	case "redis":
		st, err := redisstore.New(ctx, redisstore.ConfigFromEnv(), security.HydrateWith(registry, verifiers))
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("using redis session store")
		return st, func() { _ = st.Close() }, nil
	case "memory", "":
		return sessions.NewInMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q", c.GetSessionStore())
	}
}

// pingDatabases keeps idle pools warm and surfaces unreachable backends early.
func pingDatabases(ctx context.Context, p *pools.Manager, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Ping(ctx); err != nil {
				log.Warn().Err(err).Msg("database ping failed")
			}
		}
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server, dispatcher *dispatch.Dispatcher) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	if err := dispatcher.Shutdown(ctx); err != nil {
		return fmt.Errorf("dispatcher.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
