// Command linkauthd runs the local auth-session daemon: encrypted session store,
// deep-link router, loopback redirect listener and the command API for the UI.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/linkauth/internal/api"
	"github.com/and161185/linkauth/internal/config"
	"github.com/and161185/linkauth/internal/deeplink"
	"github.com/and161185/linkauth/internal/exchange"
	"github.com/and161185/linkauth/internal/migrate"
	"github.com/and161185/linkauth/internal/repository"
	"github.com/and161185/linkauth/internal/repository/file"
	"github.com/and161185/linkauth/internal/repository/postgres"
	"github.com/and161185/linkauth/internal/repository/redisdoc"
	grpcserver "github.com/and161185/linkauth/internal/server/grpc"
	"github.com/and161185/linkauth/internal/service"
	"github.com/and161185/linkauth/internal/store"
	"github.com/and161185/linkauth/internal/transport/loopback"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const documentName = "auth"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "linkauthd:", err)
		os.Exit(2)
	}

	var logger *zap.Logger
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
		gin.SetMode(gin.ReleaseMode)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.ListenAddr),
		zap.String("store", cfg.StoreBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// openDocument opens the configured session document backend.
func openDocument(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.DocumentRepository, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		applied, err := migrate.Up(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("migrate up: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", zap.Int64s("versions", applied))
		}
		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("pgxpool: %w", err)
		}
		return postgres.NewDocumentRepo(db, documentName), nil
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisdoc.New(client, documentName), nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o700); err != nil {
			return nil, err
		}
		return file.Open(cfg.StorePath)
	}
}

func run(parent context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	doc, err := openDocument(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = doc.Close() }()

	sessions := store.New(doc)
	if _, err := sessions.GetOrCreateSalt(ctx); err != nil {
		return err
	}

	ex := exchange.New(exchange.Config{
		TokenURL:    cfg.TokenURL,
		ClientID:    cfg.ClientID,
		RedirectURI: cfg.RedirectURI,
	})
	svc := service.NewAuthSessionService(sessions, ex, logger,
		service.WithAuthenticatedTTL(cfg.AuthenticatedTTL),
		service.WithRedirectURI(cfg.RedirectURI),
	)

	ps := deeplink.NewPubSub(logger)
	defer func() { _ = ps.Close() }()
	router := deeplink.NewRouter(ps, logger, cfg.DeepLinkBuffer)
	defer router.Close()

	consumer := deeplink.NewCallbackConsumer(router, svc, logger, nil)
	consumed, err := consumer.Start(ctx)
	if err != nil {
		return fmt.Errorf("subscribe callbacks: %w", err)
	}
	routed := make(chan error, 1)
	go func() { routed <- router.Run(ctx) }()

	if cfg.LaunchURL != "" {
		if err := router.Deliver(cfg.LaunchURL); err != nil {
			logger.Warn("launch url rejected", zap.Error(err))
		}
	}

	if cfg.SweepInterval > 0 {
		go svc.RunSweeper(ctx, cfg.SweepInterval)
	}

	loopbackDone := make(chan error, 1)
	if cfg.LoopbackAddr != "" {
		ln, err := net.Listen("tcp", cfg.LoopbackAddr)
		if err != nil {
			return fmt.Errorf("loopback listen: %w", err)
		}
		srv := loopback.NewServer(loopback.SetupRouter(router, logger), logger)
		go func() { loopbackDone <- srv.Serve(ctx, ln) }()
	} else {
		close(loopbackDone)
	}

	var authURL grpcserver.AuthURLBuilder
	if cfg.AuthorizeURL != "" {
		authURL = exchange.Authorizer{
			Endpoint:    cfg.AuthorizeURL,
			ClientID:    cfg.ClientID,
			RedirectURI: cfg.RedirectURI,
			Scope:       cfg.Scope,
		}
	}
	opener := deeplink.NewOpener(deeplink.NewSystemBrowser(), logger)

	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LocalOnlyUnary(),
			grpcserver.LoggingUnary(logger),
		),
		grpc.ChainStreamInterceptor(
			grpcserver.RecoverStream(logger),
			grpcserver.LocalOnlyStream(),
			grpcserver.LoggingStream(logger),
		),
	)
	api.RegisterCommandsServer(s, grpcserver.New(svc, router, opener, authURL))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		errCh <- s.Serve(lis)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		hs.Shutdown()
		// Event streams end when the bus closes; GracefulStop waits for them.
		_ = ps.Close()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
	case serveErr = <-errCh:
	case err := <-routed:
		if err != nil && !errors.Is(err, context.Canceled) {
			serveErr = fmt.Errorf("deep-link router: %w", err)
		}
		s.Stop()
	}

	cancel()
	router.Close()
	if err := <-loopbackDone; err != nil {
		logger.Warn("loopback server", zap.Error(err))
	}
	<-consumed
	return serveErr
}
