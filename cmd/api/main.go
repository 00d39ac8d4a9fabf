package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"payline.org/internal/auth"
	"payline.org/internal/config"
	"payline.org/internal/httpapi"
	"payline.org/internal/migrate"
	"payline.org/internal/obs"
	"payline.org/internal/org"
	"payline.org/internal/payroll"
	"payline.org/internal/store/memory"
	"payline.org/internal/store/pg"
	"payline.org/internal/store/redisstore"
	"payline.org/ops/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type backends struct {
	auth    auth.Stores
	orgs    org.Store
	payroll interface {
		payroll.RecipientStore
		payroll.RunStore
	}
	db    *sql.DB
	redis redis.UniversalClient
}

func main() {
	configPath := flag.String("config", os.Getenv("PAYLINE_CONFIG"), "Path to YAML config")
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}
	obs.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		log.Error("open storage", "error", err)
		os.Exit(1)
	}
	defer b.close()

	authSvc, err := auth.NewService(b.auth, cfg.Auth.JWTSecret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithDomain(cfg.Auth.MessageDomain),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithChallengeTTL(cfg.Auth.ChallengeTTL),
		auth.WithLogger(log),
	)
	if err != nil {
		log.Error("init auth", "error", err)
		os.Exit(1)
	}
	orgSvc := org.NewService(b.orgs)
	payrollSvc := payroll.NewService(orgSvc.Guard(), b.payroll, b.payroll)

	probe := httpapi.ReadyProbe{DB: b.db, Redis: b.redis}
	api := httpapi.New(httpapi.Deps{
		Auth:           authSvc,
		Orgs:           orgSvc,
		Payroll:        payrollSvc,
		Ready:          probe,
		Version:        version,
		RateBurst:      cfg.RateLimit.Burst,
		RatePerSec:     cfg.RateLimit.RPS,
		TrustedProxies: cfg.RateLimit.Proxies(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(httpapi.UnaryLogging))
	health := httpapi.NewGRPCServer(probe, version)
	health.Register(grpcSrv)
	go health.Run(ctx, 5*time.Second)

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Error("grpc listen", "addr", cfg.GRPCAddr, "error", err)
			os.Exit(1)
		}
		go func() {
			log.Info("grpc listening", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server failed", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}
	log.Info("stopped")
}

// openBackends selects Postgres when a DSN is configured and the in-memory
// stores otherwise. Challenges go to Redis when an address is configured.
func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}
	log := obs.Logger()

	if cfg.PostgresDSN != "" {
		store, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		b.db = store.DB()
		if err := store.Ping(ctx); err != nil {
			b.close()
			return nil, err
		}
		if cfg.AutoMigrate {
			applied, err := migrate.NewManager(store.DB(), migrations.FS()).Up(ctx)
			if err != nil {
				b.close()
				return nil, err
			}
			log.Info("migrations applied", "count", len(applied))
		}
		b.auth = auth.Stores{Identities: store, Sessions: store}
		b.orgs = store
		b.payroll = store
	} else {
		log.Warn("no postgres dsn configured; using in-memory storage")
		identities := memory.NewIdentities()
		b.auth = auth.Stores{Identities: identities, Sessions: memory.NewSessions()}
		b.orgs = memory.NewOrganizations(identities)
		b.payroll = memory.NewPayroll()
	}

	if cfg.Redis.Addr != "" {
		b.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.close()
			return nil, err
		}
		b.auth.Challenges = redisstore.NewChallenges(b.redis, cfg.Redis.Prefix)
	} else {
		b.auth.Challenges = memory.NewChallenges()
	}
	return b, nil
}

func (b *backends) close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
}
