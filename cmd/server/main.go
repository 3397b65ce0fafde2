package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/DanFrunza/Public-Data-Explorer/internal/config"
	delivery "github.com/DanFrunza/Public-Data-Explorer/internal/delivery/http"
	"github.com/DanFrunza/Public-Data-Explorer/internal/domain"
	"github.com/DanFrunza/Public-Data-Explorer/internal/logging"
	"github.com/DanFrunza/Public-Data-Explorer/internal/media"
	"github.com/DanFrunza/Public-Data-Explorer/internal/middleware"
	"github.com/DanFrunza/Public-Data-Explorer/internal/migrations"
	"github.com/DanFrunza/Public-Data-Explorer/internal/password"
	"github.com/DanFrunza/Public-Data-Explorer/internal/ratelimit"
	"github.com/DanFrunza/Public-Data-Explorer/internal/repository/memory"
	"github.com/DanFrunza/Public-Data-Explorer/internal/repository/postgres"
	"github.com/DanFrunza/Public-Data-Explorer/internal/session"
	"github.com/DanFrunza/Public-Data-Explorer/internal/token"
	"github.com/DanFrunza/Public-Data-Explorer/internal/usecase"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

type repositories struct {
	users  domain.UserRepository
	tokens domain.RefreshTokenRepository
	events domain.AuthEventRepository
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger.Info("public data explorer auth starting",
		zap.String("environment", cfg.Environment),
		zap.String("port", cfg.Server.Port),
	)

	ctx := context.Background()

	repos, closeDB, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	// Password and refresh secret hashing share one CPU budget.
	slots := password.NewLimiter(cfg.Hashing.MaxConcurrent)
	passwords, err := password.New(hashParams(cfg.Hashing.Password), slots)
	if err != nil {
		return fmt.Errorf("password hasher: %w", err)
	}
	secrets, err := password.New(hashParams(cfg.Hashing.RefreshSecret), slots)
	if err != nil {
		return fmt.Errorf("refresh secret hasher: %w", err)
	}

	access, err := token.NewAccessCodec(cfg.JWT.Secret, cfg.JWT.AccessExpiry)
	if err != nil {
		return fmt.Errorf("access codec: %w", err)
	}

	engine := session.NewEngine(repos.tokens, repos.users, secrets, access, cfg.Refresh.Expiry, logger,
		session.WithEvents(repos.events))

	var store usecase.ObjectStore
	if s, err := media.NewStore(ctx, cfg.S3, logger); err != nil {
		logger.Warn("avatar storage disabled", zap.Error(err))
	} else {
		store = s
		go func() {
			bctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = s.EnsureBucket(bctx)
		}()
	}

	limiters, closeRedis := buildLimiters(ctx, cfg, logger)
	defer closeRedis()

	authUsecase := usecase.NewAuthUsecase(repos.users, repos.events, engine, passwords, access, store, logger)
	userUsecase := usecase.NewUserUsecase(repos.users, store, logger)

	handler := delivery.NewHandler(authUsecase, userUsecase, token.CookieOptions{
		Path:   cfg.Refresh.CookiePath,
		Secure: cfg.IsProduction(),
	}, logger)
	authMiddleware := middleware.NewAuthMiddleware(access, logger)
	router := delivery.NewRouter(handler, authMiddleware, limiters, delivery.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		TrustProxy:     cfg.Server.TrustProxy,
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}

func hashParams(p config.HashParams) password.Params {
	return password.Params{Memory: p.Memory, Time: p.Time, Parallelism: p.Parallelism}
}

// openRepositories connects to Postgres with retry. Without DATABASE_URL the
// server runs on in-memory repositories, which production refuses.
func openRepositories(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*repositories, func(), error) {
	if cfg.Database.URL == "" {
		if cfg.IsProduction() {
			return nil, nil, errors.New("DATABASE_URL is required in production")
		}
		logger.Warn("DATABASE_URL not set, using in-memory storage")
		return &repositories{
			users:  memory.NewUserRepository(),
			tokens: memory.NewRefreshTokenRepository(),
			events: memory.NewAuthEventRepository(),
		}, func() {}, nil
	}

	pool, err := connectPostgres(ctx, cfg.Database.URL, logger)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Database.AutoMigrate {
		mctx, cancel := context.WithTimeout(ctx, time.Minute)
		err := migrations.UpPool(mctx, pool)
		cancel()
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("database migrations applied")
	}

	return &repositories{
		users:  postgres.NewUserRepository(pool),
		tokens: postgres.NewRefreshTokenRepository(pool),
		events: postgres.NewAuthEventRepository(pool),
	}, pool.Close, nil
}

func connectPostgres(ctx context.Context, url string, logger *zap.Logger) (*pgxpool.Pool, error) {
	const attempts = 5
	for attempt := 1; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := pgxpool.New(actx, url)
		if err == nil {
			if err = pool.Ping(actx); err == nil {
				cancel()
				logger.Info("connected to postgres")
				return pool, nil
			}
			pool.Close()
		}
		cancel()

		logger.Warn("postgres unavailable", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == attempts {
			return nil, fmt.Errorf("connect postgres after %d attempts: %w", attempts, err)
		}
		time.Sleep(time.Duration(attempt) * 2 * time.Second)
	}
}

// buildLimiters prefers Redis so budgets hold across instances, and falls
// back to per-process limiters when Redis is not configured or unreachable.
func buildLimiters(ctx context.Context, cfg *config.Config, logger *zap.Logger) (delivery.Limiters, func()) {
	rl := cfg.RateLimit
	local := delivery.Limiters{
		Register: ratelimit.NewLocalLimiter(rl.RegisterPerMinute),
		Login:    ratelimit.NewLocalLimiter(rl.LoginPerMinute),
		Avatar:   ratelimit.NewLocalLimiter(rl.AvatarPerMinute),
	}
	if cfg.Redis.Addr == "" {
		return local, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		logger.Warn("redis unavailable, using local rate limits", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		client.Close()
		return local, func() {}
	}

	logger.Info("rate limiting through redis", zap.String("addr", cfg.Redis.Addr))
	return delivery.Limiters{
		Register: ratelimit.NewRedisLimiter(client, "register", rl.RegisterPerMinute, time.Minute),
		Login:    ratelimit.NewRedisLimiter(client, "login", rl.LoginPerMinute, time.Minute),
		Avatar:   ratelimit.NewRedisLimiter(client, "avatar", rl.AvatarPerMinute, time.Minute),
	}, func() { client.Close() }
}
