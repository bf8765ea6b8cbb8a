package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rey45eyh45/daromatx/internal/config"
	"github.com/rey45eyh45/daromatx/internal/infra/httpclient"
	s3infra "github.com/rey45eyh45/daromatx/internal/infra/s3"
	"github.com/rey45eyh45/daromatx/internal/infra/telegram"
	"github.com/rey45eyh45/daromatx/internal/infra/tonindex"
	pgrepo "github.com/rey45eyh45/daromatx/internal/repo/postgres"
	redrepo "github.com/rey45eyh45/daromatx/internal/repo/redis"
	adminsvc "github.com/rey45eyh45/daromatx/internal/services/adminauth"
	authsvc "github.com/rey45eyh45/daromatx/internal/services/auth"
	catalogsvc "github.com/rey45eyh45/daromatx/internal/services/catalog"
	entsvc "github.com/rey45eyh45/daromatx/internal/services/entitlements"
	ledgersvc "github.com/rey45eyh45/daromatx/internal/services/ledger"
	mediasvc "github.com/rey45eyh45/daromatx/internal/services/media"
	"github.com/rey45eyh45/daromatx/internal/services/reconcile"
	userssvc "github.com/rey45eyh45/daromatx/internal/services/users"
	videosvc "github.com/rey45eyh45/daromatx/internal/services/videotoken"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	s3         *minio.Client
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	var s3Client *minio.Client
	if c, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
	}); err != nil {
		log.Warn("s3 init failed, continuing in degraded mode", zap.Error(err))
	} else {
		s3Client = c
	}

	var bot *telegram.Bot
	if b, err := telegram.NewBot(cfg.Bot.Token); err != nil {
		log.Warn("telegram bot init failed, video playback limited to s3", zap.Error(err))
	} else {
		bot = b
	}

	attemptRepo := pgrepo.NewPaymentAttemptRepo(pool)
	entitlementRepo := pgrepo.NewEntitlementRepo(pool)
	courseRepo := pgrepo.NewCourseRepo(pool)
	lessonRepo := pgrepo.NewLessonRepo(pool)
	userRepo := pgrepo.NewUserRepo(pool)
	pollRepo := redrepo.NewPollRepo(redisClient)
	catalogCache := redrepo.NewCatalogCacheRepo(redisClient)

	mediaStorage := mediasvc.NewS3Storage(s3Client, cfg.S3.Bucket)
	chainIndex := tonindex.NewClient(cfg.Payments.TON.IndexerBaseURL, httpclient.New(cfg.Payments.TON.RequestTimeout))

	ledgerService := ledgersvc.NewService(attemptRepo, courseRepo, nil)
	entitlementService := entsvc.NewService(entitlementRepo, log)
	coordinator := reconcile.NewCoordinator(ledgerService, entitlementService, log)
	gatewayVerifier := reconcile.NewGatewayVerifier(coordinator, cfg.Payments.Click, cfg.Payments.Payme, log)
	tonVerifier := reconcile.NewTONVerifier(coordinator, attemptRepo, chainIndex, pollRepo, cfg.Payments.TON, log)
	catalogService := catalogsvc.NewService(courseRepo, lessonRepo, catalogCache, log)
	userService := userssvc.NewService(userRepo)
	adminAuthService := adminsvc.NewService(cfg.Admin.JWTSecret, cfg.Admin.JWTAccessTTL, cfg.IsAdmin)
	initDataValidator := authsvc.NewValidator(cfg.Bot.Token)

	var fileResolver videosvc.FileResolver
	if bot != nil {
		fileResolver = bot
	}
	videoService := videosvc.NewService(lessonRepo, entitlementRepo, mediaStorage, fileResolver, cfg.Bot.Token, cfg.Video.TokenSecret, cfg.Video.TokenTTL)

	RegisterRoutes(r, Dependencies{
		InitDataValidator: initDataValidator,
		AdminAuthService:  adminAuthService,
		CatalogService:    catalogService,
		UserService:       userService,
		EntitlementSvc:    entitlementService,
		LedgerService:     ledgerService,
		GatewayVerifier:   gatewayVerifier,
		TONVerifier:       tonVerifier,
		VideoService:      videoService,
		CoverSigner:       mediaStorage,
		TONWallet:         cfg.Payments.TON.Wallet,
		FiatPerTON:        cfg.Payments.TON.FiatPerTON,
		Logger:            log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		s3:         s3Client,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis client", zap.Error(err))
		}
	}
	return nil
}
