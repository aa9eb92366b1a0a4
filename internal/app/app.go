package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/quizforge-backend/internal/data/db"
	repofiles "github.com/yungbote/quizforge-backend/internal/data/repos/files"
	repojobs "github.com/yungbote/quizforge-backend/internal/data/repos/jobs"
	repoquizzes "github.com/yungbote/quizforge-backend/internal/data/repos/quizzes"
	repousers "github.com/yungbote/quizforge-backend/internal/data/repos/users"
	"github.com/yungbote/quizforge-backend/internal/http/handlers"
	"github.com/yungbote/quizforge-backend/internal/http/middleware"
	"github.com/yungbote/quizforge-backend/internal/observability"
	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
	"github.com/yungbote/quizforge-backend/internal/platform/aiprov"
	"github.com/yungbote/quizforge-backend/internal/platform/parser"
	"github.com/yungbote/quizforge-backend/internal/platform/qstash"
	"github.com/yungbote/quizforge-backend/internal/platform/ratelimit"
	"github.com/yungbote/quizforge-backend/internal/platform/storage"
	"github.com/yungbote/quizforge-backend/internal/services"
)

type App struct {
	Log    *logger.Logger
	Cfg    Config
	DB     *gorm.DB
	Router *gin.Engine

	otelShutdown func(context.Context) error
}

// New wires the whole dependency graph once, at startup. Everything a
// request touches is constructed here and injected; nothing initializes
// lazily.
func New(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(string(cfg.Env))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	otelShutdown := observability.Init(ctx, log, observability.Config{
		ServiceName: "quizforge-backend",
		Environment: string(cfg.Env),
		Version:     cfg.Version,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	bucket, err := storage.NewBucketService(ctx, log, storage.Config{
		Mode:          cfg.StorageMode,
		Bucket:        cfg.Bucket,
		EmulatorHost:  cfg.EmulatorHost,
		PublicBaseURL: cfg.BucketPublicBase,
	})
	if err != nil {
		return nil, fmt.Errorf("init bucket: %w", err)
	}

	gateway, err := qstash.NewGateway(log, qstash.Config{
		BaseURL:           cfg.QStashBaseURL,
		Token:             cfg.QStashToken,
		CurrentSigningKey: cfg.CurrentSigningKey,
		NextSigningKey:    cfg.NextSigningKey,
		DevBypass:         cfg.Development(),
	})
	if err != nil {
		return nil, fmt.Errorf("init queue gateway: %w", err)
	}

	parserClient, err := parser.NewClient(log, parser.Config{
		ParserURL:       cfg.ParserURL,
		CallbackBaseURL: cfg.PublicBaseURL,
		Retries:         3,
	}, gateway)
	if err != nil {
		return nil, fmt.Errorf("init parser client: %w", err)
	}

	var resolver parser.URLResolver
	if cfg.Development() {
		resolver = parser.LocalDownloadResolver{BaseURL: cfg.PublicBaseURL}
	} else {
		resolver = parser.PublicBucketResolver{PublicURL: bucket.PublicURL}
	}

	registry, err := buildProviderRegistry(log, cfg)
	if err != nil {
		return nil, err
	}

	uploadLimiter, generationLimiter, err := ratelimit.NewRedisLimiter(log, rdb, ratelimit.DefaultLimits())
	if err != nil {
		return nil, fmt.Errorf("init rate limiter: %w", err)
	}

	fileRepo := repofiles.NewFileRepo(theDB, log)
	parsingJobRepo := repojobs.NewParsingJobRepo(theDB, log)
	generationJobRepo := repojobs.NewGenerationJobRepo(theDB, log)
	quizDocRepo := repoquizzes.NewQuizDocumentRepo(theDB, log)
	quizIdxRepo := repoquizzes.NewQuizIndexRepo(theDB, log)
	userRepo := repousers.NewUserRepo(theDB, log)

	authService, err := services.NewAuthService(log, userRepo, cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("init auth service: %w", err)
	}
	uploadService := services.NewUploadService(log,
		services.UploadConfig{Development: cfg.Development()},
		fileRepo, parsingJobRepo, bucket, parserClient, resolver, uploadLimiter)
	webhookService := services.NewParseWebhookService(log, fileRepo, parsingJobRepo, bucket)
	generationService := services.NewGenerationService(log,
		services.GenerationConfig{
			CallbackBaseURL: cfg.PublicBaseURL,
			Development:     cfg.Development(),
			InitialDelay:    2 * time.Second,
		},
		fileRepo, generationJobRepo, parsingJobRepo, quizDocRepo, quizIdxRepo,
		bucket, gateway, registry, generationLimiter)
	statusService := services.NewStatusService(log, fileRepo, parsingJobRepo, bucket)
	fileService := services.NewFileService(log, fileRepo, quizIdxRepo, bucket)
	quizService := services.NewQuizService(log, quizDocRepo, quizIdxRepo)

	authHandler := handlers.NewAuthHandler(log, authService)
	fileHandler := handlers.NewFileHandler(log, cfg.PublicBaseURL, gateway,
		uploadService, fileService, statusService, webhookService)
	quizHandler := handlers.NewQuizHandler(log, cfg.PublicBaseURL, gateway,
		generationService, quizService)
	healthHandler := handlers.NewHealthHandler()
	authMW := middleware.NewAuthMiddleware(log, authService)

	router := newRouter(cfg, log, routerDeps{
		auth:   authHandler,
		files:  fileHandler,
		quiz:   quizHandler,
		health: healthHandler,
		authMW: authMW,
	})

	return &App{
		Log:          log,
		Cfg:          cfg,
		DB:           theDB,
		Router:       router,
		otelShutdown: otelShutdown,
	}, nil
}

func buildProviderRegistry(log *logger.Logger, cfg Config) (*aiprov.Registry, error) {
	regCfg, err := aiprov.LoadRegistryConfig(cfg.ProvidersPath)
	if err != nil {
		return nil, err
	}
	registry := aiprov.NewRegistry()
	for name, pc := range regCfg.Providers {
		switch name {
		case "openai":
			p, perr := aiprov.NewOpenAIProvider(log, cfg.OpenAIAPIKey, pc)
			if perr != nil {
				return nil, fmt.Errorf("init provider %s: %w", name, perr)
			}
			registry.Register(p)
		default:
			log.Warn("Unknown provider in config, skipping", "provider", name)
		}
	}
	if regCfg.Default != "" {
		if err := registry.SetDefault(regCfg.Default); err != nil {
			return nil, err
		}
	}
	if len(registry.Names()) == 0 {
		return nil, fmt.Errorf("no usable AI providers configured")
	}
	return registry, nil
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Listening", "addr", a.Cfg.HTTPAddr, "env", a.Cfg.Env)
	return a.Router.Run(a.Cfg.HTTPAddr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
