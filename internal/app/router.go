package app

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/quizforge-backend/internal/http/handlers"
	"github.com/yungbote/quizforge-backend/internal/http/middleware"
	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
)

type routerDeps struct {
	auth   *handlers.AuthHandler
	files  *handlers.FileHandler
	quiz   *handlers.QuizHandler
	health *handlers.HealthHandler
	authMW *middleware.AuthMiddleware
}

func newRouter(cfg Config, log *logger.Logger, deps routerDeps) *gin.Engine {
	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("quizforge-backend"))
	r.Use(middleware.AttachTraceContext())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.GET("/healthz", deps.health.HealthCheck)

	api := r.Group("/api")

	api.POST("/auth/register", deps.auth.Register)
	api.POST("/auth/login", deps.auth.Login)

	// Queue callbacks authenticate by signature, not by user token.
	api.POST("/files/parse-complete", deps.files.ParseComplete)
	api.POST("/files/parse-failed", deps.files.ParseFailed)
	api.POST("/quiz/process", deps.quiz.Process)

	// In development the local parser fetches uploads without a user token;
	// in production downloads stay behind auth.
	if cfg.Development() {
		api.GET("/files/:id/download", deps.files.DownloadInternal)
	}

	protected := api.Group("/")
	protected.Use(deps.authMW.RequireAuth())

	protected.POST("/files/upload", deps.files.Upload)
	protected.GET("/files", deps.files.List)
	protected.GET("/files/:id", deps.files.Get)
	protected.GET("/files/:id/status", deps.files.Status)
	if !cfg.Development() {
		protected.GET("/files/:id/download", deps.files.Download)
	}
	protected.DELETE("/files/:id", deps.files.Delete)

	protected.POST("/quiz/generate", deps.quiz.Generate)
	protected.GET("/quiz/status/:jobId", deps.quiz.JobStatus)
	protected.GET("/quiz/:id", deps.quiz.Get)
	protected.PATCH("/quiz/:id", deps.quiz.UpdateMeta)
	protected.POST("/quiz/:id/questions", deps.quiz.AddQuestion)
	protected.PATCH("/quiz/:id/questions/:qid", deps.quiz.UpdateQuestion)
	protected.DELETE("/quiz/:id/questions/:qid", deps.quiz.DeleteQuestion)
	protected.POST("/quiz/:id/questions/reorder", deps.quiz.Reorder)

	return r
}
