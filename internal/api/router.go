package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/vidtalker/internal/api/handler"
	"github.com/timmy/vidtalker/internal/api/middleware"
	"github.com/timmy/vidtalker/internal/config"
	"github.com/timmy/vidtalker/internal/logger"
)

// Dependencies are the services the HTTP layer calls into.
type Dependencies struct {
	Pipeline      handler.VideoProcessor
	Answers       handler.QuestionAnswerer
	Blog          handler.BlogWriter
	Runs          handler.RunReader
	Index         handler.IndexStatter
	TranscriptDir string
	Logger        *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Dependencies, server *config.ServerConfig) *gin.Engine {
	switch server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(server.CORS))

	healthHandler := handler.NewHealthHandler(deps.Index)
	videoHandler := handler.NewVideoHandler(deps.Pipeline)
	askHandler := handler.NewAskHandler(deps.Answers)
	blogHandler := handler.NewBlogHandler(deps.Blog, deps.TranscriptDir)
	runHandler := handler.NewRunHandler(deps.Runs)

	r.GET("/health", healthHandler.Health)
	r.GET("/health/ready", healthHandler.Ready)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/process-video", videoHandler.ProcessVideo)
		v1.POST("/ask", askHandler.Ask)
		v1.POST("/generate-blog", blogHandler.GenerateBlog)

		v1.GET("/runs", runHandler.ListRuns)
		v1.GET("/runs/:id", runHandler.GetRun)

		v1.GET("/index/stats", healthHandler.IndexStats)
	}

	return r
}
