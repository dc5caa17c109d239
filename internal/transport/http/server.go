package http

import (
	"time"

	"github.com/gin-gonic/gin"

	appsvc "github.com/SkywardAI/kirin/internal/app"
	"github.com/SkywardAI/kirin/internal/bootstrap"
	"github.com/SkywardAI/kirin/internal/cache"
	"github.com/SkywardAI/kirin/internal/platform/rabbitmq"
	"github.com/SkywardAI/kirin/internal/repository"
	"github.com/SkywardAI/kirin/internal/transport/http/handler"
	"github.com/SkywardAI/kirin/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	accountRepo := repository.NewAccountRepository(app.MySQL)
	sessionRepo := repository.NewSessionRepository(app.MySQL)
	turnRepo := repository.NewChatTurnRepository(app.MySQL)
	datasetRepo := repository.NewDatasetRepository(app.MySQL)

	historyCache := cache.NewHistoryCache(
		app.Redis,
		time.Duration(app.Config.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(app.Config.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	turnPublisher := rabbitmq.NewTurnBatchPublisher(app.MQConn, app.Config.RabbitMQ.TurnPersistQueue)

	authService := appsvc.NewAuthService(
		accountRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)
	chatService := appsvc.NewChatService(
		sessionRepo,
		turnRepo,
		app.ConvCache,
		app.Inference,
		app.VectorIndex,
		turnPublisher,
		historyCache,
		app.Config.Inference.Instruction,
		app.Config.Vector.TopN,
		app.Logger,
	)
	datasetService := appsvc.NewDatasetService(datasetRepo, app.Inference, app.VectorIndex, app.Logger)

	authHandler := handler.NewAuthHandler(authService)
	chatHandler := handler.NewChatHandler(chatService, app.Config.Inference.NPredict)
	datasetHandler := handler.NewDatasetHandler(datasetService)

	secret := app.Config.Auth.JWTSecret

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(secret), authHandler.Me)

	// Chat turns and history accept anonymous callers; session CRUD is
	// tied to an account.
	chatGroup := v1.Group("/chat")
	chatGroup.POST("", middleware.AuthJWTOptional(secret), chatHandler.StreamTurn)
	chatGroup.POST("/save", middleware.AuthJWTOptional(secret), chatHandler.SaveHistory)
	chatGroup.GET("/history", middleware.AuthJWTOptional(secret), chatHandler.GetHistory)
	chatGroup.POST("/sessions", middleware.AuthJWT(secret), chatHandler.CreateSession)
	chatGroup.GET("/sessions", middleware.AuthJWT(secret), chatHandler.ListSessions)
	chatGroup.PATCH("/sessions/:uuid", middleware.AuthJWTOptional(secret), chatHandler.UpdateSession)
	chatGroup.PUT("/sessions/:uuid/dataset", middleware.AuthJWTOptional(secret), chatHandler.BindDataset)

	datasetGroup := v1.Group("/datasets")
	datasetGroup.Use(middleware.AuthJWT(secret))
	datasetGroup.POST("", datasetHandler.Ingest)
	datasetGroup.POST("/upload", datasetHandler.UploadPDF)
	datasetGroup.GET("", datasetHandler.ListDatasets)

	return router
}
