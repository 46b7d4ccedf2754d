// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sales-crm-go/internal/config"
	"sales-crm-go/internal/handler"
	"sales-crm-go/internal/middleware"
	"sales-crm-go/internal/pipeline"
	"sales-crm-go/internal/ratelimit"
	"sales-crm-go/internal/repository"
	"sales-crm-go/internal/service"
	"sales-crm-go/pkg/database"
	"sales-crm-go/pkg/es"
	"sales-crm-go/pkg/kafka"
	"sales-crm-go/pkg/llm"
	"sales-crm-go/pkg/log"
	"sales-crm-go/pkg/storage"
	"sales-crm-go/pkg/token"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与搜索引擎
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	sessionRepository := repository.NewSessionRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.RDB)
	crmRepository := repository.NewCrmRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	llmClient := llm.NewClient(cfg.LLM)
	userService := service.NewUserService(userRepository, jwtManager)
	sessionService := service.NewSessionService(sessionRepository)
	conversationService := service.NewConversationService(conversationRepo, cfg.MinIO)
	keywordService := service.NewKeywordService(es.ESClient, cfg.Elasticsearch)
	modeRouter := service.NewModeRouter(llmClient, cfg.Chat)
	intentClassifier := service.NewIntentClassifier(llmClient, cfg.Chat)
	queryService := service.NewQueryService(crmRepository, keywordService, cfg.Chat)
	answerService := service.NewAnswerService(llmClient, cfg.Chat)
	chatService := service.NewChatService(sessionService, conversationService, modeRouter, intentClassifier, queryService, answerService, cfg.Chat)
	adminService := service.NewAdminService(userRepository, conversationRepo, crmRepository)

	// 6. 初始化限流器与搜索同步索引器
	limiter := ratelimit.NewLimiter(cfg.RateLimit.Ceiling(), cfg.RateLimit.Window())
	indexer := pipeline.NewIndexer(crmRepository, cfg.Elasticsearch)

	// 7. 启动后台任务：Kafka 消费者、限流清理、会话归档
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go kafka.StartConsumer(cfg.Kafka, indexer)
	go limiter.StartSweeper(workerCtx, cfg.RateLimit.Window())
	go conversationService.StartArchiver(workerCtx, 24*time.Hour)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	chatHandler := handler.NewChatHandler(chatService, userService, jwtManager, limiter, cfg.RateLimit)

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", handler.NewUserHandler(userService).Register)
			users.POST("/login", handler.NewUserHandler(userService).Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", handler.NewUserHandler(userService).GetProfile)
				authed.POST("/logout", handler.NewUserHandler(userService).Logout)
				authed.GET("/conversation", handler.NewConversationHandler(conversationService, sessionService).GetConversations)
				authed.GET("/sessions", handler.NewConversationHandler(conversationService, sessionService).ListSessions)
			}
		}

		// Chat 路由组：元数据不计额度，消息入口挂限流中间件
		chatGroup := apiV1.Group("/chat")
		chatGroup.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			chatGroup.GET("", chatHandler.Metadata)
			chatGroup.POST("", middleware.RateLimitMiddleware(limiter), chatHandler.Chat)
			chatGroup.GET("/websocket-token", chatHandler.GetWebsocketToken)
		}
		// WebSocket 连接走路径令牌，消息级限流在处理器内完成
		r.GET("/chat/:token", chatHandler.Handle)

		admin := apiV1.Group("/admin")
		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin.Use(middleware.AuthMiddleware(jwtManager, userService), middleware.AdminAuthMiddleware())
		{
			admin.GET("/users/list", handler.NewAdminHandler(adminService).ListUsers)
			admin.PUT("/users/:userId/role", handler.NewAdminHandler(adminService).SetUserRole)
			admin.GET("/conversations", handler.NewAdminHandler(adminService).GetAllConversations)
			admin.POST("/search/reindex", handler.NewAdminHandler(adminService).ReindexSearch)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 先停掉周期性后台任务
	cancelWorkers()

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// Kafka 消费者在进程退出时随循环自然结束，
	// 如需更精细的控制，可以在 StartConsumer 中实现一个关闭通道。
	log.Info("服务已优雅关闭")
}
