package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatlink-backend/internal/config"
	"chatlink-backend/internal/database"
	chatHandler "chatlink-backend/internal/handler/http/chat"
	groupHandler "chatlink-backend/internal/handler/http/group"
	presenceHandler "chatlink-backend/internal/handler/http/presence"
	storageHandler "chatlink-backend/internal/handler/http/storage"
	userHandler "chatlink-backend/internal/handler/http/user"
	wsHandler "chatlink-backend/internal/handler/ws"
	"chatlink-backend/internal/middleware"
	"chatlink-backend/internal/repository/cassandra"
	"chatlink-backend/internal/repository/cockroach"
	redisRepo "chatlink-backend/internal/repository/redis"
	callService "chatlink-backend/internal/service/call"
	chatService "chatlink-backend/internal/service/chat"
	groupService "chatlink-backend/internal/service/group"
	presenceService "chatlink-backend/internal/service/presence"
	storageService "chatlink-backend/internal/service/storage"
	userService "chatlink-backend/internal/service/user"
	"chatlink-backend/pkg/jwt"
	"chatlink-backend/pkg/logger"
)

func main() {
	logger.InitDefault()
	defer logger.Sync()

	cfg := config.LoadConfig()

	if cfg.Env == "production" && len(cfg.JWTSecret) < 32 {
		logger.Fatal("JWT_SECRET must be at least 32 characters in production")
	}
	jwtManager := jwt.NewJWTManager(cfg.JWTSecret, cfg.AccessTokenTTL)

	// Cassandra holds the message log
	cassandraDB, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:    cfg.CassandraHosts,
		Keyspace: cfg.CassandraKeyspace,
		Username: cfg.CassandraUser,
		Password: cfg.CassandraPassword,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		logger.Fatal("failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	logger.Info("connected to Cassandra")

	// Redis backs the presence mirror and the cross-node relay
	database.InitRedisMetrics()
	redisDB, err := database.NewRedisDB(&database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       0,
		PoolSize: 10,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	go redisDB.StartHealthCheck(context.Background(), 10*time.Second)
	logger.Info("connected to Redis")

	// CockroachDB holds users, blocks, and groups
	cockroachDB, err := database.NewDB(context.Background(), cfg.GetDBConnectionString(), database.DefaultDBConfig())
	if err != nil {
		logger.Fatal("failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()
	logger.Info("connected to CockroachDB")

	// Repositories
	messageRepo := cassandra.NewMessageRepository(cassandraDB.Session)
	userRepo := cockroach.NewUserRepository(cockroachDB.Pool)
	blockRepo := cockroach.NewBlockedUserRepository(cockroachDB.Pool)
	groupRepo := cockroach.NewGroupRepository(cockroachDB.Pool)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB)

	// Presence core: registry is authoritative, mirror and relay follow
	registry := presenceService.NewRegistry(cfg.OfflineGrace)
	publisher := presenceService.NewPublisher(registry, presenceRepo, logger.Log)
	registry.SetTransitionHandler(publisher.HandleTransition)

	bridge := wsHandler.NewBridge(redisDB.Client, registry)
	bridge.SetPresenceHandler(publisher.BroadcastSnapshot)
	registry.SetRelay(bridge)
	publisher.SetRelay(bridge)
	defer bridge.Close()

	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	defer stopBridge()
	bridge.Start(bridgeCtx)

	// Services
	router := chatService.NewRouter(registry, messageRepo, blockRepo, groupRepo, logger.Log)
	chatSvc := chatService.NewService(router, logger.Log)
	coordinator := callService.NewCoordinator(registry, blockRepo, cfg.RingTimeout, logger.Log)
	groupSvc := groupService.NewService(groupRepo, registry, router, logger.Log)
	userSvc := userService.NewService(userRepo, blockRepo, registry, router, logger.Log)

	minioClient, err := storageService.NewMinioClient(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOUseSSL)
	if err != nil {
		logger.Fatal("failed to create MinIO client", zap.Error(err))
	}
	storageSvc, err := storageService.NewService(context.Background(), minioClient, cfg.MinIOBucket, logger.Log)
	if err != nil {
		logger.Fatal("failed to initialize attachment storage", zap.Error(err))
	}

	// Handlers
	chatHdlr := chatHandler.NewHandler(chatSvc)
	groupHdlr := groupHandler.NewHandler(groupSvc)
	userHdlr := userHandler.NewHandler(userSvc)
	storageHdlr := storageHandler.NewHandler(storageSvc)
	presenceHdlr := presenceHandler.NewHandler(registry, presenceRepo)
	hub := wsHandler.NewHub(registry, router, coordinator, groupSvc, bridge)

	// Router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.SetTrustedProxies(nil)

	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.CORSMiddleware())
	engine.Use(middleware.PrometheusMiddleware())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "chat-service",
			"time":    time.Now().UTC(),
		})
	})
	engine.GET("/metrics", middleware.MetricsHandler())

	v1 := engine.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		v1.POST("/messages/direct/:userID", chatHdlr.SendDirect)
		v1.GET("/messages/direct/:userID", chatHdlr.DirectHistory)
		v1.DELETE("/messages/direct/:userID", chatHdlr.ClearDirect)
		v1.POST("/messages/group/:groupID", chatHdlr.SendGroup)
		v1.GET("/messages/group/:groupID", chatHdlr.GroupHistory)
		v1.DELETE("/messages/group/:groupID", chatHdlr.ClearGroup)

		v1.POST("/groups", groupHdlr.Create)
		v1.GET("/groups", groupHdlr.List)
		v1.GET("/groups/:groupID", groupHdlr.Get)
		v1.POST("/groups/:groupID/join", groupHdlr.Join)
		v1.POST("/groups/:groupID/leave", groupHdlr.Leave)
		v1.DELETE("/groups/:groupID", groupHdlr.Delete)

		v1.GET("/users", userHdlr.Contacts)
		v1.GET("/users/search", userHdlr.Search)
		v1.GET("/users/blocked", userHdlr.Blocked)
		v1.GET("/users/:userID", userHdlr.Get)
		v1.POST("/users/:userID/block", userHdlr.Block)
		v1.DELETE("/users/:userID/block", userHdlr.Unblock)

		v1.POST("/attachments", storageHdlr.Upload)
		v1.GET("/attachments/url", storageHdlr.DownloadURL)
		v1.DELETE("/attachments", storageHdlr.Delete)

		v1.GET("/presence/online", presenceHdlr.Online)
		v1.GET("/presence/:userID", presenceHdlr.Status)

		v1.GET("/ws", hub.ServeWS)
	}

	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	go func() {
		logger.Info("chat service starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}
