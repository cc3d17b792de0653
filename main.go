package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-mirror-service/internal/config"
	"chat-mirror-service/internal/db"
	"chat-mirror-service/internal/directory"
	"chat-mirror-service/internal/handlers"
	"chat-mirror-service/internal/middleware"
	"chat-mirror-service/internal/mirror"
	"chat-mirror-service/internal/observability"
	"chat-mirror-service/internal/rabbitmq"
	"chat-mirror-service/internal/receipts"
	"chat-mirror-service/internal/repositories"
	"chat-mirror-service/internal/status"
	"chat-mirror-service/internal/sync"
	"chat-mirror-service/internal/telemetry"
	"chat-mirror-service/internal/work"
	"chat-mirror-service/internal/ws"
)

const serviceName = "chat-mirror-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownTracing, err := telemetry.InitTracing(context.Background(), cfg.OTLPEndpoint, serviceName)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}

	database, err := db.Connect(cfg.DB.DSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	mirrorClient, err := mirror.Connect(cfg.Mirror.URI, cfg.Mirror.Database)
	if err != nil {
		log.Fatalf("failed to connect to mirror store: %v", err)
	}

	dir := directory.NewClient(cfg.Directory.BaseURL)

	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	readStateRepo := repositories.NewReadStateRepo(database)
	blockRepo := repositories.NewBlockRepo(database)

	bridge := sync.NewBridge(mirrorClient, roomRepo, messageRepo, dir, cfg.Mirror.ImportLimit)
	engine := status.NewEngine(messageRepo)
	resolver := receipts.NewResolver(bridge, roomRepo, messageRepo)
	pool := work.NewPool(cfg.Mirror.PushWorkers)

	if publisher, err := observability.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange); err != nil {
		log.Printf("event publishing disabled: %v", err)
	} else {
		observability.SetPublisher(publisher)
		defer publisher.Close()
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	audit := telemetry.NewAuditEmitter(auditPublisher, "audit.chat", serviceName, os.Getenv("ENVIRONMENT"))

	hub := ws.NewHub()
	presence := ws.NewPresence()
	pipeline := ws.NewPipeline(roomRepo, messageRepo, readStateRepo, blockRepo, engine, bridge, hub, presence, pool)

	roomHandler := handlers.NewRoomHandler(roomRepo, messageRepo, readStateRepo, dir, bridge, pool, audit)
	messageHandler := handlers.NewMessageHandler(roomRepo, messageRepo, readStateRepo, engine, resolver, dir, bridge, pipeline, hub, pool, audit)
	blockHandler := handlers.NewBlockHandler(blockRepo, dir, bridge, pool, audit)
	roomWS := ws.NewRoomSocketHandler(hub, presence, roomRepo, engine, pipeline, dir)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(dir)

	router.GET("/rooms", authMiddleware, roomHandler.ListRooms)
	router.POST("/rooms/start", authMiddleware, roomHandler.StartPrivateRoom)
	router.POST("/groups", authMiddleware, roomHandler.CreateGroup)
	router.POST("/rooms/:room_id/members", authMiddleware, roomHandler.AddMember)
	router.DELETE("/rooms/:room_id/members/:user_id", authMiddleware, roomHandler.RemoveMember)
	router.DELETE("/rooms/:room_id", authMiddleware, roomHandler.DeleteRoom)
	router.DELETE("/rooms/:room_id/me", authMiddleware, roomHandler.HideRoom)
	router.PUT("/rooms/:room_id/archive", authMiddleware, roomHandler.SetArchived)

	router.GET("/rooms/:room_id/messages", authMiddleware, messageHandler.GetRoomMessages)
	router.POST("/rooms/:room_id/messages", authMiddleware, messageHandler.PostMessage)
	router.DELETE("/rooms/:room_id/messages/:message_id/me", authMiddleware, messageHandler.DeleteMessageForMe)
	router.DELETE("/rooms/:room_id/messages/:message_id/all", authMiddleware, messageHandler.DeleteMessageForAll)

	router.POST("/internal/blocks", blockHandler.CreateBlock)
	router.DELETE("/internal/blocks", blockHandler.DeleteBlock)

	router.GET("/ws/rooms/:room_id", roomWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("listening on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	pool.Shutdown()
	if err := mirrorClient.Close(ctx); err != nil {
		log.Printf("mirror close: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
}
