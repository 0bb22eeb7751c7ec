package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"collabPlatform/backend/config"
	"collabPlatform/backend/internal/cache"
	"collabPlatform/backend/internal/collab"
	"collabPlatform/backend/internal/eventbus"
	"collabPlatform/backend/internal/httpapi/handlers"
	"collabPlatform/backend/internal/httpapi/middleware"
	"collabPlatform/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: %+v", cfg)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	// 事件骨干：Redis Streams 日志 + 校验/路由的发布器
	eventLog := eventbus.NewRedisLog(rdb)
	publisher := eventbus.NewPublisher(eventLog)
	monitor := eventbus.NewMonitor(eventLog, cfg.Worker.DeadLetterThreshold)

	// 会话/协作面：内存 presence + 房间 hub + 协作引擎
	presence := cache.NewPresenceTracker()
	hub := ws.NewHub(presence)
	svc := collab.NewService()
	wsSem := collab.NewSemaphoreControl(100)

	manager := ws.NewManager(hub, svc, publisher, wsSem)

	r := gin.New()
	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// 路由
	collabGroup := r.Group("/collab")
	// 鉴权中间件：从 Authorization 或 ?token= 提取 token，调用身份服务 verify，写入 userId/username
	collabGroup.Use(middleware.AuthMiddleware(cfg.Auth.Path))
	collabGroup.GET("/ws", manager.WebSocketConnect)

	r.GET("/collab/healthz", handlers.Health)
	r.GET("/collab/metrics", handlers.Metrics(monitor))

	port := cfg.Running.Port
	_ = r.Run(fmt.Sprintf(":%d", port))
}
