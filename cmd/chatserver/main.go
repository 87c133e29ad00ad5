package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	confluentKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	redisDriver "github.com/redis/go-redis/v9"

	"chatcore/internal/config"
	"chatcore/internal/events"
	"chatcore/internal/handlers/chatserver"
	appKafka "chatcore/internal/kafka"
	appRedis "chatcore/internal/redis"
	"chatcore/internal/services"
	"chatcore/internal/storage"
	"chatcore/internal/websocket"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	log.Println("Chat 服务器配置加载成功。")

	// 2. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	log.Println("Chat 服务器数据库连接成功。")

	// 3. 初始化 Redis（presence 存储）
	redisClient := redisDriver.NewClient(&redisDriver.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("无法连接到 Redis: %v", err)
	}
	presenceStore := appRedis.NewRedisPresenceStore(redisClient, cfg.Retention.PresenceTTL)

	// 4. 初始化 Kafka Producer（回执处理后续可能要发事件）
	kfkProducer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka)
	if err != nil {
		log.Fatalf("无法创建 Kafka 生产者: %v", err)
	}
	defer kfkProducer.Close()
	log.Println("Kafka 生产者初始化成功 (ChatServer)。")

	// 5. 初始化 Repositories（回执确认需要）
	userRepo := storage.NewGormUserRepository(db)
	groupRepo := storage.NewGormGroupRepository(db)
	dmRepo := storage.NewGormDirectMessageRepository(db)
	groupMsgRepo := storage.NewGormGroupMessageRepository(db)

	// 6. 初始化 Services
	// ChatServer 只做事件投递和回执确认，其余服务不在这里装配
	userService := services.NewUserService(userRepo, presenceStore)
	messageService := services.NewMessageService(dmRepo, userRepo, kfkProducer, cfg.Kafka, cfg.Retention)
	groupMsgService := services.NewGroupMessageService(db, groupMsgRepo, groupRepo, userRepo, kfkProducer, cfg.Kafka, cfg.Retention)

	// 7. 初始化 WebSocket Hub
	hub := websocket.NewHub()
	go hub.Run()
	log.Println("WebSocket Hub 已启动。")

	// 8. 初始化 WebSocket Handler
	wsHandler := chatserver.NewWebSocketHandler(hub, userService, messageService, groupMsgService, cfg)

	// 9. 初始化出站事件 Kafka 消费者
	outboundConsumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka)
	if err != nil {
		log.Fatalf("无法创建出站 Kafka 消费者: %v", err)
	}
	defer outboundConsumer.Close()

	consumerCtx, cancelConsumers := context.WithCancel(context.Background())
	defer cancelConsumers()

	// 出站 topic 是广播语义：每个投递节点各自独立消费全量事件
	deliveryGroup := appKafka.UniqueGroupID(cfg.Kafka.ConsumerGroup)

	go func() {
		log.Printf("Kafka 出站消费者 goroutine 启动，消费组 %s，监听 topic: %s", deliveryGroup, cfg.Kafka.OutgoingTopic)
		topics := []string{cfg.Kafka.OutgoingTopic}
		if err := outboundConsumer.Consume(consumerCtx, topics, deliveryGroup,
			func(ctx context.Context, kafkaMsg *confluentKafka.Message) error {
				var envelope events.Envelope
				if err := json.Unmarshal(kafkaMsg.Value, &envelope); err != nil {
					log.Printf("错误: 无法从 Kafka 反序列化出站事件: %v, 原始值: %s", err, string(kafkaMsg.Value))
					return nil // 坏消息不应阻塞消费者
				}
				hub.Deliver(&envelope)
				return nil
			}); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Kafka 出站消费者错误: %v", err)
		}
		log.Println("Kafka 出站消费者 goroutine 已停止。")
	}()

	// 10. 配置 HTTP 服务器路由
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.WebSocketPath, wsHandler.ServeWS)

	// 11. 启动 HTTP 服务器
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:           serverAddr,
		Handler:        mux,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		log.Printf("Chat HTTP 服务器启动于 %s, WebSocket 路径: %s", serverAddr, cfg.Server.WebSocketPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Chat 服务器启动失败: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Chat 服务器准备关闭...")

	cancelConsumers()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("Chat 服务器关闭失败: %v", err)
	}
	log.Println("Chat 服务器已优雅关闭。")
}
