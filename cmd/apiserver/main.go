package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	redisDriver "github.com/redis/go-redis/v9"

	"chatcore/internal/config"
	"chatcore/internal/handlers/apiserver"
	appKafka "chatcore/internal/kafka"
	"chatcore/internal/middleware"
	appRedis "chatcore/internal/redis"
	"chatcore/internal/services"
	"chatcore/internal/storage"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	log.Println("API 服务器配置加载成功。")

	// 2. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	log.Println("API 服务器数据库连接成功。")

	if err := storage.AutoMigrateTables(db); err != nil {
		log.Printf("警告：API 服务器数据库表迁移可能失败: %v", err)
	} else {
		log.Println("API 服务器数据库表迁移成功。")
	}

	// 3. 初始化 Redis Client（presence 存储）
	redisClient := redisDriver.NewClient(&redisDriver.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("无法连接到 Redis: %v", err)
	}
	log.Println("成功连接到 Redis")

	presenceStore := appRedis.NewRedisPresenceStore(redisClient, cfg.Retention.PresenceTTL)

	// 4. 初始化 Repositories
	userRepo := storage.NewGormUserRepository(db)
	connRepo := storage.NewGormConnectionRepository(db)
	groupRepo := storage.NewGormGroupRepository(db)
	dmRepo := storage.NewGormDirectMessageRepository(db)
	groupMsgRepo := storage.NewGormGroupMessageRepository(db)
	notifRepo := storage.NewGormNotificationRepository(db)

	// 5. 初始化 Kafka Producer
	kfkProducer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka)
	if err != nil {
		log.Fatalf("无法创建 Kafka 生产者: %v", err)
	}
	defer kfkProducer.Close()
	log.Println("Kafka 生产者初始化成功 (API Server)。")

	// 6. 初始化 Services
	userService := services.NewUserService(userRepo, presenceStore)
	connService := services.NewConnectionService(db, userRepo, connRepo, notifRepo, kfkProducer, cfg.Kafka)
	groupService := services.NewGroupService(db, groupRepo, userRepo, connRepo, notifRepo, groupMsgRepo)
	messageService := services.NewMessageService(dmRepo, userRepo, kfkProducer, cfg.Kafka, cfg.Retention)
	groupMsgService := services.NewGroupMessageService(db, groupMsgRepo, groupRepo, userRepo, kfkProducer, cfg.Kafka, cfg.Retention)
	notifService := services.NewNotificationService(notifRepo)

	// 7. 初始化 Handlers
	userHandler := apiserver.NewUserHandler(userService)
	connHandler := apiserver.NewConnectionHandler(connService)
	groupHandler := apiserver.NewGroupHandler(groupService)
	messageHandler := apiserver.NewMessageHandler(messageService)
	groupMsgHandler := apiserver.NewGroupMessageHandler(groupMsgService)
	notifHandler := apiserver.NewNotificationHandler(notifService)

	// 8. 设置 HTTP 路由
	r := mux.NewRouter()
	authMW := middleware.AuthMiddleware(cfg.Auth)

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(authMW)

	// 用户与在线状态路由
	apiRouter.HandleFunc("/users/sync", userHandler.SyncProfileHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/users/me", userHandler.GetMyProfileHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/users/me", userHandler.UpdateMyProfileHandler).Methods(http.MethodPut)
	apiRouter.HandleFunc("/users/me/status", userHandler.SetStatusHandler).Methods(http.MethodPut)
	apiRouter.HandleFunc("/users/me/heartbeat", userHandler.HeartbeatHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/users/search", userHandler.SearchUsersHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/users/{userID}/status", userHandler.GetStatusHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/users/{userID}", userHandler.GetUserProfileHandler).Methods(http.MethodGet)

	// 连接路由
	connRouter := apiRouter.PathPrefix("/connections").Subrouter()
	connRouter.HandleFunc("", connHandler.RequestConnectionHandler).Methods(http.MethodPost)
	connRouter.HandleFunc("", connHandler.ListConnectionsHandler).Methods(http.MethodGet)
	connRouter.HandleFunc("/pending", connHandler.ListPendingRequestsHandler).Methods(http.MethodGet)
	connRouter.HandleFunc("/{connectionID:[0-9]+}/accept", connHandler.AcceptConnectionHandler).Methods(http.MethodPost)
	connRouter.HandleFunc("/{connectionID:[0-9]+}/reject", connHandler.RejectConnectionHandler).Methods(http.MethodPost)

	// 群组路由
	apiRouter.HandleFunc("/groups", groupHandler.CreateGroupHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/groups", groupHandler.GetMyGroupsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/groups/{groupID:[0-9]+}", groupHandler.GetGroupHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/groups/{groupID:[0-9]+}", groupHandler.UpdateGroupHandler).Methods(http.MethodPut)
	apiRouter.HandleFunc("/groups/{groupID:[0-9]+}/members", groupHandler.AddMemberHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/groups/{groupID:[0-9]+}/members", groupHandler.GetGroupMembersHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/groups/{groupID:[0-9]+}/members/{userID}/promote", groupHandler.PromoteMemberHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/groups/{groupID:[0-9]+}/members/{userID}", groupHandler.RemoveMemberHandler).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/groups/{groupID:[0-9]+}/leave", groupHandler.LeaveGroupHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/groups/{groupID:[0-9]+}/transfer", groupHandler.TransferOwnershipHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/group-invites/{notificationID:[0-9]+}", groupHandler.RespondToInviteHandler).Methods(http.MethodPost)

	// 一对一消息路由
	apiRouter.HandleFunc("/messages", messageHandler.SendMessageHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/messages/{messageID:[0-9]+}", messageHandler.DeleteMessageHandler).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/conversations/{userID}/messages", messageHandler.GetConversationHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/conversations/{userID}/delivered", messageHandler.MarkDeliveredHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/conversations/{userID}/read", messageHandler.MarkReadHandler).Methods(http.MethodPost)

	// 群消息路由
	apiRouter.HandleFunc("/groups/{groupID:[0-9]+}/messages", groupMsgHandler.SendGroupMessageHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/groups/{groupID:[0-9]+}/messages", groupMsgHandler.GetGroupMessagesHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/groups/{groupID:[0-9]+}/messages/delivered", groupMsgHandler.MarkGroupDeliveredHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/groups/{groupID:[0-9]+}/messages/read", groupMsgHandler.MarkGroupReadHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/group-messages/{messageID:[0-9]+}", groupMsgHandler.DeleteGroupMessageHandler).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/mentions", groupMsgHandler.ListMentionsHandler).Methods(http.MethodGet)

	// 通知路由
	notifRouter := apiRouter.PathPrefix("/notifications").Subrouter()
	notifRouter.HandleFunc("", notifHandler.ListNotificationsHandler).Methods(http.MethodGet)
	notifRouter.HandleFunc("", notifHandler.ClearNotificationsHandler).Methods(http.MethodDelete)
	notifRouter.HandleFunc("/read-all", notifHandler.MarkAllReadHandler).Methods(http.MethodPost)
	notifRouter.HandleFunc("/{notificationID:[0-9]+}/read", notifHandler.MarkReadHandler).Methods(http.MethodPost)
	notifRouter.HandleFunc("/{notificationID:[0-9]+}", notifHandler.DeleteNotificationHandler).Methods(http.MethodDelete)

	// 9. 初始化并启动 Kafka 消费者（连接请求异步落库）
	connConsumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka)
	if err != nil {
		log.Fatalf("无法创建连接请求 Kafka 消费者: %v", err)
	}
	defer connConsumer.Close()

	consumerCtx, cancelConsumers := context.WithCancel(context.Background())
	defer cancelConsumers()

	go func() {
		topics := []string{cfg.Kafka.ConnectionRequestTopic}
		log.Printf("Kafka 连接请求消费者启动，监听 topic: %s, GroupID: %s", cfg.Kafka.ConnectionRequestTopic, cfg.Kafka.ConsumerGroup)
		err := connConsumer.Consume(consumerCtx, topics, cfg.Kafka.ConsumerGroup, connService.ProcessConnectionRequest)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Kafka 连接请求消费者错误: %v", err)
		}
		log.Println("Kafka 连接请求消费者 goroutine 已停止。")
	}()

	// 10. 启动 HTTP 服务器并实现优雅关闭
	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)

	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.APIServer.CORS.MaxAge),
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	corsHandler := handlers.CORS(corsOptions...)(r)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      corsHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Second * 60,
	}

	go func() {
		log.Printf("API 服务器启动于 %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API 服务器启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("收到关闭信号，正在关闭 API 服务器...")

	cancelConsumers()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("API 服务器强制关闭: %v", err)
	}

	log.Println("API 服务器已成功关闭")
}
