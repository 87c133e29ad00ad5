package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatcore/internal/config"
	"chatcore/internal/services"
	"chatcore/internal/storage"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	log.Println("Sweeper 配置加载成功。")

	// 2. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	log.Println("Sweeper 数据库连接成功。")

	// 3. 初始化 Repositories 和 Services
	userRepo := storage.NewGormUserRepository(db)
	connRepo := storage.NewGormConnectionRepository(db)
	groupRepo := storage.NewGormGroupRepository(db)
	dmRepo := storage.NewGormDirectMessageRepository(db)
	groupMsgRepo := storage.NewGormGroupMessageRepository(db)
	notifRepo := storage.NewGormNotificationRepository(db)

	// 账号清理要沿群组退出的正常路径走（群主交接、群解散等规则）
	groupService := services.NewGroupService(db, groupRepo, userRepo, connRepo, notifRepo, groupMsgRepo)
	cleanupService := services.NewCleanupService(db, userRepo, dmRepo, groupRepo, groupService, cfg.Retention)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. 周期性清理任务
	sweepTicker := time.NewTicker(cfg.Retention.SweepInterval)
	defer sweepTicker.Stop()
	inactiveTicker := time.NewTicker(cfg.Retention.InactiveInterval)
	defer inactiveTicker.Stop()

	runMessageSweep := func() {
		removed, err := cleanupService.CleanupDeletedMessages(ctx)
		if err != nil {
			log.Printf("清理已删除消息失败: %v", err)
			return
		}
		log.Printf("消息清理完成，移除 %d 条", removed)
	}
	runAccountSweep := func() {
		removed, err := cleanupService.CleanupInactiveAccounts(ctx)
		if err != nil {
			log.Printf("清理不活跃账号失败: %v", err)
			return
		}
		log.Printf("账号清理完成，移除 %d 个", removed)
	}

	// 启动时先各跑一轮
	runMessageSweep()
	runAccountSweep()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("Sweeper 已启动，消息清理间隔 %s，账号清理间隔 %s", cfg.Retention.SweepInterval, cfg.Retention.InactiveInterval)

	for {
		select {
		case <-sweepTicker.C:
			runMessageSweep()
		case <-inactiveTicker.C:
			runAccountSweep()
		case <-quit:
			log.Println("收到关闭信号，Sweeper 退出。")
			cancel()
			return
		}
	}
}
