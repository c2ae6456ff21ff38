// 文件: cmd/manager-server/main.go
package main

import (
	"ISS_Harvester/config"
	"ISS_Harvester/internal/api"
	"ISS_Harvester/internal/storage"
	"ISS_Harvester/internal/task"
	"ISS_Harvester/pkg/logger"
	"ISS_Harvester/pkg/scanner"
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	// --- 1. 初始化 ---
	if err := config.LoadConfig("."); err != nil {
		log.Fatalf("FATAL: 无法加载配置: %v", err)
	}
	if err := logger.InitLogger(); err != nil {
		log.Fatalf("FATAL: 无法初始化日志: %v", err)
	}
	slog.Info("应用启动")
	defer slog.Info("应用关闭")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 2. 连接数据库 ---
	db, err := storage.Open(ctx, config.C)
	if err != nil {
		slog.Error("FATAL: 无法初始化元数据存储", "error", err)
		os.Exit(1)
	}
	deps := scanner.Deps{Config: config.Current}
	if db != nil {
		defer db.Close(context.Background())
		deps.Store = db
		slog.Info("数据库连接成功并已验证索引", "driver", config.C.Database.Driver)
	} else {
		slog.Warn("未配置数据库，所有记录都将被视为新图片")
	}

	// --- 3. 创建核心服务实例 ---
	orchestrator, err := scanner.NewOrchestrator(config.C, deps)
	if err != nil {
		slog.Error("FATAL: 无法创建采集协调器", "error", err)
		os.Exit(1)
	}
	defer orchestrator.Close()

	taskManager := task.NewManager(orchestrator, config.Current)
	slog.Info("任务管理器创建成功")

	// --- 4. 设置并启动HTTP服务器 ---
	router := api.RegisterRoutes(taskManager, db)

	server := &http.Server{
		Addr:         config.C.Server.Port,
		Handler:      router,
		ReadTimeout:  config.C.Server.Timeout,
		WriteTimeout: config.C.Server.Timeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP服务器正在启动...", "地址", config.C.Server.Port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("无法启动HTTP服务器", "error", err)
		os.Exit(1)
	}
}
