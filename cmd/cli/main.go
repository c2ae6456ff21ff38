package main

import (
	"ISS_Harvester/config"
	"ISS_Harvester/internal/storage"
	"ISS_Harvester/pkg/catalog"
	"ISS_Harvester/pkg/logger"
	"ISS_Harvester/pkg/maintenance"
	"ISS_Harvester/pkg/progress"
	"ISS_Harvester/pkg/scanner"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
)

func main() {
	// --- 1. 定义命令行参数 ---
	action := flag.String("action", "", "要执行的操作: plan, harvest, camera-manifest, dump-database")
	configDir := flag.String("config", ".", "config.yaml 所在目录")
	output := flag.String("output", "backups", "camera-manifest 和 dump-database 的输出目录")
	limit := flag.Int("limit", -1, "覆盖 catalog.limit，-1 表示使用配置文件中的值")

	flag.Parse()

	if *action == "" {
		fmt.Println("错误: 必须提供 -action 参数。")
		flag.Usage()
		os.Exit(1)
	}

	// --- 2. 初始化应用核心组件 ---
	if err := config.LoadConfig(*configDir); err != nil {
		log.Fatalf("FATAL: 无法加载配置: %v", err)
	}
	if err := logger.InitLogger(); err != nil {
		log.Fatalf("FATAL: 无法初始化日志: %v", err)
	}
	if *limit >= 0 {
		config.C.Catalog.Limit = *limit
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 3. 根据 action 参数执行相应的功能 ---
	switch *action {
	case "plan":
		client := catalog.NewClient(config.C.Catalog)
		for i, d := range scanner.PlanFromConfig(config.C.Catalog) {
			fmt.Printf("[%d] 来源: %s  时间窗口: %q - %q\n    %s\n", i+1, d.Source, d.Window.TimeLowerBound, d.Window.TimeUpperBound, client.URL(d))
		}

	case "harvest":
		if err := runHarvest(ctx); err != nil {
			slog.Error("采集任务失败", "error", err)
			os.Exit(1)
		}

	case "camera-manifest":
		m := newMaintenance()
		defer m.Close()
		path, err := m.GenerateCameraManifest(ctx, config.C.Enricher.CameraDataDir, absPath(*output))
		if err != nil {
			slog.Error("生成相机元数据清单失败", "error", err)
			os.Exit(1)
		}
		slog.Info("相机元数据清单生成成功！", "path", path)

	case "dump-database":
		m := newMaintenance()
		defer m.Close()
		var err error
		switch config.C.Database.Driver {
		case "sqlite":
			var path string
			path, err = m.BackupSQLite(ctx, config.C.Database.SQLitePath, absPath(*output))
			slog.Info("SQLite 备份文件", "path", path)
		case "mongo":
			err = m.BackupDatabase(ctx, config.C.Database.URI, config.C.Database.Name, absPath(*output))
		default:
			err = fmt.Errorf("数据库驱动 %q 不支持备份", config.C.Database.Driver)
		}
		if err != nil {
			slog.Error("数据库备份失败", "error", err)
			os.Exit(1)
		}
		slog.Info("数据库备份成功！")

	default:
		fmt.Printf("错误: 未知的 action '%s'\n", *action)
		flag.Usage()
		os.Exit(1)
	}
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

func newMaintenance() maintenance.Maintenance {
	m, err := maintenance.NewMaintenance(config.C.Logger.Path, config.C.Batch.ConcurrencyLimit)
	if err != nil {
		slog.Error("FATAL: 无法创建维护模块", "error", err)
		os.Exit(1)
	}
	return m
}

// runHarvest 在前台执行一次采集。Ctrl+C 会在当前分块结束后停止，已补全的记录照常保存。
func runHarvest(ctx context.Context) error {
	db, err := storage.Open(ctx, config.C)
	if err != nil {
		return err
	}
	deps := scanner.Deps{}
	if db != nil {
		defer db.Close(context.Background())
		deps.Store = db
	}

	orchestrator, err := scanner.NewOrchestrator(config.C, deps)
	if err != nil {
		return err
	}
	defer orchestrator.Close()

	agg := progress.NewAggregator()
	updates := agg.Subscribe(16)
	go func() {
		for s := range updates {
			fmt.Printf("\r进度: %5.1f%% (%s)", s.UnifiedPercent, s.Phase)
		}
	}()
	go func() {
		<-ctx.Done()
		agg.Cancel()
	}()

	// 取消只通过聚合器传递，使进行中的分块可以正常结束
	st, err := orchestrator.Run(context.WithoutCancel(ctx), scanner.RunOptions{Progress: agg})
	agg.Close()
	fmt.Println()
	if st != nil {
		summary, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(summary))
	}
	return err
}
