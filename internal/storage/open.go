// Package storage 根据配置选择元数据存储的实现。
package storage

import (
	"ISS_Harvester/config"
	"ISS_Harvester/pkg/database"
	"ISS_Harvester/pkg/database/mongo"
	"ISS_Harvester/pkg/database/sqlite"
	"context"
	"fmt"
)

// Open 按 database.driver 打开存储并确保索引存在。driver 为 "none" 时返回 (nil, nil)，
// 此时所有记录都被视为新图片，补全结果只写入下载清单。
func Open(ctx context.Context, cfg *config.Config) (database.Store, error) {
	var (
		db  database.Store
		err error
	)
	switch cfg.Database.Driver {
	case "none":
		return nil, nil
	case "sqlite":
		db, err = sqlite.Open(ctx, cfg.Database.SQLitePath)
	case "mongo", "":
		db, err = mongo.NewStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("未知的数据库驱动: %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("无法连接到数据库: %w", err)
	}
	if err := db.EnsureIndexes(ctx); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("无法创建/验证数据库索引: %w", err)
	}
	return db, nil
}
