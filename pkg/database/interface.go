package database

import (
	"ISS_Harvester/internal/models"
	"context"
)

// Store 是一个顶层接口，它组合了所有特定数据模型的存储接口。
type Store interface {
	Metadata() MetadataStore
	EnsureIndexes(ctx context.Context) error
	DropAllCollections(ctx context.Context) error
	Close(ctx context.Context) error
}

// ExistenceChecker 批量查询哪些标识已经处理过。
type ExistenceChecker interface {
	ExistingIDs(ctx context.Context, ids []models.Identity) (map[models.Identity]struct{}, error)
}

// MetadataStore 定义了所有与 EnrichedMetadata 相关的数据库操作。
type MetadataStore interface {
	ExistenceChecker
	UpsertBatch(ctx context.Context, items []models.EnrichedMetadata) (int64, error)
	GetByID(ctx context.Context, id models.Identity) (*models.EnrichedMetadata, error)
	List(ctx context.Context, page, limit int) ([]models.EnrichedMetadata, int64, error)
}
