package mongo

import (
	"ISS_Harvester/config"
	"ISS_Harvester/internal/models"
	"ISS_Harvester/pkg/database"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const metadataCollection = "metadata"

// Store 是 database.Store 接口的MongoDB实现。
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	metadata *metadataStore
}

// 确保 Store 实现了 database.Store 接口 (编译时检查)
var _ database.Store = (*Store)(nil)

// metadataStore 封装了与 "metadata" 集合相关的所有操作。
type metadataStore struct {
	coll *mongo.Collection
}

// NewStore 创建并返回一个新的 Store 实例，并建立与MongoDB的连接。
func NewStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	slog.Info("正在连接到 MongoDB...", "uri", cfg.Database.URI)
	clientCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOpts := options.Client().ApplyURI(cfg.Database.URI)
	client, err := mongo.Connect(clientCtx, clientOpts)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(clientCtx, nil); err != nil {
		return nil, err
	}
	slog.Info("MongoDB 连接成功")

	db := client.Database(cfg.Database.Name)
	return &Store{
		client:   client,
		db:       db,
		metadata: &metadataStore{coll: db.Collection(metadataCollection)},
	}, nil
}

func (s *Store) Metadata() database.MetadataStore {
	return s.metadata
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	slog.Info("正在确保数据库索引存在...")
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "nasaId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_nasaid_unique"),
		},
		{
			Keys:    bson.D{{Key: "capturedDate", Value: 1}},
			Options: options.Index().SetName("idx_captured_date"),
		},
		{
			Keys:    bson.D{{Key: "camera", Value: 1}},
			Options: options.Index().SetName("idx_camera"),
		},
	}
	if _, err := s.metadata.coll.Indexes().CreateMany(ctx, indexes); err != nil {
		slog.Error("为 metadata 集合创建索引失败", "error", err)
		return err
	}
	slog.Info("Metadata 集合索引已验证/创建。")
	return nil
}

// DropAllCollections 删除当前数据库中的所有已知集合，主要用于测试环境的重置。
func (s *Store) DropAllCollections(ctx context.Context) error {
	slog.Warn("正在删除所有集合...", "database", s.db.Name())
	if err := s.metadata.coll.Drop(ctx); err != nil {
		slog.Error("删除 metadata 集合失败", "error", err)
		return err
	}
	slog.Info("所有集合已成功删除。")
	return nil
}

// --- metadataStore 方法实现 ---

// ExistingIDs 使用 $in 操作符批量查询已存在的标识，只投影 nasaId 字段。
func (m *metadataStore) ExistingIDs(ctx context.Context, ids []models.Identity) (map[models.Identity]struct{}, error) {
	found := make(map[models.Identity]struct{})
	if len(ids) == 0 {
		return found, nil
	}

	filter := bson.M{"nasaId": bson.M{"$in": ids}}
	opts := options.Find().SetProjection(bson.M{"nasaId": 1})
	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("批量查询已存在的 NASA_ID 失败: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc struct {
			ID models.Identity `bson:"nasaId"`
		}
		if err := cursor.Decode(&doc); err == nil {
			found[doc.ID] = struct{}{}
		}
	}
	return found, cursor.Err()
}

// UpsertBatch 按 nasaId 批量 upsert，返回新插入与更新的文档总数。
func (m *metadataStore) UpsertBatch(ctx context.Context, items []models.EnrichedMetadata) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	writes := make([]mongo.WriteModel, 0, len(items))
	for _, item := range items {
		if !item.ID.Resolved() {
			continue
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"nasaId": item.ID}).
			SetReplacement(item).
			SetUpsert(true))
	}
	if len(writes) == 0 {
		return 0, nil
	}

	// SetOrdered(false) 表示即使其中某条指令出错，也会继续执行其他的
	opts := options.BulkWrite().SetOrdered(false)
	res, err := m.coll.BulkWrite(ctx, writes, opts)
	if err != nil {
		slog.Error("metadataStore BulkWrite 发生错误", "error", err)
		if res != nil {
			return res.UpsertedCount + res.ModifiedCount, err
		}
		return 0, err
	}
	return res.UpsertedCount + res.ModifiedCount, nil
}

func (m *metadataStore) GetByID(ctx context.Context, id models.Identity) (*models.EnrichedMetadata, error) {
	var doc models.EnrichedMetadata
	err := m.coll.FindOne(ctx, bson.M{"nasaId": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

// List 按补全时间倒序分页。
func (m *metadataStore) List(ctx context.Context, page, limit int) ([]models.EnrichedMetadata, int64, error) {
	var list []models.EnrichedMetadata
	skip := (page - 1) * limit

	findOpts := options.Find().
		SetSkip(int64(skip)).
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "enrichedAt", Value: -1}})
	cursor, err := m.coll.Find(ctx, bson.D{}, findOpts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	if err = cursor.All(ctx, &list); err != nil {
		return nil, 0, err
	}
	total, err := m.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}
