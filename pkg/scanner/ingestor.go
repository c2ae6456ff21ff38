package scanner

import (
	"ISS_Harvester/internal/models"
	"ISS_Harvester/pkg/database"
	"ISS_Harvester/pkg/logger"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	ingestorLogName  = "ingestor"
	defaultBatchSize = 100
)

// MetadataIngestor 定义了数据入库器的行为接口：持久化补全结果并写出下载清单。
type MetadataIngestor interface {
	Sync(ctx context.Context, items []models.EnrichedMetadata) (stored int64, err error)
	WriteManifest(items []models.EnrichedMetadata, taskID string) (path string, err error)
	Close()
}

type storeIngestor struct {
	store       database.MetadataStore
	manifestDir string
	batchSize   int
	logger      *slog.Logger
	logFile     *logger.ChannelFile
	now         func() time.Time
}

// NewIngestor 创建一个新的入库器实例。store 为 nil 时只写清单不入库。
func NewIngestor(logDir string, store database.MetadataStore, manifestDir string, batchSize int) (MetadataIngestor, error) {
	ch, err := logger.OpenChannelFile(logDir, ingestorLogName)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &storeIngestor{
		store:       store,
		manifestDir: manifestDir,
		batchSize:   batchSize,
		logger:      ch.Logger,
		logFile:     ch,
		now:         time.Now,
	}, nil
}

func (m *storeIngestor) Close() {
	if m.logFile != nil {
		m.logFile.Close()
	}
}

// Sync 分批 upsert。某一批失败不会阻止后续批次，返回遇到的第一个错误。
func (m *storeIngestor) Sync(ctx context.Context, items []models.EnrichedMetadata) (int64, error) {
	if m.store == nil {
		m.logger.Warn("数据库存储未初始化，跳过入库")
		return 0, nil
	}

	var stored int64
	var firstErr error
	for start := 0; start < len(items); start += m.batchSize {
		batch := items[start:min(start+m.batchSize, len(items))]
		n, err := m.store.UpsertBatch(ctx, batch)
		stored += n
		if err != nil {
			m.logger.Error("批量入库失败", "offset", start, "size", len(batch), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("批量入库失败 (offset %d): %w", start, err)
			}
		}
	}
	m.logger.Info("入库完成", "items", len(items), "stored", stored)
	return stored, firstErr
}

// WriteManifest 把元数据以缩进 JSON 写入 manifestDir，供外部下载进程读取。
func (m *storeIngestor) WriteManifest(items []models.EnrichedMetadata, taskID string) (string, error) {
	if err := os.MkdirAll(m.manifestDir, 0755); err != nil {
		return "", fmt.Errorf("无法创建清单目录: %w", err)
	}
	name := fmt.Sprintf("metadata_%s", m.now().UTC().Format("20060102T150405"))
	if taskID != "" {
		name += "_" + taskID
	}
	path := filepath.Join(m.manifestDir, name+".json")

	if items == nil {
		items = []models.EnrichedMetadata{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化下载清单失败: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("写入下载清单失败: %w", err)
	}
	m.logger.Info("下载清单已写入", "path", path, "items", len(items))
	return path, nil
}
