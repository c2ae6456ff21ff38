// Package sqlite 是 database.Store 的 SQLite 实现，兼容旧版 metadata.db 中的 Image 表。
package sqlite

import (
	"ISS_Harvester/internal/models"
	"ISS_Harvester/pkg/database"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite 单条语句的参数数量有限，IN 查询按批拆分。
const maxParams = 500

type Store struct {
	db       *sql.DB
	path     string
	metadata *metadataStore
}

var _ database.Store = (*Store)(nil)

type metadataStore struct {
	db *sql.DB
}

// Open 打开或创建数据库文件，并确保 Image 表存在。
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("无法创建数据库目录: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开 sqlite 数据库失败: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("执行 %q 失败: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path, metadata: &metadataStore{db: db}}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("SQLite 数据库已打开", "path", path)
	return s, nil
}

func (s *Store) Metadata() database.MetadataStore {
	return s.metadata
}

// EnsureIndexes 创建 Image 表。旧版数据库中的 Image 表以 image_id 为主键，
// 缺少的 metadata_json、enriched_at 列会被补上，nasa_id 尽量加唯一索引。
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS Image (
		nasa_id TEXT PRIMARY KEY,
		metadata_json TEXT,
		enriched_at TEXT
	)`)
	if err != nil {
		return fmt.Errorf("创建 Image 表失败: %w", err)
	}

	cols, err := s.columns(ctx)
	if err != nil {
		return err
	}
	if !cols["nasa_id"] {
		return fmt.Errorf("Image 表缺少 nasa_id 列，无法兼容")
	}
	for _, col := range []string{"metadata_json", "enriched_at"} {
		if cols[col] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, "ALTER TABLE Image ADD COLUMN "+col+" TEXT"); err != nil {
			return fmt.Errorf("为 Image 表添加 %s 列失败: %w", col, err)
		}
		slog.Info("已为旧版 Image 表添加列", "column", col, "path", s.path)
	}

	if _, err := s.db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_image_nasa_id ON Image(nasa_id)`); err != nil {
		// 旧数据中存在重复 nasa_id 时无法建唯一索引，写入仍按 nasa_id 覆盖
		slog.Warn("无法为 nasa_id 创建唯一索引", "path", s.path, "error", err)
	}
	return nil
}

func (s *Store) columns(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('Image')`)
	if err != nil {
		return nil, fmt.Errorf("读取 Image 表结构失败: %w", err)
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

func (s *Store) DropAllCollections(ctx context.Context) error {
	slog.Warn("正在删除 Image 表...", "path", s.path)
	_, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS Image`)
	return err
}

func (s *Store) Close(context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ExistingIDs 执行 SELECT nasa_id FROM Image WHERE nasa_id IN (...)，按批拆分参数。
func (m *metadataStore) ExistingIDs(ctx context.Context, ids []models.Identity) (map[models.Identity]struct{}, error) {
	found := make(map[models.Identity]struct{})
	for start := 0; start < len(ids); start += maxParams {
		chunk := ids[start:min(start+maxParams, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = string(id)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		rows, err := m.db.QueryContext(ctx, "SELECT nasa_id FROM Image WHERE nasa_id IN ("+placeholders+")", args...)
		if err != nil {
			return nil, fmt.Errorf("查询已存在的 NASA_ID 失败: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			found[models.Identity(id)] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return found, nil
}

// UpsertBatch 在一个事务中写入全部记录，已存在的 nasa_id 会被覆盖。
func (m *metadataStore) UpsertBatch(ctx context.Context, items []models.EnrichedMetadata) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// 先 UPDATE 再按需 INSERT，不依赖 nasa_id 上的唯一约束，旧版表同样适用
	update, err := tx.PrepareContext(ctx, `UPDATE Image SET metadata_json = ?, enriched_at = ? WHERE nasa_id = ?`)
	if err != nil {
		return 0, err
	}
	defer update.Close()
	insert, err := tx.PrepareContext(ctx, `INSERT INTO Image (nasa_id, metadata_json, enriched_at) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer insert.Close()

	var n int64
	for _, item := range items {
		if !item.ID.Resolved() {
			continue
		}
		doc, err := json.Marshal(item)
		if err != nil {
			return 0, fmt.Errorf("序列化 %s 失败: %w", item.ID, err)
		}
		enrichedAt := item.EnrichedAt.UTC().Format(time.RFC3339Nano)
		res, err := update.ExecContext(ctx, string(doc), enrichedAt, string(item.ID))
		if err != nil {
			return 0, fmt.Errorf("更新 %s 失败: %w", item.ID, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			if _, err := insert.ExecContext(ctx, string(item.ID), string(doc), enrichedAt); err != nil {
				return 0, fmt.Errorf("写入 %s 失败: %w", item.ID, err)
			}
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (m *metadataStore) GetByID(ctx context.Context, id models.Identity) (*models.EnrichedMetadata, error) {
	var doc sql.NullString
	var enrichedAt sql.NullString
	err := m.db.QueryRowContext(ctx, `SELECT metadata_json, enriched_at FROM Image WHERE nasa_id = ? ORDER BY enriched_at DESC LIMIT 1`, string(id)).Scan(&doc, &enrichedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return decode(id, doc, enrichedAt)
}

// List 按补全时间倒序分页。
func (m *metadataStore) List(ctx context.Context, page, limit int) ([]models.EnrichedMetadata, int64, error) {
	var total int64
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM Image WHERE nasa_id IS NOT NULL`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT nasa_id, metadata_json, enriched_at FROM Image WHERE nasa_id IS NOT NULL ORDER BY enriched_at DESC LIMIT ? OFFSET ?`,
		limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []models.EnrichedMetadata
	for rows.Next() {
		var id string
		var doc, enrichedAt sql.NullString
		if err := rows.Scan(&id, &doc, &enrichedAt); err != nil {
			return nil, 0, err
		}
		item, err := decode(models.Identity(id), doc, enrichedAt)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *item)
	}
	return list, total, rows.Err()
}

// decode 还原一行记录。旧版数据库中的行可能只有 nasa_id。
func decode(id models.Identity, doc, enrichedAt sql.NullString) (*models.EnrichedMetadata, error) {
	out := models.NullMetadata(id)
	if doc.Valid && doc.String != "" {
		if err := json.Unmarshal([]byte(doc.String), &out); err != nil {
			return nil, fmt.Errorf("解析 %s 的元数据失败: %w", id, err)
		}
	}
	if enrichedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, enrichedAt.String); err == nil {
			out.EnrichedAt = t
		}
	}
	return &out, nil
}
