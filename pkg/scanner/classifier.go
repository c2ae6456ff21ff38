package scanner

import (
	"ISS_Harvester/config"
	"ISS_Harvester/internal/models"
	"ISS_Harvester/pkg/database"
	"ISS_Harvester/pkg/identity"
	"ISS_Harvester/pkg/logger"
	"context"
	"log/slog"
)

const classifierLogName = "classifier"

// ExistenceClassifier 把记录分为「新图片」和「已处理」两组。
type ExistenceClassifier interface {
	Classify(ctx context.Context, records []models.NormalizedRecord) (fresh, existing []models.NormalizedRecord)
	Close()
}

type dbClassifier struct {
	checker database.ExistenceChecker
	policy  string
	logger  *slog.Logger
	logFile *logger.ChannelFile
}

// NewClassifier 创建分类器。checker 为 nil 时所有记录都视为新图片。
func NewClassifier(logDir string, checker database.ExistenceChecker, policy string) (ExistenceClassifier, error) {
	ch, err := logger.OpenChannelFile(logDir, classifierLogName)
	if err != nil {
		return nil, err
	}
	if policy == "" {
		policy = config.PolicyFailOpen
	}
	return &dbClassifier{checker: checker, policy: policy, logger: ch.Logger, logFile: ch}, nil
}

func (c *dbClassifier) Close() {
	if c.logFile != nil {
		c.logFile.Close()
	}
}

// Classify 用一次批量查询找出已存在的标识。无法解析标识的记录总是归为新图片。
// 查询失败时按策略处理：fail-open 全部视为新图片，fail-closed 全部视为已处理。
func (c *dbClassifier) Classify(ctx context.Context, records []models.NormalizedRecord) ([]models.NormalizedRecord, []models.NormalizedRecord) {
	if c.checker == nil || len(records) == 0 {
		return records, nil
	}

	ids := make([]models.Identity, 0, len(records))
	for _, rec := range records {
		if id := identity.FromNormalized(rec); id.Resolved() {
			ids = append(ids, id)
		}
	}

	found, err := c.checker.ExistingIDs(ctx, ids)
	if err != nil {
		if c.policy == config.PolicyFailClosed {
			c.logger.Error("存在性检查失败，按 fail-closed 策略视为全部已处理", "records", len(records), "error", err)
			return nil, records
		}
		c.logger.Warn("存在性检查失败，按 fail-open 策略视为全部为新图片", "records", len(records), "error", err)
		return records, nil
	}

	var fresh, existing []models.NormalizedRecord
	for _, rec := range records {
		if _, ok := found[identity.FromNormalized(rec)]; ok {
			existing = append(existing, rec)
			continue
		}
		fresh = append(fresh, rec)
	}
	c.logger.Info("存在性检查完成", "new", len(fresh), "existing", len(existing))
	return fresh, existing
}
