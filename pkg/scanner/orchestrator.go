package scanner

import (
	"ISS_Harvester/config"
	"ISS_Harvester/internal/models"
	"ISS_Harvester/pkg/batch"
	"ISS_Harvester/pkg/catalog"
	"ISS_Harvester/pkg/database"
	"ISS_Harvester/pkg/enricher"
	"ISS_Harvester/pkg/identity"
	"ISS_Harvester/pkg/logger"
	"ISS_Harvester/pkg/planner"
	"ISS_Harvester/pkg/progress"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
)

// ErrNoRecords 表示所有查询窗口都失败了。单个窗口失败只会让该窗口贡献零条记录。
var ErrNoRecords = errors.New("所有查询窗口均失败，没有获取到任何记录")

// MetadataEnricher 把一条归一化记录补全为完整元数据。
type MetadataEnricher interface {
	Enrich(ctx context.Context, rec models.NormalizedRecord) (models.EnrichedMetadata, error)
}

// Deps 是协调器的外部依赖。Catalog 和 Enricher 为 nil 时每次运行都按当时的配置新建，
// Config 为 nil 时固定使用传给 NewOrchestrator 的配置。
type Deps struct {
	Store    database.Store
	Checker  database.ExistenceChecker
	Catalog  catalog.Querier
	Enricher MetadataEnricher
	Config   config.Source
}

type Orchestrator struct {
	Catalog    catalog.Querier
	Normalizer RecordNormalizer
	Classifier ExistenceClassifier
	Enricher   MetadataEnricher
	Ingestor   MetadataIngestor

	config      config.Source
	logger      *slog.Logger
	enricherLog *slog.Logger
	closers     []func()
}

// State 是一次运行的累计结果。
type State struct {
	TaskID        string                    `json:"taskId,omitempty"`
	Windows       int                       `json:"windows"`
	FailedWindows int                       `json:"failedWindows"`
	Fetched       int                       `json:"fetched"`
	Dedupe        identity.Stats            `json:"dedupe"`
	Existing      int                       `json:"existing"`
	Selected      int                       `json:"selected"`
	Enriched      int                       `json:"enriched"`
	Failed        int                       `json:"failed"`
	Stored        int64                     `json:"stored"`
	Manifest      string                    `json:"manifest,omitempty"`
	Cancelled     bool                      `json:"cancelled"`
	Metadata      []models.EnrichedMetadata `json:"-"`
}

// RunOptions 控制单次运行。Progress 为 nil 时内部创建一个不对外暴露的聚合器。
type RunOptions struct {
	TaskID   string
	Progress *progress.Aggregator
}

func NewOrchestrator(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	log := logger.Channel("orchestrator")
	log.Info("初始化采集协调器 (Orchestrator)...")

	// 1. 创建统一的日志目录
	logDir, err := filepath.Abs(cfg.Logger.Path)
	if err != nil {
		return nil, fmt.Errorf("无法获取日志目录绝对路径: %w", err)
	}

	o := &Orchestrator{config: deps.Config, logger: log, Catalog: deps.Catalog, Enricher: deps.Enricher}
	if o.config == nil {
		o.config = config.Static(cfg)
	}
	fail := func(err error) (*Orchestrator, error) {
		o.Close()
		return nil, fmt.Errorf("创建 Orchestrator 失败: %w", err)
	}

	// 2. 依次创建所有模块
	normalizer, err := NewNormalizer(logDir)
	if err != nil {
		return fail(err)
	}
	o.Normalizer = normalizer
	o.closers = append(o.closers, normalizer.Close)

	checker := deps.Checker
	var metadata database.MetadataStore
	if deps.Store != nil {
		metadata = deps.Store.Metadata()
		if checker == nil {
			checker = metadata
		}
	}
	classifier, err := NewClassifier(logDir, checker, cfg.Existence.Policy)
	if err != nil {
		return fail(err)
	}
	o.Classifier = classifier
	o.closers = append(o.closers, classifier.Close)

	ingestor, err := NewIngestor(logDir, metadata, cfg.Download.ManifestDir, 0)
	if err != nil {
		return fail(err)
	}
	o.Ingestor = ingestor
	o.closers = append(o.closers, ingestor.Close)

	if o.Enricher == nil {
		ch, err := logger.OpenChannelFile(logDir, "enricher")
		if err != nil {
			return fail(err)
		}
		o.closers = append(o.closers, func() { ch.Close() })
		o.enricherLog = ch.Logger
	}

	log.Info("采集协调器初始化成功", "logDir", logDir)
	return o, nil
}

func (o *Orchestrator) Close() {
	for i := len(o.closers) - 1; i >= 0; i-- {
		o.closers[i]()
	}
	o.closers = nil
}

// Plan 根据当前配置生成查询描述符。
func (o *Orchestrator) Plan() []models.QueryDescriptor {
	return PlanFromConfig(o.config().Catalog)
}

// stages 返回本次运行使用的目录客户端和补全器。未注入时按 cfg 新建，补全缓存因此只在一次运行内有效。
func (o *Orchestrator) stages(cfg *config.Config) (catalog.Querier, MetadataEnricher) {
	querier := o.Catalog
	if querier == nil {
		querier = catalog.NewClient(cfg.Catalog, catalog.WithLogger(logger.Channel("catalog")))
	}
	enr := o.Enricher
	if enr == nil {
		enr = enricher.New(cfg.Enricher, cfg.Catalog.ImageBaseURL, enricher.WithLogger(o.enricherLog))
	}
	return querier, enr
}

// PlanFromConfig 把配置中的过滤条件、来源和区域转换为查询描述符。
func PlanFromConfig(c config.CatalogConfig) []models.QueryDescriptor {
	filters := make([]models.FilterClause, 0, len(c.Filters))
	for _, f := range c.Filters {
		filters = append(filters, models.FilterClause{Table: f.Table, Field: f.Field, Operator: f.Operator, Value: f.Value})
	}
	sources := make([]models.CoordinateSource, 0, len(c.CoordSources))
	for _, s := range c.CoordSources {
		sources = append(sources, models.CoordinateSource(s))
	}
	bbox := models.BoundingBox{
		LatMin: c.BoundingBox.LatMin, LatMax: c.BoundingBox.LatMax,
		LonMin: c.BoundingBox.LonMin, LonMax: c.BoundingBox.LonMax,
	}
	return planner.Plan(filters, sources, c.NightMode, bbox, c.ReturnFields)
}

// Run 执行一次完整的采集：规划 -> 查询与归一化 -> 去重 -> 存在性检查 -> 补全 -> 入库 -> 写清单。
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*State, error) {
	agg := opts.Progress
	if agg == nil {
		agg = progress.NewAggregator()
	}
	st := &State{TaskID: opts.TaskID}
	cfg := o.config()
	querier, enr := o.stages(cfg)
	normalize := NormalizeOptions{ImageBaseURL: cfg.Catalog.ImageBaseURL, HighResOnly: cfg.Catalog.HighResOnly}

	o.logger.Info("--- 阶段 1/5: 规划与查询 ---")
	descriptors := PlanFromConfig(cfg.Catalog)
	st.Windows = len(descriptors)

	var records []models.NormalizedRecord
	var windowErrs []error
	for _, d := range descriptors {
		rows, err := querier.Query(ctx, d)
		if err != nil {
			st.FailedWindows++
			windowErrs = append(windowErrs, fmt.Errorf("%s [%s-%s]: %w", d.Source, d.Window.TimeLowerBound, d.Window.TimeUpperBound, err))
			o.logger.Error("查询窗口失败，按零条记录处理", "source", d.Source, "window", d.Window, "error", err)
			continue
		}
		records = append(records, o.Normalizer.NormalizeAll(rows, d.Source, normalize)...)
	}
	st.Fetched = len(records)
	if st.Windows > 0 && st.FailedWindows == st.Windows {
		return st, errors.Join(append([]error{ErrNoRecords}, windowErrs...)...)
	}

	o.logger.Info("--- 阶段 2/5: 去重与存在性检查 ---")
	unique, stats := identity.Dedupe(records, identity.FromNormalized)
	st.Dedupe = stats
	if stats.Unresolved > 0 {
		o.logger.Warn("存在无法解析标识的记录，已保留", "count", stats.Unresolved)
	}
	fresh, existing := o.Classifier.Classify(ctx, unique)
	st.Existing = len(existing)
	if limit := cfg.Catalog.Limit; limit > 0 && len(fresh) > limit {
		fresh = fresh[:limit]
	}
	st.Selected = len(fresh)
	o.logger.Info("待补全记录", "fetched", st.Fetched, "unique", stats.Kept, "existing", st.Existing, "selected", st.Selected)

	if len(fresh) == 0 {
		agg.ReportEnrichment(1, 1)
		o.logger.Info("没有找到需要处理的新图片，任务结束。")
		return st, nil
	}

	o.logger.Info("--- 阶段 3/5: 补全元数据 ---")
	res := batch.Run(ctx, fresh, enr.Enrich, batch.Options{
		Limit:     cfg.Batch.ConcurrencyLimit,
		Delay:     cfg.Batch.ChunkDelay,
		Report:    agg.ReportEnrichment,
		Cancelled: agg.Cancelled,
		Logger:    o.logger,
	})
	st.Failed = len(res.Failures)
	st.Cancelled = res.Cancelled

	enriched, _ := identity.Dedupe(res.Values, identity.FromEnriched)
	st.Enriched = len(enriched)
	st.Metadata = enriched

	o.logger.Info("--- 阶段 4/5: 入库 ---")
	stored, syncErr := o.Ingestor.Sync(ctx, enriched)
	st.Stored = stored
	if syncErr != nil {
		o.logger.Error("入库时出错", "error", syncErr)
	}

	o.logger.Info("--- 阶段 5/5: 写出下载清单 ---")
	manifest, err := o.Ingestor.WriteManifest(enriched, opts.TaskID)
	if err != nil {
		return st, err
	}
	st.Manifest = manifest

	if st.Cancelled {
		o.logger.Warn("任务已取消，已保存取消前补全的记录", "enriched", st.Enriched)
		return st, batch.ErrCancelled
	}
	o.logger.Info("采集任务完成", "enriched", st.Enriched, "failed", st.Failed, "stored", st.Stored)
	return st, syncErr
}
