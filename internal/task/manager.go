package task

import (
	"ISS_Harvester/config"
	"ISS_Harvester/pkg/batch"
	"ISS_Harvester/pkg/logger"
	"ISS_Harvester/pkg/progress"
	"ISS_Harvester/pkg/scanner"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus 定义了任务可能的状态。
type TaskStatus string

const (
	StatusPending     TaskStatus = "pending"
	StatusRunning     TaskStatus = "running"
	StatusDownloading TaskStatus = "downloading"
	StatusCompleted   TaskStatus = "completed"
	StatusFailed      TaskStatus = "failed"
	StatusCancelled   TaskStatus = "cancelled"
)

var (
	ErrTaskRunning  = errors.New("另一个采集任务正在进行中")
	ErrTaskNotFound = errors.New("找不到任务")
	ErrTaskFinished = errors.New("任务已经结束")
)

// Runner 执行一次完整采集，*scanner.Orchestrator 实现了它。
type Runner interface {
	Run(ctx context.Context, opts scanner.RunOptions) (*scanner.State, error)
}

// Task 结构体代表一个具体的后台任务。
type Task struct {
	ID        string         `json:"id"`
	Status    TaskStatus     `json:"status"`
	Progress  float64        `json:"progress"`
	Phase     progress.Phase `json:"phase"`
	Error     string         `json:"error,omitempty"`
	StartTime time.Time      `json:"startTime"`
	EndTime   *time.Time     `json:"endTime,omitempty"`
	Summary   *scanner.State `json:"summary,omitempty"`

	agg    *progress.Aggregator
	cancel context.CancelFunc
}

func (t *Task) active() bool {
	return t.Status == StatusPending || t.Status == StatusRunning || t.Status == StatusDownloading
}

// Manager 结构体是任务管理器，同一时刻只允许一个采集任务运行。
type Manager struct {
	tasks map[string]*Task
	mu    sync.RWMutex
	wg    sync.WaitGroup

	runner Runner
	config config.Source
	logger *slog.Logger
}

// NewManager 创建并返回一个新的任务管理器实例。每个任务开始时从 src 读取下载和日志配置。
func NewManager(r Runner, src config.Source) *Manager {
	return &Manager{
		tasks:  make(map[string]*Task),
		runner: r,
		config: src,
		logger: logger.Channel("task"),
	}
}

// StartHarvestTask 创建一个新的采集任务，并立即在后台启动它。
func (m *Manager) StartHarvestTask() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tasks {
		if t.active() {
			return "", fmt.Errorf("%w (ID: %s)，请等待其完成后再试", ErrTaskRunning, t.ID)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Phase:     progress.PhaseEnriching,
		StartTime: time.Now(),
		agg:       progress.NewAggregator(),
		cancel:    cancel,
	}
	m.tasks[t.ID] = t

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.runHarvest(ctx, t)
	}()

	return t.ID, nil
}

// GetTaskStatus 根据任务ID返回任务当前状态的快照。
func (m *Manager) GetTaskStatus(taskID string) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, exists := m.tasks[taskID]
	if !exists {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return m.snapshotLocked(t), nil
}

func (m *Manager) snapshotLocked(t *Task) Task {
	s := t.agg.State()
	out := *t
	out.Progress = s.UnifiedPercent
	out.Phase = s.Phase
	out.agg = nil
	out.cancel = nil
	return out
}

// CancelTask 请求取消任务。补全阶段会在当前分块结束后停止，下载进程会被终止。
func (m *Manager) CancelTask(taskID string) error {
	m.mu.RLock()
	t, exists := m.tasks[taskID]
	var active, downloading bool
	if exists {
		active = t.active()
		downloading = t.Status == StatusDownloading
	}
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !active {
		return fmt.Errorf("%w: %s", ErrTaskFinished, taskID)
	}
	m.logger.Info("收到取消请求", "task", taskID)
	t.agg.Cancel()
	if downloading {
		t.cancel()
	}
	return nil
}

// ReportDownload 接收外部下载进程上报的进度并合并到任务的统一进度中。
func (m *Manager) ReportDownload(taskID string, ev progress.Event) (progress.State, error) {
	m.mu.RLock()
	t, exists := m.tasks[taskID]
	m.mu.RUnlock()
	if !exists {
		return progress.State{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	ev.Phase = progress.PhaseDownloading
	return t.agg.Update(ev), nil
}

// Wait 阻塞直到所有后台任务结束。
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) setStatus(t *Task, status TaskStatus) {
	m.mu.Lock()
	t.Status = status
	m.mu.Unlock()
}

// runHarvest 是执行具体采集工作的内部函数。
func (m *Manager) runHarvest(ctx context.Context, t *Task) {
	m.setStatus(t, StatusRunning)
	m.logger.Info("任务启动", "task", t.ID)
	cfg := m.config()

	st, err := m.runner.Run(ctx, scanner.RunOptions{TaskID: t.ID, Progress: t.agg})
	if err == nil && t.agg.Cancelled() {
		err = batch.ErrCancelled
	}

	if err == nil && st != nil && st.Manifest != "" && cfg.Download.Command != "" {
		m.setStatus(t, StatusDownloading)
		err = m.runDownload(ctx, cfg, t, st.Manifest)
		if ctx.Err() != nil && t.agg.Cancelled() {
			err = batch.ErrCancelled
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t.Summary = st
	switch {
	case errors.Is(err, batch.ErrCancelled):
		t.Status = StatusCancelled
		m.logger.Warn("任务已取消", "task", t.ID)
	case err != nil:
		t.Status = StatusFailed
		t.Error = err.Error()
		m.logger.Error("任务失败", "task", t.ID, "error", err)
	default:
		t.Status = StatusCompleted
		m.logger.Info("任务完成", "task", t.ID, "progress", t.agg.State().UnifiedPercent)
	}
	endTime := time.Now()
	t.EndTime = &endTime
}

// runDownload 启动配置的下载命令，清单路径作为最后一个参数。
// 命令的标准输出按行解析为下载进度，标准错误写入日志。
func (m *Manager) runDownload(ctx context.Context, cfg *config.Config, t *Task, manifest string) error {
	args := append(append([]string{}, cfg.Download.Args...), manifest)
	cmd := exec.CommandContext(ctx, cfg.Download.Command, args...)

	logFile, err := logger.OpenChannelFile(cfg.Logger.Path, "download")
	if err != nil {
		return err
	}
	defer logFile.Close()
	cmd.Stderr = logFile.Writer()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("无法获取下载进程输出: %w", err)
	}
	logFile.Info("启动下载进程", "command", cfg.Download.Command, "manifest", manifest)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("无法启动下载进程: %w", err)
	}

	readErr := progress.ReadDownloadEvents(ctx, stdout, t.agg.Publish)
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("下载进程退出异常: %w", err)
	}
	if readErr != nil {
		return fmt.Errorf("读取下载进度失败: %w", readErr)
	}
	logFile.Info("下载进程结束", "progress", t.agg.State().UnifiedPercent)
	return nil
}
