package maintenance

import (
	"ISS_Harvester/pkg/batch"
	"ISS_Harvester/pkg/hasher"
	"ISS_Harvester/pkg/logger"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"
)

// Maintenance 定义了维护工具的接口
type Maintenance interface {
	GenerateCameraManifest(ctx context.Context, cameraDir, outputPath string) (string, error)
	BackupDatabase(ctx context.Context, dbURI, dbName, outputPath string) error
	BackupSQLite(ctx context.Context, dbPath, outputPath string) (string, error)
	Close()
}

type defaultMaintenance struct {
	logger     *slog.Logger
	logFile    *logger.ChannelFile
	numWorkers int
	now        func() time.Time
}

// NewMaintenance 创建一个新的维护模块实例
func NewMaintenance(logDir string, workerCount int) (Maintenance, error) {
	ch, err := logger.OpenChannelFile(logDir, "maintenance")
	if err != nil {
		return nil, fmt.Errorf("无法初始化维护模块日志: %w", err)
	}
	return &defaultMaintenance{
		logger:     ch.Logger,
		logFile:    ch,
		numWorkers: workerCount,
		now:        time.Now,
	}, nil
}

func (m *defaultMaintenance) Close() {
	if m.logFile != nil {
		m.logFile.Close()
	}
}

type manifestLine struct {
	rel  string
	hash string
}

// GenerateCameraManifest 为相机元数据目录生成 sha256sum 格式的校验清单，按相对路径排序。
func (m *defaultMaintenance) GenerateCameraManifest(ctx context.Context, cameraDir, outputPath string) (string, error) {
	m.logger.Info("--- 开始生成相机元数据清单 ---", "dir", cameraDir)

	var files []string
	err := filepath.WalkDir(cameraDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("扫描相机元数据目录失败: %w", err)
	}

	res := batch.Run(ctx, files, func(ctx context.Context, path string) (manifestLine, error) {
		hash, err := hasher.CalculateSHA256(path)
		if err != nil {
			return manifestLine{}, err
		}
		rel, err := filepath.Rel(cameraDir, path)
		if err != nil {
			return manifestLine{}, err
		}
		return manifestLine{rel: filepath.ToSlash(rel), hash: hash}, nil
	}, batch.Options{Limit: m.numWorkers, Logger: m.logger})
	if err := res.Err(); err != nil {
		return "", err
	}
	sort.Slice(res.Values, func(i, j int) bool { return res.Values[i].rel < res.Values[j].rel })

	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return "", fmt.Errorf("无法创建输出目录: %w", err)
	}
	manifestPath := filepath.Join(outputPath, fmt.Sprintf("camera_manifest_%s.txt", m.now().Format("2006-01-02")))
	file, err := os.Create(manifestPath)
	if err != nil {
		return "", fmt.Errorf("无法创建清单文件: %w", err)
	}
	defer file.Close()

	for _, line := range res.Values {
		if _, err := fmt.Fprintf(file, "%s *%s\n", line.hash, line.rel); err != nil {
			return "", fmt.Errorf("写入清单文件失败: %w", err)
		}
	}
	m.logger.Info("--- 相机元数据清单生成完毕 ---", "path", manifestPath, "files", len(res.Values), "failed", len(res.Failures))
	return manifestPath, nil
}

// BackupDatabase 调用 mongodump 工具来备份数据库
func (m *defaultMaintenance) BackupDatabase(ctx context.Context, dbURI, dbName, outputPath string) error {
	m.logger.Info("--- 开始执行数据库备份 ---")

	if _, err := exec.LookPath("mongodump"); err != nil {
		m.logger.Error("在系统 PATH 中找不到 'mongodump' 命令，请安装 MongoDB Database Tools")
		return fmt.Errorf("'mongodump' command not found in PATH")
	}

	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return fmt.Errorf("无法创建输出目录: %w", err)
	}
	archiveFile := filepath.Join(outputPath, fmt.Sprintf("db_backup_%s.gz", m.now().Format("2006-01-02_150405")))
	m.logger.Info("数据库备份文件将被保存到", "path", archiveFile)

	cmd := exec.CommandContext(ctx, "mongodump",
		"--uri", dbURI,
		"--db", dbName,
		"--archive="+archiveFile,
		"--gzip",
	)
	// 将命令的输出连接到维护日志
	cmd.Stdout = m.logFile.Writer()
	cmd.Stderr = m.logFile.Writer()

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("执行 mongodump 失败: %w", err)
	}

	m.logger.Info("--- 数据库备份成功 ---")
	return nil
}

// BackupSQLite 把 SQLite 数据库文件复制到 outputPath。
func (m *defaultMaintenance) BackupSQLite(ctx context.Context, dbPath, outputPath string) (string, error) {
	src, err := os.Open(dbPath)
	if err != nil {
		return "", fmt.Errorf("无法打开数据库文件: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return "", fmt.Errorf("无法创建输出目录: %w", err)
	}
	target := filepath.Join(outputPath, fmt.Sprintf("metadata_backup_%s.db", m.now().Format("2006-01-02_150405")))
	dst, err := os.Create(target)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, readerWithContext{ctx: ctx, r: src}); err != nil {
		return "", fmt.Errorf("复制数据库文件失败: %w", err)
	}
	m.logger.Info("--- SQLite 备份成功 ---", "path", target)
	return target, nil
}

type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
