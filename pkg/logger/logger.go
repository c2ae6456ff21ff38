package logger

import (
	"ISS_Harvester/config"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// level 是全局共享的日志级别，通道日志文件也使用它。
var level = new(slog.LevelVar)

// InitLogger 根据 config.yaml 中的配置初始化一个全局的 slog 日志记录器。
func InitLogger() error {
	if config.C == nil {
		return errors.New("配置尚未加载")
	}
	if err := setLogLevel(config.C.Logger.Level, level); err != nil {
		return err
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var logHandler slog.Handler
	if config.C.Logger.Format == "json" {
		logHandler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, handlerOpts)
	}

	slog.SetDefault(slog.New(logHandler))
	return nil
}

// setLogLevel 将字符串形式的日志级别转换为 slog.Level 类型
func setLogLevel(levelStr string, levelVar *slog.LevelVar) error {
	switch strings.ToLower(levelStr) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info", "":
		levelVar.Set(slog.LevelInfo)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		return errors.New("无效的日志级别: " + levelStr)
	}
	return nil
}

// Channel 返回一个带 channel 字段的 logger，对应各流水线阶段的日志通道。
// 写日志是即发即忘的，不会影响调用方的控制流。
func Channel(name string) *slog.Logger {
	return slog.Default().With("channel", name)
}

// ChannelFile 是写入独立日志文件的通道 logger，使用完毕后需要 Close。
type ChannelFile struct {
	*slog.Logger
	file *os.File
}

// OpenChannelFile 在 logDir 下创建 <name>.log，并返回同时写入该文件的通道 logger。
// 每次任务开始时截断旧文件。
func OpenChannelFile(logDir, name string) (*ChannelFile, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("无法创建日志目录: %w", err)
	}
	path := filepath.Join(logDir, name+".log")
	file, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, fmt.Errorf("无法打开日志文件 %s: %w", path, err)
	}
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: level})
	handler := fanout{handlers: []slog.Handler{fileHandler, slog.Default().Handler()}}
	return &ChannelFile{
		Logger: slog.New(handler).With("channel", name),
		file:   file,
	}, nil
}

// Writer 返回底层日志文件，用于接收外部命令的输出。
func (c *ChannelFile) Writer() io.Writer {
	return c.file
}

func (c *ChannelFile) Close() error {
	if c == nil || c.file == nil {
		return nil
	}
	return c.file.Close()
}

// fanout 把一条记录同时交给多个 handler。
type fanout struct {
	handlers []slog.Handler
}

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return fanout{handlers: next}
}

func (f fanout) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return fanout{handlers: next}
}

// Discard 返回一个丢弃所有日志的 logger，主要用于测试，避免不必要的日志输出。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
