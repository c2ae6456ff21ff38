package scanner

import (
	"ISS_Harvester/internal/models"
	"ISS_Harvester/pkg/logger"
	"log/slog"
	"strings"

	"github.com/spf13/cast"
)

const normalizerLogName = "normalizer"

// placeholderPath 是无法推导预览图时使用的占位图。
const placeholderPath = "/assets/images/nasapic.jpg"

// RecordNormalizer 把目录原始行转换为统一格式的记录。
type RecordNormalizer interface {
	NormalizeAll(rows []models.RawRecord, source models.CoordinateSource, opts NormalizeOptions) []models.NormalizedRecord
	Close()
}

// NormalizeOptions 每次运行从当前配置中读取。
type NormalizeOptions struct {
	ImageBaseURL string
	HighResOnly  bool
}

type defaultNormalizer struct {
	logger  *slog.Logger
	logFile *logger.ChannelFile
}

func NewNormalizer(logDir string) (RecordNormalizer, error) {
	ch, err := logger.OpenChannelFile(logDir, normalizerLogName)
	if err != nil {
		return nil, err
	}
	return &defaultNormalizer{logger: ch.Logger, logFile: ch}, nil
}

func (n *defaultNormalizer) Close() {
	if n.logFile != nil {
		n.logFile.Close()
	}
}

// NormalizeAll 归一化一个窗口的全部行。开启 highResOnly 时丢弃非高分辨率目录中的行。
func (n *defaultNormalizer) NormalizeAll(rows []models.RawRecord, source models.CoordinateSource, opts NormalizeOptions) []models.NormalizedRecord {
	imageBaseURL := strings.TrimRight(opts.ImageBaseURL, "/")
	out := make([]models.NormalizedRecord, 0, len(rows))
	for _, row := range rows {
		rec := Normalize(row, source, imageBaseURL, n.logger)
		if opts.HighResOnly && !IsHighRes(rec) {
			continue
		}
		out = append(out, rec)
	}
	n.logger.Info("归一化完成", "source", source, "rows", len(rows), "kept", len(out))
	return out
}

// Normalize 把键中的 '|' 替换为 '.'，把所有值转为字符串，并计算预览图地址。不会失败。
func Normalize(raw models.RawRecord, source models.CoordinateSource, imageBaseURL string, log *slog.Logger) models.NormalizedRecord {
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		fields[strings.ReplaceAll(k, "|", ".")] = cast.ToString(v)
	}
	rec := models.NormalizedRecord{Fields: fields, CoordSource: source}
	rec.PreviewURL = PreviewURL(rec.Directory(), rec.Filename(), imageBaseURL, log)
	return rec
}

// PreviewURL 把高分辨率目录映射为对应的低分辨率目录：第二段中的 highres 换成 lowres，large 换成 small。
// 目录或文件名缺失、目录少于三段时返回占位图。
func PreviewURL(directory, filename, imageBaseURL string, log *slog.Logger) string {
	if log == nil {
		log = logger.Discard()
	}
	placeholder := imageBaseURL + placeholderPath
	if directory == "" || filename == "" {
		log.Warn("缺少目录或文件名，使用占位图", "directory", directory, "filename", filename)
		return placeholder
	}
	segments := strings.Split(directory, "/")
	if len(segments) < 3 {
		log.Warn("目录段数不足，使用占位图", "directory", directory, "filename", filename)
		return placeholder
	}
	switch seg := segments[1]; {
	case strings.Contains(seg, "highres"):
		segments[1] = strings.ReplaceAll(seg, "highres", "lowres")
	case strings.Contains(seg, "large"):
		segments[1] = strings.ReplaceAll(seg, "large", "small")
	default:
		log.Warn("未识别的目录分辨率段，保持不变", "directory", directory, "filename", filename)
	}
	return imageBaseURL + "/DatabaseImages/" + strings.Join(segments, "/") + "/" + filename
}

// IsHighRes 判断记录的目录是否指向高分辨率图片。
func IsHighRes(rec models.NormalizedRecord) bool {
	dir := strings.ToLower(rec.Directory())
	return strings.Contains(dir, "large") || strings.Contains(dir, "highres")
}
