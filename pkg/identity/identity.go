// Package identity 负责从不同形态的记录中解析照片标识，并据此去重。
package identity

import (
	"ISS_Harvester/internal/models"
	"strings"
)

// Resolver 从一条记录中取出标识，无法解析时返回 models.UnresolvedIdentity。
type Resolver[T any] func(T) models.Identity

// Stats 记录一次去重的统计信息。
type Stats struct {
	Kept       int
	Dropped    int
	Unresolved int
}

// Resolve 按固定顺序解析标识：显式 ID 优先，其次是去掉扩展名的文件名，都没有时返回哨兵值。
func Resolve(explicitID, filename string) models.Identity {
	if id := strings.TrimSpace(explicitID); id != "" && models.Identity(id) != models.UnresolvedIdentity {
		return models.Identity(id)
	}
	if id := StripExtension(filename); id != "" {
		return models.Identity(id)
	}
	return models.UnresolvedIdentity
}

// StripExtension 取文件名第一个 '.' 之前的部分，例如 "ISS071-E-12345.JPG" -> "ISS071-E-12345"。
func StripExtension(filename string) string {
	filename = strings.TrimSpace(filename)
	if i := strings.IndexByte(filename, '.'); i >= 0 {
		filename = filename[:i]
	}
	return filename
}

// FromRaw 适配目录 API 原始行：读取 images|filename（或已归一化的 images.filename）。
func FromRaw(r models.RawRecord) models.Identity {
	for _, key := range []string{"images|filename", "images.filename", "filename"} {
		if v, ok := r[key].(string); ok && v != "" {
			return Resolve("", v)
		}
	}
	return models.UnresolvedIdentity
}

// FromNormalized 适配归一化记录：按文件名解析。
func FromNormalized(r models.NormalizedRecord) models.Identity {
	return Resolve("", r.Filename())
}

// FromEnriched 适配补全后的元数据：使用显式 ID 字段。
func FromEnriched(m models.EnrichedMetadata) models.Identity {
	return Resolve(string(m.ID), "")
}

// Dedupe 按标识去重，首次出现者保留，输出顺序与输入一致；无法解析标识的记录总是保留。
// 复杂度 O(n)。
func Dedupe[T any](items []T, resolve Resolver[T]) ([]T, Stats) {
	seen := make(map[models.Identity]struct{}, len(items))
	out := make([]T, 0, len(items))
	var stats Stats

	for _, item := range items {
		id := resolve(item)
		if !id.Resolved() {
			stats.Unresolved++
			out = append(out, item)
			continue
		}
		if _, dup := seen[id]; dup {
			stats.Dropped++
			continue
		}
		seen[id] = struct{}{}
		out = append(out, item)
	}
	stats.Kept = len(out)
	return out, stats
}
