// Package planner 把用户过滤条件、坐标来源和区域范围展开为一组目录查询描述符。
// 这里只做纯数据变换，不发起任何网络请求。
package planner

import (
	"ISS_Harvester/internal/models"
	"strconv"
	"strings"
)

// ImagesTable 是所有来源都会附带返回的公共表。
const ImagesTable = "images"

// alwaysIncludedField 是无论属于哪张表都保留的过滤字段。
const alwaysIncludedField = "pdate"

// NightWindows 是夜间模式下的两个 UTC 时间段，近似当地夜间。
var NightWindows = [][2]string{
	{"003000", "045959"},
	{"050000", "103000"},
}

// Plan 为每个坐标来源生成查询描述符。
// 夜间模式下，带时间字段的来源各生成两个时间窗口；其余来源只生成一个不限时间的窗口。
func Plan(filters []models.FilterClause, sources []models.CoordinateSource, nightMode bool, bbox models.BoundingBox, returnFields map[string][]string) []models.QueryDescriptor {
	var descriptors []models.QueryDescriptor
	for _, source := range sources {
		ret := BuildReturn(returnFields, source)
		for _, window := range Windows(source, nightMode) {
			descriptors = append(descriptors, models.QueryDescriptor{
				Source:       source,
				Window:       window,
				Filters:      EffectiveFilters(filters, window, bbox),
				ReturnFields: ret,
			})
		}
	}
	return descriptors
}

// Windows 返回某个来源的时间窗口列表。
func Windows(source models.CoordinateSource, nightMode bool) []models.QueryWindow {
	if !nightMode || !source.HasTimeField() {
		return []models.QueryWindow{{Table: source}}
	}
	windows := make([]models.QueryWindow, 0, len(NightWindows))
	for _, w := range NightWindows {
		windows = append(windows, models.QueryWindow{Table: source, TimeLowerBound: w[0], TimeUpperBound: w[1]})
	}
	return windows
}

// EffectiveFilters 推导单个窗口的有效过滤条件：
// 保留该来源表的条件和 pdate 条件；窗口有界时用窗口上下界替换原有的 ptime 条件；
// 最后追加四个限定到该来源的经纬度范围条件。
func EffectiveFilters(filters []models.FilterClause, window models.QueryWindow, bbox models.BoundingBox) []models.FilterClause {
	source := string(window.Table)
	seen := make(map[string]struct{}, len(filters)+6)
	out := make([]models.FilterClause, 0, len(filters)+6)

	add := func(f models.FilterClause) {
		key := f.Key()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}

	for _, f := range filters {
		if f.Table != source && f.Field != alwaysIncludedField {
			continue
		}
		if window.Bounded() && f.Table == source && f.Field == models.TimeField {
			continue
		}
		add(f)
	}

	if window.Bounded() {
		add(models.FilterClause{Table: source, Field: models.TimeField, Operator: "ge", Value: window.TimeLowerBound})
		add(models.FilterClause{Table: source, Field: models.TimeField, Operator: "le", Value: window.TimeUpperBound})
	}

	for _, f := range BoundingFilters(window.Table, bbox) {
		add(f)
	}
	return out
}

// BoundingFilters 返回限定在 source 表上的四个经纬度不等式。
func BoundingFilters(source models.CoordinateSource, bbox models.BoundingBox) []models.FilterClause {
	s := string(source)
	return []models.FilterClause{
		{Table: s, Field: "lat", Operator: "ge", Value: formatCoord(bbox.LatMin)},
		{Table: s, Field: "lat", Operator: "le", Value: formatCoord(bbox.LatMax)},
		{Table: s, Field: "lon", Operator: "ge", Value: formatCoord(bbox.LonMin)},
		{Table: s, Field: "lon", Operator: "le", Value: formatCoord(bbox.LonMax)},
	}
}

// BuildReturn 只选取该来源表和 images 表的字段；一个都没有时退回最小字段集，
// 保证永远不会请求空投影。
func BuildReturn(selected map[string][]string, source models.CoordinateSource) []models.ReturnField {
	var fields []models.ReturnField
	for _, table := range []string{string(source), ImagesTable} {
		for _, f := range selected[table] {
			fields = append(fields, models.ReturnField{Table: table, Field: f})
		}
	}
	if len(fields) == 0 {
		fields = []models.ReturnField{
			{Table: ImagesTable, Field: "directory"},
			{Table: ImagesTable, Field: "filename"},
			{Table: string(source), Field: "lat"},
			{Table: string(source), Field: "lon"},
		}
	}
	return fields
}

// EncodeQuery 生成目录 API 的 query 参数 (table|field|op|value|table|field|...)。
func EncodeQuery(filters []models.FilterClause) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		parts = append(parts, f.Key())
	}
	return strings.Join(parts, "|")
}

// EncodeReturn 生成目录 API 的 return 参数。
func EncodeReturn(fields []models.ReturnField) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.Table+"|"+f.Field)
	}
	return strings.Join(parts, "|")
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
