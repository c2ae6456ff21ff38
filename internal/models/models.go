package models

import (
	"strings"
	"time"
)

// CoordinateSource 是目录中携带经纬度的一张表，一次搜索会扇出到所有配置的来源。
type CoordinateSource string

const (
	SourceFrames  CoordinateSource = "frames"
	SourceNadir   CoordinateSource = "nadir"
	SourceMLCoord CoordinateSource = "mlcoord"
)

// TimeField 是支持按拍摄时间过滤的来源所使用的字段名。
const TimeField = "ptime"

// HasTimeField 判断该来源是否带有拍摄时间字段 (ptime)。
func (s CoordinateSource) HasTimeField() bool {
	return s == SourceFrames || s == SourceNadir
}

// FilterClause 是一个不可变的原子过滤条件。
type FilterClause struct {
	Table    string `json:"table"`
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Key 返回用于去重的规范字符串形式。
func (f FilterClause) Key() string {
	return f.Table + "|" + f.Field + "|" + f.Operator + "|" + f.Value
}

type BoundingBox struct {
	LatMin float64 `json:"latMin"`
	LatMax float64 `json:"latMax"`
	LonMin float64 `json:"lonMin"`
	LonMax float64 `json:"lonMax"`
}

// QueryWindow 表示某个坐标来源上的一个时间片。上下界都为空表示不限时间。
type QueryWindow struct {
	Table          CoordinateSource `json:"table"`
	TimeLowerBound string           `json:"timeLowerBound,omitempty"`
	TimeUpperBound string           `json:"timeUpperBound,omitempty"`
}

func (w QueryWindow) Bounded() bool {
	return w.TimeLowerBound != "" && w.TimeUpperBound != ""
}

// ReturnField 是返回投影中的一列 (table|field)。
type ReturnField struct {
	Table string `json:"table"`
	Field string `json:"field"`
}

// QueryDescriptor 打包了一次目录查询所需的全部信息。
type QueryDescriptor struct {
	Source       CoordinateSource `json:"source"`
	Window       QueryWindow      `json:"window"`
	Filters      []FilterClause   `json:"filters"`
	ReturnFields []ReturnField    `json:"returnFields"`
}

// RawRecord 是目录 API 原样返回的一行，键形如 "images|filename"。
type RawRecord map[string]any

// NormalizedRecord 是归一化后的记录：键统一为 "table.field"，值统一为字符串。
type NormalizedRecord struct {
	Fields      map[string]string `json:"fields"`
	CoordSource CoordinateSource  `json:"coordSource"`
	PreviewURL  string            `json:"previewUrl"`
}

// Get 读取精确的 table.field 值。
func (r NormalizedRecord) Get(table, field string) string {
	return r.Fields[table+"."+field]
}

// Value 按固定的表优先级查找字段：先查记录的坐标来源表，再依次查
// images、camera、frames、nadir、mlcoord。找不到或为空时返回 ""。
func (r NormalizedRecord) Value(field string) string {
	tables := []string{string(r.CoordSource), "images", "camera", "frames", "nadir", "mlcoord"}
	for _, t := range tables {
		if t == "" {
			continue
		}
		if v := strings.TrimSpace(r.Fields[t+"."+field]); v != "" {
			return v
		}
	}
	return ""
}

// Filename 返回 images.filename，缺失时退回任意表中的 filename 字段。
func (r NormalizedRecord) Filename() string {
	return r.Value("filename")
}

func (r NormalizedRecord) Directory() string {
	return r.Value("directory")
}

// Identity 是去重用的照片标识，通常为去掉扩展名的文件名 (mission-roll-frame)。
type Identity string

// UnresolvedIdentity 表示无法从记录中解析出标识。
const UnresolvedIdentity Identity = "Sin_ID"

func (id Identity) Resolved() bool {
	return id != "" && id != UnresolvedIdentity
}

// EnrichedMetadata 是经过详情页抓取补全后的完整元数据，同时作为 MongoDB 文档和下载清单的条目。
type EnrichedMetadata struct {
	ID                   Identity         `json:"NASA_ID" bson:"nasaId"`
	CapturedDate         string           `json:"FECHA,omitempty" bson:"capturedDate,omitempty"`
	CapturedTime         string           `json:"HORA,omitempty" bson:"capturedTime,omitempty"`
	Resolution           string           `json:"RESOLUCION,omitempty" bson:"resolution,omitempty"`
	ImageURL             string           `json:"URL,omitempty" bson:"imageUrl,omitempty"`
	HasGeoTIFF           bool             `json:"HAS_GEOTIFF" bson:"hasGeoTiff"`
	NadirLat             string           `json:"NADIR_LAT,omitempty" bson:"nadirLat,omitempty"`
	NadirLon             string           `json:"NADIR_LON,omitempty" bson:"nadirLon,omitempty"`
	CenterLat            string           `json:"CENTER_LAT,omitempty" bson:"centerLat,omitempty"`
	CenterLon            string           `json:"CENTER_LON,omitempty" bson:"centerLon,omitempty"`
	NadirCenter          string           `json:"NADIR_CENTER,omitempty" bson:"nadirCenter,omitempty"`
	Altitude             *float64         `json:"ALTITUD,omitempty" bson:"altitude,omitempty"`
	Place                string           `json:"LUGAR,omitempty" bson:"place,omitempty"`
	SunElevation         string           `json:"ELEVACION_SOL,omitempty" bson:"sunElevation,omitempty"`
	SunAzimuth           string           `json:"AZIMUT_SOL,omitempty" bson:"sunAzimuth,omitempty"`
	CloudCover           string           `json:"COBERTURA_NUBOSA,omitempty" bson:"cloudCover,omitempty"`
	Camera               string           `json:"CAMARA,omitempty" bson:"camera,omitempty"`
	FocalLength          string           `json:"LONGITUD_FOCAL,omitempty" bson:"focalLength,omitempty"`
	Tilt                 string           `json:"INCLINACION,omitempty" bson:"tilt,omitempty"`
	Format               string           `json:"FORMATO,omitempty" bson:"format,omitempty"`
	CameraMetadataPath   string           `json:"CAMARA_METADATA,omitempty" bson:"cameraMetadataPath,omitempty"`
	CameraMetadataSHA256 string           `json:"CAMARA_METADATA_SHA256,omitempty" bson:"cameraMetadataSha256,omitempty"`
	CoordSource          CoordinateSource `json:"coordSource,omitempty" bson:"coordSource,omitempty"`
	EnrichedAt           time.Time        `json:"-" bson:"enrichedAt"`
}

// NullMetadata 返回只带标识、其余可选字段全部为空的元数据，用于失败或格式错误的短路结果。
func NullMetadata(id Identity) EnrichedMetadata {
	return EnrichedMetadata{ID: id}
}
