package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// FilterRule 是配置文件中的一条用户过滤条件，对应目录 API 的 table|field|operator|value。
type FilterRule struct {
	Table    string `mapstructure:"table" yaml:"table" json:"table"`
	Field    string `mapstructure:"field" yaml:"field" json:"field"`
	Operator string `mapstructure:"operator" yaml:"operator" json:"operator"`
	Value    string `mapstructure:"value" yaml:"value" json:"value"`
}

type BoundingBox struct {
	LatMin float64 `mapstructure:"latMin" yaml:"latMin" json:"latMin"`
	LatMax float64 `mapstructure:"latMax" yaml:"latMax" json:"latMax"`
	LonMin float64 `mapstructure:"lonMin" yaml:"lonMin" json:"lonMin"`
	LonMax float64 `mapstructure:"lonMax" yaml:"lonMax" json:"lonMax"`
}

type CatalogConfig struct {
	APIURL       string              `mapstructure:"apiURL" yaml:"apiURL" json:"apiURL"`
	APIKey       string              `mapstructure:"apiKey" yaml:"apiKey" json:"apiKey"`
	ImageBaseURL string              `mapstructure:"imageBaseURL" yaml:"imageBaseURL" json:"imageBaseURL"`
	Timeout      time.Duration       `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	HighResOnly  bool                `mapstructure:"highResOnly" yaml:"highResOnly" json:"highResOnly"`
	CoordSources []string            `mapstructure:"coordSources" yaml:"coordSources" json:"coordSources"`
	NightMode    bool                `mapstructure:"nightMode" yaml:"nightMode" json:"nightMode"`
	BoundingBox  BoundingBox         `mapstructure:"boundingBox" yaml:"boundingBox" json:"boundingBox"`
	ReturnFields map[string][]string `mapstructure:"returnFields" yaml:"returnFields" json:"returnFields"`
	Filters      []FilterRule        `mapstructure:"filters" yaml:"filters" json:"filters"`
	// Limit 限制每次任务处理的新图片数量，0 表示不限制
	Limit int `mapstructure:"limit" yaml:"limit" json:"limit"`
}

type EnricherConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	SiteBaseURL       string        `mapstructure:"siteBaseURL" yaml:"siteBaseURL" json:"siteBaseURL"`
	PageTimeout       time.Duration `mapstructure:"pageTimeout" yaml:"pageTimeout" json:"pageTimeout"`
	FileTimeout       time.Duration `mapstructure:"fileTimeout" yaml:"fileTimeout" json:"fileTimeout"`
	MaxRetries        int           `mapstructure:"maxRetries" yaml:"maxRetries" json:"maxRetries"`
	BackoffUnit       time.Duration `mapstructure:"backoffUnit" yaml:"backoffUnit" json:"backoffUnit"`
	CameraDataDir     string        `mapstructure:"cameraDataDir" yaml:"cameraDataDir" json:"cameraDataDir"`
	UserAgent         string        `mapstructure:"userAgent" yaml:"userAgent" json:"userAgent"`
	RequestsPerSecond float64       `mapstructure:"requestsPerSecond" yaml:"requestsPerSecond" json:"requestsPerSecond"`
	Burst             int           `mapstructure:"burst" yaml:"burst" json:"burst"`
}

type BatchConfig struct {
	ConcurrencyLimit int           `mapstructure:"concurrencyLimit" yaml:"concurrencyLimit" json:"concurrencyLimit"`
	ChunkDelay       time.Duration `mapstructure:"chunkDelay" yaml:"chunkDelay" json:"chunkDelay"`
}

// ExistenceConfig 决定存在性检查失败时的处理策略。
// "fail-open": 查询失败时视为新图片（可能重复处理）；"fail-closed": 视为已处理（可能漏掉新数据）。
type ExistenceConfig struct {
	Policy string `mapstructure:"policy" yaml:"policy" json:"policy"`
}

type DownloadConfig struct {
	Command     string   `mapstructure:"command" yaml:"command" json:"command"`
	Args        []string `mapstructure:"args" yaml:"args" json:"args"`
	ManifestDir string   `mapstructure:"manifestDir" yaml:"manifestDir" json:"manifestDir"`
}

type Config struct {
	Server struct {
		Port    string        `mapstructure:"port" yaml:"port" json:"port"`
		Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	} `mapstructure:"server" yaml:"server" json:"server"`

	Database struct {
		Driver     string `mapstructure:"driver" yaml:"driver" json:"driver"`
		URI        string `mapstructure:"uri" yaml:"uri" json:"uri"`
		Name       string `mapstructure:"name" yaml:"name" json:"name"`
		SQLitePath string `mapstructure:"sqlitePath" yaml:"sqlitePath" json:"sqlitePath"`
	} `mapstructure:"database" yaml:"database" json:"database"`

	Logger struct {
		Level  string `mapstructure:"level" yaml:"level" json:"level"`
		Format string `mapstructure:"format" yaml:"format" json:"format"`
		Path   string `mapstructure:"path" yaml:"path" json:"path"`
	} `mapstructure:"logger" yaml:"logger" json:"logger"`

	Catalog   CatalogConfig   `mapstructure:"catalog" yaml:"catalog" json:"catalog"`
	Enricher  EnricherConfig  `mapstructure:"enricher" yaml:"enricher" json:"enricher"`
	Batch     BatchConfig     `mapstructure:"batch" yaml:"batch" json:"batch"`
	Existence ExistenceConfig `mapstructure:"existence" yaml:"existence" json:"existence"`
	Download  DownloadConfig  `mapstructure:"download" yaml:"download" json:"download"`
}

const (
	PolicyFailOpen   = "fail-open"
	PolicyFailClosed = "fail-closed"
)

var (
	C  *Config
	mu sync.RWMutex
)

// Source 返回当前生效的配置，长期运行的组件在每次任务开始时调用它。
type Source func() *Config

// Static 返回始终给出 c 的配置来源。
func Static(c *Config) Source {
	return func() *Config { return c }
}

// Current 返回全局配置 C。
func Current() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return C
}

// Replace 替换全局配置。之后开始的任务读取新配置，正在运行的任务继续使用旧配置。
func Replace(c *Config) {
	mu.Lock()
	C = c
	mu.Unlock()
}

// Default 返回一份完整的默认配置，LoadConfig 会在它的基础上覆盖文件中的值。
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = ":8080"
	cfg.Server.Timeout = 30 * time.Second

	cfg.Database.Driver = "mongo"
	cfg.Database.URI = "mongodb://localhost:27017"
	cfg.Database.Name = "iss_harvester"
	cfg.Database.SQLitePath = "db/metadata.db"

	cfg.Logger.Level = "info"
	cfg.Logger.Format = "text"
	cfg.Logger.Path = "logs"

	cfg.Catalog = CatalogConfig{
		APIURL:       "https://eol.jsc.nasa.gov/SearchPhotos/PhotosDatabaseAPI/PhotosDatabaseAPI.pl",
		ImageBaseURL: "https://eol.jsc.nasa.gov",
		Timeout:      30 * time.Second,
		HighResOnly:  true,
		CoordSources: []string{"frames", "nadir", "mlcoord"},
		NightMode:    true,
		// 默认区域: 哥斯达黎加
		BoundingBox: BoundingBox{LatMin: 6.1, LatMax: 10.8, LonMin: -82.9, LonMax: -77.3},
		ReturnFields: map[string][]string{
			"frames":  {"mission", "roll", "frame", "pdate", "ptime", "lat", "lon", "nlat", "nlon", "camera", "film"},
			"nadir":   {"mission", "roll", "frame", "pdate", "ptime", "lat", "lon", "azi", "elev"},
			"mlcoord": {"mission", "roll", "frame", "lat", "lon", "orientation"},
			"images":  {"directory", "filename", "width", "height"},
		},
	}

	cfg.Enricher = EnricherConfig{
		Enabled:           true,
		SiteBaseURL:       "https://eol.jsc.nasa.gov",
		PageTimeout:       8 * time.Second,
		FileTimeout:       10 * time.Second,
		MaxRetries:        2,
		BackoffUnit:       time.Second,
		CameraDataDir:     "camera_data",
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		RequestsPerSecond: 0,
		Burst:             10,
	}

	cfg.Batch = BatchConfig{ConcurrencyLimit: 10, ChunkDelay: 100 * time.Millisecond}
	cfg.Existence = ExistenceConfig{Policy: PolicyFailOpen}
	cfg.Download = DownloadConfig{ManifestDir: "manifests"}
	return cfg
}

// LoadConfig 从 path 目录读取 config.yaml，并把结果写入全局变量 C。
func LoadConfig(path string) (err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	if err = v.ReadInConfig(); err != nil {
		return
	}

	cfg := Default()
	// 文件中给出的 returnFields 整体替换默认值，而不是与之合并
	if v.IsSet("catalog.returnFields") {
		cfg.Catalog.ReturnFields = nil
	}
	if err = v.Unmarshal(cfg); err != nil {
		return
	}
	if err = cfg.Validate(); err != nil {
		return
	}
	Replace(cfg)
	return
}

// Validate 检查配置中互相依赖或必填的字段。
func (c *Config) Validate() error {
	var errs []error
	if c.Catalog.APIURL == "" {
		errs = append(errs, errors.New("catalog.apiURL 不能为空"))
	}
	if len(c.Catalog.CoordSources) == 0 {
		errs = append(errs, errors.New("catalog.coordSources 至少需要一个坐标来源"))
	}
	bb := c.Catalog.BoundingBox
	if bb.LatMin > bb.LatMax || bb.LonMin > bb.LonMax {
		errs = append(errs, fmt.Errorf("catalog.boundingBox 范围无效: %+v", bb))
	}
	if c.Batch.ConcurrencyLimit < 0 {
		errs = append(errs, errors.New("batch.concurrencyLimit 不能为负数"))
	}
	if c.Enricher.MaxRetries < 0 {
		errs = append(errs, errors.New("enricher.maxRetries 不能为负数"))
	}
	switch c.Existence.Policy {
	case PolicyFailOpen, PolicyFailClosed:
	default:
		errs = append(errs, fmt.Errorf("existence.policy 无效: %q", c.Existence.Policy))
	}
	switch c.Database.Driver {
	case "mongo", "sqlite", "none":
	default:
		errs = append(errs, fmt.Errorf("database.driver 无效: %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}
