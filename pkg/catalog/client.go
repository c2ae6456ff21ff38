// Package catalog 是照片目录数据库 API 的 HTTP 客户端。
package catalog

import (
	"ISS_Harvester/config"
	"ISS_Harvester/internal/models"
	"ISS_Harvester/pkg/planner"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// Querier 执行一次目录查询。流水线通过这个接口访问目录，测试中可以替换。
type Querier interface {
	Query(ctx context.Context, d models.QueryDescriptor) ([]models.RawRecord, error)
}

type Client struct {
	apiURL string
	apiKey string
	http   *http.Client
	log    *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

func NewClient(cfg config.CatalogConfig, opts ...Option) *Client {
	c := &Client{
		apiURL: cfg.APIURL,
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: cfg.Timeout},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL 返回描述符对应的完整请求地址 (query、return、key 三个参数)。
func (c *Client) URL(d models.QueryDescriptor) string {
	q := url.Values{}
	q.Set("query", planner.EncodeQuery(d.Filters))
	q.Set("return", planner.EncodeReturn(d.ReturnFields))
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	return c.apiURL + "?" + q.Encode()
}

// Query 执行查询。非 2xx 状态码和无法解析的 JSON 返回错误；
// 返回值不是数组时视为没有结果。
func (c *Client) Query(ctx context.Context, d models.QueryDescriptor) ([]models.RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(d), nil)
	if err != nil {
		return nil, fmt.Errorf("构建目录请求失败: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("目录查询失败 (%s): %w", d.Source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("目录查询失败 (%s): 状态码 %d", d.Source, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取目录响应失败: %w", err)
	}

	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("目录响应不是有效的 JSON (%s)", d.Source)
	}
	if len(trimmed) == 0 || trimmed[0] != '[' {
		c.log.Warn("目录没有返回结果", "source", d.Source, "window", d.Window)
		return nil, nil
	}

	var rows []models.RawRecord
	if err := json.Unmarshal(trimmed, &rows); err != nil {
		return nil, fmt.Errorf("解析目录响应失败: %w", err)
	}
	c.log.Info("目录查询完成", "source", d.Source, "window", d.Window, "rows", len(rows))
	return rows, nil
}
