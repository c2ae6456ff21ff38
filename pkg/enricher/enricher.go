// Package enricher 抓取照片详情页和相机元数据文件，把目录记录补全为完整的元数据。
package enricher

import (
	"ISS_Harvester/config"
	"ISS_Harvester/internal/models"
	"ISS_Harvester/pkg/hasher"
	"ISS_Harvester/pkg/identity"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	// ErrMalformedIdentity 表示标识不是 mission-roll-frame 三段式。
	ErrMalformedIdentity = errors.New("NASA_ID 格式错误")
	// ErrTimeout 表示单次尝试超过了它自己的计时器。
	ErrTimeout = errors.New("请求超时")
	// ErrNoFilename 表示记录中没有文件名，无法补全。
	ErrNoFilename = errors.New("记录缺少文件名")
)

// Details 是一次查询的合并结果，所有字段都可能为空。
type Details struct {
	PageDetails
	CameraMetadataPath   string `json:"cameraMetadataPath,omitempty"`
	CameraMetadataSHA256 string `json:"cameraMetadataSha256,omitempty"`
}

type Option func(*Enricher)

func WithHTTPClient(c *http.Client) Option {
	return func(e *Enricher) { e.client = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Enricher) { e.log = l }
}

func WithCache(c *Cache) Option {
	return func(e *Enricher) { e.cache = c }
}

func WithLimiter(l *rate.Limiter) Option {
	return func(e *Enricher) { e.limiter = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Enricher) { e.now = now }
}

// Enricher 并发安全，可以被批处理执行器的多个 worker 同时调用。
type Enricher struct {
	cfg          config.EnricherConfig
	imageBaseURL string

	client  *http.Client
	limiter *rate.Limiter
	cache   *Cache
	log     *slog.Logger
	now     func() time.Time
}

func New(cfg config.EnricherConfig, imageBaseURL string, opts ...Option) *Enricher {
	e := &Enricher{
		cfg:          cfg,
		imageBaseURL: strings.TrimRight(imageBaseURL, "/"),
		client:       &http.Client{},
		cache:        NewCache(),
		log:          slog.Default(),
		now:          time.Now,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Enricher) Cache() *Cache { return e.cache }

// ParseIdentity 把 "ISS071-E-12345" 拆分为 mission、roll、frame。
func ParseIdentity(id models.Identity) (mission, roll, frame string, err error) {
	parts := strings.Split(string(id), "-")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("%w: %q", ErrMalformedIdentity, id)
	}
	return parts[0], parts[1], parts[2], nil
}

// DetailURL 返回照片详情页地址。
func (e *Enricher) DetailURL(id models.Identity) (string, error) {
	mission, roll, frame, err := ParseIdentity(id)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("mission", mission)
	q.Set("roll", roll)
	q.Set("frame", frame)
	return strings.TrimRight(e.cfg.SiteBaseURL, "/") + "/SearchPhotos/photo.pl?" + q.Encode(), nil
}

// Lookup 查询一张照片的详情页字段和相机元数据文件。
// 标识格式错误或重试耗尽时返回空的 Details 并记录日志，不会返回错误。
func (e *Enricher) Lookup(ctx context.Context, id models.Identity) Details {
	if _, _, _, err := ParseIdentity(id); err != nil {
		e.log.Warn("跳过格式错误的 NASA_ID", "id", id, "error", err)
		return Details{}
	}

	page, pageHit := e.cache.Page(id)
	file, fileHit := e.cache.File(id)
	if pageHit && fileHit {
		return e.details(page, file)
	}

	var g errgroup.Group
	if !pageHit {
		g.Go(func() error {
			d, err := retry(ctx, e, "详情页", id, e.cfg.PageTimeout, func(ctx context.Context) (PageDetails, error) {
				return e.fetchPage(ctx, id)
			})
			if err != nil {
				return nil
			}
			page = d
			e.cache.SetPage(id, d)
			return nil
		})
	}
	if !fileHit {
		g.Go(func() error {
			p, err := retry(ctx, e, "相机元数据", id, e.cfg.FileTimeout, func(ctx context.Context) (string, error) {
				return e.fetchCameraFile(ctx, id)
			})
			if err != nil {
				return nil
			}
			file = p
			e.cache.SetFile(id, p)
			return nil
		})
	}
	_ = g.Wait()

	return e.details(page, file)
}

func (e *Enricher) details(page PageDetails, file string) Details {
	d := Details{PageDetails: page, CameraMetadataPath: file}
	if file != "" {
		sum, err := hasher.CalculateSHA256(file)
		if err != nil {
			e.log.Warn("无法计算相机元数据校验和", "path", file, "error", err)
		} else {
			d.CameraMetadataSHA256 = sum
		}
	}
	return d
}

// Enrich 把一条归一化记录补全为 EnrichedMetadata。没有文件名的记录返回 ErrNoFilename。
func (e *Enricher) Enrich(ctx context.Context, rec models.NormalizedRecord) (models.EnrichedMetadata, error) {
	filename := rec.Filename()
	id := identity.FromNormalized(rec)
	if filename == "" || !id.Resolved() {
		return models.EnrichedMetadata{}, ErrNoFilename
	}

	var d Details
	if e.cfg.Enabled {
		d = e.Lookup(ctx, id)
	}

	m := models.EnrichedMetadata{
		ID:                   id,
		CapturedDate:         formatDate(rec.Value("pdate")),
		CapturedTime:         formatTime(rec.Value("ptime")),
		Resolution:           formatResolution(rec.Value("width"), rec.Value("height")),
		HasGeoTIFF:           d.HasGeoTIFF,
		NadirLat:             rec.Value("nlat"),
		NadirLon:             rec.Value("nlon"),
		CenterLat:            rec.Value("lat"),
		CenterLon:            rec.Value("lon"),
		NadirCenter:          d.NadirCenter,
		Altitude:             d.Altitude,
		Place:                rec.Value("geon"),
		SunElevation:         rec.Value("elev"),
		SunAzimuth:           rec.Value("azi"),
		CloudCover:           rec.Value("cldp"),
		Camera:               ResolveCamera(rec.Value("camera"), d.CameraLabel),
		FocalLength:          rec.Value("fclt"),
		Tilt:                 rec.Value("tilt"),
		Format:               FilmFormat(rec.Value("film")),
		CameraMetadataPath:   d.CameraMetadataPath,
		CameraMetadataSHA256: d.CameraMetadataSHA256,
		CoordSource:          rec.CoordSource,
		EnrichedAt:           e.now().UTC(),
	}
	if d.CapturedDate != "" {
		m.CapturedDate = d.CapturedDate
	}

	switch dir := rec.Directory(); {
	case d.HasGeoTIFF && d.GeoTIFFURL != "":
		m.ImageURL = d.GeoTIFFURL
	case dir != "":
		m.ImageURL = e.imageBaseURL + "/DatabaseImages/" + dir + "/" + filename
	}
	return m, nil
}

func (e *Enricher) fetchPage(ctx context.Context, id models.Identity) (PageDetails, error) {
	u, err := e.DetailURL(id)
	if err != nil {
		return PageDetails{}, err
	}
	body, err := e.get(ctx, u)
	if err != nil {
		return PageDetails{}, err
	}
	return ParseDetailPage(body, string(id), e.cfg.SiteBaseURL)
}

// fetchCameraFile 在详情页中找到相机元数据文件并下载到 CameraDataDir。
// 本地已有非空文件时跳过下载；页面上没有相机元数据时返回空路径。
func (e *Enricher) fetchCameraFile(ctx context.Context, id models.Identity) (string, error) {
	u, err := e.DetailURL(id)
	if err != nil {
		return "", err
	}
	body, err := e.get(ctx, u)
	if err != nil {
		return "", err
	}
	page, err := ParseDetailPage(body, string(id), e.cfg.SiteBaseURL)
	if err != nil {
		return "", err
	}
	if page.CameraFilePath == "" {
		return "", nil
	}

	target := filepath.Join(e.cfg.CameraDataDir, path.Base(page.CameraFilePath))
	if hasher.NonEmptyFile(target) {
		e.log.Debug("相机元数据已存在，跳过下载", "id", id, "path", target)
		return target, nil
	}

	data, err := e.get(ctx, strings.TrimRight(e.cfg.SiteBaseURL, "/")+page.CameraFilePath)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(e.cfg.CameraDataDir, 0755); err != nil {
		return "", fmt.Errorf("无法创建相机元数据目录: %w", err)
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return "", fmt.Errorf("无法写入相机元数据 %s: %w", target, err)
	}
	e.log.Info("相机元数据已下载", "id", id, "path", target)
	return target, nil
}

func (e *Enricher) get(ctx context.Context, u string) ([]byte, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 %s 失败: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("请求 %s 返回状态码 %d", u, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// retry 最多执行 MaxRetries+1 次 fn，每次尝试都受独立的 timeout 约束，
// 第 n 次失败后等待 n*BackoffUnit。
func retry[T any](ctx context.Context, e *Enricher, what string, id models.Identity, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		v, err := withTimeout(ctx, timeout, fn)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if errors.Is(err, ErrMalformedIdentity) {
			break
		}
		if attempt < e.cfg.MaxRetries {
			e.log.Warn(what+"查询失败，准备重试", "id", id, "attempt", attempt+1, "error", err)
			if err := sleepWithContext(ctx, time.Duration(attempt+1)*e.cfg.BackoffUnit); err != nil {
				lastErr = err
				break
			}
		}
	}
	e.log.Error(what+"查询失败，使用空值", "id", id, "error", lastErr)
	return zero, lastErr
}

// withTimeout 让 fn 与自己的计时器竞争，超时后立即返回 ErrTimeout，不等待 fn 结束。
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w (%s)", ErrTimeout, d)
		}
		return zero, ctx.Err()
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// formatDate 把 YYYYMMDD 转为 YYYY.MM.DD，长度不对时返回空串。
func formatDate(raw string) string {
	if len(raw) != 8 {
		return ""
	}
	return raw[:4] + "." + raw[4:6] + "." + raw[6:8]
}

// formatTime 把 HHMMSS 转为 HH:MM:SS。
func formatTime(raw string) string {
	if len(raw) != 6 {
		return ""
	}
	return raw[:2] + ":" + raw[2:4] + ":" + raw[4:6]
}

func formatResolution(width, height string) string {
	if width == "" || height == "" {
		return ""
	}
	return width + " x " + height + " pixels"
}
