package enricher

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

const noGeoTIFFMarker = "No GeoTIFF is available for this photo"

var (
	dateTakenRe = regexp.MustCompile(`(?i)Date taken[^<]*</td>\s*<td[^>]*>([^<]+)</td>`)
	dottedDate  = regexp.MustCompile(`(\d{4})\.(\d{2})\.(\d{2})`)
	altitudeRe  = regexp.MustCompile(`\(([\d.,]+)\s*km\)`)
	rawAltRe    = regexp.MustCompile(`Spacecraft Altitude[^(]*\(([\d.,]+)\s*km\)`)
)

// PageDetails 是从照片详情页抓取到的字段，未找到的字段保持零值。
type PageDetails struct {
	CapturedDate string   `json:"capturedDate,omitempty"`
	CameraLabel  string   `json:"cameraLabel,omitempty"`
	NadirCenter  string   `json:"nadirCenter,omitempty"`
	Altitude     *float64 `json:"altitude,omitempty"`
	HasGeoTIFF   bool     `json:"hasGeoTiff"`
	GeoTIFFURL   string   `json:"geoTiffUrl,omitempty"`
	// CameraFilePath 是 "View camera metadata" 按钮指向的站内路径
	CameraFilePath string `json:"cameraFilePath,omitempty"`
}

// ParseDetailPage 解析详情页 HTML。siteBase 用于拼接 GeoTIFF 地址。
func ParseDetailPage(body []byte, id, siteBase string) (PageDetails, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return PageDetails{}, fmt.Errorf("解析详情页失败: %w", err)
	}

	raw := string(body)
	d := PageDetails{
		CapturedDate:   parseCapturedDate(raw),
		CameraLabel:    findCameraLabel(doc),
		NadirCenter:    emSiblingText(doc, "Nadir to Photo Center:"),
		Altitude:       parseAltitude(doc, raw),
		HasGeoTIFF:     !strings.Contains(raw, noGeoTIFFMarker),
		CameraFilePath: findCameraFilePath(doc),
	}
	if d.HasGeoTIFF {
		d.GeoTIFFURL = strings.TrimRight(siteBase, "/") + "/SearchPhotos/GetGeotiff.pl?photo=" + id
	}
	return d, nil
}

// parseCapturedDate 先匹配 "Date taken" 单元格，失败时退回页面中第一个 YYYY.MM.DD，输出 YYYY-MM-DD。
func parseCapturedDate(raw string) string {
	if m := dateTakenRe.FindStringSubmatch(raw); m != nil {
		if dm := dottedDate.FindStringSubmatch(m[1]); dm != nil {
			return dm[1] + "-" + dm[2] + "-" + dm[3]
		}
		if v := strings.TrimSpace(m[1]); v != "" {
			return strings.ReplaceAll(v, ".", "-")
		}
	}
	if dm := dottedDate.FindStringSubmatch(raw); dm != nil {
		return dm[1] + "-" + dm[2] + "-" + dm[3]
	}
	return ""
}

func parseAltitude(doc *html.Node, raw string) *float64 {
	var text string
	walk(doc, func(n *html.Node) bool {
		if isElement(n, "em") && strings.Contains(textContent(n), "Spacecraft Altitude") {
			if n.Parent != nil {
				text = textContent(n.Parent)
			}
			return false
		}
		return true
	})

	var m []string
	if text != "" {
		m = altitudeRe.FindStringSubmatch(text)
	}
	if m == nil {
		m = rawAltRe.FindStringSubmatch(raw)
	}
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return nil
	}
	return &v
}

// findCameraLabel 优先取 <em>Camera:</em> 之后的文本；没有时取标签为 "Camera" 的 <td> 的下一个 <td>。
func findCameraLabel(doc *html.Node) string {
	if label := emSiblingText(doc, "Camera:"); label != "" {
		return label
	}
	var label string
	walk(doc, func(n *html.Node) bool {
		if !isElement(n, "td") {
			return true
		}
		name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(textContent(n))), ":")
		if strings.TrimSpace(name) != "camera" {
			return true
		}
		if next := nextElement(n, "td"); next != nil {
			if v := strings.TrimSpace(textContent(next)); v != "" {
				label = v
				return false
			}
		}
		return true
	})
	return label
}

// emSiblingText 返回包含 marker 的 <em> 后面紧跟的文本，去掉引号。
func emSiblingText(doc *html.Node, marker string) string {
	var out string
	walk(doc, func(n *html.Node) bool {
		if isElement(n, "em") && strings.Contains(textContent(n), marker) {
			if sib := n.NextSibling; sib != nil {
				t := sib.Data
				if sib.Type != html.TextNode {
					t = textContent(sib)
				}
				out = strings.TrimSpace(strings.NewReplacer(`"`, "", "'", "").Replace(t))
			}
			return false
		}
		return true
	})
	return out
}

// findCameraFilePath 从 <input type="button" value="View camera metadata" onclick="...('/path')"> 中取出站内路径。
// 路径必须以 '/' 开头，否则视为不存在。
func findCameraFilePath(doc *html.Node) string {
	var path string
	walk(doc, func(n *html.Node) bool {
		if !isElement(n, "input") || attr(n, "type") != "button" || attr(n, "value") != "View camera metadata" {
			return true
		}
		onclick := attr(n, "onclick")
		start := strings.Index(onclick, "('")
		if start < 0 {
			return false
		}
		rest := onclick[start+2:]
		end := strings.Index(rest, "')")
		if end < 0 {
			return false
		}
		if p := rest[:end]; strings.HasPrefix(p, "/") {
			path = p
		}
		return false
	})
	return path
}

// walk 深度优先遍历，fn 返回 false 时停止整个遍历。
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nextElement(n *html.Node, tag string) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			if s.Data == tag {
				return s
			}
			return nil
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}
