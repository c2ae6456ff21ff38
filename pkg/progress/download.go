package progress

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"
)

// downloadLine 是外部下载进程输出的一行 JSON 进度。
// 两种字段命名都被接受: {"porcentaje":..,"descargadas":..,"total":..} 和 {"percent":..,"completed":..,"total":..}。
type downloadLine struct {
	Porcentaje  *float64 `json:"porcentaje"`
	Percent     *float64 `json:"percent"`
	Descargadas *int     `json:"descargadas"`
	Completed   *int     `json:"completed"`
	Total       *int     `json:"total"`
}

// ParseDownloadLine 把一行下载进度解析为下载阶段事件。
// 支持 JSON 对象、裸数字以及 "PROGRESS: 42" 形式，无法识别的行返回 false。
func ParseDownloadLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}

	if strings.HasPrefix(line, "{") {
		var dl downloadLine
		if err := json.Unmarshal([]byte(line), &dl); err != nil {
			return Event{}, false
		}
		switch {
		case dl.Porcentaje != nil:
			return PercentEvent(PhaseDownloading, *dl.Porcentaje), true
		case dl.Percent != nil:
			return PercentEvent(PhaseDownloading, *dl.Percent), true
		}
		done := dl.Descargadas
		if done == nil {
			done = dl.Completed
		}
		if done != nil && dl.Total != nil && *dl.Total > 0 {
			return CountEvent(PhaseDownloading, *done, *dl.Total), true
		}
		return Event{}, false
	}

	if head, rest, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(head), "progress") {
		line = strings.TrimSpace(rest)
	}
	line = strings.TrimSuffix(line, "%")
	pct, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return Event{}, false
	}
	return PercentEvent(PhaseDownloading, pct), true
}

// ReadDownloadEvents 逐行读取 r，把能识别的下载进度交给 publish，直到 EOF 或 ctx 结束。
func ReadDownloadEvents(ctx context.Context, r io.Reader, publish func(Event)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ev, ok := ParseDownloadLine(scanner.Text()); ok {
			publish(ev)
		}
	}
	return scanner.Err()
}
