// Package batch 以固定大小的分块并发执行任务：同一时刻最多 Limit 个任务在运行，
// 分块之间等待全部完成并停顿 Delay。
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// ErrCancelled 表示执行在两个分块之间被取消。
var ErrCancelled = errors.New("批处理已取消")

// Options 控制执行器的并发和节奏。
type Options struct {
	// Limit 是每个分块的大小，即并发上限。<=0 时使用 CPU 核心数。
	Limit int
	// Delay 是两个分块之间的停顿，最后一个分块之后不停顿。
	Delay time.Duration
	// Report 在每个分块结束后以 (已处理, 总数) 回调。
	Report func(processed, total int)
	// Cancelled 在每个分块开始前轮询，返回 true 时停止派发后续分块。
	Cancelled func() bool
	Logger    *slog.Logger
}

// Failure 记录一个失败的元素。
type Failure struct {
	Index int
	Err   error
}

// Result 是一次执行的汇总。Values 只包含成功的结果，按输入顺序排列。
type Result[R any] struct {
	Values    []R
	Failures  []Failure
	Processed int
	Total     int
	Cancelled bool
}

type slot[R any] struct {
	value R
	err   error
}

// Run 按分块执行 worker。单个元素失败（包括 panic）不会影响同一分块中的其他元素。
// ctx 结束或 Cancelled 返回 true 时，已开始的分块会正常结束，后续分块不再派发。
func Run[T, R any](ctx context.Context, items []T, worker func(ctx context.Context, item T) (R, error), opts Options) Result[R] {
	limit := opts.Limit
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	res := Result[R]{Total: len(items)}
	if len(items) == 0 {
		return res
	}

	for start := 0; start < len(items); start += limit {
		if ctx.Err() != nil || (opts.Cancelled != nil && opts.Cancelled()) {
			res.Cancelled = true
			log.Info("批处理在分块之间被取消", "processed", res.Processed, "total", res.Total)
			break
		}

		end := min(start+limit, len(items))
		slots := make([]slot[R], end-start)

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						slots[i-start].err = fmt.Errorf("任务 panic: %v", r)
					}
				}()
				v, err := worker(ctx, items[i])
				slots[i-start] = slot[R]{value: v, err: err}
			}(i)
		}
		wg.Wait()

		for j, s := range slots {
			if s.err != nil {
				res.Failures = append(res.Failures, Failure{Index: start + j, Err: s.err})
				log.Warn("批处理元素失败", "index", start+j, "error", s.err)
				continue
			}
			res.Values = append(res.Values, s.value)
		}
		res.Processed = end
		if opts.Report != nil {
			opts.Report(res.Processed, res.Total)
		}

		if end < len(items) {
			if err := sleepWithContext(ctx, opts.Delay); err != nil {
				res.Cancelled = true
				break
			}
		}
	}

	return res
}

// Err 在执行被取消时返回 ErrCancelled，否则返回 nil。元素级失败不视为整体错误。
func (r Result[R]) Err() error {
	if r.Cancelled {
		return ErrCancelled
	}
	return nil
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
