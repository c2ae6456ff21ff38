// Package progress 把「补全」和「下载」两个阶段的进度合并为一个 0-100 的统一百分比。
package progress

import (
	"context"
	"sync"
	"sync/atomic"
)

type Phase string

const (
	PhaseEnriching   Phase = "enriching"
	PhaseDownloading Phase = "downloading"
)

// EnrichWeight 是补全阶段在统一进度中所占的百分比，其余部分属于下载阶段。
const EnrichWeight = 30.0

// Event 是某个阶段上报的一次进度。Total > 0 时按 Processed/Total 计算，否则使用 Fraction。
type Event struct {
	Phase     Phase   `json:"phase"`
	Fraction  float64 `json:"fraction,omitempty"`
	Processed int     `json:"processed,omitempty"`
	Total     int     `json:"total,omitempty"`
}

func FractionEvent(phase Phase, f float64) Event {
	return Event{Phase: phase, Fraction: f}
}

func CountEvent(phase Phase, processed, total int) Event {
	return Event{Phase: phase, Processed: processed, Total: total}
}

// PercentEvent 把外部下载进程上报的 0-100 百分比转换为事件。
func PercentEvent(phase Phase, percent float64) Event {
	return Event{Phase: phase, Fraction: percent / 100}
}

func (e Event) fraction() float64 {
	f := e.Fraction
	if e.Total > 0 {
		f = float64(e.Processed) / float64(e.Total)
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// State 是聚合器当前的快照。
type State struct {
	Phase          Phase   `json:"phase"`
	PhaseFraction  float64 `json:"phaseFraction"`
	UnifiedPercent float64 `json:"unifiedPercent"`
	Terminal       bool    `json:"terminal"`
}

// Unified 计算某阶段进度对应的统一百分比。
func Unified(phase Phase, f float64) float64 {
	switch phase {
	case PhaseEnriching:
		return f * EnrichWeight
	case PhaseDownloading:
		if f >= 1 {
			return 100
		}
		return EnrichWeight + f*(100-EnrichWeight)
	default:
		return 0
	}
}

// Aggregator 维护统一进度。同一输入重复上报不会推进进度，统一进度只增不减；
// 到达 100 后进入终止状态，必须 Reset 才能复用。
type Aggregator struct {
	mu        sync.Mutex
	fractions map[Phase]float64
	state     State
	subs      []chan State

	cancelled atomic.Bool
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		fractions: make(map[Phase]float64),
		state:     State{Phase: PhaseEnriching},
	}
}

// Update 应用一次进度事件并返回最新快照。未知阶段的事件被忽略。
func (a *Aggregator) Update(ev Event) State {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.Terminal || (ev.Phase != PhaseEnriching && ev.Phase != PhaseDownloading) {
		return a.state
	}

	f := ev.fraction()
	if f > a.fractions[ev.Phase] {
		a.fractions[ev.Phase] = f
	}
	f = a.fractions[ev.Phase]

	unified := Unified(ev.Phase, f)
	if unified < a.state.UnifiedPercent {
		return a.state
	}
	if unified == a.state.UnifiedPercent && (phaseOrder(ev.Phase) < phaseOrder(a.state.Phase) ||
		(ev.Phase == a.state.Phase && f == a.state.PhaseFraction)) {
		return a.state
	}

	a.state.Phase = ev.Phase
	a.state.PhaseFraction = f
	a.state.UnifiedPercent = unified
	if unified >= 100 {
		a.state.UnifiedPercent = 100
		a.state.Terminal = true
	}
	a.notifyLocked()
	return a.state
}

// Publish 与 Update 相同，但丢弃返回值，便于作为回调传递。
func (a *Aggregator) Publish(ev Event) {
	a.Update(ev)
}

// phaseOrder 给出阶段的先后顺序，状态中的阶段只能前进。
func phaseOrder(p Phase) int {
	if p == PhaseDownloading {
		return 1
	}
	return 0
}

// ReportEnrichment 以 processed/total 的形式上报补全阶段进度，供批处理执行器调用。
func (a *Aggregator) ReportEnrichment(processed, total int) {
	a.Update(CountEvent(PhaseEnriching, processed, total))
}

// ReportDownload 上报下载阶段的原始百分比 (0-100)。
func (a *Aggregator) ReportDownload(percent float64) {
	a.Update(PercentEvent(PhaseDownloading, percent))
}

func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Reset 清空进度和取消标志，使聚合器可以用于下一次运行。
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.fractions = make(map[Phase]float64)
	a.state = State{Phase: PhaseEnriching}
	a.mu.Unlock()
	a.cancelled.Store(false)
}

// Cancel 设置取消标志。批处理执行器在两个分块之间轮询它，进行中的分块会正常结束。
func (a *Aggregator) Cancel() {
	a.cancelled.Store(true)
}

func (a *Aggregator) Cancelled() bool {
	return a.cancelled.Load()
}

// Subscribe 返回一个接收进度快照的通道。订阅者消费过慢时中间快照会被丢弃。
func (a *Aggregator) Subscribe(buffer int) <-chan State {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan State, buffer)
	a.mu.Lock()
	a.subs = append(a.subs, ch)
	a.mu.Unlock()
	return ch
}

// Close 关闭所有订阅通道。
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range a.subs {
		close(ch)
	}
	a.subs = nil
}

func (a *Aggregator) notifyLocked() {
	for _, ch := range a.subs {
		select {
		case ch <- a.state:
		default:
		}
	}
}

// Run 作为唯一的订阅者消费事件流，直到通道关闭或 ctx 结束。
// 补全阶段和外部下载观察者都向同一个事件通道发布。
func (a *Aggregator) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.Update(ev)
		}
	}
}
