package progress

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_MonotonicSequence(t *testing.T) {
	a := NewAggregator()
	var got []float64
	for _, f := range []float64{0, 0.3, 0.6, 1} {
		got = append(got, a.Update(FractionEvent(PhaseEnriching, f)).UnifiedPercent)
	}
	for _, f := range []float64{0, 0.5, 1} {
		got = append(got, a.Update(FractionEvent(PhaseDownloading, f)).UnifiedPercent)
	}

	want := []float64{0, 9, 18, 30, 30, 65, 100}
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9, "step %d", i)
		if i > 0 {
			assert.GreaterOrEqual(t, got[i], got[i-1])
		}
	}
	st := a.State()
	assert.True(t, st.Terminal)
	assert.Equal(t, 100.0, st.UnifiedPercent)
}

func TestAggregator_IdempotentAndNoRegression(t *testing.T) {
	a := NewAggregator()
	first := a.Update(CountEvent(PhaseEnriching, 5, 10))
	again := a.Update(CountEvent(PhaseEnriching, 5, 10))
	assert.Equal(t, first, again)

	back := a.Update(CountEvent(PhaseEnriching, 2, 10))
	assert.InDelta(t, 15, back.UnifiedPercent, 1e-9)

	// 回退的下载事件同样不会让进度减少
	a.Update(PercentEvent(PhaseDownloading, 50))
	st := a.Update(PercentEvent(PhaseDownloading, 10))
	assert.InDelta(t, 65, st.UnifiedPercent, 1e-9)
}

func TestAggregator_ReplayDoesNotMovePhaseBack(t *testing.T) {
	a := NewAggregator()
	updates := a.Subscribe(16)

	a.Update(FractionEvent(PhaseEnriching, 1))
	want := a.Update(FractionEvent(PhaseDownloading, 0))
	require.Equal(t, PhaseDownloading, want.Phase)
	require.Len(t, updates, 2)

	for i := 0; i < 3; i++ {
		assert.Equal(t, want, a.Update(FractionEvent(PhaseEnriching, 1)))
		assert.Equal(t, want, a.Update(FractionEvent(PhaseDownloading, 0)))
	}
	assert.Len(t, updates, 2)
}

func TestAggregator_TerminalUntilReset(t *testing.T) {
	a := NewAggregator()
	a.ReportDownload(100)
	require.True(t, a.State().Terminal)

	st := a.Update(FractionEvent(PhaseEnriching, 0.1))
	assert.Equal(t, 100.0, st.UnifiedPercent)

	a.Cancel()
	a.Reset()
	assert.False(t, a.Cancelled())
	assert.Zero(t, a.State().UnifiedPercent)

	a.ReportEnrichment(1, 2)
	assert.InDelta(t, 15, a.State().UnifiedPercent, 1e-9)
}

func TestAggregator_ClampsOutOfRange(t *testing.T) {
	a := NewAggregator()
	assert.Zero(t, a.Update(FractionEvent(PhaseEnriching, -3)).UnifiedPercent)
	assert.InDelta(t, 30, a.Update(FractionEvent(PhaseEnriching, 7)).UnifiedPercent, 1e-9)
	assert.Zero(t, NewAggregator().Update(Event{Phase: "unknown", Fraction: 1}).UnifiedPercent)
}

func TestAggregator_RunAndSubscribe(t *testing.T) {
	a := NewAggregator()
	sub := a.Subscribe(16)

	events := make(chan Event)
	done := make(chan struct{})
	go func() {
		a.Run(context.Background(), events)
		close(done)
	}()

	events <- CountEvent(PhaseEnriching, 10, 10)
	events <- PercentEvent(PhaseDownloading, 100)
	close(events)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run 未在事件通道关闭后退出")
	}
	a.Close()

	var last State
	for st := range sub {
		last = st
	}
	assert.True(t, last.Terminal)
	assert.Equal(t, PhaseDownloading, last.Phase)
}

func TestParseDownloadLine(t *testing.T) {
	cases := []struct {
		line string
		want float64
		ok   bool
	}{
		{`{"porcentaje": 40, "descargadas": 4, "total": 10}`, 0.4, true},
		{`{"descargadas": 3, "total": 4}`, 0.75, true},
		{`{"percent": 20}`, 0.2, true},
		{"55", 0.55, true},
		{"PROGRESS: 10%", 0.1, true},
		{"descargando ISS071-E-1.JPG", 0, false},
		{`{"total": 0}`, 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		ev, ok := ParseDownloadLine(tc.line)
		assert.Equal(t, tc.ok, ok, tc.line)
		if tc.ok {
			assert.Equal(t, PhaseDownloading, ev.Phase)
			assert.InDelta(t, tc.want, ev.fraction(), 1e-9, tc.line)
		}
	}
}

func TestReadDownloadEvents(t *testing.T) {
	a := NewAggregator()
	a.ReportEnrichment(1, 1)

	out := "iniciando\n{\"porcentaje\": 50}\nbasura\n100\n"
	err := ReadDownloadEvents(context.Background(), strings.NewReader(out), func(ev Event) { a.Update(ev) })
	require.NoError(t, err)
	assert.Equal(t, 100.0, a.State().UnifiedPercent)
}
