package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func counterValue(mf *dto.MetricFamily, labels map[string]string) float64 {
	if mf == nil {
		return 0
	}
outer:
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if v, ok := labels[lp.GetName()]; ok && v != lp.GetValue() {
				continue outer
			}
		}
		return m.GetCounter().GetValue()
	}
	return 0
}

func TestLifecycleCounters(t *testing.T) {
	before := gather(t)
	WorkerSpawned(true)
	WorkerSpawned(false)
	WorkerExited("crash")
	ModelLoad("timeout")
	StaleReplyDiscarded()
	after := gather(t)

	delta := func(name string, labels map[string]string) float64 {
		return counterValue(after[name], labels) - counterValue(before[name], labels)
	}
	assert.Equal(t, 1.0, delta("sessiond_worker_spawns_total", map[string]string{"result": "ok"}))
	assert.Equal(t, 1.0, delta("sessiond_worker_spawns_total", map[string]string{"result": "error"}))
	assert.Equal(t, 1.0, delta("sessiond_worker_exits_total", map[string]string{"reason": "crash"}))
	assert.Equal(t, 1.0, delta("sessiond_session_loads_total", map[string]string{"result": "timeout"}))
	assert.Equal(t, 1.0, delta("sessiond_session_stale_replies_total", nil))
}

func TestOpenStreamsGauge(t *testing.T) {
	value := func() float64 {
		mf := gather(t)["sessiond_session_open_streams"]
		require.NotNil(t, mf)
		return mf.GetMetric()[0].GetGauge().GetValue()
	}
	start := value()
	StreamOpened()
	StreamOpened()
	assert.Equal(t, start+2, value())
	StreamClosed()
	StreamClosed()
	assert.Equal(t, start, value())
}

func TestUnaryPromptObservesDuration(t *testing.T) {
	UnaryPrompt("ok", 30*time.Millisecond)
	mf := gather(t)["sessiond_session_prompt_duration_seconds"]
	require.NotNil(t, mf)
	var count uint64
	for _, m := range mf.GetMetric() {
		count += m.GetHistogram().GetSampleCount()
	}
	assert.GreaterOrEqual(t, count, uint64(1))
}
