package metrics

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleProcessSelf(t *testing.T) {
	s, err := SampleProcess(context.Background(), "self", int32(os.Getpid()), 0)
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), s.PID)
	assert.Equal(t, "self", s.Name)
	assert.Greater(t, s.MemoryRSS, uint64(0))
	assert.False(t, s.StartedAt.IsZero())
	assert.GreaterOrEqual(t, s.Uptime, time.Duration(0))
}

func TestSampleProcessWithCPUWindow(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	s, err := SampleProcess(context.Background(), "sleeper", int32(cmd.Process.Pid), 50*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.CPUPercent, 0.0)
	assert.Less(t, s.CPUPercent, 50.0)
}

func TestSampleProcessMissing(t *testing.T) {
	_, err := SampleProcess(context.Background(), "ghost", 1<<30, 0)
	assert.Error(t, err)
}

func TestPublishSample(t *testing.T) {
	reg := freshRegistry(t)
	s := &ProcessSample{Name: "kats", CPUPercent: 12.5, MemoryRSS: 4096, Uptime: 90 * time.Second}
	s.Publish()
	var nilSample *ProcessSample
	nilSample.Publish()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	found := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "name" && lp.GetValue() == "kats" && m.GetGauge() != nil {
					found[mf.GetName()] = m.GetGauge().GetValue()
				}
			}
		}
	}
	assert.Equal(t, 12.5, found["katsctl_process_cpu_percent"])
	assert.Equal(t, 4096.0, found["katsctl_process_memory_rss_bytes"])
	assert.Equal(t, 90.0, found["katsctl_process_uptime_seconds"])
}
