package monitor

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderloom/loom/pkg/backend"
	"github.com/renderloom/loom/pkg/catalog"
)

type recordingFinalizer struct {
	mu        sync.Mutex
	completed []string
	failed    map[string]string
	timedOut  []string
}

func newRecordingFinalizer() *recordingFinalizer {
	return &recordingFinalizer{failed: map[string]string{}}
}

func (f *recordingFinalizer) OnCompleted(jobID string, _ *backend.History) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, jobID)
}

func (f *recordingFinalizer) OnFailed(jobID, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[jobID] = msg
}

func (f *recordingFinalizer) OnTimeout(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timedOut = append(f.timedOut, jobID)
}

func newTestMonitor(t *testing.T, historyBody string, finalizer Finalizer) *Monitor {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(historyBody))
	}))
	t.Cleanup(srv.Close)
	return NewMonitor(backend.NewConnector(srv.URL, slog.Default()), finalizer, time.Second, slog.Default())
}

func TestPublishDiscardsBackwardProgress(t *testing.T) {
	m := newTestMonitor(t, "{}", nil)
	m.Register("j1", "p1", catalog.JobTypeImage)
	m.mu.Lock()
	w := m.watches["j1"]
	m.mu.Unlock()

	ch, cancel := m.Subscribe("j1")
	defer cancel()

	m.publish(w, Update{JobID: "j1", Status: StatusProcessing, ProgressPercent: 40})
	m.publish(w, Update{JobID: "j1", Status: StatusProcessing, ProgressPercent: 25})
	m.publish(w, Update{JobID: "j1", Status: StatusProcessing, ProgressPercent: 60})

	var got []float64
	for len(ch) > 0 {
		got = append(got, (<-ch).ProgressPercent)
	}
	assert.Equal(t, []float64{40, 60}, got)

	last, ok := m.GetProgress("j1")
	require.True(t, ok)
	assert.Equal(t, 60.0, last.ProgressPercent)
}

func TestPublishSkipsUnchangedState(t *testing.T) {
	m := newTestMonitor(t, "{}", nil)
	m.Register("j1", "p1", catalog.JobTypeImage)
	m.mu.Lock()
	w := m.watches["j1"]
	m.mu.Unlock()

	ch, cancel := m.Subscribe("j1")
	defer cancel()

	m.publish(w, Update{JobID: "j1", Status: StatusProcessing, ProgressPercent: 40})
	m.publish(w, Update{JobID: "j1", Status: StatusProcessing, ProgressPercent: 40})
	assert.Len(t, ch, 1)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	m := newTestMonitor(t, "{}", nil)
	_, cancel := m.Subscribe("j1")
	cancel()
	cancel() // second call must not panic or double-close
}

func TestPollCompletesJobWithOutputs(t *testing.T) {
	f := newRecordingFinalizer()
	m := newTestMonitor(t, `{"p1":{
		"status":{"status_str":"success","completed":true},
		"outputs":{"9":{"images":[{"filename":"out.png"}]}}
	}}`, f)
	m.Register("j1", "p1", catalog.JobTypeImage)

	m.pollOnce(context.Background())

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"j1"}, f.completed)
	assert.Zero(t, m.ActiveCount(), "completed jobs leave the watch set")
}

func TestPollFailsJobOnBackendError(t *testing.T) {
	f := newRecordingFinalizer()
	m := newTestMonitor(t, `{"p1":{
		"status":{"status_str":"error","messages":[["execution_error",{"exception_message":"CUDA out of memory"}]]}
	}}`, f)
	m.Register("j1", "p1", catalog.JobTypeImage)

	m.pollOnce(context.Background())

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "CUDA out of memory", f.failed["j1"])
}

func TestWallClockTimeout(t *testing.T) {
	f := newRecordingFinalizer()
	m := newTestMonitor(t, "{}", f)
	m.Register("j1", "p1", catalog.JobTypeImage)
	m.mu.Lock()
	m.watches["j1"].startedAt = time.Now().Add(-ImageWallClock - time.Second)
	m.mu.Unlock()

	m.pollOnce(context.Background())

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"j1"}, f.timedOut)
	assert.Zero(t, m.ActiveCount())
}

func TestUnregisterStopsMonitoring(t *testing.T) {
	m := newTestMonitor(t, "{}", nil)
	m.Register("j1", "p1", catalog.JobTypeVideo)
	m.Unregister("j1")
	m.Unregister("j1")
	assert.Zero(t, m.ActiveCount())
}

func TestDeriveUpdateQueuedWhenNoHistory(t *testing.T) {
	w := &watch{jobID: "j1", promptID: "p1"}
	u := deriveUpdate(w, nil, 2*time.Second)
	assert.Equal(t, StatusQueued, u.Status)
	assert.Equal(t, 5.0, u.ProgressPercent)
}
