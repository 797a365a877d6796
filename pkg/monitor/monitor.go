// Package monitor tracks running jobs against the generative backend and
// fans progress updates out to subscribers.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/renderloom/loom/pkg/backend"
	"github.com/renderloom/loom/pkg/catalog"
)

// Progress statuses published to subscribers.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Wall-clock bounds per job type. Exceeding one transitions the job to
// timeout.
const (
	ImageWallClock = 120 * time.Second
	VideoWallClock = 300 * time.Second
)

// subscriberBuffer sizes each subscriber channel. Sends never block the poll
// loop; a full channel drops the update and the subscriber reconciles via
// GetProgress.
const subscriberBuffer = 64

// Update is one progress message.
type Update struct {
	JobID               string     `json:"job_id"`
	BackendPromptID     string     `json:"backend_prompt_id"`
	Status              string     `json:"status"`
	ProgressPercent     float64    `json:"progress_percent"`
	CurrentStep         *int       `json:"current_step,omitempty"`
	TotalSteps          *int       `json:"total_steps,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	GenerationTime      float64    `json:"generation_time"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	Timestamp           time.Time  `json:"timestamp"`
}

// Finalizer receives terminal outcomes. The monitor publishes the terminal
// update itself; the finalizer owns job transitions and artifact handling.
type Finalizer interface {
	OnCompleted(jobID string, history *backend.History)
	OnFailed(jobID, errorMessage string)
	OnTimeout(jobID string)
}

type watch struct {
	jobID      string
	promptID   string
	jobType    catalog.JobType
	startedAt  time.Time
	last       Update
	hasLast    bool
	terminated bool
}

// Monitor polls all registered jobs on one goroutine.
type Monitor struct {
	connector *backend.Connector
	finalizer Finalizer
	logger    *slog.Logger
	interval  time.Duration

	mu      sync.Mutex
	watches map[string]*watch
	subs    map[string]map[chan Update]struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewMonitor creates a monitor polling at the given interval (1-2s typical).
func NewMonitor(connector *backend.Connector, finalizer Finalizer, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		connector: connector,
		finalizer: finalizer,
		logger:    logger,
		interval:  interval,
		watches:   map[string]*watch{},
		subs:      map[string]map[chan Update]struct{}{},
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the poll loop until Stop or context cancellation.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.pollOnce(ctx)
			}
		}
	}()
}

// Stop halts the poll loop. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}

// Register starts tracking one submitted job.
func (m *Monitor) Register(jobID, backendPromptID string, jobType catalog.JobType) {
	m.mu.Lock()
	m.watches[jobID] = &watch{
		jobID:     jobID,
		promptID:  backendPromptID,
		jobType:   jobType,
		startedAt: time.Now(),
	}
	m.mu.Unlock()
	m.logger.Info("Job registered for monitoring", "job_id", jobID, "backend_id", backendPromptID)
}

// Unregister stops tracking a job. Monitoring stops within one poll cycle;
// calling it again is a no-op.
func (m *Monitor) Unregister(jobID string) {
	m.mu.Lock()
	delete(m.watches, jobID)
	m.mu.Unlock()
}

// Subscribe attaches a consumer to one job's updates. The returned cancel
// func is idempotent.
func (m *Monitor) Subscribe(jobID string) (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)
	m.mu.Lock()
	if m.subs[jobID] == nil {
		m.subs[jobID] = map[chan Update]struct{}{}
	}
	m.subs[jobID][ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			if set, ok := m.subs[jobID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(m.subs, jobID)
				}
			}
			m.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// GetProgress returns the last published update for a job, if any.
func (m *Monitor) GetProgress(jobID string) (Update, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watches[jobID]
	if !ok || !w.hasLast {
		return Update{}, false
	}
	return w.last, true
}

// ActiveCount reports how many jobs are being watched.
func (m *Monitor) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

// pollOnce checks every watched job once.
func (m *Monitor) pollOnce(ctx context.Context) {
	m.mu.Lock()
	snapshot := make([]*watch, 0, len(m.watches))
	for _, w := range m.watches {
		snapshot = append(snapshot, w)
	}
	m.mu.Unlock()

	for _, w := range snapshot {
		m.pollWatch(ctx, w)
	}
}

func (m *Monitor) pollWatch(ctx context.Context, w *watch) {
	elapsed := time.Since(w.startedAt)
	bound := ImageWallClock
	if w.jobType == catalog.JobTypeVideo || w.jobType == catalog.JobTypeBatch {
		bound = VideoWallClock
	}
	if elapsed > bound {
		m.publish(w, Update{
			JobID:           w.jobID,
			BackendPromptID: w.promptID,
			Status:          StatusFailed,
			ProgressPercent: w.lastProgress(),
			GenerationTime:  elapsed.Seconds(),
			ErrorMessage:    "generation exceeded wall-clock bound",
			Timestamp:       time.Now().UTC(),
		})
		m.finish(w)
		if m.finalizer != nil {
			m.finalizer.OnTimeout(w.jobID)
		}
		return
	}

	history, err := m.connector.GetHistory(ctx, w.promptID)
	if err != nil {
		m.logger.Warn("History poll failed", "job_id", w.jobID, "error", err)
		return
	}

	update := deriveUpdate(w, history, elapsed)
	m.publish(w, update)

	switch update.Status {
	case StatusCompleted:
		m.finish(w)
		if m.finalizer != nil {
			m.finalizer.OnCompleted(w.jobID, history)
		}
	case StatusFailed:
		m.finish(w)
		if m.finalizer != nil {
			m.finalizer.OnFailed(w.jobID, update.ErrorMessage)
		}
	}
}

// deriveUpdate maps a history record onto a progress update.
func deriveUpdate(w *watch, history *backend.History, elapsed time.Duration) Update {
	update := Update{
		JobID:           w.jobID,
		BackendPromptID: w.promptID,
		GenerationTime:  elapsed.Seconds(),
		Timestamp:       time.Now().UTC(),
	}
	switch {
	case history == nil:
		update.Status = StatusQueued
		update.ProgressPercent = 5
	case history.Status == "error":
		update.Status = StatusFailed
		update.ProgressPercent = w.lastProgress()
		update.ErrorMessage = history.Error
	case len(history.OutputFiles()) > 0:
		update.Status = StatusCompleted
		update.ProgressPercent = 100
	case history.Completed():
		// Finished with no outputs: the generation produced nothing usable.
		update.Status = StatusFailed
		update.ProgressPercent = w.lastProgress()
		update.ErrorMessage = "backend completed without outputs"
	default:
		update.Status = StatusProcessing
		// No step telemetry from the history poll; advance a coarse estimate.
		update.ProgressPercent = 10 + min(80, elapsed.Seconds()*2)
	}
	return update
}

// publish diffs against the last update and fans out. Progress never moves
// backward; an update that would regress is discarded.
func (m *Monitor) publish(w *watch, update Update) {
	m.mu.Lock()
	if w.terminated {
		m.mu.Unlock()
		return
	}
	if w.hasLast {
		if update.Status == w.last.Status && update.ProgressPercent == w.last.ProgressPercent {
			m.mu.Unlock()
			return
		}
		if update.ProgressPercent < w.last.ProgressPercent {
			m.mu.Unlock()
			return
		}
	}
	w.last = update
	w.hasLast = true
	// Fan out under the lock so a concurrent unsubscribe cannot close a
	// channel mid-send. Sends are non-blocking, so the lock is held briefly.
	for ch := range m.subs[w.jobID] {
		select {
		case ch <- update:
		default:
			// Subscriber is behind; it reconciles via GetProgress.
		}
	}
	m.mu.Unlock()
}

func (m *Monitor) finish(w *watch) {
	m.mu.Lock()
	w.terminated = true
	delete(m.watches, w.jobID)
	m.mu.Unlock()
}

func (w *watch) lastProgress() float64 {
	if w.hasLast {
		return w.last.ProgressPercent
	}
	return 0
}
