// Package taskpoll is the bounded polling primitive behind media generation:
// fixed attempt schedule, per-task single flight, terminal status resolution.
// It never returns an error to the caller; every run ends in a terminal task.
package taskpoll

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"floaagent/pkg/logging"
	"floaagent/pkg/monitoring"
)

// Status is a generation task's lifecycle state.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusTimeout means the attempt budget ran out while the task was still
	// processing. Distinct from failed so callers can say "check back later".
	StatusTimeout Status = "timeout"
)

// ErrNotFound marks a status response saying the task does not exist.
// On the first attempt it is a hard failure; later it is treated as transient.
var ErrNotFound = errors.New("taskpoll: task not found")

// Update is one observation of a task's remote status.
type Update struct {
	Status     Status
	ResultURLs []string
	Message    string
}

// StatusFunc fetches the remote status for one task id.
type StatusFunc func(ctx context.Context, taskID string) (*Update, error)

// GenerationTask is the task as the poller sees it.
type GenerationTask struct {
	ID         string    `json:"id"`
	Status     Status    `json:"status"`
	Attempt    int       `json:"attempt"`
	ResultURLs []string  `json:"result_urls,omitempty"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// Terminal reports whether the task has reached a final status.
func (t GenerationTask) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed || t.Status == StatusTimeout
}

// Options bound one polling run.
type Options struct {
	MaxAttempts int
	Interval    time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 60
	}
	if o.Interval <= 0 {
		o.Interval = 3 * time.Second
	}
	return o
}

// Run is one active or finished polling run. Multiple callers may hold the
// same Run when they asked for the same task id.
type Run struct {
	mu   sync.Mutex
	task GenerationTask
	done chan struct{}
}

// Done is closed when the run reaches a terminal status or is abandoned.
func (r *Run) Done() <-chan struct{} { return r.done }

// Task returns a snapshot of the run's task.
func (r *Run) Task() GenerationTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.task
}

// Wait blocks until the run finishes or ctx is cancelled.
func (r *Run) Wait(ctx context.Context) (GenerationTask, error) {
	select {
	case <-r.done:
		return r.Task(), nil
	case <-ctx.Done():
		return r.Task(), ctx.Err()
	}
}

func (r *Run) update(fn func(*GenerationTask)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.task)
}

// Poller runs bounded status polls with one flight per task id.
type Poller struct {
	logger   logging.Logger
	db       *sql.DB // nil disables journaling
	outcomes *prometheus.CounterVec

	mu   sync.Mutex
	runs map[string]*Run
}

// Config wires the poller's dependencies. DB and Metrics are optional.
type Config struct {
	Logger  logging.Logger
	DB      *sql.DB
	Metrics *monitoring.MetricsCollector
}

// NewPoller creates a poller.
func NewPoller(cfg Config) *Poller {
	p := &Poller{
		logger: cfg.Logger,
		db:     cfg.DB,
		runs:   make(map[string]*Run),
	}
	if cfg.Metrics != nil {
		p.outcomes = cfg.Metrics.NewCounter(
			"generation_task_outcomes_total",
			"Terminal generation task outcomes by status",
			[]string{"status"},
		)
	}
	return p
}

// Start begins polling taskID, or joins the run already known for it. A
// terminal run stays in the registry, so restarting a finished id is a no-op
// join until the run is acknowledged. The second return reports whether this
// call started a new run.
func (p *Poller) Start(ctx context.Context, taskID string, statusFn StatusFunc, opts Options) (*Run, bool) {
	p.mu.Lock()
	if existing, ok := p.runs[taskID]; ok {
		p.mu.Unlock()
		return existing, false
	}
	run := &Run{
		task: GenerationTask{ID: taskID, Status: StatusProcessing, StartedAt: time.Now()},
		done: make(chan struct{}),
	}
	p.runs[taskID] = run
	p.mu.Unlock()

	go p.loop(ctx, run, statusFn, opts.withDefaults())
	return run, true
}

// Lookup returns the run for a task id, active or finished.
func (p *Poller) Lookup(taskID string) (*Run, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	run, ok := p.runs[taskID]
	return run, ok
}

// Acknowledge evicts a finished run so its id can be polled afresh.
// Active runs are left alone; returns whether a run was evicted.
func (p *Poller) Acknowledge(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	run, ok := p.runs[taskID]
	if !ok || !run.Task().Terminal() {
		return false
	}
	delete(p.runs, taskID)
	return true
}

func (p *Poller) loop(ctx context.Context, run *Run, statusFn StatusFunc, opts Options) {
	defer close(run.done)

	log := p.logger.WithField("task_id", run.Task().ID)

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		run.update(func(t *GenerationTask) { t.Attempt = attempt })

		upd, err := statusFn(ctx, run.Task().ID)
		switch {
		case err != nil && ctx.Err() != nil:
			// Abandoned mid-attempt; the result is discarded and the id freed
			log.Debug("Poll abandoned")
			p.forget(run)
			return
		case err != nil && attempt == 1 && errors.Is(err, ErrNotFound):
			p.finish(run, log, func(t *GenerationTask) {
				t.Status = StatusFailed
				t.Message = "task does not exist"
			})
			return
		case err != nil:
			// Transient; the fixed schedule absorbs it
			log.WithError(err).Debug("Poll attempt failed, retrying")
		default:
			switch upd.Status {
			case StatusCompleted:
				p.finish(run, log, func(t *GenerationTask) {
					t.Status = StatusCompleted
					t.ResultURLs = upd.ResultURLs
					t.Message = upd.Message
				})
				return
			case StatusFailed:
				p.finish(run, log, func(t *GenerationTask) {
					t.Status = StatusFailed
					t.Message = upd.Message
				})
				return
			}
		}

		if attempt == opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			log.Debug("Poll abandoned")
			p.forget(run)
			return
		case <-time.After(opts.Interval):
		}
	}

	p.finish(run, log, func(t *GenerationTask) { t.Status = StatusTimeout })
}

func (p *Poller) finish(run *Run, log logging.Entry, mutate func(*GenerationTask)) {
	run.update(mutate)
	task := run.Task()
	log.WithField("status", string(task.Status)).WithField("attempts", task.Attempt).
		Info("Generation task finished")

	if p.outcomes != nil {
		p.outcomes.WithLabelValues(string(task.Status)).Inc()
	}
	p.journal(task)
}

// forget drops an abandoned run. Terminal runs are only removed by
// Acknowledge so finished results stay observable.
func (p *Poller) forget(run *Run) {
	id := run.Task().ID
	p.mu.Lock()
	delete(p.runs, id)
	p.mu.Unlock()
}

// journal records a terminal outcome. Warn-only; polling already succeeded
// or failed on its own terms.
func (p *Poller) journal(task GenerationTask) {
	if p.db == nil {
		return
	}
	resultURL := ""
	if len(task.ResultURLs) > 0 {
		resultURL = task.ResultURLs[0]
	}
	_, err := p.db.Exec(`
		INSERT INTO conductor.generation_tasks (task_id, status, attempts, result_url, message, finished_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (task_id) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			result_url = EXCLUDED.result_url,
			message = EXCLUDED.message,
			finished_at = EXCLUDED.finished_at
	`, task.ID, string(task.Status), task.Attempt, resultURL, task.Message)
	if err != nil {
		p.logger.WithError(err).WithField("task_id", task.ID).Warn("Failed to journal generation task")
	}
}
