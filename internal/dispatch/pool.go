// Package dispatch runs tool calls on a bounded background worker pool so
// the conversation loop is never blocked waiting on a slow webhook. Callers
// submit a task and get a task id back immediately; the result arrives via
// the task's callback and as a best-effort broadcast on the event bus.
//
// Failures are converted into natural-language "do not retry" strings
// rather than errors, because the consumer of a result is typically a
// language model that would otherwise loop on a broken action. The
// resolver's circuit breaker makes that advisory structural after repeated
// failures.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/aiovoice/recall/internal/observe"
	"github.com/aiovoice/recall/internal/resolve"
)

const (
	// DefaultWorkers bounds concurrent tool executions.
	DefaultWorkers = 3
	// DefaultTimeout applies when a task carries none.
	DefaultTimeout = 30 * time.Second
	// MaxTimeout caps any per-task override.
	MaxTimeout = 60 * time.Second

	queueSize  = 128
	drainGrace = time.Second
	digestLen  = 200
)

var (
	ErrNotRunning = errors.New("worker pool is not running")
	ErrQueueFull  = errors.New("worker pool queue is full")
)

// Executor runs a resolved action against the remote marketplace. The
// webhook transport behind it is supplied by the host application.
type Executor interface {
	Execute(ctx context.Context, slug string, args map[string]interface{}) (string, error)
}

// Status tracks a task through its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is a tool call to run in the background.
type Task struct {
	SessionID string
	Slug      string
	Args      map[string]interface{}
	// Callback receives the result before the bus broadcast. Optional.
	Callback func(Result)
	// Timeout overrides DefaultTimeout, capped at MaxTimeout.
	Timeout time.Duration
}

// Result is the outcome of one dispatched task. Output is always safe to
// hand to a language model: execution failures arrive as natural-language
// text here, with the raw error preserved in Err.
type Result struct {
	TaskID    string
	Slug      string
	SessionID string
	Status    Status
	Output    string
	Err       string
	Duration  time.Duration
}

// TaskInfo is the tracked state of a submitted task.
type TaskInfo struct {
	ID          string
	SessionID   string
	Slug        string
	Status      Status
	Output      string
	Err         string
	CreatedAt   time.Time
	CompletedAt time.Time
}

type queued struct {
	id   string
	task Task
}

// Pool executes submitted tasks on a fixed number of workers in submission
// order. Stop lets queued tasks drain briefly, then waits for in-flight
// executions; an in-flight call is never cancelled by shutdown, only by
// its own timeout.
type Pool struct {
	obs      *observe.Observer
	resolver *resolve.Resolver
	executor Executor
	bus      *Bus
	workers  int
	queue    chan queued

	mu      sync.Mutex
	entropy *rand.Rand
	tasks   map[string]*TaskInfo
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool builds a worker pool. workers <= 0 selects DefaultWorkers; a nil
// bus gets a private one.
func NewPool(resolver *resolve.Resolver, executor Executor, bus *Bus, workers int, obs *observe.Observer) *Pool {
	if obs == nil {
		obs = observe.Nop()
	}
	if bus == nil {
		bus = NewBus()
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{
		obs:      obs,
		resolver: resolver,
		executor: executor,
		bus:      bus,
		workers:  workers,
		queue:    make(chan queued, queueSize),
		entropy:  rand.New(rand.NewSource(time.Now().UnixNano())),
		tasks:    make(map[string]*TaskInfo),
	}
}

// Start launches the workers. Idempotent.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.obs.Log().Info().Int("workers", p.workers).Msg("tool worker pool started")
}

// Stop drains briefly, cancels the workers and waits for in-flight
// executions to finish. Idempotent.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	// give already-queued tasks a moment to be picked up
	deadline := time.Now().Add(drainGrace)
	for len(p.queue) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	p.wg.Wait()
	p.obs.Log().Info().Msg("tool worker pool stopped")
}

// Submit queues a task and returns its id immediately.
func (p *Pool) Submit(task Task) (string, error) {
	if task.Slug == "" {
		return "", errors.New("tool slug is required")
	}

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return "", ErrNotRunning
	}
	id := ulid.MustNew(ulid.Timestamp(time.Now()), p.entropy).String()
	p.tasks[id] = &TaskInfo{
		ID:        id,
		SessionID: task.SessionID,
		Slug:      task.Slug,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	p.mu.Unlock()

	select {
	case p.queue <- queued{id: id, task: task}:
	default:
		p.mu.Lock()
		delete(p.tasks, id)
		p.mu.Unlock()
		return "", ErrQueueFull
	}

	p.obs.Log().Info().Str("slug", task.Slug).Str("task_id", id).Msg("tool dispatched")
	p.bus.PublishWithData(EventTaskQueued, task.SessionID, map[string]interface{}{
		"task_id": id,
		"slug":    task.Slug,
	})
	return id, nil
}

// TaskStatus returns a snapshot of a submitted task's state.
func (p *Pool) TaskStatus(taskID string) (TaskInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.tasks[taskID]
	if !ok {
		return TaskInfo{}, false
	}
	return *info, true
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	p.obs.Log().Debug().Int("worker", id).Msg("tool worker started")

	for {
		select {
		case <-ctx.Done():
			p.obs.Log().Debug().Int("worker", id).Msg("tool worker stopped")
			return
		case q := <-p.queue:
			p.execute(q, id)
		}
	}
}

func (p *Pool) execute(q queued, workerID int) {
	p.setStatus(q.id, StatusRunning, "", "")
	p.obs.Log().Info().
		Str("slug", q.task.Slug).
		Str("task_id", q.id).
		Int("worker", workerID).
		Msg("executing tool")
	p.bus.PublishWithData(EventTaskStarted, q.task.SessionID, map[string]interface{}{
		"task_id": q.id,
		"slug":    q.task.Slug,
	})

	// shutdown never cancels an in-flight call, so the execution context
	// descends from Background with only the per-task timeout
	ctx, cancel := context.WithTimeout(context.Background(), clampTimeout(q.task.Timeout))
	defer cancel()

	output, errText, status := p.run(ctx, q.task)

	p.setStatus(q.id, status, output, errText)
	created := p.createdAt(q.id)
	result := Result{
		TaskID:    q.id,
		Slug:      q.task.Slug,
		SessionID: q.task.SessionID,
		Status:    status,
		Output:    output,
		Err:       errText,
		Duration:  time.Since(created),
	}

	if status == StatusCompleted {
		p.obs.Log().Info().
			Str("slug", q.task.Slug).
			Str("task_id", q.id).
			Int("duration_ms", int(result.Duration.Milliseconds())).
			Msg("tool completed")
	} else {
		p.obs.Log().Warn().
			Str("slug", q.task.Slug).
			Str("task_id", q.id).
			Str("error", errText).
			Msg("tool failed")
	}

	p.deliver(q.task, result)
}

// run resolves and executes one task, translating every failure into a
// natural-language output string.
func (p *Pool) run(ctx context.Context, task Task) (output, errText string, status Status) {
	res, err := p.resolver.Resolve(ctx, task.Slug)
	if err != nil {
		if errors.Is(err, resolve.ErrDoNotRetry) {
			return err.Error(), err.Error(), StatusFailed
		}
		return fmt.Sprintf("I was not able to run %s: no such tool, do not retry", task.Slug),
			err.Error(), StatusFailed
	}

	if !res.Trusted {
		p.obs.Log().Warn().
			Str("input", task.Slug).
			Str("resolved", res.Slug).
			Msg("executing unverified tool match")
	}

	out, err := p.executor.Execute(ctx, res.Slug, task.Args)
	if err != nil {
		p.resolver.ReportFailure(res.Slug)
		return fmt.Sprintf("I was not able to run %s: %v, do not retry", res.Slug, err),
			err.Error(), StatusFailed
	}

	p.resolver.ReportSuccess(res.Slug)
	return out, "", StatusCompleted
}

// deliver invokes the callback, then broadcasts a digest on the bus.
func (p *Pool) deliver(task Task, result Result) {
	if task.Callback != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.obs.Log().Error().
						Str("task_id", result.TaskID).
						Msg(fmt.Sprintf("result callback panicked: %v", r))
				}
			}()
			task.Callback(result)
		}()
	}

	eventType := EventTaskCompleted
	if result.Status == StatusFailed {
		eventType = EventTaskFailed
	}
	p.bus.PublishWithData(eventType, result.SessionID, map[string]interface{}{
		"task_id":     result.TaskID,
		"slug":        result.Slug,
		"status":      string(result.Status),
		"output":      digest(result.Output),
		"error":       result.Err,
		"duration_ms": result.Duration.Milliseconds(),
	})
}

func (p *Pool) setStatus(taskID string, status Status, output, errText string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.tasks[taskID]
	if !ok {
		return
	}
	info.Status = status
	info.Output = output
	info.Err = errText
	if status == StatusCompleted || status == StatusFailed {
		info.CompletedAt = time.Now()
	}
}

func (p *Pool) createdAt(taskID string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if info, ok := p.tasks[taskID]; ok {
		return info.CreatedAt
	}
	return time.Now()
}

func clampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	if d > MaxTimeout {
		return MaxTimeout
	}
	return d
}

// digest trims long outputs for the broadcast copy; callbacks always get
// the full text.
func digest(s string) string {
	runes := []rune(s)
	if len(runes) <= digestLen {
		return s
	}
	return string(runes[:digestLen]) + "..."
}
