// Package worker runs render jobs on a fixed number of goroutines and records
// their outcome in the job store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sdko-org/gridgate/internal/jobs"
	"github.com/sdko-org/gridgate/internal/metrics"
	"github.com/sdko-org/gridgate/internal/parts"
	"github.com/sdko-org/gridgate/internal/render"
)

const (
	DefaultSize      = 2
	DefaultQueueSize = 64

	cancelledMessage = "job cancelled: worker pool shutting down"
)

var (
	ErrPoolClosed = errors.New("worker pool is shut down")
	ErrQueueFull  = errors.New("worker queue is full")
)

// Renderer produces the artifact for a request.
type Renderer interface {
	Render(ctx context.Context, req parts.Request) (render.Artifact, error)
}

// ResultCache receives the bytes of completed single part jobs.
type ResultCache interface {
	Set(key string, data []byte)
}

// Event describes a finished job as it was recorded.
type Event struct {
	Record   jobs.Record
	Duration time.Duration
}

// CompletionHook observes finished jobs. Hooks run on the updater goroutine
// and must not block.
type CompletionHook interface {
	JobFinished(Event)
}

// HookFunc adapts a function to CompletionHook.
type HookFunc func(Event)

func (f HookFunc) JobFinished(ev Event) { f(ev) }

type Config struct {
	Size      int
	QueueSize int
}

// Task is one queued job. CacheKey is set for single part jobs whose result
// should be cached.
type Task struct {
	JobID    string
	Request  parts.Request
	CacheKey string
}

type outcome struct {
	task     Task
	artifact render.Artifact
	err      error
	duration time.Duration
}

type Pool struct {
	cfg      Config
	store    *jobs.Store
	results  ResultCache
	renderer Renderer
	hooks    []CompletionHook
	log      *logrus.Entry

	mu      sync.Mutex
	started bool
	closed  bool
	queue   chan Task

	outcomes chan outcome
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	updater  sync.WaitGroup
}

// New builds a pool. results may be nil.
func New(cfg Config, store *jobs.Store, results ResultCache, renderer Renderer, logger *logrus.Logger, hooks ...CompletionHook) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Pool{
		cfg:      cfg,
		store:    store,
		results:  results,
		renderer: renderer,
		hooks:    hooks,
		log:      logger.WithField("component", "worker_pool"),
		queue:    make(chan Task, cfg.QueueSize),
		outcomes: make(chan outcome, cfg.Size),
	}
}

// Start launches the workers and the updater. Cancelling ctx has the same
// effect on in-flight renders as Shutdown.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.updater.Add(1)
	go p.update()
	for i := 0; i < p.cfg.Size; i++ {
		p.workers.Add(1)
		go p.work(ctx, i)
	}
	p.log.WithFields(logrus.Fields{
		"workers": p.cfg.Size,
		"queue":   p.cfg.QueueSize,
	}).Info("Worker pool started")
}

// Submit marks the job running and queues it. A job that cannot be queued is
// marked failed before the error is returned.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.store.SetFailed(task.JobID, ErrPoolClosed.Error())
		p.recordFinished(task, jobs.StatusFailed)
		return ErrPoolClosed
	}

	p.store.SetRunning(task.JobID)
	select {
	case p.queue <- task:
		return nil
	default:
		p.log.WithField("job_id", task.JobID).Warn("Worker queue full, rejecting job")
		p.store.SetFailed(task.JobID, ErrQueueFull.Error())
		p.recordFinished(task, jobs.StatusFailed)
		return ErrQueueFull
	}
}

// Shutdown stops accepting work, cancels in-flight renders and fails every
// job still queued. It waits for the goroutines until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		for task := range p.queue {
			p.complete(outcome{task: task, err: errors.New(cancelledMessage)})
		}
		return nil
	}

	p.cancel()
	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(p.outcomes)
		p.updater.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("Worker pool stopped")
		return nil
	case <-ctx.Done():
		p.log.WithError(ctx.Err()).Warn("Worker pool shutdown timed out")
		return ctx.Err()
	}
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.workers.Done()
	log := p.log.WithField("worker", id)

	for task := range p.queue {
		if ctx.Err() != nil {
			p.outcomes <- outcome{task: task, err: errors.New(cancelledMessage)}
			continue
		}
		log.WithFields(logrus.Fields{
			"job_id": task.JobID,
			"type":   task.Request.JobType(),
		}).Debug("Rendering job")
		p.outcomes <- p.run(ctx, task)
	}
}

func (p *Pool) run(ctx context.Context, task Task) (out outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"job_id": task.JobID,
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("Render panicked")
			out = outcome{task: task, err: fmt.Errorf("render panicked: %v", r)}
		}
		out.duration = time.Since(start)
	}()

	artifact, err := p.renderer.Render(ctx, task.Request)
	if err != nil && ctx.Err() != nil {
		err = errors.New(cancelledMessage)
	}
	return outcome{task: task, artifact: artifact, err: err}
}

func (p *Pool) update() {
	defer p.updater.Done()
	for out := range p.outcomes {
		p.complete(out)
	}
}

func (p *Pool) complete(out outcome) {
	task := out.task
	log := p.log.WithFields(logrus.Fields{
		"job_id":   task.JobID,
		"type":     task.Request.JobType(),
		"duration": out.duration,
	})

	status := jobs.StatusComplete
	if out.err != nil {
		status = jobs.StatusFailed
		p.store.SetFailed(task.JobID, out.err.Error())
		log.WithError(out.err).Error("Job failed")
	} else {
		p.store.SetComplete(task.JobID, out.artifact.Data, out.artifact.Filename, out.artifact.MediaType)
		if task.CacheKey != "" && p.results != nil {
			p.results.Set(task.CacheKey, out.artifact.Data)
		}
		log.WithField("bytes", len(out.artifact.Data)).Info("Job complete")
	}
	p.recordFinished(task, status)

	if len(p.hooks) == 0 {
		return
	}
	rec, ok := p.store.Get(task.JobID)
	if !ok {
		return
	}
	ev := Event{Record: rec, Duration: out.duration}
	for _, h := range p.hooks {
		h.JobFinished(ev)
	}
}

func (p *Pool) recordFinished(task Task, status jobs.Status) {
	metrics.RecordJobFinished(string(task.Request.JobType()), string(status))
}
