// Package queue is a fire-and-forget background job runner. Callers never
// wait on results; delivery is at-least-once (failed jobs are retried a few
// times, then logged and dropped), so jobs must be idempotent.
package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is a unit of background work. It carries every value it needs; no job
// holds an open transaction across the worker boundary.
type Job func(ctx context.Context) error

// Queue accepts jobs for asynchronous execution.
type Queue interface {
	Enqueue(name string, job Job)
}

const defaultAttempts = 3

type item struct {
	id   string
	name string
	job  Job
}

// Workers runs jobs on a fixed goroutine pool.
type Workers struct {
	jobs     chan item
	attempts int
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
}

// NewWorkers starts n worker goroutines with a buffered backlog.
func NewWorkers(n int) *Workers {
	if n < 1 {
		n = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Workers{
		jobs:     make(chan item, 256),
		attempts: defaultAttempts,
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

// Enqueue submits a job. Blocks only when the backlog is full.
func (w *Workers) Enqueue(name string, job Job) {
	select {
	case <-w.ctx.Done():
		log.Printf("queue closed; dropped job name=%s", name)
	case w.jobs <- item{id: uuid.NewString(), name: name, job: job}:
	}
}

// Close stops accepting jobs and waits for in-flight ones to finish.
func (w *Workers) Close() {
	w.once.Do(func() {
		w.cancel()
		close(w.jobs)
	})
	w.wg.Wait()
}

func (w *Workers) run() {
	defer w.wg.Done()
	for it := range w.jobs {
		execute(context.Background(), it, w.attempts)
	}
}

// Inline executes jobs synchronously on the caller's goroutine. Used by tests
// and single-node deployments where a worker pool buys nothing.
type Inline struct{}

// NewInline returns a synchronous queue.
func NewInline() Inline { return Inline{} }

func (Inline) Enqueue(name string, job Job) {
	execute(context.Background(), item{id: uuid.NewString(), name: name, job: job}, defaultAttempts)
}

func execute(ctx context.Context, it item, attempts int) {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = it.job(ctx); err == nil {
			return
		}
		log.Printf("job failed name=%s id=%s attempt=%d err=%v", it.name, it.id, attempt, err)
		if attempt < attempts {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
	}
	log.Printf("job gave up name=%s id=%s err=%v", it.name, it.id, err)
}
