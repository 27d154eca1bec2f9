// Package worker runs background units of work on a bounded pool. Work that
// used to be fired and forgotten (push hand-off, offline enqueueing) goes
// through here instead, so failures are logged, counted and retried.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"staffroom/internal/metrics"
)

type Task struct {
	Name       string
	Run        func(ctx context.Context) error
	MaxRetries int

	attempt int
}

type Pool struct {
	tasks   chan Task
	workers int
	wg      sync.WaitGroup
}

func NewPool(workers int) *Pool {
	return &Pool{
		tasks:   make(chan Task, 256),
		workers: workers,
	}
}

func (p *Pool) Start(ctx context.Context) {
	log.Info().Int("workers", p.workers).Msg("starting worker pool")
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Enqueue hands task to the pool. Returns false when the queue is full; the
// caller decides whether dropping is acceptable.
func (p *Pool) Enqueue(task Task) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		log.Warn().Str("task", task.Name).Msg("worker queue full, task dropped")
		metrics.WorkerFailures.Inc()
		return false
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.tasks:
			p.execute(ctx, task)
		}
	}
}

func (p *Pool) execute(ctx context.Context, task Task) {
	err := task.Run(ctx)
	if err == nil {
		return
	}

	task.attempt++
	if task.attempt > task.MaxRetries {
		log.Error().Err(err).Str("task", task.Name).Int("attempts", task.attempt).Msg("task failed permanently")
		metrics.WorkerFailures.Inc()
		return
	}

	// Exponential backoff before requeueing.
	delay := time.Duration(1<<task.attempt) * time.Second
	log.Warn().Err(err).Str("task", task.Name).Dur("retry_in", delay).Msg("task failed, retrying")

	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
			p.Enqueue(task)
		}
	}()
}

// Wait blocks until all workers have exited after context cancellation.
func (p *Pool) Wait() {
	p.wg.Wait()
}
