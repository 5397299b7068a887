package server

import (
	"context"
	"fmt"
	"sync"
)

// job is a unit of work run on one of the pool goroutines.
type job struct {
	fn   func(context.Context) (interface{}, error)
	ctx  context.Context
	done chan jobResult
}

// jobResult holds the return value of a job.
type jobResult struct {
	value interface{}
	err   error
}

// WorkerPool bounds how many protection runs and loader executions happen
// at once. Each job gets its own Obfuscator or VM, so jobs share nothing.
type WorkerPool struct {
	jobs chan job
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewWorkerPool starts n worker goroutines. n < 1 means 1.
func NewWorkerPool(n int) *WorkerPool {
	if n < 1 {
		n = 1
	}
	p := &WorkerPool{
		jobs: make(chan job, 64),
		quit: make(chan struct{}),
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.loop()
	}
	return p
}

func (p *WorkerPool) loop() {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.jobs:
			j.done <- execute(j)
		case <-p.quit:
			return
		}
	}
}

// execute runs a job, recovering from panics.
func execute(j job) (result jobResult) {
	defer func() {
		if r := recover(); r != nil {
			result.err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	if err := j.ctx.Err(); err != nil {
		return jobResult{err: err}
	}
	result.value, result.err = j.fn(j.ctx)
	return result
}

// ErrPoolStopped is returned by Do after Stop.
var ErrPoolStopped = fmt.Errorf("worker pool stopped")

// Do submits fn and blocks until it completes or ctx ends.
func (p *WorkerPool) Do(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	select {
	case <-p.quit:
		return nil, ErrPoolStopped
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j := job{fn: fn, ctx: ctx, done: make(chan jobResult, 1)}
	select {
	case p.jobs <- j:
	case <-p.quit:
		return nil, ErrPoolStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-j.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts down the workers and waits for running jobs to finish.
func (p *WorkerPool) Stop() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}
