package server

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool runs tasks on goroutines, at most max at a time. Go blocks while the
// pool is saturated, which pushes back on whoever submits the work.
type Pool struct {
	name      string
	max       int64
	sem       *semaphore.Weighted
	active    atomic.Int64
	completed atomic.Int64
	wg        sync.WaitGroup
}

type PoolStatus struct {
	Name      string
	Max       int64
	Active    int64
	Completed int64
}

func NewPool(name string, max int) *Pool {
	if max < 1 {
		max = 1
	}
	return &Pool{
		name: name,
		max:  int64(max),
		sem:  semaphore.NewWeighted(int64(max)),
	}
}

// Go waits for a free slot and runs fn on it. It fails only when ctx is done
// before a slot frees up.
func (p *Pool) Go(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	p.active.Add(1)
	p.wg.Add(1)
	go func() {
		defer func() {
			p.active.Add(-1)
			p.completed.Add(1)
			p.sem.Release(1)
			p.wg.Done()
		}()
		fn()
	}()
	return nil
}

// Wait blocks until every running task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) Status() PoolStatus {
	return PoolStatus{
		Name:      p.name,
		Max:       p.max,
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
	}
}
