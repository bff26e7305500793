// internal/worker/pool.go
package worker

import (
	"sync"
)

type task func()

// Pool runs submitted tasks on a fixed set of goroutines. The scheduler feeds
// it one matching pass per merchant so a large merchant population cannot
// spawn unbounded goroutines.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan task
}

func NewPool(n int) *Pool {
	if n <= 0 {
		n = 1
	}
	p := &Pool{jobs: make(chan task, 1024)}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

func (p *Pool) Submit(f task) { p.jobs <- f }

// Stop drains the queue and waits for in-flight tasks to finish.
func (p *Pool) Stop() { close(p.jobs); p.wg.Wait() }
