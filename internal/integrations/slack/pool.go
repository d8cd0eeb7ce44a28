package slackbot

import (
	"fmt"
	"log"
	"runtime/debug"
	"sync"
)

// Pool runs submitted tasks on a fixed number of goroutines. Tasks wait in a
// bounded queue; Submit refuses work once the queue is full or the pool is
// closed. A panicking task is recovered and logged so the worker survives.
type Pool struct {
	name  string
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPool(name string, workers, queue int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{name: name, tasks: make(chan func(), queue)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	log.Printf("pool %s started workers=%d queue=%d", name, workers, queue)
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("pool %s task panic: %v\n%s", p.name, r, debug.Stack())
		}
	}()
	task()
}

// Submit queues task without blocking.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("pool %s closed", p.name)
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return fmt.Errorf("pool %s queue full", p.name)
	}
}

// Close stops accepting work and waits for queued tasks to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
