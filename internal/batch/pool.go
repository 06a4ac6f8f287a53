package batch

import (
	"sync"

	"github.com/charmbracelet/log"
)

// workerPool runs binary-processing tasks on a bounded set of goroutines.
// Each worker owns one binary end to end, so no cross-worker state exists
// beyond the read-only signature and rule tables.
type workerPool struct {
	workers int
	tasks   chan func()
	wg      sync.WaitGroup
	once    sync.Once
	logger  *log.Logger
}

func newWorkerPool(workers int, logger *log.Logger) *workerPool {
	if workers <= 0 {
		workers = 1
	}
	p := &workerPool{
		workers: workers,
		tasks:   make(chan func(), workers*2),
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("worker panic recovered", "panic", r)
				}
			}()
			task()
		}()
	}
}

// submit queues one task. The caller is the single producer, so no
// closed-channel guard is needed; submit after wait is a programming error.
func (p *workerPool) submit(task func()) {
	p.tasks <- task
}

// wait closes the queue and blocks until all queued tasks finish.
func (p *workerPool) wait() {
	p.once.Do(func() { close(p.tasks) })
	p.wg.Wait()
}
