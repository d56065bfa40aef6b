package autoscaler

import (
	"sync"

	"go.uber.org/zap"
)

// Task is a unit of work submitted to a pool.
type Task func()

// WorkerPool is a fixed-size goroutine pool whose size can be changed at
// runtime. Resizing is drain-and-replace: the old task channel is closed so
// in-flight and queued tasks finish on the old workers, while a fresh channel
// and worker set take over new submissions. Callers never observe a partially
// resized pool.
type WorkerPool struct {
	mu      sync.Mutex
	kind    string
	size    int
	backlog int
	tasks   chan Task
	drain   *sync.WaitGroup // workers of the current generation
	stopped bool

	logger *zap.Logger
}

// NewWorkerPool starts a pool of size workers for the given kind.
func NewWorkerPool(kind string, size, backlog int, logger *zap.Logger) *WorkerPool {
	p := &WorkerPool{
		kind:    kind,
		size:    size,
		backlog: backlog,
		logger:  logger.Named("pool").With(zap.String("kind", kind)),
	}
	p.tasks, p.drain = p.startWorkers(size)
	return p
}

// startWorkers spins up a worker generation reading from a fresh channel.
func (p *WorkerPool) startWorkers(size int) (chan Task, *sync.WaitGroup) {
	tasks := make(chan Task, p.backlog)
	var wg sync.WaitGroup
	wg.Add(size)
	for i := 0; i < size; i++ {
		go func() {
			defer wg.Done()
			for task := range tasks {
				task()
			}
		}()
	}
	return tasks, &wg
}

// Submit enqueues a task. It fails fast with ErrQueueFull instead of
// blocking the caller when the backlog is saturated.
func (p *WorkerPool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Resize swaps the pool to the new size. Queued and in-flight tasks on the
// old generation run to completion; the swap itself is atomic under the
// pool's lock, so either the resize completes or the old size remains.
func (p *WorkerPool) Resize(newSize int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if newSize == p.size {
		return nil
	}

	old := p.tasks
	p.tasks, p.drain = p.startWorkers(newSize)
	close(old) // old generation drains in the background

	p.logger.Info("Resized worker pool",
		zap.Int("from", p.size),
		zap.Int("to", newSize))
	p.size = newSize

	return nil
}

// Size returns the current worker count.
func (p *WorkerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// QueueDepth returns the number of queued tasks in the current generation.
func (p *WorkerPool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Stop closes the pool and waits for the current generation to drain.
// Generations replaced by earlier resizes drain independently.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	drain := p.drain
	p.mu.Unlock()

	drain.Wait()
	p.logger.Debug("Worker pool stopped")
}
