package parallel

import (
	"fmt"
	"math"
	"sync"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
)

// WorkerPool runs independent tasks on a bounded set of goroutines.
// Table materialization fans out one task per source node through a
// pool sized to the host, so a 50k-port fabric cannot spawn 50k
// goroutines.
type WorkerPool struct {
	workers int
	tasks   chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards closed against concurrent Submit/Close
	closed  bool
	logger  logging.Logger
}

// ErrTooManyWorkers is returned when the worker count exceeds the maximum allowed.
var ErrTooManyWorkers = fmt.Errorf("worker count exceeds maximum")

// MaxWorkers is the maximum number of workers allowed in a pool.
const MaxWorkers = math.MaxInt / 2

// NewWorkerPool creates a pool with the given number of workers. Counts
// below one are clamped to one; counts above MaxWorkers are rejected
// because they would overflow the queue-size calculation.
func NewWorkerPool(workers int, logger logging.Logger) (*WorkerPool, error) {
	if workers <= 0 {
		workers = 1
	}
	if workers > MaxWorkers {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrTooManyWorkers, workers, MaxWorkers)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	pool := &WorkerPool{
		workers: workers,
		tasks:   make(chan func(), workers*2),
		logger:  logger,
	}
	pool.start()
	return pool, nil
}

func (wp *WorkerPool) start() {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

// worker drains the queue. A panicking task must not take the worker
// down with it; the panic is logged and the worker moves on. Tasks that
// need the panic value collect it themselves with their own recover.
func (wp *WorkerPool) worker() {
	defer wp.wg.Done()

	for task := range wp.tasks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					wp.logger.Error("worker recovered from task panic",
						logging.Any("panic", r))
				}
			}()
			task()
		}()
	}
}

// Submit enqueues a task, blocking while the queue is full. Returns
// false once the pool is closed.
func (wp *WorkerPool) Submit(task func()) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return false
	}
	wp.tasks <- task
	return true
}

// Close stops accepting tasks and blocks until queued work finishes
func (wp *WorkerPool) Close() {
	wp.once.Do(func() {
		wp.mu.Lock()
		wp.closed = true
		close(wp.tasks)
		wp.mu.Unlock()
	})
	wp.wg.Wait()
}

// Wait is the gather barrier: it closes the pool and returns only after
// every submitted task has completed.
func (wp *WorkerPool) Wait() {
	wp.Close()
}

// Workers returns the pool size
func (wp *WorkerPool) Workers() int {
	return wp.workers
}
