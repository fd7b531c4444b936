package extract

import (
	"context"
	"log"
	"sync"
	"time"
)

// Task is a unit of background work.
type Task func(ctx context.Context)

type queuedTask struct {
	name string
	run  Task
}

// Dispatcher is a bounded worker pool for fire-and-forget extraction.
// The conversational response path submits work here and moves on; the
// completion side is used only for logging. A full queue drops the task
// rather than ever blocking the caller.
type Dispatcher struct {
	tasks  chan queuedTask
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders Submit's channel send against Close's channel close so a
	// late Submit drops instead of panicking.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewDispatcher starts a pool of workers draining a queue of the given
// size.
func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		tasks:  make(chan queuedTask, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.tasks {
		start := time.Now()
		t.run(d.ctx)
		log.Printf("[DISPATCH] %s done in %s", t.name, time.Since(start).Round(time.Millisecond))
	}
}

// Submit enqueues a task without blocking. Returns false when the queue
// is saturated or the dispatcher is closed and the task was dropped;
// losing an extraction is acceptable, stalling a conversation is not.
func (d *Dispatcher) Submit(name string, task Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		log.Printf("[DISPATCH] closed, dropping %s", name)
		return false
	}

	select {
	case d.tasks <- queuedTask{name: name, run: task}:
		return true
	default:
		log.Printf("[DISPATCH] queue full, dropping %s", name)
		return false
	}
}

// Close drains queued tasks, waits for in-flight work and releases the
// workers. Safe to call more than once; later Submits drop their task.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.tasks)
		d.wg.Wait()
		d.cancel()
	})
}
