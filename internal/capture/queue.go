package capture

import "sync"

// queue runs tasks one at a time on its own goroutine, in submission order.
// Submit never blocks, so it can be called from the tick context.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool
	done   chan struct{}
}

func newQueue() *queue {
	q := &queue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		task()
	}
}

// Submit appends a task. It reports false once the queue is closed.
func (q *queue) Submit(task func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, task)
	q.cond.Signal()
	return true
}

// Sync waits until every task submitted before it has run.
func (q *queue) Sync() {
	reached := make(chan struct{})
	if !q.Submit(func() { close(reached) }) {
		<-q.done
		return
	}
	<-reached
}

// Close stops accepting tasks, runs the ones already queued and waits for
// the worker to exit.
func (q *queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}
