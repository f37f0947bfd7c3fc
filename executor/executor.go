package executor

import (
	"github.com/memcashew/memcashew/log"
)

// Executor drains one task queue on one worker goroutine and owns the
// connections pinned to it.
type Executor struct {
	q      *taskQueue
	log    log.Logger
	active map[Conn]struct{}
	done   chan struct{}
}

func NewExecutor(l log.Logger) *Executor {
	e := &Executor{
		q:      newTaskQueue(),
		log:    l,
		active: make(map[Conn]struct{}),
		done:   make(chan struct{}),
	}
	go e.process()
	return e
}

// Add enqueues t. Never blocks.
func (e *Executor) Add(t Task) {
	e.q.push(t)
}

// Shutdown asks the worker to exit after the tasks enqueued before it.
// Done unblocks when the worker finished and destroyed its connections.
func (e *Executor) Shutdown()             { e.Add(Task{Type: TaskShutdown}) }
func (e *Executor) Done() <-chan struct{} { return e.done }

func (e *Executor) process() {
	for {
		t := e.q.pop()
		if t.Type == TaskShutdown {
			break
		}
		e.processInl(t)
	}
	e.cleanup()
	close(e.done)
}

func (e *Executor) processInl(t Task) {
	e.log.Debugf("Task %v.", t.Type)
	switch t.Type {
	case TaskNew:
		e.active[t.Conn] = struct{}{}
	case TaskRead:
		if _, ok := e.active[t.Conn]; !ok {
			// The reader goroutine raced a teardown. Drop.
			return
		}
		if !t.Conn.Ingest(t.Data) {
			e.destroy(t.Conn)
		}
	case TaskClose:
		if _, ok := e.active[t.Conn]; !ok {
			return
		}
		e.destroy(t.Conn)
	default:
		e.log.Panicf("unexpected task type %v", t.Type)
	}
}

func (e *Executor) destroy(c Conn) {
	delete(e.active, c)
	if err := c.Close(); err != nil {
		e.log.Debug("Connection close error: ", err)
	}
}

// cleanup destroys the remaining active connections and drops tasks queued
// behind the shutdown, closing connections that never became active.
func (e *Executor) cleanup() {
	for c := range e.active {
		e.destroy(c)
	}
	for _, t := range e.q.drain() {
		if t.Type == TaskNew {
			t.Conn.Close()
		}
	}
}
