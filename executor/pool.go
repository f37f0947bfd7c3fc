package executor

import (
	"github.com/memcashew/memcashew/log"
)

// Pool is a fixed vector of executors. Connections are pinned to one
// executor by index at accept time; routing all their tasks to that index
// keeps per-connection processing single-threaded.
type Pool struct {
	executors []*Executor
	next      uint64
}

func NewPool(n int, l log.Logger) *Pool {
	p := &Pool{}
	for i := 0; i < n; i++ {
		e := NewExecutor(l.WithFields(log.Fields{"executor": i}))
		p.executors = append(p.executors, e)
	}
	return p
}

func (p *Pool) Len() int { return len(p.executors) }

// Pick returns the next executor index in round-robin order. It is called
// only from the accept goroutine and is not safe for concurrent use.
func (p *Pool) Pick() int {
	picked := int(p.next % uint64(len(p.executors)))
	p.next++
	return picked
}

// Add routes t to the executor at index, or picks one when index is
// negative.
func (p *Pool) Add(t Task, index int) {
	if index < 0 {
		index = p.Pick()
	}
	p.executors[index].Add(t)
}

// Shutdown stops every executor and waits for their workers to finish.
func (p *Pool) Shutdown() {
	for _, e := range p.executors {
		e.Shutdown()
	}
	for _, e := range p.executors {
		<-e.Done()
	}
}
