package executor

import (
	"fmt"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"

	"github.com/memcashew/memcashew/log"
)

func testLogger() log.Logger {
	return log.NewLogger(log.ErrorLevel, GinkgoWriter)
}

var _ = Describe("task queue", func() {
	It("pops in push order", func() {
		q := newTaskQueue()
		for i := 0; i < 10; i++ {
			q.push(Task{Type: TaskRead, Data: []byte{byte(i)}})
		}
		for i := 0; i < 10; i++ {
			Expect(q.pop().Data).To(Equal([]byte{byte(i)}))
		}
		Expect(q.len()).To(BeZero())
	})

	It("blocks pop until a push arrives", func() {
		q := newTaskQueue()
		popped := make(chan Task)
		go func() { popped <- q.pop() }()
		Consistently(popped).ShouldNot(Receive())
		q.push(Task{Type: TaskNew})
		Eventually(popped).Should(Receive())
	})

	It("drains everything still queued", func() {
		q := newTaskQueue()
		q.push(Task{Type: TaskNew})
		q.push(Task{Type: TaskClose})
		Expect(q.drain()).To(HaveLen(2))
		Expect(q.len()).To(BeZero())
	})
})

var _ = Describe("Executor", func() {
	var e *Executor
	BeforeEach(func() {
		e = NewExecutor(testLogger())
	})

	newConn := func() *mockConn {
		c := &mockConn{}
		c.On("Close").Return(nil)
		return c
	}

	It("processes reads for one connection in enqueue order", func() {
		c := newConn()
		var got [][]byte
		c.On("Ingest", mock.Anything).Run(func(args mock.Arguments) {
			got = append(got, args.Get(0).([]byte))
		}).Return(true)

		e.Add(Task{Type: TaskNew, Conn: c})
		var want [][]byte
		for i := 0; i < 20; i++ {
			chunk := []byte(fmt.Sprintf("chunk_%v", i))
			want = append(want, chunk)
			e.Add(Task{Type: TaskRead, Conn: c, Data: chunk})
		}
		e.Shutdown()
		Eventually(e.Done()).Should(BeClosed())
		Expect(got).To(Equal(want))
	})

	It("destroys the connection when ingest reports failure", func() {
		c := newConn()
		c.On("Ingest", mock.Anything).Return(false)
		e.Add(Task{Type: TaskNew, Conn: c})
		e.Add(Task{Type: TaskRead, Conn: c, Data: []byte{1}})
		e.Shutdown()
		Eventually(e.Done()).Should(BeClosed())
		c.AssertNumberOfCalls(GinkgoT(), "Close", 1)
	})

	It("drops tasks for connections it already destroyed", func() {
		c := newConn()
		c.On("Ingest", mock.Anything).Return(false)
		e.Add(Task{Type: TaskNew, Conn: c})
		e.Add(Task{Type: TaskRead, Conn: c, Data: []byte{1}})
		e.Add(Task{Type: TaskRead, Conn: c, Data: []byte{2}})
		e.Add(Task{Type: TaskClose, Conn: c})
		e.Shutdown()
		Eventually(e.Done()).Should(BeClosed())
		c.AssertNumberOfCalls(GinkgoT(), "Ingest", 1)
		c.AssertNumberOfCalls(GinkgoT(), "Close", 1)
	})

	It("destroys on close task", func() {
		c := newConn()
		e.Add(Task{Type: TaskNew, Conn: c})
		e.Add(Task{Type: TaskClose, Conn: c})
		e.Shutdown()
		Eventually(e.Done()).Should(BeClosed())
		c.AssertNumberOfCalls(GinkgoT(), "Close", 1)
	})

	It("destroys active connections on shutdown and drops queued tasks", func() {
		gate := make(chan struct{})
		parked := newConn()
		parked.On("Ingest", mock.Anything).Run(func(mock.Arguments) {
			<-gate
		}).Return(true)
		late := newConn()

		e.Add(Task{Type: TaskNew, Conn: parked})
		e.Add(Task{Type: TaskRead, Conn: parked, Data: []byte{1}})
		// The worker parks in Ingest, so everything below is still queued
		// when the shutdown is processed.
		e.Add(Task{Type: TaskShutdown})
		e.Add(Task{Type: TaskNew, Conn: late})
		close(gate)

		Eventually(e.Done()).Should(BeClosed())
		parked.AssertNumberOfCalls(GinkgoT(), "Close", 1)
		late.AssertNumberOfCalls(GinkgoT(), "Close", 1)
	})
})

var _ = Describe("Pool", func() {
	var p *Pool
	AfterEach(func() {
		p.Shutdown()
	})

	It("picks executors round-robin", func() {
		p = NewPool(8, testLogger())
		for i := 0; i < 8; i++ {
			Expect(p.Pick()).To(Equal(i))
		}
		Expect(p.Pick()).To(Equal(0))
	})

	It("routes tasks to the pinned executor", func() {
		p = NewPool(4, testLogger())
		c := &mockConn{}
		c.On("Close").Return(nil)
		c.On("Ingest", mock.Anything).Return(true)

		const pinned = 2
		p.Add(Task{Type: TaskNew, Conn: c}, pinned)
		p.Add(Task{Type: TaskRead, Conn: c, Data: []byte{1}}, pinned)
		p.Shutdown()
		// Had the read landed on any other executor, the connection would
		// not have been active there and the task dropped.
		c.AssertNumberOfCalls(GinkgoT(), "Ingest", 1)
		c.AssertNumberOfCalls(GinkgoT(), "Close", 1)
	})

	It("picks for tasks with no pinned index", func() {
		p = NewPool(1, testLogger())
		c := &mockConn{}
		c.On("Close").Return(nil)
		p.Add(Task{Type: TaskNew, Conn: c}, -1)
		p.Shutdown()
		c.AssertNumberOfCalls(GinkgoT(), "Close", 1)
	})
})
