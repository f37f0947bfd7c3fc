//go:build debug
// +build debug

// Gomega should not be a dependency of non-debug builds.

package cache

import (
	"errors"
	"log"

	"github.com/facebookgo/stackerr"
	. "github.com/onsi/gomega"
)

var _ = func() (_ struct{}) {
	RegisterFailHandler(GomegaFailHandler)
	return
}()

func GomegaFailHandler(message string, callerSkip ...int) {
	skip := callerSkip[0] + 1
	log.Fatal("FATAL: invariants are broken:", stackerr.WrapSkip(errors.New(message), skip))
}

// checkInvariants verifies table/LRU consistency and size accounting.
// Requires the cache mutex be held.
func (c *cache) checkInvariants() {
	Expect(c.lru.fakeHead.prev).To(BeNil())
	Expect(c.lru.fakeTail.next).To(BeNil())
	var nodes int
	var actualSize int64
	for n := c.lru.front(); !c.lru.end(n); n = n.next {
		nodes++
		actualSize += n.entry.Size()
		Expect(n.prev.next).To(BeIdenticalTo(n))
		Expect(n.entry.node).To(BeIdenticalTo(n), "entry refs another node")
		Expect(c.lookupInl(n.entry.Key(), n.entry.hash)).To(
			BeIdenticalTo(n.entry), "table refs another entry")
	}
	var tabled int
	for _, bucket := range c.table {
		tabled += len(bucket)
	}
	Expect(nodes).To(Equal(tabled), "LRU and table disagree")
	Expect(nodes).To(Equal(c.count), "count out of sync")
	Expect(actualSize).To(Equal(c.size), "size out of sync")
	if c.size > c.capacity {
		Expect(c.count).To(Equal(1), "overflow with more than one entry")
	}
}
