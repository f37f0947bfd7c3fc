package cache

import "github.com/memcashew/memcashew/internal/tag"

// node is one position in the LRU order. Nodes are owned by the list; each
// resident entry holds a pointer to its node.
type node struct {
	entry *Entry
	prev  *node
	next  *node
}

// list is the LRU order: front is least recently used, back is most
// recently used.
//
// Invariants for all list methods:
// * {fakeHead, all owned nodes, fakeTail} are a correct doubly linked list.
// * every owned node has a non-nil entry whose node field points back at it.
//
// Fake nodes. Real nodes are between them.
// nil <- fakeHead <-> node_0 <-> ... <-> node_(n-1) <-> fakeTail -> nil
// Such structure prevents nil checks in code.
type list struct {
	fakeHead *node
	fakeTail *node
}

func newList() *list {
	l := &list{fakeHead: &node{}, fakeTail: &node{}}
	link(l.fakeHead, l.fakeTail)
	return l
}

func (l *list) front() *node     { return l.fakeHead.next }
func (l *list) back() *node      { return l.fakeTail.prev }
func (l *list) end(n *node) bool { return n == l.fakeTail }
func (l *list) empty() bool      { return l.fakeHead.next == l.fakeTail }

func (l *list) pushBack(n *node) {
	link(l.back(), n)
	link(n, l.fakeTail)
}

func (l *list) moveToBack(n *node) {
	if n.next == l.fakeTail {
		return
	}
	n.detach()
	l.pushBack(n)
}

func (n *node) detach() {
	link(n.prev, n.next)
	if tag.Debug {
		n.prev = nil
		n.next = nil
	}
}

func link(a, b *node) { a.next, b.prev = b, a }
