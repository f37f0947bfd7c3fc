package cache

import (
	"bytes"
	"sync"

	"github.com/rcrowley/go-metrics"
	"github.com/spaolacci/murmur3"

	"github.com/memcashew/memcashew/log"
	"github.com/memcashew/memcashew/protocol"
)

const (
	// DefaultCapacity bounds resident packet bytes unless configured.
	DefaultCapacity = 64 << 20

	// maxPacketSize approximates the largest storable packet, used for the
	// initial table reservation.
	maxPacketSize = protocol.HeaderSize + protocol.MaxKeySize + protocol.MaxValueSize

	// reclaimFactor: eviction frees this many times the incoming entry
	// size, so consecutive sets don't evict one entry each.
	reclaimFactor = 5
)

// Cache is the store the command handlers run against.
// Implementations must not retain key slices passed to Get and Remove.
type Cache interface {
	// Get returns the entry stored for key and promotes it to most
	// recently used. The entry stays valid after eviction or deletion.
	Get(key []byte) *Entry
	// Set stores e, replacing any entry with the same key, evicting from
	// the LRU front first when capacity would be exceeded.
	Set(e *Entry)
	// Cas behaves as Set when cas is zero. Otherwise the store happens
	// only if no entry exists for the key or the stored token equals cas.
	Cas(e *Entry, cas uint64) (stored bool)
	// Remove deletes the entry for key. With cas > 0 the delete happens
	// only if the stored token matches.
	Remove(key []byte, cas uint64) (removed bool)
	Count() int
	Size() int64
	Clear()
}

type Config struct {
	Capacity int64
	Registry metrics.Registry
}

func NewCache(l log.Logger, conf Config) Cache { return newCache(l, conf) }

func newCache(l log.Logger, conf Config) *cache {
	if conf.Capacity == 0 {
		conf.Capacity = DefaultCapacity
	}
	if conf.Registry == nil {
		conf.Registry = metrics.NewRegistry()
	}
	c := &cache{
		log:      l,
		capacity: conf.Capacity,
		table:    make(map[uint32][]*Entry, tableReserve(conf.Capacity)),
		lru:      newList(),

		hits:      metrics.GetOrRegisterCounter("cache.hits", conf.Registry),
		misses:    metrics.GetOrRegisterCounter("cache.misses", conf.Registry),
		stores:    metrics.GetOrRegisterCounter("cache.stores", conf.Registry),
		evictions: metrics.GetOrRegisterCounter("cache.evictions", conf.Registry),
		resident:  metrics.GetOrRegisterGauge("cache.resident-bytes", conf.Registry),
	}
	return c
}

// tableReserve sizes the initial table for twice the number of max sized
// entries fitting in capacity.
func tableReserve(capacity int64) int64 {
	return 2 * (capacity / maxPacketSize)
}

// cache keys the table by the murmur3 hash of the key bytes, resolving
// collisions by bytewise comparison inside small bucket slices. Key bytes
// are never copied out of the stored packets.
type cache struct {
	mu       sync.Mutex
	table    map[uint32][]*Entry
	lru      *list
	size     int64
	count    int
	capacity int64
	log      log.Logger

	hits      metrics.Counter
	misses    metrics.Counter
	stores    metrics.Counter
	evictions metrics.Counter
	resident  metrics.Gauge
}

var _ Cache = (*cache)(nil)

func (c *cache) Get(key []byte) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.checkInvariants()
	e := c.getInl(key, murmur3.Sum32(key))
	if e == nil {
		c.misses.Inc(1)
		return nil
	}
	c.hits.Inc(1)
	return e
}

func (c *cache) Set(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.checkInvariants()
	c.setInl(e)
}

func (c *cache) Cas(e *Entry, cas uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.checkInvariants()
	if cas > 0 {
		// The existence probe promotes the key, same as a read.
		if p := c.getInl(e.Key(), e.hash); p != nil && p.header.CAS != cas {
			return false
		}
	}
	c.setInl(e)
	return true
}

func (c *cache) Remove(key []byte, cas uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.checkInvariants()
	hash := murmur3.Sum32(key)
	if cas > 0 {
		if p := c.getInl(key, hash); p != nil && p.header.CAS != cas {
			return false
		}
	}
	e := c.lookupInl(key, hash)
	if e == nil {
		return false
	}
	c.log.Debugf("Delete entry %q.", key)
	c.deleteInl(e)
	return true
}

func (c *cache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.checkInvariants()
	if c.size > 0 {
		c.reclaim(c.size)
	}
}

// Rehash clears the store and resets its capacity. Test hook.
func (c *cache) Rehash(capacity int64) {
	c.Clear()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = capacity
}

// lookupInl finds the entry for key without touching the LRU order.
func (c *cache) lookupInl(key []byte, hash uint32) *Entry {
	for _, e := range c.table[hash] {
		if bytes.Equal(e.Key(), key) {
			return e
		}
	}
	return nil
}

// getInl finds the entry for key and promotes it to most recently used.
func (c *cache) getInl(key []byte, hash uint32) *Entry {
	e := c.lookupInl(key, hash)
	if e == nil {
		return nil
	}
	c.lru.moveToBack(e.node)
	return e
}

func (c *cache) setInl(e *Entry) {
	if old := c.lookupInl(e.Key(), e.hash); old != nil {
		c.log.Debugf("Replace entry %q.", old.Key())
		c.deleteInl(old)
	}
	mem := e.Size()
	if c.size+mem > c.capacity {
		c.reclaim(reclaimFactor * mem)
	}
	e.node = &node{entry: e}
	c.lru.pushBack(e.node)
	c.table[e.hash] = append(c.table[e.hash], e)
	c.size += mem
	c.count++
	c.stores.Inc(1)
	c.resident.Update(c.size)
}

// deleteInl unlinks e from the LRU order and the table. The entry itself
// stays valid for readers holding it.
func (c *cache) deleteInl(e *Entry) {
	e.node.detach()
	bucket := c.table[e.hash]
	for i, be := range bucket {
		if be == e {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			break
		}
	}
	if len(bucket) == 0 {
		delete(c.table, e.hash)
	} else {
		c.table[e.hash] = bucket
	}
	c.size -= e.Size()
	c.count--
	c.resident.Update(c.size)
}

// reclaim frees at least want bytes from the LRU front, or drains the store.
func (c *cache) reclaim(want int64) {
	var freed int64
	for n := c.lru.front(); !c.lru.end(n) && freed < want; {
		e := n.entry
		n = n.next
		c.log.Debugf("Evict entry %q.", e.Key())
		freed += e.Size()
		c.deleteInl(e)
		c.evictions.Inc(1)
	}
}
