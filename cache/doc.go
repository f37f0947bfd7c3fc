// Package cache provides the capacity-bounded key/value store behind the
// server: a murmur3-indexed lookup table and a single LRU ordering, kept
// mutually consistent under one coarse mutex.
//
// Entries own the raw request packet they were stored from; key, extras and
// value are slices into that packet. An entry returned by Get stays valid
// after its eviction or deletion, readers must not mutate it.
//
// When an insert would exceed capacity, entries are reclaimed from the LRU
// front until five times the incoming entry size has been freed or the store
// is empty. A single entry larger than the whole capacity is still accepted
// after draining the store.
package cache
