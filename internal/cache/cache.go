// Package cache memoizes name lookups against the host.
//
// A Cache is deliberately unsynchronized: it is only ever touched from the
// host tick, which is the one goroutine allowed to resolve host handles.
package cache

// Resolver looks up a handle on a cache miss. ok=false means the host has
// no resource with that name.
type Resolver[K comparable, H any] func(key K) (handle H, ok bool)

type entry[H any] struct {
	handle H
	found  bool
}

// Cache maps stable names to opaque host handles.
type Cache[K comparable, H any] struct {
	resolve Resolver[K, H]
	entries map[K]entry[H]
}

func New[K comparable, H any](resolve Resolver[K, H]) *Cache[K, H] {
	return &Cache[K, H]{
		resolve: resolve,
		entries: make(map[K]entry[H]),
	}
}

// Get returns the handle for key, invoking the resolver only the first
// time a key is seen. Misses are memoized as well.
func (c *Cache[K, H]) Get(key K) (H, bool) {
	if e, ok := c.entries[key]; ok {
		return e.handle, e.found
	}
	h, found := c.resolve(key)
	c.entries[key] = entry[H]{handle: h, found: found}
	return h, found
}

// Clear drops every memoized entry, e.g. after the host swapped its
// resource universe.
func (c *Cache[K, H]) Clear() {
	clear(c.entries)
}

// Len is the number of memoized names, misses included.
func (c *Cache[K, H]) Len() int {
	return len(c.entries)
}
