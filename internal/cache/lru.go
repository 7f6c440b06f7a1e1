// Package cache provides a small bounded LRU map.
//
// LRU is not safe for concurrent use; callers serialize access.
package cache

// LRU maps keys to values and drops the least recently used entry once it
// holds more than its capacity.
type LRU[K comparable, V any] struct {
	capacity int
	items    map[K]*node[K, V]
	// head is the most recently used entry, tail the least.
	head, tail *node[K, V]

	hits, misses uint64
}

type node[K comparable, V any] struct {
	key        K
	value      V
	prev, next *node[K, V]
}

// Stats counts lookups.
type Stats struct {
	Len    int
	Hits   uint64
	Misses uint64
}

// New returns an LRU holding at most capacity entries. A capacity below 1
// is treated as 1.
func New[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[K, V]{capacity: capacity, items: make(map[K]*node[K, V], capacity)}
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	n, ok := c.items[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.moveToFront(n)
	return n.value, true
}

// Put stores value under key, evicting the oldest entry when full.
func (c *LRU[K, V]) Put(key K, value V) {
	if n, ok := c.items[key]; ok {
		n.value = value
		c.moveToFront(n)
		return
	}
	if len(c.items) >= c.capacity {
		c.evictOldest()
	}
	n := &node[K, V]{key: key, value: value}
	c.pushFront(n)
	c.items[key] = n
}

// GetOrCreate returns the cached value for key, or calls create and caches
// its result. Errors from create are returned and nothing is cached.
func (c *LRU[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := create()
	if err != nil {
		return v, err
	}
	c.Put(key, v)
	return v, nil
}

// Delete removes key if present.
func (c *LRU[K, V]) Delete(key K) {
	if n, ok := c.items[key]; ok {
		c.unlink(n)
		delete(c.items, key)
	}
}

// Clear drops every entry. Stats are kept.
func (c *LRU[K, V]) Clear() {
	clear(c.items)
	c.head, c.tail = nil, nil
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int { return len(c.items) }

// Capacity returns the maximum number of entries.
func (c *LRU[K, V]) Capacity() int { return c.capacity }

// Stats returns lookup counters.
func (c *LRU[K, V]) Stats() Stats {
	return Stats{Len: len(c.items), Hits: c.hits, Misses: c.misses}
}

func (c *LRU[K, V]) evictOldest() {
	n := c.tail
	if n == nil {
		return
	}
	c.unlink(n)
	delete(c.items, n.key)
}

func (c *LRU[K, V]) pushFront(n *node[K, V]) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *LRU[K, V]) moveToFront(n *node[K, V]) {
	if n == c.head {
		return
	}
	c.unlink(n)
	c.pushFront(n)
}

// unlink detaches n and clears its links.
func (c *LRU[K, V]) unlink(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}
