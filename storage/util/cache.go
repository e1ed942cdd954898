package util

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrCacheFull = errors.New("util: cache is full")
)

// Cache is a reference-counted cache keyed by uint64. Load is called to fetch an
// absent resource; Evict is called with a resource whose reference count reached
// zero, after it has been removed from the cache. A MaxResources of zero means
// unbounded.
type Cache struct {
	Load         func(key uint64) (interface{}, error)
	Evict        func(val interface{})
	MaxResources int

	mutex   sync.Mutex
	vals    map[uint64]interface{}
	refs    map[uint64]int
	loading map[uint64]struct{}
}

func (c *Cache) init() {
	if c.vals == nil {
		c.vals = map[uint64]interface{}{}
		c.refs = map[uint64]int{}
		c.loading = map[uint64]struct{}{}
	}
}

// Get returns the resource for key, loading it if necessary, and increments its
// reference count. Every Get must be paired with a Release.
func (c *Cache) Get(key uint64) (interface{}, error) {
	for {
		c.mutex.Lock()
		c.init()

		if _, ok := c.loading[key]; ok {
			// Another goroutine is loading this key; wait for it to finish.
			c.mutex.Unlock()
			time.Sleep(time.Millisecond)
			continue
		}

		if val, ok := c.vals[key]; ok {
			c.refs[key] += 1
			c.mutex.Unlock()
			return val, nil
		}

		if c.MaxResources > 0 && len(c.vals)+len(c.loading) >= c.MaxResources {
			c.mutex.Unlock()
			return nil, ErrCacheFull
		}
		c.loading[key] = struct{}{}
		c.mutex.Unlock()
		break
	}

	val, err := c.Load(key)

	c.mutex.Lock()
	delete(c.loading, key)
	if err != nil {
		c.mutex.Unlock()
		return nil, err
	}
	c.vals[key] = val
	c.refs[key] = 1
	c.mutex.Unlock()
	return val, nil
}

// Release decrements the reference count for key; at zero the resource is
// dropped from the cache and handed to Evict.
func (c *Cache) Release(key uint64) {
	c.mutex.Lock()

	ref, ok := c.refs[key]
	if !ok {
		c.mutex.Unlock()
		panic("util: cache: release of key not in cache")
	}
	ref -= 1
	if ref > 0 {
		c.refs[key] = ref
		c.mutex.Unlock()
		return
	}

	val := c.vals[key]
	delete(c.vals, key)
	delete(c.refs, key)
	c.mutex.Unlock()

	if c.Evict != nil {
		c.Evict(val)
	}
}

// Close evicts every cached resource regardless of reference counts.
func (c *Cache) Close() {
	c.mutex.Lock()
	vals := c.vals
	c.vals = nil
	c.refs = nil
	c.loading = nil
	c.mutex.Unlock()

	if c.Evict != nil {
		for _, val := range vals {
			c.Evict(val)
		}
	}
}

// Len returns the number of cached resources.
func (c *Cache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.vals)
}
