package core

import (
	"sync"
	"time"
)

// Cache holds the most recent device status. The zero value is not usable;
// call NewCache or Default.
type Cache struct {
	mu     sync.RWMutex
	status *DeviceStatus
	now    func() time.Time
}

// NewCache returns an empty status cache.
func NewCache() *Cache {
	return &Cache{now: time.Now}
}

var (
	defaultOnce  sync.Once
	defaultCache *Cache
)

// Default returns the process-wide status cache, created on first use.
// Every caller observes the same instance.
func Default() *Cache {
	defaultOnce.Do(func() {
		defaultCache = NewCache()
	})
	return defaultCache
}

// Set replaces the cached status, stamping UpdatedAt with the current time.
func (c *Cache) Set(st DeviceStatus) DeviceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setLocked(st)
}

func (c *Cache) setLocked(st DeviceStatus) DeviceStatus {
	st = st.clone()
	st.UpdatedAt = c.now().UnixMilli()
	c.status = &st
	return st.clone()
}

// Get returns a copy of the cached status. ok is false until the first Set.
func (c *Cache) Get() (st DeviceStatus, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status == nil {
		return DeviceStatus{}, false
	}
	return c.status.clone(), true
}

// Mutate runs fn on a copy of the current status under the write lock and
// stores the result. If fn returns an error the cache is left unchanged.
func (c *Cache) Mutate(fn func(st *DeviceStatus, ok bool) error) (DeviceStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var cur DeviceStatus
	ok := c.status != nil
	if ok {
		cur = c.status.clone()
	}
	if err := fn(&cur, ok); err != nil {
		return DeviceStatus{}, err
	}
	return c.setLocked(cur), nil
}
