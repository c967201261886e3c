package vm

import "sync"

// specializationSlots is the fixed size of a CompiledCode's
// specialization cache. This is deliberately small and fixed rather
// than a growable structure: specializations exist to shortcut
// the common receiver classes at a call site, not to memoize every
// class that ever reaches it.
const specializationSlots = 8

type specializationEntry struct {
	class    ClassData
	executor Executor
	jitData  interface{}
}

// specializationCache is CompiledCode's fixed N=8 cache from
// (class_id, class_serial) to a specialized executor. Any class can sit
// in any slot; lookups and inserts scan the slots in order. A zero
// ClassID marks an empty slot.
//
// Eviction when the cache is full overwrites slot 0. This is a known,
// documented placeholder: it is not an LRU policy and will occasionally
// evict a still-hot class in favor of a newly-specialized one. A real
// LRU or random-replacement policy is a straightforward follow-up, but
// changes which classes stay warm under churn, so it isn't swapped in
// silently.
type specializationCache struct {
	mu      sync.RWMutex
	entries [specializationSlots]specializationEntry
}

func (c *specializationCache) find(cd ClassData) (Executor, interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.class == cd {
			return e.executor, e.jitData, true
		}
	}
	return nil, nil, false
}

// add installs an executor for cd, reusing a slot already assigned to
// the same class_id (even with a stale serial: a shape change
// invalidates the old entry outright) or the first empty slot. If the
// cache is full, it overwrites slot 0 and logs the eviction.
func (c *specializationCache) add(cd ClassData, ex Executor, jitData interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.entries {
		if c.entries[i].class.ClassID == cd.ClassID {
			c.entries[i] = specializationEntry{class: cd, executor: ex, jitData: jitData}
			return
		}
	}
	for i := range c.entries {
		if c.entries[i].class.empty() {
			c.entries[i] = specializationEntry{class: cd, executor: ex, jitData: jitData}
			return
		}
	}

	warnf("specialization cache full, overwriting slot 0 (evicting class %d serial %d for class %d serial %d)",
		c.entries[0].class.ClassID, c.entries[0].class.Serial, cd.ClassID, cd.Serial)
	c.entries[0] = specializationEntry{class: cd, executor: ex, jitData: jitData}
}

// canSpecialize reports whether any slot is still empty.
func (c *specializationCache) canSpecialize() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.class.empty() {
			return true
		}
	}
	return false
}

// empty reports whether every slot is empty.
func (c *specializationCache) empty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if !e.class.empty() {
			return false
		}
	}
	return true
}

// forEachJITData visits every installed specialization's jit_data, for
// the GC mark callback.
func (c *specializationCache) forEachJITData(fn func(interface{})) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if !e.class.empty() && e.jitData != nil {
			fn(e.jitData)
		}
	}
}
