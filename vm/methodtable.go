package vm

import (
	"log"
	"sync"
	"sync/atomic"
)

// Bucket is one method-table entry: a name, its visibility, and the
// materialized method artifact (or just an installable token if nothing
// has compiled yet). Buckets chain by name-hash collision; a bucket
// never holds a reference back to the table that owns it.
type Bucket struct {
	name       Symbol
	visibility Visibility
	methodID   uint64 // late-bind installable token, valid even before Method is set
	method     Method // nil until something is actually callable
	scope      string // originating module/scope name, used by alias
	serial     uint64 // generation counter, set to the caller-supplied value on every store to this name
	next       *Bucket
}

// Name returns the bucket's selector name.
func (b *Bucket) Name() Symbol { return b.name }

// Visibility returns the bucket's visibility.
func (b *Bucket) Visibility() Visibility { return b.visibility }

// MethodID returns the bucket's installable token.
func (b *Bucket) MethodID() uint64 { return b.methodID }

// Method returns the bucket's materialized method artifact, or nil.
func (b *Bucket) Method() Method { return b.method }

// Scope returns the name of the module the method was defined in.
func (b *Bucket) Scope() string { return b.scope }

// Serial returns the bucket's generation counter.
func (b *Bucket) Serial() uint64 { return b.serial }

// snapshot is a table's published state: the bin count and the head of
// each chain, swapped out as one unit so a reader never observes a
// bins/values pair that didn't exist together.
type snapshot struct {
	bins   uint32
	values []*Bucket
}

// MethodTable is a concurrent, hash-chained symbol-to-bucket table.
// Reads never block: lookup/find_entry/has_name walk a chain reached
// through an acquire-load of the published snapshot. Mutations
// (store/alias/remove) serialize on mu and publish a new snapshot with
// a release-store when they're done, resizing when the chain count
// reaches the bin count (load factor 1.0).
type MethodTable struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

const minBins = 16

func roundUpPow2(n uint32) uint32 {
	if n < 1 {
		n = 1
	}
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}

// NewMethodTable creates a table with size bins, rounded up to a power
// of two (minimum 16 bins). The first resize happens when the entry
// count reaches the bin count.
func NewMethodTable(size int) *MethodTable {
	bins := roundUpPow2(uint32(size))
	if bins < minBins {
		bins = minBins
	}
	t := &MethodTable{}
	t.snap.Store(&snapshot{bins: bins, values: make([]*Bucket, bins)})
	return t
}

func (t *MethodTable) bin(name Symbol, bins uint32) uint32 {
	return uint32(name.hash()) & (bins - 1)
}

// Lookup finds the bucket for name without mutating anything. Safe to
// call concurrently with any other MethodTable operation, including a
// resize in progress on another goroutine.
func (t *MethodTable) Lookup(name Symbol) (*Bucket, bool) {
	return t.findEntry(name)
}

// FindEntry is Lookup without any auto-promotion side effects. In this
// core the two are identical; the name is kept distinct because the
// spec's vocabulary treats them as separate operations with potentially
// different futures (e.g. lookup someday warming a call-site cache).
func (t *MethodTable) FindEntry(name Symbol) (*Bucket, bool) {
	return t.findEntry(name)
}

func (t *MethodTable) findEntry(name Symbol) (*Bucket, bool) {
	s := t.snap.Load()
	idx := t.bin(name, s.bins)
	for b := s.values[idx]; b != nil; b = b.next {
		if b.name == name {
			return b, true
		}
	}
	return nil, false
}

// HasName reports whether name has a bucket in the table.
func (t *MethodTable) HasName(name Symbol) bool {
	_, ok := t.findEntry(name)
	return ok
}

// Store installs or overwrites the bucket for name. Overwriting
// preserves the bucket's position in its chain (tie-break: the first
// matching bucket in the chain always wins, and store never reorders a
// chain it's merely updating). Returns true unless something internal
// prevented the mutation.
func (t *MethodTable) Store(name Symbol, methodID uint64, method Method, scope string, serial uint64, visibility Visibility) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.snap.Load()
	idx := t.bin(name, s.bins)
	for b := s.values[idx]; b != nil; b = b.next {
		if b.name == name {
			b.methodID = methodID
			b.method = method
			b.scope = scope
			b.serial = serial
			b.visibility = visibility
			return true
		}
	}

	nb := &Bucket{
		name:       name,
		visibility: visibility,
		methodID:   methodID,
		method:     method,
		scope:      scope,
		serial:     serial,
		next:       s.values[idx],
	}

	values := make([]*Bucket, len(s.values))
	copy(values, s.values)
	values[idx] = nb
	entries := t.countEntries(values)

	if entries >= uint32(len(values)) {
		t.resizeLocked(values)
		return true
	}

	t.snap.Store(&snapshot{bins: s.bins, values: values})
	return true
}

func (t *MethodTable) countEntries(values []*Bucket) uint32 {
	var n uint32
	for _, head := range values {
		for b := head; b != nil; b = b.next {
			n++
		}
	}
	return n
}

// resizeLocked must be called with mu held. It rehashes every existing
// bucket into a table with double the bins, reusing bucket storage
// (only `next` pointers are rewritten), and publishes the result with a
// release-store.
func (t *MethodTable) resizeLocked(values []*Bucket) {
	oldBins := uint32(len(values))
	newBins := oldBins * 2
	newValues := make([]*Bucket, newBins)

	for _, head := range values {
		for b := head; b != nil; {
			next := b.next
			idx := t.bin(b.name, newBins)
			b.next = newValues[idx]
			newValues[idx] = b
			b = next
		}
	}

	t.snap.Store(&snapshot{bins: newBins, values: newValues})
}

// Remove unlinks the bucket for name, if present, and returns its
// materialized method.
func (t *MethodTable) Remove(name Symbol) (Method, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.snap.Load()
	idx := t.bin(name, s.bins)

	values := make([]*Bucket, len(s.values))
	copy(values, s.values)

	var prev *Bucket
	for b := values[idx]; b != nil; b = b.next {
		if b.name == name {
			if prev == nil {
				values[idx] = b.next
			} else {
				prev.next = b.next
			}
			t.snap.Store(&snapshot{bins: s.bins, values: values})
			return b.method, true
		}
		prev = b
	}
	return nil, false
}

// Duplicate returns an independent copy of the table: same buckets'
// contents, but no shared bucket storage, so mutating one table never
// affects the other.
func (t *MethodTable) Duplicate() *MethodTable {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.snap.Load()
	newValues := make([]*Bucket, len(s.values))
	for i, head := range s.values {
		var newHead, tail *Bucket
		for b := head; b != nil; b = b.next {
			nb := &Bucket{
				name:       b.name,
				visibility: b.visibility,
				methodID:   b.methodID,
				method:     b.method,
				scope:      b.scope,
				serial:     b.serial,
			}
			if tail == nil {
				newHead = nb
			} else {
				tail.next = nb
			}
			tail = nb
		}
		newValues[i] = newHead
	}

	dup := &MethodTable{}
	dup.snap.Store(&snapshot{bins: s.bins, values: newValues})
	return dup
}

// Alias installs newName as a reference to origName's resolved bucket,
// found by walking module's inheritance chain through resolver. Returns
// false if origName cannot be resolved; no state is mutated on failure.
func (t *MethodTable) Alias(newName Symbol, visibility Visibility, origName Symbol, module string, resolver ModuleResolver) bool {
	orig, ok := resolver.Resolve(module, origName)
	if !ok {
		return false
	}
	return t.Store(newName, orig.methodID, orig.method, orig.scope, orig.serial, visibility)
}

// Bins returns the current number of bins. For tests and introspection.
func (t *MethodTable) Bins() uint32 {
	return t.snap.Load().bins
}

// Len returns the number of entries currently stored.
func (t *MethodTable) Len() uint32 {
	s := t.snap.Load()
	return t.countEntries(s.values)
}

// warnf is the package's single log helper, shared by compiledcode.go,
// specializationcache.go and primitiveresolver.go so their warnings
// format consistently.
func warnf(format string, args ...interface{}) {
	log.Printf("vm: "+format, args...)
}
