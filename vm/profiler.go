package vm

import (
	"sync"
	"sync/atomic"
)

// CodeProfile holds invocation counts for one CompiledCode, broken down
// by receiver class so the profiler can tell "called a lot" apart from
// "called a lot, by one class" -- only the latter is worth specializing.
type CodeProfile struct {
	Total uint64

	mu      sync.Mutex
	byClass map[uint32]uint64
}

// Profiler tracks per-class invocation counts for CompiledCode objects
// and, once a class crosses HotThreshold calls at a given call site,
// calls OnHot with a ready-to-use (class_id, serial, executor) triple
// for add_specialized. This is the producer side of specialization;
// CompiledCode.AddSpecialized is the consumer.
type Profiler struct {
	profiles sync.Map // *CompiledCode -> *CodeProfile

	// HotThreshold is the number of calls from the same class before
	// that class is considered worth specializing. Cog-derived VMs use
	// thresholds in the low hundreds; this mirrors that order of
	// magnitude rather than Smalltalk-80's much lower classic value.
	HotThreshold uint64

	// OnHot is called once per (code, class) pair the first time it
	// crosses HotThreshold, with an Executor the caller should register
	// via code.AddSpecialized. Returning nil means "don't specialize
	// this one."
	OnHot func(code *CompiledCode, cd ClassData) Executor

	hotCount uint64
}

// NewProfiler creates a profiler with a default hot threshold.
func NewProfiler() *Profiler {
	return &Profiler{HotThreshold: 200}
}

// Record registers one invocation of code by a receiver with class data
// cd. If this crossed the hot threshold for that class and OnHot is set
// and returns a non-nil Executor, the specialization is installed
// immediately.
func (p *Profiler) Record(code *CompiledCode, cd ClassData) {
	if code == nil || cd.empty() {
		return
	}

	val, _ := p.profiles.LoadOrStore(code, &CodeProfile{byClass: make(map[uint32]uint64)})
	profile := val.(*CodeProfile)
	atomic.AddUint64(&profile.Total, 1)

	profile.mu.Lock()
	profile.byClass[cd.ClassID]++
	count := profile.byClass[cd.ClassID]
	profile.mu.Unlock()

	if count != p.HotThreshold || p.OnHot == nil {
		return
	}
	ex := p.OnHot(code, cd)
	if ex == nil {
		return
	}
	if err := code.AddSpecialized(cd, ex, nil); err == nil {
		atomic.AddUint64(&p.hotCount, 1)
	}
}

// Stats returns the profile for a code object, or nil if untracked.
func (p *Profiler) Stats(code *CompiledCode) *CodeProfile {
	if val, ok := p.profiles.Load(code); ok {
		return val.(*CodeProfile)
	}
	return nil
}

// HotCount returns how many (code, class) pairs have been specialized
// via this profiler.
func (p *Profiler) HotCount() uint64 {
	return atomic.LoadUint64(&p.hotCount)
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.profiles = sync.Map{}
	atomic.StoreUint64(&p.hotCount, 0)
}
