package atomic_float

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// Notes:
// - the float is stored as its bit pattern, so CAS compares bits, not values.
//   -0.0 and 0.0 differ, and NaN never compares equal to itself as a float,
//   but its bits do, which is all CAS needs.
// - no unsafe pointer is stored beyond the statement that builds it.

// AtomicFloat64 encapsulates a float64 for non-locking atomic operations.
// The sweep workers of the solver share one of these to reduce the largest
// utility change of a sweep without a mutex.
type AtomicFloat64 struct {
	val float64
}

// NewAtomicFloat64 encapsulates a float64 for atomic operations.
func NewAtomicFloat64(val float64) *AtomicFloat64 {
	return &AtomicFloat64{
		val: val,
	}
}

func (af *AtomicFloat64) bits() *uint64 {
	return (*uint64)(unsafe.Pointer(&af.val))
}

// AtomicRead reads the float64.
// Reads must go through here so a concurrent writer's value is never observed torn or stale.
func (af *AtomicFloat64) AtomicRead() (value float64) {
	return math.Float64frombits(atomic.LoadUint64(af.bits()))
}

// AtomicAdd makes a single attempt to add to the float64.
// If the pointee changes while we're operating upon it the add is not applied
// and succeeded is false; the caller decides whether to retry or drop the update.
func (af *AtomicFloat64) AtomicAdd(addend float64) (newVal float64, succeeded bool) {
	old := af.AtomicRead()
	newVal = old + addend
	succeeded = atomic.CompareAndSwapUint64(
		af.bits(),
		math.Float64bits(old),
		math.Float64bits(newVal))
	return
}

// AtomicSet unconditionally stores newVal.
func (af *AtomicFloat64) AtomicSet(newVal float64) {
	atomic.StoreUint64(af.bits(), math.Float64bits(newVal))
}

// AtomicMax raises the float64 to candidate if candidate is larger, and returns
// the value held afterward. Unlike AtomicAdd this retries until it either wins
// the CAS or observes a value at least as large, since a dropped maximum is wrong.
// NaN candidates are ignored.
func (af *AtomicFloat64) AtomicMax(candidate float64) float64 {
	for {
		old := af.AtomicRead()
		if !(candidate > old) {
			return old
		}
		if atomic.CompareAndSwapUint64(
			af.bits(),
			math.Float64bits(old),
			math.Float64bits(candidate)) {
			return candidate
		}
	}
}
