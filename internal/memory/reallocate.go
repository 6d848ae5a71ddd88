// Package memory provides the single resize primitive used for every growable
// array owned by the VM heap (chunk code, line tables, constant pools, hash
// table entries, the gray worklist). Each resize reports its byte delta to a
// Tracker so the collector can pace itself on allocation volume.
package memory

import "unsafe"

// MinCapacity is the capacity of a freshly grown array.
const MinCapacity = 8

// Tracker receives the signed byte delta of every resize.
type Tracker interface {
	Track(delta int)
}

// GrowCapacity returns the next capacity for an array that is full.
func GrowCapacity(capacity int) int {
	if capacity < MinCapacity {
		return MinCapacity
	}
	return capacity * 2
}

// Reallocate resizes old to exactly newCap elements and returns the new
// slice, with the overlapping prefix preserved and the length clamped to
// newCap. A newCap of zero releases the array and returns nil.
//
// A nil Tracker disables accounting.
func Reallocate[T any](t Tracker, old []T, newCap int) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	oldCap := cap(old)
	if t != nil && newCap != oldCap {
		t.Track((newCap - oldCap) * size)
	}
	if newCap == 0 {
		return nil
	}
	if newCap == oldCap {
		return old
	}
	n := len(old)
	if n > newCap {
		n = newCap
	}
	out := make([]T, n, newCap)
	copy(out, old[:n])
	return out
}

// Append pushes v onto s, growing the backing array through Reallocate when
// it is full.
func Append[T any](t Tracker, s []T, v T) []T {
	if len(s) == cap(s) {
		s = Reallocate(t, s, GrowCapacity(cap(s)))
	}
	return append(s, v)
}

// Release frees the backing array of s.
func Release[T any](t Tracker, s []T) []T {
	return Reallocate(t, s, 0)
}
