// Package heap implements the block-local append-only byte buffer used
// to store variable-length bin payloads that don't fit in a dict-entry
// chunk's fixed-width components.
package heap

import (
	"bytes"

	"github.com/cespare/xxhash/v2"
)

// Heap is an append-only byte buffer with substring deduplication: if a
// new slice is already present in the heap, its existing offset is
// reused instead of appending a duplicate copy. It is owned by a single
// track writer for the lifetime of one track and is never shared.
type Heap struct {
	data []byte

	// index maps the xxhash of a previously-added slice to the offsets
	// of slices that hashed the same, giving an O(1) average exact-match
	// fast path before falling back to Heap's O(n·m) substring scan. This
	// is the hash-based dedup alternative spec.md §4.4/§9 explicitly
	// permits in place of a plain linear substring-find.
	index map[uint64][]int
}

// New returns an empty heap.
func New() *Heap {
	return &Heap{index: make(map[uint64][]int)}
}

// Add appends b to the heap and returns its offset, unless b is already
// present in the heap (as an exact previously-added slice, or as a
// substring of the accumulated bytes), in which case the existing
// position is returned.
func (h *Heap) Add(b []byte) int {
	if pos, ok := h.findExact(b); ok {
		return pos
	}
	if len(h.data) > 0 {
		if idx := bytes.Index(h.data, b); idx >= 0 {
			return idx
		}
	}
	pos := len(h.data)
	h.data = append(h.data, b...)
	h.index[xxhash.Sum64(b)] = append(h.index[xxhash.Sum64(b)], pos)
	return pos
}

func (h *Heap) findExact(b []byte) (int, bool) {
	for _, pos := range h.index[xxhash.Sum64(b)] {
		if pos+len(b) <= len(h.data) && bytes.Equal(h.data[pos:pos+len(b)], b) {
			return pos, true
		}
	}
	return 0, false
}

// At returns the n bytes starting at offset.
func (h *Heap) At(offset, n int) []byte {
	return h.data[offset : offset+n]
}

// Len returns the number of bytes currently in the heap.
func (h *Heap) Len() int {
	return len(h.data)
}

// Bytes returns the raw heap contents.
func (h *Heap) Bytes() []byte {
	return h.data
}

// FromBytes wraps previously-serialized heap bytes for reading; no
// further Add calls are expected on a heap constructed this way.
func FromBytes(b []byte) *Heap {
	return &Heap{data: b}
}
