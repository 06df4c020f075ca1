package coldb

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/graydon/submerge/base"
	"github.com/graydon/submerge/heap"
)

// Dictionary-encodable component indices, shared between writers and
// readers. Int and Flo values have exactly one component (ComponentValue);
// bins have two (prefix, len) or, once any value in the chunk exceeds 8
// bytes, four (prefix, len, hash, offset).
const (
	ComponentValue  = 0
	BinComponentLen = 1
	binComponentHash = 2
	binComponentOff  = 3

	smallBinComponents = 2
	largeBinComponents = 4
)

// Kind identifies a column's logical value type. The wire format itself
// carries no kind tag (spec.md §1: "no schema catalog specified here");
// callers must supply it when opening a track for reading.
type Kind uint8

const (
	KindInt Kind = iota
	KindFlo
	KindBin
)

// Value is anything the dict encoder can sort, dedup, and project into
// the fixed-width integer components a dict-entry chunk stores.
type Value interface {
	// Components returns how many components this value contributes to
	// a dict-entry chunk: 1 for Int/Flo, 2 or 4 for Bin depending on
	// length.
	Components() int
	// Component projects component i to an int64, using heap for the
	// bin heap-offset component (component 3).
	Component(i int, h *heap.Heap) int64
	Less(other Value) bool
	Equal(other Value) bool
}

// ComponentName returns the debug annotation label for component i of
// a value with the given component count (2 or 4 for bins, 1 otherwise).
func ComponentName(numComponents, i int) string {
	if numComponents == 1 {
		return "val"
	}
	switch i {
	case ComponentValue:
		return "prefix"
	case BinComponentLen:
		return "len"
	case binComponentHash:
		return "hash"
	case binComponentOff:
		return "offset"
	default:
		return "val"
	}
}

// Int is a dictionary-encodable i64 column value.
type Int int64

func (v Int) Components() int                       { return 1 }
func (v Int) Component(i int, _ *heap.Heap) int64    { return int64(v) }
func (v Int) Less(o Value) bool                      { return v < o.(Int) }
func (v Int) Equal(o Value) bool                     { return v == o.(Int) }

// Flo is a dictionary-encodable f64 column value. Its single component
// is the IEEE-754 bit pattern (spec.md §3); ordering for the dictionary
// uses the natural float order, not a bitwise compare of that pattern.
type Flo float64

func (v Flo) Components() int { return 1 }
func (v Flo) Component(i int, _ *heap.Heap) int64 {
	return int64(math.Float64bits(float64(v)))
}
func (v Flo) Less(o Value) bool  { return v < o.(Flo) }
func (v Flo) Equal(o Value) bool { return v == o.(Flo) }

// Bin is a dictionary-encodable variable-length byte string. It
// projects to 2 components when ≤8 bytes (prefix, len) or 4 when
// longer (prefix, len, hash, heap offset).
type Bin []byte

// IsLarge reports whether this bin needs the hash/offset components.
func (v Bin) IsLarge() bool { return len(v) > 8 }

func (v Bin) Components() int {
	if v.IsLarge() {
		return largeBinComponents
	}
	return smallBinComponents
}

// prefix treats the first 8 bytes of the bin as a big-endian i64, which
// sorts lexicographically with the rest of the string — short bins are
// zero-padded on the right.
func (v Bin) prefix() int64 {
	var buf [8]byte
	n := len(v)
	if n > 8 {
		n = 8
	}
	copy(buf[:n], v[:n])
	return int64(binary.BigEndian.Uint64(buf[:]))
}

func (v Bin) Component(i int, h *heap.Heap) int64 {
	switch i {
	case ComponentValue:
		return v.prefix()
	case BinComponentLen:
		return int64(len(v))
	case binComponentHash:
		return int64(binHash(v))
	case binComponentOff:
		return int64(h.Add(v))
	default:
		panic("Bin: unexpected component index")
	}
}

func (v Bin) Less(o Value) bool  { return bytes.Compare(v, o.(Bin)) < 0 }
func (v Bin) Equal(o Value) bool { return bytes.Equal(v, o.(Bin)) }

// binHash computes the 16-bit folded hash stored as a bin's hash
// component. spec.md's original source (dict.rs) uses the low 16 bits
// of rapidhash; no rapidhash crate exists in this module's dependency
// pack, so this instead folds github.com/cespare/xxhash/v2 (pulled in
// by darshanime-pebble and dolthub-dolt for the same kind of fast,
// fixed-width content hash). By the time a lookup has filtered by
// length and prefix, the collision probability is already small; this
// is just one more cheap filter, not a cryptographic hash.
func binHash(b []byte) uint16 {
	return uint16(xxhash.Sum64(b) & 0xffff)
}

// dictEncode sorts vals to strictly-sorted uniques and returns (dict,
// codes) where codes[i] is the dictionary index of vals[i]. Dictionaries
// are capped at 0xFFFF entries.
func dictEncode(vals []Value) ([]Value, []uint16, error) {
	if len(vals) > 0xffff {
		return nil, nil, base.Structural("track has %d rows, exceeds 0xFFFF", len(vals))
	}
	order := make([]int, len(vals))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return vals[order[a]].Less(vals[order[b]])
	})

	dict := make([]Value, 0, len(vals))
	codes := make([]uint16, len(vals))
	for i, origIdx := range order {
		if i == 0 || !vals[order[i-1]].Equal(vals[origIdx]) {
			dict = append(dict, vals[origIdx])
		}
		codes[origIdx] = uint16(len(dict) - 1)
	}
	if len(dict) > 0xffff {
		return nil, nil, base.Structural("dictionary has %d entries, exceeds 0xFFFF", len(dict))
	}
	return dict, codes, nil
}
