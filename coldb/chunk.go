package coldb

import (
	"github.com/graydon/submerge/base"
	"github.com/graydon/submerge/heap"
)

// DictEntryChunkMeta records, for one ≤256-entry dict-entry chunk, the
// packed word width chosen per component and whether any entry in the
// chunk is a bin longer than 8 bytes (which adds the hash/offset
// components).
type DictEntryChunkMeta struct {
	AnyBinLarge bool
	ValTy       base.WordTy
	BinLenTy    base.WordTy
	BinOffTy    base.WordTy
}

// DictEntryChunkComponents holds the decoded per-component arrays of one
// dict-entry chunk. BinLen/BinHash/BinOff are nil for non-bin chunks;
// BinHash/BinOff are additionally nil when the chunk has no large bin.
type DictEntryChunkComponents struct {
	Value   []int64
	BinLen  []int64
	BinHash []uint16
	BinOff  []int64
}

// writeForComponent selects a frame-of-reference base and word width for
// xs (§4.3), writes the base inline (needed to invert the FOR subtraction
// on read — the original draft this is adapted from selects a width but
// never records the base it computed against, which would make the
// packed bytes unrecoverable for any component whose values sit far from
// zero), then writes the width-packed deltas.
func writeForComponent(w Writer, name string, xs []int64) (base.WordTy, error) {
	min, ty := base.SelectMinAndType(xs)
	if err := WriteLEI64(w, name+"_base", int64(min)); err != nil {
		return 0, err
	}
	deltas := make([]uint64, len(xs))
	for i, x := range xs {
		deltas[i] = uint64(x) - min
	}
	if err := WriteWordTySlice(w, name, deltas, ty); err != nil {
		return 0, err
	}
	return ty, nil
}

func readForComponent(r Reader, n int, ty base.WordTy) ([]int64, error) {
	base64, err := ReadLEI64(r)
	if err != nil {
		return nil, err
	}
	deltas, err := ReadWordTySlice(r, n, ty)
	if err != nil {
		return nil, err
	}
	out := make([]int64, n)
	for i, d := range deltas {
		out[i] = int64(uint64(base64) + d)
	}
	return out, nil
}

// writeDictEntryChunk writes one ≤256-entry dict-entry chunk (§4.5): the
// value component always, and for bins the length component, plus (when
// any entry in the chunk exceeds 8 bytes) the hash and heap-offset
// components.
func writeDictEntryChunk(w Writer, entries []Value, h *heap.Heap) (DictEntryChunkMeta, error) {
	var meta DictEntryChunkMeta
	numComponents := 1
	for _, e := range entries {
		if bin, ok := e.(Bin); ok {
			if numComponents < smallBinComponents {
				numComponents = smallBinComponents
			}
			if bin.IsLarge() {
				numComponents = largeBinComponents
			}
		}
	}
	meta.AnyBinLarge = numComponents == largeBinComponents

	for c := 0; c < numComponents; c++ {
		if c == binComponentHash {
			hashes := make([]uint16, len(entries))
			for i, e := range entries {
				hashes[i] = uint16(e.Component(c, h))
			}
			if err := WriteLEU16Slice(w, ComponentName(numComponents, c), hashes); err != nil {
				return meta, err
			}
			continue
		}
		vals := make([]int64, len(entries))
		for i, e := range entries {
			vals[i] = e.Component(c, h)
		}
		ty, err := writeForComponent(w, ComponentName(numComponents, c), vals)
		if err != nil {
			return meta, err
		}
		switch c {
		case ComponentValue:
			meta.ValTy = ty
		case BinComponentLen:
			meta.BinLenTy = ty
		case binComponentOff:
			meta.BinOffTy = ty
		}
	}
	return meta, nil
}

// readDictEntryChunk reads back the components of the n entries written
// by writeDictEntryChunk. isBin tells it whether to expect the bin-only
// length/hash/offset components at all.
func readDictEntryChunk(r Reader, n int, isBin bool, meta DictEntryChunkMeta) (DictEntryChunkComponents, error) {
	var out DictEntryChunkComponents
	numComponents := 1
	if isBin {
		numComponents = smallBinComponents
		if meta.AnyBinLarge {
			numComponents = largeBinComponents
		}
	}

	vals, err := readForComponent(r, n, meta.ValTy)
	if err != nil {
		return out, err
	}
	out.Value = vals
	if !isBin {
		return out, nil
	}

	lens, err := readForComponent(r, n, meta.BinLenTy)
	if err != nil {
		return out, err
	}
	out.BinLen = lens
	if !meta.AnyBinLarge {
		return out, nil
	}

	hashes, err := ReadLEU16Slice(r, n)
	if err != nil {
		return out, err
	}
	out.BinHash = hashes

	offs, err := readForComponent(r, n, meta.BinOffTy)
	if err != nil {
		return out, err
	}
	out.BinOff = offs
	return out, nil
}

// DictCodeChunkMeta records, for one ≤256-code chunk, whether codes
// needed two bytes, whether run-end encoding was used, and the min/max
// dict code observed.
type DictCodeChunkMeta struct {
	TwoBytes    bool
	RunCoded    bool
	MinDictCode uint16
	MaxDictCode uint16
}

// writeDictCodeChunk writes one ≤256-code chunk (§4.6): it scans for
// min/max/width, compares the byte cost of run-end vs plain encoding, and
// emits whichever is smaller.
func writeDictCodeChunk(w Writer, codes []uint16) (DictCodeChunkMeta, error) {
	meta := DictCodeChunkMeta{MinDictCode: 0xffff, MaxDictCode: 0}
	for _, c := range codes {
		if c > 0xff {
			meta.TwoBytes = true
		}
		if c < meta.MinDictCode {
			meta.MinDictCode = c
		}
		if c > meta.MaxDictCode {
			meta.MaxDictCode = c
		}
	}

	runVals, runEnds, err := runEndEncode(codes)
	if err != nil {
		return meta, err
	}
	width := 1
	if meta.TwoBytes {
		width = 2
	}
	runEncodedLen := len(runEnds) * (width + 2)
	plainLen := len(codes) * width
	if runEncodedLen < plainLen {
		meta.RunCoded = true
		// nruns must precede the lane bytes: a chunk-map builder skipping
		// past this chunk needs the run count before it can know how many
		// lane bytes follow.
		if err := WriteLEU16(w, "nruns", uint16(len(runEnds))); err != nil {
			return meta, err
		}
		if err := writeCodeLanes(w, runVals, meta.TwoBytes); err != nil {
			return meta, err
		}
		if err := WriteLEU16Slice(w, "run_ends", runEnds); err != nil {
			return meta, err
		}
	} else {
		if err := writeCodeLanes(w, codes, meta.TwoBytes); err != nil {
			return meta, err
		}
	}
	return meta, nil
}

// readDictCodeChunk reads back the n codes written by writeDictCodeChunk.
func readDictCodeChunk(r Reader, n int, meta DictCodeChunkMeta) ([]uint16, error) {
	if meta.RunCoded {
		nruns, err := ReadLEU16(r)
		if err != nil {
			return nil, err
		}
		runVals, err := readCodeLanes(r, int(nruns), meta.TwoBytes)
		if err != nil {
			return nil, err
		}
		runEnds, err := ReadLEU16Slice(r, int(nruns))
		if err != nil {
			return nil, err
		}
		return runEndDecode(runVals, runEnds), nil
	}
	return readCodeLanes(r, n, meta.TwoBytes)
}

func writeCodeLanes(w Writer, vals []uint16, twoBytes bool) error {
	defer w.Push("code_lanes")()
	if twoBytes {
		if err := WriteBELane(w, "hi_lane", 0, vals); err != nil {
			return err
		}
	}
	return WriteBELane(w, "lo_lane", 1, vals)
}

func readCodeLanes(r Reader, n int, twoBytes bool) ([]uint16, error) {
	out := make([]uint16, n)
	if twoBytes {
		if err := ReadBELane(r, 0, n, out); err != nil {
			return nil, err
		}
	}
	if err := ReadBELane(r, 1, n, out); err != nil {
		return nil, err
	}
	return out, nil
}

// runEndEncode implements §4.6's run-end rule directly: a value's run
// ends at index i iff xs[i+1] != xs[i] or i is the last index.
func runEndEncode(xs []uint16) (runVals []uint16, runEnds []uint16, err error) {
	n := len(xs)
	if n == 0 {
		return nil, nil, nil
	}
	if n > 0xffff {
		return nil, nil, base.Structural("chunk has %d codes, exceeds 0xFFFF", n)
	}
	for i := 0; i < n; i++ {
		if i == n-1 || xs[i+1] != xs[i] {
			runVals = append(runVals, xs[i])
			runEnds = append(runEnds, uint16(i))
		}
	}
	return runVals, runEnds, nil
}

// runEndDecode expands (runVals, runEnds) back to the original sequence.
func runEndDecode(runVals, runEnds []uint16) []uint16 {
	if len(runEnds) == 0 {
		return nil
	}
	n := int(runEnds[len(runEnds)-1]) + 1
	out := make([]uint16, n)
	start := 0
	for i, end := range runEnds {
		for j := start; j <= int(end); j++ {
			out[j] = runVals[i]
		}
		start = int(end) + 1
	}
	return out
}
