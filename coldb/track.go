package coldb

import (
	"math"
	"strconv"

	"github.com/graydon/submerge/base"
	"github.com/graydon/submerge/heap"
)

const maxTrackRows = 0xffff
const chunkSize = 256

// TrackMeta is the footer written at the end of an explicit (non-implicit)
// track body — see spec §6's track_meta layout. It is never read or
// written for implicit tracks.
type TrackMeta struct {
	ChunkPopulated     base.Bitmap256
	ChunkTwoBytes      base.Bitmap256
	ChunkRunCoded      base.Bitmap256
	DictEntryCount     uint16
	DictValChunkTys    base.WordTy256
	DictBinLenChunkTys base.WordTy256
	DictBinLarge       base.Bitmap256
	DictBinOffTys      base.WordTy256
	ChunkMinDictCodes  []uint16
	ChunkMaxDictCodes  []uint16
}

// TrackInfoForBlock is the summary a finished track reports to its
// enclosing block: not itself serialized, it becomes four of
// block_meta's parallel arrays plus a bit in track_implicit.
type TrackInfoForBlock struct {
	LoVal    int64
	HiVal    int64
	Implicit bool
	Rows     uint16
	EndPos   int64
}

// TrackWriter accumulates one column's rows within a block. Obtain one
// via BlockWriter.BeginTrack and return it to the block with
// FinishTrack.
type TrackWriter struct {
	w        Writer
	block    *BlockWriter
	trackNum int
	meta     TrackMeta
	info     TrackInfoForBlock
	pops     []func()
}

func newTrackWriter(block *BlockWriter, trackNum int, w Writer) (*TrackWriter, error) {
	if trackNum > 255 {
		return nil, base.Structural("block already has 256 tracks")
	}
	pop1 := w.Push("track")
	pop2 := w.Push(strconv.Itoa(trackNum))
	return &TrackWriter{
		w:        w,
		block:    block,
		trackNum: trackNum,
		pops:     []func(){pop2, pop1},
	}, nil
}

// WriteDictEncoded dictionary-encodes vals and writes the full track
// body (§4.7): dict-entry chunks, dict-code chunks, and the heap, if any
// bin value needed one.
func (tw *TrackWriter) WriteDictEncoded(vals []Value) error {
	if len(vals) > maxTrackRows {
		return base.Structural("track has %d rows, exceeds 0xFFFF", len(vals))
	}
	tw.info.Rows = uint16(len(vals))
	tw.info.Implicit = false
	if len(vals) == 0 {
		return nil
	}

	dict, codes, err := dictEncode(vals)
	if err != nil {
		return err
	}
	tw.info.LoVal = dict[0].Component(ComponentValue, nil)
	tw.info.HiVal = dict[len(dict)-1].Component(ComponentValue, nil)
	tw.meta.DictEntryCount = uint16(len(dict))

	_, isBin := dict[0].(Bin)
	h := heap.New()

	popDEC := tw.w.Push("dict_entry_chunks")
	if err := WriteLEU16(tw.w, "len", uint16(len(dict))); err != nil {
		return err
	}
	for lo := 0; lo < len(dict); lo += chunkSize {
		hi := lo + chunkSize
		if hi > len(dict) {
			hi = len(dict)
		}
		chunkIdx := lo / chunkSize
		popC := tw.w.Push(strconv.Itoa(chunkIdx))
		cmeta, err := writeDictEntryChunk(tw.w, dict[lo:hi], h)
		popC()
		if err != nil {
			return err
		}
		tw.noteDictEntryChunkFinished(chunkIdx, cmeta, isBin)
	}
	popDEC()

	popDCC := tw.w.Push("dict_code_chunks")
	for lo := 0; lo < len(codes); lo += chunkSize {
		hi := lo + chunkSize
		if hi > len(codes) {
			hi = len(codes)
		}
		chunkIdx := lo / chunkSize
		popC := tw.w.Push(strconv.Itoa(chunkIdx))
		cmeta, err := writeDictCodeChunk(tw.w, codes[lo:hi])
		popC()
		if err != nil {
			return err
		}
		tw.noteDictCodeChunkFinished(chunkIdx, cmeta)
	}
	popDCC()

	if h.Len() > 0 {
		popH := tw.w.Push("heap")
		if err := WriteLEI64(tw.w, "len", int64(h.Len())); err != nil {
			return err
		}
		if err := WriteBytes(tw.w, "data", h.Bytes()); err != nil {
			return err
		}
		popH()
	}
	return nil
}

// WriteImplicit records track as implicit (row → base + i·factor, or the
// negative-factor run-length encoding of §4.11); no track body bytes are
// written at all, only the (base, factor) pair recorded in the block's
// track metadata at FinishTrack.
func (tw *TrackWriter) WriteImplicit(base_, factor int64, rows int) error {
	if rows > maxTrackRows {
		return base.Structural("track has %d rows, exceeds 0xFFFF", rows)
	}
	tw.info.LoVal = base_
	tw.info.HiVal = factor
	tw.info.Implicit = true
	tw.info.Rows = uint16(rows)
	return nil
}

func (tw *TrackWriter) noteDictEntryChunkFinished(chunkIdx int, m DictEntryChunkMeta, isBin bool) {
	tw.meta.DictValChunkTys.Set(uint8(chunkIdx), m.ValTy)
	if !isBin {
		return
	}
	tw.meta.DictBinLenChunkTys.Set(uint8(chunkIdx), m.BinLenTy)
	tw.meta.DictBinLarge.Set(uint8(chunkIdx), m.AnyBinLarge)
	if m.AnyBinLarge {
		tw.meta.DictBinOffTys.Set(uint8(chunkIdx), m.BinOffTy)
	}
}

func (tw *TrackWriter) noteDictCodeChunkFinished(chunkIdx int, m DictCodeChunkMeta) {
	tw.meta.ChunkPopulated.Set(uint8(chunkIdx), true)
	tw.meta.ChunkTwoBytes.Set(uint8(chunkIdx), m.TwoBytes)
	tw.meta.ChunkRunCoded.Set(uint8(chunkIdx), m.RunCoded)
	tw.meta.ChunkMinDictCodes = append(tw.meta.ChunkMinDictCodes, m.MinDictCode)
	tw.meta.ChunkMaxDictCodes = append(tw.meta.ChunkMaxDictCodes, m.MaxDictCode)
}

func (tw *TrackWriter) writeMetaFooter() error {
	defer tw.w.Push("meta")()
	start, err := tw.w.Pos()
	if err != nil {
		return base.IO(err, "failed to read track meta start position")
	}
	if err := WriteBytes(tw.w, "chunk_populated", tw.meta.ChunkPopulated.Bytes()); err != nil {
		return err
	}
	if err := WriteLEU16(tw.w, "dict_entry_count", tw.meta.DictEntryCount); err != nil {
		return err
	}
	if err := WriteBytes(tw.w, "dict_val_chunk_tys", tw.meta.DictValChunkTys.Bytes()); err != nil {
		return err
	}
	if err := WriteBytes(tw.w, "dict_bin_len_chunk_tys", tw.meta.DictBinLenChunkTys.Bytes()); err != nil {
		return err
	}
	if err := WriteBytes(tw.w, "dict_bin_large", tw.meta.DictBinLarge.Bytes()); err != nil {
		return err
	}
	if tw.meta.DictBinLarge.Any() {
		if err := WriteBytes(tw.w, "dict_bin_off_tys", tw.meta.DictBinOffTys.Bytes()); err != nil {
			return err
		}
	}
	if err := WriteBytes(tw.w, "code_chunk_two_bytes", tw.meta.ChunkTwoBytes.Bytes()); err != nil {
		return err
	}
	if err := WriteBytes(tw.w, "code_chunk_run_coded", tw.meta.ChunkRunCoded.Bytes()); err != nil {
		return err
	}
	if err := WriteLEU16Slice(tw.w, "code_chunk_mins", tw.meta.ChunkMinDictCodes); err != nil {
		return err
	}
	if err := WriteLEU16Slice(tw.w, "code_chunk_maxs", tw.meta.ChunkMaxDictCodes); err != nil {
		return err
	}
	return WriteLenOfFooterStartingAt(tw.w, start)
}

// FinishTrack writes the track metadata footer (unless the track is
// implicit, in which case no body or footer bytes exist at all), records
// the track's end offset, and returns control to the block writer.
func (tw *TrackWriter) FinishTrack() (*BlockWriter, error) {
	if !tw.info.Implicit {
		if err := tw.writeMetaFooter(); err != nil {
			return nil, err
		}
	}
	pos, err := tw.w.Pos()
	if err != nil {
		return nil, base.IO(err, "failed to read track end position")
	}
	tw.info.EndPos = pos
	for _, pop := range tw.pops {
		pop()
	}
	tw.block.noteTrackFinished(tw.trackNum, tw.info)
	return tw.block, nil
}

// TrackReader is the structural inverse of TrackWriter: it parses a
// track's footer (or, for an implicit track, simply carries the (base,
// factor) pair already present in the block's metadata). On open it
// computes the dict-entry chunk offsets from the footer metadata;
// ReadValues then reads the whole track in one forward pass. There is no
// per-chunk random access.
type TrackReader struct {
	r               Reader
	bodyStart       int64
	bodyEnd         int64
	trackNum        int
	implicit        bool
	kind            Kind
	loVal           int64
	hiVal           int64
	rows            uint16
	meta            TrackMeta
	dictOffsets     []int64 // start offset of each dict-entry chunk, computed eagerly
	codeChunksStart int64
}

// newTrackReader parses track trackNum's footer. kind tells it how to
// interpret the dict-entry value component — schema information the
// wire format itself does not carry (spec.md §1: "no schema catalog
// specified here"), so the caller (ultimately BlockReader, which is told
// the kind by whoever opens the layer) must supply it.
func newTrackReader(r Reader, trackNum int, bodyStart, bodyEnd int64, implicit bool, kind Kind, loVal, hiVal int64, rows uint16) (*TrackReader, error) {
	tr := &TrackReader{
		r:         r,
		bodyStart: bodyStart,
		bodyEnd:   bodyEnd,
		trackNum:  trackNum,
		implicit:  implicit,
		kind:      kind,
		loVal:     loVal,
		hiVal:     hiVal,
		rows:      rows,
	}
	if implicit {
		return tr, nil
	}
	if _, err := r.Seek(bodyEnd, 0); err != nil {
		return nil, base.IO(err, "failed to seek to track footer end")
	}
	if _, err := ReadFooterLenEndingAtPosAndRewindToStart(r, bodyEnd); err != nil {
		return nil, err
	}
	meta, err := readTrackMeta(r)
	if err != nil {
		return nil, err
	}
	tr.meta = meta
	tr.buildDictOffsets()
	return tr, nil
}

func readTrackMeta(r Reader) (TrackMeta, error) {
	var m TrackMeta
	buf, err := ReadBytesExact(r, 32)
	if err != nil {
		return m, err
	}
	m.ChunkPopulated = base.ReadBitmap256(buf)

	entryCount, err := ReadLEU16(r)
	if err != nil {
		return m, err
	}
	m.DictEntryCount = entryCount

	buf, err = ReadBytesExact(r, 64)
	if err != nil {
		return m, err
	}
	m.DictValChunkTys = base.ReadWordTy256(buf)

	buf, err = ReadBytesExact(r, 64)
	if err != nil {
		return m, err
	}
	m.DictBinLenChunkTys = base.ReadWordTy256(buf)

	buf, err = ReadBytesExact(r, 32)
	if err != nil {
		return m, err
	}
	m.DictBinLarge = base.ReadBitmap256(buf)

	if m.DictBinLarge.Any() {
		buf, err = ReadBytesExact(r, 64)
		if err != nil {
			return m, err
		}
		m.DictBinOffTys = base.ReadWordTy256(buf)
	}

	buf, err = ReadBytesExact(r, 32)
	if err != nil {
		return m, err
	}
	m.ChunkTwoBytes = base.ReadBitmap256(buf)

	buf, err = ReadBytesExact(r, 32)
	if err != nil {
		return m, err
	}
	m.ChunkRunCoded = base.ReadBitmap256(buf)

	npopulated := m.ChunkPopulated.Count()
	mins, err := ReadLEU16Slice(r, int(npopulated))
	if err != nil {
		return m, err
	}
	m.ChunkMinDictCodes = mins

	maxs, err := ReadLEU16Slice(r, int(npopulated))
	if err != nil {
		return m, err
	}
	m.ChunkMaxDictCodes = maxs

	return m, nil
}

// nchunks returns the number of ≤256-entry groups a count of n items
// splits into.
func nchunks(n int) int {
	if n == 0 {
		return 0
	}
	return (n-1)/chunkSize + 1
}

func chunkLen(total, chunkIdx int) int {
	n := total - chunkIdx*chunkSize
	if n > chunkSize {
		return chunkSize
	}
	return n
}

// buildDictOffsets computes, purely arithmetically from the word-type
// metadata (no data bytes need to be read), the start offset of every
// dict-entry chunk.
func (tr *TrackReader) buildDictOffsets() {
	n := int(tr.meta.DictEntryCount)
	nDictChunks := nchunks(n)
	tr.dictOffsets = make([]int64, nDictChunks)
	pos := tr.bodyStart + 2 // "len" u16
	for c := 0; c < nDictChunks; c++ {
		tr.dictOffsets[c] = pos
		entries := chunkLen(n, c)
		pos += 8 + int64(tr.meta.DictValChunkTys.Get(uint8(c)).Len())*int64(entries)
		if tr.kind == KindBin {
			pos += 8 + int64(tr.meta.DictBinLenChunkTys.Get(uint8(c)).Len())*int64(entries)
			if tr.meta.DictBinLarge.Get(uint8(c)) {
				pos += int64(entries) * 2
				pos += 8 + int64(tr.meta.DictBinOffTys.Get(uint8(c)).Len())*int64(entries)
			}
		}
	}
	tr.codeChunksStart = pos
}

// Implicit reports whether this track is a virtual (base, factor) track.
func (tr *TrackReader) Implicit() (base_, factor int64, ok bool) {
	if !tr.implicit {
		return 0, 0, false
	}
	return tr.loVal, tr.hiVal, true
}

// Rows returns the track's row count.
func (tr *TrackReader) Rows() int { return int(tr.rows) }

// LoVal and HiVal return the track's dictionary bounds (or the implicit
// (base, factor) pair when Implicit).
func (tr *TrackReader) LoVal() int64 { return tr.loVal }
func (tr *TrackReader) HiVal() int64 { return tr.hiVal }

// ReadValues reconstructs every row of an explicit track.
func (tr *TrackReader) ReadValues() ([]Value, error) {
	if tr.implicit {
		return nil, base.Internal("track %d: ReadValues called on an implicit track", tr.trackNum)
	}
	n := int(tr.meta.DictEntryCount)
	nDictChunks := nchunks(n)

	dictVals := make([]int64, 0, n)
	dictBinLen := make([]int64, 0, n)
	dictBinOff := make([]int64, 0, n)
	var haveBinOff bool

	if _, err := tr.r.Seek(tr.bodyStart+2, 0); err != nil {
		return nil, base.IO(err, "failed to seek to dict entry chunks")
	}
	for c := 0; c < nDictChunks; c++ {
		entries := chunkLen(n, c)
		cmeta := DictEntryChunkMeta{
			AnyBinLarge: tr.meta.DictBinLarge.Get(uint8(c)),
			ValTy:       tr.meta.DictValChunkTys.Get(uint8(c)),
			BinLenTy:    tr.meta.DictBinLenChunkTys.Get(uint8(c)),
			BinOffTy:    tr.meta.DictBinOffTys.Get(uint8(c)),
		}
		comps, err := readDictEntryChunk(tr.r, entries, tr.kind == KindBin, cmeta)
		if err != nil {
			return nil, err
		}
		dictVals = append(dictVals, comps.Value...)
		if tr.kind == KindBin {
			dictBinLen = append(dictBinLen, comps.BinLen...)
			if cmeta.AnyBinLarge {
				dictBinOff = append(dictBinOff, comps.BinOff...)
				haveBinOff = true
			} else {
				for range comps.Value {
					dictBinOff = append(dictBinOff, 0)
				}
			}
		}
	}

	codes, heapBytes, err := tr.readCodesAndHeap()
	if err != nil {
		return nil, err
	}

	dict := make([]Value, n)
	for i := 0; i < n; i++ {
		switch tr.kind {
		case KindInt:
			dict[i] = Int(dictVals[i])
			continue
		case KindFlo:
			dict[i] = Flo(math.Float64frombits(uint64(dictVals[i])))
			continue
		}
		length := dictBinLen[i]
		if length <= 8 {
			var buf [8]byte
			v := uint64(dictVals[i])
			for j := 0; j < 8; j++ {
				buf[7-j] = byte(v >> (8 * uint(j)))
			}
			dict[i] = Bin(append([]byte(nil), buf[:length]...))
		} else if haveBinOff {
			dict[i] = Bin(append([]byte(nil), sliceAt(heapBytes, dictBinOff[i], length)...))
		} else {
			return nil, base.Internal("track %d: long bin with no heap offset recorded", tr.trackNum)
		}
	}

	out := make([]Value, len(codes))
	for i, code := range codes {
		if int(code) >= len(dict) {
			return nil, base.Internal("track %d: dict code %d out of range (dict has %d entries)", tr.trackNum, code, len(dict))
		}
		out[i] = dict[code]
	}
	return out, nil
}

func sliceAt(data []byte, offset, length int64) []byte {
	return data[offset : offset+length]
}

// readCodesAndHeap reads the full dict-code chunk sequence in one forward
// pass, then whatever heap bytes follow it (if any).
func (tr *TrackReader) readCodesAndHeap() ([]uint16, []byte, error) {
	// bodyEnd is the end of the track footer; the heap, when present,
	// ends where the footer starts.
	footerLen, err := ReadFooterLenEndingAtPosAndRewindToStart(tr.r, tr.bodyEnd)
	if err != nil {
		return nil, nil, err
	}
	footerStart := tr.bodyEnd - 8 - footerLen
	if _, err := tr.r.Seek(tr.codeChunksStart, 0); err != nil {
		return nil, nil, base.IO(err, "failed to seek to dict code chunks")
	}
	out := make([]uint16, 0, tr.rows)
	nCodeChunks := nchunks(int(tr.rows))
	for c := 0; c < nCodeChunks; c++ {
		if !tr.meta.ChunkPopulated.Get(uint8(c)) {
			continue
		}
		cmeta := DictCodeChunkMeta{
			TwoBytes: tr.meta.ChunkTwoBytes.Get(uint8(c)),
			RunCoded: tr.meta.ChunkRunCoded.Get(uint8(c)),
		}
		rowsInChunk := chunkLen(int(tr.rows), c)
		codes, err := readDictCodeChunk(tr.r, rowsInChunk, cmeta)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, codes...)
	}

	pos, err := tr.r.Pos()
	if err != nil {
		return nil, nil, base.IO(err, "failed to read position before heap")
	}
	if pos >= footerStart {
		return out, nil, nil
	}
	length, err := ReadLEI64(tr.r)
	if err != nil {
		return nil, nil, err
	}
	heapBytes, err := ReadBytesExact(tr.r, int(length))
	if err != nil {
		return nil, nil, err
	}
	return out, heapBytes, nil
}
