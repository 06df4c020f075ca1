package coldb

import (
	"strconv"

	"github.com/graydon/submerge/base"
)

const maxTracksPerBlock = 256

// BlockMeta is the footer a block writes after its sequence of tracks
// (§6's block_meta): per-track bounds, implicit flags, row counts, and
// end offsets, all as parallel arrays indexed by track number.
type BlockMeta struct {
	TrackLoVals      []int64
	TrackHiVals      []int64
	TrackImplicit    base.Bitmap256
	TrackRows        []uint16
	TrackEndOffsets  []int64
}

// BlockInfoForLayer is the summary a finished block reports to its
// enclosing layer.
type BlockInfoForLayer struct {
	EndPos int64
}

// BlockWriter accumulates up to 256 tracks (one per column); each track
// writes its own heap, so the block holds none. Obtain one via
// LayerWriter.BeginBlock and return it with FinishBlock.
type BlockWriter struct {
	w         Writer
	layer     *LayerWriter
	blockNum  int
	meta      BlockMeta
	info      BlockInfoForLayer
	trackOpen bool
	pops      []func()
}

func newBlockWriter(layer *LayerWriter, blockNum int, w Writer) (*BlockWriter, error) {
	pop1 := w.Push("block")
	pop2 := w.Push(strconv.Itoa(blockNum))
	return &BlockWriter{
		w:        w,
		layer:    layer,
		blockNum: blockNum,
		pops:     []func(){pop2, pop1},
	}, nil
}

// BeginTrack opens the next track in this block. At most 256 tracks per
// block (§4.8).
func (bw *BlockWriter) BeginTrack() (*TrackWriter, error) {
	if bw.trackOpen {
		return nil, base.Internal("block %d: a track is already open", bw.blockNum)
	}
	trackNum := len(bw.meta.TrackEndOffsets)
	if trackNum >= maxTracksPerBlock {
		return nil, base.Structural("block %d: more than %d tracks", bw.blockNum, maxTracksPerBlock)
	}
	tw, err := newTrackWriter(bw, trackNum, bw.w)
	if err != nil {
		return nil, err
	}
	bw.trackOpen = true
	return tw, nil
}

func (bw *BlockWriter) noteTrackFinished(trackNum int, info TrackInfoForBlock) {
	bw.meta.TrackLoVals = append(bw.meta.TrackLoVals, info.LoVal)
	bw.meta.TrackHiVals = append(bw.meta.TrackHiVals, info.HiVal)
	bw.meta.TrackImplicit.Set(uint8(trackNum), info.Implicit)
	bw.meta.TrackRows = append(bw.meta.TrackRows, info.Rows)
	bw.meta.TrackEndOffsets = append(bw.meta.TrackEndOffsets, info.EndPos)
	bw.trackOpen = false
}

func (bw *BlockWriter) writeMetaFooter() error {
	ntracks := len(bw.meta.TrackLoVals)
	if ntracks > maxTracksPerBlock {
		return base.Structural("block %d: %d tracks, exceeds %d", bw.blockNum, ntracks, maxTracksPerBlock)
	}
	defer bw.w.Push("meta")()
	start, err := bw.w.Pos()
	if err != nil {
		return base.IO(err, "failed to read block meta start position")
	}
	if err := WriteLEI64(bw.w, "ntracks", int64(ntracks)); err != nil {
		return err
	}
	if err := WriteLEI64Slice(bw.w, "track_lo_vals", bw.meta.TrackLoVals); err != nil {
		return err
	}
	if err := WriteLEI64Slice(bw.w, "track_hi_vals", bw.meta.TrackHiVals); err != nil {
		return err
	}
	if err := WriteBytes(bw.w, "track_implicit", bw.meta.TrackImplicit.Bytes()); err != nil {
		return err
	}
	if err := WriteLEU16Slice(bw.w, "track_rows", bw.meta.TrackRows); err != nil {
		return err
	}
	if err := WriteLEI64Slice(bw.w, "track_end_offsets", bw.meta.TrackEndOffsets); err != nil {
		return err
	}
	return WriteLenOfFooterStartingAt(bw.w, start)
}

// FinishBlock writes the block metadata footer and returns control to
// the layer writer.
func (bw *BlockWriter) FinishBlock() (*LayerWriter, error) {
	if bw.trackOpen {
		return nil, base.Internal("block %d: a track is still open", bw.blockNum)
	}
	if err := bw.writeMetaFooter(); err != nil {
		return nil, err
	}
	pos, err := bw.w.Pos()
	if err != nil {
		return nil, base.IO(err, "failed to read block end position")
	}
	bw.info.EndPos = pos
	for _, pop := range bw.pops {
		pop()
	}
	bw.layer.noteBlockFinished(bw.info)
	return bw.layer, nil
}

// BlockReader is the structural inverse of BlockWriter.
type BlockReader struct {
	r         Reader
	blockNum  int
	bodyStart int64
	meta      BlockMeta
}

func newBlockReader(r Reader, blockNum int, bodyStart, footerEnd int64) (*BlockReader, error) {
	if _, err := ReadFooterLenEndingAtPosAndRewindToStart(r, footerEnd); err != nil {
		return nil, err
	}
	meta, err := readBlockMeta(r)
	if err != nil {
		return nil, err
	}
	return &BlockReader{r: r, blockNum: blockNum, bodyStart: bodyStart, meta: meta}, nil
}

func readBlockMeta(r Reader) (BlockMeta, error) {
	var m BlockMeta
	ntracks64, err := ReadLEI64(r)
	if err != nil {
		return m, err
	}
	if ntracks64 < 0 || ntracks64 > maxTracksPerBlock {
		return m, base.Structural("block declares %d tracks", ntracks64)
	}
	ntracks := int(ntracks64)

	lo, err := ReadLEI64Slice(r, ntracks)
	if err != nil {
		return m, err
	}
	m.TrackLoVals = lo

	hi, err := ReadLEI64Slice(r, ntracks)
	if err != nil {
		return m, err
	}
	m.TrackHiVals = hi

	buf, err := ReadBytesExact(r, 32)
	if err != nil {
		return m, err
	}
	m.TrackImplicit = base.ReadBitmap256(buf)

	rows, err := ReadLEU16Slice(r, ntracks)
	if err != nil {
		return m, err
	}
	m.TrackRows = rows

	ends, err := ReadLEI64Slice(r, ntracks)
	if err != nil {
		return m, err
	}
	m.TrackEndOffsets = ends

	return m, nil
}

// NTracks returns the number of tracks (columns) in this block.
func (br *BlockReader) NTracks() int { return len(br.meta.TrackLoVals) }

// OpenTrack opens track trackNum for reading. kind must match the
// logical value kind the column was originally written with.
func (br *BlockReader) OpenTrack(trackNum int, kind Kind) (*TrackReader, error) {
	if trackNum < 0 || trackNum >= len(br.meta.TrackEndOffsets) {
		return nil, base.Structural("block %d: track %d out of range", br.blockNum, trackNum)
	}
	bodyStart := br.bodyStart
	if trackNum > 0 {
		bodyStart = br.meta.TrackEndOffsets[trackNum-1]
	}
	footerEnd := br.meta.TrackEndOffsets[trackNum]
	implicit := br.meta.TrackImplicit.Get(uint8(trackNum))
	return newTrackReader(br.r, trackNum, bodyStart, footerEnd, implicit, kind,
		br.meta.TrackLoVals[trackNum], br.meta.TrackHiVals[trackNum], br.meta.TrackRows[trackNum])
}
