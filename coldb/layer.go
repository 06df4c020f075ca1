package coldb

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/graydon/submerge/base"
)

// Magic is the 8-byte header every layer file begins with.
var Magic = [8]byte{'s', 'u', 'b', 'm', 'e', 'r', 'g', 'e'}

const currentVersion = 0
const maxBlocksPerLayer = 256

// LayerMeta is the footer a layer writes at EOF (§6's layer_meta):
// version, total rows, column count, and the end offset of each block.
type LayerMeta struct {
	Vers             int64
	Rows             int64
	Cols             int64
	BlockEndOffsets  []int64
}

// LayerWriter is the top-level writer: new_layer(w) → begin_block → ...
// → finish_layer.
type LayerWriter struct {
	w         Writer
	meta      LayerMeta
	blockOpen bool
}

// NewLayerWriter writes the magic header at offset 0 and returns a
// writer ready to accept blocks.
func NewLayerWriter(w Writer) (*LayerWriter, error) {
	if _, err := w.Seek(0, io.SeekStart); err != nil {
		return nil, base.IO(err, "failed to seek to start of layer")
	}
	if err := WriteBytes(w, "magic", Magic[:]); err != nil {
		return nil, err
	}
	return &LayerWriter{w: w}, nil
}

// BeginBlock opens the next block. At most 256 blocks per layer (§4.9).
func (lw *LayerWriter) BeginBlock() (*BlockWriter, error) {
	if lw.blockOpen {
		return nil, base.Internal("layer: a block is already open")
	}
	blockNum := len(lw.meta.BlockEndOffsets)
	if blockNum >= maxBlocksPerLayer {
		return nil, base.Structural("layer: more than %d blocks", maxBlocksPerLayer)
	}
	bw, err := newBlockWriter(lw, blockNum, lw.w)
	if err != nil {
		return nil, err
	}
	lw.blockOpen = true
	return bw, nil
}

func (lw *LayerWriter) noteBlockFinished(info BlockInfoForLayer) {
	lw.meta.BlockEndOffsets = append(lw.meta.BlockEndOffsets, info.EndPos)
	lw.blockOpen = false
}

// FinishLayer writes the layer_meta footer with the caller-supplied rows
// and cols counts, completing the file. Neither count is derived from
// the blocks written.
func (lw *LayerWriter) FinishLayer(rows, cols int64) error {
	if lw.blockOpen {
		return base.Internal("layer: a block is still open")
	}
	lw.meta.Vers = currentVersion
	lw.meta.Rows = rows
	lw.meta.Cols = cols

	defer lw.w.Push("meta")()
	start, err := lw.w.Pos()
	if err != nil {
		return base.IO(err, "failed to read layer meta start position")
	}
	if err := WriteLEI64(lw.w, "vers", lw.meta.Vers); err != nil {
		return err
	}
	if err := WriteLEI64(lw.w, "rows", lw.meta.Rows); err != nil {
		return err
	}
	if err := WriteLEI64(lw.w, "cols", lw.meta.Cols); err != nil {
		return err
	}
	if err := WriteLEI64(lw.w, "nblocks", int64(len(lw.meta.BlockEndOffsets))); err != nil {
		return err
	}
	if err := WriteLEI64Slice(lw.w, "block_end_offsets", lw.meta.BlockEndOffsets); err != nil {
		return err
	}
	return WriteLenOfFooterStartingAt(lw.w, start)
}

// LayerReader is the top-level reader: OpenLayer(r) → OpenBlock(i) →
// OpenTrack(i), or MaterializeRows for one whole column across every
// block. No row range can be selected; every row of the column is read.
type LayerReader struct {
	r    Reader
	meta LayerMeta
}

// OpenLayer checks the magic header, reads the footer from EOF, and
// returns a LayerReader over r.
func OpenLayer(r Reader) (*LayerReader, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, base.IO(err, "failed to seek to start of layer")
	}
	magic, err := ReadBytesExact(r, 8)
	if err != nil {
		return nil, err
	}
	if string(magic) != string(Magic[:]) {
		return nil, base.Format("bad magic number")
	}

	endPos, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, base.IO(err, "failed to seek to end of layer")
	}
	if _, err := ReadFooterLenEndingAtPosAndRewindToStart(r, endPos); err != nil {
		return nil, err
	}
	meta, err := readLayerMeta(r)
	if err != nil {
		return nil, err
	}
	return &LayerReader{r: r, meta: meta}, nil
}

func readLayerMeta(r Reader) (LayerMeta, error) {
	var m LayerMeta
	vers, err := ReadLEI64(r)
	if err != nil {
		return m, err
	}
	if vers > currentVersion {
		return m, base.Format("unsupported future layer version %d", vers)
	}
	m.Vers = vers

	rows, err := ReadLEI64(r)
	if err != nil {
		return m, err
	}
	m.Rows = rows

	cols, err := ReadLEI64(r)
	if err != nil {
		return m, err
	}
	m.Cols = cols

	nblocks, err := ReadLEI64(r)
	if err != nil {
		return m, err
	}
	if nblocks < 0 || nblocks > maxBlocksPerLayer {
		return m, base.Structural("layer declares %d blocks", nblocks)
	}

	offsets, err := ReadLEI64Slice(r, int(nblocks))
	if err != nil {
		return m, err
	}
	m.BlockEndOffsets = offsets

	return m, nil
}

// Rows returns the layer's total row count.
func (lr *LayerReader) Rows() int64 { return lr.meta.Rows }

// Cols returns the layer's column count.
func (lr *LayerReader) Cols() int64 { return lr.meta.Cols }

// NBlocks returns the number of blocks in the layer.
func (lr *LayerReader) NBlocks() int { return len(lr.meta.BlockEndOffsets) }

// OpenBlock opens block blockNum for reading. Each call clones the
// reader handle so blocks may be read concurrently (see MaterializeRows).
func (lr *LayerReader) OpenBlock(blockNum int) (*BlockReader, error) {
	if blockNum < 0 || blockNum >= len(lr.meta.BlockEndOffsets) {
		return nil, base.Structural("layer: block %d out of range", blockNum)
	}
	bodyStart := int64(8) // past the magic header
	if blockNum > 0 {
		bodyStart = lr.meta.BlockEndOffsets[blockNum-1]
	}
	footerEnd := lr.meta.BlockEndOffsets[blockNum]
	cloned, err := lr.r.Clone()
	if err != nil {
		return nil, err
	}
	return newBlockReader(cloned, blockNum, bodyStart, footerEnd)
}

// expandImplicit inverts the two §4.11 detectors: row → base + factor·row
// for a positive-step arithmetic run, or row → base + ⌊row/|factor|⌋ for
// the negative-factor run-length-equal-size encoding.
func expandImplicit(base_, factor, row int64) int64 {
	if factor >= 0 {
		return base_ + factor*row
	}
	return base_ + row/(-factor)
}

// MaterializeRows reads column trackNum (of kind kind) from every block
// in the layer and concatenates the results, fetching blocks
// concurrently with golang.org/x/sync/errgroup since each block reader
// holds its own cloned, independent seek cursor (§5's shared-immutable-
// reader model).
func (lr *LayerReader) MaterializeRows(ctx context.Context, trackNum int, kind Kind) ([]Value, error) {
	nblocks := lr.NBlocks()
	results := make([][]Value, nblocks)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < nblocks; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			br, err := lr.OpenBlock(i)
			if err != nil {
				return err
			}
			tr, err := br.OpenTrack(trackNum, kind)
			if err != nil {
				return err
			}
			if base_, factor, ok := tr.Implicit(); ok {
				vals := make([]Value, tr.Rows())
				for row := range vals {
					vals[row] = Int(expandImplicit(base_, factor, int64(row)))
				}
				results[i] = vals
				return nil
			}
			vals, err := tr.ReadValues()
			if err != nil {
				return err
			}
			results[i] = vals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, r := range results {
		total += len(r)
	}
	out := make([]Value, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}
