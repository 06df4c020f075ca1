// Package coldb implements the layer file format and its reader/writer
// pipeline: the nested layer → block → track → chunk containers, the
// adaptive dictionary + run-end + byte-sliced chunk encoding, and the
// byte-level I/O substrate all four levels share.
package coldb

import (
	"encoding/binary"
	"io"
	"os"
	"strings"

	"github.com/graydon/submerge/base"
)

// Writer is the byte-level write substrate shared by every encoding
// level. Writers are linear: a parent writer is consumed to produce a
// child (begin_*) and handed back when the child finishes
// (finish_*) — see coldb.LayerWriter/BlockWriter/TrackWriter.
type Writer interface {
	io.Writer
	io.Seeker
	Pos() (int64, error)
	// Push enters a named annotation context (e.g. "block", "2", "meta")
	// and returns a function that exits it; callers use
	// `defer w.Push(name)()` since Go has no scope-guard destructors.
	Push(name string) func()
	// IntoReader finalizes this writer (flushing and, for files, syncing
	// to durable storage) and opens a fresh Reader over the same bytes.
	// No reader may be constructed over a writer still being written to.
	IntoReader() (Reader, error)
}

// Reader is the byte-level read substrate. Reader handles are safe for
// shared, independent use: Clone produces a new handle with its own
// cursor over the same immutable content.
type Reader interface {
	io.Reader
	io.Seeker
	Pos() (int64, error)
	Clone() (Reader, error)
}

// AnnotationStack is the named-context stack described in spec.md
// §4.1/§9. Its push/pop calls label byte ranges for RenderHexdump; see
// annotate_off.go/annotate_on.go for the compile-time switch.
type AnnotationStack struct {
	ctx   []string
	spans []Span
}

// Span is one recorded annotated byte range, built only when compiled
// with the submerge_annotate build tag.
type Span struct {
	Path  string
	Start int64
	End   int64
}

func (s *AnnotationStack) push(name string) {
	if enableAnnotations {
		s.ctx = append(s.ctx, name)
	}
}

func (s *AnnotationStack) pop() {
	if enableAnnotations {
		s.ctx = s.ctx[:len(s.ctx)-1]
	}
}

func (s *AnnotationStack) path() string {
	if !enableAnnotations {
		return ""
	}
	return strings.Join(s.ctx, "/")
}

func (s *AnnotationStack) record(start, end int64) {
	if enableAnnotations {
		s.spans = append(s.spans, Span{Path: s.path(), Start: start, End: end})
	}
}

// Spans returns the annotated byte ranges recorded so far. Empty unless
// built with -tags submerge_annotate.
func (s *AnnotationStack) Spans() []Span {
	return s.spans
}

func pushPop(w Writer, stack *AnnotationStack, name string) func() {
	start, _ := w.Pos()
	stack.push(name)
	return func() {
		end, _ := w.Pos()
		stack.record(start, end)
		stack.pop()
	}
}

// --- in-memory backend -----------------------------------------------

// memBuf is a growable byte buffer supporting Read/Write/Seek, used as
// the shared storage behind MemWriter/MemReader.
type memBuf struct {
	data []byte
	pos  int64
}

func (m *memBuf) Seek(offset int64, whence int) (int64, error) {
	var np int64
	switch whence {
	case io.SeekStart:
		np = offset
	case io.SeekCurrent:
		np = m.pos + offset
	case io.SeekEnd:
		np = int64(len(m.data)) + offset
	default:
		return 0, base.IO(nil, "memBuf: bad whence %d", whence)
	}
	if np < 0 {
		return 0, base.IO(nil, "memBuf: negative seek position %d", np)
	}
	m.pos = np
	return np, nil
}

func (m *memBuf) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memBuf) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

// MemWriter is an in-memory Writer backed by a growable buffer.
type MemWriter struct {
	buf   *memBuf
	stack AnnotationStack
}

// NewMemWriter returns an empty in-memory writer.
func NewMemWriter() *MemWriter {
	return &MemWriter{buf: &memBuf{}}
}

func (w *MemWriter) Write(p []byte) (int, error)                  { return w.buf.Write(p) }
func (w *MemWriter) Seek(offset int64, whence int) (int64, error) { return w.buf.Seek(offset, whence) }
func (w *MemWriter) Pos() (int64, error)                          { return w.buf.pos, nil }
func (w *MemWriter) Push(name string) func()                      { return pushPop(w, &w.stack, name) }

// Spans returns the byte ranges annotated while writing. Empty unless
// built with -tags submerge_annotate; see RenderHexdump.
func (w *MemWriter) Spans() []Span { return w.stack.Spans() }

// Bytes returns a copy of the bytes written so far, for feeding to
// RenderHexdump alongside Spans.
func (w *MemWriter) Bytes() []byte {
	out := make([]byte, len(w.buf.data))
	copy(out, w.buf.data)
	return out
}

// IntoReader snapshots the current buffer contents (immutable from the
// reader's perspective, matching the shared-buffer reader model in
// spec.md §5) and returns a fresh reader positioned at the start.
func (w *MemWriter) IntoReader() (Reader, error) {
	snapshot := make([]byte, len(w.buf.data))
	copy(snapshot, w.buf.data)
	return &MemReader{data: snapshot}, nil
}

// MemReader is an in-memory Reader over an immutable shared buffer.
// Clone returns an independent cursor over the same backing bytes.
type MemReader struct {
	data []byte
	pos  int64
}

func (r *MemReader) Read(p []byte) (int, error) {
	b := &memBuf{data: r.data, pos: r.pos}
	n, err := b.Read(p)
	r.pos = b.pos
	return n, err
}

func (r *MemReader) Seek(offset int64, whence int) (int64, error) {
	b := &memBuf{data: r.data, pos: r.pos}
	n, err := b.Seek(offset, whence)
	r.pos = n
	return n, err
}

func (r *MemReader) Pos() (int64, error) { return r.pos, nil }

func (r *MemReader) Clone() (Reader, error) {
	return &MemReader{data: r.data, pos: 0}, nil
}

// --- file backend ------------------------------------------------------

// FileWriter is a Writer backed by an on-disk file. Unlike MemWriter,
// IntoReader reopens the file path so the resulting reader (and any of
// its clones) does not share a cursor with the writer or with each
// other.
type FileWriter struct {
	f     *os.File
	path  string
	stack AnnotationStack
}

// NewFileWriter creates path for writing (truncating any existing
// contents) and returns a Writer over it.
func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, base.IO(err, "failed to create layer file %q", path)
	}
	return &FileWriter{f: f, path: path}, nil
}

func (w *FileWriter) Write(p []byte) (int, error) { return w.f.Write(p) }
func (w *FileWriter) Seek(offset int64, whence int) (int64, error) {
	return w.f.Seek(offset, whence)
}
func (w *FileWriter) Pos() (int64, error) { return w.f.Seek(0, io.SeekCurrent) }
func (w *FileWriter) Push(name string) func() {
	return pushPop(w, &w.stack, name)
}

// Spans returns the byte ranges annotated while writing. Empty unless
// built with -tags submerge_annotate; see RenderHexdump.
func (w *FileWriter) Spans() []Span { return w.stack.Spans() }

// IntoReader flushes and syncs the file to durable storage, closes the
// write handle, and opens a fresh read-only handle on the same path.
func (w *FileWriter) IntoReader() (Reader, error) {
	if err := w.f.Sync(); err != nil {
		return nil, base.IO(err, "failed to sync %q", w.path)
	}
	if err := w.f.Close(); err != nil {
		return nil, base.IO(err, "failed to close %q after writing", w.path)
	}
	return openFileReader(w.path)
}

// FileReader is a Reader backed by an on-disk file. Clone opens a fresh
// file handle on the same path so clones do not share a cursor.
type FileReader struct {
	f    *os.File
	path string
}

// NewFileReader opens path for reading.
func NewFileReader(path string) (*FileReader, error) {
	return openFileReader(path)
}

func openFileReader(path string) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, base.IO(err, "failed to open %q", path)
	}
	return &FileReader{f: f, path: path}, nil
}

func (r *FileReader) Read(p []byte) (int, error) { return r.f.Read(p) }
func (r *FileReader) Seek(offset int64, whence int) (int64, error) {
	return r.f.Seek(offset, whence)
}
func (r *FileReader) Pos() (int64, error) { return r.f.Seek(0, io.SeekCurrent) }

func (r *FileReader) Clone() (Reader, error) {
	return openFileReader(r.path)
}

func (r *FileReader) Close() error { return r.f.Close() }

// --- primitive helpers ---------------------------------------------------

// WriteLEI64 writes v as an 8-byte little-endian integer under the
// named annotation context.
func WriteLEI64(w Writer, name string, v int64) error {
	defer w.Push(name)()
	return writeAll(w, encodeLE(uint64(v), 8))
}

// WriteLEI64Slice writes xs as repeated 8-byte little-endian integers.
func WriteLEI64Slice(w Writer, name string, xs []int64) error {
	defer w.Push(name)()
	for _, x := range xs {
		if err := writeAll(w, encodeLE(uint64(x), 8)); err != nil {
			return err
		}
	}
	return nil
}

// WriteLEU16 writes v as a 2-byte little-endian integer.
func WriteLEU16(w Writer, name string, v uint16) error {
	defer w.Push(name)()
	return writeAll(w, encodeLE(uint64(v), 2))
}

// WriteLEU16Slice writes xs as repeated 2-byte little-endian integers.
func WriteLEU16Slice(w Writer, name string, xs []uint16) error {
	defer w.Push(name)()
	for _, x := range xs {
		if err := writeAll(w, encodeLE(uint64(x), 2)); err != nil {
			return err
		}
	}
	return nil
}

// WriteLEU8 writes a single byte.
func WriteLEU8(w Writer, name string, v uint8) error {
	defer w.Push(name)()
	return writeAll(w, []byte{v})
}

// WriteBytes writes a raw byte slice verbatim.
func WriteBytes(w Writer, name string, b []byte) error {
	defer w.Push(name)()
	return writeAll(w, b)
}

// WriteWordTySlice writes the low ty.Len() bytes of each already
// frame-of-reference-subtracted delta in deltas, little-endian.
func WriteWordTySlice(w Writer, name string, deltas []uint64, ty base.WordTy) error {
	defer w.Push(name)()
	n := ty.Len()
	for _, d := range deltas {
		if err := writeAll(w, encodeLE(d, n)); err != nil {
			return err
		}
	}
	return nil
}

// WriteBELane writes, for each value in xs, the big-endian byte at
// index lane of its 16-bit representation (lane 0 is the high byte,
// lane 1 is the low byte) — used for byte-sliced dict-code lanes.
func WriteBELane(w Writer, name string, lane int, xs []uint16) error {
	defer w.Push(name)()
	shift := uint((1 - lane) * 8)
	for _, x := range xs {
		if err := writeAll(w, []byte{byte(x >> shift)}); err != nil {
			return err
		}
	}
	return nil
}

// WriteLenOfFooterStartingAt writes (current position − start) as an
// 8-byte little-endian integer — the trailing length every footer ends
// with.
func WriteLenOfFooterStartingAt(w Writer, start int64) error {
	pos, err := w.Pos()
	if err != nil {
		return base.IO(err, "failed to read position for footer length")
	}
	return WriteLEI64(w, "self_len", pos-start)
}

func encodeLE(v uint64, n int) []byte {
	buf := make([]byte, n)
	switch n {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf, v)
	default:
		panic("encodeLE: unsupported width")
	}
	return buf
}

func writeAll(w Writer, b []byte) error {
	_, err := w.Write(b)
	if err != nil {
		return base.IO(err, "write failed")
	}
	return nil
}

// ReadLEI64 reads an 8-byte little-endian integer.
func ReadLEI64(r Reader) (int64, error) {
	buf, err := readExact(r, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

// ReadLEI64Slice reads n repeated 8-byte little-endian integers.
func ReadLEI64Slice(r Reader, n int) ([]int64, error) {
	out := make([]int64, n)
	for i := range out {
		v, err := ReadLEI64(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ReadLEU16 reads a 2-byte little-endian integer.
func ReadLEU16(r Reader) (uint16, error) {
	buf, err := readExact(r, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// ReadLEU16Slice reads n repeated 2-byte little-endian integers.
func ReadLEU16Slice(r Reader, n int) ([]uint16, error) {
	out := make([]uint16, n)
	for i := range out {
		v, err := ReadLEU16(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ReadLEU8 reads a single byte.
func ReadLEU8(r Reader) (uint8, error) {
	buf, err := readExact(r, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadBytesExact reads exactly n raw bytes.
func ReadBytesExact(r Reader, n int) ([]byte, error) {
	return readExact(r, n)
}

// ReadWordTySlice reads n frame-of-reference deltas packed at width ty.
func ReadWordTySlice(r Reader, n int, ty base.WordTy) ([]uint64, error) {
	w := ty.Len()
	out := make([]uint64, n)
	for i := range out {
		buf, err := readExact(r, w)
		if err != nil {
			return nil, err
		}
		out[i] = decodeLE(buf)
	}
	return out, nil
}

// ReadBELane reads n big-endian lane bytes at the given lane index (see
// WriteBELane) and ORs them into out, which must already be sized n.
func ReadBELane(r Reader, lane int, n int, out []uint16) error {
	shift := uint((1 - lane) * 8)
	buf, err := readExact(r, n)
	if err != nil {
		return err
	}
	for i, b := range buf {
		out[i] |= uint16(b) << shift
	}
	return nil
}

// ReadFooterLenEndingAtPosAndRewindToStart seeks to end−8, reads the
// 8-byte little-endian footer length L, seeks to end−8−L, and returns
// L — the byte span within which the footer's fields are then parsed
// sequentially.
func ReadFooterLenEndingAtPosAndRewindToStart(r Reader, end int64) (int64, error) {
	if _, err := r.Seek(end-8, io.SeekStart); err != nil {
		return 0, base.IO(err, "failed to seek to footer length word")
	}
	length, err := ReadLEI64(r)
	if err != nil {
		return 0, err
	}
	if length < 0 {
		return 0, base.Format("negative footer length %d", length)
	}
	start := end - 8 - length
	if start < 0 {
		return 0, base.Format("footer length %d overruns start of file", length)
	}
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return 0, base.IO(err, "failed to seek to footer start")
	}
	return length, nil
}

func readExact(r Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, base.IO(err, "short read (wanted %d bytes)", n)
	}
	return buf, nil
}

func decodeLE(buf []byte) uint64 {
	var v uint64
	for i, b := range buf {
		v |= uint64(b) << (8 * uint(i))
	}
	return v
}
