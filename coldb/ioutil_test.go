package coldb

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/graydon/submerge/base"
)

func TestPrimitiveLEHelpersRoundTrip(t *testing.T) {
	w := NewMemWriter()
	if err := WriteLEI64(w, "a", -42); err != nil {
		t.Fatal(err)
	}
	if err := WriteLEI64Slice(w, "b", []int64{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := WriteLEU16(w, "c", 65000); err != nil {
		t.Fatal(err)
	}
	if err := WriteLEU16Slice(w, "d", []uint16{10, 20, 30}); err != nil {
		t.Fatal(err)
	}
	if err := WriteBytes(w, "e", []byte("hello")); err != nil {
		t.Fatal(err)
	}

	r, err := w.IntoReader()
	if err != nil {
		t.Fatal(err)
	}
	if v, err := ReadLEI64(r); err != nil || v != -42 {
		t.Fatalf("ReadLEI64 = %d, %v; want -42", v, err)
	}
	if xs, err := ReadLEI64Slice(r, 3); err != nil || xs[0] != 1 || xs[2] != 3 {
		t.Fatalf("ReadLEI64Slice = %v, %v", xs, err)
	}
	if v, err := ReadLEU16(r); err != nil || v != 65000 {
		t.Fatalf("ReadLEU16 = %d, %v; want 65000", v, err)
	}
	if xs, err := ReadLEU16Slice(r, 3); err != nil || xs[1] != 20 {
		t.Fatalf("ReadLEU16Slice = %v, %v", xs, err)
	}
	if b, err := ReadBytesExact(r, 5); err != nil || string(b) != "hello" {
		t.Fatalf("ReadBytesExact = %q, %v", b, err)
	}
}

func TestBELaneRoundTrip(t *testing.T) {
	xs := []uint16{0x0102, 0x0304, 0xffff}
	w := NewMemWriter()
	if err := WriteBELane(w, "hi", 0, xs); err != nil {
		t.Fatal(err)
	}
	if err := WriteBELane(w, "lo", 1, xs); err != nil {
		t.Fatal(err)
	}
	r, err := w.IntoReader()
	if err != nil {
		t.Fatal(err)
	}
	out := make([]uint16, len(xs))
	if err := ReadBELane(r, 0, len(xs), out); err != nil {
		t.Fatal(err)
	}
	if err := ReadBELane(r, 1, len(xs), out); err != nil {
		t.Fatal(err)
	}
	for i, x := range xs {
		if out[i] != x {
			t.Fatalf("out[%d] = %#x, want %#x", i, out[i], x)
		}
	}
}

func TestFooterLenRoundTrip(t *testing.T) {
	w := NewMemWriter()
	start, err := w.Pos()
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteLEI64(w, "field", 7); err != nil {
		t.Fatal(err)
	}
	if err := WriteLenOfFooterStartingAt(w, start); err != nil {
		t.Fatal(err)
	}

	r, err := w.IntoReader()
	if err != nil {
		t.Fatal(err)
	}
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		t.Fatal(err)
	}
	length, err := ReadFooterLenEndingAtPosAndRewindToStart(r, end)
	if err != nil {
		t.Fatal(err)
	}
	if length != 8 {
		t.Fatalf("footer length = %d, want 8 (just the one field)", length)
	}
	v, err := ReadLEI64(r)
	if err != nil || v != 7 {
		t.Fatalf("ReadLEI64 after rewind = %d, %v; want 7", v, err)
	}
}

func TestReadFooterLenRejectsTruncatedFile(t *testing.T) {
	w := NewMemWriter()
	if err := WriteLEI64(w, "too_short", 1); err != nil {
		t.Fatal(err)
	}
	r, err := w.IntoReader()
	if err != nil {
		t.Fatal(err)
	}
	// A length word claiming more bytes than exist before it must be rejected.
	if _, err := ReadFooterLenEndingAtPosAndRewindToStart(r, 8); err == nil {
		t.Fatal("expected an error for an overrunning footer length")
	} else if !base.Is(err, base.KindFormat) {
		t.Fatalf("expected a KindFormat error, got %v", err)
	}
}

func TestMemReaderCloneIndependentCursor(t *testing.T) {
	w := NewMemWriter()
	if err := WriteBytes(w, "data", []byte("abcdef")); err != nil {
		t.Fatal(err)
	}
	r, err := w.IntoReader()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Seek(3, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	clone, err := r.Clone()
	if err != nil {
		t.Fatal(err)
	}
	if pos, _ := clone.Pos(); pos != 0 {
		t.Fatalf("clone pos = %d, want 0 (independent cursor)", pos)
	}
	buf := make([]byte, 3)
	if _, err := io.ReadFull(clone, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "abc" {
		t.Fatalf("clone read %q, want %q", buf, "abc")
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "def" {
		t.Fatalf("original read %q, want %q (unaffected by clone's cursor)", buf, "def")
	}
}

func TestFileWriterReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layer.bin")

	fw, err := NewFileWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteLEI64(fw, "v", 123); err != nil {
		t.Fatal(err)
	}
	r, err := fw.IntoReader()
	if err != nil {
		t.Fatal(err)
	}
	defer r.(*FileReader).Close()

	v, err := ReadLEI64(r)
	if err != nil || v != 123 {
		t.Fatalf("ReadLEI64 = %d, %v; want 123", v, err)
	}

	clone, err := r.Clone()
	if err != nil {
		t.Fatal(err)
	}
	defer clone.(*FileReader).Close()
	if pos, _ := clone.Pos(); pos != 0 {
		t.Fatalf("cloned file reader pos = %d, want 0", pos)
	}
}
