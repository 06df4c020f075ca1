package heap

import (
	"bytes"
	"testing"
)

func TestHeapAddFreshAppends(t *testing.T) {
	h := New()
	off := h.Add([]byte("hello"))
	if off != 0 {
		t.Fatalf("first Add offset = %d, want 0", off)
	}
	off2 := h.Add([]byte("world"))
	if off2 != 5 {
		t.Fatalf("second Add offset = %d, want 5", off2)
	}
	if h.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", h.Len())
	}
}

func TestHeapAddExactDuplicateDedups(t *testing.T) {
	h := New()
	a := h.Add([]byte("repeat"))
	b := h.Add([]byte("repeat"))
	if a != b {
		t.Fatalf("exact duplicate got different offsets: %d vs %d", a, b)
	}
	if h.Len() != 6 {
		t.Fatalf("Len() = %d, want 6 (no duplicate bytes appended)", h.Len())
	}
}

func TestHeapAddSubstringDedups(t *testing.T) {
	h := New()
	h.Add([]byte("hello there silly"))
	off := h.Add([]byte("there"))
	if off != 6 {
		t.Fatalf("substring offset = %d, want 6", off)
	}
	if h.Len() != len("hello there silly") {
		t.Fatalf("Len() = %d, substring should not grow the heap", h.Len())
	}
}

func TestHeapAtReadsBack(t *testing.T) {
	h := New()
	h.Add([]byte("abc"))
	off := h.Add([]byte("def"))
	if got := h.At(off, 3); !bytes.Equal(got, []byte("def")) {
		t.Fatalf("At(%d,3) = %q, want %q", off, got, "def")
	}
}

func TestFromBytesWrapsExisting(t *testing.T) {
	raw := []byte("prebuilt heap contents")
	h := FromBytes(raw)
	if h.Len() != len(raw) {
		t.Fatalf("Len() = %d, want %d", h.Len(), len(raw))
	}
	if got := h.At(0, 9); !bytes.Equal(got, []byte("prebuilt ")) {
		t.Fatalf("At(0,9) = %q", got)
	}
}
