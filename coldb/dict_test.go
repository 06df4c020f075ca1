package coldb

import (
	"math"
	"testing"

	"github.com/graydon/submerge/heap"
)

func intVals(xs ...int64) []Value {
	out := make([]Value, len(xs))
	for i, x := range xs {
		out[i] = Int(x)
	}
	return out
}

func TestDictEncodeIntScenario(t *testing.T) {
	// spec.md §8 scenario 2.
	vals := intVals(5, 5, 5, 6, 6, 6, 5, 6, 5, 3, 4, 2)
	dict, codes, err := dictEncode(vals)
	if err != nil {
		t.Fatal(err)
	}

	wantDict := intVals(2, 3, 4, 5, 6)
	if len(dict) != len(wantDict) {
		t.Fatalf("dict len = %d, want %d", len(dict), len(wantDict))
	}
	for i, w := range wantDict {
		if !dict[i].Equal(w) {
			t.Fatalf("dict[%d] = %v, want %v", i, dict[i], w)
		}
	}

	wantCodes := []uint16{3, 3, 3, 4, 4, 4, 3, 4, 3, 1, 2, 0}
	if len(codes) != len(wantCodes) {
		t.Fatalf("codes len = %d, want %d", len(codes), len(wantCodes))
	}
	for i, w := range wantCodes {
		if codes[i] != w {
			t.Fatalf("codes[%d] = %d, want %d", i, codes[i], w)
		}
	}
}

func TestDictEncodeBinScenario(t *testing.T) {
	// spec.md §8 scenario 3.
	vals := []Value{
		Bin("hi there silly!"),
		Bin("can see no way"),
		Bin("no"),
	}
	dict, codes, err := dictEncode(vals)
	if err != nil {
		t.Fatal(err)
	}
	wantDict := []string{"can see no way", "hi there silly!", "no"}
	for i, w := range wantDict {
		if string(dict[i].(Bin)) != w {
			t.Fatalf("dict[%d] = %q, want %q", i, dict[i], w)
		}
	}
	wantCodes := []uint16{1, 0, 2}
	for i, w := range wantCodes {
		if codes[i] != w {
			t.Fatalf("codes[%d] = %d, want %d", i, codes[i], w)
		}
	}

	h := heap.New()
	for i, v := range dict {
		bin := v.(Bin)
		large := bin.IsLarge()
		if (i == 0 || i == 1) && !large {
			t.Fatalf("dict[%d] = %q expected IsLarge true", i, bin)
		}
		if i == 2 && large {
			t.Fatalf("dict[2] = %q expected IsLarge false", bin)
		}
		if large {
			off := bin.Component(binComponentOff, h)
			if h.At(int(off), len(bin)) == nil {
				t.Fatalf("heap offset %d did not round trip", off)
			}
		}
	}
}

func TestDictEncodeEmpty(t *testing.T) {
	dict, codes, err := dictEncode(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(dict) != 0 || len(codes) != 0 {
		t.Fatalf("expected empty dict/codes, got %v/%v", dict, codes)
	}
}

func TestDictEncodeRoundTrip(t *testing.T) {
	// Quantified invariant: dict_encode → reconstruct equals xs.
	vals := intVals(9, 1, 1, 4, 9, 4, 1, 100, -5)
	dict, codes, err := dictEncode(vals)
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range codes {
		if !dict[c].Equal(vals[i]) {
			t.Fatalf("reconstructed[%d] = %v, want %v", i, dict[c], vals[i])
		}
	}
}

func TestDictEncodeCapsAt0xFFFFRows(t *testing.T) {
	vals := make([]Value, 0x10000)
	for i := range vals {
		vals[i] = Int(1)
	}
	if _, _, err := dictEncode(vals); err == nil {
		t.Fatal("expected an error for 0x10000 rows")
	}
}

func TestBinPrefixZeroPadsShortStrings(t *testing.T) {
	short := Bin("ab")
	long := Bin("ab\x00\x00\x00\x00\x00\x00")
	if short.prefix() != long.prefix() {
		t.Fatalf("prefix of a short bin should zero-pad to match an explicitly padded one")
	}
}

func TestFloComponentPreservesBits(t *testing.T) {
	v := Flo(3.25)
	bits := v.Component(ComponentValue, nil)
	got := Flo(math.Float64frombits(uint64(bits)))
	if got != v {
		t.Fatalf("Component round trip = %v, want %v", got, v)
	}
}
