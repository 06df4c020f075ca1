package base

import "testing"

func TestBitmap256SetGet(t *testing.T) {
	var b Bitmap256
	if b.Any() {
		t.Fatal("expected empty bitmap")
	}
	b.Set(0, true)
	b.Set(63, true)
	b.Set(64, true)
	b.Set(255, true)

	for _, i := range []uint8{0, 63, 64, 255} {
		if !b.Get(i) {
			t.Fatalf("bit %d expected set", i)
		}
	}
	if b.Get(1) {
		t.Fatal("bit 1 expected clear")
	}
	if b.Count() != 4 {
		t.Fatalf("expected count 4, got %d", b.Count())
	}

	b.Set(0, false)
	if b.Get(0) {
		t.Fatal("bit 0 expected clear after unset")
	}
	if b.Count() != 3 {
		t.Fatalf("expected count 3, got %d", b.Count())
	}
}

func TestBitmap256SetAllClearAllIsFull(t *testing.T) {
	var b Bitmap256
	b.SetAll()
	if !b.IsFull() {
		t.Fatal("expected full after SetAll")
	}
	if b.Count() != 256 {
		t.Fatalf("expected count 256, got %d", b.Count())
	}
	b.ClearAll()
	if b.Any() {
		t.Fatal("expected empty after ClearAll")
	}
	if !b.IsEmpty() {
		t.Fatal("expected IsEmpty true")
	}
}

func TestBitmap256Rank(t *testing.T) {
	var b Bitmap256
	b.Set(0, true)
	b.Set(5, true)
	b.Set(64, true)
	b.Set(200, true)

	cases := []struct {
		i    uint8
		want int
	}{
		{0, 1},
		{4, 1},
		{5, 2},
		{63, 2},
		{64, 3},
		{199, 3},
		{200, 4},
		{255, 4},
	}
	for _, c := range cases {
		if got := b.Rank(c.i); got != c.want {
			t.Fatalf("Rank(%d) = %d, want %d", c.i, got, c.want)
		}
	}
}

func TestBitmap256SetOps(t *testing.T) {
	var a, c Bitmap256
	a.Set(1, true)
	a.Set(2, true)
	c.Set(2, true)
	c.Set(3, true)

	union := a
	union.Union(&c)
	for _, i := range []uint8{1, 2, 3} {
		if !union.Get(i) {
			t.Fatalf("union missing bit %d", i)
		}
	}

	inter := a
	inter.Intersect(&c)
	if inter.Count() != 1 || !inter.Get(2) {
		t.Fatalf("expected intersection {2}, got %+v", inter)
	}

	sub := a
	sub.Subtract(&c)
	if sub.Count() != 1 || !sub.Get(1) {
		t.Fatalf("expected subtraction {1}, got %+v", sub)
	}
}

func TestBitmap256BytesRoundTrip(t *testing.T) {
	var b Bitmap256
	b.Set(3, true)
	b.Set(130, true)
	b.Set(255, true)

	got := ReadBitmap256(b.Bytes())
	if got != b {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, b)
	}
}

func TestDoubleBitmap256(t *testing.T) {
	var d DoubleBitmap256
	d.Set(5, 3)
	d.Set(10, 1)
	d.Set(200, 2)

	if got := d.Get(5); got != 3 {
		t.Fatalf("Get(5) = %d, want 3", got)
	}
	if got := d.Get(10); got != 1 {
		t.Fatalf("Get(10) = %d, want 1", got)
	}
	if got := d.Get(200); got != 2 {
		t.Fatalf("Get(200) = %d, want 2", got)
	}
	if got := d.Get(0); got != 0 {
		t.Fatalf("Get(0) = %d, want 0", got)
	}

	got := ReadDoubleBitmap256(d.Bytes())
	if got != d {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, d)
	}
}
